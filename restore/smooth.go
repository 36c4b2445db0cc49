package restore

import "math"

const (
	smoothCenterWeight = 1.0
	smoothEpsilon      = 1e-5
)

// smoothTap is one neighbor of the edge-aware average. The weight is
// scale * exp(-falloff * |luma(n) - luma(center)|).
type smoothTap struct {
	dx, dy  int
	falloff float64
	scale   float64
}

// The four axis neighbors plus two taps two rows out, which reach further
// along vertical grain at a reduced weight.
var smoothTaps = [...]smoothTap{
	{-1, 0, 10, 1},
	{1, 0, 10, 1},
	{0, -1, 10, 1},
	{0, 1, 10, 1},
	{0, -2, 12, 0.6},
	{0, 2, 12, 0.6},
}

func smoothRows(dst, src *Image, p Params, y0, y1 int) {
	amount := clamp01(p.Smooth)
	w := src.Width
	for y := y0; y < y1; y++ {
		for x := 0; x < w; x++ {
			c := src.Pix[y*w+x]
			dst.Pix[y*w+x] = Mix(c, edgeAwareAverage(src, x, y), amount)
		}
	}
}

func edgeAwareAverage(src *Image, x, y int) RGB {
	c := src.At(x, y)
	cl := Luma(c)
	sum := c.Scale(smoothCenterWeight)
	wsum := smoothCenterWeight
	for _, t := range smoothTaps {
		n := src.At(x+t.dx, y+t.dy)
		wt := t.scale * math.Exp(-t.falloff*math.Abs(Luma(n)-cl))
		sum = sum.Add(n.Scale(wt))
		wsum += wt
	}
	return sum.Scale(1 / math.Max(wsum, smoothEpsilon))
}
