package restore

import "math"

// Thresholds for the scratch mask. A pixel is treated as a defect when it
// sits far from the local median (dev) in a region with no real edge.
const (
	devLow   = 0.05
	devHigh  = 0.15
	edgeLow  = 0.05
	edgeHigh = 0.20
)

// scratchRows replaces thin impulse defects with the average of the
// horizontal and vertical 3-tap medians. The replacement is gated off
// wherever the luma gradient indicates a genuine contour.
func scratchRows(dst, src *Image, p Params, y0, y1 int) {
	amount := clamp01(p.Scratch)
	w := src.Width
	for y := y0; y < y1; y++ {
		for x := 0; x < w; x++ {
			c := src.Pix[y*w+x]
			dst.Pix[y*w+x] = Mix(c, scratchMedian(src, x, y), amount*scratchMask(src, x, y))
		}
	}
}

func scratchMedian(src *Image, x, y int) RGB {
	c := src.At(x, y)
	medH := median3RGB(src.At(x-1, y), c, src.At(x+1, y))
	medV := median3RGB(src.At(x, y-1), c, src.At(x, y+1))
	return medH.Add(medV).Scale(0.5)
}

// scratchMask is 1 for an isolated outlier on a flat background and falls
// to 0 across edges or for pixels that agree with their neighborhood.
func scratchMask(src *Image, x, y int) float64 {
	l, r := src.At(x-1, y), src.At(x+1, y)
	u, d := src.At(x, y-1), src.At(x, y+1)
	edge := math.Max(math.Abs(Luma(l)-Luma(r)), math.Abs(Luma(u)-Luma(d)))
	dev := Dist(src.At(x, y), scratchMedian(src, x, y))
	return smoothstep(devLow, devHigh, dev) * (1 - smoothstep(edgeLow, edgeHigh, edge))
}
