package restore

// Unsharp gains. Run uses the single-pass set: gain 0.8*1.5 with the blend
// damped to 85%, so the residual is added at 1.02*detail. The 1.5 factor is
// part of the single-pass definition; a bare 0.8 gain under the same damping
// would give only 0.68*detail. SharpenMultiPassGain is not used by Run.
const (
	SharpenGain          = 0.8 * 1.5
	SharpenDamping       = 0.85
	SharpenMultiPassGain = 1.5
)

// blurKernel is the 3x3 binomial kernel, indexed [dy+1][dx+1].
var blurKernel = [3][3]float64{
	{1.0 / 16, 1.0 / 8, 1.0 / 16},
	{1.0 / 8, 1.0 / 4, 1.0 / 8},
	{1.0 / 16, 1.0 / 8, 1.0 / 16},
}

func sharpenRows(dst, src *Image, p Params, y0, y1 int) {
	t := SharpenDamping * clamp01(p.Detail)
	w := src.Width
	for y := y0; y < y1; y++ {
		for x := 0; x < w; x++ {
			c := src.Pix[y*w+x]
			residual := c.Sub(localBlur(src, x, y))
			sharp := c.Add(residual.Scale(SharpenGain))
			dst.Pix[y*w+x] = clampRGB(Mix(c, sharp, t))
		}
	}
}

func localBlur(src *Image, x, y int) RGB {
	var sum RGB
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			sum = sum.Add(src.At(x+dx, y+dy).Scale(blurKernel[dy+1][dx+1]))
		}
	}
	return sum
}
