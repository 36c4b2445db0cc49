package restore

import "math"

const (
	saturationGain = 0.8
	displayGamma   = 1.05
)

func finishRows(dst, src *Image, p Params, y0, y1 int) {
	w := src.Width
	for y := y0; y < y1; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			dst.Pix[i] = applyDisplayGamma(saturate(src.Pix[i], p.Saturation))
		}
	}
}

// saturate scales HSL saturation by 1 + 0.8*amount, capped at 1.
func saturate(c RGB, amount float64) RGB {
	hsl := RGBToHSL(c)
	hsl.S = clamp01(hsl.S * (1 + saturationGain*clamp01(amount)))
	return HSLToRGB(hsl)
}

func applyDisplayGamma(c RGB) RGB {
	return c.Map(func(v float64) float64 {
		return clamp01(math.Pow(clamp01(v), 1/displayGamma))
	})
}
