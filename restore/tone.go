package restore

import "math"

const (
	toneGammaBase  = 0.9
	toneGammaRange = 0.2
	contrastGain   = 1.5
	warmthHueShift = 0.03
)

// toneRows applies the strength-dependent gamma lift, a contrast pivot
// around mid-gray and the warmth hue bias.
func toneRows(dst, src *Image, p Params, y0, y1 int) {
	exp := toneGammaBase + toneGammaRange*p.Strength
	k := 1 + contrastGain*p.Contrast
	shift := p.Warmth * warmthHueShift

	curve := func(v float64) float64 {
		v = math.Pow(clamp01(v), exp)
		return clamp01((v-0.5)*k + 0.5)
	}

	w := src.Width
	for y := y0; y < y1; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			hsl := RGBToHSL(src.Pix[i].Map(curve))
			hsl.H = wrapHue(hsl.H + shift)
			dst.Pix[i] = HSLToRGB(hsl)
		}
	}
}
