package restore

import (
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// HSL holds hue, saturation and lightness, each in [0,1]. Hue is a fraction
// of a full turn.
type HSL struct {
	H, S, L float64
}

// Sample returns the pixel at (x, y) with edge-replicated addressing.
func Sample(img *Image, x, y int) RGB {
	return img.At(x, y)
}

// Luma is the Rec. 601 brightness estimate.
func Luma(c RGB) float64 {
	return 0.299*c.R + 0.587*c.G + 0.114*c.B
}

// RGBToHSL converts c to HSL. Achromatic input gets hue 0.
func RGBToHSL(c RGB) HSL {
	h, s, l := colorful.Color{R: c.R, G: c.G, B: c.B}.Hsl()
	return HSL{H: h / 360, S: s, L: l}
}

// HSLToRGB is the inverse of RGBToHSL.
func HSLToRGB(h HSL) RGB {
	c := colorful.Hsl(h.H*360, h.S, h.L)
	return RGB{R: c.R, G: c.G, B: c.B}
}

// Dist is the Euclidean distance between a and b in RGB.
func Dist(a, b RGB) float64 {
	d := a.Sub(b)
	return math.Sqrt(d.R*d.R + d.G*d.G + d.B*d.B)
}

// Mix linearly interpolates from a (t=0) to b (t=1).
func Mix(a, b RGB, t float64) RGB {
	return a.Add(b.Sub(a).Scale(t))
}

func median3(a, b, c float64) float64 {
	return math.Max(math.Min(a, b), math.Min(math.Max(a, b), c))
}

func median3RGB(a, b, c RGB) RGB {
	return RGB{
		R: median3(a.R, b.R, c.R),
		G: median3(a.G, b.G, c.G),
		B: median3(a.B, b.B, c.B),
	}
}

// smoothstep is the cubic Hermite ramp from 0 at e0 to 1 at e1.
func smoothstep(e0, e1, x float64) float64 {
	t := clamp01((x - e0) / (e1 - e0))
	return t * t * (3 - 2*t)
}

func clamp01(v float64) float64 {
	return clamp(v, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampRGB(c RGB) RGB {
	return c.Map(clamp01)
}

// wrapHue keeps the fractional part, so negative shifts wrap to the top of
// the circle.
func wrapHue(h float64) float64 {
	return h - math.Floor(h)
}
