// Package restore implements the photo restoration pipeline: tone and
// contrast correction, scratch suppression, edge-aware smoothing, unsharp
// sharpening and a saturation/gamma finish, each a pure map from one pixel
// buffer to another.
//
// The package does no I/O. Callers decode a raster into an Image, pick a
// Params (or Auto), call Run, and encode the result.
//
//	img, err := imageio.ToImage(decoded)
//	out, err := restore.Run(img, restore.Auto())
package restore

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSize  = errors.New("image dimensions must be positive")
	ErrBufferLength = errors.New("pixel buffer length does not match dimensions")
)

// RGB is one sample. Components are nominally in [0,1] but may leave that
// range between stages.
type RGB struct {
	R, G, B float64
}

func (c RGB) Add(o RGB) RGB { return RGB{c.R + o.R, c.G + o.G, c.B + o.B} }

func (c RGB) Sub(o RGB) RGB { return RGB{c.R - o.R, c.G - o.G, c.B - o.B} }

func (c RGB) Scale(s float64) RGB { return RGB{c.R * s, c.G * s, c.B * s} }

// Map applies f to each component.
func (c RGB) Map(f func(float64) float64) RGB {
	return RGB{f(c.R), f(c.G), f(c.B)}
}

// Image is a row-major grid of RGB samples.
type Image struct {
	Width  int
	Height int
	Pix    []RGB
}

// NewImage allocates a black image of the given size.
func NewImage(width, height int) (*Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}
	return newImage(width, height), nil
}

func newImage(width, height int) *Image {
	return &Image{
		Width:  width,
		Height: height,
		Pix:    make([]RGB, width*height),
	}
}

// Validate reports whether the image satisfies W,H > 0 and len(Pix) == W*H.
func (img *Image) Validate() error {
	if img == nil || img.Width <= 0 || img.Height <= 0 {
		w, h := 0, 0
		if img != nil {
			w, h = img.Width, img.Height
		}
		return fmt.Errorf("%w: %dx%d", ErrInvalidSize, w, h)
	}
	if len(img.Pix) != img.Width*img.Height {
		return fmt.Errorf("%w: have %d, want %d", ErrBufferLength, len(img.Pix), img.Width*img.Height)
	}
	return nil
}

// Texel returns the normalized size of one pixel, (1/W, 1/H).
func (img *Image) Texel() (float64, float64) {
	return 1 / float64(img.Width), 1 / float64(img.Height)
}

// At returns the sample at (x, y), clamping out-of-range coordinates to the
// nearest edge.
func (img *Image) At(x, y int) RGB {
	return img.Pix[clampIndex(y, img.Height)*img.Width+clampIndex(x, img.Width)]
}

// Set writes c at (x, y). Out-of-range coordinates are ignored.
func (img *Image) Set(x, y int, c RGB) {
	if x < 0 || x >= img.Width || y < 0 || y >= img.Height {
		return
	}
	img.Pix[y*img.Width+x] = c
}

// Fill sets every pixel to c.
func (img *Image) Fill(c RGB) {
	for i := range img.Pix {
		img.Pix[i] = c
	}
}

// Clone returns a deep copy.
func (img *Image) Clone() *Image {
	out := &Image{Width: img.Width, Height: img.Height, Pix: make([]RGB, len(img.Pix))}
	copy(out.Pix, img.Pix)
	return out
}

// SameSize reports whether a and b have identical dimensions.
func SameSize(a, b *Image) bool {
	return a.Width == b.Width && a.Height == b.Height
}

func clampIndex(i, size int) int {
	if i < 0 {
		return 0
	}
	if i >= size {
		return size - 1
	}
	return i
}
