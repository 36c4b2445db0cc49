// Package imageio moves pictures between encoded files and restore.Image
// buffers. It owns the caller-side policies the pipeline leaves out: which
// formats are accepted, how large an input may be, and how results are
// encoded for export.
package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	resize "github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/stevecastle/retouch/restore"
)

const (
	// DefaultMaxSide caps the longer side of an input before restoration.
	DefaultMaxSide = 1080
	// MaxSideLimit is the largest cap a caller may configure.
	MaxSideLimit = 3000
	// DefaultQuality is the JPEG export quality.
	DefaultQuality = 95
	// MaxPixels bounds the decoded size of an input, checked against the
	// header before any pixel data is read.
	MaxPixels = 64 << 20
)

var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrTooLarge          = errors.New("image dimensions exceed limit")
)

var decodable = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".tif": true, ".tiff": true, ".bmp": true,
}

// IsImage reports whether path has an extension Decode understands.
func IsImage(path string) bool {
	return decodable[strings.ToLower(filepath.Ext(path))]
}

// Decode reads any registered raster format. Images whose header declares
// more than MaxPixels are rejected with ErrTooLarge before decoding.
func Decode(r io.Reader) (image.Image, string, error) {
	var head bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(r, &head))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, "", fmt.Errorf("%w: %dx%d", ErrTooLarge, cfg.Width, cfg.Height)
	}
	img, format, err := image.Decode(io.MultiReader(&head, r))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

// Load decodes the file at path.
func Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// ClampMaxSide keeps a configured cap within [1, MaxSideLimit]. Zero or
// negative selects DefaultMaxSide.
func ClampMaxSide(n int) int {
	if n <= 0 {
		return DefaultMaxSide
	}
	return min(n, MaxSideLimit)
}

// Fit downsizes img so its longer side is at most maxSide, keeping the
// aspect ratio. Smaller images are returned as is; nothing is upscaled.
func Fit(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSide <= 0 || (w <= maxSide && h <= maxSide) {
		return img
	}
	r := math.Min(float64(maxSide)/float64(w), float64(maxSide)/float64(h))
	nw := max(1, int(math.Round(float64(w)*r)))
	nh := max(1, int(math.Round(float64(h)*r)))
	return resize.Resize(uint(nw), uint(nh), img, resize.Lanczos3)
}

// ToImage converts a decoded raster to a pipeline buffer. Alpha is dropped.
func ToImage(src image.Image) (*restore.Image, error) {
	b := src.Bounds()
	out, err := restore.NewImage(b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}

	nrgba, ok := src.(*image.NRGBA)
	if !ok || nrgba.Rect.Min != (image.Point{}) {
		nrgba = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(nrgba, nrgba.Bounds(), src, b.Min, draw.Src)
	}

	for y := 0; y < out.Height; y++ {
		row := nrgba.Pix[y*nrgba.Stride:]
		for x := 0; x < out.Width; x++ {
			p := row[x*4:]
			out.Pix[y*out.Width+x] = restore.RGB{
				R: float64(p[0]) / 255,
				G: float64(p[1]) / 255,
				B: float64(p[2]) / 255,
			}
		}
	}
	return out, nil
}

// FromImage quantizes a pipeline buffer to an opaque 8-bit raster.
func FromImage(img *restore.Image) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < img.Width; x++ {
			c := img.Pix[y*img.Width+x]
			p := row[x*4:]
			p[0] = to8(c.R)
			p[1] = to8(c.G)
			p[2] = to8(c.B)
			p[3] = 0xff
		}
	}
	return dst
}

func to8(v float64) uint8 {
	if !(v > 0) {
		return 0
	}
	if v >= 1 {
		return 0xff
	}
	return uint8(v*255 + 0.5)
}

// Read loads path, applies the size cap and converts it for the pipeline.
func Read(path string, maxSide int) (*restore.Image, error) {
	img, err := Load(path)
	if err != nil {
		return nil, err
	}
	return ToImage(Fit(img, maxSide))
}

// FormatFor picks the export format from a file extension.
func FormatFor(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "jpeg", nil
	case ".png":
		return "png", nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
}

// Encode writes img as JPEG or PNG. quality applies to JPEG only; values
// outside 1..100 fall back to DefaultQuality.
func Encode(w io.Writer, img *restore.Image, format string, quality int) error {
	raster := FromImage(img)
	switch format {
	case "jpeg", "jpg":
		if quality < 1 || quality > 100 {
			quality = DefaultQuality
		}
		return jpeg.Encode(w, raster, &jpeg.Options{Quality: quality})
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestSpeed}
		return enc.Encode(w, raster)
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// Save encodes img to path, choosing the format from the extension.
func Save(path string, img *restore.Image, quality int) error {
	format, err := FormatFor(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, img, format, quality); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

// OutputName derives the export path for an input: photo.tif becomes
// photo_restored.jpg in dir, or next to the input when dir is empty.
func OutputName(in, dir string) string {
	base := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in)) + "_restored.jpg"
	if dir == "" {
		dir = filepath.Dir(in)
	}
	return filepath.Join(dir, base)
}
