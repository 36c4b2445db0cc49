package imageio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stevecastle/retouch/restore"
)

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 7), G: uint8(y * 11), B: uint8((x + y) * 3), A: 255})
		}
	}
	return img
}

func TestToImageFromImageRoundTrip(t *testing.T) {
	src := gradient(17, 9)
	img, err := ToImage(src)
	if err != nil {
		t.Fatalf("ToImage: %v", err)
	}
	if img.Width != 17 || img.Height != 9 {
		t.Fatalf("size = %dx%d, want 17x9", img.Width, img.Height)
	}
	back := FromImage(img)
	if !bytes.Equal(back.Pix, src.Pix) {
		t.Error("8-bit values did not survive the round trip")
	}
}

func TestToImageSubImage(t *testing.T) {
	src := gradient(10, 10)
	sub := src.SubImage(image.Rect(3, 4, 7, 9))
	img, err := ToImage(sub)
	if err != nil {
		t.Fatalf("ToImage: %v", err)
	}
	if img.Width != 4 || img.Height != 5 {
		t.Fatalf("size = %dx%d, want 4x5", img.Width, img.Height)
	}
	want := src.NRGBAAt(3, 4)
	got := img.At(0, 0)
	if uint8(got.R*255+0.5) != want.R || uint8(got.G*255+0.5) != want.G {
		t.Errorf("origin texel = %+v, want %+v", got, want)
	}
}

func TestToImageEmpty(t *testing.T) {
	if _, err := ToImage(image.NewNRGBA(image.Rect(0, 0, 0, 4))); !errors.Is(err, restore.ErrInvalidSize) {
		t.Errorf("err = %v, want ErrInvalidSize", err)
	}
}

func TestFromImageClamps(t *testing.T) {
	img, _ := restore.NewImage(1, 1)
	img.Pix[0] = restore.RGB{R: -0.5, G: 1.7, B: 0.5}
	p := FromImage(img).NRGBAAt(0, 0)
	if p.R != 0 || p.G != 255 || p.B != 128 || p.A != 255 {
		t.Errorf("pixel = %+v", p)
	}
}

func TestFit(t *testing.T) {
	tests := []struct {
		name         string
		w, h, max    int
		wantW, wantH int
	}{
		{"landscape", 2000, 1000, 1080, 1080, 540},
		{"portrait", 600, 1200, 300, 150, 300},
		{"small", 640, 480, 1080, 640, 480},
		{"uncapped", 4000, 10, 0, 4000, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Fit(image.NewNRGBA(image.Rect(0, 0, tt.w, tt.h)), tt.max)
			b := out.Bounds()
			if b.Dx() != tt.wantW || b.Dy() != tt.wantH {
				t.Errorf("Fit = %dx%d, want %dx%d", b.Dx(), b.Dy(), tt.wantW, tt.wantH)
			}
		})
	}
}

func TestFitReturnsSmallImageUnchanged(t *testing.T) {
	src := gradient(8, 8)
	if Fit(src, 100) != image.Image(src) {
		t.Error("expected the same image back")
	}
}

func TestClampMaxSide(t *testing.T) {
	cases := map[int]int{0: DefaultMaxSide, -5: DefaultMaxSide, 512: 512, 9000: MaxSideLimit}
	for in, want := range cases {
		if got := ClampMaxSide(in); got != want {
			t.Errorf("ClampMaxSide(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestEncodePNGDecode(t *testing.T) {
	img, _ := ToImage(gradient(5, 3))
	var buf bytes.Buffer
	if err := Encode(&buf, img, "png", 0); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	dec, format, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if format != "png" {
		t.Errorf("format = %q", format)
	}
	got, _ := ToImage(dec)
	for i := range img.Pix {
		if got.Pix[i] != img.Pix[i] {
			t.Fatalf("pixel %d = %+v, want %+v", i, got.Pix[i], img.Pix[i])
		}
	}
}

func TestEncodeUnsupported(t *testing.T) {
	img, _ := restore.NewImage(1, 1)
	if err := Encode(&bytes.Buffer{}, img, "heic", 0); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}

// pngHeader returns a PNG signature and IHDR chunk declaring w x h RGB
// pixels with no image data behind it.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8], ihdr[9] = 8, 2
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestDecodeRejectsHugeDimensions(t *testing.T) {
	_, _, err := Decode(bytes.NewReader(pngHeader(20000, 20000)))
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("err = %v, want ErrTooLarge", err)
	}
}

func TestDecodeGarbage(t *testing.T) {
	if _, _, err := Decode(bytes.NewReader([]byte("not an image"))); err == nil {
		t.Error("expected an error")
	}
}

func TestFormatFor(t *testing.T) {
	tests := []struct {
		path string
		want string
		err  bool
	}{
		{"a.jpg", "jpeg", false},
		{"a.JPEG", "jpeg", false},
		{"dir/b.png", "png", false},
		{"c.webp", "", true},
		{"noext", "", true},
	}
	for _, tt := range tests {
		got, err := FormatFor(tt.path)
		if (err != nil) != tt.err {
			t.Errorf("FormatFor(%q) err = %v", tt.path, err)
			continue
		}
		if got != tt.want {
			t.Errorf("FormatFor(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestSaveAndRead(t *testing.T) {
	dir := t.TempDir()
	img, _ := ToImage(gradient(40, 20))
	path := filepath.Join(dir, "nested", "out.png")
	if err := Save(path, img, DefaultQuality); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Read(path, 10)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Width != 10 || got.Height != 5 {
		t.Errorf("Read size = %dx%d, want 10x5", got.Width, got.Height)
	}

	jpgPath := filepath.Join(dir, "out.jpg")
	if err := Save(jpgPath, img, DefaultQuality); err != nil {
		t.Fatalf("Save jpeg: %v", err)
	}
	if _, err := Load(jpgPath); err != nil {
		t.Errorf("Load jpeg: %v", err)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Error("expected an error")
	}
}

func TestOutputName(t *testing.T) {
	if got := OutputName(filepath.Join("in", "photo.tif"), ""); got != filepath.Join("in", "photo_restored.jpg") {
		t.Errorf("OutputName = %q", got)
	}
	if got := OutputName("scan.v2.png", "out"); got != filepath.Join("out", "scan.v2_restored.jpg") {
		t.Errorf("OutputName = %q", got)
	}
}

func TestIsImage(t *testing.T) {
	for _, p := range []string{"a.jpg", "b.PNG", "c.webp", "d.tiff", "e.bmp", "f.gif"} {
		if !IsImage(p) {
			t.Errorf("IsImage(%q) = false", p)
		}
	}
	for _, p := range []string{"a.txt", "b", "c.zip"} {
		if IsImage(p) {
			t.Errorf("IsImage(%q) = true", p)
		}
	}
}
