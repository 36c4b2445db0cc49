package main

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
)

// trayIcon draws the 32x32 tray icon and wraps it as a PNG-compressed ICO.
func trayIcon() []byte {
	const size = 32
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := x-size/2, y-size/2
			if dx*dx+dy*dy > 15*15 {
				continue
			}
			// Sepia to warm gradient, top to bottom.
			t := uint8(y * 255 / size)
			img.SetNRGBA(x, y, color.NRGBA{R: 200 + t/5, G: 150 + t/8, B: 90, A: 255})
		}
	}
	var pngBuf bytes.Buffer
	_ = png.Encode(&pngBuf, img)

	var ico bytes.Buffer
	// ICONDIR, then one ICONDIRENTRY pointing at the PNG.
	binary.Write(&ico, binary.LittleEndian, [3]uint16{0, 1, 1})
	binary.Write(&ico, binary.LittleEndian, struct {
		W, H, Colors, Reserved uint8
		Planes, BitCount       uint16
		Size, Offset           uint32
	}{size, size, 0, 0, 1, 32, uint32(pngBuf.Len()), 6 + 16})
	ico.Write(pngBuf.Bytes())
	return ico.Bytes()
}
