package rimage

import (
	"image"
	"image/color"
	"time"

	"github.com/pkg/errors"
)

// ColorFrame is a packed color image as produced by the capture device. Pixels are stored row
// major with Format.BytesPerPixel() bytes each and no row padding.
type ColorFrame struct {
	Pix       []byte
	Width     int
	Height    int
	Format    PixelFormat
	Timestamp time.Time
}

// NewColorFrame allocates a zeroed frame.
func NewColorFrame(width, height int, format PixelFormat) *ColorFrame {
	return &ColorFrame{
		Pix:    make([]byte, width*height*format.BytesPerPixel()),
		Width:  width,
		Height: height,
		Format: format,
	}
}

// NewColorFrameFromBytes wraps an existing buffer, checking that it is large enough.
func NewColorFrameFromBytes(pix []byte, width, height int, format PixelFormat) (*ColorFrame, error) {
	bpp := format.BytesPerPixel()
	if bpp == 0 {
		return nil, errors.Errorf("unsupported pixel format %v", format)
	}
	if want := width * height * bpp; len(pix) < want {
		return nil, errors.Errorf("buffer too small for %dx%d %v frame: have %d bytes, need %d",
			width, height, format, len(pix), want)
	}
	return &ColorFrame{Pix: pix, Width: width, Height: height, Format: format}, nil
}

// NewColorFrameFromImage converts any image into a packed frame of the given format.
func NewColorFrameFromImage(img image.Image, format PixelFormat) *ColorFrame {
	b := img.Bounds()
	f := NewColorFrame(b.Dx(), b.Dy(), format)
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			f.Set(x, y, color.RGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA))
		}
	}
	return f
}

// BytesPerPixel is shorthand for Format.BytesPerPixel().
func (f *ColorFrame) BytesPerPixel() int {
	return f.Format.BytesPerPixel()
}

// Offset returns the index of the first byte of pixel (x, y).
func (f *ColorFrame) Offset(x, y int) int {
	return (y*f.Width + x) * f.Format.BytesPerPixel()
}

// In reports whether (x, y) is inside the frame.
func (f *ColorFrame) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < f.Width && y < f.Height
}

// Fill sets every byte of pixel (x, y) to v.
func (f *ColorFrame) Fill(x, y int, v byte) {
	off := f.Offset(x, y)
	px := f.Pix[off : off+f.Format.BytesPerPixel()]
	for i := range px {
		px[i] = v
	}
}

// Set writes c into pixel (x, y) honoring the channel order of the format.
func (f *ColorFrame) Set(x, y int, c color.RGBA) {
	off := f.Offset(x, y)
	ro, gOff, bo, ao := f.Format.channelOffsets()
	f.Pix[off+ro] = c.R
	f.Pix[off+gOff] = c.G
	f.Pix[off+bo] = c.B
	if ao >= 0 {
		f.Pix[off+ao] = c.A
	}
}

// GetRGBA reads pixel (x, y).
func (f *ColorFrame) GetRGBA(x, y int) color.RGBA {
	off := f.Offset(x, y)
	ro, gOff, bo, ao := f.Format.channelOffsets()
	c := color.RGBA{R: f.Pix[off+ro], G: f.Pix[off+gOff], B: f.Pix[off+bo], A: 0xff}
	if ao >= 0 {
		c.A = f.Pix[off+ao]
	}
	return c
}

// ColorModel is part of image.Image.
func (f *ColorFrame) ColorModel() color.Model {
	return color.RGBAModel
}

// Bounds is part of image.Image.
func (f *ColorFrame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

// At is part of image.Image.
func (f *ColorFrame) At(x, y int) color.Color {
	if !f.In(x, y) {
		return color.RGBA{}
	}
	return f.GetRGBA(x, y)
}

// Clone returns a deep copy of the frame.
func (f *ColorFrame) Clone() *ColorFrame {
	pix := make([]byte, len(f.Pix))
	copy(pix, f.Pix)
	return &ColorFrame{Pix: pix, Width: f.Width, Height: f.Height, Format: f.Format, Timestamp: f.Timestamp}
}

// SameShape reports whether two frames can share a buffer.
func (f *ColorFrame) SameShape(other *ColorFrame) bool {
	return other != nil && f.Width == other.Width && f.Height == other.Height && f.Format == other.Format
}
