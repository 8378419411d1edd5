// Package pixel holds the decoded RGBA8 image representation shared by the
// resize policy, the effect engine and the codec boundary.
package pixel

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
)

var ErrInvalidBuffer = errors.New("invalid pixel buffer")

// Buffer is a row-major sequence of non-premultiplied R,G,B,A samples.
// len(Pix) is always Width*Height*4.
type Buffer struct {
	Width  int
	Height int
	Pix    []uint8
}

func New(width, height int) *Buffer {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Buffer{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*4),
	}
}

// FromPix wraps pix without copying after checking its length.
func FromPix(width, height int, pix []uint8) (*Buffer, error) {
	b := &Buffer{Width: width, Height: height, Pix: pix}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Buffer) Validate() error {
	if b == nil {
		return fmt.Errorf("%w: nil buffer", ErrInvalidBuffer)
	}
	if b.Width < 0 || b.Height < 0 {
		return fmt.Errorf("%w: negative dimensions %dx%d", ErrInvalidBuffer, b.Width, b.Height)
	}
	if want := b.Width * b.Height * 4; len(b.Pix) != want {
		return fmt.Errorf("%w: %dx%d needs %d samples, got %d", ErrInvalidBuffer, b.Width, b.Height, want, len(b.Pix))
	}
	return nil
}

func (b *Buffer) Clone() *Buffer {
	pix := make([]uint8, len(b.Pix))
	copy(pix, b.Pix)
	return &Buffer{Width: b.Width, Height: b.Height, Pix: pix}
}

// Stride is the number of samples in one row.
func (b *Buffer) Stride() int {
	return b.Width * 4
}

// Pixels returns Width*Height.
func (b *Buffer) Pixels() int {
	return b.Width * b.Height
}

// At returns the samples of pixel (x, y). It panics when out of range.
func (b *Buffer) At(x, y int) (r, g, bl, a uint8) {
	i := y*b.Stride() + x*4
	p := b.Pix[i : i+4 : i+4]
	return p[0], p[1], p[2], p[3]
}

func (b *Buffer) Set(x, y int, r, g, bl, a uint8) {
	i := y*b.Stride() + x*4
	p := b.Pix[i : i+4 : i+4]
	p[0], p[1], p[2], p[3] = r, g, bl, a
}

// Image views the buffer as an *image.NRGBA sharing the same samples.
func (b *Buffer) Image() *image.NRGBA {
	return &image.NRGBA{
		Pix:    b.Pix,
		Stride: b.Stride(),
		Rect:   image.Rect(0, 0, b.Width, b.Height),
	}
}

// Equal reports whether both buffers have the same size and samples.
func (b *Buffer) Equal(other *Buffer) bool {
	if b == nil || other == nil {
		return b == other
	}
	if b.Width != other.Width || b.Height != other.Height || len(b.Pix) != len(other.Pix) {
		return false
	}
	for i := range b.Pix {
		if b.Pix[i] != other.Pix[i] {
			return false
		}
	}
	return true
}

// FromImage copies any image into a new buffer anchored at the origin.
func FromImage(src image.Image) *Buffer {
	bounds := src.Bounds()
	buf := New(bounds.Dx(), bounds.Dy())

	if n, ok := src.(*image.NRGBA); ok {
		for y := 0; y < buf.Height; y++ {
			start := n.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			copy(buf.Pix[y*buf.Stride():(y+1)*buf.Stride()], n.Pix[start:start+buf.Stride()])
		}
		return buf
	}

	draw.Draw(buf.Image(), image.Rect(0, 0, buf.Width, buf.Height), src, bounds.Min, draw.Src)
	return buf
}
