package imaging

import (
	"image"

	"golang.org/x/image/draw"
)

// Pixel is a single non-premultiplied pixel with 8-bit channels
type Pixel struct {
	A uint8
	R uint8
	G uint8
	B uint8
}

// Gray returns the pixel with red, green and blue replaced by their
// integer average. Alpha is kept.
func (p Pixel) Gray() Pixel {
	avg := uint8((uint16(p.R) + uint16(p.G) + uint16(p.B)) / 3)
	return Pixel{A: p.A, R: avg, G: avg, B: avg}
}

// Buffer is a decoded image as a row-major grid of pixels
type Buffer struct {
	Width  int
	Height int
	Pix    []Pixel
}

// NewBuffer creates a zeroed buffer of the given dimensions
func NewBuffer(width, height int) *Buffer {
	return &Buffer{
		Width:  width,
		Height: height,
		Pix:    make([]Pixel, width*height),
	}
}

// At returns the pixel at column x, row y
func (b *Buffer) At(x, y int) Pixel {
	return b.Pix[y*b.Width+x]
}

// Set replaces the pixel at column x, row y
func (b *Buffer) Set(x, y int, p Pixel) {
	b.Pix[y*b.Width+x] = p
}

// FromImage copies any decoded image into a Buffer. The source is first
// drawn onto an NRGBA canvas so channels come out non-premultiplied.
func FromImage(src image.Image) *Buffer {
	bounds := src.Bounds()
	nrgba, ok := src.(*image.NRGBA)
	if !ok || nrgba.Rect.Min != (image.Point{}) {
		nrgba = image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(nrgba, nrgba.Rect, src, bounds.Min, draw.Src)
	}

	buf := NewBuffer(bounds.Dx(), bounds.Dy())
	for y := 0; y < buf.Height; y++ {
		row := nrgba.Pix[y*nrgba.Stride:]
		for x := 0; x < buf.Width; x++ {
			i := x * 4
			buf.Set(x, y, Pixel{R: row[i], G: row[i+1], B: row[i+2], A: row[i+3]})
		}
	}
	return buf
}

// Image returns the buffer as an NRGBA image ready for encoding
func (b *Buffer) Image() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, b.Width, b.Height))
	for y := 0; y < b.Height; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < b.Width; x++ {
			p := b.At(x, y)
			i := x * 4
			row[i], row[i+1], row[i+2], row[i+3] = p.R, p.G, p.B, p.A
		}
	}
	return img
}

// Grayscale converts every pixel of buf in place
func Grayscale(buf *Buffer) {
	for i := range buf.Pix {
		buf.Pix[i] = buf.Pix[i].Gray()
	}
}
