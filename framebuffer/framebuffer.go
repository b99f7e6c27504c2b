// Package framebuffer renders images for the monochrome screens of memory
// units.
package framebuffer

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/clktmr/maple/drivers/function"
)

const (
	WIDTH  = 48
	HEIGHT = 32

	stride = WIDTH / 8
)

var (
	Off = color.Gray{0xff}
	On  = color.Gray{0x00}

	Palette = color.Palette{Off, On}
)

// Framebuffer is a 1 bit per pixel image in the format of a screen block.
// Implements draw.Image, so all the drawing tools from the standard library
// can be used.  Pixels darker than middle gray are on.
type Framebuffer struct {
	Pix  [HEIGHT * stride]byte
	fill image.Uniform
}

var _ draw.Image = (*Framebuffer)(nil)

func NewFramebuffer() *Framebuffer {
	return &Framebuffer{fill: image.Uniform{On}}
}

func (fb *Framebuffer) ColorModel() color.Model { return Palette }

func (fb *Framebuffer) Bounds() image.Rectangle {
	return image.Rect(0, 0, WIDTH, HEIGHT)
}

func (fb *Framebuffer) bit(x, y int) (i int, mask byte) {
	return y*stride + x/8, 0x80 >> (x % 8)
}

func (fb *Framebuffer) At(x, y int) color.Color {
	if !(image.Point{x, y}.In(fb.Bounds())) {
		return Off
	}
	i, mask := fb.bit(x, y)
	if fb.Pix[i]&mask != 0 {
		return On
	}
	return Off
}

func (fb *Framebuffer) Set(x, y int, c color.Color) {
	if !(image.Point{x, y}.In(fb.Bounds())) {
		return
	}
	i, mask := fb.bit(x, y)
	if Palette.Index(c) == 1 {
		fb.Pix[i] |= mask
	} else {
		fb.Pix[i] &^= mask
	}
}

// Clear turns all pixels off.
func (fb *Framebuffer) Clear() {
	fb.Pix = [len(fb.Pix)]byte{}
}

func (fb *Framebuffer) SetColor(c color.Color) {
	fb.fill.C = c
}

// Fill paints rect with the color set by SetColor.
func (fb *Framebuffer) Fill(rect image.Rectangle) {
	draw.Draw(fb, rect, &fb.fill, image.Point{}, draw.Src)
}

// Words returns the image as payload of a screen block write.  The first
// pixel is the most significant bit of the first word.
func (fb *Framebuffer) Words() (words [function.ScreenWords]uint32) {
	for i := range words {
		b := fb.Pix[i*4 : i*4+4]
		words[i] = uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	}
	return
}
