package framebuffer

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	fb := NewFramebuffer()
	fb.Set(0, 0, color.Black)
	fb.Set(47, 31, On)
	fb.Set(48, 0, On) // clipped
	fb.Set(-1, 0, On)

	assert.Equal(t, On, fb.At(0, 0))
	assert.Equal(t, Off, fb.At(1, 0))
	assert.Equal(t, On, fb.At(47, 31))
	assert.Equal(t, Off, fb.At(48, 0))

	w := fb.Words()
	assert.Equal(t, uint32(0x80000000), w[0])
	assert.Equal(t, uint32(0x00000001), w[len(w)-1])

	fb.Set(0, 0, color.White)
	assert.Equal(t, Off, fb.At(0, 0))
}

func TestFill(t *testing.T) {
	fb := NewFramebuffer()
	fb.Fill(image.Rect(0, 0, 8, 2))
	assert.Equal(t, byte(0xff), fb.Pix[0])
	assert.Equal(t, byte(0xff), fb.Pix[stride])
	assert.Zero(t, fb.Pix[1])

	fb.SetColor(Off)
	fb.Fill(fb.Bounds())
	assert.Equal(t, [len(fb.Pix)]byte{}, fb.Pix)
}

func TestDrawText(t *testing.T) {
	fb := NewFramebuffer()
	fb.DrawText("AB\nC")

	lit := func(r image.Rectangle) (n int) {
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				if fb.At(x, y) == On {
					n++
				}
			}
		}
		return
	}
	assert.NotZero(t, lit(image.Rect(0, 0, 7, 13)))
	assert.NotZero(t, lit(image.Rect(7, 0, 14, 13)))
	assert.NotZero(t, lit(image.Rect(0, 13, 7, 26)))
	assert.Zero(t, lit(image.Rect(14, 0, WIDTH, HEIGHT)))

	fb.Clear()
	assert.Zero(t, lit(fb.Bounds()))
}
