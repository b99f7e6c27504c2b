package framebuffer

import (
	"image"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Face is the default font.  Two lines of six characters fit the screen.
var Face font.Face = basicfont.Face7x13

// DrawText draws s starting at the top left corner, one line per '\n'.
// Characters beyond the screen are clipped.
func (fb *Framebuffer) DrawText(s string) {
	m := Face.Metrics()
	d := font.Drawer{
		Dst:  fb,
		Src:  image.NewUniform(On),
		Face: Face,
	}
	y := m.Ascent
	for _, line := range strings.Split(s, "\n") {
		d.Dot = fixed.Point26_6{X: 0, Y: y}
		d.DrawString(line)
		y += m.Height
	}
}
