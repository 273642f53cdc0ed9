package imagerender

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// PlaceholderColor fills tiles shown while a page renders.
var PlaceholderColor = color.RGBA{R: 0xe0, G: 0xe0, B: 0xe0, A: 0xff}

// DecodeAsset decodes PNG or JPEG stamp bytes.
func DecodeAsset(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode asset: %w", err)
	}
	return img, nil
}

// Composite draws src over dst, scaled into r, with alpha blending.
func Composite(dst *image.RGBA, src image.Image, r image.Rectangle) {
	r = r.Canon()
	if r.Empty() {
		return
	}
	if r.Dx() == src.Bounds().Dx() && r.Dy() == src.Bounds().Dy() {
		draw.Draw(dst, r, src, src.Bounds().Min, draw.Over)
		return
	}
	xdraw.CatmullRom.Scale(dst, r, src, src.Bounds(), xdraw.Over, nil)
}

// DrawText writes a single line of text with its top-left corner at (x, y).
// The bitmap face is scaled to size pixels per line.
func DrawText(dst *image.RGBA, text string, x, y int, size float64, c color.Color) {
	if text == "" || size <= 0 {
		return
	}
	face := basicfont.Face7x13
	lineH := face.Metrics().Height.Ceil()
	w := font.MeasureString(face, text).Ceil()
	if w <= 0 {
		return
	}
	glyphs := image.NewRGBA(image.Rect(0, 0, w, lineH))
	d := &font.Drawer{
		Dst:  glyphs,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(0, face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(text)

	k := size / float64(lineH)
	target := image.Rect(x, y, x+int(float64(w)*k+0.5), y+int(float64(lineH)*k+0.5))
	if target.Dx() < 1 || target.Dy() < 1 {
		return
	}
	xdraw.ApproxBiLinear.Scale(dst, target, glyphs, glyphs.Bounds(), xdraw.Over, nil)
}

// Rotate turns img clockwise by a multiple of 90 degrees.
func Rotate(img *image.RGBA, degrees int) *image.RGBA {
	degrees = ((degrees % 360) + 360) % 360
	degrees -= degrees % 90
	if degrees == 0 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	var out *image.RGBA
	if degrees == 180 {
		out = image.NewRGBA(image.Rect(0, 0, w, h))
	} else {
		out = image.NewRGBA(image.Rect(0, 0, h, w))
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			si := img.PixOffset(b.Min.X+x, b.Min.Y+y)
			var dx, dy int
			switch degrees {
			case 90:
				dx, dy = h-1-y, x
			case 180:
				dx, dy = w-1-x, h-1-y
			case 270:
				dx, dy = y, w-1-x
			}
			di := out.PixOffset(dx, dy)
			copy(out.Pix[di:di+4], img.Pix[si:si+4])
		}
	}
	return out
}

// Resize scales img to w x h.
func Resize(img image.Image, w, h int) *image.RGBA {
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Over, nil)
	return dst
}

// Placeholder returns a flat grey tile.
func Placeholder(w, h int) *image.RGBA {
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: PlaceholderColor}, image.Point{}, draw.Src)
	return img
}
