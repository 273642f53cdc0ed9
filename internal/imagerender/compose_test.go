package imagerender

import (
	"image"
	"image/color"
	"testing"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestRotateQuarterTurns(t *testing.T) {
	img := solid(3, 2, color.RGBA{A: 0xff})
	marker := color.RGBA{R: 0xff, A: 0xff}
	img.SetRGBA(0, 0, marker)

	tests := []struct {
		deg          int
		w, h         int
		markX, markY int
	}{
		{0, 3, 2, 0, 0},
		{90, 2, 3, 1, 0},
		{180, 3, 2, 2, 1},
		{270, 2, 3, 0, 2},
		{-90, 2, 3, 0, 2},
		{450, 2, 3, 1, 0},
	}
	for _, tc := range tests {
		out := Rotate(img, tc.deg)
		if out.Bounds().Dx() != tc.w || out.Bounds().Dy() != tc.h {
			t.Errorf("rotate %d: size %v", tc.deg, out.Bounds())
			continue
		}
		if out.RGBAAt(tc.markX, tc.markY) != marker {
			t.Errorf("rotate %d: marker not at (%d,%d)", tc.deg, tc.markX, tc.markY)
		}
	}
}

func TestRotateFourTimesIsIdentity(t *testing.T) {
	img := solid(5, 3, color.RGBA{G: 0x80, A: 0xff})
	img.SetRGBA(4, 2, color.RGBA{B: 0xff, A: 0xff})
	out := img
	for i := 0; i < 4; i++ {
		out = Rotate(out, 90)
	}
	for i := range img.Pix {
		if img.Pix[i] != out.Pix[i] {
			t.Fatalf("pixel byte %d differs after four turns", i)
		}
	}
}

func TestCompositeAlpha(t *testing.T) {
	dst := solid(10, 10, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff})
	src := solid(4, 4, color.RGBA{A: 0})
	src.SetRGBA(1, 1, color.RGBA{A: 0xff})
	Composite(dst, src, image.Rect(2, 2, 6, 6))

	if got := dst.RGBAAt(3, 3); got != (color.RGBA{A: 0xff}) {
		t.Errorf("opaque pixel not drawn: %v", got)
	}
	if got := dst.RGBAAt(2, 2); got != (color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}) {
		t.Errorf("transparent pixel changed dst: %v", got)
	}
	if got := dst.RGBAAt(8, 8); got.R != 0xff {
		t.Errorf("pixel outside target changed: %v", got)
	}
}

func TestCompositeScales(t *testing.T) {
	dst := solid(20, 20, color.RGBA{A: 0xff})
	src := solid(2, 2, color.RGBA{R: 0xff, A: 0xff})
	Composite(dst, src, image.Rect(0, 0, 10, 10))
	if got := dst.RGBAAt(5, 5); got.R < 0xf0 {
		t.Errorf("scaled source not drawn: %v", got)
	}
	if got := dst.RGBAAt(15, 15); got.R != 0 {
		t.Errorf("scaled source spilled: %v", got)
	}
}

func TestDrawText(t *testing.T) {
	dst := solid(200, 60, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff})
	DrawText(dst, "APPROVED", 10, 10, 26, color.Black)
	dark := 0
	for y := 0; y < 60; y++ {
		for x := 0; x < 200; x++ {
			if dst.RGBAAt(x, y).R < 0x80 {
				if x < 10 || y < 10 {
					t.Fatalf("text drawn above or left of its origin at (%d,%d)", x, y)
				}
				dark++
			}
		}
	}
	if dark == 0 {
		t.Fatalf("no text pixels drawn")
	}
}

func TestResizeAndPlaceholder(t *testing.T) {
	out := Resize(solid(8, 4, color.RGBA{B: 0xff, A: 0xff}), 4, 2)
	if out.Bounds() != image.Rect(0, 0, 4, 2) {
		t.Fatalf("resize bounds %v", out.Bounds())
	}
	p := Placeholder(0, 3)
	if p.Bounds().Dx() != 1 || p.RGBAAt(0, 0) != PlaceholderColor {
		t.Fatalf("placeholder = %v %v", p.Bounds(), p.RGBAAt(0, 0))
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	img := solid(6, 4, color.RGBA{R: 10, G: 20, B: 30, A: 0xff})
	data, err := EncodePNG(img)
	if err != nil {
		t.Fatal(err)
	}
	back, err := DecodePNG(data)
	if err != nil {
		t.Fatal(err)
	}
	if back.RGBAAt(2, 2) != img.RGBAAt(2, 2) {
		t.Fatalf("pixel changed through PNG")
	}
	w, h, err := Dimensions(data)
	if err != nil || w != 6 || h != 4 {
		t.Fatalf("dimensions = %d x %d, %v", w, h, err)
	}
	if _, err := DecodeAsset(data); err != nil {
		t.Fatalf("asset decode: %v", err)
	}
	jpg, err := EncodeJPEG(img, 0, ColorGray)
	if err != nil {
		t.Fatal(err)
	}
	if w, h, _ := Dimensions(jpg); w != 6 || h != 4 {
		t.Fatalf("jpeg dimensions %d x %d", w, h)
	}
	if _, err := DecodeAsset([]byte("nope")); err == nil {
		t.Fatalf("garbage decoded as an asset")
	}
}
