package pdfengine

import (
	"context"
	"fmt"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// imageOversample is the pixel density of stamp images relative to points.
const imageOversample = 2.0

// Placement is one overlay ready for stamping. Box is in page-space points
// with a top-left origin. Exactly one of Image or Text is set.
type Placement struct {
	X, Y, W, H float64

	// Image is an encoded PNG sized W*2 x H*2 pixels.
	Image []byte

	Text     string
	FontSize float64
	Color    string // #RRGGBB
}

// Composite stamps placements onto c in order, later placements on top.
func (e *Engine) Composite(ctx context.Context, c Content, placements []Placement) (Content, error) {
	if len(placements) == 0 {
		return c, nil
	}
	cur := c
	for i, p := range placements {
		if err := ctx.Err(); err != nil {
			return Content{}, err
		}
		next, err := e.stamp(ctx, cur, p)
		if err != nil {
			return Content{}, fmt.Errorf("overlay %d: %w", i, err)
		}
		cur = next
	}
	return cur, nil
}

func (e *Engine) stamp(ctx context.Context, c Content, p Placement) (Content, error) {
	var (
		wm  *model.Watermark
		err error
	)
	switch {
	case len(p.Image) > 0:
		img, werr := e.writeTemp("stamp-*.png", p.Image)
		if werr != nil {
			return Content{}, werr
		}
		defer os.Remove(img)
		desc := fmt.Sprintf("position:bl, scalefactor:%.4f abs, rotation:0, opacity:1", 1/imageOversample)
		wm, err = pdfcpu.ParseImageWatermarkDetails(img, desc, true, types.POINTS)
	case p.Text != "":
		color := p.Color
		if color == "" {
			color = "#000000"
		}
		desc := fmt.Sprintf("fontname:Helvetica, points:%d, position:bl, scalefactor:1 abs, rotation:0, opacity:1, fillcolor:%s", int(fontSize(p)+0.5), color)
		wm, err = api.TextWatermark(p.Text, desc, true, false, types.POINTS)
	default:
		return c, nil
	}
	if err != nil {
		return Content{}, fmt.Errorf("%w: watermark: %v", ErrEngine, err)
	}
	wm.Dx, wm.Dy = anchor(c.Size, p)

	return e.transform(ctx, c, func(in, out string) error {
		return api.AddWatermarksFile(in, out, nil, wm, e.conf())
	})
}

func fontSize(p Placement) float64 {
	if p.FontSize <= 0 {
		return 12
	}
	return p.FontSize
}

// anchor converts the top-left box of p into pdfcpu's bottom-left offset.
// Text boxes are as tall as their font size.
func anchor(page Size, p Placement) (dx, dy float64) {
	h := p.H
	if len(p.Image) == 0 {
		h = fontSize(p)
	}
	return p.X, page.Height - p.Y - h
}

// ImagePixels returns the pixel size a stamp image for a w x h point box
// should have.
func ImagePixels(w, h float64) (int, int) {
	return int(w*imageOversample + 0.5), int(h*imageOversample + 0.5)
}
