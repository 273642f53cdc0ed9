// Package imagerender turns page content into pixels: go-fitz rasterization
// plus the raster primitives the render cache composes previews with.
package imagerender

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"time"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"

	"github.com/local/pagedesk/internal/pdfengine"
)

// ColorMode defines the color mode for encoded previews
type ColorMode string

const (
	ColorRGB  ColorMode = "rgb"
	ColorGray ColorMode = "gray"
)

// Rasterizer renders single-page contents with MuPDF.
type Rasterizer struct{}

// NewRasterizer creates a MuPDF backed rasterizer.
func NewRasterizer() *Rasterizer { return &Rasterizer{} }

// Rasterize renders the first page of c at scale (1.0 = 72 dpi).
func (r *Rasterizer) Rasterize(ctx context.Context, c pdfengine.Content, scale float64) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if scale <= 0 {
		return nil, fmt.Errorf("%w: scale %g", pdfengine.ErrEngine, scale)
	}
	start := time.Now()
	doc, err := fitz.NewFromMemory(c.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open page: %w", pdfengine.ErrEngine, err)
	}
	defer doc.Close()

	img, err := doc.ImageDPI(0, 72*scale)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to render page: %w", pdfengine.ErrEngine, err)
	}
	b := img.Bounds()
	log.Debug().
		Int("width", b.Dx()).
		Int("height", b.Dy()).
		Float64("scale", scale).
		Dur("duration", time.Since(start)).
		Msg("rasterized page")
	return img, nil
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeJPEG encodes img as JPEG, converting to grayscale when asked.
func EncodeJPEG(img image.Image, quality int, mode ColorMode) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	var out image.Image = img
	if mode == ColorGray {
		gray := image.NewGray(img.Bounds())
		draw.Draw(gray, gray.Bounds(), img, img.Bounds().Min, draw.Src)
		out = gray
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodePNG decodes a PNG preview back into RGBA.
func DecodePNG(data []byte) (*image.RGBA, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode PNG: %w", err)
	}
	return toRGBA(img), nil
}

// Dimensions extracts dimensions from encoded image bytes
func Dimensions(data []byte) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to decode image config: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
