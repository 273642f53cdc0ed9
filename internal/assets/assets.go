// Package assets resolves stamp kinds to image bytes.
package assets

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/local/pagedesk/internal/document"
	"github.com/local/pagedesk/internal/filetype"
	"github.com/local/pagedesk/internal/imagerender"
)

// ErrNotFound is returned when a source has no image for a stamp.
var ErrNotFound = errors.New("stamp asset not found")

// Source resolves a stamp kind to PNG or JPEG bytes.
type Source interface {
	Stamp(kind document.StampKind) ([]byte, error)
}

// Dir reads <name>.png (or .jpg) files from a directory.
type Dir string

func (d Dir) Stamp(kind document.StampKind) ([]byte, error) {
	for _, ext := range []string{".png", ".jpg", ".jpeg"} {
		path := filepath.Join(string(d), kind.Name()+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read stamp %s: %w", path, err)
		}
		if info := filetype.Detect(data); info.Kind != filetype.KindImage {
			return nil, fmt.Errorf("stamp %s: %s is not a PNG or JPEG image", path, info.MIMEType)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%w: %s in %s", ErrNotFound, kind.Name(), string(d))
}

// Generated draws a bordered stamp with the kind's label. Images are sized
// for the default stamp box at twice its point size.
type Generated struct{}

var stampColors = map[document.StampKind]color.RGBA{
	document.Approved:     {R: 0x1b, G: 0x8a, B: 0x3c, A: 0xff},
	document.Rejected:     {R: 0xc6, G: 0x28, B: 0x28, A: 0xff},
	document.Draft:        {R: 0x60, G: 0x60, B: 0x60, A: 0xff},
	document.Confidential: {R: 0xd8, G: 0x6a, B: 0x00, A: 0xff},
}

func (Generated) Stamp(kind document.StampKind) ([]byte, error) {
	ink, ok := stampColors[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, kind.Name())
	}
	return imagerender.EncodePNG(drawStamp(kind.Label(), ink))
}

func drawStamp(label string, ink color.RGBA) *image.RGBA {
	w, h := int(document.DefaultStampWidth*2), int(document.DefaultStampHeight*2)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	fill := color.NRGBA{R: ink.R, G: ink.G, B: ink.B, A: 0x30}
	draw.Draw(img, img.Bounds(), &image.Uniform{C: fill}, image.Point{}, draw.Src)

	const border = 6
	edges := []image.Rectangle{
		image.Rect(0, 0, w, border),
		image.Rect(0, h-border, w, h),
		image.Rect(0, 0, border, h),
		image.Rect(w-border, 0, w, h),
	}
	for _, r := range edges {
		draw.Draw(img, r, &image.Uniform{C: ink}, image.Point{}, draw.Src)
	}

	size := 36.0
	if n := len(label); n > 8 {
		size = 36.0 * 8 / float64(n)
	}
	textW := int(float64(len(label)) * 7 * size / 13)
	x := (w - textW) / 2
	y := (h - int(size)) / 2
	imagerender.DrawText(img, label, x, y, size, ink)
	return img
}

// Chain tries each source in order.
type Chain []Source

func (c Chain) Stamp(kind document.StampKind) ([]byte, error) {
	var errs []error
	for _, s := range c {
		data, err := s.Stamp(kind)
		if err == nil {
			return data, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(append([]error{fmt.Errorf("%w: %s", ErrNotFound, kind.Name())}, errs...)...)
}

// Library memoizes a source and the decoded images.
type Library struct {
	src Source

	mu     sync.Mutex
	raw    map[document.StampKind][]byte
	images map[document.StampKind]image.Image
}

// NewLibrary builds the default library: dir first when set, then the
// generated fallback.
func NewLibrary(dir string) *Library {
	var src Source = Generated{}
	if dir != "" {
		src = Chain{Dir(dir), Generated{}}
	}
	return NewLibraryFrom(src)
}

// NewLibraryFrom wraps an arbitrary source.
func NewLibraryFrom(src Source) *Library {
	return &Library{
		src:    src,
		raw:    make(map[document.StampKind][]byte),
		images: make(map[document.StampKind]image.Image),
	}
}

// Stamp returns the encoded asset for kind.
func (l *Library) Stamp(kind document.StampKind) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rawLocked(kind)
}

func (l *Library) rawLocked(kind document.StampKind) ([]byte, error) {
	if b, ok := l.raw[kind]; ok {
		return b, nil
	}
	b, err := l.src.Stamp(kind)
	if err != nil {
		log.Warn().Err(err).Str("stamp", kind.Name()).Msg("stamp asset unavailable")
		return nil, err
	}
	l.raw[kind] = b
	return b, nil
}

// Image returns the decoded asset for kind.
func (l *Library) Image(kind document.StampKind) (image.Image, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if img, ok := l.images[kind]; ok {
		return img, nil
	}
	b, err := l.rawLocked(kind)
	if err != nil {
		return nil, err
	}
	img, err := imagerender.DecodeAsset(b)
	if err != nil {
		return nil, fmt.Errorf("stamp %s: %w", kind.Name(), err)
	}
	l.images[kind] = img
	return img, nil
}
