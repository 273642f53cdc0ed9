// Package pdftest provides an in-memory stand-in for the PDF and raster
// engines so the model, cache and exporter can be tested without pdfcpu or
// MuPDF.
//
// Documents are plain text with a "%PDF-" header so content sniffing treats
// them as PDF:
//
//	%PDF-fake
//	label:a
//	pages:3
package pdftest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/local/pagedesk/internal/pdfengine"
)

// ErrInjected is returned by operations forced to fail.
var ErrInjected = errors.New("pdftest: injected failure")

// Doc builds a fake document with n pages. The label makes page contents of
// different documents distinct.
func Doc(label string, n int) []byte {
	return []byte(fmt.Sprintf("%%PDF-fake\nlabel:%s\npages:%d\n", label, n))
}

// Corrupt builds bytes that sniff as PDF but fail to open.
func Corrupt() []byte { return []byte("%PDF-fake\nbroken\n") }

// Engine fakes pdfengine.Engine and the raster engine.
type Engine struct {
	// PageSize is reported for every page; zero means US Letter.
	PageSize pdfengine.Size

	mu          sync.Mutex
	labels      map[*pdfengine.Source]string
	failRaster  int
	failStamp   bool
	gate        chan struct{}
	serialized  [][]pdfengine.Content
	rasterCalls atomic.Int64
	started     chan struct{}
}

// New creates a fake engine.
func New() *Engine { return &Engine{} }

func (e *Engine) size() pdfengine.Size {
	if e.PageSize.Width > 0 && e.PageSize.Height > 0 {
		return e.PageSize
	}
	return pdfengine.DefaultPageSize
}

// Open parses a document made by Doc.
func (e *Engine) Open(ctx context.Context, data []byte) (*pdfengine.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, label := -1, ""
	for _, line := range strings.Split(string(data), "\n") {
		if v, ok := strings.CutPrefix(line, "pages:"); ok {
			if p, err := strconv.Atoi(v); err == nil {
				n = p
			}
		}
		if v, ok := strings.CutPrefix(line, "label:"); ok {
			label = v
		}
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: no page table", pdfengine.ErrEngine)
	}
	src := &pdfengine.Source{PageCount: n, Sizes: make([]pdfengine.Size, n)}
	for i := range src.Sizes {
		src.Sizes[i] = e.size()
	}
	e.mu.Lock()
	if e.labels == nil {
		e.labels = make(map[*pdfengine.Source]string)
	}
	e.labels[src] = label
	e.mu.Unlock()
	return src, nil
}

// ExtractAll returns one content per page, tagged with the document label.
func (e *Engine) ExtractAll(ctx context.Context, src *pdfengine.Source) ([]pdfengine.Content, error) {
	e.mu.Lock()
	label := e.labels[src]
	delete(e.labels, src)
	e.mu.Unlock()
	out := make([]pdfengine.Content, src.PageCount)
	for i := range out {
		out[i] = pdfengine.Content{
			Data: []byte(fmt.Sprintf("%%PDF-fake %s page %d", label, i)),
			Size: src.Sizes[i],
		}
	}
	return out, nil
}

// Rotate appends a rotate marker to the content.
func (e *Engine) Rotate(ctx context.Context, c pdfengine.Content, degrees int) (pdfengine.Content, error) {
	if err := ctx.Err(); err != nil {
		return pdfengine.Content{}, err
	}
	degrees = ((degrees % 360) + 360) % 360
	if degrees == 0 {
		return c, nil
	}
	return pdfengine.Content{Data: appendLine(c.Data, fmt.Sprintf("rotate:%d", degrees)), Size: c.Size}, nil
}

// Composite appends one marker per placement.
func (e *Engine) Composite(ctx context.Context, c pdfengine.Content, placements []pdfengine.Placement) (pdfengine.Content, error) {
	e.mu.Lock()
	fail := e.failStamp
	e.mu.Unlock()
	if fail {
		return pdfengine.Content{}, fmt.Errorf("%w: %w", pdfengine.ErrEngine, ErrInjected)
	}
	data := c.Data
	for _, p := range placements {
		if p.Text != "" {
			data = appendLine(data, fmt.Sprintf("text:%s@%g,%g", p.Text, p.X, p.Y))
		} else {
			data = appendLine(data, fmt.Sprintf("image:%d@%g,%g", len(p.Image), p.X, p.Y))
		}
	}
	return pdfengine.Content{Data: data, Size: c.Size}, nil
}

// Serialize joins pages with a form feed and records the call.
func (e *Engine) Serialize(ctx context.Context, pages []pdfengine.Content) ([]byte, error) {
	if len(pages) == 0 {
		return nil, errors.New("serialize: no pages")
	}
	e.mu.Lock()
	e.serialized = append(e.serialized, append([]pdfengine.Content(nil), pages...))
	e.mu.Unlock()
	parts := make([][]byte, len(pages))
	for i, p := range pages {
		parts[i] = p.Data
	}
	return bytes.Join(parts, []byte("\f")), nil
}

// Serialized returns the page lists passed to Serialize so far.
func (e *Engine) Serialized() [][]pdfengine.Content {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]pdfengine.Content(nil), e.serialized...)
}

// FailStamps makes Composite fail.
func (e *Engine) FailStamps(fail bool) {
	e.mu.Lock()
	e.failStamp = fail
	e.mu.Unlock()
}

// FailRasters makes the next n Rasterize calls fail.
func (e *Engine) FailRasters(n int) {
	e.mu.Lock()
	e.failRaster = n
	e.mu.Unlock()
}

// Hold blocks Rasterize until the returned release function is called.
// Started receives one value per render that reached the gate.
func (e *Engine) Hold() (started <-chan struct{}, release func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gate = make(chan struct{})
	e.started = make(chan struct{}, 64)
	gate := e.gate
	var once sync.Once
	return e.started, func() { once.Do(func() { close(gate) }) }
}

// RasterCalls counts Rasterize invocations.
func (e *Engine) RasterCalls() int64 { return e.rasterCalls.Load() }

// Rasterize paints a flat tile of the page size times scale. The tile colour
// is derived from the content bytes so different contents differ.
func (e *Engine) Rasterize(ctx context.Context, c pdfengine.Content, scale float64) (*image.RGBA, error) {
	e.rasterCalls.Add(1)
	e.mu.Lock()
	gate, started := e.gate, e.started
	fail := e.failRaster > 0
	if fail {
		e.failRaster--
	}
	e.mu.Unlock()

	if gate != nil {
		started <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, fmt.Errorf("%w: %w", pdfengine.ErrEngine, ErrInjected)
	}
	w := int(c.Size.Width*scale + 0.5)
	h := int(c.Size.Height*scale + 0.5)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var sum byte
	for _, b := range c.Data {
		sum += b
	}
	fill := color.RGBA{R: sum, G: 0xee, B: 0xee, A: 0xff}
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = fill.R, fill.G, fill.B, fill.A
	}
	return img, nil
}

func appendLine(data []byte, line string) []byte {
	out := make([]byte, 0, len(data)+len(line)+1)
	out = append(out, data...)
	out = append(out, '\n')
	return append(out, line...)
}
