// Package exporter flattens a document into a single PDF and writes it to a
// local file or an S3 object.
package exporter

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pagedesk/internal/document"
	"github.com/local/pagedesk/internal/imagerender"
	"github.com/local/pagedesk/internal/limiter"
	"github.com/local/pagedesk/internal/metrics"
	"github.com/local/pagedesk/internal/pdfengine"
	"github.com/local/pagedesk/internal/storage"
)

// Engine is the part of the PDF engine used for flattening.
type Engine interface {
	Rotate(ctx context.Context, c pdfengine.Content, degrees int) (pdfengine.Content, error)
	Composite(ctx context.Context, c pdfengine.Content, placements []pdfengine.Placement) (pdfengine.Content, error)
	Serialize(ctx context.Context, pages []pdfengine.Content) ([]byte, error)
}

// Stamps resolves stamp kinds to decoded images.
type Stamps interface {
	Image(kind document.StampKind) (image.Image, error)
}

// Uploader stores exports in S3. storage.S3Client implements it.
type Uploader interface {
	Upload(ctx context.Context, bucket, key, name string, data []byte) error
	NextVersion(ctx context.Context, bucket, baseKey string) (int, error)
}

// Options configures an Exporter.
type Options struct {
	Stamps Stamps
	S3     Uploader
	// Dir is the base for relative local destinations.
	Dir string
	// Confine rejects local destinations outside Dir.
	Confine bool
	// Versioned writes S3 exports as <key>_vN.pdf with the next free N.
	Versioned bool
	// MaxPerDestination bounds concurrent exports to one bucket or directory.
	MaxPerDestination int
}

// Exporter turns documents into PDF bytes.
type Exporter struct {
	reg       *document.Registry
	engine    Engine
	stamps    Stamps
	s3        Uploader
	dir       string
	confine   bool
	versioned bool
	slots     *limiter.Slots
}

// New creates an exporter reading page content from reg.
func New(reg *document.Registry, engine Engine, opts Options) *Exporter {
	return &Exporter{
		reg:       reg,
		engine:    engine,
		stamps:    opts.Stamps,
		s3:        opts.S3,
		dir:       opts.Dir,
		confine:   opts.Confine,
		versioned: opts.Versioned,
		slots:     limiter.New(opts.MaxPerDestination),
	}
}

// Flatten composites every page's overlays in creation order onto its
// content, applies the page rotation and serializes the pages in order.
// The context is checked between pages.
func (e *Exporter) Flatten(ctx context.Context, doc *document.Document) ([]byte, error) {
	refs, err := doc.BorrowAll()
	if err != nil {
		return nil, ioErr("snapshot pages", err)
	}
	defer e.reg.Release(refs)

	pages := make([]pdfengine.Content, 0, len(refs))
	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, ioErr("cancelled", err)
		}
		c, err := e.page(ctx, ref)
		if err != nil {
			log.Warn().Err(err).Str("doc", string(doc.Handle())).Int("page", i).Msg("page flatten failed")
			return nil, err
		}
		pages = append(pages, c)
	}
	if err := ctx.Err(); err != nil {
		return nil, ioErr("cancelled", err)
	}
	out, err := e.engine.Serialize(ctx, pages)
	if err != nil {
		return nil, engineErr("serialize", err)
	}
	return out, nil
}

func (e *Exporter) page(ctx context.Context, ref document.PageRef) (pdfengine.Content, error) {
	c, ok := e.reg.Arena().Get(ref.Content)
	if !ok {
		return pdfengine.Content{}, ioErr("page content", fmt.Errorf("content %d released", ref.Content))
	}
	placements, err := e.placements(ref.Overlays)
	if err != nil {
		return pdfengine.Content{}, err
	}
	if len(placements) > 0 {
		if c, err = e.engine.Composite(ctx, c, placements); err != nil {
			return pdfengine.Content{}, engineErr("composite overlays", err)
		}
	}
	if ref.Rotation.Normalize() != document.Rotate0 {
		if c, err = e.engine.Rotate(ctx, c, int(ref.Rotation)); err != nil {
			return pdfengine.Content{}, engineErr("rotate", err)
		}
	}
	return c, nil
}

func (e *Exporter) placements(items []document.Overlay) ([]pdfengine.Placement, error) {
	out := make([]pdfengine.Placement, 0, len(items))
	for _, o := range items {
		p := pdfengine.Placement{X: o.Rect.X, Y: o.Rect.Y, W: o.Rect.W, H: o.Rect.H}
		switch m := o.Mark.(type) {
		case document.Stamp:
			data, err := e.stampPNG(m.Kind, o.Rect)
			if err != nil {
				return nil, err
			}
			p.Image = data
		case document.Text:
			p.Text, p.FontSize, p.Color = m.Body, m.FontSize, hexColor(m.Color)
		default:
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (e *Exporter) stampPNG(kind document.StampKind, r document.Rect) ([]byte, error) {
	if e.stamps == nil {
		return nil, ioErr("stamp asset", fmt.Errorf("no stamp source for %s", kind))
	}
	img, err := e.stamps.Image(kind)
	if err != nil {
		return nil, ioErr("stamp asset", err)
	}
	w, h := pdfengine.ImagePixels(r.W, r.H)
	data, err := imagerender.EncodePNG(imagerender.Resize(img, w, h))
	if err != nil {
		return nil, engineErr("encode stamp", err)
	}
	return data, nil
}

func hexColor(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Destination is a parsed export target.
type Destination struct {
	// Scheme is "file" or "s3".
	Scheme string
	Path   string
	Bucket string
	Key    string
}

func (d Destination) String() string {
	if d.Scheme == "s3" {
		return "s3://" + d.Bucket + "/" + d.Key
	}
	return d.Path
}

// ParseDestination accepts a filesystem path, file://path or
// s3://bucket/key. Relative paths are resolved against base.
func ParseDestination(dest, base string) (Destination, error) {
	switch {
	case dest == "":
		return Destination{}, fmt.Errorf("empty destination")
	case strings.HasPrefix(dest, "s3://"):
		bucket, key, ok := strings.Cut(strings.TrimPrefix(dest, "s3://"), "/")
		if !ok || bucket == "" || key == "" {
			return Destination{}, fmt.Errorf("invalid s3 url: %s", dest)
		}
		return Destination{Scheme: "s3", Bucket: bucket, Key: key}, nil
	case strings.HasPrefix(dest, "file://"):
		dest = strings.TrimPrefix(dest, "file://")
	}
	if !filepath.IsAbs(dest) && base != "" {
		dest = filepath.Join(base, dest)
	}
	return Destination{Scheme: "file", Path: filepath.Clean(dest)}, nil
}

// Result describes a finished export.
type Result struct {
	Location string `json:"location"`
	Bytes    int    `json:"bytes"`
	Pages    int    `json:"pages"`
}

// Export flattens doc and writes it to dest.
func (e *Exporter) Export(ctx context.Context, doc *document.Document, dest string) (Result, error) {
	start := time.Now()
	d, err := ParseDestination(dest, e.dir)
	if err == nil && e.confine && d.Scheme == "file" {
		err = storage.Within(e.dir, d.Path)
	}
	if err != nil {
		return Result{}, ioErr("destination", err)
	}
	res, err := e.export(ctx, doc, d)
	metrics.ObserveExport(d.Scheme, err, time.Since(start))
	if err != nil {
		log.Error().Err(err).Str("doc", string(doc.Handle())).Str("dest", d.String()).Msg("export failed")
		return Result{}, err
	}
	log.Info().
		Str("doc", string(doc.Handle())).
		Str("location", res.Location).
		Int("pages", res.Pages).
		Int("bytes", res.Bytes).
		Dur("took", time.Since(start)).
		Msg("document exported")
	return res, nil
}

func (e *Exporter) export(ctx context.Context, doc *document.Document, d Destination) (Result, error) {
	slot := "file:" + filepath.Dir(d.Path)
	if d.Scheme == "s3" {
		slot = "s3:" + d.Bucket
	}
	release, err := e.slots.Acquire(ctx, slot)
	if err != nil {
		return Result{}, ioErr("cancelled", err)
	}
	defer release()

	pages := doc.PageCount()
	data, err := e.Flatten(ctx, doc)
	if err != nil {
		return Result{}, err
	}
	res := Result{Bytes: len(data), Pages: pages}
	if d.Scheme == "s3" {
		res.Location, err = e.upload(ctx, doc.Name(), d, data)
	} else {
		res.Location, err = writeFile(d.Path, data)
	}
	return res, err
}

func (e *Exporter) upload(ctx context.Context, name string, d Destination, data []byte) (string, error) {
	if e.s3 == nil {
		return "", ioErr("s3 upload", fmt.Errorf("s3 storage is not configured"))
	}
	key := d.Key
	if e.versioned {
		n, err := e.s3.NextVersion(ctx, d.Bucket, key)
		if err != nil {
			return "", ioErr("s3 versions", err)
		}
		key = storage.VersionedKey(key, n)
	}
	if err := e.s3.Upload(ctx, d.Bucket, key, name, data); err != nil {
		return "", ioErr("s3 upload", err)
	}
	return fmt.Sprintf("s3://%s/%s", d.Bucket, key), nil
}

// writeFile replaces path atomically.
func writeFile(path string, data []byte) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", ioErr("create directory", err)
	}
	f, err := os.CreateTemp(dir, ".export-*.pdf")
	if err != nil {
		return "", ioErr("create file", err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", ioErr("write file", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", ioErr("write file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", ioErr("rename file", err)
	}
	return path, nil
}
