// Package pdfengine adapts pdfcpu to the page-level primitives the editor
// needs: open, per-page snapshots, rotation, overlay stamping and
// serialization. Every Content is a standalone single-page PDF, so snapshots
// can be shared freely and never alias a live document.
package pdfengine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog/log"
)

// DefaultPageSize is used when a page reports no usable geometry (US Letter).
var DefaultPageSize = Size{Width: 612, Height: 792}

// ErrEngine marks failures raised by the underlying PDF library.
var ErrEngine = errors.New("pdf engine failure")

// Size is a page size in points.
type Size struct {
	Width  float64
	Height float64
}

// Content is an immutable single-page PDF snapshot.
type Content struct {
	Data []byte
	Size Size
}

// Source is an opened document. Close releases its backing temp file.
type Source struct {
	PageCount int
	Sizes     []Size
	path      string
}

// PageSize returns the size of page i, falling back to DefaultPageSize.
func (s *Source) PageSize(i int) Size {
	if i < 0 || i >= len(s.Sizes) {
		return DefaultPageSize
	}
	sz := s.Sizes[i]
	if sz.Width <= 0 || sz.Height <= 0 {
		return DefaultPageSize
	}
	return sz
}

// Close removes the on-disk copy of the source.
func (s *Source) Close() error {
	if s == nil || s.path == "" {
		return nil
	}
	return os.Remove(s.path)
}

// Options configures an Engine.
type Options struct {
	// WorkDir holds transient files; defaults to os.TempDir().
	WorkDir string
}

// Engine performs page operations with pdfcpu. It is safe for concurrent use;
// every call works on its own temp files.
type Engine struct {
	workDir string
}

// New creates an Engine.
func New(opts Options) *Engine {
	dir := opts.WorkDir
	if dir == "" {
		dir = os.TempDir()
	}
	return &Engine{workDir: dir}
}

func (e *Engine) conf() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Open parses data and reports page count and geometry.
func (e *Engine) Open(ctx context.Context, data []byte) (*Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := e.writeTemp("pdfsrc-*.pdf", data)
	if err != nil {
		return nil, err
	}
	n, err := api.PageCountFile(p)
	if err != nil {
		_ = os.Remove(p)
		return nil, fmt.Errorf("%w: page count: %v", ErrEngine, err)
	}
	src := &Source{PageCount: n, path: p}
	dims, err := api.PageDimsFile(p)
	if err != nil {
		log.Warn().Err(err).Int("pages", n).Msg("page dimensions unavailable; using defaults")
	} else {
		src.Sizes = make([]Size, len(dims))
		for i, d := range dims {
			src.Sizes[i] = Size{Width: d.Width, Height: d.Height}
		}
	}
	log.Debug().Int("pages", n).Int("bytes", len(data)).Msg("opened pdf source")
	return src, nil
}

// splitName matches pdfcpu's per-page split output (<base>_<page>.pdf).
var splitName = regexp.MustCompile(`_(\d+)\.pdf$`)

// ExtractAll snapshots every page of src in order.
func (e *Engine) ExtractAll(ctx context.Context, src *Source) ([]Content, error) {
	dir, err := os.MkdirTemp(e.workDir, "pdfsplit-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	if err := api.SplitFile(src.path, dir, 1, e.conf()); err != nil {
		return nil, fmt.Errorf("%w: split: %v", ErrEngine, err)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.pdf"))
	if err != nil {
		return nil, err
	}
	byPage := make(map[int]string, len(files))
	for _, f := range files {
		m := splitName.FindStringSubmatch(f)
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil {
			byPage[n] = f
		}
	}
	if len(byPage) != src.PageCount {
		// Unexpected layout; extract page by page instead.
		log.Debug().Int("split_files", len(byPage)).Int("pages", src.PageCount).Msg("split output mismatch; trimming per page")
		out := make([]Content, 0, src.PageCount)
		for i := 0; i < src.PageCount; i++ {
			c, err := e.Extract(ctx, src, i)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		return out, nil
	}

	pages := make([]int, 0, len(byPage))
	for n := range byPage {
		pages = append(pages, n)
	}
	sort.Ints(pages)
	out := make([]Content, 0, len(pages))
	for i, n := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(byPage[n])
		if err != nil {
			return nil, err
		}
		out = append(out, Content{Data: data, Size: src.PageSize(i)})
	}
	return out, nil
}

// Extract snapshots the page at zero-based index.
func (e *Engine) Extract(ctx context.Context, src *Source, index int) (Content, error) {
	if err := ctx.Err(); err != nil {
		return Content{}, err
	}
	if index < 0 || index >= src.PageCount {
		return Content{}, fmt.Errorf("extract: page %d out of range (document has %d pages)", index, src.PageCount)
	}
	out := e.tempPath("pdfpage-*.pdf")
	if out == "" {
		return Content{}, fmt.Errorf("extract: cannot allocate temp file")
	}
	defer os.Remove(out)
	if err := api.TrimFile(src.path, out, []string{strconv.Itoa(index + 1)}, e.conf()); err != nil {
		return Content{}, fmt.Errorf("%w: trim page %d: %v", ErrEngine, index+1, err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		return Content{}, err
	}
	return Content{Data: data, Size: src.PageSize(index)}, nil
}

// Rotate returns c turned clockwise by degrees (a multiple of 90).
func (e *Engine) Rotate(ctx context.Context, c Content, degrees int) (Content, error) {
	degrees = ((degrees % 360) + 360) % 360
	if degrees == 0 {
		return c, nil
	}
	return e.transform(ctx, c, func(in, out string) error {
		return api.RotateFile(in, out, degrees, nil, e.conf())
	})
}

// Serialize concatenates pages in order into one document.
func (e *Engine) Serialize(ctx context.Context, pages []Content) ([]byte, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("serialize: no pages")
	}
	dir, err := os.MkdirTemp(e.workDir, "pdfmerge-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	files := make([]string, len(pages))
	for i, p := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		files[i] = filepath.Join(dir, fmt.Sprintf("page-%06d.pdf", i))
		if err := os.WriteFile(files[i], p.Data, 0o600); err != nil {
			return nil, err
		}
	}
	if len(files) == 1 {
		return pages[0].Data, nil
	}
	out := filepath.Join(dir, "out.pdf")
	if err := api.MergeCreateFile(files, out, false, e.conf()); err != nil {
		return nil, fmt.Errorf("%w: merge: %v", ErrEngine, err)
	}
	return os.ReadFile(out)
}

// transform runs fn over c through a pair of temp files.
func (e *Engine) transform(ctx context.Context, c Content, fn func(in, out string) error) (Content, error) {
	if err := ctx.Err(); err != nil {
		return Content{}, err
	}
	in, err := e.writeTemp("pdfin-*.pdf", c.Data)
	if err != nil {
		return Content{}, err
	}
	defer os.Remove(in)
	out := e.tempPath("pdfout-*.pdf")
	if out == "" {
		return Content{}, fmt.Errorf("transform: cannot allocate temp file")
	}
	defer os.Remove(out)
	if err := fn(in, out); err != nil {
		return Content{}, fmt.Errorf("%w: %v", ErrEngine, err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		return Content{}, err
	}
	return Content{Data: data, Size: c.Size}, nil
}

func (e *Engine) writeTemp(pattern string, data []byte) (string, error) {
	f, err := os.CreateTemp(e.workDir, pattern)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// tempPath reserves a unique path and leaves no file behind, so pdfcpu can
// create it.
func (e *Engine) tempPath(pattern string) string {
	f, err := os.CreateTemp(e.workDir, pattern)
	if err != nil {
		return ""
	}
	name := f.Name()
	f.Close()
	_ = os.Remove(name)
	return name
}
