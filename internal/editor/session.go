// Package editor wires the document model, render cache, exporter and
// source loader into one editing session.
package editor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pagedesk/internal/assets"
	"github.com/local/pagedesk/internal/config"
	"github.com/local/pagedesk/internal/document"
	"github.com/local/pagedesk/internal/exporter"
	"github.com/local/pagedesk/internal/metrics"
	"github.com/local/pagedesk/internal/operations"
	"github.com/local/pagedesk/internal/rendercache"
	"github.com/local/pagedesk/internal/source"
)

// Engine is the PDF engine a session runs on.
type Engine interface {
	document.Engine
	exporter.Engine
}

// ObjectStore is S3 access for both loading and exporting.
type ObjectStore interface {
	source.Downloader
	exporter.Uploader
}

// forgetter is implemented by preview stores that can drop a document's
// entries.
type forgetter interface {
	Forget(ctx context.Context, docPrefix string) error
}

// Deps collects what a Session needs. Preview and S3 are optional.
type Deps struct {
	Engine     Engine
	Rasterizer rendercache.Rasterizer
	Stamps     *assets.Library
	Preview    rendercache.PreviewStore
	S3         ObjectStore
	Render     config.RenderConfig
	Storage    config.StorageConfig
	// MaxFetchBytes caps documents fetched by reference.
	MaxFetchBytes int64
	OnReady       func(rendercache.Key)
}

// Session owns every open document and the services around them.
type Session struct {
	Registry *document.Registry
	Cache    *rendercache.Cache
	Exporter *exporter.Exporter
	Loader   *source.Loader
	Stamps   *assets.Library

	preview      rendercache.PreviewStore
	defaultScale float64
}

// New creates a session and starts its render workers.
func New(d Deps) *Session {
	stamps := d.Stamps
	if stamps == nil {
		stamps = assets.NewLibrary("")
	}
	reg := document.NewRegistry(d.Engine)

	cacheOpts := rendercache.Options{
		Workers:    d.Render.Workers,
		MaxBytes:   d.Render.MaxBytes,
		MaxEntries: d.Render.MaxEntries,
		Stamps:     stamps,
		Store:      d.Preview,
		OnReady:    d.OnReady,
	}
	exOpts := exporter.Options{
		Stamps:    stamps,
		Dir:       d.Storage.ExportDir,
		Confine:   d.Storage.ConfineExports,
		Versioned: true,
	}
	srcOpts := source.Options{Timeout: d.Storage.HTTPTimeout, MaxBytes: d.MaxFetchBytes, Root: d.Storage.ImportRoot}
	if d.S3 != nil {
		exOpts.S3 = d.S3
		srcOpts.S3 = d.S3
	}

	s := &Session{
		Registry:     reg,
		Cache:        rendercache.New(reg, d.Rasterizer, cacheOpts),
		Exporter:     exporter.New(reg, d.Engine, exOpts),
		Loader:       source.New(srcOpts),
		Stamps:       stamps,
		preview:      d.Preview,
		defaultScale: d.Render.DefaultScale,
	}
	if s.defaultScale <= 0 {
		s.defaultScale = 0.25
	}
	s.Cache.Start()
	return s
}

// Open loads a document from bytes.
func (s *Session) Open(ctx context.Context, name string, data []byte) (*document.Document, error) {
	start := time.Now()
	doc, err := s.Registry.Load(ctx, name, data)
	if err != nil {
		return nil, err
	}
	s.syncGauge()
	log.Info().Str("doc", string(doc.Handle())).Str("name", name).Int("pages", doc.PageCount()).Dur("took", time.Since(start)).Msg("document opened")
	return doc, nil
}

// OpenRef fetches ref with the source loader and opens it.
func (s *Session) OpenRef(ctx context.Context, ref string) (*document.Document, error) {
	data, name, err := s.Loader.Fetch(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.Open(ctx, name, data)
}

// OpenFolder opens every PDF in dir. Files that fail to load are skipped
// and reported together in the returned error.
func (s *Session) OpenFolder(ctx context.Context, dir string) ([]*document.Document, error) {
	paths, err := s.Loader.ListFolder(dir)
	if err != nil {
		return nil, err
	}
	var (
		docs []*document.Document
		errs []error
	)
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		doc, err := s.OpenRef(ctx, p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, errors.Join(errs...)
}

// Document looks up an open document.
func (s *Session) Document(h document.Handle) (*document.Document, error) {
	return s.Registry.Lookup(h)
}

// Close closes document h and drops its previews.
func (s *Session) Close(h document.Handle) error {
	if !s.Registry.Close(h) {
		return fmt.Errorf("%w: %s", document.ErrNotFound, h)
	}
	s.Cache.SetVisible(h, nil)
	s.syncGauge()
	if f, ok := s.preview.(forgetter); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := f.Forget(ctx, string(h)+":"); err != nil {
			log.Warn().Err(err).Str("doc", string(h)).Msg("failed to drop stored previews")
		}
	}
	return nil
}

// Merge builds a new document from selections.
func (s *Session) Merge(name string, sels []operations.Selection) (*document.Document, error) {
	doc, err := operations.Merge(s.Registry, name, sels)
	if err == nil {
		s.syncGauge()
	}
	return doc, err
}

// MergeDocuments merges every page of the given documents in order.
func (s *Session) MergeDocuments(name string, handles []document.Handle) (*document.Document, error) {
	docs := make([]*document.Document, 0, len(handles))
	for _, h := range handles {
		d, err := s.Registry.Lookup(h)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	doc, err := operations.MergeAll(s.Registry, name, docs...)
	if err == nil {
		s.syncGauge()
	}
	return doc, err
}

// Split copies pages [start, end) of h into a new document.
func (s *Session) Split(h document.Handle, start, end int) (*document.Document, error) {
	doc, err := s.Registry.Lookup(h)
	if err != nil {
		return nil, err
	}
	out, err := operations.Split(s.Registry, doc, start, end)
	if err == nil {
		s.syncGauge()
	}
	return out, err
}

// Thumbnail requests page index of h. A zero scale uses the configured
// default.
func (s *Session) Thumbnail(h document.Handle, index int, scale float64) (rendercache.Result, error) {
	doc, err := s.Registry.Lookup(h)
	if err != nil {
		return rendercache.Result{}, err
	}
	if scale <= 0 {
		scale = s.defaultScale
	}
	return s.Cache.Request(doc, index, scale)
}

// RetryThumbnail clears a failed render and requests it again.
func (s *Session) RetryThumbnail(h document.Handle, index int, scale float64) (rendercache.Result, error) {
	doc, err := s.Registry.Lookup(h)
	if err != nil {
		return rendercache.Result{}, err
	}
	if scale <= 0 {
		scale = s.defaultScale
	}
	return s.Cache.Retry(doc, index, scale)
}

// SetVisible pins pages of h, given by index, against eviction.
func (s *Session) SetVisible(h document.Handle, indices []int) error {
	doc, err := s.Registry.Lookup(h)
	if err != nil {
		return err
	}
	ids := make([]document.PageID, 0, len(indices))
	for _, i := range indices {
		p, err := doc.Page(i)
		if err != nil {
			return err
		}
		ids = append(ids, p.ID)
	}
	s.Cache.SetVisible(h, ids)
	return nil
}

// Export flattens h and writes it to dest.
func (s *Session) Export(ctx context.Context, h document.Handle, dest string) (exporter.Result, error) {
	doc, err := s.Registry.Lookup(h)
	if err != nil {
		return exporter.Result{}, err
	}
	return s.Exporter.Export(ctx, doc, dest)
}

// DefaultScale is the thumbnail scale used when none is given.
func (s *Session) DefaultScale() float64 { return s.defaultScale }

// Shutdown stops the render workers and closes every document.
func (s *Session) Shutdown() {
	s.Cache.Close()
	s.Registry.CloseAll()
	s.syncGauge()
	log.Info().Msg("editor session closed")
}

func (s *Session) syncGauge() {
	metrics.SetOpenDocuments(len(s.Registry.List()))
}
