package document

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/pagedesk/internal/filetype"
	"github.com/local/pagedesk/internal/pdfengine"
)

// EventKind distinguishes page events.
type EventKind int

const (
	// PageChanged announces a new version of a page (including new pages).
	PageChanged EventKind = iota + 1
	// PageRemoved announces that a page left its document.
	PageRemoved
)

// Event is emitted for every page-level change while the document lock is
// held, so listeners observe it before any reader can see the new state.
type Event struct {
	Kind    EventKind
	Doc     Handle
	Page    PageID
	Version uint64
}

// Listener consumes page events. Implementations must not call back into a
// Document and must return quickly.
type Listener interface {
	HandlePageEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) HandlePageEvent(ev Event) { f(ev) }

// Engine is the slice of the PDF engine the model needs to load documents.
type Engine interface {
	Open(ctx context.Context, data []byte) (*pdfengine.Source, error)
	ExtractAll(ctx context.Context, src *pdfengine.Source) ([]pdfengine.Content, error)
}

// Registry owns every open document and the content arena they share.
type Registry struct {
	engine Engine
	arena  *Arena
	pageID atomic.Uint64

	mu    sync.RWMutex
	docs  map[Handle]*Document
	order []Handle

	lmu       sync.RWMutex
	listeners []Listener
}

// NewRegistry creates a registry that loads documents with engine.
func NewRegistry(engine Engine) *Registry {
	return &Registry{
		engine: engine,
		arena:  NewArena(),
		docs:   make(map[Handle]*Document),
	}
}

// Arena returns the shared content arena.
func (r *Registry) Arena() *Arena { return r.arena }

// Subscribe registers l for page events of every document.
func (r *Registry) Subscribe(l Listener) {
	r.lmu.Lock()
	defer r.lmu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Registry) dispatch(ev Event) {
	r.lmu.RLock()
	defer r.lmu.RUnlock()
	for _, l := range r.listeners {
		l.HandlePageEvent(ev)
	}
}

func (r *Registry) nextPageID() PageID { return PageID(r.pageID.Add(1)) }

// Load parses data into a new Document.
func (r *Registry) Load(ctx context.Context, name string, data []byte) (*Document, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, &LoadError{Kind: LoadIO, Name: name, Err: err}
	}
	if len(data) == 0 {
		return nil, &LoadError{Kind: LoadCorrupt, Name: name, Err: errors.New("empty input")}
	}
	if ft := filetype.Detect(data); !ft.Supported() {
		return nil, &LoadError{Kind: LoadUnsupported, Name: name, Err: fmt.Errorf("content type %s", ft.MIMEType)}
	}

	src, err := r.engine.Open(ctx, data)
	if err != nil {
		return nil, loadFailure(ctx, name, err)
	}
	defer src.Close()
	if src.PageCount <= 0 {
		return nil, &LoadError{Kind: LoadCorrupt, Name: name, Err: errors.New("document has no pages")}
	}
	contents, err := r.engine.ExtractAll(ctx, src)
	if err != nil {
		return nil, loadFailure(ctx, name, err)
	}

	h := Handle(uuid.NewString())
	refs := make([]PageRef, len(contents))
	for i, c := range contents {
		sz := src.PageSize(i)
		refs[i] = PageRef{
			Content:     r.arena.Put(c),
			Source:      h,
			SourceIndex: i,
			Size:        Size{Width: sz.Width, Height: sz.Height},
		}
	}
	d := r.add(h, name, refs)
	log.Info().
		Str("doc", string(h)).
		Str("name", name).
		Int("pages", len(refs)).
		Dur("duration", time.Since(start)).
		Msg("document loaded")
	return d, nil
}

func loadFailure(ctx context.Context, name string, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &LoadError{Kind: LoadIO, Name: name, Err: err}
	}
	return &LoadError{Kind: LoadCorrupt, Name: name, Err: err}
}

// Compose registers a new document that takes over page snapshots obtained
// with Document.Borrow. Overlays and rotation are copied; pages get fresh
// identities.
func (r *Registry) Compose(name string, refs []PageRef) *Document {
	return r.add(Handle(uuid.NewString()), name, refs)
}

// Release returns content references taken by Document.Borrow.
func (r *Registry) Release(refs []PageRef) {
	ids := make([]ContentID, len(refs))
	for i, ref := range refs {
		ids[i] = ref.Content
	}
	r.arena.Release(ids...)
}

func (r *Registry) add(h Handle, name string, refs []PageRef) *Document {
	d := newDocument(r, h, name, refs)
	r.mu.Lock()
	r.docs[h] = d
	r.order = append(r.order, h)
	r.mu.Unlock()

	d.mu.Lock()
	for _, p := range d.pages {
		d.emit(Event{Kind: PageChanged, Doc: h, Page: p.ref.ID, Version: p.ref.Version})
	}
	d.mu.Unlock()
	return d
}

// Get looks up an open document.
func (r *Registry) Get(h Handle) (*Document, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.docs[h]
	return d, ok
}

// Lookup is Get with an error for unknown handles.
func (r *Registry) Lookup(h Handle) (*Document, error) {
	d, ok := r.Get(h)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, h)
	}
	return d, nil
}

// List returns open documents in the order they were opened.
func (r *Registry) List() []*Document {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Document, 0, len(r.order))
	for _, h := range r.order {
		out = append(out, r.docs[h])
	}
	return out
}

// Close closes and forgets document h. It reports false for unknown handles.
func (r *Registry) Close(h Handle) bool {
	r.mu.Lock()
	d, ok := r.docs[h]
	if ok {
		delete(r.docs, h)
		for i, o := range r.order {
			if o == h {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	d.close()
	log.Info().Str("doc", string(h)).Msg("document released")
	return true
}

// CloseAll closes every open document.
func (r *Registry) CloseAll() {
	for _, d := range r.List() {
		r.Close(d.Handle())
	}
}
