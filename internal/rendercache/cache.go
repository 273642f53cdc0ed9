// Package rendercache serves page thumbnails without blocking edits. A
// request returns at once with either a finished raster or a placeholder,
// and a bounded worker pool renders the missing ones. Results for a page
// version that has been superseded are dropped, never published.
package rendercache

import (
	"container/list"
	"context"
	"fmt"
	"image"
	"math"
	"sync"
	"time"

	"github.com/local/pagedesk/internal/document"
	"github.com/local/pagedesk/internal/imagerender"
	"github.com/local/pagedesk/internal/metrics"
	"github.com/local/pagedesk/internal/pdfengine"
)

// State of a cache slot.
type State int

const (
	Absent State = iota
	Pending
	Ready
	Stale
	Failed
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Stale:
		return "stale"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Key identifies one raster. Scale is stored in hundredths.
type Key struct {
	Doc         document.Handle
	Page        document.PageID
	Version     uint64
	Rotation    document.Rotation
	Fingerprint string
	Scale       int
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d:%d:%d:%s:%d", k.Doc, k.Page, k.Version, int(k.Rotation), k.Fingerprint, k.Scale)
}

// ScaleFactor returns the scale as a float.
func (k Key) ScaleFactor() float64 { return float64(k.Scale) / 100 }

// Quantize rounds a scale to the nearest hundredth, with a floor of 0.01.
func Quantize(scale float64) int {
	q := int(math.Round(scale * 100))
	if q < 1 {
		q = 1
	}
	return q
}

// KeyFor builds the cache key of a page snapshot at scale.
func KeyFor(doc document.Handle, ref document.PageRef, scale float64) Key {
	return Key{
		Doc:         doc,
		Page:        ref.ID,
		Version:     ref.Version,
		Rotation:    ref.Rotation,
		Fingerprint: ref.Fingerprint(),
		Scale:       Quantize(scale),
	}
}

// Result is the immediate answer to Request. Image is shared with the
// cache and must not be modified.
type Result struct {
	Key   Key
	State State
	Image *image.RGBA
	// Placeholder is true when Image is a grey stand-in.
	Placeholder bool
	// Outdated is true when Image is the last good raster of an earlier
	// key, kept until its replacement publishes.
	Outdated bool
	Err      error
}

// Rasterizer renders single-page content to pixels.
type Rasterizer interface {
	Rasterize(ctx context.Context, c pdfengine.Content, scale float64) (*image.RGBA, error)
}

// Stamps resolves stamp kinds to decoded images.
type Stamps interface {
	Image(kind document.StampKind) (image.Image, error)
}

// PreviewStore is an optional second tier holding PNG-encoded previews.
type PreviewStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, data []byte) error
}

// Options configures a Cache.
type Options struct {
	Workers    int
	MaxBytes   int64
	MaxEntries int
	Stamps     Stamps
	Store      PreviewStore
	// StoreTimeout bounds each preview tier call.
	StoreTimeout time.Duration
	// OnReady is called, without locks held, after a raster is published.
	OnReady func(Key)
}

type pageKey struct {
	doc  document.Handle
	page document.PageID
}

type slotID struct {
	pageKey
	scale int
}

type slot struct {
	id    slotID
	key   Key
	state State
	img   *image.RGBA
	err   error
	size  int64
	gen   uint64
	elem  *list.Element
}

// Cache maps page snapshots to rasters.
type Cache struct {
	reg     *document.Registry
	raster  Rasterizer
	stamps  Stamps
	store   PreviewStore
	storeTO time.Duration
	onReady func(Key)
	workers int

	maxBytes   int64
	maxEntries int

	mu       sync.Mutex
	slots    map[slotID]*slot
	byPage   map[pageKey]map[slotID]struct{}
	latest   map[pageKey]uint64
	visible  map[document.Handle]map[document.PageID]struct{}
	lru      *list.List
	bytes    int64
	jobs     []job
	inflight int
	gen      uint64
	closed   bool

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a cache for the documents of reg and subscribes it to their
// page events. Call Start to run the workers.
func New(reg *document.Registry, raster Rasterizer, opts Options) *Cache {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 2 * time.Second
	}
	c := &Cache{
		reg:        reg,
		raster:     raster,
		stamps:     opts.Stamps,
		store:      opts.Store,
		storeTO:    opts.StoreTimeout,
		onReady:    opts.OnReady,
		workers:    opts.Workers,
		maxBytes:   opts.MaxBytes,
		maxEntries: opts.MaxEntries,
		slots:      make(map[slotID]*slot),
		byPage:     make(map[pageKey]map[slotID]struct{}),
		latest:     make(map[pageKey]uint64),
		visible:    make(map[document.Handle]map[document.PageID]struct{}),
		lru:        list.New(),
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}
	reg.Subscribe(c)
	return c
}

// Request returns the raster for page index of doc at scale if it is cached
// for the page's current state, or a placeholder otherwise. A render is
// queued for a missing or stale slot; a Failed slot stays failed.
func (c *Cache) Request(doc *document.Document, index int, scale float64) (Result, error) {
	for {
		ref, err := doc.Page(index)
		if err != nil {
			return Result{}, err
		}
		key := KeyFor(doc.Handle(), ref, scale)
		res, retry, err := c.lookup(key, ref)
		if err != nil || !retry {
			return res, err
		}
		// The page was edited between the snapshot and the lookup.
	}
}

func (c *Cache) lookup(key Key, ref document.PageRef) (Result, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Result{}, false, ErrClosed
	}
	pk := pageKey{key.Doc, key.Page}
	if v, ok := c.latest[pk]; ok && key.Version < v {
		return Result{}, true, nil
	}
	id := slotID{pk, key.Scale}
	s := c.slots[id]
	if s != nil && s.key == key {
		switch s.state {
		case Ready:
			c.lru.MoveToFront(s.elem)
			metrics.IncLookup("hit")
			return Result{Key: key, State: Ready, Image: s.img}, false, nil
		case Pending:
			metrics.IncLookup("pending")
			return c.placeholder(s, key, ref, Pending, nil), false, nil
		case Failed:
			metrics.IncLookup("failed")
			return c.placeholder(s, key, ref, Failed, s.err), false, nil
		}
	}
	metrics.IncLookup("miss")
	if s == nil {
		s = &slot{id: id}
		c.slots[id] = s
		set := c.byPage[pk]
		if set == nil {
			set = make(map[slotID]struct{})
			c.byPage[pk] = set
		}
		set[id] = struct{}{}
	}
	c.enqueueLocked(s, key, ref)
	return c.placeholder(s, key, ref, Pending, nil), false, nil
}

// placeholder answers for a slot without a current raster: the slot's last
// good raster when it still has one, a grey tile otherwise.
func (c *Cache) placeholder(s *slot, key Key, ref document.PageRef, st State, err error) Result {
	if s != nil && s.img != nil {
		return Result{Key: key, State: st, Image: s.img, Outdated: true, Err: err}
	}
	w := ref.Size.Width * key.ScaleFactor()
	h := ref.Size.Height * key.ScaleFactor()
	if ref.Rotation == document.Rotate90 || ref.Rotation == document.Rotate270 {
		w, h = h, w
	}
	return Result{
		Key:         key,
		State:       st,
		Image:       imagerender.Placeholder(int(w+0.5), int(h+0.5)),
		Placeholder: true,
		Err:         err,
	}
}

// Retry clears a Failed slot and requests the page again.
func (c *Cache) Retry(doc *document.Document, index int, scale float64) (Result, error) {
	ref, err := doc.Page(index)
	if err != nil {
		return Result{}, err
	}
	id := slotID{pageKey{doc.Handle(), ref.ID}, Quantize(scale)}
	c.mu.Lock()
	if s := c.slots[id]; s != nil && s.state == Failed {
		s.state, s.err = Absent, nil
		s.key = Key{}
	}
	c.mu.Unlock()
	return c.Request(doc, index, scale)
}

// Peek reports the slot state of a page at scale without queueing work.
func (c *Cache) Peek(doc document.Handle, page document.PageID, scale float64) (State, Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.slots[slotID{pageKey{doc, page}, Quantize(scale)}]
	if s == nil {
		return Absent, Key{}
	}
	return s.state, s.key
}

// SetVisible pins the given pages of doc against eviction, replacing the
// previous set for doc.
func (c *Cache) SetVisible(doc document.Handle, pages []document.PageID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(pages) == 0 {
		delete(c.visible, doc)
	} else {
		set := make(map[document.PageID]struct{}, len(pages))
		for _, p := range pages {
			set[p] = struct{}{}
		}
		c.visible[doc] = set
	}
	c.evictLocked()
}

// Stats summarises the resident set.
type Stats struct {
	Entries int
	Bytes   int64
	Queued  int
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Entries: c.lru.Len(), Bytes: c.bytes, Queued: len(c.jobs)}
}

// HandlePageEvent keeps slots in step with the model. It runs under the
// document lock and only touches cache state.
func (c *Cache) HandlePageEvent(ev document.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pk := pageKey{ev.Doc, ev.Page}
	switch ev.Kind {
	case document.PageChanged:
		if ev.Version > c.latest[pk] {
			c.latest[pk] = ev.Version
		}
		for id := range c.byPage[pk] {
			s := c.slots[id]
			if s.key.Version >= ev.Version {
				continue
			}
			switch s.state {
			case Ready, Pending, Failed:
				// The raster stays as the last good one.
				s.state, s.err = Stale, nil
				s.gen = 0
			}
		}
	case document.PageRemoved:
		for id := range c.byPage[pk] {
			c.removeLocked(c.slots[id])
		}
		delete(c.byPage, pk)
		delete(c.latest, pk)
		if set := c.visible[ev.Doc]; set != nil {
			delete(set, ev.Page)
		}
	}
}

func (c *Cache) dropImageLocked(s *slot) {
	if s.elem != nil {
		c.lru.Remove(s.elem)
		s.elem = nil
		c.bytes -= s.size
		metrics.SetResidentBytes(c.bytes)
	}
	s.img, s.size = nil, 0
}

func (c *Cache) removeLocked(s *slot) {
	if s == nil {
		return
	}
	c.dropImageLocked(s)
	delete(c.slots, s.id)
	if set := c.byPage[s.id.pageKey]; set != nil {
		delete(set, s.id)
	}
}

func (c *Cache) publishLocked(s *slot, img *image.RGBA) {
	c.dropImageLocked(s)
	s.state, s.err, s.img = Ready, nil, img
	s.size = int64(len(img.Pix))
	s.elem = c.lru.PushFront(s)
	c.bytes += s.size
	metrics.SetResidentBytes(c.bytes)
	c.evictLocked()
}

func (c *Cache) isVisible(id slotID) bool {
	_, ok := c.visible[id.doc][id.page]
	return ok
}

// evictLocked drops least recently used rasters, skipping visible pages,
// until both bounds hold or only visible entries remain. Ready slots go
// entirely; slots waiting on a replacement lose only their old raster.
func (c *Cache) evictLocked() {
	over := func() bool {
		return (c.maxBytes > 0 && c.bytes > c.maxBytes) || (c.maxEntries > 0 && c.lru.Len() > c.maxEntries)
	}
	for e := c.lru.Back(); e != nil && over(); {
		prev := e.Prev()
		s := e.Value.(*slot)
		if !c.isVisible(s.id) {
			if s.state == Ready {
				c.removeLocked(s)
			} else {
				c.dropImageLocked(s)
			}
			metrics.IncEviction()
		}
		e = prev
	}
}

// WaitIdle blocks until no render is queued or running, or ctx ends.
func (c *Cache) WaitIdle(ctx context.Context) error {
	t := time.NewTicker(2 * time.Millisecond)
	defer t.Stop()
	for {
		c.mu.Lock()
		idle := len(c.jobs) == 0 && c.inflight == 0
		c.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
