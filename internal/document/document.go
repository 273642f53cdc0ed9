// Package document holds the in-memory model of open documents: ordered page
// references, per-page transforms and overlays, and the version counters the
// render cache keys on.
package document

import (
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Handle identifies an open document.
type Handle string

// PageID identifies a page reference across all documents of a registry.
type PageID uint64

// PageRef is a snapshot of one page: where its content lives, how it is
// transformed and which overlays sit on it.
type PageRef struct {
	ID          PageID
	Content     ContentID
	Source      Handle
	SourceIndex int
	Size        Size
	Rotation    Rotation
	Version     uint64
	Overlays    []Overlay
}

func (p PageRef) clone() PageRef {
	if p.Overlays != nil {
		p.Overlays = append([]Overlay(nil), p.Overlays...)
	}
	return p
}

// Fingerprint digests the page's overlays.
func (p PageRef) Fingerprint() string { return Fingerprint(p.Overlays) }

type page struct {
	ref         PageRef
	nextOverlay OverlayID
}

// Document is one open editable unit. All methods are safe for concurrent
// use; mutations are serialized by the document mutex and become visible as
// a single step.
type Document struct {
	handle Handle
	name   string
	reg    *Registry

	mu       sync.RWMutex
	pages    []*page
	revision uint64
	closed   bool
}

func newDocument(reg *Registry, handle Handle, name string, refs []PageRef) *Document {
	d := &Document{handle: handle, name: name, reg: reg, revision: 1}
	d.pages = make([]*page, 0, len(refs))
	for _, r := range refs {
		d.pages = append(d.pages, d.adopt(r))
	}
	return d
}

// adopt turns a borrowed snapshot into a page owned by d.
func (d *Document) adopt(r PageRef) *page {
	r = r.clone()
	r.ID = d.reg.nextPageID()
	r.Version = 1
	p := &page{ref: r}
	for _, o := range r.Overlays {
		if o.ID > p.nextOverlay {
			p.nextOverlay = o.ID
		}
	}
	return p
}

// Handle returns the document identity.
func (d *Document) Handle() Handle { return d.handle }

// Name returns the display name.
func (d *Document) Name() string { return d.name }

// Revision returns the structural revision counter.
func (d *Document) Revision() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.revision
}

// Closed reports whether the document was closed.
func (d *Document) Closed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}

// PageCount returns the number of pages.
func (d *Document) PageCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.pages)
}

// Pages returns a snapshot of every page in order.
func (d *Document) Pages() []PageRef {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]PageRef, len(d.pages))
	for i, p := range d.pages {
		out[i] = p.ref.clone()
	}
	return out
}

// Range returns snapshots of pages [start, end).
func (d *Document) Range(start, end int) ([]PageRef, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if start < 0 || start >= end || end > len(d.pages) {
		return nil, invalidRange("range", start, end, len(d.pages))
	}
	out := make([]PageRef, 0, end-start)
	for _, p := range d.pages[start:end] {
		out = append(out, p.ref.clone())
	}
	return out, nil
}

// Borrow is Range plus one content reference per returned page, taken under
// the document lock so a concurrent delete cannot free the content first.
// The caller passes the refs to Registry.Compose or hands them back with
// Arena.Release.
func (d *Document) Borrow(start, end int) ([]PageRef, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, ErrClosed
	}
	if start < 0 || start >= end || end > len(d.pages) {
		return nil, invalidRange("borrow", start, end, len(d.pages))
	}
	out := make([]PageRef, 0, end-start)
	ids := make([]ContentID, 0, end-start)
	for _, p := range d.pages[start:end] {
		out = append(out, p.ref.clone())
		ids = append(ids, p.ref.Content)
	}
	d.reg.arena.Retain(ids...)
	return out, nil
}

// BorrowAll borrows every page in one step.
func (d *Document) BorrowAll() ([]PageRef, error) {
	d.mu.RLock()
	n := len(d.pages)
	d.mu.RUnlock()
	for {
		refs, err := d.Borrow(0, n)
		if err == nil || !errors.Is(err, ErrInvalidRange) {
			return refs, err
		}
		// A concurrent edit changed the count.
		m := d.PageCount()
		if m == n {
			return nil, err
		}
		n = m
	}
}

// Page returns a snapshot of page index.
func (d *Document) Page(index int) (PageRef, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if index < 0 || index >= len(d.pages) {
		return PageRef{}, outOfRange("page", index, len(d.pages))
	}
	return d.pages[index].ref.clone(), nil
}

// PageByID finds a page by identity and returns its snapshot and index.
func (d *Document) PageByID(id PageID) (PageRef, int, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for i, p := range d.pages {
		if p.ref.ID == id {
			return p.ref.clone(), i, true
		}
	}
	return PageRef{}, -1, false
}

// InsertAt inserts copies of refs before index (index == PageCount appends).
// The inserted pages get fresh identities and retain their content.
func (d *Document) InsertAt(index int, refs ...PageRef) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if index < 0 || index > len(d.pages) {
		return outOfRange("insert", index, len(d.pages)+1)
	}
	if len(refs) == 0 {
		return nil
	}
	added := make([]*page, 0, len(refs))
	ids := make([]ContentID, 0, len(refs))
	for _, r := range refs {
		added = append(added, d.adopt(r))
		ids = append(ids, r.Content)
	}
	d.reg.arena.Retain(ids...)

	next := make([]*page, 0, len(d.pages)+len(added))
	next = append(next, d.pages[:index]...)
	next = append(next, added...)
	next = append(next, d.pages[index:]...)
	d.pages = next
	d.revision++
	for _, p := range added {
		d.emit(Event{Kind: PageChanged, Doc: d.handle, Page: p.ref.ID, Version: p.ref.Version})
	}
	return nil
}

// RemoveAt deletes the pages at indices together with their overlays.
// Duplicate indices are ignored. It refuses to remove every page.
func (d *Document) RemoveAt(indices ...int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	set := make(map[int]struct{}, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(d.pages) {
			return outOfRange("delete", i, len(d.pages))
		}
		set[i] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	if len(set) >= len(d.pages) {
		return &StateError{Op: "delete", Kind: EmptyResult, Detail: "a document keeps at least one page"}
	}

	kept := make([]*page, 0, len(d.pages)-len(set))
	var removed []*page
	for i, p := range d.pages {
		if _, ok := set[i]; ok {
			removed = append(removed, p)
			continue
		}
		kept = append(kept, p)
	}
	d.pages = kept
	d.revision++
	ids := make([]ContentID, 0, len(removed))
	for _, p := range removed {
		ids = append(ids, p.ref.Content)
		d.emit(Event{Kind: PageRemoved, Doc: d.handle, Page: p.ref.ID, Version: p.ref.Version})
	}
	d.reg.arena.Release(ids...)
	return nil
}

// MoveRange moves count pages starting at start so that they begin at index
// to of the sequence that remains after taking them out. A to past the end
// appends. It reports whether the order changed.
func (d *Document) MoveRange(start, count, to int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false, ErrClosed
	}
	n := len(d.pages)
	if count <= 0 {
		return false, invalidRange("move", start, start+count, n)
	}
	if start < 0 || start >= n {
		return false, outOfRange("move", start, n)
	}
	if start+count > n {
		return false, outOfRange("move", start+count-1, n)
	}
	if to < 0 {
		return false, outOfRange("move", to, n-count+1)
	}
	if to > n-count {
		to = n - count
	}
	if to == start {
		return false, nil
	}

	moved := append([]*page(nil), d.pages[start:start+count]...)
	rest := make([]*page, 0, n-count)
	rest = append(rest, d.pages[:start]...)
	rest = append(rest, d.pages[start+count:]...)

	next := make([]*page, 0, n)
	next = append(next, rest[:to]...)
	next = append(next, moved...)
	next = append(next, rest[to:]...)
	d.pages = next
	d.revision++
	return true, nil
}

// SetRotation sets the rotation of page index.
func (d *Document) SetRotation(index int, r Rotation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if index < 0 || index >= len(d.pages) {
		return outOfRange("rotate", index, len(d.pages))
	}
	p := d.pages[index]
	p.ref.Rotation = r.Normalize()
	d.touch(p)
	d.revision++
	return nil
}

// Rotate advances every page in indices clockwise by 90 degrees. Either all
// pages turn or none does. Repeated indices turn once.
func (d *Document) Rotate(indices ...int) error { return d.RotateBy(Rotate90, indices...) }

// RotateBy adds by to the rotation of every page in indices, with the same
// all-or-nothing rule as Rotate. A zero turn changes nothing.
func (d *Document) RotateBy(by Rotation, indices ...int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	set := make(map[int]struct{}, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(d.pages) {
			return outOfRange("rotate", i, len(d.pages))
		}
		set[i] = struct{}{}
	}
	by = by.Normalize()
	if len(set) == 0 || by == Rotate0 {
		return nil
	}
	order := make([]int, 0, len(set))
	for i := range set {
		order = append(order, i)
	}
	sort.Ints(order)
	for _, i := range order {
		p := d.pages[i]
		p.ref.Rotation = (p.ref.Rotation + by).Normalize()
		d.touch(p)
	}
	d.revision++
	return nil
}

// touch bumps the page version and announces it. Callers hold d.mu.
func (d *Document) touch(p *page) {
	p.ref.Version++
	d.emit(Event{Kind: PageChanged, Doc: d.handle, Page: p.ref.ID, Version: p.ref.Version})
}

func (d *Document) emit(ev Event) {
	if d.reg != nil {
		d.reg.dispatch(ev)
	}
}

// close marks the document closed and releases every page.
func (d *Document) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	ids := make([]ContentID, 0, len(d.pages))
	for _, p := range d.pages {
		ids = append(ids, p.ref.Content)
		d.emit(Event{Kind: PageRemoved, Doc: d.handle, Page: p.ref.ID, Version: p.ref.Version})
	}
	d.reg.arena.Release(ids...)
	log.Debug().Str("doc", string(d.handle)).Int("pages", len(d.pages)).Msg("document closed")
	d.pages = nil
}
