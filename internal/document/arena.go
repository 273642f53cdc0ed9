package document

import (
	"sync"

	"github.com/local/pagedesk/internal/pdfengine"
)

// ContentID addresses an immutable page snapshot in the Arena.
type ContentID uint64

// Arena stores page snapshots shared between documents. Entries are
// reference counted and dropped when the last page using them goes away.
type Arena struct {
	mu    sync.Mutex
	next  ContentID
	items map[ContentID]*arenaItem
	bytes int64
}

type arenaItem struct {
	content pdfengine.Content
	refs    int
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{items: make(map[ContentID]*arenaItem)}
}

// Put stores c with one reference and returns its id.
func (a *Arena) Put(c pdfengine.Content) ContentID {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	a.items[a.next] = &arenaItem{content: c, refs: 1}
	a.bytes += int64(len(c.Data))
	return a.next
}

// Get returns the snapshot for id.
func (a *Arena) Get(id ContentID) (pdfengine.Content, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	it, ok := a.items[id]
	if !ok {
		return pdfengine.Content{}, false
	}
	return it.content, true
}

// Retain adds a reference to every id.
func (a *Arena) Retain(ids ...ContentID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range ids {
		if it, ok := a.items[id]; ok {
			it.refs++
		}
	}
}

// Release drops a reference from every id, freeing unreferenced entries.
func (a *Arena) Release(ids ...ContentID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range ids {
		it, ok := a.items[id]
		if !ok {
			continue
		}
		it.refs--
		if it.refs <= 0 {
			a.bytes -= int64(len(it.content.Data))
			delete(a.items, id)
		}
	}
}

// Len returns the number of live snapshots.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.items)
}

// Bytes returns the total size of live snapshots.
func (a *Arena) Bytes() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bytes
}
