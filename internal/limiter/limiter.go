package limiter

import (
	"context"
	"strings"
	"sync"
)

// Slots bounds in-process concurrency per key (for example one key per
// export destination).
type Slots struct {
	max int
	mu  sync.Mutex
	sem map[string]chan struct{}
}

// New creates a limiter allowing max concurrent holders per key.
func New(max int) *Slots {
	if max <= 0 {
		max = 2
	}
	return &Slots{max: max, sem: map[string]chan struct{}{}}
}

func (s *Slots) slot(key string) chan struct{} {
	key = strings.ToLower(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.sem[key]
	if !ok {
		ch = make(chan struct{}, s.max)
		s.sem[key] = ch
	}
	return ch
}

// Allow tries to reserve a slot for key without waiting.
// Returns a release function and true if allowed; otherwise a no-op, false.
func (s *Slots) Allow(key string) (func(), bool) {
	ch := s.slot(key)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, true
	default:
		return func() {}, false
	}
}

// Acquire waits for a slot for key or for ctx to end.
func (s *Slots) Acquire(ctx context.Context, key string) (func(), error) {
	ch := s.slot(key)
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	}
}

// InUse reports how many slots of key are held.
func (s *Slots) InUse(key string) int { return len(s.slot(key)) }
