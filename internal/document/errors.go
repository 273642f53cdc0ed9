package document

import (
	"errors"
	"fmt"
)

// Sentinels matched by the typed errors below through errors.Is.
var (
	ErrCorrupt        = errors.New("corrupt document")
	ErrUnsupported    = errors.New("unsupported document")
	ErrIO             = errors.New("document io failure")
	ErrOutOfRange     = errors.New("index out of range")
	ErrEmptyResult    = errors.New("document would have no pages")
	ErrEmptySelection = errors.New("empty selection")
	ErrInvalidRange   = errors.New("invalid page range")
	ErrClosed         = errors.New("document closed")
	ErrNotFound       = errors.New("document not found")
)

// LoadKind classifies a LoadError.
type LoadKind string

const (
	LoadCorrupt     LoadKind = "corrupt"
	LoadUnsupported LoadKind = "unsupported"
	LoadIO          LoadKind = "io"
)

// LoadError is returned when bytes cannot be turned into a Document.
type LoadError struct {
	Kind LoadKind
	Name string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("load %q: %s", e.Name, e.Kind)
	}
	return fmt.Sprintf("load %q: %s: %v", e.Name, e.Kind, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Is(target error) bool {
	switch e.Kind {
	case LoadCorrupt:
		return target == ErrCorrupt
	case LoadUnsupported:
		return target == ErrUnsupported
	case LoadIO:
		return target == ErrIO
	}
	return false
}

// IndexError reports an index outside the page (or overlay) sequence.
type IndexError struct {
	Op    string
	Index int
	Len   int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("%s: index %d out of range [0,%d)", e.Op, e.Index, e.Len)
}

func (e *IndexError) Is(target error) bool { return target == ErrOutOfRange }

// StateKind classifies a StateError.
type StateKind string

const (
	EmptyResult    StateKind = "empty_result"
	EmptySelection StateKind = "empty_selection"
	InvalidRange   StateKind = "invalid_range"
)

// StateError reports a call that is structurally valid but would break a
// model invariant. Nothing is mutated when it is returned.
type StateError struct {
	Op     string
	Kind   StateKind
	Detail string
}

func (e *StateError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Detail)
}

func (e *StateError) Is(target error) bool {
	switch e.Kind {
	case EmptyResult:
		return target == ErrEmptyResult
	case EmptySelection:
		return target == ErrEmptySelection
	case InvalidRange:
		return target == ErrInvalidRange
	}
	return false
}

func outOfRange(op string, index, n int) error {
	return &IndexError{Op: op, Index: index, Len: n}
}

func invalidRange(op string, start, end, n int) error {
	return &StateError{Op: op, Kind: InvalidRange, Detail: fmt.Sprintf("[%d,%d) of %d pages", start, end, n)}
}

// IsStructural reports whether err is a caller mistake (index or state error).
func IsStructural(err error) bool {
	var ie *IndexError
	var se *StateError
	return errors.As(err, &ie) || errors.As(err, &se)
}
