package rendercache

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineFailure matches every RenderError.
	ErrEngineFailure = errors.New("render engine failure")
	// ErrClosed is returned by a cache after Close.
	ErrClosed = errors.New("render cache closed")
)

// RenderError records why a background render failed. The slot stays
// Failed until Retry or a newer page version.
type RenderError struct {
	Key Key
	Err error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %v", e.Key, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

func (e *RenderError) Is(target error) bool { return target == ErrEngineFailure }
