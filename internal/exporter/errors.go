package exporter

import (
	"errors"
	"fmt"
)

var (
	ErrEngineFailure = errors.New("export engine failure")
	ErrIO            = errors.New("export io failure")
)

// Kind classifies an ExportError.
type Kind string

const (
	EngineFailure Kind = "engine_failure"
	IO            Kind = "io"
)

// ExportError is returned by Flatten and Export.
type ExportError struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *ExportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("export: %s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("export: %s: %s: %v", e.Kind, e.Reason, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }

func (e *ExportError) Is(target error) bool {
	switch e.Kind {
	case EngineFailure:
		return target == ErrEngineFailure
	case IO:
		return target == ErrIO
	}
	return false
}

func engineErr(reason string, err error) error {
	return &ExportError{Kind: EngineFailure, Reason: reason, Err: err}
}

func ioErr(reason string, err error) error {
	return &ExportError{Kind: IO, Reason: reason, Err: err}
}
