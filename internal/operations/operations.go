// Package operations implements the editing commands over the document
// model: in-place reorder, delete and rotate, plus merge and split, which
// always produce a new document and never touch their sources.
package operations

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/local/pagedesk/internal/document"
	"github.com/local/pagedesk/internal/metrics"
)

// Selection names the half-open page range [Start, End) of a document.
type Selection struct {
	Doc   document.Handle `json:"doc"`
	Start int             `json:"start"`
	End   int             `json:"end"`
}

// Reorder moves count pages starting at start so that they begin at to in
// the sequence left after removing them. A to past the end appends; moving
// a range onto itself changes nothing. It reports whether the order changed.
func Reorder(doc *document.Document, start, count, to int) (bool, error) {
	changed, err := doc.MoveRange(start, count, to)
	metrics.IncOperation("reorder", err)
	if err != nil {
		return false, err
	}
	if changed {
		log.Debug().Str("doc", string(doc.Handle())).Int("start", start).Int("count", count).Int("to", to).Msg("pages reordered")
	}
	return changed, nil
}

// Delete removes the pages at indices together with their overlays.
func Delete(doc *document.Document, indices ...int) error {
	err := doc.RemoveAt(indices...)
	metrics.IncOperation("delete", err)
	if err != nil {
		return err
	}
	log.Debug().Str("doc", string(doc.Handle())).Ints("pages", indices).Msg("pages deleted")
	return nil
}

// Rotate turns every page in indices clockwise by 90 degrees.
func Rotate(doc *document.Document, indices ...int) error {
	err := doc.Rotate(indices...)
	metrics.IncOperation("rotate", err)
	return err
}

// RotateBy turns the pages by degrees, a multiple of 90 that may be
// negative. Pages turn together or not at all.
func RotateBy(doc *document.Document, degrees int, indices ...int) error {
	var err error
	if degrees%90 != 0 {
		err = &document.StateError{Op: "rotate", Kind: document.InvalidRange, Detail: fmt.Sprintf("%d is not a multiple of 90", degrees)}
	} else {
		err = doc.RotateBy(document.Rotation(degrees), indices...)
	}
	metrics.IncOperation("rotate", err)
	return err
}

// Merge builds a new document from the selections in order. Each source is
// copied under its own lock, which is released before the next source is
// read. Overlays and rotation are carried over; later edits to a source do
// not reach the merged document.
func Merge(reg *document.Registry, name string, selections []Selection) (*document.Document, error) {
	doc, err := merge(reg, name, selections)
	metrics.IncOperation("merge", err)
	return doc, err
}

func merge(reg *document.Registry, name string, selections []Selection) (*document.Document, error) {
	if len(selections) == 0 {
		return nil, &document.StateError{Op: "merge", Kind: document.EmptySelection, Detail: "no page ranges given"}
	}
	var refs []document.PageRef
	for i, sel := range selections {
		src, err := reg.Lookup(sel.Doc)
		if err == nil {
			var part []document.PageRef
			part, err = src.Borrow(sel.Start, sel.End)
			refs = append(refs, part...)
		}
		if err != nil {
			reg.Release(refs)
			return nil, fmt.Errorf("merge selection %d: %w", i, err)
		}
	}
	if name == "" {
		name = "merged.pdf"
	}
	doc := reg.Compose(name, refs)
	log.Info().
		Str("doc", string(doc.Handle())).
		Int("selections", len(selections)).
		Int("pages", len(refs)).
		Msg("documents merged")
	return doc, nil
}

// MergeAll merges every page of each document in order.
func MergeAll(reg *document.Registry, name string, docs ...*document.Document) (*document.Document, error) {
	sels := make([]Selection, 0, len(docs))
	for _, d := range docs {
		sels = append(sels, Selection{Doc: d.Handle(), Start: 0, End: d.PageCount()})
	}
	return Merge(reg, name, sels)
}

// Split copies pages [start, end) of doc into a new document.
func Split(reg *document.Registry, doc *document.Document, start, end int) (*document.Document, error) {
	refs, err := doc.Borrow(start, end)
	if err != nil {
		if errors.Is(err, document.ErrInvalidRange) {
			err = &document.StateError{Op: "split", Kind: document.InvalidRange, Detail: fmt.Sprintf("[%d,%d) of %d pages", start, end, doc.PageCount())}
		}
		metrics.IncOperation("split", err)
		return nil, err
	}
	out := reg.Compose(fmt.Sprintf("%s (pages %d-%d)", doc.Name(), start+1, end), refs)
	metrics.IncOperation("split", nil)
	log.Info().
		Str("doc", string(out.Handle())).
		Str("source", string(doc.Handle())).
		Int("start", start).
		Int("end", end).
		Msg("document split")
	return out, nil
}

// Insert copies the pages of sel into dst before index at.
func Insert(reg *document.Registry, dst *document.Document, at int, sel Selection) error {
	src, err := reg.Lookup(sel.Doc)
	if err != nil {
		return err
	}
	refs, err := src.Borrow(sel.Start, sel.End)
	if err != nil {
		metrics.IncOperation("insert", err)
		return err
	}
	// InsertAt takes its own references; the borrowed ones go back either way.
	defer reg.Release(refs)
	err = dst.InsertAt(at, refs...)
	metrics.IncOperation("insert", err)
	return err
}
