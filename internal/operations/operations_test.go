package operations

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/local/pagedesk/internal/document"
	"github.com/local/pagedesk/internal/pdftest"
)

func setup(t *testing.T) *document.Registry {
	t.Helper()
	return document.NewRegistry(pdftest.New())
}

func load(t *testing.T, reg *document.Registry, label string, n int) *document.Document {
	t.Helper()
	d, err := reg.Load(context.Background(), label+".pdf", pdftest.Doc(label, n))
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func content(t *testing.T, reg *document.Registry, p document.PageRef) []byte {
	t.Helper()
	c, ok := reg.Arena().Get(p.Content)
	if !ok {
		t.Fatalf("page %d has no content", p.ID)
	}
	return c.Data
}

func TestSplitIsByteIdentical(t *testing.T) {
	reg := setup(t)
	doc := load(t, reg, "a", 7)
	if _, err := AddOverlay(doc, 3, document.NewStamp(document.Draft, 5, 5)); err != nil {
		t.Fatal(err)
	}
	if err := Rotate(doc, 4); err != nil {
		t.Fatal(err)
	}
	want := doc.Pages()[2:5]

	out, err := Split(reg, doc, 2, 5)
	if err != nil {
		t.Fatal(err)
	}
	got := out.Pages()
	if len(got) != 3 {
		t.Fatalf("split has %d pages", len(got))
	}
	for i := range got {
		if !bytes.Equal(content(t, reg, got[i]), content(t, reg, want[i])) {
			t.Errorf("page %d content differs", i)
		}
		if got[i].Rotation != want[i].Rotation || got[i].Fingerprint() != want[i].Fingerprint() {
			t.Errorf("page %d transform or overlays differ", i)
		}
		if got[i].ID == want[i].ID {
			t.Errorf("page %d shares identity with its source", i)
		}
	}
	if doc.PageCount() != 7 {
		t.Fatalf("split mutated the source")
	}
}

func TestSplitInvalidRange(t *testing.T) {
	reg := setup(t)
	doc := load(t, reg, "a", 4)
	for _, r := range [][2]int{{2, 2}, {3, 1}, {-1, 2}, {0, 5}} {
		if _, err := Split(reg, doc, r[0], r[1]); !errors.Is(err, document.ErrInvalidRange) {
			t.Errorf("split %v: expected InvalidRange, got %v", r, err)
		}
	}
	if len(reg.List()) != 1 {
		t.Fatalf("failed splits registered documents")
	}
}

func TestMergeDoesNotAlias(t *testing.T) {
	reg := setup(t)
	a := load(t, reg, "a", 4)
	b := load(t, reg, "b", 3)
	if _, err := AddOverlay(a, 1, document.NewText("note", 10, 10, 0)); err != nil {
		t.Fatal(err)
	}

	merged, err := Merge(reg, "m.pdf", []Selection{{Doc: a.Handle(), Start: 0, End: 3}, {Doc: b.Handle(), Start: 1, End: 2}})
	if err != nil {
		t.Fatal(err)
	}
	before := merged.Pages()
	if len(before) != 4 {
		t.Fatalf("merged has %d pages", len(before))
	}
	if before[3].Source != b.Handle() || before[3].SourceIndex != 1 {
		t.Fatalf("last page provenance = %s/%d", before[3].Source, before[3].SourceIndex)
	}
	if len(before[1].Overlays) != 1 {
		t.Fatalf("overlay not carried into merge")
	}
	snap := make([][]byte, len(before))
	for i, p := range before {
		snap[i] = append([]byte(nil), content(t, reg, p)...)
	}

	// Hammer the source afterwards.
	if err := Rotate(a, 0, 1, 2); err != nil {
		t.Fatal(err)
	}
	if _, err := AddOverlay(a, 0, document.NewStamp(document.Rejected, 1, 1)); err != nil {
		t.Fatal(err)
	}
	list, _ := a.Overlays(1)
	if err := MoveOverlay(a, 1, list[0].ID, document.Rect{X: 99, Y: 99, W: 10, H: 10}); err != nil {
		t.Fatal(err)
	}
	if err := Delete(a, 2); err != nil {
		t.Fatal(err)
	}
	if _, err := Reorder(a, 0, 1, 2); err != nil {
		t.Fatal(err)
	}
	reg.Close(a.Handle())

	after := merged.Pages()
	for i := range before {
		if after[i].Rotation != before[i].Rotation {
			t.Errorf("page %d rotation changed", i)
		}
		if after[i].Fingerprint() != before[i].Fingerprint() {
			t.Errorf("page %d overlays changed", i)
		}
		if !bytes.Equal(content(t, reg, after[i]), snap[i]) {
			t.Errorf("page %d content changed", i)
		}
	}
	if b.PageCount() != 3 {
		t.Fatalf("merge mutated a source")
	}
}

func TestMergeErrors(t *testing.T) {
	reg := setup(t)
	a := load(t, reg, "a", 2)
	arena := reg.Arena().Len()

	if _, err := Merge(reg, "", nil); !errors.Is(err, document.ErrEmptySelection) {
		t.Fatalf("expected EmptySelection, got %v", err)
	}
	_, err := Merge(reg, "", []Selection{{Doc: a.Handle(), Start: 0, End: 2}, {Doc: a.Handle(), Start: 1, End: 5}})
	if !errors.Is(err, document.ErrInvalidRange) {
		t.Fatalf("expected InvalidRange, got %v", err)
	}
	if _, err := Merge(reg, "", []Selection{{Doc: "nope", Start: 0, End: 1}}); !errors.Is(err, document.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if reg.Arena().Len() != arena || len(reg.List()) != 1 {
		t.Fatalf("failed merge leaked state")
	}
	reg.Close(a.Handle())
	if reg.Arena().Len() != 0 {
		t.Fatalf("borrowed references were not returned: %d live", reg.Arena().Len())
	}
}

func TestMergeAll(t *testing.T) {
	reg := setup(t)
	a := load(t, reg, "a", 2)
	b := load(t, reg, "b", 3)
	m, err := MergeAll(reg, "", a, b)
	if err != nil {
		t.Fatal(err)
	}
	if m.PageCount() != 5 || m.Name() != "merged.pdf" {
		t.Fatalf("merged %q has %d pages", m.Name(), m.PageCount())
	}
}

func TestReorderOntoItselfIsNoop(t *testing.T) {
	reg := setup(t)
	doc := load(t, reg, "a", 6)
	before := doc.Pages()
	rev := doc.Revision()
	for start := 0; start < 5; start++ {
		changed, err := Reorder(doc, start, 2, start)
		if err != nil {
			t.Fatal(err)
		}
		if changed {
			t.Fatalf("reorder onto %d reported a change", start)
		}
	}
	if doc.Revision() != rev {
		t.Fatalf("revision changed")
	}
	after := doc.Pages()
	for i := range before {
		if before[i].ID != after[i].ID || before[i].Version != after[i].Version {
			t.Fatalf("page %d changed", i)
		}
	}
}

func TestReorderKeepsVersions(t *testing.T) {
	reg := setup(t)
	doc := load(t, reg, "a", 4)
	before := doc.Pages()
	if _, err := Reorder(doc, 0, 1, 3); err != nil {
		t.Fatal(err)
	}
	moved, _, ok := doc.PageByID(before[0].ID)
	if !ok || moved.Version != before[0].Version {
		t.Fatalf("moving a page must not bump its version")
	}
}

func TestDeleteAll(t *testing.T) {
	reg := setup(t)
	doc := load(t, reg, "a", 3)
	before := doc.Pages()
	if err := Delete(doc, 2, 1, 0, 1); !errors.Is(err, document.ErrEmptyResult) {
		t.Fatalf("expected EmptyResult, got %v", err)
	}
	after := doc.Pages()
	if len(after) != len(before) {
		t.Fatalf("page count changed")
	}
	for i := range before {
		if before[i].ID != after[i].ID {
			t.Fatalf("order changed")
		}
	}
}

func TestRotateFourTimes(t *testing.T) {
	reg := setup(t)
	doc := load(t, reg, "a", 3)
	all := []int{0, 1, 2}
	if err := RotateBy(doc, 180, 1); err != nil {
		t.Fatal(err)
	}
	start := doc.Pages()
	for i := 0; i < 4; i++ {
		if err := Rotate(doc, all...); err != nil {
			t.Fatal(err)
		}
	}
	for i, p := range doc.Pages() {
		if p.Rotation != start[i].Rotation {
			t.Errorf("page %d: %v, want %v", i, p.Rotation, start[i].Rotation)
		}
	}
}

func TestRotateBy(t *testing.T) {
	reg := setup(t)
	doc := load(t, reg, "a", 2)
	if err := RotateBy(doc, -90, 0); err != nil {
		t.Fatal(err)
	}
	p, _ := doc.Page(0)
	if p.Rotation != document.Rotate270 {
		t.Fatalf("rotation = %v", p.Rotation)
	}
	v := p.Version
	if err := RotateBy(doc, 360, 0); err != nil {
		t.Fatal(err)
	}
	if p, _ = doc.Page(0); p.Version != v {
		t.Fatalf("full turn should change nothing")
	}
	if err := RotateBy(doc, 45, 0); !errors.Is(err, document.ErrInvalidRange) {
		t.Fatalf("expected InvalidRange, got %v", err)
	}
	if err := RotateBy(doc, 90, 0, 9); !errors.Is(err, document.ErrOutOfRange) {
		t.Fatalf("expected OutOfRange, got %v", err)
	}
	if p, _ = doc.Page(0); p.Rotation != document.Rotate270 {
		t.Fatalf("failed rotate applied partially")
	}
}

func TestInsert(t *testing.T) {
	reg := setup(t)
	a := load(t, reg, "a", 2)
	b := load(t, reg, "b", 3)
	if err := Insert(reg, a, 1, Selection{Doc: b.Handle(), Start: 0, End: 2}); err != nil {
		t.Fatal(err)
	}
	if a.PageCount() != 4 {
		t.Fatalf("expected 4 pages, got %d", a.PageCount())
	}
	p, _ := a.Page(1)
	if p.Source != b.Handle() {
		t.Fatalf("inserted page provenance = %s", p.Source)
	}
	reg.CloseAll()
	if reg.Arena().Len() != 0 {
		t.Fatalf("references leaked: %d", reg.Arena().Len())
	}
}

func TestOverlayMoveChangesIdentity(t *testing.T) {
	reg := setup(t)
	doc := load(t, reg, "a", 1)
	id, err := AddOverlay(doc, 0, document.NewStamp(document.Approved, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	before, _ := doc.Page(0)
	if err := MoveOverlay(doc, 0, id, document.Rect{X: 40, Y: 40, W: 100, H: 50}); err != nil {
		t.Fatal(err)
	}
	after, _ := doc.Page(0)
	if after.Version == before.Version || after.Fingerprint() == before.Fingerprint() {
		t.Fatalf("move must change version and fingerprint")
	}
	items, _ := ListOverlays(doc, 0)
	if len(items) != 1 || items[0].Rect.X != 40 {
		t.Fatalf("unexpected overlays %+v", items)
	}
	if ok, err := RemoveOverlay(doc, 0, id); !ok || err != nil {
		t.Fatalf("remove = %v, %v", ok, err)
	}
	if err := MoveOverlay(doc, 0, id, document.Rect{W: 1, H: 1}); !errors.Is(err, document.ErrOutOfRange) {
		t.Fatalf("moving a removed overlay: %v", err)
	}
}
