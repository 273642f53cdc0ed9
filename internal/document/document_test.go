package document

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/local/pagedesk/internal/pdftest"
)

func loadDoc(t *testing.T, r *Registry, label string, n int) *Document {
	t.Helper()
	d, err := r.Load(context.Background(), label+".pdf", pdftest.Doc(label, n))
	if err != nil {
		t.Fatalf("load %s: %v", label, err)
	}
	return d
}

func pageIDs(d *Document) []PageID {
	var out []PageID
	for _, p := range d.Pages() {
		out = append(out, p.ID)
	}
	return out
}

func sameIDs(a, b []PageID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestLoad(t *testing.T) {
	r := NewRegistry(pdftest.New())
	d := loadDoc(t, r, "a", 4)
	if d.PageCount() != 4 {
		t.Fatalf("expected 4 pages, got %d", d.PageCount())
	}
	if d.Revision() != 1 {
		t.Errorf("fresh document revision = %d, want 1", d.Revision())
	}
	for i, p := range d.Pages() {
		if p.SourceIndex != i || p.Source != d.Handle() {
			t.Errorf("page %d provenance = %s/%d", i, p.Source, p.SourceIndex)
		}
		if p.Size.Width != 612 || p.Size.Height != 792 {
			t.Errorf("page %d size = %+v", i, p.Size)
		}
		if _, ok := r.Arena().Get(p.Content); !ok {
			t.Errorf("page %d content missing from arena", i)
		}
	}
	if got, ok := r.Get(d.Handle()); !ok || got != d {
		t.Fatalf("registry lookup failed")
	}
}

func TestLoadErrors(t *testing.T) {
	r := NewRegistry(pdftest.New())
	ctx := context.Background()

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"png", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), ErrUnsupported},
		{"text", []byte("hello world"), ErrUnsupported},
		{"broken", pdftest.Corrupt(), ErrCorrupt},
		{"empty", nil, ErrCorrupt},
		{"no pages", pdftest.Doc("z", 0), ErrCorrupt},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Load(ctx, tc.name, tc.data)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			var le *LoadError
			if !errors.As(err, &le) {
				t.Fatalf("expected *LoadError, got %T", err)
			}
		})
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := r.Load(cctx, "late", pdftest.Doc("x", 1)); !errors.Is(err, ErrIO) {
		t.Fatalf("cancelled load: expected ErrIO, got %v", err)
	}
	if n := len(r.List()); n != 0 {
		t.Fatalf("failed loads registered %d documents", n)
	}
}

func TestPagesIsSnapshot(t *testing.T) {
	r := NewRegistry(pdftest.New())
	d := loadDoc(t, r, "a", 2)
	if _, err := d.AddOverlay(0, NewStamp(Draft, 10, 10)); err != nil {
		t.Fatal(err)
	}
	snap := d.Pages()
	snap[0].Overlays[0].Rect.X = 999
	snap[0].Rotation = Rotate180

	p, _ := d.Page(0)
	if p.Overlays[0].Rect.X != 10 || p.Rotation != Rotate0 {
		t.Fatalf("snapshot aliases live page: %+v", p)
	}
}

func TestRotateFourTimesRestores(t *testing.T) {
	r := NewRegistry(pdftest.New())
	d := loadDoc(t, r, "a", 3)
	for _, start := range []Rotation{Rotate0, Rotate90, Rotate180, Rotate270} {
		for i := 0; i < d.PageCount(); i++ {
			if err := d.SetRotation(i, start); err != nil {
				t.Fatal(err)
			}
			for k := 0; k < 4; k++ {
				if err := d.Rotate(i); err != nil {
					t.Fatal(err)
				}
			}
			p, _ := d.Page(i)
			if p.Rotation != start {
				t.Errorf("page %d from %v: got %v after four turns", i, start, p.Rotation)
			}
		}
	}
}

func TestRotationNormalize(t *testing.T) {
	tests := []struct {
		in, want Rotation
	}{
		{0, 0}, {90, 90}, {360, 0}, {450, 90}, {-90, 270}, {-270, 90}, {100, 90}, {720, 0},
	}
	for _, tc := range tests {
		if got := tc.in.Normalize(); got != tc.want {
			t.Errorf("Normalize(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
	if Rotate270.Next() != Rotate0 {
		t.Errorf("270 should wrap to 0")
	}
}

func TestRotateBumpsVersions(t *testing.T) {
	r := NewRegistry(pdftest.New())
	d := loadDoc(t, r, "a", 3)
	before := d.Pages()
	if err := d.Rotate(0, 2, 2); err != nil {
		t.Fatal(err)
	}
	after := d.Pages()
	if after[0].Version != before[0].Version+1 || after[2].Version != before[2].Version+1 {
		t.Errorf("rotated pages should bump once: %d->%d, %d->%d", before[0].Version, after[0].Version, before[2].Version, after[2].Version)
	}
	if after[1].Version != before[1].Version {
		t.Errorf("untouched page version changed")
	}
	if err := d.Rotate(0, 5); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected out of range, got %v", err)
	}
	p, _ := d.Page(0)
	if p.Rotation != Rotate90 {
		t.Fatalf("failed rotate must not partially apply, rotation = %v", p.Rotation)
	}
}

func TestRemoveAllFails(t *testing.T) {
	r := NewRegistry(pdftest.New())
	d := loadDoc(t, r, "a", 3)
	ids := pageIDs(d)
	rev := d.Revision()

	err := d.RemoveAt(0, 1, 2)
	if !errors.Is(err, ErrEmptyResult) {
		t.Fatalf("expected EmptyResult, got %v", err)
	}
	if !sameIDs(ids, pageIDs(d)) || d.Revision() != rev {
		t.Fatalf("document changed after rejected delete")
	}
	if err := d.RemoveAt(0, 7); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected OutOfRange, got %v", err)
	}
	if d.PageCount() != 3 {
		t.Fatalf("partial delete happened")
	}
}

func TestRemoveReleasesContent(t *testing.T) {
	r := NewRegistry(pdftest.New())
	d := loadDoc(t, r, "a", 3)
	if _, err := d.AddOverlay(1, NewStamp(Approved, 0, 0)); err != nil {
		t.Fatal(err)
	}
	victim, _ := d.Page(1)
	if err := d.RemoveAt(1, 1); err != nil {
		t.Fatal(err)
	}
	if d.PageCount() != 2 {
		t.Fatalf("expected 2 pages, got %d", d.PageCount())
	}
	if _, _, ok := d.PageByID(victim.ID); ok {
		t.Fatalf("deleted page still present")
	}
	if _, ok := r.Arena().Get(victim.Content); ok {
		t.Fatalf("content of deleted page still retained")
	}
	for _, p := range d.Pages() {
		if len(p.Overlays) != 0 {
			t.Fatalf("overlay of deleted page survived on %d", p.ID)
		}
	}
}

func TestMoveRange(t *testing.T) {
	tests := []struct {
		name             string
		start, count, to int
		want             []int
		changed          bool
	}{
		{"onto itself", 1, 2, 1, []int{0, 1, 2, 3, 4}, false},
		{"to front", 3, 2, 0, []int{3, 4, 0, 1, 2}, true},
		{"forward", 0, 2, 1, []int{2, 0, 1, 3, 4}, true},
		{"past end appends", 0, 1, 99, []int{1, 2, 3, 4, 0}, true},
		{"last to end", 4, 1, 4, []int{0, 1, 2, 3, 4}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRegistry(pdftest.New())
			d := loadDoc(t, r, "a", 5)
			orig := pageIDs(d)
			rev := d.Revision()
			changed, err := d.MoveRange(tc.start, tc.count, tc.to)
			if err != nil {
				t.Fatal(err)
			}
			if changed != tc.changed {
				t.Errorf("changed = %v, want %v", changed, tc.changed)
			}
			got := pageIDs(d)
			for i, w := range tc.want {
				if got[i] != orig[w] {
					t.Fatalf("order = %v, want positions %v of %v", got, tc.want, orig)
				}
			}
			if !tc.changed && d.Revision() != rev {
				t.Errorf("no-op move bumped revision %d -> %d", rev, d.Revision())
			}
			if tc.changed && d.Revision() != rev+1 {
				t.Errorf("move should bump revision once")
			}
		})
	}
}

func TestMoveRangeErrors(t *testing.T) {
	r := NewRegistry(pdftest.New())
	d := loadDoc(t, r, "a", 3)
	rev := d.Revision()
	for _, tc := range []struct{ start, count int }{{2, 2}, {5, 1}, {-1, 1}} {
		_, err := d.MoveRange(tc.start, tc.count, 0)
		var ie *IndexError
		if !errors.Is(err, ErrOutOfRange) || !errors.As(err, &ie) {
			t.Errorf("move [%d,+%d): %v", tc.start, tc.count, err)
		}
	}
	if d.Revision() != rev {
		t.Errorf("failed moves bumped revision %d -> %d", rev, d.Revision())
	}
	if _, err := d.MoveRange(0, 0, 1); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("empty range: %v", err)
	}
	if _, err := d.MoveRange(0, 1, -1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("negative target: %v", err)
	}
}

func TestInsertAt(t *testing.T) {
	r := NewRegistry(pdftest.New())
	a := loadDoc(t, r, "a", 2)
	b := loadDoc(t, r, "b", 1)
	src, _ := b.Page(0)
	if err := a.InsertAt(1, src); err != nil {
		t.Fatal(err)
	}
	if a.PageCount() != 3 {
		t.Fatalf("expected 3 pages")
	}
	got, _ := a.Page(1)
	if got.Content != src.Content || got.ID == src.ID {
		t.Fatalf("inserted page should share content but not identity")
	}
	r.Close(b.Handle())
	if _, ok := r.Arena().Get(src.Content); !ok {
		t.Fatalf("content released while still referenced")
	}
	if err := a.InsertAt(9, src); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected out of range, got %v", err)
	}
}

func TestOverlays(t *testing.T) {
	r := NewRegistry(pdftest.New())
	d := loadDoc(t, r, "a", 1)

	v0, _ := d.Page(0)
	id1, err := d.AddOverlay(0, NewStamp(Approved, 10, 20))
	if err != nil {
		t.Fatal(err)
	}
	id2, err := d.AddOverlay(0, NewText("hello", 30, 40, 0))
	if err != nil {
		t.Fatal(err)
	}
	if id2 <= id1 {
		t.Fatalf("overlay ids must follow creation order: %d, %d", id1, id2)
	}
	list, _ := d.Overlays(0)
	if len(list) != 2 || list[0].ID != id1 || list[1].ID != id2 {
		t.Fatalf("unexpected overlay order %+v", list)
	}
	if txt, ok := list[1].Mark.(Text); !ok || txt.FontSize != DefaultFontSize {
		t.Fatalf("text overlay defaults not applied: %+v", list[1].Mark)
	}

	v1, _ := d.Page(0)
	if v1.Version != v0.Version+2 {
		t.Fatalf("two adds should bump version by 2, got %d -> %d", v0.Version, v1.Version)
	}
	fp := v1.Fingerprint()

	if err := d.MoveOverlay(0, id1, Rect{X: 50, Y: 60, W: 100, H: 50}); err != nil {
		t.Fatal(err)
	}
	v2, _ := d.Page(0)
	if v2.Version != v1.Version+1 || v2.Fingerprint() == fp {
		t.Fatalf("move should bump version and change fingerprint")
	}
	list, _ = d.Overlays(0)
	if list[0].ID != id1 {
		t.Fatalf("move changed stacking order")
	}

	if err := d.MoveOverlay(0, 99, Rect{W: 1, H: 1}); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("moving missing overlay: %v", err)
	}
	if ok, err := d.RemoveOverlay(0, 99); ok || err != nil {
		t.Fatalf("removing missing overlay = %v, %v", ok, err)
	}
	if ok, err := d.RemoveOverlay(0, id1); !ok || err != nil {
		t.Fatalf("remove = %v, %v", ok, err)
	}
	id3, _ := d.AddOverlay(0, NewStamp(Draft, 0, 0))
	if id3 <= id2 {
		t.Fatalf("ids must never be reused: %d after %d", id3, id2)
	}
	if _, err := d.AddOverlay(0, Overlay{Mark: Stamp{}, Rect: Rect{W: 0, H: 5}}); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("zero-size overlay: %v", err)
	}
	if _, err := d.AddOverlay(3, NewStamp(Draft, 0, 0)); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("overlay on missing page: %v", err)
	}
}

func TestOverlaysSurviveRotation(t *testing.T) {
	r := NewRegistry(pdftest.New())
	d := loadDoc(t, r, "a", 1)
	if _, err := d.AddOverlay(0, NewStamp(Confidential, 12, 34)); err != nil {
		t.Fatal(err)
	}
	if err := d.Rotate(0); err != nil {
		t.Fatal(err)
	}
	list, _ := d.Overlays(0)
	if list[0].Rect.X != 12 || list[0].Rect.Y != 34 {
		t.Fatalf("overlay position must stay in unrotated page space: %+v", list[0].Rect)
	}
}

func TestFingerprint(t *testing.T) {
	a := []Overlay{{ID: 1, Mark: Stamp{Kind: Draft}, Rect: Rect{1, 2, 3, 4}}}
	b := []Overlay{{ID: 1, Mark: Stamp{Kind: Draft}, Rect: Rect{1, 2, 3, 4}}}
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatalf("equal lists must share a fingerprint")
	}
	b[0].Mark = Stamp{Kind: Approved}
	if Fingerprint(a) == Fingerprint(b) {
		t.Fatalf("different stamp kinds collide")
	}
	if Fingerprint(nil) == Fingerprint(a) {
		t.Fatalf("empty list collides")
	}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) HandlePageEvent(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func TestEvents(t *testing.T) {
	r := NewRegistry(pdftest.New())
	rec := &recorder{}
	r.Subscribe(rec)

	d := loadDoc(t, r, "a", 3)
	if rec.count(PageChanged) != 3 {
		t.Fatalf("load should announce 3 pages, got %d", rec.count(PageChanged))
	}
	_ = d.Rotate(1)
	if rec.count(PageChanged) != 4 {
		t.Fatalf("rotate should announce one change")
	}
	last := rec.events[len(rec.events)-1]
	p, _ := d.Page(1)
	if last.Page != p.ID || last.Version != p.Version {
		t.Fatalf("event %+v does not match page %d v%d", last, p.ID, p.Version)
	}
	_ = d.RemoveAt(0)
	if rec.count(PageRemoved) != 1 {
		t.Fatalf("delete should announce removal")
	}
	if !r.Close(d.Handle()) {
		t.Fatalf("close failed")
	}
	if rec.count(PageRemoved) != 3 {
		t.Fatalf("close should announce remaining pages, got %d", rec.count(PageRemoved))
	}
	if r.Arena().Len() != 0 {
		t.Fatalf("arena should be empty after close, has %d", r.Arena().Len())
	}
	if err := d.Rotate(0); !errors.Is(err, ErrClosed) {
		t.Fatalf("mutating closed document: %v", err)
	}
}

func TestConcurrentReadersSeeWholeMutations(t *testing.T) {
	r := NewRegistry(pdftest.New())
	d := loadDoc(t, r, "a", 6)
	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_, _ = d.MoveRange(0, 3, 3)
		}
		close(stop)
	}()
	for {
		select {
		case <-stop:
			wg.Wait()
			return
		default:
		}
		pages := d.Pages()
		if len(pages) != 6 {
			t.Fatalf("reader saw %d pages", len(pages))
		}
		seen := map[PageID]bool{}
		for _, p := range pages {
			if seen[p.ID] {
				t.Fatalf("reader saw duplicate page mid-move")
			}
			seen[p.ID] = true
		}
	}
}
