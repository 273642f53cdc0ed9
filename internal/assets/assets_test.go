package assets

import (
	"bytes"
	"errors"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/local/pagedesk/internal/document"
	"github.com/local/pagedesk/internal/imagerender"
)

func TestGeneratedStamps(t *testing.T) {
	for _, k := range document.StampKinds {
		data, err := Generated{}.Stamp(k)
		if err != nil {
			t.Fatalf("%s: %v", k, err)
		}
		w, h, err := imagerender.Dimensions(data)
		if err != nil {
			t.Fatal(err)
		}
		if w != 200 || h != 100 {
			t.Errorf("%s: %dx%d, want 200x100", k, w, h)
		}
	}
	if _, err := (Generated{}).Stamp(document.StampKind(42)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown kind: %v", err)
	}
}

func TestGeneratedStampFillKeepsHue(t *testing.T) {
	data, err := Generated{}.Stamp(document.Rejected)
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	c := color.NRGBAModel.Convert(img.At(10, 10)).(color.NRGBA)
	if c.A < 0x28 || c.A > 0x38 {
		t.Fatalf("fill alpha = %#x", c.A)
	}
	if c.R <= c.G || c.R <= c.B {
		t.Fatalf("rejected fill %+v is not red", c)
	}
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	png, err := Generated{}.Stamp(document.Draft)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "draft.png"), png, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "approved.png"), []byte("not an image"), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := Dir(dir).Stamp(document.Draft)
	if err != nil || len(got) != len(png) {
		t.Fatalf("draft: %d bytes, %v", len(got), err)
	}
	if _, err := Dir(dir).Stamp(document.Approved); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("non-image asset should be rejected, got %v", err)
	}
	if _, err := Dir(dir).Stamp(document.Rejected); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing asset: %v", err)
	}
}

type countingSource struct {
	calls int
	src   Source
}

func (c *countingSource) Stamp(k document.StampKind) ([]byte, error) {
	c.calls++
	return c.src.Stamp(k)
}

func TestLibraryFallsBackAndMemoizes(t *testing.T) {
	lib := NewLibrary(t.TempDir())
	if _, err := lib.Image(document.Confidential); err != nil {
		t.Fatalf("fallback should generate a stamp: %v", err)
	}

	cs := &countingSource{src: Generated{}}
	lib = NewLibraryFrom(cs)
	for i := 0; i < 3; i++ {
		if _, err := lib.Image(document.Approved); err != nil {
			t.Fatal(err)
		}
		if _, err := lib.Stamp(document.Approved); err != nil {
			t.Fatal(err)
		}
	}
	if cs.calls != 1 {
		t.Fatalf("source consulted %d times", cs.calls)
	}
}
