package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/local/pagedesk/internal/document"
	"github.com/local/pagedesk/internal/pdftest"
	"github.com/local/pagedesk/internal/storage"
)

func TestFetchFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.pdf")
	want := pdftest.Doc("a", 2)
	if err := os.WriteFile(p, want, 0o644); err != nil {
		t.Fatal(err)
	}
	l := New(Options{})
	for _, ref := range []string{p, "file://" + p, p + "#page=2"} {
		data, name, err := l.Fetch(context.Background(), ref)
		if err != nil {
			t.Fatalf("%s: %v", ref, err)
		}
		if string(data) != string(want) || name != "a.pdf" {
			t.Fatalf("%s: got %q named %q", ref, data, name)
		}
	}
}

func TestFetchErrorsAreIO(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	l := New(Options{})
	for _, ref := range []string{"", "/does/not/exist.pdf", srv.URL + "/x.pdf", "s3://bucket/key.pdf", "s3://bucket"} {
		_, _, err := l.Fetch(context.Background(), ref)
		if !errors.Is(err, document.ErrIO) {
			t.Errorf("%q: expected IO load error, got %v", ref, err)
		}
	}
}

func TestFetchHTTP(t *testing.T) {
	body := pdftest.Doc("remote", 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	data, name, err := New(Options{}).Fetch(context.Background(), srv.URL+"/files/report.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(body) || name != "report.pdf" {
		t.Fatalf("got %q named %q", data, name)
	}
}

func TestFetchHTTPTimeout(t *testing.T) {
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-done:
		}
	}))
	defer srv.Close()
	defer close(done)

	_, _, err := New(Options{Timeout: 20 * time.Millisecond}).Fetch(context.Background(), srv.URL)
	if !errors.Is(err, document.ErrIO) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline IO error, got %v", err)
	}
}

func TestFetchSizeLimit(t *testing.T) {
	p := filepath.Join(t.TempDir(), "big.pdf")
	if err := os.WriteFile(p, make([]byte, 64), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := New(Options{MaxBytes: 32}).Fetch(context.Background(), p); !errors.Is(err, errTooLarge) {
		t.Fatalf("expected size error, got %v", err)
	}
}

type fakeS3 map[string]*storage.Object

func (f fakeS3) Download(_ context.Context, bucket, key string) (*storage.Object, error) {
	obj, ok := f[bucket+"/"+key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return obj, nil
}

func TestFetchS3(t *testing.T) {
	s3 := fakeS3{
		"b/in/one.pdf": {Data: []byte("one"), Name: "Quarterly.pdf", Sealed: true},
		"b/in/two.pdf": {Data: []byte("two")},
	}
	l := New(Options{S3: s3})
	data, name, err := l.Fetch(context.Background(), "s3://b/in/one.pdf")
	if err != nil || string(data) != "one" || name != "Quarterly.pdf" {
		t.Fatalf("got %q %q %v", data, name, err)
	}
	if _, name, _ = l.Fetch(context.Background(), "s3://b/in/two.pdf"); name != "two.pdf" {
		t.Fatalf("fallback name %q", name)
	}
	if _, _, err = l.Fetch(context.Background(), "s3://b/missing.pdf"); !errors.Is(err, document.ErrIO) {
		t.Fatalf("missing object: %v", err)
	}
}

func TestListFolder(t *testing.T) {
	dir := t.TempDir()
	files := map[string][]byte{
		"b.pdf":     pdftest.Doc("b", 1),
		"a.bin":     pdftest.Doc("a", 1),
		"notes.pdf": []byte("plain text, not a pdf"),
		"image.png": {0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'},
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.pdf"), 0o755); err != nil {
		t.Fatal(err)
	}
	got, err := ListFolder(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{filepath.Join(dir, "a.bin"), filepath.Join(dir, "b.pdf")}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
	if _, err := ListFolder(filepath.Join(dir, "missing")); !errors.Is(err, document.ErrIO) {
		t.Fatalf("missing dir: %v", err)
	}
}
