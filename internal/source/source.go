// Package source fetches document bytes from a filesystem path, file://,
// http(s):// or s3:// reference.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pagedesk/internal/document"
	"github.com/local/pagedesk/internal/filetype"
	"github.com/local/pagedesk/internal/storage"
)

// Downloader reads objects from S3. storage.S3Client implements it.
type Downloader interface {
	Download(ctx context.Context, bucket, key string) (*storage.Object, error)
}

// Options configures a Loader.
type Options struct {
	HTTPClient *http.Client
	// Timeout bounds one fetch. Zero means no limit beyond the caller's ctx.
	Timeout time.Duration
	// MaxBytes caps the size of a fetched document. Zero means no cap.
	MaxBytes int64
	S3       Downloader
	// Root confines local paths and folders. Relative references resolve
	// against it. Empty allows any path.
	Root string
}

// Loader resolves references to bytes.
type Loader struct {
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
	s3       Downloader
	root     string
}

var errTooLarge = errors.New("document exceeds size limit")

// New creates a loader.
func New(opts Options) *Loader {
	c := opts.HTTPClient
	if c == nil {
		c = http.DefaultClient
	}
	return &Loader{client: c, timeout: opts.Timeout, maxBytes: opts.MaxBytes, s3: opts.S3, root: opts.Root}
}

// Fetch returns the bytes behind ref and a display name. A trailing #fragment
// is ignored. Every failure is a document.LoadError of kind IO.
func (l *Loader) Fetch(ctx context.Context, ref string) ([]byte, string, error) {
	if i := strings.Index(ref, "#"); i >= 0 {
		ref = ref[:i]
	}
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	start := time.Now()
	var (
		data []byte
		name string
		err  error
	)
	switch {
	case ref == "":
		err = errors.New("empty reference")
	case strings.HasPrefix(ref, "s3://"):
		data, name, err = l.fetchS3(ctx, ref)
	case strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://"):
		data, name, err = l.fetchHTTP(ctx, ref)
	case strings.HasPrefix(ref, "file://"):
		data, name, err = l.readFile(ctx, strings.TrimPrefix(ref, "file://"))
	default:
		data, name, err = l.readFile(ctx, ref)
	}
	if err != nil {
		log.Warn().Err(err).Str("ref", ref).Msg("fetch failed")
		return nil, "", &document.LoadError{Kind: document.LoadIO, Name: ref, Err: err}
	}
	log.Debug().Str("ref", ref).Int("bytes", len(data)).Dur("took", time.Since(start)).Msg("document fetched")
	return data, name, nil
}

func (l *Loader) readFile(ctx context.Context, p string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	p, err := storage.ResolveLocal(l.root, p)
	if err != nil {
		return nil, "", err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	data, err := l.readAll(f)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", p, err)
	}
	return data, filepath.Base(p), nil
}

func (l *Loader) fetchHTTP(ctx context.Context, ref string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("http %d", resp.StatusCode)
	}
	data, err := l.readAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, nameFromURL(ref), nil
}

func (l *Loader) fetchS3(ctx context.Context, ref string) ([]byte, string, error) {
	bucket, key, ok := strings.Cut(strings.TrimPrefix(ref, "s3://"), "/")
	if !ok || bucket == "" || key == "" {
		return nil, "", fmt.Errorf("invalid s3 url: %s", ref)
	}
	if l.s3 == nil {
		return nil, "", errors.New("s3 storage is not configured")
	}
	obj, err := l.s3.Download(ctx, bucket, key)
	if err != nil {
		return nil, "", err
	}
	if l.maxBytes > 0 && int64(len(obj.Data)) > l.maxBytes {
		return nil, "", errTooLarge
	}
	name := obj.Name
	if name == "" {
		name = path.Base(key)
	}
	log.Info().Str("bucket", bucket).Str("key", key).Bool("sealed", obj.Sealed).Msg("downloaded document from s3")
	return obj.Data, name, nil
}

func (l *Loader) readAll(r io.Reader) ([]byte, error) {
	if l.maxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, l.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > l.maxBytes {
		return nil, errTooLarge
	}
	return data, nil
}

func nameFromURL(ref string) string {
	u, err := url.Parse(ref)
	if err != nil || u.Path == "" || u.Path == "/" {
		return "download.pdf"
	}
	return path.Base(u.Path)
}

// ListFolder lists the PDFs in dir, which must lie inside the loader's root.
func (l *Loader) ListFolder(dir string) ([]string, error) {
	p, err := storage.ResolveLocal(l.root, dir)
	if err != nil {
		return nil, &document.LoadError{Kind: document.LoadIO, Name: dir, Err: err}
	}
	return ListFolder(p)
}

// ListFolder returns the PDF files directly inside dir, sorted by name.
// Files are recognised by content, not extension.
func ListFolder(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &document.LoadError{Kind: document.LoadIO, Name: dir, Err: err}
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if filetype.IsPDFFile(p) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}
