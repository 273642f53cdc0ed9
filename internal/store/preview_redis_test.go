package store

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

func TestPreviewKeyPrefix(t *testing.T) {
	c := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer c.Close()
	s := NewPreviewStoreWithClient(c, "", time.Minute)
	if got := s.key("doc:1:2"); got != "pagedesk:preview:doc:1:2" {
		t.Fatalf("key = %q", got)
	}
	s = NewPreviewStoreWithClient(c, "custom", time.Minute)
	if got := s.key("x"); got != "custom:x" {
		t.Fatalf("key = %q", got)
	}
}

func TestNewPreviewStoreRejectsBadURL(t *testing.T) {
	if _, err := NewPreviewStore("not a url", "", time.Minute); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestPreviewStoreUnreachable(t *testing.T) {
	c := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer c.Close()
	s := NewPreviewStoreWithClient(c, "", time.Minute)
	if _, _, err := s.Get(context.Background(), "k"); err == nil {
		t.Fatalf("expected connection error")
	}
}
