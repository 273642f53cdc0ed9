package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// PreviewStore keeps encoded page previews in Redis as a second tier behind
// the in-memory cache. Keys carry session-local document handles and page
// ids, so entries only help the process that wrote them, after its LRU has
// evicted a raster.
type PreviewStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewPreviewStore connects to redisURL and checks the connection.
func NewPreviewStore(redisURL, prefix string, ttl time.Duration) (*PreviewStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(opt)
	if err := c.Ping(context.Background()).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewPreviewStoreWithClient(c, prefix, ttl), nil
}

// NewPreviewStoreWithClient wraps an existing client.
func NewPreviewStoreWithClient(c *redis.Client, prefix string, ttl time.Duration) *PreviewStore {
	if prefix == "" {
		prefix = "pagedesk:preview"
	}
	return &PreviewStore{client: c, prefix: prefix, ttl: ttl}
}

func (s *PreviewStore) Close() error { return s.client.Close() }

// Ping checks the Redis connection.
func (s *PreviewStore) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *PreviewStore) key(k string) string { return s.prefix + ":" + k }

// Get returns the stored preview for k. A miss is (nil, false, nil).
func (s *PreviewStore) Get(ctx context.Context, k string) ([]byte, bool, error) {
	b, err := s.client.Get(ctx, s.key(k)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Put stores an encoded preview for k with the configured TTL.
func (s *PreviewStore) Put(ctx context.Context, k string, data []byte) error {
	return s.client.Set(ctx, s.key(k), data, s.ttl).Err()
}

// Forget drops every preview stored for a document prefix such as "<doc>:".
func (s *PreviewStore) Forget(ctx context.Context, docPrefix string) error {
	iter := s.client.Scan(ctx, 0, s.key(docPrefix)+"*", 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}
