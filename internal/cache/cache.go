// Package cache provides the Redis-backed rendered-content cache and its
// invalidation fanout.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when a content uid has no cached rendering.
var ErrMiss = errors.New("cache miss")

// RenderCache stores rendered content fragments keyed by content uid. Commits
// invalidate the edited node and every ancestor reachable through the closure
// tables, since an ancestor's rendering embeds its descendants.
type RenderCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRenderCache connects a new cache to the given Redis URL.
func NewRenderCache(redisURL string, ttl time.Duration) (*RenderCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRenderCacheWithClient(client, ttl), nil
}

// NewRenderCacheWithClient wraps an existing Redis client.
func NewRenderCacheWithClient(client *redis.Client, ttl time.Duration) *RenderCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RenderCache{
		client: client,
		prefix: "render:",
		ttl:    ttl,
	}
}

func (c *RenderCache) key(uid string) string {
	return c.prefix + uid
}

// Store caches the rendering of one content node.
func (c *RenderCache) Store(ctx context.Context, uid string, rendered []byte) error {
	if err := c.client.Set(ctx, c.key(uid), rendered, c.ttl).Err(); err != nil {
		return fmt.Errorf("store rendering of %s: %w", uid, err)
	}
	return nil
}

// Get returns the cached rendering of one content node, ErrMiss when absent.
func (c *RenderCache) Get(ctx context.Context, uid string) ([]byte, error) {
	rendered, err := c.client.Get(ctx, c.key(uid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("load rendering of %s: %w", uid, err)
	}
	return rendered, nil
}

// Invalidate drops the cached renderings of the given content uids.
func (c *RenderCache) Invalidate(ctx context.Context, uids []string) error {
	if len(uids) == 0 {
		return nil
	}
	keys := make([]string, len(uids))
	for i, uid := range uids {
		keys[i] = c.key(uid)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate %d renderings: %w", len(uids), err)
	}
	return nil
}

// Ping verifies the Redis connection.
func (c *RenderCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (c *RenderCache) Close() error {
	return c.client.Close()
}
