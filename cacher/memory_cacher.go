package cacher

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// MemoryCacher keeps values in process memory. It is the default backend
// when no redis address is configured.
type MemoryCacher[T any] struct {
	cache *cache.Cache
	group singleflight.Group
}

// NewMemoryCacher creates an in-memory cacher.
//
// Parameters:
//   - cleanupInterval: How often expired entries are purged
//
// Returns:
//   - A Cacher backed by go-cache
func NewMemoryCacher[T any](cleanupInterval time.Duration) *MemoryCacher[T] {
	return &MemoryCacher[T]{
		cache: cache.New(cache.NoExpiration, cleanupInterval),
	}
}

func (c *MemoryCacher[T]) lookup(key string) (T, bool) {
	var zero T

	val, found := c.cache.Get(key)
	if !found {
		return zero, false
	}

	typed, ok := val.(T)
	return typed, ok
}

// GetOrFetch implements Cacher.
func (c *MemoryCacher[T]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error) {
	var zero T

	if v, ok := c.lookup(key); ok {
		return v, nil
	}

	val, err, _ := c.group.Do(key, func() (any, error) {
		// another caller may have filled it while we queued
		if v, ok := c.lookup(key); ok {
			return v, nil
		}

		fetched, err := fetchFn(ctx)
		if err != nil {
			return zero, err
		}

		if ttl > 0 {
			c.cache.Set(key, fetched, ttl)
		}

		return fetched, nil
	})
	if err != nil {
		return zero, err
	}

	typed, ok := val.(T)
	if !ok {
		return zero, fmt.Errorf("cacher: unexpected type %T for key %s", val, key)
	}

	return typed, nil
}

// Invalidate implements Cacher.
func (c *MemoryCacher[T]) Invalidate(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.cache.Delete(key)
	return nil
}

// Len returns the number of live entries.
func (c *MemoryCacher[T]) Len() int {
	return c.cache.ItemCount()
}
