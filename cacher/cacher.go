// Package cacher caches values produced by an expensive fetch, such as the
// rendered camera listing, for a short TTL. Concurrent misses on one key
// share a single fetch.
package cacher

import (
	"context"
	"time"
)

// FetchFunc produces the value for a key on a cache miss.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Cacher caches values of type T by key.
type Cacher[T any] interface {
	// GetOrFetch returns the cached value for key, or calls fetchFn, stores
	// its result for ttl and returns it. Fetch errors are returned as is and
	// nothing is stored.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - key: The cache key
	//   - ttl: How long a fetched value stays valid
	//   - fetchFn: Producer called on a miss
	//
	// Returns:
	//   - The cached or fetched value
	//   - An error if the backend or fetchFn failed
	GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error)

	// Invalidate drops key so the next GetOrFetch fetches again.
	Invalidate(ctx context.Context, key string) error
}
