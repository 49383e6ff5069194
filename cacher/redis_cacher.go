package cacher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	lockTTL     = 10 * time.Second
	waitTimeout = 10 * time.Second
	minBackoff  = 10 * time.Millisecond
	maxBackoff  = 250 * time.Millisecond
)

// ErrFetchAbandoned is returned to a waiter when the fetch holding the lock
// finished without storing a value.
var ErrFetchAbandoned = errors.New("cacher: concurrent fetch did not populate the cache")

var releaseLock = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisCacher stores JSON-encoded values in redis, so several server
// instances can share one listing. A short-lived SETNX lock lets only one
// instance fetch a missing key while the others poll for the result.
type RedisCacher[T any] struct {
	client    redis.UniversalClient
	namespace string
}

// NewRedisCacher creates a cacher on top of client. Every key is stored
// under namespace + ":" + key.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	listing := NewRedisCacher[string](client, "wrp")
func NewRedisCacher[T any](client redis.UniversalClient, namespace string) *RedisCacher[T] {
	return &RedisCacher[T]{
		client:    client,
		namespace: namespace,
	}
}

func (c *RedisCacher[T]) key(k string) string {
	if c.namespace == "" {
		return k
	}

	return c.namespace + ":" + k
}

func (c *RedisCacher[T]) load(ctx context.Context, key string) (T, bool, error) {
	var zero T

	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("cacher: redis get %s: %w", key, err)
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false, fmt.Errorf("cacher: decode %s: %w", key, err)
	}

	return v, true, nil
}

// GetOrFetch implements Cacher.
func (c *RedisCacher[T]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error) {
	var zero T
	full := c.key(key)

	if v, ok, err := c.load(ctx, full); err != nil || ok {
		return v, err
	}

	if ttl <= 0 {
		return fetchFn(ctx)
	}

	lockKey := full + ":lock"
	token := strconv.FormatInt(time.Now().UnixNano(), 36)

	acquired, err := c.client.SetNX(ctx, lockKey, token, lockTTL).Result()
	if err != nil {
		return zero, fmt.Errorf("cacher: acquire lock %s: %w", lockKey, err)
	}

	if !acquired {
		return c.await(ctx, full, lockKey)
	}

	defer releaseLock.Run(context.Background(), c.client, []string{lockKey}, token)

	v, err := fetchFn(ctx)
	if err != nil {
		return zero, err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return zero, fmt.Errorf("cacher: encode %s: %w", full, err)
	}

	if err := c.client.Set(ctx, full, data, ttl).Err(); err != nil {
		return zero, fmt.Errorf("cacher: redis set %s: %w", full, err)
	}

	return v, nil
}

// await polls for a value being fetched by another holder of lockKey.
func (c *RedisCacher[T]) await(ctx context.Context, key, lockKey string) (T, error) {
	var zero T

	backoff := minBackoff
	deadline := time.Now().Add(waitTimeout)

	for time.Now().Before(deadline) {
		if v, ok, err := c.load(ctx, key); err != nil || ok {
			return v, err
		}

		held, err := c.client.Exists(ctx, lockKey).Result()
		if err != nil {
			return zero, fmt.Errorf("cacher: check lock %s: %w", lockKey, err)
		}

		if held == 0 {
			// lock released between our two reads: one last look
			if v, ok, err := c.load(ctx, key); err != nil || ok {
				return v, err
			}

			return zero, ErrFetchAbandoned
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}

		backoff = min(backoff*2, maxBackoff)
	}

	return zero, fmt.Errorf("cacher: timed out waiting for %s", key)
}

// Invalidate implements Cacher.
func (c *RedisCacher[T]) Invalidate(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("cacher: redis del: %w", err)
	}

	return nil
}
