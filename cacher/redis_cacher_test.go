package cacher

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedis connects to WRP_TEST_REDIS_ADDR or skips the test.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("WRP_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("WRP_TEST_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Ping(context.Background()).Err())
	return client
}

func TestRedisCacher_key(t *testing.T) {
	assert.Equal(t, "wrp:cameras", NewRedisCacher[string](nil, "wrp").key("cameras"))
	assert.Equal(t, "cameras", NewRedisCacher[string](nil, "").key("cameras"))
}

func TestRedisCacher_GetOrFetch(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()
	ns := "wrptest-" + time.Now().Format("150405.000000")
	c := NewRedisCacher[string](client, ns)
	t.Cleanup(func() { _ = c.Invalidate(ctx, "cameras") })

	var calls int32
	v, err := c.GetOrFetch(ctx, "cameras", time.Minute, constant("<Cameras/>", &calls))
	require.NoError(t, err)
	assert.Equal(t, "<Cameras/>", v)

	v, err = c.GetOrFetch(ctx, "cameras", time.Minute, constant("other", &calls))
	require.NoError(t, err)
	assert.Equal(t, "<Cameras/>", v)
	assert.Equal(t, int32(1), calls)

	require.NoError(t, c.Invalidate(ctx, "cameras"))
	v, err = c.GetOrFetch(ctx, "cameras", time.Minute, constant("fresh", &calls))
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
}

func TestRedisCacher_concurrentMisses(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()
	c := NewRedisCacher[string](client, "wrptest-"+time.Now().Format("150405.000000"))
	t.Cleanup(func() { _ = c.Invalidate(ctx, "cameras") })

	var calls int32
	slow := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(50 * time.Millisecond)
		return "shared", nil
	}

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrFetch(ctx, "cameras", time.Minute, slow)
			assert.NoError(t, err)
			assert.Equal(t, "shared", v)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls)
}
