package cacher

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constant(v string, calls *int32) FetchFunc[string] {
	return func(ctx context.Context) (string, error) {
		atomic.AddInt32(calls, 1)
		return v, nil
	}
}

func TestMemoryCacher_GetOrFetch(t *testing.T) {
	ctx := context.Background()

	t.Run("miss fetches and hit reuses", func(t *testing.T) {
		c := NewMemoryCacher[string](time.Minute)
		var calls int32

		v, err := c.GetOrFetch(ctx, "cameras", time.Minute, constant("<Cameras/>", &calls))
		require.NoError(t, err)
		assert.Equal(t, "<Cameras/>", v)

		v, err = c.GetOrFetch(ctx, "cameras", time.Minute, constant("stale", &calls))
		require.NoError(t, err)
		assert.Equal(t, "<Cameras/>", v)
		assert.Equal(t, int32(1), calls)
		assert.Equal(t, 1, c.Len())
	})

	t.Run("fetch error is not cached", func(t *testing.T) {
		c := NewMemoryCacher[string](time.Minute)

		_, err := c.GetOrFetch(ctx, "cameras", time.Minute, func(ctx context.Context) (string, error) {
			return "", assert.AnError
		})
		assert.ErrorIs(t, err, assert.AnError)
		assert.Zero(t, c.Len())

		var calls int32
		v, err := c.GetOrFetch(ctx, "cameras", time.Minute, constant("fresh", &calls))
		require.NoError(t, err)
		assert.Equal(t, "fresh", v)
		assert.Equal(t, int32(1), calls)
	})

	t.Run("zero ttl disables caching", func(t *testing.T) {
		c := NewMemoryCacher[string](time.Minute)
		var calls int32

		for range 3 {
			_, err := c.GetOrFetch(ctx, "cameras", 0, constant("v", &calls))
			require.NoError(t, err)
		}
		assert.Equal(t, int32(3), calls)
	})

	t.Run("entries expire", func(t *testing.T) {
		c := NewMemoryCacher[string](time.Minute)
		var calls int32

		_, err := c.GetOrFetch(ctx, "cameras", 20*time.Millisecond, constant("v", &calls))
		require.NoError(t, err)
		time.Sleep(40 * time.Millisecond)
		_, err = c.GetOrFetch(ctx, "cameras", 20*time.Millisecond, constant("v", &calls))
		require.NoError(t, err)
		assert.Equal(t, int32(2), calls)
	})

	t.Run("concurrent misses share one fetch", func(t *testing.T) {
		c := NewMemoryCacher[string](time.Minute)
		var calls int32
		slow := func(ctx context.Context) (string, error) {
			atomic.AddInt32(&calls, 1)
			time.Sleep(20 * time.Millisecond)
			return "shared", nil
		}

		const n = 10
		var wg sync.WaitGroup
		results := make([]string, n)
		errs := make([]error, n)
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i], errs[i] = c.GetOrFetch(ctx, "cameras", time.Minute, slow)
			}()
		}
		wg.Wait()

		for i := range n {
			require.NoError(t, errs[i])
			assert.Equal(t, "shared", results[i])
		}
		assert.Equal(t, int32(1), calls)
	})
}

func TestMemoryCacher_Invalidate(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCacher[string](time.Minute)
	var calls int32

	_, err := c.GetOrFetch(ctx, "cameras", time.Minute, constant("v1", &calls))
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx, "cameras"))
	require.NoError(t, c.Invalidate(ctx, "missing"))

	v, err := c.GetOrFetch(ctx, "cameras", time.Minute, constant("v2", &calls))
	require.NoError(t, err)
	assert.Equal(t, "v2", v)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, c.Invalidate(cancelled, "cameras"), context.Canceled)
}

func TestCacherImplementations(t *testing.T) {
	var _ Cacher[string] = (*MemoryCacher[string])(nil)
	var _ Cacher[string] = (*RedisCacher[string])(nil)
}
