package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leasingborsen/listing-sync/internal/config"
)

func TestMemoryClient_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(time.Minute, time.Minute)

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClient_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(time.Minute, time.Minute)

	require.NoError(t, c.Set(ctx, "short", []byte("v"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, err := c.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClient_DeleteByPrefix(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(time.Minute, time.Minute)

	require.NoError(t, c.Set(ctx, DealerCacheKey("d1", "preview", "a"), []byte("1"), 0))
	require.NoError(t, c.Set(ctx, DealerCacheKey("d1", "preview", "b"), []byte("2"), 0))
	require.NoError(t, c.Set(ctx, DealerCacheKey("d10", "preview", "a"), []byte("3"), 0))

	require.NoError(t, c.DeleteByPrefix(ctx, DealerPrefix("d1")))

	_, err := c.Get(ctx, DealerCacheKey("d1", "preview", "a"))
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, DealerCacheKey("d1", "preview", "b"))
	assert.ErrorIs(t, err, ErrCacheMiss)
	got, err := c.Get(ctx, DealerCacheKey("d10", "preview", "a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), got)
}

func TestMemoryClient_PublishSubscribe(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(time.Minute, time.Minute)

	ch, unsubscribe, err := c.Subscribe(ctx, "audit.events")
	require.NoError(t, err)

	require.NoError(t, c.Publish(ctx, "audit.events", map[string]string{"event": "batch.applied"}))
	require.NoError(t, c.Publish(ctx, "other", map[string]string{"event": "ignored"}))

	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"event":"batch.applied"}`, string(msg))
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}

	unsubscribe()
	unsubscribe()
	_, open := <-ch
	assert.False(t, open)
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "a:b:c", CacheKey("a", "b", "c"))
	assert.Equal(t, "d:dealer-1:preview:abc", DealerCacheKey("dealer-1", "preview", "abc"))
	assert.Equal(t, "d:dealer-1:", DealerPrefix("dealer-1"))
}

func TestNew_SelectsDriver(t *testing.T) {
	c, err := New(config.CacheConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryClient{}, c)

	_, err = New(config.CacheConfig{Driver: "memcached"})
	assert.Error(t, err)
}
