//go:build integration

package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx,
		"redis:7.4-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate redis container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return fmt.Sprintf("%s:%s", host, port.Port())
}

func TestRedisClient_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	client, err := NewRedisClient(RedisConfig{Addr: startRedis(t), PoolSize: 4})
	require.NoError(t, err)
	defer client.Close()

	t.Run("get set delete", func(t *testing.T) {
		_, err := client.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrCacheMiss)

		require.NoError(t, client.Set(ctx, "k", []byte("v"), time.Minute))
		got, err := client.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), got)

		require.NoError(t, client.Delete(ctx, "k"))
		_, err = client.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrCacheMiss)
	})

	t.Run("delete by prefix", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, DealerCacheKey("d1", "x"), []byte("1"), time.Minute))
		require.NoError(t, client.Set(ctx, DealerCacheKey("d2", "x"), []byte("2"), time.Minute))

		require.NoError(t, client.DeleteByPrefix(ctx, DealerPrefix("d1")))

		_, err := client.Get(ctx, DealerCacheKey("d1", "x"))
		assert.ErrorIs(t, err, ErrCacheMiss)
		_, err = client.Get(ctx, DealerCacheKey("d2", "x"))
		assert.NoError(t, err)
	})

	t.Run("publish subscribe", func(t *testing.T) {
		ch, unsubscribe, err := client.Subscribe(ctx, "audit.events")
		require.NoError(t, err)
		defer unsubscribe()

		require.NoError(t, client.Publish(ctx, "audit.events", map[string]string{"event": "batch.applied"}))

		select {
		case msg := <-ch:
			assert.JSONEq(t, `{"event":"batch.applied"}`, string(msg))
		case <-time.After(5 * time.Second):
			t.Fatal("no message received")
		}
	})
}
