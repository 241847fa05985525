// Package cache provides caching and pub/sub infrastructure for the listing sync service.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/leasingborsen/listing-sync/internal/config"
)

// ErrCacheMiss indicates a cache miss.
var ErrCacheMiss = errors.New("cache miss")

// Client defines the cache interface.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
	Close() error
}

// Publisher fans out JSON messages on a named channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// New creates the cache client selected by configuration.
func New(cfg config.CacheConfig) (Client, error) {
	switch cfg.Driver {
	case "redis":
		return NewRedisClient(RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
	case "memory", "":
		return NewMemoryClient(cfg.TTL, cfg.CleanupInterval), nil
	default:
		return nil, fmt.Errorf("unknown cache driver: %s", cfg.Driver)
	}
}

// CacheKey generates a cache key from components.
func CacheKey(parts ...string) string {
	return strings.Join(parts, ":")
}

// DealerCacheKey generates a dealer-scoped cache key.
func DealerCacheKey(dealerID string, parts ...string) string {
	return CacheKey(append([]string{"d", dealerID}, parts...)...)
}

// DealerPrefix returns the prefix shared by every key of a dealer.
func DealerPrefix(dealerID string) string {
	return DealerCacheKey(dealerID) + ":"
}
