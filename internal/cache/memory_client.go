package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryClient implements an in-process cache for development and single-node
// deployments. It also provides an in-process Publish/Subscribe.
type MemoryClient struct {
	store *gocache.Cache

	mu   sync.RWMutex
	subs map[string][]chan []byte
}

// NewMemoryClient creates a new in-memory cache client.
func NewMemoryClient(defaultTTL, cleanupInterval time.Duration) *MemoryClient {
	if defaultTTL <= 0 {
		defaultTTL = 15 * time.Minute
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 30 * time.Minute
	}
	return &MemoryClient{
		store: gocache.New(defaultTTL, cleanupInterval),
		subs:  make(map[string][]chan []byte),
	}
}

// Get retrieves a value from cache.
func (c *MemoryClient) Get(ctx context.Context, key string) ([]byte, error) {
	v, ok := c.store.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	data, ok := v.([]byte)
	if !ok {
		return nil, ErrCacheMiss
	}
	return data, nil
}

// Set stores a value in cache with TTL. A zero TTL uses the default expiration.
func (c *MemoryClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	c.store.Set(key, value, ttl)
	return nil
}

// Delete removes a value from cache.
func (c *MemoryClient) Delete(ctx context.Context, key string) error {
	c.store.Delete(key)
	return nil
}

// DeleteByPrefix removes all keys with the given prefix.
func (c *MemoryClient) DeleteByPrefix(ctx context.Context, prefix string) error {
	for key := range c.store.Items() {
		if strings.HasPrefix(key, prefix) {
			c.store.Delete(key)
		}
	}
	return nil
}

// Close is a no-op for memory cache.
func (c *MemoryClient) Close() error {
	return nil
}

// Publish delivers a JSON-encoded message to local subscribers. Slow
// subscribers drop messages rather than block the publisher.
func (c *MemoryClient) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ch := range c.subs[channel] {
		select {
		case ch <- data:
		default:
		}
	}
	return nil
}

// Subscribe registers a local subscriber.
func (c *MemoryClient) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, 100)

	c.mu.Lock()
	c.subs[channel] = append(c.subs[channel], ch)
	c.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			subs := c.subs[channel]
			for i, s := range subs {
				if s == ch {
					c.subs[channel] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			close(ch)
		})
	}

	return ch, unsubscribe, nil
}
