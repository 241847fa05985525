package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/leasingborsen/listing-sync/internal/cache"
	"github.com/leasingborsen/listing-sync/internal/reconcile"
)

// ResultCache remembers which pending batch a given upload produced, so that
// re-submitting the same price list against an unchanged catalog returns the
// batch already awaiting review instead of creating a duplicate.
type ResultCache struct {
	client cache.Client
	ttl    time.Duration
}

type cachedPreview struct {
	BatchID   uuid.UUID `json:"batch_id"`
	InputHash string    `json:"input_hash"`
}

// NewResultCache wraps a cache client. A nil client disables caching.
func NewResultCache(client cache.Client, ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &ResultCache{client: client, ttl: ttl}
}

// Get returns the batch recorded for an input hash.
func (c *ResultCache) Get(ctx context.Context, dealerID, inputHash string) (uuid.UUID, bool, error) {
	if c == nil || c.client == nil {
		return uuid.Nil, false, nil
	}
	data, err := c.client.Get(ctx, cache.DealerCacheKey(dealerID, "preview", inputHash))
	if errors.Is(err, cache.ErrCacheMiss) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}

	var entry cachedPreview
	if err := json.Unmarshal(data, &entry); err != nil {
		return uuid.Nil, false, fmt.Errorf("decode cached preview: %w", err)
	}
	if entry.InputHash != inputHash {
		return uuid.Nil, false, nil
	}
	return entry.BatchID, true, nil
}

// Put records the batch produced for an input hash.
func (c *ResultCache) Put(ctx context.Context, dealerID, inputHash string, batchID uuid.UUID) error {
	if c == nil || c.client == nil {
		return nil
	}
	data, err := json.Marshal(cachedPreview{BatchID: batchID, InputHash: inputHash})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cache.DealerCacheKey(dealerID, "preview", inputHash), data, c.ttl)
}

// Invalidate drops every cached preview of a dealer.
func (c *ResultCache) Invalidate(ctx context.Context, dealerID string) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.DeleteByPrefix(ctx, cache.DealerPrefix(dealerID))
}

// InputHash fingerprints one reconciliation run: the dealer, the uploaded
// records, the catalog snapshot they were compared with and the engine options.
func InputHash(dealerID string, extracted []reconcile.ExtractedCar, catalog []reconcile.ExistingListing, opts reconcile.Options) (string, error) {
	payload := struct {
		DealerID  string                      `json:"dealer_id"`
		Extracted []reconcile.ExtractedCar    `json:"extracted"`
		Catalog   []reconcile.ExistingListing `json:"catalog"`
		Options   reconcile.Options           `json:"options"`
	}{dealerID, extracted, catalog, opts}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal input: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
