package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leasingborsen/listing-sync/internal/cache"
	"github.com/leasingborsen/listing-sync/internal/observability"
	"github.com/leasingborsen/listing-sync/internal/reconcile"
	"github.com/leasingborsen/listing-sync/internal/storage"
)

type recordingStore struct {
	events []*storage.AuditEvent
	err    error
}

func (s *recordingStore) Create(ctx context.Context, e *storage.AuditEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, e)
	return nil
}

type failingPublisher struct{}

func (failingPublisher) Publish(ctx context.Context, channel string, message interface{}) error {
	return errors.New("broker down")
}

func TestAuditLogger_LogEvent_PersistsAndPublishes(t *testing.T) {
	ctx := context.Background()
	store := &recordingStore{}
	bus := cache.NewMemoryClient(time.Minute, time.Minute)
	defer bus.Close()

	msgs, unsubscribe, err := bus.Subscribe(ctx, DefaultChannel)
	require.NoError(t, err)
	defer unsubscribe()

	audit := NewAuditLogger(observability.Nop(), store, bus, "")
	batchID := uuid.New()
	err = audit.LogPreviewed(ctx, "dealer-1", batchID, "alice", reconcile.Summary{Creates: 2}, false)
	require.NoError(t, err)

	require.Len(t, store.events, 1)
	persisted := store.events[0]
	assert.Equal(t, EventPreviewed, persisted.EventType)
	assert.Equal(t, "dealer-1", persisted.DealerID)
	assert.Equal(t, "alice", persisted.Actor)
	require.NotNil(t, persisted.BatchID)
	assert.Equal(t, batchID, *persisted.BatchID)
	assert.NotEqual(t, uuid.Nil, persisted.ID)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(persisted.Payload, &payload))
	assert.Equal(t, false, payload["cached"])

	select {
	case raw := <-msgs:
		var published AuditEvent
		require.NoError(t, json.Unmarshal(raw, &published))
		assert.Equal(t, persisted.ID, published.ID)
		assert.Equal(t, EventPreviewed, published.EventType)
	case <-time.After(time.Second):
		t.Fatal("audit event was not published")
	}
}

func TestAuditLogger_LogEvent_StoreError(t *testing.T) {
	audit := NewAuditLogger(observability.Nop(), &recordingStore{err: errors.New("disk full")}, nil, "")

	err := audit.LogEvent(context.Background(), AuditEvent{EventType: EventReviewed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist audit event")
}

func TestAuditLogger_LogEvent_PublishErrorIgnored(t *testing.T) {
	store := &recordingStore{}
	audit := NewAuditLogger(observability.Nop(), store, failingPublisher{}, "custom")

	err := audit.LogDiscarded(context.Background(), "dealer-1", uuid.New(), "bob")
	require.NoError(t, err)
	require.Len(t, store.events, 1)
	assert.Equal(t, EventDiscarded, store.events[0].EventType)
	assert.Nil(t, store.events[0].Payload)
}

func TestAuditLogger_Helpers(t *testing.T) {
	ctx := context.Background()
	store := &recordingStore{}
	audit := NewAuditLogger(nil, store, nil, "")

	batchID := uuid.New()
	require.NoError(t, audit.LogReviewed(ctx, "d", batchID, "r", storage.ReviewStatusApproved, 3))
	require.NoError(t, audit.LogApplied(ctx, "d", "r", &storage.ApplyReport{BatchID: batchID, Created: 1, Skipped: 2}))
	require.NoError(t, audit.LogPurged(ctx, "cli", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 4))

	require.Len(t, store.events, 3)
	assert.Equal(t, EventReviewed, store.events[0].EventType)
	assert.Equal(t, EventApplied, store.events[1].EventType)
	assert.Equal(t, EventPurged, store.events[2].EventType)
	assert.Nil(t, store.events[2].BatchID)

	var applied map[string]interface{}
	require.NoError(t, json.Unmarshal(store.events[1].Payload, &applied))
	assert.Equal(t, float64(1), applied["created"])
	assert.Equal(t, float64(2), applied["skipped"])
}
