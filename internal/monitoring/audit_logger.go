// Package monitoring provides audit logging for reconciliation runs.
package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/leasingborsen/listing-sync/internal/cache"
	"github.com/leasingborsen/listing-sync/internal/observability"
	"github.com/leasingborsen/listing-sync/internal/reconcile"
	"github.com/leasingborsen/listing-sync/internal/storage"
)

// Audit event types.
const (
	EventPreviewed = "reconciliation.previewed"
	EventReviewed  = "decision.reviewed"
	EventApplied   = "batch.applied"
	EventDiscarded = "batch.discarded"
	EventPurged    = "batches.purged"
)

// DefaultChannel is the pub/sub channel audit events are published on.
const DefaultChannel = "audit.events"

// EventStore persists audit events.
type EventStore interface {
	Create(ctx context.Context, e *storage.AuditEvent) error
}

// AuditLogger handles audit event logging.
type AuditLogger struct {
	logger    *observability.Logger
	store     EventStore
	publisher cache.Publisher
	channel   string
}

// AuditEvent represents an auditable action.
type AuditEvent struct {
	ID         uuid.UUID              `json:"id"`
	EventType  string                 `json:"event_type"`
	DealerID   string                 `json:"dealer_id"`
	BatchID    *uuid.UUID             `json:"batch_id,omitempty"`
	Actor      string                 `json:"actor,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// NewAuditLogger creates a new audit logger. store and publisher may be nil.
func NewAuditLogger(logger *observability.Logger, store EventStore, publisher cache.Publisher, channel string) *AuditLogger {
	if logger == nil {
		logger = observability.Nop()
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &AuditLogger{
		logger:    logger,
		store:     store,
		publisher: publisher,
		channel:   channel,
	}
}

// LogEvent records an audit event. Persistence failures are returned;
// publish failures are only logged.
func (a *AuditLogger) LogEvent(ctx context.Context, event AuditEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	entry := a.logger.Info().
		Str("event_id", event.ID.String()).
		Str("event_type", event.EventType).
		Str("dealer_id", event.DealerID).
		Str("actor", event.Actor)
	if event.BatchID != nil {
		entry = entry.Str("batch_id", event.BatchID.String())
	}
	entry.Msg("Audit event")

	if a.store != nil {
		record := &storage.AuditEvent{
			ID:        event.ID,
			EventType: event.EventType,
			DealerID:  event.DealerID,
			BatchID:   event.BatchID,
			Actor:     event.Actor,
			CreatedAt: event.OccurredAt,
		}
		if event.Payload != nil {
			payload, err := json.Marshal(event.Payload)
			if err != nil {
				return fmt.Errorf("marshal audit payload: %w", err)
			}
			record.Payload = payload
		}
		if err := a.store.Create(ctx, record); err != nil {
			return fmt.Errorf("persist audit event: %w", err)
		}
	}

	if a.publisher != nil {
		if err := a.publisher.Publish(ctx, a.channel, event); err != nil {
			a.logger.Warn().
				Err(err).
				Str("event_id", event.ID.String()).
				Str("channel", a.channel).
				Msg("Failed to publish audit event")
		}
	}

	return nil
}

// LogPreviewed records a completed reconciliation preview.
func (a *AuditLogger) LogPreviewed(ctx context.Context, dealerID string, batchID uuid.UUID, actor string, summary reconcile.Summary, cached bool) error {
	return a.LogEvent(ctx, AuditEvent{
		EventType: EventPreviewed,
		DealerID:  dealerID,
		BatchID:   &batchID,
		Actor:     actor,
		Payload: map[string]interface{}{
			"summary": summary,
			"cached":  cached,
		},
	})
}

// LogReviewed records a reviewer verdict on a set of decisions.
func (a *AuditLogger) LogReviewed(ctx context.Context, dealerID string, batchID uuid.UUID, actor string, status storage.ReviewStatus, updated int) error {
	return a.LogEvent(ctx, AuditEvent{
		EventType: EventReviewed,
		DealerID:  dealerID,
		BatchID:   &batchID,
		Actor:     actor,
		Payload: map[string]interface{}{
			"status":  string(status),
			"updated": updated,
		},
	})
}

// LogApplied records a batch written to the catalog.
func (a *AuditLogger) LogApplied(ctx context.Context, dealerID string, actor string, report *storage.ApplyReport) error {
	batchID := report.BatchID
	return a.LogEvent(ctx, AuditEvent{
		EventType: EventApplied,
		DealerID:  dealerID,
		BatchID:   &batchID,
		Actor:     actor,
		Payload: map[string]interface{}{
			"created":   report.Created,
			"updated":   report.Updated,
			"deleted":   report.Deleted,
			"unchanged": report.Unchanged,
			"skipped":   report.Skipped,
		},
	})
}

// LogDiscarded records a batch dropped without being applied.
func (a *AuditLogger) LogDiscarded(ctx context.Context, dealerID string, batchID uuid.UUID, actor string) error {
	return a.LogEvent(ctx, AuditEvent{
		EventType: EventDiscarded,
		DealerID:  dealerID,
		BatchID:   &batchID,
		Actor:     actor,
	})
}

// LogPurged records a retention sweep.
func (a *AuditLogger) LogPurged(ctx context.Context, actor string, cutoff time.Time, removed int64) error {
	return a.LogEvent(ctx, AuditEvent{
		EventType: EventPurged,
		Actor:     actor,
		Payload: map[string]interface{}{
			"cutoff":  cutoff.Format(time.RFC3339),
			"removed": removed,
		},
	})
}
