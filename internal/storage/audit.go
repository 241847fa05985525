package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditRepository persists audit events.
type AuditRepository struct {
	db DB
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(db DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create inserts an audit event.
func (r *AuditRepository) Create(ctx context.Context, e *AuditEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_events (id, event_type, dealer_id, batch_id, actor, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := r.db.ExecContext(ctx, query,
		e.ID, e.EventType, e.DealerID, e.BatchID, e.Actor, nullableJSON(e.Payload), e.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByDealer returns a dealer's audit trail, newest first.
func (r *AuditRepository) ListByDealer(ctx context.Context, dealerID string, limit int) ([]*AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, event_type, dealer_id, batch_id, actor, payload, created_at
		FROM audit_events
		WHERE dealer_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, dealerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []*AuditEvent
	for rows.Next() {
		var (
			e       AuditEvent
			batchID *string
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.EventType, &e.DealerID, &batchID, &e.Actor, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if batchID != nil {
			id, err := uuid.Parse(*batchID)
			if err == nil {
				e.BatchID = &id
			}
		}
		if len(payload) > 0 {
			e.Payload = payload
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
