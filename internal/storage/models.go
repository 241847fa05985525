// Package storage provides database models and repositories for the listing sync service.
package storage

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/leasingborsen/listing-sync/internal/reconcile"
)

// BatchStatus represents the lifecycle of a reconciliation batch.
type BatchStatus string

const (
	BatchStatusPendingReview BatchStatus = "pending_review"
	BatchStatusApplied       BatchStatus = "applied"
	BatchStatusDiscarded     BatchStatus = "discarded"
)

// ReviewStatus represents a reviewer's verdict on one decision.
type ReviewStatus string

const (
	ReviewStatusPending  ReviewStatus = "pending"
	ReviewStatusApproved ReviewStatus = "approved"
	ReviewStatusRejected ReviewStatus = "rejected"
)

// Valid reports whether s is a known review status.
func (s ReviewStatus) Valid() bool {
	switch s {
	case ReviewStatusPending, ReviewStatusApproved, ReviewStatusRejected:
		return true
	}
	return false
}

// Listing is a published catalog entry of a dealer. Offers are stored in
// lease_pricing and attached on read.
type Listing struct {
	ID       uuid.UUID `json:"id"`
	DealerID string    `json:"dealer_id"`
	reconcile.CarSpec
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ToExisting converts a catalog row into the engine's input shape.
func (l *Listing) ToExisting() reconcile.ExistingListing {
	return reconcile.ExistingListing{ID: l.ID.String(), CarSpec: l.CarSpec}
}

// Batch is one persisted reconciliation run awaiting or past review.
type Batch struct {
	ID        uuid.UUID         `json:"id"`
	DealerID  string            `json:"dealer_id"`
	Status    BatchStatus       `json:"status"`
	InputHash string            `json:"input_hash"`
	Options   json.RawMessage   `json:"options,omitempty"`
	Summary   reconcile.Summary `json:"summary"`
	CreatedBy string            `json:"created_by,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	AppliedAt *time.Time        `json:"applied_at,omitempty"`
}

// Decision is one engine decision inside a batch plus its review state.
type Decision struct {
	ID           uuid.UUID              `json:"id"`
	BatchID      uuid.UUID              `json:"batch_id"`
	Position     int                    `json:"position"`
	Match        reconcile.ListingMatch `json:"match"`
	ReviewStatus ReviewStatus           `json:"review_status"`
	ReviewedBy   string                 `json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time             `json:"reviewed_at,omitempty"`
}

// ListingID returns the catalog listing this decision touches, if any.
func (d *Decision) ListingID() (uuid.UUID, bool) {
	if d.Match.Existing == nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(d.Match.Existing.ID)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// AuditEvent is a persisted audit trail entry.
type AuditEvent struct {
	ID        uuid.UUID       `json:"id"`
	EventType string          `json:"event_type"`
	DealerID  string          `json:"dealer_id"`
	BatchID   *uuid.UUID      `json:"batch_id,omitempty"`
	Actor     string          `json:"actor,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// ApplyReport summarises what applying a batch wrote to the catalog.
type ApplyReport struct {
	BatchID    uuid.UUID   `json:"batch_id"`
	Created    int         `json:"created"`
	Updated    int         `json:"updated"`
	Deleted    int         `json:"deleted"`
	Unchanged  int         `json:"unchanged"`
	Skipped    int         `json:"skipped"`
	CreatedIDs []uuid.UUID `json:"created_ids,omitempty"`
}
