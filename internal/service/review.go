package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/leasingborsen/listing-sync/internal/domain"
	"github.com/leasingborsen/listing-sync/internal/reconcile"
	"github.com/leasingborsen/listing-sync/internal/storage"
)

// ReviewRequest records a verdict on decisions of a pending batch. Either
// Positions or ChangeType selects the decisions.
type ReviewRequest struct {
	BatchID    uuid.UUID            `json:"batch_id"`
	Positions  []int                `json:"positions,omitempty"`
	ChangeType reconcile.ChangeType `json:"change_type,omitempty"`
	Status     storage.ReviewStatus `json:"status"`
	Reviewer   string               `json:"reviewer"`
}

// GetBatch returns a batch with its decisions.
func (s *Service) GetBatch(ctx context.Context, batchID uuid.UUID) (*PreviewResult, error) {
	repos := s.store.Repositories()
	batch, err := repos.Batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, storageErr("get batch", err)
	}
	decisions, err := repos.Batches.ListDecisions(ctx, batchID)
	if err != nil {
		return nil, storageErr("list decisions", err)
	}
	return &PreviewResult{Batch: batch, Decisions: decisions}, nil
}

// ListBatches returns a dealer's most recent batches.
func (s *Service) ListBatches(ctx context.Context, dealerID string, limit int) ([]*storage.Batch, error) {
	batches, err := s.store.Repositories().Batches.ListByDealer(ctx, dealerID, limit)
	if err != nil {
		return nil, storageErr("list batches", err)
	}
	return batches, nil
}

// Review approves or rejects decisions of a pending batch and returns how many changed.
func (s *Service) Review(ctx context.Context, req ReviewRequest) (int, error) {
	if !req.Status.Valid() {
		return 0, domain.ValidationError("invalid review status: "+string(req.Status), nil)
	}
	if len(req.Positions) == 0 && req.ChangeType == "" {
		return 0, domain.ValidationError("positions or change_type is required", nil)
	}

	batch, err := s.pendingBatch(ctx, req.BatchID)
	if err != nil {
		return 0, err
	}

	repos := s.store.Repositories()
	var updated int
	if len(req.Positions) > 0 {
		updated, err = repos.Batches.SetReviewStatus(ctx, req.BatchID, req.Positions, req.Status, req.Reviewer)
	} else {
		updated, err = repos.Batches.SetReviewStatusByChangeType(ctx, req.BatchID, req.ChangeType, req.Status, req.Reviewer)
	}
	if err != nil {
		return updated, storageErr("record review", err)
	}

	s.logger.WithContext(ctx).WithBatch(req.BatchID.String()).Info().
		Str("status", string(req.Status)).
		Str("reviewer", req.Reviewer).
		Int("updated", updated).
		Msg("Decisions reviewed")

	if err := s.audit.LogReviewed(ctx, batch.DealerID, batch.ID, req.Reviewer, req.Status, updated); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to audit review")
	}
	return updated, nil
}

// Apply writes the approved decisions of a pending batch to the catalog.
func (s *Service) Apply(ctx context.Context, batchID uuid.UUID, actor string) (*storage.ApplyReport, error) {
	batch, err := s.pendingBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	lock := s.dealerLock(batch.DealerID)
	lock.Lock()
	defer lock.Unlock()

	log := s.logger.WithContext(ctx).WithDealer(batch.DealerID).WithBatch(batchID.String())

	report, err := s.store.ApplyBatch(ctx, batchID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to apply batch")
		return nil, storageErr("apply batch", err)
	}

	if err := s.results.Invalidate(ctx, batch.DealerID); err != nil {
		log.Warn().Err(err).Msg("Failed to invalidate preview cache")
	}

	log.Info().
		Int("created", report.Created).
		Int("updated", report.Updated).
		Int("deleted", report.Deleted).
		Int("unchanged", report.Unchanged).
		Int("skipped", report.Skipped).
		Msg("Batch applied")

	if err := s.audit.LogApplied(ctx, batch.DealerID, actor, report); err != nil {
		log.Warn().Err(err).Msg("Failed to audit apply")
	}
	return report, nil
}

// Discard closes a pending batch without touching the catalog.
func (s *Service) Discard(ctx context.Context, batchID uuid.UUID, actor string) error {
	batch, err := s.pendingBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if err := s.store.Repositories().Batches.TransitionStatus(ctx, batchID, storage.BatchStatusPendingReview, storage.BatchStatusDiscarded); err != nil {
		return storageErr("discard batch", err)
	}
	if err := s.results.Invalidate(ctx, batch.DealerID); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to invalidate preview cache")
	}
	if err := s.audit.LogDiscarded(ctx, batch.DealerID, batchID, actor); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to audit discard")
	}
	return nil
}

// Purge deletes applied and discarded batches older than the retention period.
func (s *Service) Purge(ctx context.Context, actor string) (int64, error) {
	if s.cfg.Retention <= 0 {
		return 0, domain.ConfigError("review retention is not configured", nil)
	}
	cutoff := time.Now().UTC().Add(-s.cfg.Retention)

	removed, err := s.store.Repositories().Batches.PurgeBefore(ctx, cutoff)
	if err != nil {
		return 0, storageErr("purge batches", err)
	}

	s.logger.Info().
		Str("cutoff", cutoff.Format(time.RFC3339)).
		Int("removed", int(removed)).
		Msg("Purged finished batches")

	if err := s.audit.LogPurged(ctx, actor, cutoff, removed); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to audit purge")
	}
	return removed, nil
}

// AuditTrail returns a dealer's most recent audit events.
func (s *Service) AuditTrail(ctx context.Context, dealerID string, limit int) ([]*storage.AuditEvent, error) {
	events, err := s.store.Repositories().Audit.ListByDealer(ctx, dealerID, limit)
	if err != nil {
		return nil, storageErr("list audit events", err)
	}
	return events, nil
}

func (s *Service) pendingBatch(ctx context.Context, batchID uuid.UUID) (*storage.Batch, error) {
	batch, err := s.store.Repositories().Batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, storageErr("get batch", err)
	}
	if batch.Status != storage.BatchStatusPendingReview {
		return nil, domain.ConflictError("batch is "+string(batch.Status), storage.ErrConflict)
	}
	return batch, nil
}

// Ready reports whether the backing store is reachable.
func (s *Service) Ready(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return domain.StorageError("database unreachable", err)
	}
	return nil
}
