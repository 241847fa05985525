package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/leasingborsen/listing-sync/internal/reconcile"
)

// BatchRepository handles reconciliation batches and their decisions.
type BatchRepository struct {
	db DB
}

// NewBatchRepository creates a new batch repository.
func NewBatchRepository(db DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// Create inserts a batch together with its decisions. Callers should run it
// inside Store.WithTx so that a batch is never stored half-written.
func (r *BatchRepository) Create(ctx context.Context, b *Batch, decisions []*Decision) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.Status == "" {
		b.Status = BatchStatusPendingReview
	}
	b.CreatedAt = time.Now().UTC()

	summary, err := json.Marshal(b.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	query := `
		INSERT INTO reconciliation_batches (id, dealer_id, status, input_hash, options, summary, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := r.db.ExecContext(ctx, query,
		b.ID, b.DealerID, string(b.Status), b.InputHash, nullableJSON(b.Options),
		string(summary), b.CreatedBy, b.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	for _, d := range decisions {
		d.BatchID = b.ID
		if err := r.insertDecision(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (r *BatchRepository) insertDecision(ctx context.Context, d *Decision) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.ReviewStatus == "" {
		d.ReviewStatus = ReviewStatusPending
	}

	m := d.Match
	extracted, err := marshalOptional(m.Extracted, m.Extracted == nil)
	if err != nil {
		return fmt.Errorf("marshal extracted: %w", err)
	}
	existing, err := marshalOptional(m.Existing, m.Existing == nil)
	if err != nil {
		return fmt.Errorf("marshal existing: %w", err)
	}
	changes, err := marshalOptional(m.Changes, m.Changes == nil)
	if err != nil {
		return fmt.Errorf("marshal changes: %w", err)
	}

	var listingID *string
	if m.Existing != nil {
		listingID = &m.Existing.ID
	}

	query := `
		INSERT INTO reconciliation_decisions (id, batch_id, position, change_type, match_method,
			confidence, extracted_index, listing_id, extracted, existing, changes, offers_changed,
			change_summary, review_status, reviewed_by, reviewed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	if _, err := r.db.ExecContext(ctx, query,
		d.ID, d.BatchID, d.Position, string(m.ChangeType), string(m.MatchMethod),
		m.Confidence, m.ExtractedIndex, listingID, extracted, existing, changes, m.OffersChanged,
		m.ChangeSummary, string(d.ReviewStatus), d.ReviewedBy, d.ReviewedAt,
	); err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

const batchColumns = `id, dealer_id, status, input_hash, options, summary, created_by, created_at, applied_at`

// GetByID retrieves a batch.
func (r *BatchRepository) GetByID(ctx context.Context, id uuid.UUID) (*Batch, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM reconciliation_batches WHERE id = $1`, id)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

// ListByDealer returns the most recent batches of a dealer, newest first.
func (r *BatchRepository) ListByDealer(ctx context.Context, dealerID string, limit int) ([]*Batch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+batchColumns+` FROM reconciliation_batches WHERE dealer_id = $1 ORDER BY created_at DESC LIMIT $2`,
		dealerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	var batches []*Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// ListDecisions returns the decisions of a batch in engine order.
func (r *BatchRepository) ListDecisions(ctx context.Context, batchID uuid.UUID) ([]*Decision, error) {
	query := `
		SELECT id, batch_id, position, change_type, match_method, confidence, extracted_index,
			extracted, existing, changes, offers_changed, change_summary, review_status,
			reviewed_by, reviewed_at
		FROM reconciliation_decisions
		WHERE batch_id = $1
		ORDER BY position
	`
	rows, err := r.db.QueryContext(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*Decision
	for rows.Next() {
		var (
			d                            Decision
			changeType, method, review   string
			extracted, existing, changes []byte
		)
		if err := rows.Scan(
			&d.ID, &d.BatchID, &d.Position, &changeType, &method, &d.Match.Confidence,
			&d.Match.ExtractedIndex, &extracted, &existing, &changes, &d.Match.OffersChanged,
			&d.Match.ChangeSummary, &review, &d.ReviewedBy, &d.ReviewedAt,
		); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d.Match.ChangeType = reconcile.ChangeType(changeType)
		d.Match.MatchMethod = reconcile.MatchMethod(method)
		d.ReviewStatus = ReviewStatus(review)

		if len(extracted) > 0 {
			d.Match.Extracted = &reconcile.ExtractedCar{}
			if err := json.Unmarshal(extracted, d.Match.Extracted); err != nil {
				return nil, fmt.Errorf("decode extracted: %w", err)
			}
		}
		if len(existing) > 0 {
			d.Match.Existing = &reconcile.ExistingListing{}
			if err := json.Unmarshal(existing, d.Match.Existing); err != nil {
				return nil, fmt.Errorf("decode existing: %w", err)
			}
		}
		if len(changes) > 0 {
			if err := json.Unmarshal(changes, &d.Match.Changes); err != nil {
				return nil, fmt.Errorf("decode changes: %w", err)
			}
		}
		decisions = append(decisions, &d)
	}
	return decisions, rows.Err()
}

// SetReviewStatus records a reviewer verdict for the decisions at the given
// positions. It returns the number of decisions updated.
func (r *BatchRepository) SetReviewStatus(ctx context.Context, batchID uuid.UUID, positions []int, status ReviewStatus, reviewer string) (int, error) {
	if !status.Valid() {
		return 0, fmt.Errorf("invalid review status: %s", status)
	}

	now := time.Now().UTC()
	query := `
		UPDATE reconciliation_decisions SET review_status = $1, reviewed_by = $2, reviewed_at = $3
		WHERE batch_id = $4 AND position = $5
	`
	updated := 0
	for _, pos := range positions {
		res, err := r.db.ExecContext(ctx, query, string(status), reviewer, now, batchID, pos)
		if err != nil {
			return updated, fmt.Errorf("update review status: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			updated++
		}
	}
	return updated, nil
}

// SetReviewStatusByChangeType records a verdict for every decision of one change type.
func (r *BatchRepository) SetReviewStatusByChangeType(ctx context.Context, batchID uuid.UUID, changeType reconcile.ChangeType, status ReviewStatus, reviewer string) (int, error) {
	if !status.Valid() {
		return 0, fmt.Errorf("invalid review status: %s", status)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE reconciliation_decisions SET review_status = $1, reviewed_by = $2, reviewed_at = $3
		WHERE batch_id = $4 AND change_type = $5
	`, string(status), reviewer, time.Now().UTC(), batchID, string(changeType))
	if err != nil {
		return 0, fmt.Errorf("update review status: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// TransitionStatus moves a batch from one status to another. It returns
// ErrConflict when the batch is not in the expected status.
func (r *BatchRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to BatchStatus) error {
	var appliedAt *time.Time
	if to == BatchStatusApplied {
		now := time.Now().UTC()
		appliedAt = &now
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE reconciliation_batches SET status = $1, applied_at = $2
		WHERE id = $3 AND status = $4
	`, string(to), appliedAt, id, string(from))
	if err != nil {
		return fmt.Errorf("update batch status: %w", err)
	}
	if err := expectAffected(res); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrConflict
		}
		return err
	}
	return nil
}

// PurgeBefore deletes finished batches created before cutoff. Pending batches are kept.
func (r *BatchRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if _, err := r.db.ExecContext(ctx, `
		DELETE FROM reconciliation_decisions WHERE batch_id IN (
			SELECT id FROM reconciliation_batches WHERE status <> $1 AND created_at < $2
		)
	`, string(BatchStatusPendingReview), cutoff); err != nil {
		return 0, fmt.Errorf("purge decisions: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM reconciliation_batches WHERE status <> $1 AND created_at < $2`,
		string(BatchStatusPendingReview), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("purge batches: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBatch(row rowScanner) (*Batch, error) {
	var (
		b                Batch
		status           string
		options, summary []byte
	)
	if err := row.Scan(&b.ID, &b.DealerID, &status, &b.InputHash, &options, &summary,
		&b.CreatedBy, &b.CreatedAt, &b.AppliedAt); err != nil {
		return nil, err
	}
	b.Status = BatchStatus(status)
	if len(options) > 0 {
		b.Options = json.RawMessage(options)
	}
	if err := json.Unmarshal(summary, &b.Summary); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return &b, nil
}

// marshalOptional encodes v as a JSON string, or returns nil for SQL NULL.
// JSON travels as text so that lib/pq does not send it as bytea.
func marshalOptional(v interface{}, isNil bool) (*string, error) {
	if isNil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}

func nullableJSON(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	s := string(raw)
	return &s
}
