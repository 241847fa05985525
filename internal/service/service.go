// Package service orchestrates reconciliation runs: it loads a dealer's
// catalog, runs the matching engine, stores the decisions for review and
// applies the approved ones.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leasingborsen/listing-sync/internal/cache"
	"github.com/leasingborsen/listing-sync/internal/config"
	"github.com/leasingborsen/listing-sync/internal/domain"
	"github.com/leasingborsen/listing-sync/internal/monitoring"
	"github.com/leasingborsen/listing-sync/internal/observability"
	"github.com/leasingborsen/listing-sync/internal/reconcile"
	"github.com/leasingborsen/listing-sync/internal/storage"
)

// SystemActor is recorded as reviewer for automatic approvals.
const SystemActor = "system"

// Config holds service settings.
type Config struct {
	AutoApproveUnchanged bool
	Workers              int
	CacheTTL             time.Duration
	Retention            time.Duration
}

// ConfigFrom extracts service settings from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		AutoApproveUnchanged: cfg.Review.AutoApproveUnchanged,
		Workers:              cfg.Reconcile.Workers,
		CacheTTL:             cfg.Cache.TTL,
		Retention:            cfg.Review.Retention,
	}
}

// Service runs and tracks reconciliation batches.
type Service struct {
	store      *storage.Store
	reconciler *reconcile.Reconciler
	results    *ResultCache
	audit      *monitoring.AuditLogger
	logger     *observability.Logger
	cfg        Config

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a service. cacheClient and audit may be nil.
func New(store *storage.Store, reconciler *reconcile.Reconciler, cacheClient cache.Client, audit *monitoring.AuditLogger, logger *observability.Logger, cfg Config) *Service {
	if logger == nil {
		logger = observability.Nop()
	}
	if reconciler == nil {
		reconciler = reconcile.NewReconciler(reconcile.DefaultOptions())
	}
	if audit == nil {
		audit = monitoring.NewAuditLogger(logger, nil, nil, "")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Service{
		store:      store,
		reconciler: reconciler,
		results:    NewResultCache(cacheClient, cfg.CacheTTL),
		audit:      audit,
		logger:     logger,
		cfg:        cfg,
		locks:      make(map[string]*sync.Mutex),
	}
}

// PreviewRequest is one dealer upload to reconcile.
type PreviewRequest struct {
	DealerID  string                   `json:"dealer_id"`
	Extracted []reconcile.ExtractedCar `json:"extracted"`
	Actor     string                   `json:"actor,omitempty"`
}

// PreviewResult is a stored batch together with its decisions.
type PreviewResult struct {
	Batch     *storage.Batch      `json:"batch"`
	Decisions []*storage.Decision `json:"decisions"`
	// Cached is true when an identical upload already produced this batch.
	Cached bool `json:"cached"`
}

// dealerLock serialises runs that read and write the same dealer catalog.
func (s *Service) dealerLock(dealerID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[dealerID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[dealerID] = l
	}
	return l
}

// Diff runs the engine without touching storage.
func (s *Service) Diff(extracted []reconcile.ExtractedCar, existing []reconcile.ExistingListing) *reconcile.Result {
	return s.reconciler.Reconcile(extracted, existing)
}

// Catalog returns the dealer's current listings.
func (s *Service) Catalog(ctx context.Context, dealerID string) ([]*storage.Listing, error) {
	listings, err := s.store.Repositories().Listings.ListByDealer(ctx, dealerID)
	if err != nil {
		return nil, domain.StorageError("load catalog", err)
	}
	return listings, nil
}

// Preview reconciles an upload against the dealer's catalog and stores the
// decisions as a batch pending review. Nothing in the catalog changes.
func (s *Service) Preview(ctx context.Context, req PreviewRequest) (*PreviewResult, error) {
	if req.DealerID == "" {
		return nil, domain.ValidationError("dealer_id is required", nil)
	}
	if len(req.Extracted) == 0 {
		return nil, domain.ValidationError("no extracted records", nil)
	}

	log := s.logger.WithContext(ctx).WithDealer(req.DealerID).WithOperation("preview")
	start := time.Now()

	lock := s.dealerLock(req.DealerID)
	lock.Lock()
	defer lock.Unlock()

	listings, err := s.Catalog(ctx, req.DealerID)
	if err != nil {
		return nil, err
	}
	catalog := make([]reconcile.ExistingListing, len(listings))
	for i, l := range listings {
		catalog[i] = l.ToExisting()
	}

	opts := s.reconciler.Options()
	inputHash, err := InputHash(req.DealerID, req.Extracted, catalog, opts)
	if err != nil {
		return nil, domain.ValidationError("fingerprint upload", err)
	}

	if cached, err := s.cachedPreview(ctx, req.DealerID, inputHash); err != nil {
		log.Warn().Err(err).Msg("Preview cache lookup failed")
	} else if cached != nil {
		log.Info().Str("batch_id", cached.Batch.ID.String()).Msg("Returning cached preview")
		return cached, nil
	}

	result := s.reconciler.Reconcile(req.Extracted, catalog)

	batch := &storage.Batch{
		DealerID:  req.DealerID,
		InputHash: inputHash,
		Options:   optionsSnapshot(opts),
		Summary:   result.Summary,
		CreatedBy: req.Actor,
	}
	decisions := make([]*storage.Decision, len(result.Matches))
	for i, m := range result.Matches {
		d := &storage.Decision{Position: i, Match: m, ReviewStatus: storage.ReviewStatusPending}
		if s.cfg.AutoApproveUnchanged && m.ChangeType == reconcile.ChangeUnchanged {
			now := time.Now().UTC()
			d.ReviewStatus = storage.ReviewStatusApproved
			d.ReviewedBy = SystemActor
			d.ReviewedAt = &now
		}
		decisions[i] = d
	}

	if err := s.store.WithTx(ctx, func(repos *storage.Repositories) error {
		return repos.Batches.Create(ctx, batch, decisions)
	}); err != nil {
		return nil, domain.StorageError("store batch", err)
	}

	if err := s.results.Put(ctx, req.DealerID, inputHash, batch.ID); err != nil {
		log.Warn().Err(err).Msg("Failed to cache preview")
	}

	log.Info().
		Str("batch_id", batch.ID.String()).
		Int("extracted", result.Summary.Extracted).
		Int("existing", result.Summary.Existing).
		Int("creates", result.Summary.Creates).
		Int("updates", result.Summary.Updates).
		Int("unchanged", result.Summary.Unchanged).
		Int("deletes", result.Summary.Deletes).
		Dur("duration", time.Since(start)).
		Msg("Reconciliation preview stored")

	if err := s.audit.LogPreviewed(ctx, req.DealerID, batch.ID, req.Actor, result.Summary, false); err != nil {
		log.Warn().Err(err).Msg("Failed to audit preview")
	}

	return &PreviewResult{Batch: batch, Decisions: decisions}, nil
}

// cachedPreview returns the pending batch an identical upload produced, or nil.
func (s *Service) cachedPreview(ctx context.Context, dealerID, inputHash string) (*PreviewResult, error) {
	batchID, ok, err := s.results.Get(ctx, dealerID, inputHash)
	if err != nil || !ok {
		return nil, err
	}

	repos := s.store.Repositories()
	batch, err := repos.Batches.GetByID(ctx, batchID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if batch.Status != storage.BatchStatusPendingReview {
		return nil, nil
	}
	decisions, err := repos.Batches.ListDecisions(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return &PreviewResult{Batch: batch, Decisions: decisions, Cached: true}, nil
}

// PreviewOutcome is the result of one dealer in PreviewMany.
type PreviewOutcome struct {
	DealerID string
	Result   *PreviewResult
	Err      error
}

// PreviewMany previews uploads of independent dealers concurrently, at most
// Config.Workers at a time. Failures are reported per dealer; the returned
// error is only set when ctx is cancelled. onDone, if set, is called after
// each dealer finishes.
func (s *Service) PreviewMany(ctx context.Context, reqs []PreviewRequest, onDone func(PreviewOutcome)) ([]PreviewOutcome, error) {
	outcomes := make([]PreviewOutcome, len(reqs))

	var doneMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)

	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := s.Preview(gctx, req)
			outcomes[i] = PreviewOutcome{DealerID: req.DealerID, Result: res, Err: err}
			if onDone != nil {
				doneMu.Lock()
				onDone(outcomes[i])
				doneMu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

func optionsSnapshot(opts reconcile.Options) json.RawMessage {
	data, err := json.Marshal(map[string]interface{}{
		"deletion_policy": opts.DeletionPolicy,
		"assignment":      opts.Assignment,
		"match_threshold": opts.Scoring.MatchThreshold,
	})
	if err != nil {
		return nil
	}
	return data
}

func storageErr(msg string, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return domain.NotFoundError(msg, err)
	case errors.Is(err, storage.ErrConflict):
		return domain.ConflictError(msg, err)
	default:
		return domain.StorageError(msg, err)
	}
}
