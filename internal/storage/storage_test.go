package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leasingborsen/listing-sync/internal/config"
	"github.com/leasingborsen/listing-sync/internal/reconcile"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	store, err := Open(ctx, config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{
			Path:         filepath.Join(t.TempDir(), "listing-sync.db"),
			MaxOpenConns: 1,
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.Migrate(ctx)
	require.NoError(t, err)
	return store
}

func intPtr(n int) *int { return &n }

func seedListing(t *testing.T, store *Store, dealerID, brand, model, variant string, offers ...reconcile.Offer) *Listing {
	t.Helper()
	l := &Listing{
		DealerID: dealerID,
		CarSpec:  reconcile.CarSpec{Make: brand, Model: model, Variant: variant, Offers: offers},
	}
	require.NoError(t, store.Repositories().Listings.Create(context.Background(), l))
	return l
}

func TestMigrate_Idempotent(t *testing.T) {
	store := newTestStore(t)

	status, err := store.Migrate(context.Background())
	require.NoError(t, err)

	assert.True(t, status.UpToDate)
	assert.Empty(t, status.Pending)
	assert.Equal(t, []string{"0001_init_sqlite.sql"}, status.Applied)
}

func TestListingRepository_CreateAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	repo := store.Repositories().Listings

	first := seedListing(t, store, "dealer-1", "Toyota", "AYGO X", "1.0 VVT-i 72 HK Pulse",
		reconcile.NewOffer(2299, 4995, 36, 15000),
		reconcile.NewOffer(2499, 0, 36, 20000),
	)
	second := &Listing{
		DealerID: "dealer-1",
		CarSpec: reconcile.CarSpec{
			Make: "Toyota", Model: "bZ4X", Variant: "Active 218 HK",
			Horsepower: intPtr(218), Transmission: reconcile.TransmissionAutomatic,
		},
	}
	require.NoError(t, repo.Create(ctx, second))
	seedListing(t, store, "dealer-2", "Kia", "Picanto", "Prestige")

	listings, err := repo.ListByDealer(ctx, "dealer-1")
	require.NoError(t, err)
	require.Len(t, listings, 2)

	assert.Equal(t, first.ID, listings[0].ID)
	require.Len(t, listings[0].Offers, 2)
	assert.Equal(t, 2299.0, *listings[0].Offers[0].MonthlyPrice)
	assert.Equal(t, 2299.0*36+4995, *listings[0].Offers[0].TotalPrice)
	assert.Equal(t, 2499.0, *listings[0].Offers[1].MonthlyPrice)

	assert.Equal(t, second.ID, listings[1].ID)
	assert.NotNil(t, listings[1].Offers)
	assert.Empty(t, listings[1].Offers)
	require.NotNil(t, listings[1].Horsepower)
	assert.Equal(t, 218, *listings[1].Horsepower)
	assert.Equal(t, reconcile.TransmissionAutomatic, listings[1].Transmission)
	assert.Nil(t, listings[1].Year)

	existing := listings[0].ToExisting()
	assert.Equal(t, first.ID.String(), existing.ID)
	assert.Equal(t, "AYGO X", existing.Model)
}

func TestListingRepository_UpdateDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	repo := store.Repositories().Listings

	l := seedListing(t, store, "dealer-1", "Kia", "Picanto", "Prestige")
	l.Variant = "Prestige Plus"
	require.NoError(t, repo.Update(ctx, l))

	got, err := repo.GetByID(ctx, "dealer-1", l.ID)
	require.NoError(t, err)
	assert.Equal(t, "Prestige Plus", got.Variant)

	_, err = repo.GetByID(ctx, "dealer-2", l.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.Delete(ctx, "dealer-1", l.ID))
	assert.ErrorIs(t, repo.Delete(ctx, "dealer-1", l.ID), ErrNotFound)

	n, err := repo.CountByDealer(ctx, "dealer-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func createBatch(t *testing.T, store *Store, dealerID string, result *reconcile.Result) *Batch {
	t.Helper()
	batch := &Batch{DealerID: dealerID, Summary: result.Summary, InputHash: "hash"}
	decisions := make([]*Decision, len(result.Matches))
	for i, m := range result.Matches {
		decisions[i] = &Decision{Position: i, Match: m}
	}
	require.NoError(t, store.WithTx(context.Background(), func(repos *Repositories) error {
		return repos.Batches.Create(context.Background(), batch, decisions)
	}))
	return batch
}

func catalogFor(t *testing.T, store *Store, dealerID string) []reconcile.ExistingListing {
	t.Helper()
	listings, err := store.Repositories().Listings.ListByDealer(context.Background(), dealerID)
	require.NoError(t, err)
	out := make([]reconcile.ExistingListing, len(listings))
	for i, l := range listings {
		out[i] = l.ToExisting()
	}
	return out
}

func TestBatchRepository_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedListing(t, store, "dealer-1", "Kia", "Picanto", "Prestige", reconcile.NewOffer(1999, 0, 36, 15000))
	seedListing(t, store, "dealer-1", "Kia", "Ceed", "Active")

	extracted := []reconcile.ExtractedCar{
		{CarSpec: reconcile.CarSpec{Make: "Kia", Model: "Picanto", Variant: "Prestige", Offers: []reconcile.Offer{reconcile.NewOffer(2099, 0, 36, 15000)}}},
		{CarSpec: reconcile.CarSpec{Make: "Kia", Model: "EV3", Variant: "Air", Offers: []reconcile.Offer{}}},
	}
	result := reconcile.Reconcile(extracted, catalogFor(t, store, "dealer-1"))
	batch := createBatch(t, store, "dealer-1", result)

	got, err := store.Repositories().Batches.GetByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, BatchStatusPendingReview, got.Status)
	assert.Equal(t, result.Summary, got.Summary)
	assert.Nil(t, got.AppliedAt)

	decisions, err := store.Repositories().Batches.ListDecisions(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, decisions, 3)

	assert.Equal(t, reconcile.ChangeUpdate, decisions[0].Match.ChangeType)
	assert.True(t, decisions[0].Match.OffersChanged)
	assert.Equal(t, "offers", decisions[0].Match.ChangeSummary)
	require.NotNil(t, decisions[0].Match.Existing)
	assert.Equal(t, result.Matches[0].Existing.ID, decisions[0].Match.Existing.ID)

	assert.Equal(t, reconcile.ChangeCreate, decisions[1].Match.ChangeType)
	assert.Nil(t, decisions[1].Match.Existing)
	assert.Equal(t, "EV3", decisions[1].Match.Extracted.Model)

	assert.Equal(t, reconcile.ChangeDelete, decisions[2].Match.ChangeType)
	assert.Equal(t, -1, decisions[2].Match.ExtractedIndex)
	assert.Nil(t, decisions[2].Match.Extracted)
	for _, d := range decisions {
		assert.Equal(t, ReviewStatusPending, d.ReviewStatus)
	}

	batches, err := store.Repositories().Batches.ListByDealer(ctx, "dealer-1", 10)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, batch.ID, batches[0].ID)
}

func TestBatchRepository_SetReviewStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedListing(t, store, "dealer-1", "Kia", "Ceed", "Active")
	result := reconcile.Reconcile([]reconcile.ExtractedCar{
		{CarSpec: reconcile.CarSpec{Make: "Kia", Model: "EV3", Variant: "Air"}},
	}, catalogFor(t, store, "dealer-1"))
	batch := createBatch(t, store, "dealer-1", result)
	repo := store.Repositories().Batches

	n, err := repo.SetReviewStatus(ctx, batch.ID, []int{0, 5}, ReviewStatusApproved, "reviewer@dealer.dk")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = repo.SetReviewStatusByChangeType(ctx, batch.ID, reconcile.ChangeDelete, ReviewStatusRejected, "reviewer@dealer.dk")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = repo.SetReviewStatus(ctx, batch.ID, []int{0}, ReviewStatus("maybe"), "x")
	assert.Error(t, err)

	decisions, err := repo.ListDecisions(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, ReviewStatusApproved, decisions[0].ReviewStatus)
	assert.Equal(t, "reviewer@dealer.dk", decisions[0].ReviewedBy)
	assert.NotNil(t, decisions[0].ReviewedAt)
	assert.Equal(t, ReviewStatusRejected, decisions[1].ReviewStatus)
}

func TestStore_ApplyBatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	picanto := seedListing(t, store, "dealer-1", "Kia", "Picanto", "Prestige", reconcile.NewOffer(1999, 0, 36, 15000))
	ceed := seedListing(t, store, "dealer-1", "Kia", "Ceed", "Active")
	niro := seedListing(t, store, "dealer-1", "Kia", "Niro", "Comfort")

	hp := 100
	extracted := []reconcile.ExtractedCar{
		{CarSpec: reconcile.CarSpec{Make: "Kia", Model: "Picanto", Variant: "Prestige", Horsepower: &hp,
			Offers: []reconcile.Offer{reconcile.NewOffer(2099, 0, 36, 15000)}}},
		{CarSpec: reconcile.CarSpec{Make: "Kia", Model: "EV3", Variant: "Air",
			Offers: []reconcile.Offer{reconcile.NewOffer(3499, 9999, 36, 15000)}}},
		{CarSpec: reconcile.CarSpec{Make: "Kia", Model: "Niro", Variant: "Comfort", Offers: []reconcile.Offer{}}},
	}
	result := reconcile.Reconcile(extracted, catalogFor(t, store, "dealer-1"))
	require.Equal(t, 1, result.Summary.Deletes)
	batch := createBatch(t, store, "dealer-1", result)

	repo := store.Repositories().Batches
	_, err := repo.SetReviewStatusByChangeType(ctx, batch.ID, reconcile.ChangeUpdate, ReviewStatusApproved, "r")
	require.NoError(t, err)
	_, err = repo.SetReviewStatusByChangeType(ctx, batch.ID, reconcile.ChangeCreate, ReviewStatusApproved, "r")
	require.NoError(t, err)
	_, err = repo.SetReviewStatusByChangeType(ctx, batch.ID, reconcile.ChangeUnchanged, ReviewStatusApproved, "r")
	require.NoError(t, err)

	report, err := store.ApplyBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Unchanged)
	assert.Equal(t, 0, report.Deleted)
	assert.Equal(t, 1, report.Skipped)
	require.Len(t, report.CreatedIDs, 1)

	listings := store.Repositories().Listings
	updated, err := listings.GetByID(ctx, "dealer-1", picanto.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.Horsepower)
	assert.Equal(t, 100, *updated.Horsepower)
	require.Len(t, updated.Offers, 1)
	assert.Equal(t, 2099.0, *updated.Offers[0].MonthlyPrice)

	_, err = listings.GetByID(ctx, "dealer-1", ceed.ID)
	assert.NoError(t, err, "unreviewed delete must not remove the listing")
	_, err = listings.GetByID(ctx, "dealer-1", niro.ID)
	assert.NoError(t, err)

	created, err := listings.GetByID(ctx, "dealer-1", report.CreatedIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "EV3", created.Model)

	applied, err := repo.GetByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, BatchStatusApplied, applied.Status)
	assert.NotNil(t, applied.AppliedAt)

	_, err = store.ApplyBatch(ctx, batch.ID)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestStore_ApplyBatch_StaleCatalogRollsBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	gone := seedListing(t, store, "dealer-1", "Kia", "Ceed", "Active")
	result := reconcile.Reconcile([]reconcile.ExtractedCar{
		{CarSpec: reconcile.CarSpec{Make: "Kia", Model: "EV3", Variant: "Air"}},
	}, catalogFor(t, store, "dealer-1"))
	batch := createBatch(t, store, "dealer-1", result)

	_, err := store.Repositories().Batches.SetReviewStatus(ctx, batch.ID, []int{0, 1}, ReviewStatusApproved, "r")
	require.NoError(t, err)
	require.NoError(t, store.Repositories().Listings.Delete(ctx, "dealer-1", gone.ID))

	_, err = store.ApplyBatch(ctx, batch.ID)
	assert.ErrorIs(t, err, ErrConflict)

	n, err := store.Repositories().Listings.CountByDealer(ctx, "dealer-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n, "create must be rolled back")

	b, err := store.Repositories().Batches.GetByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, BatchStatusPendingReview, b.Status)
}

func TestBatchRepository_TransitionAndPurge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	repo := store.Repositories().Batches

	result := reconcile.Reconcile(nil, nil)
	discarded := createBatch(t, store, "dealer-1", result)
	pending := createBatch(t, store, "dealer-1", result)

	require.NoError(t, repo.TransitionStatus(ctx, discarded.ID, BatchStatusPendingReview, BatchStatusDiscarded))
	assert.ErrorIs(t, repo.TransitionStatus(ctx, discarded.ID, BatchStatusPendingReview, BatchStatusApplied), ErrConflict)

	purged, err := repo.PurgeBefore(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, err = repo.GetByID(ctx, discarded.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.GetByID(ctx, pending.ID)
	assert.NoError(t, err)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuditRepository(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	repo := store.Repositories().Audit

	batchID := uuid.New()
	require.NoError(t, repo.Create(ctx, &AuditEvent{
		EventType: "batch.applied",
		DealerID:  "dealer-1",
		BatchID:   &batchID,
		Actor:     "reviewer",
		Payload:   []byte(`{"created":1}`),
	}))
	require.NoError(t, repo.Create(ctx, &AuditEvent{EventType: "reconciliation.previewed", DealerID: "dealer-2"}))

	events, err := repo.ListByDealer(ctx, "dealer-1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "batch.applied", events[0].EventType)
	require.NotNil(t, events[0].BatchID)
	assert.Equal(t, batchID, *events[0].BatchID)
	assert.JSONEq(t, `{"created":1}`, string(events[0].Payload))
}
