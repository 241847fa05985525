//go:build integration

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/leasingborsen/listing-sync/internal/config"
	"github.com/leasingborsen/listing-sync/internal/reconcile"
)

func newPostgresStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("listing_sync_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := Open(ctx, config.DatabaseConfig{
		Driver:   "postgres",
		Postgres: config.PostgresConfig{DSN: dsn, MaxOpenConns: 5, MaxIdleConns: 2, ConnMaxLifetime: time.Minute},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	status, err := store.Migrate(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"0001_init.sql"}, status.Applied)
	return store
}

func TestPostgres_PreviewApplyCycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	store := newPostgresStore(t)
	ctx := context.Background()

	seedListing(t, store, "dealer-1", "Kia", "Picanto", "Prestige", reconcile.NewOffer(1999, 0, 36, 15000))
	seedListing(t, store, "dealer-1", "Kia", "Ceed", "Active")

	result := reconcile.Reconcile([]reconcile.ExtractedCar{
		{CarSpec: reconcile.CarSpec{Make: "Kia", Model: "Picanto", Variant: "Prestige",
			Offers: []reconcile.Offer{reconcile.NewOffer(2099, 0, 36, 15000)}}},
	}, catalogFor(t, store, "dealer-1"))
	batch := createBatch(t, store, "dealer-1", result)

	_, err := store.Repositories().Batches.SetReviewStatus(ctx, batch.ID, []int{0, 1}, ReviewStatusApproved, "r")
	require.NoError(t, err)

	report, err := store.ApplyBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Deleted)

	listings, err := store.Repositories().Listings.ListByDealer(ctx, "dealer-1")
	require.NoError(t, err)
	require.Len(t, listings, 1)
	require.Len(t, listings[0].Offers, 1)
	assert.Equal(t, 2099.0, *listings[0].Offers[0].MonthlyPrice)
}
