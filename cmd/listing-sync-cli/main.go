// Package main provides the listing sync CLI entrypoint.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/leasingborsen/listing-sync/internal/cache"
	"github.com/leasingborsen/listing-sync/internal/config"
	"github.com/leasingborsen/listing-sync/internal/monitoring"
	"github.com/leasingborsen/listing-sync/internal/observability"
	"github.com/leasingborsen/listing-sync/internal/reconcile"
	"github.com/leasingborsen/listing-sync/internal/service"
	"github.com/leasingborsen/listing-sync/internal/storage"
)

const version = "0.1.0"

var (
	// Global flags
	cfgFile    string
	outputJSON bool
	verbose    bool
	noColor    bool

	// Configuration and logger
	cfg    *config.Config
	logger *observability.Logger
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "listing-sync-cli",
		Short: "Reconcile dealer price lists against the listing catalog",
		Long: `listing-sync-cli matches freshly extracted dealer price lists against the
dealer's published listings and manages the resulting review batches.

Use this tool to:
- Diff an extraction against a catalog export without touching the database
- Preview, review and apply reconciliation batches
- Reconcile a directory of dealer uploads in one go
- Run migrations and purge old batches

All commands support --json for automation.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logFormat := "console"
			if outputJSON {
				logFormat = "json"
			}
			level := "warn"
			if verbose {
				level = "debug"
			}

			logger = observability.NewLogger(observability.LogConfig{
				Level:       level,
				Format:      logFormat,
				Output:      cmd.ErrOrStderr(),
				ServiceName: "listing-sync-cli",
			})

			if noColor {
				color.NoColor = true
			}
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: uses env vars)")
	root.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	root.AddCommand(newDiffCmd())
	root.AddCommand(newPreviewCmd())
	root.AddCommand(newShowCmd())
	root.AddCommand(newReviewCmd())
	root.AddCommand(newApplyCmd())
	root.AddCommand(newDiscardCmd())
	root.AddCommand(newBatchCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newPurgeCmd())
	root.AddCommand(newTokenCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newUI(cmd *cobra.Command) *UI {
	return NewUI(cmd.OutOrStdout(), outputJSON, noColor)
}

// openService wires storage, cache and audit logging from the loaded config.
// The returned close function releases every resource.
func openService(ctx context.Context) (*service.Service, *storage.Store, func(), error) {
	store, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, nil, nil, fmt.Errorf("migrate: %w", err)
	}

	cacheClient, err := cache.New(cfg.Cache)
	if err != nil {
		store.Close()
		return nil, nil, nil, fmt.Errorf("create cache: %w", err)
	}

	publisher, _ := cacheClient.(cache.Publisher)
	audit := monitoring.NewAuditLogger(logger, store.Repositories().Audit, publisher, cfg.Observability.AuditChannel)
	svc := service.New(store, reconcile.NewReconciler(cfg.ReconcileOptions()), cacheClient, audit, logger, service.ConfigFrom(cfg))

	closeFn := func() {
		_ = cacheClient.Close()
		_ = store.Close()
	}
	return svc, store, closeFn, nil
}

// loadExtracted reads an extraction file. It accepts a bare array of records
// or an object holding them under "extracted" or "cars".
func loadExtracted(path string) ([]reconcile.ExtractedCar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var cars []reconcile.ExtractedCar
	if err := json.Unmarshal(data, &cars); err == nil {
		return cars, nil
	}

	var wrapped struct {
		Extracted []reconcile.ExtractedCar `json:"extracted"`
		Cars      []reconcile.ExtractedCar `json:"cars"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if wrapped.Extracted != nil {
		return wrapped.Extracted, nil
	}
	if wrapped.Cars != nil {
		return wrapped.Cars, nil
	}
	return nil, fmt.Errorf("parse %s: no extracted records found", path)
}

// loadExisting reads a catalog export: a bare array or an object with "listings".
func loadExisting(path string) ([]reconcile.ExistingListing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var listings []reconcile.ExistingListing
	if err := json.Unmarshal(data, &listings); err == nil {
		return listings, nil
	}

	var wrapped struct {
		Listings []reconcile.ExistingListing `json:"listings"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return wrapped.Listings, nil
}

func operatorName(flag string) string {
	if flag != "" {
		return flag
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}
