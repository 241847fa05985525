// Package main provides the listing sync API server entrypoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/leasingborsen/listing-sync/internal/cache"
	"github.com/leasingborsen/listing-sync/internal/config"
	"github.com/leasingborsen/listing-sync/internal/monitoring"
	"github.com/leasingborsen/listing-sync/internal/observability"
	"github.com/leasingborsen/listing-sync/internal/reconcile"
	"github.com/leasingborsen/listing-sync/internal/service"
	"github.com/leasingborsen/listing-sync/internal/storage"
)

func main() {
	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		cfgPath = os.Args[2]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("database", cfg.Database.Driver).
		Str("cache", cfg.Cache.Driver).
		Str("deletion_policy", cfg.Reconcile.DeletionPolicy).
		Str("assignment", cfg.Reconcile.Assignment).
		Msg("Starting listing sync API")

	ctx := context.Background()

	store, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open database")
	}
	defer store.Close()

	status, err := store.Migrate(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}
	logger.Info().Strs("applied", status.Applied).Int("total", status.Total).Msg("Database migrations up to date")

	cacheClient, err := cache.New(cfg.Cache)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create cache client")
	}
	defer cacheClient.Close()

	publisher, _ := cacheClient.(cache.Publisher)
	auditLogger := monitoring.NewAuditLogger(logger, store.Repositories().Audit, publisher, cfg.Observability.AuditChannel)

	svc := service.New(
		store,
		reconcile.NewReconciler(cfg.ReconcileOptions()),
		cacheClient,
		auditLogger,
		logger,
		service.ConfigFrom(cfg),
	)

	router := NewRouter(logger, svc, AppConfigFrom(cfg))

	addr := cfg.Addr()
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	// Wait for interrupt or error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Server error")
		}
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("Forced shutdown failed")
		}
	}

	logger.Info().Msg("Server stopped")
}
