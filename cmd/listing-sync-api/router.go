// Package main provides the API router setup.
package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/leasingborsen/listing-sync/cmd/listing-sync-api/handlers"
	"github.com/leasingborsen/listing-sync/cmd/listing-sync-api/middleware"
	"github.com/leasingborsen/listing-sync/internal/config"
	"github.com/leasingborsen/listing-sync/internal/observability"
	"github.com/leasingborsen/listing-sync/internal/service"
)

// AppConfig holds router configuration.
type AppConfig struct {
	ServiceName    string
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	AllowedOrigins []string
	RateLimit      float64
	RateBurst      int
	AuthConfig     middleware.AuthConfig
}

// AppConfigFrom derives router configuration from the application config.
func AppConfigFrom(cfg *config.Config) *AppConfig {
	return &AppConfig{
		ServiceName:    cfg.Observability.ServiceName,
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		AllowedOrigins: cfg.Auth.AllowedOrigins,
		RateLimit:      cfg.Auth.RateLimit,
		RateBurst:      cfg.Auth.RateBurst,
		AuthConfig: middleware.AuthConfig{
			Enabled: cfg.Auth.Enabled,
			Secret:  cfg.Auth.JWTSecret,
			Issuer:  cfg.Auth.Issuer,
		},
	}
}

// NewRouter creates the main API router with all routes configured.
func NewRouter(logger *observability.Logger, svc *service.Service, cfg *AppConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	if cfg.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
	}

	health := handlers.NewHealthHandler(cfg.ServiceName, svc.Ready)
	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)

	recon := handlers.NewReconciliationHandler(logger, svc, cfg.MaxBodyBytes)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimit, cfg.RateBurst, logger))
		r.Use(middleware.Auth(cfg.AuthConfig))

		r.Route("/dealers/{dealerId}", func(r chi.Router) {
			r.Get("/listings", recon.Catalog)
			r.Get("/reconciliations", recon.ListBatches)
			r.Get("/audit", recon.AuditTrail)
			r.With(middleware.RequireRoles(middleware.RoleReviewer)).Post("/reconciliations", recon.Preview)
		})

		r.Route("/reconciliations/{batchId}", func(r chi.Router) {
			r.Get("/", recon.GetBatch)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRoles(middleware.RoleReviewer))
				r.Post("/review", recon.Review)
				r.Post("/apply", recon.Apply)
				r.Post("/discard", recon.Discard)
			})
		})

		r.Post("/reconcile/diff", recon.Diff)
	})

	return r
}
