// Package config provides unified configuration loading for the listing sync service.
// Supports YAML files, .env files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/leasingborsen/listing-sync/internal/reconcile"
)

// Config holds all configuration for the listing sync service.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	Reconcile     ReconcileConfig     `yaml:"reconcile"`
	Review        ReviewConfig        `yaml:"review"`
	Observability ObservabilityConfig `yaml:"observability"`
	Auth          AuthConfig          `yaml:"auth"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	MaxBodyBytes     int64         `yaml:"max_body_bytes"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	JournalMode  string `yaml:"journal_mode"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CacheConfig holds cache settings.
type CacheConfig struct {
	Driver          string        `yaml:"driver"` // memory or redis
	TTL             time.Duration `yaml:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	Redis           RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// ReconcileConfig holds matching engine settings.
type ReconcileConfig struct {
	Scoring        reconcile.ScoringConfig `yaml:"scoring"`
	DeletionPolicy string                  `yaml:"deletion_policy"` // catalog_wide or scoped_to_models
	Assignment     string                  `yaml:"assignment"`      // greedy or optimal
	Workers        int                     `yaml:"workers"`
	// ExtraAutomaticTokens extends the built-in dealer notation.
	ExtraAutomaticTokens  []string `yaml:"extra_automatic_tokens"`
	ExtraManualTokens     []string `yaml:"extra_manual_tokens"`
	ExtraDrivetrainTokens []string `yaml:"extra_drivetrain_tokens"`
}

// ReviewConfig holds review workflow settings.
type ReviewConfig struct {
	AutoApproveUnchanged bool          `yaml:"auto_approve_unchanged"`
	Retention            time.Duration `yaml:"retention"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"`
	ServiceName  string `yaml:"service_name"`
	AuditChannel string `yaml:"audit_channel"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	Enabled        bool          `yaml:"enabled"`
	JWTSecret      string        `yaml:"jwt_secret"`
	Issuer         string        `yaml:"issuer"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	RateLimit      float64       `yaml:"rate_limit"` // requests per second, 0 disables
	RateBurst      int           `yaml:"rate_burst"`
	TokenTTL       time.Duration `yaml:"token_ttl"`
}

// Load reads configuration from a YAML file and applies environment overrides.
// A .env file in the working directory is read first if present.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	_ = godotenv.Load() // Ignore error if .env doesn't exist

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8090,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     60 * time.Second,
			IdleTimeout:      120 * time.Second,
			RequestTimeout:   60 * time.Second,
			GracefulShutdown: 10 * time.Second,
			MaxBodyBytes:     10 << 20,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:         "/tmp/listing-sync.db",
				MaxOpenConns: 1,
				JournalMode:  "WAL",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Cache: CacheConfig{
			Driver:          "memory",
			TTL:             15 * time.Minute,
			CleanupInterval: 30 * time.Minute,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
			},
		},
		Reconcile: ReconcileConfig{
			Scoring:        reconcile.DefaultScoringConfig(),
			DeletionPolicy: string(reconcile.DeletionCatalogWide),
			Assignment:     string(reconcile.AssignmentGreedy),
			Workers:        4,
		},
		Review: ReviewConfig{
			AutoApproveUnchanged: true,
			Retention:            30 * 24 * time.Hour,
		},
		Observability: ObservabilityConfig{
			LogLevel:     "info",
			LogFormat:    "json",
			ServiceName:  "listing-sync",
			AuditChannel: "audit.events",
		},
		Auth: AuthConfig{
			Enabled:        false,
			Issuer:         "listing-sync",
			AllowedOrigins: []string{"*"},
			RateLimit:      10,
			RateBurst:      30,
			TokenTTL:       12 * time.Hour,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	if c.Database.Driver == "postgres" && c.Database.Postgres.DSN == "" {
		return fmt.Errorf("postgres driver requires database.postgres.dsn")
	}

	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	s := c.Reconcile.Scoring
	if s.MatchThreshold <= 0 || s.MatchThreshold > 1 {
		return fmt.Errorf("match_threshold must be in (0, 1], got %v", s.MatchThreshold)
	}
	if s.HorsepowerTolerance < 0 {
		return fmt.Errorf("horsepower_tolerance must not be negative")
	}
	for name, w := range map[string]float64{
		"variant_penalty_weight": s.VariantPenaltyWeight,
		"horsepower_max_penalty": s.HorsepowerMaxPenalty,
		"transmission_penalty":   s.TransmissionPenalty,
		"drivetrain_penalty":     s.DrivetrainPenalty,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("%s must be in [0, 1], got %v", name, w)
		}
	}

	switch reconcile.DeletionPolicy(c.Reconcile.DeletionPolicy) {
	case reconcile.DeletionCatalogWide, reconcile.DeletionScopedToModels:
	default:
		return fmt.Errorf("invalid deletion policy: %s", c.Reconcile.DeletionPolicy)
	}

	switch reconcile.AssignmentStrategy(c.Reconcile.Assignment) {
	case reconcile.AssignmentGreedy, reconcile.AssignmentOptimal:
	default:
		return fmt.Errorf("invalid assignment strategy: %s", c.Reconcile.Assignment)
	}

	if c.Reconcile.Workers < 1 || c.Reconcile.Workers > 64 {
		return fmt.Errorf("workers must be between 1 and 64")
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth enabled but jwt_secret is empty")
	}

	return nil
}

// ReconcileOptions builds engine options from the reconcile section.
func (c *Config) ReconcileOptions() reconcile.Options {
	vocab := reconcile.DefaultVocabulary()
	vocab.AutomaticTokens = append(vocab.AutomaticTokens, c.Reconcile.ExtraAutomaticTokens...)
	vocab.ManualTokens = append(vocab.ManualTokens, c.Reconcile.ExtraManualTokens...)
	vocab.DrivetrainTokens = append(vocab.DrivetrainTokens, c.Reconcile.ExtraDrivetrainTokens...)

	return reconcile.Options{
		Scoring:        c.Reconcile.Scoring,
		Vocabulary:     vocab,
		DeletionPolicy: reconcile.DeletionPolicy(c.Reconcile.DeletionPolicy),
		Assignment:     reconcile.AssignmentStrategy(c.Reconcile.Assignment),
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Database.Driver == "sqlite" || !c.Auth.Enabled
}

// DatabaseDSN returns the appropriate database connection string.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLite.Path
	}
	return c.Database.Postgres.DSN
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Cache.Redis.Password = v
	}

	if v := os.Getenv("MATCH_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Reconcile.Scoring.MatchThreshold = f
		}
	}

	if v := os.Getenv("DELETION_POLICY"); v != "" {
		cfg.Reconcile.DeletionPolicy = v
	}

	if v := os.Getenv("ASSIGNMENT_STRATEGY"); v != "" {
		cfg.Reconcile.Assignment = v
	}

	if v := os.Getenv("RECONCILE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Reconcile.Workers = n
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}

	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}

	if v := os.Getenv("AUTH_ENABLED"); v != "" {
		cfg.Auth.Enabled = v == "true" || v == "1"
	}

	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.Auth.AllowedOrigins = strings.Split(v, ",")
	}
}
