package main

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/leasingborsen/listing-sync/cmd/listing-sync-api/middleware"
	"github.com/leasingborsen/listing-sync/internal/storage"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			store, err := storage.Open(ctx, cfg.Database)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer store.Close()

			status, err := store.Migrate(ctx)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}

			ui := newUI(cmd)
			if outputJSON {
				return ui.JSON(status)
			}
			if len(status.Applied) == 0 {
				ui.Info("Database is up to date")
				return nil
			}
			for _, name := range status.Applied {
				ui.Step("Applied %s", name)
			}
			ui.Success("Applied %d migrations", len(status.Applied))
			return nil
		},
	}
}

// newPurgeCmd deletes finished batches older than the retention period.
func newPurgeCmd() *cobra.Command {
	var (
		retention time.Duration
		operator  string
	)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete applied and discarded batches older than the retention period",
		Long: `Purge deletes applied and discarded batches, with their decisions, that were
created before now minus the retention period. Pending batches are never
purged. The purge is recorded in the audit trail.

WARNING: This operation is irreversible.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if retention > 0 {
				cfg.Review.Retention = retention
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
			defer cancel()

			svc, _, closeFn, err := openService(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			removed, err := svc.Purge(ctx, operatorName(operator))
			if err != nil {
				return fmt.Errorf("purge failed: %w", err)
			}

			ui := newUI(cmd)
			if outputJSON {
				return ui.JSON(map[string]interface{}{
					"removed":   removed,
					"retention": cfg.Review.Retention.String(),
				})
			}
			ui.Success("Purged %d batches older than %s", removed, cfg.Review.Retention)
			return nil
		},
	}

	cmd.Flags().DurationVar(&retention, "retention", 0, "override the configured retention, e.g. 720h")
	cmd.Flags().StringVar(&operator, "operator", "", "operator name for audit trail")

	return cmd
}

// newTokenCmd issues an API token signed with the configured secret.
func newTokenCmd() *cobra.Command {
	var (
		subject string
		roles   []string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if subject == "" {
				return fmt.Errorf("--subject is required")
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}

			parsed := make([]middleware.Role, 0, len(roles))
			for _, r := range roles {
				role := middleware.Role(r)
				switch role {
				case middleware.RoleAdmin, middleware.RoleReviewer, middleware.RoleViewer:
					parsed = append(parsed, role)
				default:
					return fmt.Errorf("unknown role %q", r)
				}
			}

			token, err := middleware.IssueToken(middleware.AuthConfig{
				Enabled: true,
				Secret:  cfg.Auth.JWTSecret,
				Issuer:  cfg.Auth.Issuer,
			}, subject, parsed, ttl)
			if err != nil {
				return err
			}

			ui := newUI(cmd)
			if outputJSON {
				return ui.JSON(map[string]interface{}{
					"token":      token,
					"subject":    subject,
					"roles":      roles,
					"expires_at": time.Now().Add(ttl).UTC().Format(time.RFC3339),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "user ID the token is issued to (required)")
	cmd.Flags().StringSliceVar(&roles, "role", []string{string(middleware.RoleViewer)}, "roles: admin, reviewer, viewer")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default: auth.token_ttl)")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			ui := newUI(cmd)
			if outputJSON {
				return ui.JSON(map[string]string{"version": version, "go": runtime.Version()})
			}
			ui.KeyValue("Version", version)
			ui.KeyValue("Go", runtime.Version())
			return nil
		},
	}
}
