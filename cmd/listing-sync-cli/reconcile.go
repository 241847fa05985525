package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/leasingborsen/listing-sync/internal/reconcile"
	"github.com/leasingborsen/listing-sync/internal/service"
)

// newDiffCmd runs the engine on two files without touching the database.
func newDiffCmd() *cobra.Command {
	var (
		extractedPath string
		existingPath  string
		showUnchanged bool
	)

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Compare an extraction file against a catalog export",
		Long: `Diff runs the matching engine on an extraction file and a catalog export
and prints the resulting decisions. Nothing is stored.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if extractedPath == "" || existingPath == "" {
				return fmt.Errorf("--extracted and --existing are required")
			}

			extracted, err := loadExtracted(extractedPath)
			if err != nil {
				return err
			}
			existing, err := loadExisting(existingPath)
			if err != nil {
				return err
			}

			result := reconcile.NewReconciler(cfg.ReconcileOptions()).Reconcile(extracted, existing)

			ui := newUI(cmd)
			if outputJSON {
				return ui.JSON(result)
			}

			ui.Summary(result.Summary)
			matches := result.Matches
			if !showUnchanged {
				matches = withoutUnchanged(matches)
			}
			ui.Matches(matches)
			return nil
		},
	}

	cmd.Flags().StringVar(&extractedPath, "extracted", "", "path to extracted records JSON (required)")
	cmd.Flags().StringVar(&existingPath, "existing", "", "path to catalog export JSON (required)")
	cmd.Flags().BoolVar(&showUnchanged, "all", false, "include unchanged decisions in the table")

	return cmd
}

// newPreviewCmd stores a reconciliation batch for review.
func newPreviewCmd() *cobra.Command {
	var (
		dealer        string
		extractedPath string
		operator      string
	)

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Reconcile an extraction against a dealer's catalog and store it for review",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dealer == "" || extractedPath == "" {
				return fmt.Errorf("--dealer and --extracted are required")
			}

			extracted, err := loadExtracted(extractedPath)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
			defer cancel()

			svc, _, closeFn, err := openService(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			ui := newUI(cmd)
			s := ui.Spinner(fmt.Sprintf("Reconciling %d records for %s", len(extracted), dealer))
			result, err := svc.Preview(ctx, service.PreviewRequest{
				DealerID:  dealer,
				Extracted: extracted,
				Actor:     operatorName(operator),
			})
			StopSpinner(s)
			if err != nil {
				return fmt.Errorf("preview failed: %w", err)
			}

			if outputJSON {
				return ui.JSON(result)
			}

			if result.Cached {
				ui.Info("Identical upload already pending review")
			}
			ui.Success("Batch %s stored for review", result.Batch.ID)
			ui.Summary(result.Batch.Summary)
			ui.Decisions(result.Decisions)
			return nil
		},
	}

	cmd.Flags().StringVar(&dealer, "dealer", "", "dealer ID (required)")
	cmd.Flags().StringVar(&extractedPath, "extracted", "", "path to extracted records JSON (required)")
	cmd.Flags().StringVar(&operator, "operator", "", "operator name for audit trail")

	return cmd
}

// newBatchCmd previews every dealer file in a directory.
func newBatchCmd() *cobra.Command {
	var (
		dir      string
		operator string
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Preview a directory of dealer uploads",
		Long: `Batch reads every <dealer-id>.json file in a directory and previews each
upload against that dealer's catalog. Dealers are reconciled concurrently;
a failing dealer does not stop the others.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				return fmt.Errorf("--dir is required")
			}

			reqs, err := loadDealerDir(dir, operatorName(operator))
			if err != nil {
				return err
			}
			if len(reqs) == 0 {
				return fmt.Errorf("no dealer files found in %s", dir)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
			defer cancel()

			svc, _, closeFn, err := openService(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			ui := newUI(cmd)
			bar := ui.ProgressBar(len(reqs), "Reconciling")
			outcomes, err := svc.PreviewMany(ctx, reqs, func(service.PreviewOutcome) {
				if bar != nil {
					_ = bar.Add(1)
				}
			})
			if err != nil {
				return err
			}

			failed := 0
			for _, o := range outcomes {
				if o.Err != nil {
					failed++
				}
			}

			if outputJSON {
				if err := ui.JSON(batchReport(outcomes)); err != nil {
					return err
				}
			} else {
				rows := make([][]string, 0, len(outcomes))
				for _, o := range outcomes {
					rows = append(rows, outcomeRow(o))
				}
				ui.Table([]string{"Dealer", "Batch", "Creates", "Updates", "Deletes", "Unchanged", "Status"}, rows)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d dealers failed", failed, len(outcomes))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "directory of <dealer-id>.json files (required)")
	cmd.Flags().StringVar(&operator, "operator", "", "operator name for audit trail")

	return cmd
}

// loadDealerDir builds one preview request per JSON file, in file name order.
func loadDealerDir(dir, actor string) ([]service.PreviewRequest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	reqs := make([]service.PreviewRequest, 0, len(names))
	for _, name := range names {
		extracted, err := loadExtracted(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, service.PreviewRequest{
			DealerID:  strings.TrimSuffix(name, ".json"),
			Extracted: extracted,
			Actor:     actor,
		})
	}
	return reqs, nil
}

type dealerOutcome struct {
	DealerID string             `json:"dealer_id"`
	BatchID  string             `json:"batch_id,omitempty"`
	Cached   bool               `json:"cached,omitempty"`
	Summary  *reconcile.Summary `json:"summary,omitempty"`
	Error    string             `json:"error,omitempty"`
}

func batchReport(outcomes []service.PreviewOutcome) []dealerOutcome {
	report := make([]dealerOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		d := dealerOutcome{DealerID: o.DealerID}
		if o.Err != nil {
			d.Error = o.Err.Error()
		} else if o.Result != nil {
			d.BatchID = o.Result.Batch.ID.String()
			d.Cached = o.Result.Cached
			d.Summary = &o.Result.Batch.Summary
		}
		report = append(report, d)
	}
	return report
}

func outcomeRow(o service.PreviewOutcome) []string {
	if o.Err != nil || o.Result == nil {
		msg := "failed"
		if o.Err != nil {
			msg = o.Err.Error()
		}
		return []string{o.DealerID, "-", "-", "-", "-", "-", msg}
	}
	s := o.Result.Batch.Summary
	status := "stored"
	if o.Result.Cached {
		status = "cached"
	}
	return []string{
		o.DealerID,
		o.Result.Batch.ID.String()[:8],
		fmt.Sprint(s.Creates),
		fmt.Sprint(s.Updates),
		fmt.Sprint(s.Deletes),
		fmt.Sprint(s.Unchanged),
		status,
	}
}

func withoutUnchanged(matches []reconcile.ListingMatch) []reconcile.ListingMatch {
	out := make([]reconcile.ListingMatch, 0, len(matches))
	for _, m := range matches {
		if m.ChangeType != reconcile.ChangeUnchanged {
			out = append(out, m)
		}
	}
	return out
}
