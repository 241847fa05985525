package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/leasingborsen/listing-sync/internal/reconcile"
	"github.com/leasingborsen/listing-sync/internal/service"
	"github.com/leasingborsen/listing-sync/internal/storage"
)

// newShowCmd prints stored batches, listings and audit events.
func newShowCmd() *cobra.Command {
	var (
		batch  string
		dealer string
		what   string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a batch, or a dealer's batches, listings or audit trail",
		Example: `  listing-sync-cli show --batch 6f1c...
  listing-sync-cli show --dealer dealer-1 --what batches
  listing-sync-cli show --dealer dealer-1 --what listings
  listing-sync-cli show --dealer dealer-1 --what audit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if batch == "" && dealer == "" {
				return fmt.Errorf("--batch or --dealer is required")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			svc, _, closeFn, err := openService(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			ui := newUI(cmd)

			if batch != "" {
				id, err := uuid.Parse(batch)
				if err != nil {
					return fmt.Errorf("invalid batch ID: %w", err)
				}
				result, err := svc.GetBatch(ctx, id)
				if err != nil {
					return err
				}
				if outputJSON {
					return ui.JSON(result)
				}
				ui.Section("Batch " + result.Batch.ID.String())
				ui.KeyValue("Dealer", result.Batch.DealerID)
				ui.KeyValue("Status", result.Batch.Status)
				ui.KeyValue("Created", result.Batch.CreatedAt.Format(time.RFC3339))
				ui.KeyValue("Created by", result.Batch.CreatedBy)
				ui.Summary(result.Batch.Summary)
				ui.Decisions(result.Decisions)
				return nil
			}

			switch what {
			case "batches":
				batches, err := svc.ListBatches(ctx, dealer, limit)
				if err != nil {
					return err
				}
				if outputJSON {
					return ui.JSON(batches)
				}
				rows := make([][]string, len(batches))
				for i, b := range batches {
					rows[i] = []string{
						b.ID.String(), string(b.Status), b.CreatedAt.Format(time.RFC3339), b.CreatedBy,
						fmt.Sprintf("+%d ~%d -%d", b.Summary.Creates, b.Summary.Updates, b.Summary.Deletes),
					}
				}
				ui.Table([]string{"Batch", "Status", "Created", "By", "Changes"}, rows)

			case "listings":
				listings, err := svc.Catalog(ctx, dealer)
				if err != nil {
					return err
				}
				if outputJSON {
					return ui.JSON(listings)
				}
				rows := make([][]string, len(listings))
				for i, l := range listings {
					rows[i] = []string{
						l.ID.String(), l.Make, l.Model, l.Variant,
						string(l.Transmission), strconv.Itoa(len(l.Offers)),
					}
				}
				ui.Table([]string{"ID", "Make", "Model", "Variant", "Transmission", "Offers"}, rows)

			case "audit":
				events, err := svc.AuditTrail(ctx, dealer, limit)
				if err != nil {
					return err
				}
				if outputJSON {
					return ui.JSON(events)
				}
				rows := make([][]string, len(events))
				for i, e := range events {
					batchID := "-"
					if e.BatchID != nil {
						batchID = e.BatchID.String()
					}
					rows[i] = []string{e.CreatedAt.Format(time.RFC3339), e.EventType, batchID, e.Actor}
				}
				ui.Table([]string{"Time", "Event", "Batch", "Actor"}, rows)

			default:
				return fmt.Errorf("unknown --what %q (batches, listings, audit)", what)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&batch, "batch", "", "batch ID")
	cmd.Flags().StringVar(&dealer, "dealer", "", "dealer ID")
	cmd.Flags().StringVar(&what, "what", "batches", "what to show for a dealer: batches, listings or audit")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows to return")

	return cmd
}

// newReviewCmd records reviewer verdicts.
func newReviewCmd() *cobra.Command {
	var (
		batch      string
		approve    string
		reject     string
		changeType string
		status     string
		operator   string
	)

	cmd := &cobra.Command{
		Use:   "review",
		Short: "Approve or reject decisions of a pending batch",
		Example: `  listing-sync-cli review --batch 6f1c... --approve 0,1,4-7 --reject 2
  listing-sync-cli review --batch 6f1c... --change-type delete --status rejected`,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(batch)
			if err != nil {
				return fmt.Errorf("invalid batch ID: %w", err)
			}

			var reqs []service.ReviewRequest
			reviewer := operatorName(operator)

			if approve != "" {
				positions, err := parsePositions(approve)
				if err != nil {
					return err
				}
				reqs = append(reqs, service.ReviewRequest{BatchID: id, Positions: positions, Status: storage.ReviewStatusApproved, Reviewer: reviewer})
			}
			if reject != "" {
				positions, err := parsePositions(reject)
				if err != nil {
					return err
				}
				reqs = append(reqs, service.ReviewRequest{BatchID: id, Positions: positions, Status: storage.ReviewStatusRejected, Reviewer: reviewer})
			}
			if changeType != "" {
				reqs = append(reqs, service.ReviewRequest{
					BatchID:    id,
					ChangeType: reconcile.ChangeType(changeType),
					Status:     storage.ReviewStatus(status),
					Reviewer:   reviewer,
				})
			}
			if len(reqs) == 0 {
				return fmt.Errorf("one of --approve, --reject or --change-type is required")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			svc, _, closeFn, err := openService(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			updated := 0
			for _, req := range reqs {
				n, err := svc.Review(ctx, req)
				if err != nil {
					return fmt.Errorf("review failed: %w", err)
				}
				updated += n
			}

			ui := newUI(cmd)
			if outputJSON {
				return ui.JSON(map[string]interface{}{"batchId": id, "updated": updated})
			}
			ui.Success("Updated %d decisions in batch %s", updated, id)
			return nil
		},
	}

	cmd.Flags().StringVar(&batch, "batch", "", "batch ID (required)")
	cmd.Flags().StringVar(&approve, "approve", "", "positions to approve, e.g. 0,2,5-9")
	cmd.Flags().StringVar(&reject, "reject", "", "positions to reject")
	cmd.Flags().StringVar(&changeType, "change-type", "", "review every decision of this change type")
	cmd.Flags().StringVar(&status, "status", "approved", "status for --change-type: approved, rejected or pending")
	cmd.Flags().StringVar(&operator, "operator", "", "reviewer name for audit trail")

	return cmd
}

// newApplyCmd writes the approved decisions of a batch to the catalog.
func newApplyCmd() *cobra.Command {
	var (
		batch    string
		operator string
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply the approved decisions of a batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(batch)
			if err != nil {
				return fmt.Errorf("invalid batch ID: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
			defer cancel()

			svc, _, closeFn, err := openService(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			report, err := svc.Apply(ctx, id, operatorName(operator))
			if err != nil {
				return fmt.Errorf("apply failed: %w", err)
			}

			ui := newUI(cmd)
			if outputJSON {
				return ui.JSON(report)
			}
			ui.Success("Batch %s applied", id)
			ui.KeyValue("Created", report.Created)
			ui.KeyValue("Updated", report.Updated)
			ui.KeyValue("Deleted", report.Deleted)
			ui.KeyValue("Unchanged", report.Unchanged)
			ui.KeyValue("Skipped", report.Skipped)
			return nil
		},
	}

	cmd.Flags().StringVar(&batch, "batch", "", "batch ID (required)")
	cmd.Flags().StringVar(&operator, "operator", "", "operator name for audit trail")

	return cmd
}

// newDiscardCmd abandons a pending batch.
func newDiscardCmd() *cobra.Command {
	var (
		batch    string
		operator string
	)

	cmd := &cobra.Command{
		Use:   "discard",
		Short: "Discard a pending batch without applying it",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(batch)
			if err != nil {
				return fmt.Errorf("invalid batch ID: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			svc, _, closeFn, err := openService(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := svc.Discard(ctx, id, operatorName(operator)); err != nil {
				return fmt.Errorf("discard failed: %w", err)
			}

			ui := newUI(cmd)
			if outputJSON {
				return ui.JSON(map[string]interface{}{"batchId": id, "status": storage.BatchStatusDiscarded})
			}
			ui.Success("Batch %s discarded", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&batch, "batch", "", "batch ID (required)")
	cmd.Flags().StringVar(&operator, "operator", "", "operator name for audit trail")

	return cmd
}

// parsePositions parses a list like "0,2,5-7" into sorted unique positions.
func parsePositions(s string) ([]int, error) {
	seen := make(map[int]bool)
	var positions []int
	add := func(p int) {
		if !seen[p] {
			seen[p] = true
			positions = append(positions, p)
		}
	}

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			from, err := strconv.Atoi(strings.TrimSpace(lo))
			if err != nil {
				return nil, fmt.Errorf("invalid position range %q", part)
			}
			to, err := strconv.Atoi(strings.TrimSpace(hi))
			if err != nil || to < from {
				return nil, fmt.Errorf("invalid position range %q", part)
			}
			for p := from; p <= to; p++ {
				add(p)
			}
			continue
		}
		p, err := strconv.Atoi(part)
		if err != nil || p < 0 {
			return nil, fmt.Errorf("invalid position %q", part)
		}
		add(p)
	}

	if len(positions) == 0 {
		return nil, fmt.Errorf("no positions given")
	}
	sort.Ints(positions)
	return positions, nil
}
