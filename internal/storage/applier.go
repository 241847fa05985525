package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/leasingborsen/listing-sync/internal/reconcile"
)

// ApplyBatch writes the approved decisions of a pending batch to the catalog
// in a single transaction and marks the batch applied. Rejected and still
// pending decisions are skipped. When a listing touched by an update or
// delete is gone, the whole batch fails with ErrConflict and nothing is written.
func (s *Store) ApplyBatch(ctx context.Context, batchID uuid.UUID) (*ApplyReport, error) {
	report := &ApplyReport{BatchID: batchID}

	err := s.WithTx(ctx, func(repos *Repositories) error {
		batch, err := repos.Batches.GetByID(ctx, batchID)
		if err != nil {
			return err
		}
		if batch.Status != BatchStatusPendingReview {
			return fmt.Errorf("batch %s is %s: %w", batchID, batch.Status, ErrConflict)
		}

		decisions, err := repos.Batches.ListDecisions(ctx, batchID)
		if err != nil {
			return err
		}

		for _, d := range decisions {
			if d.ReviewStatus != ReviewStatusApproved {
				report.Skipped++
				continue
			}
			if err := applyDecision(ctx, repos.Listings, batch.DealerID, d, report); err != nil {
				return fmt.Errorf("decision %d: %w", d.Position, err)
			}
		}

		return repos.Batches.TransitionStatus(ctx, batchID, BatchStatusPendingReview, BatchStatusApplied)
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func applyDecision(ctx context.Context, listings *ListingRepository, dealerID string, d *Decision, report *ApplyReport) error {
	m := d.Match
	switch m.ChangeType {
	case reconcile.ChangeUnchanged:
		report.Unchanged++
		return nil

	case reconcile.ChangeCreate:
		if m.Extracted == nil {
			return fmt.Errorf("create without extracted record")
		}
		l := &Listing{DealerID: dealerID, CarSpec: m.Extracted.CarSpec}
		if err := listings.Create(ctx, l); err != nil {
			return err
		}
		report.Created++
		report.CreatedIDs = append(report.CreatedIDs, l.ID)
		return nil

	case reconcile.ChangeUpdate:
		id, ok := d.ListingID()
		if !ok || m.Extracted == nil {
			return fmt.Errorf("update without listing reference")
		}
		current, err := listings.GetByID(ctx, dealerID, id)
		if err != nil {
			return staleIfMissing(err)
		}
		mergeSpec(&current.CarSpec, m.Extracted.CarSpec)
		if err := listings.Update(ctx, current); err != nil {
			return staleIfMissing(err)
		}
		if m.OffersChanged && m.Extracted.Offers != nil {
			if err := listings.ReplacePricing(ctx, id, m.Extracted.Offers); err != nil {
				return err
			}
		}
		report.Updated++
		return nil

	case reconcile.ChangeDelete:
		id, ok := d.ListingID()
		if !ok {
			return fmt.Errorf("delete without listing reference")
		}
		if err := listings.Delete(ctx, dealerID, id); err != nil {
			return staleIfMissing(err)
		}
		report.Deleted++
		return nil
	}
	return fmt.Errorf("unknown change type %q", m.ChangeType)
}

// mergeSpec copies every populated extracted attribute onto the stored listing.
// Make and model keep their catalog spelling.
func mergeSpec(dst *reconcile.CarSpec, src reconcile.CarSpec) {
	if src.Variant != "" {
		dst.Variant = src.Variant
	}
	if src.Horsepower != nil {
		dst.Horsepower = src.Horsepower
	}
	if src.Transmission.Known() {
		dst.Transmission = src.Transmission
	}
	if src.FuelType != "" {
		dst.FuelType = src.FuelType
	}
	if src.BodyType != "" {
		dst.BodyType = src.BodyType
	}
	if src.Year != nil {
		dst.Year = src.Year
	}
	if src.WLTP != nil {
		dst.WLTP = src.WLTP
	}
	if src.CO2Emission != nil {
		dst.CO2Emission = src.CO2Emission
	}
	if src.ConsumptionL100km != nil {
		dst.ConsumptionL100km = src.ConsumptionL100km
	}
	if src.ConsumptionKWh100km != nil {
		dst.ConsumptionKWh100km = src.ConsumptionKWh100km
	}
	if src.CO2TaxHalfYear != nil {
		dst.CO2TaxHalfYear = src.CO2TaxHalfYear
	}
}

func staleIfMissing(err error) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("listing changed since preview: %w", ErrConflict)
	}
	return err
}
