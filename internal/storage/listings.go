package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/leasingborsen/listing-sync/internal/reconcile"
)

// ListingRepository handles catalog listings and their lease pricing.
type ListingRepository struct {
	db DB
}

// NewListingRepository creates a new listing repository.
func NewListingRepository(db DB) *ListingRepository {
	return &ListingRepository{db: db}
}

const listingColumns = `l.id, l.dealer_id, l.make, l.model, l.variant, l.horsepower, l.transmission,
	l.fuel_type, l.body_type, l.year, l.wltp, l.co2_emission, l.consumption_l_100km,
	l.consumption_kwh_100km, l.co2_tax_half_year, l.created_at, l.updated_at`

// Create inserts a listing and its offers.
func (r *ListingRepository) Create(ctx context.Context, l *Listing) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now

	query := `
		INSERT INTO listings (id, dealer_id, make, model, variant, horsepower, transmission,
			fuel_type, body_type, year, wltp, co2_emission, consumption_l_100km,
			consumption_kwh_100km, co2_tax_half_year, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err := r.db.ExecContext(ctx, query,
		l.ID, l.DealerID, l.Make, l.Model, l.Variant, l.Horsepower, string(l.Transmission),
		l.FuelType, l.BodyType, l.Year, l.WLTP, l.CO2Emission, l.ConsumptionL100km,
		l.ConsumptionKWh100km, l.CO2TaxHalfYear, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}

	return r.ReplacePricing(ctx, l.ID, l.Offers)
}

// Update overwrites the attributes of a listing. Offers are left untouched;
// see ReplacePricing.
func (r *ListingRepository) Update(ctx context.Context, l *Listing) error {
	l.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE listings SET make = $1, model = $2, variant = $3, horsepower = $4,
			transmission = $5, fuel_type = $6, body_type = $7, year = $8, wltp = $9,
			co2_emission = $10, consumption_l_100km = $11, consumption_kwh_100km = $12,
			co2_tax_half_year = $13, updated_at = $14
		WHERE id = $15 AND dealer_id = $16
	`
	res, err := r.db.ExecContext(ctx, query,
		l.Make, l.Model, l.Variant, l.Horsepower, string(l.Transmission), l.FuelType,
		l.BodyType, l.Year, l.WLTP, l.CO2Emission, l.ConsumptionL100km,
		l.ConsumptionKWh100km, l.CO2TaxHalfYear, l.UpdatedAt, l.ID, l.DealerID,
	)
	if err != nil {
		return fmt.Errorf("update listing: %w", err)
	}
	return expectAffected(res)
}

// Delete removes a listing and its pricing.
func (r *ListingRepository) Delete(ctx context.Context, dealerID string, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM lease_pricing WHERE listing_id = $1`, id); err != nil {
		return fmt.Errorf("delete pricing: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM listings WHERE id = $1 AND dealer_id = $2`, id, dealerID)
	if err != nil {
		return fmt.Errorf("delete listing: %w", err)
	}
	return expectAffected(res)
}

// ReplacePricing swaps the offer set of a listing. A nil slice clears it.
func (r *ListingRepository) ReplacePricing(ctx context.Context, listingID uuid.UUID, offers []reconcile.Offer) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM lease_pricing WHERE listing_id = $1`, listingID); err != nil {
		return fmt.Errorf("clear pricing: %w", err)
	}

	query := `
		INSERT INTO lease_pricing (id, listing_id, position, monthly_price, first_payment,
			period_months, mileage_per_year, total_price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	now := time.Now().UTC()
	for i, o := range offers {
		total := o.TotalPrice
		if total == nil {
			t := reconcile.NormalizeOffer(o).TotalPrice()
			total = &t
		}
		if _, err := r.db.ExecContext(ctx, query,
			uuid.New(), listingID, i, o.MonthlyPrice, o.FirstPayment,
			o.PeriodMonths, o.MileagePerYear, total, now,
		); err != nil {
			return fmt.Errorf("insert pricing: %w", err)
		}
	}
	return nil
}

// GetByID retrieves a listing with its offers.
func (r *ListingRepository) GetByID(ctx context.Context, dealerID string, id uuid.UUID) (*Listing, error) {
	listings, err := r.query(ctx, `WHERE l.id = $1 AND l.dealer_id = $2`, id, dealerID)
	if err != nil {
		return nil, err
	}
	if len(listings) == 0 {
		return nil, ErrNotFound
	}
	return listings[0], nil
}

// ListByDealer returns the dealer's catalog snapshot in creation order.
func (r *ListingRepository) ListByDealer(ctx context.Context, dealerID string) ([]*Listing, error) {
	return r.query(ctx, `WHERE l.dealer_id = $1`, dealerID)
}

// CountByDealer returns the number of listings of a dealer.
func (r *ListingRepository) CountByDealer(ctx context.Context, dealerID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM listings WHERE dealer_id = $1`, dealerID).Scan(&n)
	return n, err
}

// query loads listings joined with their pricing rows. The join yields one row
// per offer, so rows are folded back into one listing per id.
func (r *ListingRepository) query(ctx context.Context, where string, args ...interface{}) ([]*Listing, error) {
	query := `
		SELECT ` + listingColumns + `,
			p.id, p.monthly_price, p.first_payment, p.period_months, p.mileage_per_year, p.total_price
		FROM listings l
		LEFT JOIN lease_pricing p ON p.listing_id = l.id
		` + where + `
		ORDER BY l.created_at, l.id, p.position
	`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	var listings []*Listing
	byID := make(map[uuid.UUID]*Listing)
	for rows.Next() {
		var (
			l            Listing
			transmission string
			pricingID    sql.NullString
			offer        reconcile.Offer
		)
		if err := rows.Scan(
			&l.ID, &l.DealerID, &l.Make, &l.Model, &l.Variant, &l.Horsepower, &transmission,
			&l.FuelType, &l.BodyType, &l.Year, &l.WLTP, &l.CO2Emission, &l.ConsumptionL100km,
			&l.ConsumptionKWh100km, &l.CO2TaxHalfYear, &l.CreatedAt, &l.UpdatedAt,
			&pricingID, &offer.MonthlyPrice, &offer.FirstPayment, &offer.PeriodMonths,
			&offer.MileagePerYear, &offer.TotalPrice,
		); err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}

		existing, ok := byID[l.ID]
		if !ok {
			l.Transmission = reconcile.ParseTransmission(transmission)
			l.Offers = []reconcile.Offer{}
			existing = &l
			byID[l.ID] = existing
			listings = append(listings, existing)
		}
		if pricingID.Valid {
			existing.Offers = append(existing.Offers, offer)
		}
	}
	return listings, rows.Err()
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
