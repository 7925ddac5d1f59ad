package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"festival-platform/internal/models"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// CatalogRepository reads current prices and stock. It never writes.
type CatalogRepository struct {
	db *sql.DB
}

// NewCatalogRepository creates a new catalog repository
func NewCatalogRepository(db *sql.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// GetProduct retrieves a product by ID
func (r *CatalogRepository) GetProduct(ctx context.Context, id int) (*models.Product, error) {
	product := &models.Product{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, base_price, active
		FROM products
		WHERE id = $1`, id).Scan(&product.ID, &product.Name, &product.BasePrice, &product.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("product %d: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return product, nil
}

const variantColumns = `id, product_id, sku, price_override, stock`

func scanVariant(row interface{ Scan(...any) error }) (*models.Variant, error) {
	variant := &models.Variant{}
	var override decimal.NullDecimal
	if err := row.Scan(&variant.ID, &variant.ProductID, &variant.SKU, &override, &variant.Stock); err != nil {
		return nil, err
	}
	if override.Valid {
		price := override.Decimal
		variant.PriceOverride = &price
	}
	return variant, nil
}

// GetVariant retrieves a product variant by ID
func (r *CatalogRepository) GetVariant(ctx context.Context, id int) (*models.Variant, error) {
	variant, err := scanVariant(r.db.QueryRowContext(ctx,
		`SELECT `+variantColumns+` FROM product_variants WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("variant %d: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get variant: %w", err)
	}
	return variant, nil
}

// ResolveVariant finds the variant of a product whose option values are
// exactly the given set. Products without options resolve with an empty set.
func (r *CatalogRepository) ResolveVariant(ctx context.Context, productID int, optionValueIDs []int) (*models.Variant, error) {
	ids := append([]int(nil), optionValueIDs...)
	sort.Ints(ids)

	variant, err := scanVariant(r.db.QueryRowContext(ctx, `
		SELECT `+variantColumns+`
		FROM product_variants v
		WHERE v.product_id = $1
		  AND COALESCE((
			SELECT array_agg(pvo.option_value_id ORDER BY pvo.option_value_id)
			FROM product_variant_options pvo
			WHERE pvo.variant_id = v.id
		  ), '{}') = $2::int[]
		LIMIT 1`, productID, pq.Array(int64s(ids))))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("product %d with options %v: %w", productID, ids, models.ErrItemUnavailable)
		}
		return nil, fmt.Errorf("failed to resolve variant: %w", err)
	}
	return variant, nil
}

// GetCampsite retrieves a campsite. A campsite without a nightly rate cannot
// be priced and is reported as not found.
func (r *CatalogRepository) GetCampsite(ctx context.Context, id int) (*models.Campsite, error) {
	site := &models.Campsite{}
	var rate decimal.NullDecimal
	err := r.db.QueryRowContext(ctx, `
		SELECT id, campground, name, nightly_rate, max_guests
		FROM campsites
		WHERE id = $1`, id).Scan(&site.ID, &site.Campground, &site.Name, &rate, &site.MaxGuests)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("campsite %d: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get campsite: %w", err)
	}
	if !rate.Valid {
		return nil, fmt.Errorf("campsite %d has no nightly rate: %w", id, models.ErrNotFound)
	}
	site.NightlyRate = rate.Decimal
	return site, nil
}

// EventExists reports whether an event with the given ID exists
func (r *CatalogRepository) EventExists(ctx context.Context, eventID int) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM events WHERE id = $1)`, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check event: %w", err)
	}
	return exists, nil
}

// ListAttendeeTypes returns the attendee types an event accepts
func (r *CatalogRepository) ListAttendeeTypes(ctx context.Context, eventID int) ([]models.AttendeeType, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT at.id, eat.event_id, at.name, at.price, at.requires_pilot_details, at.requires_junior_details
		FROM attendee_types at
		JOIN event_attendee_types eat ON eat.attendee_type_id = at.id
		WHERE eat.event_id = $1
		ORDER BY at.id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attendee types: %w", err)
	}
	defer rows.Close()

	var types []models.AttendeeType
	for rows.Next() {
		var t models.AttendeeType
		if err := rows.Scan(&t.ID, &t.EventID, &t.Name, &t.Price, &t.RequiresPilotDetails, &t.RequiresJuniorDetails); err != nil {
			return nil, fmt.Errorf("failed to scan attendee type: %w", err)
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

// GetAttendeeType retrieves the current fee and flags of an attendee type
func (r *CatalogRepository) GetAttendeeType(ctx context.Context, id int) (*models.AttendeeType, error) {
	t := &models.AttendeeType{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, price, requires_pilot_details, requires_junior_details
		FROM attendee_types
		WHERE id = $1`, id).Scan(&t.ID, &t.Name, &t.Price, &t.RequiresPilotDetails, &t.RequiresJuniorDetails)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("attendee type %d: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get attendee type: %w", err)
	}
	return t, nil
}

// GetSubEvent retrieves a sub-event and its current cost
func (r *CatalogRepository) GetSubEvent(ctx context.Context, id int) (*models.SubEvent, error) {
	sub := &models.SubEvent{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, event_id, name, cost
		FROM sub_events
		WHERE id = $1`, id).Scan(&sub.ID, &sub.EventID, &sub.Name, &sub.Cost)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sub-event %d: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get sub-event: %w", err)
	}
	return sub, nil
}
