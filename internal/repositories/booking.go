package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"festival-platform/internal/models"
)

// BookingRepository handles campsite booking rows
type BookingRepository struct {
	db *sql.DB
}

// NewBookingRepository creates a new booking repository
func NewBookingRepository(db *sql.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

const bookingColumns = `id, user_id, campsite_id, check_in, check_out, guest_count, total_price, status, payment_id, created_at, updated_at`

func scanBooking(row interface{ Scan(...any) error }) (*models.ProvisionalBooking, error) {
	booking := &models.ProvisionalBooking{}
	var paymentID sql.NullInt64
	err := row.Scan(
		&booking.ID,
		&booking.UserID,
		&booking.CampsiteID,
		&booking.CheckIn,
		&booking.CheckOut,
		&booking.GuestCount,
		&booking.TotalPrice,
		&booking.Status,
		&paymentID,
		&booking.CreatedAt,
		&booking.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	booking.PaymentID = intPtr(paymentID)
	return booking, nil
}

// CreatePending inserts a pending_basket booking. The campsite row is locked
// and the overlap check runs in the same transaction as the insert; the
// exclusion constraint catches anything that slips past.
func (r *BookingRepository) CreatePending(ctx context.Context, req models.BookingRequest, total models.Money) (*models.ProvisionalBooking, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var campsiteID int
	err = tx.QueryRowContext(ctx, `SELECT id FROM campsites WHERE id = $1 FOR UPDATE`, req.CampsiteID).Scan(&campsiteID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("campsite %d: %w", req.CampsiteID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to lock campsite: %w", err)
	}

	conflict, err := hasOverlap(ctx, tx, req.CampsiteID, req.CheckIn, req.CheckOut, 0)
	if err != nil {
		return nil, err
	}
	if conflict {
		return nil, models.ErrSiteUnavailable
	}

	now := time.Now()
	booking, err := scanBooking(tx.QueryRowContext(ctx, `
		INSERT INTO bookings (user_id, campsite_id, check_in, check_out, guest_count, total_price, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+bookingColumns,
		req.UserID,
		req.CampsiteID,
		models.DateOnly(req.CheckIn),
		models.DateOnly(req.CheckOut),
		req.GuestCount,
		total,
		models.BookingPendingBasket,
		now,
		now,
	))
	if err != nil {
		if isExclusionViolation(err) {
			return nil, models.ErrSiteUnavailable
		}
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isExclusionViolation(err) {
			return nil, models.ErrSiteUnavailable
		}
		return nil, fmt.Errorf("failed to commit booking: %w", err)
	}

	return booking, nil
}

// hasOverlap checks pending and confirmed bookings on a campsite, ignoring excludeID
func hasOverlap(ctx context.Context, q DBTX, campsiteID int, checkIn, checkOut time.Time, excludeID int) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM bookings
			WHERE campsite_id = $1
			  AND status IN ('pending_basket', 'confirmed')
			  AND check_in < $3
			  AND check_out > $2
			  AND id <> $4
		)`, campsiteID, models.DateOnly(checkIn), models.DateOnly(checkOut), excludeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check booking overlap: %w", err)
	}
	return exists, nil
}

// GetByID retrieves a booking by ID
func (r *BookingRepository) GetByID(ctx context.Context, id int) (*models.ProvisionalBooking, error) {
	booking, err := scanBooking(r.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("booking %d: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return booking, nil
}

// DeletePending deletes a booking only while it is still pending_basket and
// owned by userID. It reports whether a row was removed.
func (r *BookingRepository) DeletePending(ctx context.Context, id, userID int) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM bookings
		WHERE id = $1 AND user_id = $2 AND status = 'pending_basket'`, id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete pending booking: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// DeleteExpiredPending deletes pending_basket bookings created before cutoff
func (r *BookingRepository) DeleteExpiredPending(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM bookings
		WHERE status = 'pending_basket' AND created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired bookings: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}
