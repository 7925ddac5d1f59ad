package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"festival-platform/internal/metrics"
	"festival-platform/internal/models"
)

// DefaultReservationTTL is how long a pending_basket booking holds a site
const DefaultReservationTTL = 60 * time.Minute

// ReservationManager owns the lifecycle of pending_basket campsite bookings
type ReservationManager struct {
	catalog  CatalogReader
	bookings BookingStore
	ttl      time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewReservationManager creates a new reservation manager
func NewReservationManager(catalog CatalogReader, bookings BookingStore, ttl time.Duration, m *metrics.Metrics) *ReservationManager {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	return &ReservationManager{
		catalog:  catalog,
		bookings: bookings,
		ttl:      ttl,
		metrics:  m,
		now:      time.Now,
	}
}

// TTL returns the hold duration for pending bookings
func (m *ReservationManager) TTL() time.Duration {
	return m.ttl
}

// Reserve prices the stay from the campsite's nightly rate and inserts a
// pending_basket booking. Overlapping pending or confirmed bookings make it
// fail with ErrSiteUnavailable.
func (m *ReservationManager) Reserve(ctx context.Context, req models.BookingRequest) (*models.ProvisionalBooking, error) {
	req.CheckIn = models.DateOnly(req.CheckIn)
	req.CheckOut = models.DateOnly(req.CheckOut)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.CheckIn.Before(models.DateOnly(m.now())) {
		return nil, fmt.Errorf("%w: check-in cannot be in the past", models.ErrInvalidInput)
	}

	campsite, err := m.catalog.GetCampsite(ctx, req.CampsiteID)
	if err != nil {
		return nil, err
	}
	if campsite.MaxGuests > 0 && req.GuestCount > campsite.MaxGuests {
		return nil, fmt.Errorf("%w: campsite %s allows at most %d guests", models.ErrInvalidInput, campsite.Name, campsite.MaxGuests)
	}

	nights := models.Nights(req.CheckIn, req.CheckOut)
	total := models.Times(campsite.NightlyRate, nights)

	booking, err := m.bookings.CreatePending(ctx, req, total)
	if err != nil {
		return nil, err
	}

	log.Printf("reservation: held campsite %d for user %d, %s to %s (booking %d)",
		req.CampsiteID, req.UserID, req.CheckIn.Format("2006-01-02"), req.CheckOut.Format("2006-01-02"), booking.ID)
	return booking, nil
}

// Release deletes a booking that is still pending_basket and owned by userID.
// Confirmed or foreign bookings are left alone.
func (m *ReservationManager) Release(ctx context.Context, bookingID, userID int) error {
	deleted, err := m.bookings.DeletePending(ctx, bookingID, userID)
	if err != nil {
		return err
	}
	if deleted {
		log.Printf("reservation: released booking %d", bookingID)
	}
	return nil
}

// Get returns a booking by id
func (m *ReservationManager) Get(ctx context.Context, bookingID int) (*models.ProvisionalBooking, error) {
	return m.bookings.GetByID(ctx, bookingID)
}

// SweepExpired deletes pending_basket bookings created before cutoff
func (m *ReservationManager) SweepExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := m.bookings.DeleteExpiredPending(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	m.metrics.Swept(n)
	if n > 0 {
		log.Printf("reservation: swept %d expired pending bookings created before %s", n, cutoff.Format(time.RFC3339))
	}
	return n, nil
}

// SweepStale deletes pending bookings older than the configured TTL
func (m *ReservationManager) SweepStale(ctx context.Context) (int64, error) {
	return m.SweepExpired(ctx, m.now().Add(-m.ttl))
}
