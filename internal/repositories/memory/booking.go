package memory

import (
	"context"
	"fmt"
	"time"

	"festival-platform/internal/models"
)

// BookingRepository holds provisional campsite bookings. The store mutex
// plays the part of the row lock and exclusion constraint.
type BookingRepository struct {
	s *Store
}

// NewBookingRepository creates a new booking repository
func NewBookingRepository(s *Store) *BookingRepository {
	return &BookingRepository{s: s}
}

func (r *BookingRepository) CreatePending(ctx context.Context, req models.BookingRequest, total models.Money) (*models.ProvisionalBooking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.Campsites[req.CampsiteID]; !ok {
		return nil, fmt.Errorf("campsite %d: %w", req.CampsiteID, models.ErrNotFound)
	}
	if r.s.overlapsLocked(req.CampsiteID, req.CheckIn, req.CheckOut, 0) {
		return nil, models.ErrSiteUnavailable
	}
	r.s.nextBooking++
	now := time.Now()
	b := &models.ProvisionalBooking{
		ID:         r.s.nextBooking,
		UserID:     req.UserID,
		CampsiteID: req.CampsiteID,
		CheckIn:    req.CheckIn,
		CheckOut:   req.CheckOut,
		GuestCount: req.GuestCount,
		TotalPrice: total,
		Status:     models.BookingPendingBasket,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.s.Bookings[b.ID] = b
	cp := *b
	return &cp, nil
}

func (r *BookingRepository) GetByID(ctx context.Context, id int) (*models.ProvisionalBooking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.Bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %d: %w", id, models.ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

func (r *BookingRepository) DeletePending(ctx context.Context, id, userID int) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.Bookings[id]
	if !ok || !b.IsPending() || b.UserID != userID {
		return false, nil
	}
	delete(r.s.Bookings, id)
	return true, nil
}

func (r *BookingRepository) DeleteExpiredPending(ctx context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, b := range r.s.Bookings {
		if b.IsPending() && b.CreatedAt.Before(cutoff) {
			delete(r.s.Bookings, id)
			n++
		}
	}
	return n, nil
}
