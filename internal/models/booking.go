package models

import (
	"fmt"
	"time"
)

// BookingStatus represents the lifecycle state of a campsite booking
type BookingStatus string

const (
	BookingPendingBasket BookingStatus = "pending_basket"
	BookingConfirmed     BookingStatus = "confirmed"
	BookingCancelled     BookingStatus = "cancelled"
	BookingCompleted     BookingStatus = "completed"
)

// OccupiesSite returns true for statuses that block the site for other bookings
func (s BookingStatus) OccupiesSite() bool {
	return s == BookingPendingBasket || s == BookingConfirmed
}

// ProvisionalBooking is a campsite booking row. While pending_basket it holds
// the site for the cart that created it.
type ProvisionalBooking struct {
	ID         int           `json:"id" db:"id"`
	UserID     int           `json:"user_id" db:"user_id"`
	CampsiteID int           `json:"campsite_id" db:"campsite_id"`
	CheckIn    time.Time     `json:"check_in" db:"check_in"`
	CheckOut   time.Time     `json:"check_out" db:"check_out"`
	GuestCount int           `json:"guest_count" db:"guest_count"`
	TotalPrice Money         `json:"total_price" db:"total_price"`
	Status     BookingStatus `json:"status" db:"status"`
	PaymentID  *int          `json:"payment_id,omitempty" db:"payment_id"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at" db:"updated_at"`
}

// BookingRequest is the data needed to hold a campsite
type BookingRequest struct {
	UserID     int
	CampsiteID int
	CheckIn    time.Time
	CheckOut   time.Time
	GuestCount int
}

// Validate validates the booking request
func (req *BookingRequest) Validate() error {
	if req.UserID <= 0 {
		return ErrUnauthorized
	}
	if req.CampsiteID <= 0 {
		return fmt.Errorf("%w: campsite is required", ErrInvalidInput)
	}
	if req.CheckIn.IsZero() || req.CheckOut.IsZero() {
		return fmt.Errorf("%w: check-in and check-out dates are required", ErrInvalidInput)
	}
	if !req.CheckOut.After(req.CheckIn) {
		return fmt.Errorf("%w: check-out must be after check-in", ErrInvalidInput)
	}
	if req.GuestCount < 1 {
		return fmt.Errorf("%w: at least one guest is required", ErrInvalidInput)
	}
	return nil
}

// Nights returns the number of nights between check-in and check-out
func Nights(checkIn, checkOut time.Time) int {
	in := DateOnly(checkIn)
	out := DateOnly(checkOut)
	return int(out.Sub(in).Hours() / 24)
}

// DateOnly truncates t to midnight UTC of its calendar date
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Overlaps reports whether [checkIn, checkOut) intersects [otherIn, otherOut)
func Overlaps(checkIn, checkOut, otherIn, otherOut time.Time) bool {
	return checkIn.Before(otherOut) && checkOut.After(otherIn)
}

// OverlapsBooking reports whether the booking blocks the given range
func (b *ProvisionalBooking) OverlapsBooking(checkIn, checkOut time.Time) bool {
	return b.Status.OccupiesSite() && Overlaps(checkIn, checkOut, b.CheckIn, b.CheckOut)
}

// IsPending returns true if the booking is still held by a cart
func (b *ProvisionalBooking) IsPending() bool {
	return b.Status == BookingPendingBasket
}

// IsExpired returns true if a pending booking is older than ttl
func (b *ProvisionalBooking) IsExpired(ttl time.Duration, now time.Time) bool {
	return b.IsPending() && now.Sub(b.CreatedAt) > ttl
}
