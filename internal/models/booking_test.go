package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func day(d int) time.Time {
	return time.Date(2026, 1, d, 0, 0, 0, 0, time.UTC)
}

func TestOverlaps(t *testing.T) {
	tests := []struct {
		name              string
		in, out           time.Time
		otherIn, otherOut time.Time
		want              bool
	}{
		{"identical range", day(1), day(4), day(1), day(4), true},
		{"starts inside", day(2), day(6), day(1), day(4), true},
		{"contains other", day(1), day(10), day(3), day(4), true},
		{"back to back after", day(4), day(6), day(1), day(4), false},
		{"back to back before", day(1), day(4), day(4), day(6), false},
		{"disjoint", day(10), day(12), day(1), day(4), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Overlaps(tt.in, tt.out, tt.otherIn, tt.otherOut))
		})
	}
}

func TestProvisionalBooking_OverlapsBookingIgnoresReleasedStatuses(t *testing.T) {
	booking := &ProvisionalBooking{CheckIn: day(1), CheckOut: day(4)}

	for status, want := range map[BookingStatus]bool{
		BookingPendingBasket: true,
		BookingConfirmed:     true,
		BookingCancelled:     false,
		BookingCompleted:     false,
	} {
		booking.Status = status
		assert.Equal(t, want, booking.OverlapsBooking(day(2), day(3)), string(status))
	}
}

func TestNights(t *testing.T) {
	assert.Equal(t, 3, Nights(day(1), day(4)))
	assert.Equal(t, 1, Nights(day(1).Add(15*time.Hour), day(2).Add(10*time.Hour)))
}

func TestBookingRequest_Validate(t *testing.T) {
	valid := BookingRequest{UserID: 1, CampsiteID: 2, CheckIn: day(1), CheckOut: day(3), GuestCount: 2}
	assert.NoError(t, valid.Validate())

	anonymous := valid
	anonymous.UserID = 0
	assert.ErrorIs(t, anonymous.Validate(), ErrUnauthorized)

	inverted := valid
	inverted.CheckOut = day(1)
	assert.ErrorIs(t, inverted.Validate(), ErrInvalidInput)

	noGuests := valid
	noGuests.GuestCount = 0
	assert.ErrorIs(t, noGuests.Validate(), ErrInvalidInput)
}

func TestProvisionalBooking_IsExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	booking := &ProvisionalBooking{Status: BookingPendingBasket, CreatedAt: now.Add(-61 * time.Minute)}
	assert.True(t, booking.IsExpired(time.Hour, now))

	booking.CreatedAt = now.Add(-30 * time.Minute)
	assert.False(t, booking.IsExpired(time.Hour, now))

	booking.CreatedAt = now.Add(-2 * time.Hour)
	booking.Status = BookingConfirmed
	assert.False(t, booking.IsExpired(time.Hour, now))
}
