package models

import "time"

// PaymentStatus represents the status of a recorded payment
type PaymentStatus string

const (
	PaymentSuccessful PaymentStatus = "successful"
	PaymentFailed     PaymentStatus = "failed"
	PaymentPending    PaymentStatus = "pending"
)

// Payment records money received for a checkout. The optional links point at
// what it paid for; carts with several bookings or registrations are fully
// linked through the payment_id column on those rows.
type Payment struct {
	ID                   int           `json:"id" db:"id"`
	UserID               int           `json:"user_id" db:"user_id"`
	GatewayName          string        `json:"gateway_name" db:"gateway_name"`
	GatewayTransactionID string        `json:"gateway_transaction_id" db:"gateway_transaction_id"`
	Status               PaymentStatus `json:"status" db:"status"`
	Amount               Money         `json:"amount" db:"amount"`
	Currency             string        `json:"currency" db:"currency"`
	OrderID              *int          `json:"order_id,omitempty" db:"order_id"`
	BookingID            *int          `json:"booking_id,omitempty" db:"booking_id"`
	RegistrationID       *int          `json:"registration_id,omitempty" db:"registration_id"`
	CreatedAt            time.Time     `json:"created_at" db:"created_at"`
}

// IsSuccessful returns true if the payment captured funds
func (p *Payment) IsSuccessful() bool {
	return p.Status == PaymentSuccessful
}
