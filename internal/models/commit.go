package models

import "time"

// CommitPlan is everything the commit transaction writes for one verified
// payment. It is built from a fresh quote, never from cached cart figures.
type CommitPlan struct {
	AttemptID     int
	UserID        int
	Gateway       string
	TransactionID string
	Amount        Money
	Currency      string

	// Order is nil when the cart holds no merchandise
	Order         *Order
	BookingIDs    []int
	Registrations []*EventRegistration

	EventTopic string
}

// CommitResult identifies the rows created or promoted by a commit
type CommitResult struct {
	PaymentID        int    `json:"payment_id"`
	OrderID          *int   `json:"order_id,omitempty"`
	OrderNumber      string `json:"order_number,omitempty"`
	BookingIDs       []int  `json:"booking_ids,omitempty"`
	RegistrationIDs  []int  `json:"registration_ids,omitempty"`
	AlreadyCommitted bool   `json:"already_committed"`
}

// CheckoutCommittedEvent is written to the outbox in the commit transaction
type CheckoutCommittedEvent struct {
	EventID         string    `json:"event_id"`
	AttemptID       int       `json:"attempt_id"`
	UserID          int       `json:"user_id"`
	PaymentID       int       `json:"payment_id"`
	Gateway         string    `json:"gateway"`
	TransactionID   string    `json:"transaction_id"`
	Amount          Money     `json:"amount"`
	Currency        string    `json:"currency"`
	OrderID         *int      `json:"order_id,omitempty"`
	OrderNumber     string    `json:"order_number,omitempty"`
	BookingIDs      []int     `json:"booking_ids,omitempty"`
	RegistrationIDs []int     `json:"registration_ids,omitempty"`
	CommittedAt     time.Time `json:"committed_at"`
}

// OutboxRecord is an event waiting to be published
type OutboxRecord struct {
	ID        int64      `json:"id"`
	EventID   string     `json:"event_id"`
	Topic     string     `json:"topic"`
	Key       string     `json:"key"`
	Payload   []byte     `json:"payload"`
	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
}
