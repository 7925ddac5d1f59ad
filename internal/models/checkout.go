package models

import (
	"fmt"
	"time"
)

// CheckoutState is the position of a checkout attempt in its state machine
type CheckoutState string

const (
	CheckoutCartReady        CheckoutState = "cart_ready"
	CheckoutAddressCollected CheckoutState = "address_collected"
	CheckoutIntentCreated    CheckoutState = "intent_created"
	CheckoutAwaitingGateway  CheckoutState = "awaiting_gateway_confirmation"
	CheckoutCommitted        CheckoutState = "committed"
	CheckoutFailed           CheckoutState = "failed"
)

var checkoutTransitions = map[CheckoutState][]CheckoutState{
	CheckoutCartReady:        {CheckoutAddressCollected},
	CheckoutAddressCollected: {CheckoutAddressCollected, CheckoutIntentCreated},
	CheckoutIntentCreated:    {CheckoutAddressCollected, CheckoutIntentCreated, CheckoutAwaitingGateway, CheckoutCommitted, CheckoutFailed},
	CheckoutAwaitingGateway:  {CheckoutAwaitingGateway, CheckoutCommitted, CheckoutFailed},
	CheckoutFailed:           {CheckoutAddressCollected, CheckoutIntentCreated},
	CheckoutCommitted:        {CheckoutCartReady},
}

// CanTransitionTo reports whether moving from s to next is allowed
func (s CheckoutState) CanTransitionTo(next CheckoutState) bool {
	for _, allowed := range checkoutTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IntentHandle is a gateway's reference to an authorized-but-unconfirmed charge
type IntentHandle struct {
	Gateway      string `json:"gateway"`
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret,omitempty"`
	ApprovalURL  string `json:"approval_url,omitempty"`
	Amount       Money  `json:"amount"`
	Currency     string `json:"currency"`
}

// CheckoutInfo is the per-attempt state kept in the cart session
type CheckoutInfo struct {
	State   CheckoutState    `json:"state"`
	Address *ShippingAddress `json:"address,omitempty"`
	Intent  *IntentHandle    `json:"intent,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// CartSession is the server-side session object a cart lives in. It is looked
// up by the opaque token carried in the session cookie.
type CartSession struct {
	Token     string       `json:"token"`
	UserID    int          `json:"user_id"`
	UserEmail string       `json:"user_email"`
	Cart      *Cart        `json:"cart"`
	Checkout  CheckoutInfo `json:"checkout"`
	UpdatedAt time.Time    `json:"updated_at"`
	// Version is bumped by every save. A save carrying an older version
	// fails with ErrSessionChanged.
	Version int `json:"version"`
}

// NewCartSession creates an empty session for token
func NewCartSession(token string) *CartSession {
	return &CartSession{
		Token:    token,
		Cart:     NewCart(),
		Checkout: CheckoutInfo{State: CheckoutCartReady},
	}
}

// Transition moves the checkout to next or fails with ErrInvalidCheckoutState
func (s *CartSession) Transition(next CheckoutState) error {
	current := s.Checkout.State
	if current == "" {
		current = CheckoutCartReady
	}
	if !current.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidCheckoutState, current, next)
	}
	s.Checkout.State = next
	return nil
}

// ResetCheckout drops any in-flight checkout attempt. Called whenever the cart
// changes so a stale intent is never confirmed against a different cart.
func (s *CartSession) ResetCheckout() {
	address := s.Checkout.Address
	s.Checkout = CheckoutInfo{State: CheckoutCartReady}
	if address != nil {
		s.Checkout.Address = address
		s.Checkout.State = CheckoutAddressCollected
	}
}

// IsAuthenticated returns true when an identity is attached to the session
func (s *CartSession) IsAuthenticated() bool {
	return s.UserID > 0
}

// AttemptStatus is the persisted status of a checkout attempt
type AttemptStatus string

const (
	AttemptAwaiting            AttemptStatus = "awaiting"
	AttemptCommitted           AttemptStatus = "committed"
	AttemptFailed              AttemptStatus = "failed"
	AttemptAmountMismatch      AttemptStatus = "amount_mismatch"
	AttemptNeedsReconciliation AttemptStatus = "needs_reconciliation"
)

// IsFinal returns true for statuses that will not change again
func (s AttemptStatus) IsFinal() bool {
	return s != AttemptAwaiting && s != AttemptFailed
}

// CheckoutAttempt is one gateway intent opened for a cart session. It lets a
// webhook or the reconciliation job confirm payment without the browser.
type CheckoutAttempt struct {
	ID            int           `json:"id" db:"id"`
	SessionToken  string        `json:"session_token" db:"session_token"`
	UserID        int           `json:"user_id" db:"user_id"`
	Gateway       string        `json:"gateway" db:"gateway"`
	IntentID      string        `json:"intent_id" db:"intent_id"`
	Amount        Money         `json:"amount" db:"amount"`
	Currency      string        `json:"currency" db:"currency"`
	Status        AttemptStatus `json:"status" db:"status"`
	PaymentID     *int          `json:"payment_id,omitempty" db:"payment_id"`
	FailureReason string        `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
}

// ReconciliationFlag marks captured funds whose commit could not complete
type ReconciliationFlag struct {
	ID            int        `json:"id" db:"id"`
	AttemptID     int        `json:"attempt_id" db:"attempt_id"`
	Gateway       string     `json:"gateway" db:"gateway"`
	TransactionID string     `json:"transaction_id" db:"transaction_id"`
	Amount        Money      `json:"amount" db:"amount"`
	Currency      string     `json:"currency" db:"currency"`
	Reason        string     `json:"reason" db:"reason"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}
