package models

import "errors"

// Common errors used throughout the application
var (
	ErrNotFound                 = errors.New("not found")
	ErrItemUnavailable          = errors.New("item unavailable")
	ErrSiteUnavailable          = errors.New("campsite unavailable for the selected dates")
	ErrEmptyOrZeroTotal         = errors.New("cart total must be greater than zero")
	ErrAmountMismatch           = errors.New("captured amount does not match cart total")
	ErrInsufficientStock        = errors.New("insufficient stock")
	ErrBookingNoLongerAvailable = errors.New("booking is no longer available")
	ErrGatewayFailure           = errors.New("payment gateway failure")

	ErrInvalidInput           = errors.New("invalid input")
	ErrUnauthorized           = errors.New("unauthorized access")
	ErrEmptyCart              = errors.New("cart is empty")
	ErrRegistrationIncomplete = errors.New("event registration is incomplete")
	ErrInvalidCheckoutState   = errors.New("invalid checkout state")
	ErrDuplicateEntry         = errors.New("duplicate entry")
	ErrSessionChanged         = errors.New("cart session was changed by another request")
)

// GatewayError carries the reason a payment gateway gave for a failure.
// It matches ErrGatewayFailure with errors.Is.
type GatewayError struct {
	Gateway string
	Reason  string
}

func (e *GatewayError) Error() string {
	if e.Reason == "" {
		return e.Gateway + ": payment was not completed, please try again"
	}
	return e.Gateway + ": " + e.Reason
}

func (e *GatewayError) Is(target error) bool {
	return target == ErrGatewayFailure
}
