package services

import (
	"context"
	"fmt"
	"sort"

	"festival-platform/internal/models"
)

// ConfirmationStatus is a gateway's verdict on an intent
type ConfirmationStatus string

const (
	ConfirmationSucceeded ConfirmationStatus = "succeeded"
	ConfirmationFailed    ConfirmationStatus = "failed"
	ConfirmationPending   ConfirmationStatus = "pending"
)

// Confirmation is the result of asking a gateway about an intent. Captured
// and TransactionID are only meaningful when Status is succeeded.
type Confirmation struct {
	Status        ConfirmationStatus
	TransactionID string
	Captured      models.Money
	Currency      string
	Reason        string
}

// PaymentGateway is implemented by every payment provider. Both the card
// intent flow and the create-order/capture flow satisfy it.
type PaymentGateway interface {
	Name() string
	CreateIntent(ctx context.Context, amount models.Money, currency, customerRef string) (*models.IntentHandle, error)
	Confirm(ctx context.Context, handle models.IntentHandle) (*Confirmation, error)
}

// GatewayRegistry looks gateways up by name
type GatewayRegistry struct {
	gateways map[string]PaymentGateway
}

// NewGatewayRegistry creates a registry holding the given gateways
func NewGatewayRegistry(gateways ...PaymentGateway) *GatewayRegistry {
	r := &GatewayRegistry{gateways: make(map[string]PaymentGateway)}
	for _, g := range gateways {
		r.Register(g)
	}
	return r
}

// Register adds or replaces a gateway
func (r *GatewayRegistry) Register(g PaymentGateway) {
	r.gateways[g.Name()] = g
}

// Get returns the named gateway
func (r *GatewayRegistry) Get(name string) (PaymentGateway, error) {
	g, ok := r.gateways[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown payment gateway %q", models.ErrInvalidInput, name)
	}
	return g, nil
}

// Names returns the registered gateway names in order
func (r *GatewayRegistry) Names() []string {
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
