package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"festival-platform/internal/models"

	"github.com/google/uuid"
)

// MockGateway approves every intent for exactly the amount it was opened with.
// Used in development when no gateway credentials are configured.
type MockGateway struct {
	mu       sync.Mutex
	declined map[string]string
}

// NewMockGateway creates a new mock gateway
func NewMockGateway() *MockGateway {
	return &MockGateway{declined: make(map[string]string)}
}

// Name implements PaymentGateway
func (m *MockGateway) Name() string {
	return "mock"
}

// CreateIntent implements PaymentGateway
func (m *MockGateway) CreateIntent(ctx context.Context, amount models.Money, currency, customerRef string) (*models.IntentHandle, error) {
	if _, err := models.ToCents(amount); err != nil {
		return nil, err
	}
	intentID := "mock_pi_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	log.Printf("Mock Payment: created intent %s for %s %s (%s)", intentID, models.FormatMoney(amount), currency, customerRef)
	return &models.IntentHandle{
		Gateway:      m.Name(),
		IntentID:     intentID,
		ClientSecret: intentID + "_secret",
		Amount:       amount,
		Currency:     strings.ToUpper(currency),
	}, nil
}

// Decline makes the next confirmation of intentID fail with reason
func (m *MockGateway) Decline(intentID, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.declined[intentID] = reason
}

// Confirm implements PaymentGateway
func (m *MockGateway) Confirm(ctx context.Context, handle models.IntentHandle) (*Confirmation, error) {
	m.mu.Lock()
	reason, declined := m.declined[handle.IntentID]
	m.mu.Unlock()
	if declined {
		return &Confirmation{Status: ConfirmationFailed, Reason: reason}, nil
	}

	return &Confirmation{
		Status:        ConfirmationSucceeded,
		TransactionID: fmt.Sprintf("mock_txn_%d", time.Now().UnixNano()),
		Captured:      handle.Amount,
		Currency:      handle.Currency,
	}, nil
}

// ManualGateway covers bank transfer and cash at the gate. Intents stay
// pending until an admin records the received payment.
type ManualGateway struct{}

// NewManualGateway creates a new manual gateway
func NewManualGateway() *ManualGateway {
	return &ManualGateway{}
}

// Name implements PaymentGateway
func (g *ManualGateway) Name() string {
	return "manual"
}

// CreateIntent returns a payment reference the customer quotes with their transfer
func (g *ManualGateway) CreateIntent(ctx context.Context, amount models.Money, currency, customerRef string) (*models.IntentHandle, error) {
	ref := "MAN-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
	return &models.IntentHandle{
		Gateway:  g.Name(),
		IntentID: ref,
		Amount:   amount,
		Currency: strings.ToUpper(currency),
	}, nil
}

// Confirm always reports pending; see CheckoutOrchestrator.ConfirmManual
func (g *ManualGateway) Confirm(ctx context.Context, handle models.IntentHandle) (*Confirmation, error) {
	return &Confirmation{Status: ConfirmationPending}, nil
}
