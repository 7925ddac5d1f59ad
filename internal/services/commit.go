package services

import (
	"context"
	"fmt"
	"strings"

	"festival-platform/internal/models"
)

// CheckoutCommittedTopic is the outbox topic for committed checkouts
const CheckoutCommittedTopic = "checkout.committed"

// Committer turns a verified payment and a fresh quote into the single
// commit transaction
type Committer struct {
	store CheckoutStore
	topic string
}

// NewCommitter creates a committer. An empty topic disables the outbox event.
func NewCommitter(store CheckoutStore, topic string) *Committer {
	return &Committer{store: store, topic: topic}
}

// Plan builds the writes for attempt from quote. Merchandise needs a
// shipping address.
func (c *Committer) Plan(attempt *models.CheckoutAttempt, transactionID string, captured models.Money, currency string, quote *Quote, address *models.ShippingAddress) (*models.CommitPlan, error) {
	if strings.TrimSpace(transactionID) == "" {
		return nil, fmt.Errorf("%w: missing gateway transaction id", models.ErrInvalidInput)
	}

	plan := &models.CommitPlan{
		AttemptID:     attempt.ID,
		UserID:        attempt.UserID,
		Gateway:       attempt.Gateway,
		TransactionID: transactionID,
		Amount:        captured,
		Currency:      strings.ToUpper(currency),
		BookingIDs:    append([]int(nil), quote.BookingIDs...),
		Registrations: quote.Registrations,
		EventTopic:    c.topic,
	}

	if len(quote.OrderItems) > 0 {
		if address == nil {
			return nil, fmt.Errorf("%w: shipping address is required for merchandise", models.ErrInvalidCheckoutState)
		}
		plan.Order = &models.Order{
			UserID:          attempt.UserID,
			TotalAmount:     quote.MerchandiseTotal,
			Currency:        plan.Currency,
			ShippingAddress: *address,
			Status:          models.OrderPaid,
			Items:           append([]models.OrderItem(nil), quote.OrderItems...),
		}
	}
	return plan, nil
}

// Commit runs the plan. Nothing is written unless every step succeeds.
func (c *Committer) Commit(ctx context.Context, plan *models.CommitPlan) (*models.CommitResult, error) {
	return c.store.CommitCheckout(ctx, plan)
}
