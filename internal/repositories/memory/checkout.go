package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"festival-platform/internal/models"

	"github.com/google/uuid"
)

// CheckoutRepository commits a paid cart. Every check runs before the first
// write, so a failed plan leaves the store untouched.
type CheckoutRepository struct {
	s *Store
}

// NewCheckoutRepository creates a new checkout repository
func NewCheckoutRepository(s *Store) *CheckoutRepository {
	return &CheckoutRepository{s: s}
}

func (r *CheckoutRepository) CommitCheckout(ctx context.Context, plan *models.CommitPlan) (*models.CommitResult, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt, ok := s.Attempts[plan.AttemptID]
	if !ok {
		return nil, fmt.Errorf("checkout attempt %d: %w", plan.AttemptID, models.ErrNotFound)
	}
	if attempt.Status == models.AttemptCommitted {
		return &models.CommitResult{PaymentID: *attempt.PaymentID, AlreadyCommitted: true}, nil
	}
	if attempt.Status.IsFinal() {
		return nil, fmt.Errorf("checkout attempt %d is %s: %w", plan.AttemptID, attempt.Status, models.ErrInvalidCheckoutState)
	}

	if err := s.checkPlanLocked(plan); err != nil {
		return nil, err
	}

	now := time.Now()
	result := &models.CommitResult{}
	if plan.Order != nil {
		for _, item := range plan.Order.Items {
			s.Variants[item.VariantID].Stock -= item.Quantity
		}
		plan.Order.ID = len(s.Orders) + 1
		plan.Order.OrderNumber = models.GenerateOrderNumber()
		plan.Order.CreatedAt = now
		for i := range plan.Order.Items {
			plan.Order.Items[i].ID = i + 1
			plan.Order.Items[i].OrderID = plan.Order.ID
		}
		s.Orders = append(s.Orders, plan.Order)
		result.OrderID = &plan.Order.ID
		result.OrderNumber = plan.Order.OrderNumber
	}
	for _, id := range plan.BookingIDs {
		s.Bookings[id].Status = models.BookingConfirmed
		s.Bookings[id].UpdatedAt = now
	}
	result.BookingIDs = append([]int(nil), plan.BookingIDs...)
	for _, reg := range plan.Registrations {
		reg.ID = len(s.Registrations) + 1
		reg.CreatedAt = now
		s.Registrations = append(s.Registrations, reg)
		result.RegistrationIDs = append(result.RegistrationIDs, reg.ID)
	}

	payment := &models.Payment{
		ID:                   len(s.Payments) + 1,
		UserID:               plan.UserID,
		GatewayName:          plan.Gateway,
		GatewayTransactionID: plan.TransactionID,
		Status:               models.PaymentSuccessful,
		Amount:               plan.Amount,
		Currency:             plan.Currency,
		OrderID:              result.OrderID,
		CreatedAt:            now,
	}
	if len(result.BookingIDs) > 0 {
		payment.BookingID = &result.BookingIDs[0]
	}
	if len(result.RegistrationIDs) > 0 {
		payment.RegistrationID = &result.RegistrationIDs[0]
	}
	s.Payments = append(s.Payments, payment)
	result.PaymentID = payment.ID
	for _, id := range plan.BookingIDs {
		s.Bookings[id].PaymentID = &payment.ID
	}
	for _, reg := range plan.Registrations {
		reg.PaymentID = &payment.ID
	}

	attempt.Status = models.AttemptCommitted
	attempt.PaymentID = &payment.ID
	attempt.FailureReason = ""
	attempt.UpdatedAt = now

	if plan.EventTopic != "" {
		event := models.CheckoutCommittedEvent{
			EventID:         uuid.NewString(),
			AttemptID:       plan.AttemptID,
			UserID:          plan.UserID,
			PaymentID:       payment.ID,
			Gateway:         plan.Gateway,
			TransactionID:   plan.TransactionID,
			Amount:          plan.Amount,
			Currency:        plan.Currency,
			OrderID:         result.OrderID,
			OrderNumber:     result.OrderNumber,
			BookingIDs:      result.BookingIDs,
			RegistrationIDs: result.RegistrationIDs,
			CommittedAt:     now.UTC(),
		}
		payload, err := json.Marshal(event)
		if err != nil {
			return nil, fmt.Errorf("failed to encode outbox event: %w", err)
		}
		s.Outbox = append(s.Outbox, models.OutboxRecord{
			ID:        int64(len(s.Outbox) + 1),
			EventID:   event.EventID,
			Topic:     plan.EventTopic,
			Key:       strconv.Itoa(plan.UserID),
			Payload:   payload,
			CreatedAt: now,
		})
	}
	return result, nil
}

func (s *Store) checkPlanLocked(plan *models.CommitPlan) error {
	if plan.Order != nil {
		need := make(map[int]int)
		for _, item := range plan.Order.Items {
			need[item.VariantID] += item.Quantity
		}
		for variantID, qty := range need {
			v, ok := s.Variants[variantID]
			if !ok || v.Stock < qty {
				return fmt.Errorf("variant %d: %w", variantID, models.ErrInsufficientStock)
			}
		}
	}
	for _, id := range plan.BookingIDs {
		b, ok := s.Bookings[id]
		if !ok {
			return fmt.Errorf("booking %d: %w", id, models.ErrBookingNoLongerAvailable)
		}
		if !b.IsPending() || b.UserID != plan.UserID {
			return fmt.Errorf("booking %d is %s: %w", id, b.Status, models.ErrBookingNoLongerAvailable)
		}
		if s.overlapsLocked(b.CampsiteID, b.CheckIn, b.CheckOut, b.ID) {
			return fmt.Errorf("booking %d overlaps another reservation: %w", id, models.ErrBookingNoLongerAvailable)
		}
	}
	for _, p := range s.Payments {
		if p.GatewayName == plan.Gateway && p.GatewayTransactionID == plan.TransactionID {
			return fmt.Errorf("payment %s/%s: %w", plan.Gateway, plan.TransactionID, models.ErrDuplicateEntry)
		}
	}
	return nil
}
