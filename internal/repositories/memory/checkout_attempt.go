package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"festival-platform/internal/models"
)

// CheckoutAttemptRepository tracks gateway intents through to commit
type CheckoutAttemptRepository struct {
	s *Store
}

// NewCheckoutAttemptRepository creates a new checkout attempt repository
func NewCheckoutAttemptRepository(s *Store) *CheckoutAttemptRepository {
	return &CheckoutAttemptRepository{s: s}
}

func (r *CheckoutAttemptRepository) Create(ctx context.Context, attempt *models.CheckoutAttempt) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.Attempts {
		if a.Gateway == attempt.Gateway && a.IntentID == attempt.IntentID {
			return fmt.Errorf("checkout attempt %s/%s: %w", attempt.Gateway, attempt.IntentID, models.ErrDuplicateEntry)
		}
	}
	r.s.nextAttempt++
	attempt.ID = r.s.nextAttempt
	attempt.CreatedAt = time.Now()
	attempt.UpdatedAt = attempt.CreatedAt
	cp := *attempt
	r.s.Attempts[attempt.ID] = &cp
	return nil
}

func (r *CheckoutAttemptRepository) GetByID(ctx context.Context, id int) (*models.CheckoutAttempt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.Attempts[id]
	if !ok {
		return nil, fmt.Errorf("checkout attempt %d: %w", id, models.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (r *CheckoutAttemptRepository) GetByIntent(ctx context.Context, gateway, intentID string) (*models.CheckoutAttempt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.Attempts {
		if a.Gateway == gateway && a.IntentID == intentID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("checkout attempt %s/%s: %w", gateway, intentID, models.ErrNotFound)
}

// UpdateStatus refuses to move an attempt out of a final status
func (r *CheckoutAttemptRepository) UpdateStatus(ctx context.Context, id int, status models.AttemptStatus, reason string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.Attempts[id]
	if !ok {
		return fmt.Errorf("checkout attempt %d: %w", id, models.ErrNotFound)
	}
	if a.Status.IsFinal() {
		return fmt.Errorf("checkout attempt %d is %s: %w", id, a.Status, models.ErrInvalidCheckoutState)
	}
	a.Status = status
	a.FailureReason = reason
	a.UpdatedAt = time.Now()
	return nil
}

func (r *CheckoutAttemptRepository) ListAwaiting(ctx context.Context, cutoff time.Time, limit int) ([]*models.CheckoutAttempt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.CheckoutAttempt
	for _, a := range r.s.Attempts {
		if a.Status == models.AttemptAwaiting && a.CreatedAt.Before(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
