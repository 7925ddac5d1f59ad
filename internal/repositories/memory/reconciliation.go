package memory

import (
	"context"
	"fmt"
	"time"

	"festival-platform/internal/models"
)

// ReconciliationRepository holds captured payments that need an operator
type ReconciliationRepository struct {
	s *Store
}

// NewReconciliationRepository creates a new reconciliation repository
func NewReconciliationRepository(s *Store) *ReconciliationRepository {
	return &ReconciliationRepository{s: s}
}

func (r *ReconciliationRepository) Create(ctx context.Context, flag *models.ReconciliationFlag) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	flag.ID = len(r.s.Flags) + 1
	flag.CreatedAt = time.Now()
	cp := *flag
	r.s.Flags = append(r.s.Flags, &cp)
	return nil
}

// ListOpen returns unresolved flags oldest first
func (r *ReconciliationRepository) ListOpen(ctx context.Context, limit, offset int) ([]*models.ReconciliationFlag, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var open []*models.ReconciliationFlag
	for _, flag := range r.s.Flags {
		if flag.ResolvedAt == nil {
			cp := *flag
			open = append(open, &cp)
		}
	}
	if offset >= len(open) {
		return nil, nil
	}
	open = open[offset:]
	if len(open) > limit {
		open = open[:limit]
	}
	return open, nil
}

func (r *ReconciliationRepository) Resolve(ctx context.Context, id int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, flag := range r.s.Flags {
		if flag.ID == id && flag.ResolvedAt == nil {
			now := time.Now()
			flag.ResolvedAt = &now
			return nil
		}
	}
	return fmt.Errorf("reconciliation flag %d: %w", id, models.ErrNotFound)
}
