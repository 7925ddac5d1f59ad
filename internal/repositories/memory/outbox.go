package memory

import (
	"context"
	"time"

	"festival-platform/internal/models"
)

// OutboxRepository holds committed-checkout events until the relay sends them
type OutboxRepository struct {
	s *Store
}

// NewOutboxRepository creates a new outbox repository
func NewOutboxRepository(s *Store) *OutboxRepository {
	return &OutboxRepository{s: s}
}

// FetchPending returns unsent records in insertion order
func (r *OutboxRepository) FetchPending(ctx context.Context, limit int) ([]models.OutboxRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.OutboxRecord
	for _, rec := range r.s.Outbox {
		if rec.SentAt == nil && len(out) < limit {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *OutboxRepository) MarkSent(ctx context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.Outbox {
		if r.s.Outbox[i].ID == id {
			now := time.Now()
			r.s.Outbox[i].SentAt = &now
		}
	}
	return nil
}
