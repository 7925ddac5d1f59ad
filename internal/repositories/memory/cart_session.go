package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"festival-platform/internal/models"
)

// CartSessionRepository stores sessions as JSON, the same encoding the SQL
// repository writes to its JSONB column
type CartSessionRepository struct {
	s *Store
}

// NewCartSessionRepository creates a new cart session repository
func NewCartSessionRepository(s *Store) *CartSessionRepository {
	return &CartSessionRepository{s: s}
}

func (r *CartSessionRepository) Load(ctx context.Context, token string) (*models.CartSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	data, ok := r.s.Sessions[token]
	if !ok {
		return nil, fmt.Errorf("cart session: %w", models.ErrNotFound)
	}
	session := &models.CartSession{}
	if err := json.Unmarshal(data, session); err != nil {
		return nil, fmt.Errorf("failed to decode cart session: %w", err)
	}
	return session, nil
}

// Save compares versions the way the SQL repository's conditional update
// does
func (r *CartSessionRepository) Save(ctx context.Context, session *models.CartSession) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current := 0
	if data, ok := r.s.Sessions[session.Token]; ok {
		var existing models.CartSession
		if err := json.Unmarshal(data, &existing); err != nil {
			return fmt.Errorf("failed to decode cart session: %w", err)
		}
		current = existing.Version
	}
	if current != session.Version {
		return fmt.Errorf("cart session %s at version %d: %w", session.Token, session.Version, models.ErrSessionChanged)
	}

	stored := *session
	stored.UpdatedAt = time.Now()
	stored.Version = current + 1
	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to encode cart session: %w", err)
	}
	r.s.Sessions[session.Token] = data
	session.UpdatedAt = stored.UpdatedAt
	session.Version = stored.Version
	return nil
}

func (r *CartSessionRepository) Delete(ctx context.Context, token string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.Sessions, token)
	return nil
}

func (r *CartSessionRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for token, data := range r.s.Sessions {
		var session models.CartSession
		if err := json.Unmarshal(data, &session); err == nil && session.UpdatedAt.Before(cutoff) {
			delete(r.s.Sessions, token)
			n++
		}
	}
	return n, nil
}
