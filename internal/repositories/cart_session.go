package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"festival-platform/internal/models"
)

// CartSessionRepository stores cart sessions as JSON documents keyed by token
type CartSessionRepository struct {
	db *sql.DB
}

// NewCartSessionRepository creates a new cart session repository
func NewCartSessionRepository(db *sql.DB) *CartSessionRepository {
	return &CartSessionRepository{db: db}
}

// Load returns the session stored under token
func (r *CartSessionRepository) Load(ctx context.Context, token string) (*models.CartSession, error) {
	var data []byte
	var version int
	err := r.db.QueryRowContext(ctx, `SELECT data, version FROM cart_sessions WHERE token = $1`, token).Scan(&data, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("cart session: %w", models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load cart session: %w", err)
	}

	session := &models.CartSession{}
	if err := json.Unmarshal(data, session); err != nil {
		return nil, fmt.Errorf("failed to decode cart session: %w", err)
	}
	if session.Cart == nil {
		session.Cart = models.NewCart()
	}
	session.Version = version
	return session, nil
}

// Save writes the session if nobody else saved it since it was loaded. A
// session with version 0 is inserted; otherwise the stored row must still
// carry session.Version. Either way a lost race returns ErrSessionChanged.
func (r *CartSessionRepository) Save(ctx context.Context, session *models.CartSession) error {
	updatedAt := time.Now()
	next := session.Version + 1

	stored := *session
	stored.UpdatedAt = updatedAt
	stored.Version = next
	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to encode cart session: %w", err)
	}

	var userID sql.NullInt64
	if session.UserID > 0 {
		userID = sql.NullInt64{Int64: int64(session.UserID), Valid: true}
	}

	var result sql.Result
	if session.Version == 0 {
		result, err = r.db.ExecContext(ctx, `
			INSERT INTO cart_sessions (token, user_id, data, updated_at, version)
			VALUES ($1, $2, $3, $4, 1)
			ON CONFLICT (token) DO NOTHING`,
			session.Token, userID, data, updatedAt)
	} else {
		result, err = r.db.ExecContext(ctx, `
			UPDATE cart_sessions
			SET user_id = $2, data = $3, updated_at = $4, version = version + 1
			WHERE token = $1 AND version = $5`,
			session.Token, userID, data, updatedAt, session.Version)
	}
	if err != nil {
		return fmt.Errorf("failed to save cart session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save cart session: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("cart session %s at version %d: %w", session.Token, session.Version, models.ErrSessionChanged)
	}

	session.UpdatedAt = updatedAt
	session.Version = next
	return nil
}

// Delete removes a session
func (r *CartSessionRepository) Delete(ctx context.Context, token string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM cart_sessions WHERE token = $1`, token); err != nil {
		return fmt.Errorf("failed to delete cart session: %w", err)
	}
	return nil
}

// DeleteStale removes sessions not touched since cutoff
func (r *CartSessionRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM cart_sessions WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale cart sessions: %w", err)
	}
	return result.RowsAffected()
}
