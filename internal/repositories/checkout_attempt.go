package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"festival-platform/internal/models"
)

// CheckoutAttemptRepository records gateway intents opened for cart sessions
type CheckoutAttemptRepository struct {
	db *sql.DB
}

// NewCheckoutAttemptRepository creates a new checkout attempt repository
func NewCheckoutAttemptRepository(db *sql.DB) *CheckoutAttemptRepository {
	return &CheckoutAttemptRepository{db: db}
}

const attemptColumns = `id, session_token, user_id, gateway, intent_id, amount, currency, status, payment_id, failure_reason, created_at, updated_at`

func scanAttempt(row interface{ Scan(...any) error }) (*models.CheckoutAttempt, error) {
	attempt := &models.CheckoutAttempt{}
	var paymentID sql.NullInt64
	err := row.Scan(
		&attempt.ID,
		&attempt.SessionToken,
		&attempt.UserID,
		&attempt.Gateway,
		&attempt.IntentID,
		&attempt.Amount,
		&attempt.Currency,
		&attempt.Status,
		&paymentID,
		&attempt.FailureReason,
		&attempt.CreatedAt,
		&attempt.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	attempt.PaymentID = intPtr(paymentID)
	return attempt, nil
}

// Create inserts a new attempt in the awaiting status
func (r *CheckoutAttemptRepository) Create(ctx context.Context, attempt *models.CheckoutAttempt) error {
	now := time.Now()
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO checkout_attempts (session_token, user_id, gateway, intent_id, amount, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`,
		attempt.SessionToken,
		attempt.UserID,
		attempt.Gateway,
		attempt.IntentID,
		attempt.Amount,
		attempt.Currency,
		models.AttemptAwaiting,
		now,
		now,
	).Scan(&attempt.ID, &attempt.CreatedAt, &attempt.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("checkout attempt %s/%s: %w", attempt.Gateway, attempt.IntentID, models.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to create checkout attempt: %w", err)
	}
	attempt.Status = models.AttemptAwaiting
	return nil
}

// GetByID retrieves an attempt by ID
func (r *CheckoutAttemptRepository) GetByID(ctx context.Context, id int) (*models.CheckoutAttempt, error) {
	attempt, err := scanAttempt(r.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM checkout_attempts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("checkout attempt %d: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get checkout attempt: %w", err)
	}
	return attempt, nil
}

// GetByIntent retrieves the attempt for a gateway intent
func (r *CheckoutAttemptRepository) GetByIntent(ctx context.Context, gateway, intentID string) (*models.CheckoutAttempt, error) {
	attempt, err := scanAttempt(r.db.QueryRowContext(ctx, `
		SELECT `+attemptColumns+`
		FROM checkout_attempts
		WHERE gateway = $1 AND intent_id = $2`, gateway, intentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("checkout attempt %s/%s: %w", gateway, intentID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get checkout attempt: %w", err)
	}
	return attempt, nil
}

// UpdateStatus moves an attempt that has not reached a final status.
// Committed attempts are only ever written by the commit transaction.
func (r *CheckoutAttemptRepository) UpdateStatus(ctx context.Context, id int, status models.AttemptStatus, reason string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE checkout_attempts
		SET status = $2, failure_reason = $3, updated_at = $4
		WHERE id = $1 AND status IN ('awaiting', 'failed')`,
		id, status, reason, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update checkout attempt: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("checkout attempt %d is final: %w", id, models.ErrInvalidCheckoutState)
	}
	return nil
}

// ListAwaiting returns attempts still awaiting confirmation that were created before cutoff
func (r *CheckoutAttemptRepository) ListAwaiting(ctx context.Context, cutoff time.Time, limit int) ([]*models.CheckoutAttempt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+attemptColumns+`
		FROM checkout_attempts
		WHERE status = 'awaiting' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list awaiting attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*models.CheckoutAttempt
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkout attempt: %w", err)
		}
		attempts = append(attempts, attempt)
	}
	return attempts, rows.Err()
}
