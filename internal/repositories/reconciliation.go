package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"festival-platform/internal/models"
)

// ReconciliationRepository stores captured payments that need an admin decision
type ReconciliationRepository struct {
	db *sql.DB
}

// NewReconciliationRepository creates a new reconciliation repository
func NewReconciliationRepository(db *sql.DB) *ReconciliationRepository {
	return &ReconciliationRepository{db: db}
}

// Create records a flag
func (r *ReconciliationRepository) Create(ctx context.Context, flag *models.ReconciliationFlag) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO reconciliation_flags (attempt_id, gateway, transaction_id, amount, currency, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		flag.AttemptID, flag.Gateway, flag.TransactionID, flag.Amount, flag.Currency, flag.Reason, time.Now(),
	).Scan(&flag.ID, &flag.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create reconciliation flag: %w", err)
	}
	return nil
}

// ListOpen returns unresolved flags, oldest first
func (r *ReconciliationRepository) ListOpen(ctx context.Context, limit, offset int) ([]*models.ReconciliationFlag, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, attempt_id, gateway, transaction_id, amount, currency, reason, created_at, resolved_at
		FROM reconciliation_flags
		WHERE resolved_at IS NULL
		ORDER BY created_at
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliation flags: %w", err)
	}
	defer rows.Close()

	var flags []*models.ReconciliationFlag
	for rows.Next() {
		flag := &models.ReconciliationFlag{}
		var resolvedAt sql.NullTime
		if err := rows.Scan(&flag.ID, &flag.AttemptID, &flag.Gateway, &flag.TransactionID, &flag.Amount,
			&flag.Currency, &flag.Reason, &flag.CreatedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation flag: %w", err)
		}
		if resolvedAt.Valid {
			flag.ResolvedAt = &resolvedAt.Time
		}
		flags = append(flags, flag)
	}
	return flags, rows.Err()
}

// Resolve marks a flag as handled
func (r *ReconciliationRepository) Resolve(ctx context.Context, id int) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE reconciliation_flags SET resolved_at = $2
		WHERE id = $1 AND resolved_at IS NULL`, id, time.Now())
	if err != nil {
		return fmt.Errorf("failed to resolve reconciliation flag: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("open reconciliation flag %d: %w", id, models.ErrNotFound)
	}
	return nil
}
