package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"festival-platform/internal/models"
)

// OutboxRepository reads and acknowledges events written by commit transactions
type OutboxRepository struct {
	db *sql.DB
}

// NewOutboxRepository creates a new outbox repository
func NewOutboxRepository(db *sql.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func insertOutbox(ctx context.Context, q DBTX, eventID, topic, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode outbox payload: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO outbox (event_id, topic, event_key, payload)
		VALUES ($1, $2, $3, $4)`, eventID, topic, key, data)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// FetchPending returns unsent events in insertion order
func (r *OutboxRepository) FetchPending(ctx context.Context, limit int) ([]models.OutboxRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_id, topic, event_key, payload, created_at, sent_at
		FROM outbox
		WHERE sent_at IS NULL
		ORDER BY id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch outbox: %w", err)
	}
	defer rows.Close()

	var out []models.OutboxRecord
	for rows.Next() {
		var rec models.OutboxRecord
		var sentAt sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.Topic, &rec.Key, &rec.Payload, &rec.CreatedAt, &sentAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox record: %w", err)
		}
		if sentAt.Valid {
			rec.SentAt = &sentAt.Time
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkSent acknowledges a published event
func (r *OutboxRepository) MarkSent(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE outbox SET sent_at = NOW() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to mark outbox event sent: %w", err)
	}
	return nil
}
