package repository

import (
	"context"
	"fmt"
	"time"

	"activity-ledger/database"
	"activity-ledger/models"
)

// OutboxRepository stores notification events in the same transaction as the
// change that produced them. A dispatcher later claims and delivers them.
type OutboxRepository interface {
	Publish(ctx context.Context, event *models.OutboxEvent) error
	ClaimPending(ctx context.Context, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublished(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, reason string) error
	WithTx(tx database.Querier) OutboxRepository
}

type outboxRepository struct {
	db *database.DB
	tx database.Querier
}

func NewOutboxRepository(db *database.DB) OutboxRepository {
	return &outboxRepository{db: db}
}

func (r *outboxRepository) WithTx(tx database.Querier) OutboxRepository {
	return &outboxRepository{db: r.db, tx: tx}
}

func (r *outboxRepository) getQuerier() database.Querier {
	if r.tx != nil {
		return r.tx
	}
	return r.db.Pool
}

// Publish is idempotent on DedupeKey.
func (r *outboxRepository) Publish(ctx context.Context, e *models.OutboxEvent) error {
	query := `INSERT INTO notification_outbox (id, event_type, activity_id, payload, dedupe_key, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6)
	          ON CONFLICT (dedupe_key) DO NOTHING`

	if _, err := r.getQuerier().Exec(ctx, query, e.ID, e.Type, e.ActivityID, []byte(e.Payload), e.DedupeKey, e.CreatedAt); err != nil {
		return fmt.Errorf("publishing outbox event: %w", err)
	}
	return nil
}

// ClaimPending locks up to limit undelivered events, skipping rows another
// dispatcher already holds. Call it inside a transaction.
func (r *outboxRepository) ClaimPending(ctx context.Context, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	query := `SELECT id, event_type, activity_id, payload, dedupe_key, attempts, last_error, published_at, created_at
	          FROM notification_outbox
	          WHERE published_at IS NULL AND attempts < $2
	          ORDER BY created_at, id
	          FOR UPDATE SKIP LOCKED
	          LIMIT $1`

	rows, err := r.getQuerier().Query(ctx, query, limit, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("claiming outbox events: %w", err)
	}
	defer rows.Close()

	events := make([]models.OutboxEvent, 0)
	for rows.Next() {
		var e models.OutboxEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Type, &e.ActivityID, &payload, &e.DedupeKey, &e.Attempts, &e.LastError, &e.PublishedAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning outbox event: %w", err)
		}
		e.Payload = payload
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating outbox events: %w", err)
	}
	return events, nil
}

func (r *outboxRepository) MarkPublished(ctx context.Context, id string, at time.Time) error {
	if _, err := r.getQuerier().Exec(ctx,
		`UPDATE notification_outbox SET published_at = $2, attempts = attempts + 1, last_error = NULL WHERE id = $1`,
		id, at,
	); err != nil {
		return fmt.Errorf("marking outbox event published: %w", err)
	}
	return nil
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string, reason string) error {
	if _, err := r.getQuerier().Exec(ctx,
		`UPDATE notification_outbox SET attempts = attempts + 1, last_error = $2 WHERE id = $1`,
		id, reason,
	); err != nil {
		return fmt.Errorf("marking outbox event failed: %w", err)
	}
	return nil
}
