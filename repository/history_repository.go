package repository

import (
	"context"
	"fmt"

	"activity-ledger/database"
	"activity-ledger/models"
)

// HistoryRepository is append-only. There is no update or delete.
type HistoryRepository interface {
	Append(ctx context.Context, h *models.ApplicationHistory) error
	ListByParticipant(ctx context.Context, participantID string) ([]models.ApplicationHistory, error)
	ListByActivity(ctx context.Context, activityID string) ([]models.ApplicationHistory, error)
	WithTx(tx database.Querier) HistoryRepository
}

type historyRepository struct {
	db *database.DB
	tx database.Querier
}

func NewHistoryRepository(db *database.DB) HistoryRepository {
	return &historyRepository{db: db}
}

func (r *historyRepository) WithTx(tx database.Querier) HistoryRepository {
	return &historyRepository{db: r.db, tx: tx}
}

func (r *historyRepository) getQuerier() database.Querier {
	if r.tx != nil {
		return r.tx
	}
	return r.db.Pool
}

// Append inserts h and fills in the sequence number assigned by the database.
func (r *historyRepository) Append(ctx context.Context, h *models.ApplicationHistory) error {
	query := `INSERT INTO activity_application_histories
	          (id, activity_id, user_id, participant_id, old_status, new_status, changed_by, reason, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	          RETURNING seq`

	err := r.getQuerier().QueryRow(ctx, query,
		h.ID, h.ActivityID, h.UserID, h.ParticipantID, h.OldStatus, h.NewStatus,
		h.ChangedBy, h.Reason, h.CreatedAt,
	).Scan(&h.Seq)
	if err != nil {
		return fmt.Errorf("appending application history: %w", err)
	}
	return nil
}

func (r *historyRepository) ListByParticipant(ctx context.Context, participantID string) ([]models.ApplicationHistory, error) {
	query := `SELECT id, seq, activity_id, user_id, participant_id, old_status, new_status, changed_by, reason, created_at
	          FROM activity_application_histories
	          WHERE participant_id = $1
	          ORDER BY created_at, seq`
	return r.list(ctx, query, participantID)
}

func (r *historyRepository) ListByActivity(ctx context.Context, activityID string) ([]models.ApplicationHistory, error) {
	query := `SELECT id, seq, activity_id, user_id, participant_id, old_status, new_status, changed_by, reason, created_at
	          FROM activity_application_histories
	          WHERE activity_id = $1
	          ORDER BY created_at, seq`
	return r.list(ctx, query, activityID)
}

func (r *historyRepository) list(ctx context.Context, query string, arg string) ([]models.ApplicationHistory, error) {
	rows, err := r.getQuerier().Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("listing application history: %w", err)
	}
	defer rows.Close()

	history := make([]models.ApplicationHistory, 0)
	for rows.Next() {
		var h models.ApplicationHistory
		if err := rows.Scan(
			&h.ID, &h.Seq, &h.ActivityID, &h.UserID, &h.ParticipantID,
			&h.OldStatus, &h.NewStatus, &h.ChangedBy, &h.Reason, &h.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning application history: %w", err)
		}
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating application history: %w", err)
	}
	return history, nil
}
