package repository

import (
	"context"
	"fmt"

	"activity-ledger/database"
	"activity-ledger/models"

	"github.com/jackc/pgx/v5"
)

// ActiveParticipantIndex is the partial unique index allowing one live record
// per (activity, user).
const ActiveParticipantIndex = "activity_participants_one_active"

type ParticipantRepository interface {
	Create(ctx context.Context, p *models.ParticipantRecord) error
	Update(ctx context.Context, p *models.ParticipantRecord) error
	GetByID(ctx context.Context, id string) (*models.ParticipantRecord, error)
	GetForUpdate(ctx context.Context, id string) (*models.ParticipantRecord, error)
	FindActive(ctx context.Context, activityID, userID string) (*models.ParticipantRecord, error)
	ListByActivity(ctx context.Context, activityID string, status *models.ParticipantStatus) ([]models.ParticipantRecord, error)
	ListEligible(ctx context.Context, activityID string) ([]models.ParticipantRecord, error)
	CountEligible(ctx context.Context, activityID string) (int, error)
	WithTx(tx database.Querier) ParticipantRepository
}

type participantRepository struct {
	db *database.DB
	tx database.Querier
}

func NewParticipantRepository(db *database.DB) ParticipantRepository {
	return &participantRepository{db: db}
}

func (r *participantRepository) WithTx(tx database.Querier) ParticipantRepository {
	return &participantRepository{db: r.db, tx: tx}
}

func (r *participantRepository) getQuerier() database.Querier {
	if r.tx != nil {
		return r.tx
	}
	return r.db.Pool
}

const participantColumns = `id, activity_id, user_id, status, ratio, registered_at,
	          cancelled_at, cancelled_by, rejected_at, rejected_by, rejection_reason,
	          created_at, updated_at`

const eligibleStatuses = `('registered', 'approved', 'attended')`

func scanParticipant(row pgx.Row, p *models.ParticipantRecord) error {
	return row.Scan(
		&p.ID, &p.ActivityID, &p.UserID, &p.Status, &p.Ratio, &p.RegisteredAt,
		&p.CancelledAt, &p.CancelledBy, &p.RejectedAt, &p.RejectedBy, &p.RejectionReason,
		&p.CreatedAt, &p.UpdatedAt,
	)
}

func (r *participantRepository) Create(ctx context.Context, p *models.ParticipantRecord) error {
	query := `INSERT INTO activity_participants (` + participantColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.getQuerier().Exec(ctx, query,
		p.ID, p.ActivityID, p.UserID, p.Status, p.Ratio, p.RegisteredAt,
		p.CancelledAt, p.CancelledBy, p.RejectedAt, p.RejectedBy, p.RejectionReason,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating participant: %w", err)
	}
	return nil
}

func (r *participantRepository) Update(ctx context.Context, p *models.ParticipantRecord) error {
	query := `UPDATE activity_participants
	          SET status = $2, ratio = $3, cancelled_at = $4, cancelled_by = $5,
	              rejected_at = $6, rejected_by = $7, rejection_reason = $8, updated_at = $9
	          WHERE id = $1`

	tag, err := r.getQuerier().Exec(ctx, query,
		p.ID, p.Status, p.Ratio, p.CancelledAt, p.CancelledBy,
		p.RejectedAt, p.RejectedBy, p.RejectionReason, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("updating participant %s: %w", p.ID, pgx.ErrNoRows)
	}
	return nil
}

func (r *participantRepository) GetByID(ctx context.Context, id string) (*models.ParticipantRecord, error) {
	var p models.ParticipantRecord
	query := `SELECT ` + participantColumns + ` FROM activity_participants WHERE id = $1`
	if err := scanParticipant(r.getQuerier().QueryRow(ctx, query, id), &p); err != nil {
		return nil, fmt.Errorf("getting participant by id: %w", err)
	}
	return &p, nil
}

func (r *participantRepository) GetForUpdate(ctx context.Context, id string) (*models.ParticipantRecord, error) {
	var p models.ParticipantRecord
	query := `SELECT ` + participantColumns + ` FROM activity_participants WHERE id = $1 FOR UPDATE`
	if err := scanParticipant(r.getQuerier().QueryRow(ctx, query, id), &p); err != nil {
		return nil, fmt.Errorf("locking participant: %w", err)
	}
	return &p, nil
}

func (r *participantRepository) FindActive(ctx context.Context, activityID, userID string) (*models.ParticipantRecord, error) {
	var p models.ParticipantRecord
	query := `SELECT ` + participantColumns + ` FROM activity_participants
	          WHERE activity_id = $1 AND user_id = $2 AND status IN ('pending', 'registered', 'approved')`
	if err := scanParticipant(r.getQuerier().QueryRow(ctx, query, activityID, userID), &p); err != nil {
		return nil, fmt.Errorf("finding active participant: %w", err)
	}
	return &p, nil
}

func (r *participantRepository) ListByActivity(ctx context.Context, activityID string, status *models.ParticipantStatus) ([]models.ParticipantRecord, error) {
	query := `SELECT ` + participantColumns + ` FROM activity_participants
	          WHERE activity_id = $1 AND ($2::TEXT IS NULL OR status = $2)
	          ORDER BY registered_at, id`
	return r.list(ctx, query, activityID, status)
}

// ListEligible returns cost-sharing participants in bill order.
func (r *participantRepository) ListEligible(ctx context.Context, activityID string) ([]models.ParticipantRecord, error) {
	query := `SELECT ` + participantColumns + ` FROM activity_participants
	          WHERE activity_id = $1 AND status IN ` + eligibleStatuses + `
	          ORDER BY registered_at, id`
	return r.list(ctx, query, activityID)
}

func (r *participantRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.ParticipantRecord, error) {
	rows, err := r.getQuerier().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing participants: %w", err)
	}
	defer rows.Close()

	participants := make([]models.ParticipantRecord, 0)
	for rows.Next() {
		var p models.ParticipantRecord
		if err := scanParticipant(rows, &p); err != nil {
			return nil, fmt.Errorf("scanning participant: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating participants: %w", err)
	}
	return participants, nil
}

func (r *participantRepository) CountEligible(ctx context.Context, activityID string) (int, error) {
	query := `SELECT COUNT(*) FROM activity_participants
	          WHERE activity_id = $1 AND status IN ` + eligibleStatuses
	var count int
	if err := r.getQuerier().QueryRow(ctx, query, activityID).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting eligible participants: %w", err)
	}
	return count, nil
}
