package repository

import (
	"context"
	"fmt"

	"activity-ledger/database"
	"activity-ledger/models"
)

// ActivityRepository reads activity configuration. Activities are owned by
// another part of the system; nothing here writes them.
type ActivityRepository interface {
	GetByID(ctx context.Context, id string) (*models.Activity, error)
	GetForUpdate(ctx context.Context, id string) (*models.Activity, error)
	GetForShare(ctx context.Context, id string) (*models.Activity, error)
	IsManager(ctx context.Context, activityID, userID string) (bool, error)
	WithTx(tx database.Querier) ActivityRepository
}

type activityRepository struct {
	db *database.DB
	tx database.Querier
}

func NewActivityRepository(db *database.DB) ActivityRepository {
	return &activityRepository{db: db}
}

func (r *activityRepository) WithTx(tx database.Querier) ActivityRepository {
	return &activityRepository{db: r.db, tx: tx}
}

func (r *activityRepository) getQuerier() database.Querier {
	if r.tx != nil {
		return r.tx
	}
	return r.db.Pool
}

const activityColumns = `id, title, organizer_id, requires_approval, is_free, enable_participant_limit,
	          min_participants, max_participants, organizer_cost, declared_total_cost,
	          use_custom_total_cost, custom_total_cost, payment_deadline`

func (r *activityRepository) GetByID(ctx context.Context, id string) (*models.Activity, error) {
	query := `SELECT ` + activityColumns + ` FROM activities WHERE id = $1`
	activity, err := r.scanOne(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("getting activity by id: %w", err)
	}
	return activity, nil
}

// GetForUpdate locks the activity row until the surrounding transaction ends.
// It must be called on a transaction-bound repository.
func (r *activityRepository) GetForUpdate(ctx context.Context, id string) (*models.Activity, error) {
	query := `SELECT ` + activityColumns + ` FROM activities WHERE id = $1 FOR UPDATE`
	activity, err := r.scanOne(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("locking activity: %w", err)
	}
	return activity, nil
}

// GetForShare takes a shared lock on the activity row. Writers that change
// what a bill is computed from hold it, so they wait for and block a bill
// generation (FOR UPDATE) but not each other.
func (r *activityRepository) GetForShare(ctx context.Context, id string) (*models.Activity, error) {
	query := `SELECT ` + activityColumns + ` FROM activities WHERE id = $1 FOR SHARE`
	activity, err := r.scanOne(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("share-locking activity: %w", err)
	}
	return activity, nil
}

func (r *activityRepository) scanOne(ctx context.Context, query string, args ...interface{}) (*models.Activity, error) {
	var a models.Activity
	err := r.getQuerier().QueryRow(ctx, query, args...).Scan(
		&a.ID, &a.Title, &a.OrganizerID, &a.RequiresApproval, &a.IsFree, &a.EnableParticipantLimit,
		&a.MinParticipants, &a.MaxParticipants, &a.OrganizerCost, &a.DeclaredTotalCost,
		&a.UseCustomTotalCost, &a.CustomTotalCost, &a.PaymentDeadline,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *activityRepository) IsManager(ctx context.Context, activityID, userID string) (bool, error) {
	query := `SELECT EXISTS(
	            SELECT 1 FROM activities WHERE id = $1 AND organizer_id = $2
	            UNION ALL
	            SELECT 1 FROM activity_managers WHERE activity_id = $1 AND user_id = $2
	          )`
	var ok bool
	if err := r.getQuerier().QueryRow(ctx, query, activityID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking activity manager: %w", err)
	}
	return ok, nil
}
