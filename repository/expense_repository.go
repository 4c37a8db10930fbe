package repository

import (
	"context"
	"fmt"

	"activity-ledger/database"
	"activity-ledger/models"

	"github.com/jackc/pgx/v5"
)

type ExpenseRepository interface {
	GetByID(ctx context.Context, id string) (*models.ExpenseLine, error)
	ListByActivity(ctx context.Context, activityID string) ([]models.ExpenseLine, error)
	Create(ctx context.Context, expense *models.ExpenseLine) error
	UpdateImagePath(ctx context.Context, id string, imagePath *string) error
	Delete(ctx context.Context, id string) error
	WithTx(tx database.Querier) ExpenseRepository
}

type expenseRepository struct {
	db *database.DB
	tx database.Querier
}

func NewExpenseRepository(db *database.DB) ExpenseRepository {
	return &expenseRepository{db: db}
}

func (r *expenseRepository) WithTx(tx database.Querier) ExpenseRepository {
	return &expenseRepository{db: r.db, tx: tx}
}

func (r *expenseRepository) getQuerier() database.Querier {
	if r.tx != nil {
		return r.tx
	}
	return r.db.Pool
}

func (r *expenseRepository) GetByID(ctx context.Context, id string) (*models.ExpenseLine, error) {
	var e models.ExpenseLine
	query := `SELECT id, activity_id, item, amount, expense_date, description, payer, image_path, recorder_id, created_at
	          FROM activity_expenses WHERE id = $1`

	err := r.getQuerier().QueryRow(ctx, query, id).Scan(
		&e.ID, &e.ActivityID, &e.Item, &e.Amount, &e.ExpenseDate,
		&e.Description, &e.Payer, &e.ImagePath, &e.RecorderID, &e.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("getting expense by id: %w", err)
	}
	return &e, nil
}

func (r *expenseRepository) ListByActivity(ctx context.Context, activityID string) ([]models.ExpenseLine, error) {
	query := `SELECT id, activity_id, item, amount, expense_date, description, payer, image_path, recorder_id, created_at
	          FROM activity_expenses WHERE activity_id = $1
	          ORDER BY expense_date, created_at, id`

	rows, err := r.getQuerier().Query(ctx, query, activityID)
	if err != nil {
		return nil, fmt.Errorf("getting expenses by activity id: %w", err)
	}
	defer rows.Close()

	expenses := make([]models.ExpenseLine, 0)
	for rows.Next() {
		var e models.ExpenseLine
		if err := rows.Scan(
			&e.ID, &e.ActivityID, &e.Item, &e.Amount, &e.ExpenseDate,
			&e.Description, &e.Payer, &e.ImagePath, &e.RecorderID, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating expenses: %w", err)
	}
	return expenses, nil
}

func (r *expenseRepository) Create(ctx context.Context, e *models.ExpenseLine) error {
	query := `INSERT INTO activity_expenses
	          (id, activity_id, item, amount, expense_date, description, payer, image_path, recorder_id, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.getQuerier().Exec(ctx, query,
		e.ID, e.ActivityID, e.Item, e.Amount, e.ExpenseDate,
		e.Description, e.Payer, e.ImagePath, e.RecorderID, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating expense: %w", err)
	}
	return nil
}

func (r *expenseRepository) UpdateImagePath(ctx context.Context, id string, imagePath *string) error {
	tag, err := r.getQuerier().Exec(ctx, `UPDATE activity_expenses SET image_path = $2 WHERE id = $1`, id, imagePath)
	if err != nil {
		return fmt.Errorf("updating expense image: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("updating expense image %s: %w", id, pgx.ErrNoRows)
	}
	return nil
}

func (r *expenseRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.getQuerier().Exec(ctx, `DELETE FROM activity_expenses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting expense: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deleting expense %s: %w", id, pgx.ErrNoRows)
	}
	return nil
}
