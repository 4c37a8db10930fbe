package repository

import (
	"context"
	"fmt"
	"time"

	"activity-ledger/database"
	"activity-ledger/models"

	"github.com/jackc/pgx/v5"
)

// OpenBillIndex is the partial unique index allowing one draft or saved bill
// per activity.
const OpenBillIndex = "bills_one_open_per_activity"

type BillRepository interface {
	Create(ctx context.Context, bill *models.Bill) error
	Overwrite(ctx context.Context, bill *models.Bill) error
	SetStatus(ctx context.Context, id string, from, to models.BillStatus, at time.Time) error
	MarkPushed(ctx context.Context, id string, at time.Time) error
	GetByID(ctx context.Context, id string) (*models.Bill, error)
	GetForUpdate(ctx context.Context, id string) (*models.Bill, error)
	GetOpenForUpdate(ctx context.Context, activityID string) (*models.Bill, error)
	GetLatest(ctx context.Context, activityID string) (*models.Bill, error)
	ListByActivity(ctx context.Context, activityID string, limit, offset int) ([]models.Bill, int, error)
	CreatePayments(ctx context.Context, payments []models.BillPayment) error
	ListPayments(ctx context.Context, billID string) ([]models.BillPayment, error)
	GetPaymentForUpdate(ctx context.Context, billID, participantID string) (*models.BillPayment, error)
	UpdatePayment(ctx context.Context, payment *models.BillPayment) error
	WithTx(tx database.Querier) BillRepository
}

type billRepository struct {
	db *database.DB
	tx database.Querier
}

func NewBillRepository(db *database.DB) BillRepository {
	return &billRepository{db: db}
}

func (r *billRepository) WithTx(tx database.Querier) BillRepository {
	return &billRepository{db: r.db, tx: tx}
}

func (r *billRepository) getQuerier() database.Querier {
	if r.tx != nil {
		return r.tx
	}
	return r.db.Pool
}

const billColumns = `id, activity_id, creator_id, expense_total_cost, base_total_cost, use_custom_total_cost,
	          custom_total_cost, total_cost, organizer_cost, shareable_total, participant_count,
	          total_ratio, average_cost, status, computation_error, pushed_at, created_at, updated_at`

func scanBill(row pgx.Row, b *models.Bill) error {
	return row.Scan(
		&b.ID, &b.ActivityID, &b.CreatorID, &b.ExpenseTotalCost, &b.BaseTotalCost, &b.UseCustomTotalCost,
		&b.CustomTotalCost, &b.TotalCost, &b.OrganizerCost, &b.ShareableTotal, &b.ParticipantCount,
		&b.TotalRatio, &b.AverageCost, &b.Status, &b.ComputationError, &b.PushedAt, &b.CreatedAt, &b.UpdatedAt,
	)
}

func (r *billRepository) Create(ctx context.Context, b *models.Bill) error {
	query := `INSERT INTO bills (` + billColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	_, err := r.getQuerier().Exec(ctx, query,
		b.ID, b.ActivityID, b.CreatorID, b.ExpenseTotalCost, b.BaseTotalCost, b.UseCustomTotalCost,
		b.CustomTotalCost, b.TotalCost, b.OrganizerCost, b.ShareableTotal, b.ParticipantCount,
		b.TotalRatio, b.AverageCost, b.Status, b.ComputationError, b.PushedAt, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating bill: %w", err)
	}
	return r.insertDetails(ctx, b.ID, b.Details)
}

// Overwrite replaces the computed fields and details of an open bill. A pushed
// bill is never matched.
func (r *billRepository) Overwrite(ctx context.Context, b *models.Bill) error {
	query := `UPDATE bills
	          SET expense_total_cost = $2, base_total_cost = $3, use_custom_total_cost = $4,
	              custom_total_cost = $5, total_cost = $6, organizer_cost = $7, shareable_total = $8,
	              participant_count = $9, total_ratio = $10, average_cost = $11, status = $12,
	              computation_error = $13, updated_at = $14
	          WHERE id = $1 AND status IN ('draft', 'saved')`

	tag, err := r.getQuerier().Exec(ctx, query,
		b.ID, b.ExpenseTotalCost, b.BaseTotalCost, b.UseCustomTotalCost,
		b.CustomTotalCost, b.TotalCost, b.OrganizerCost, b.ShareableTotal,
		b.ParticipantCount, b.TotalRatio, b.AverageCost, b.Status,
		b.ComputationError, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("overwriting bill: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("overwriting bill %s: %w", b.ID, pgx.ErrNoRows)
	}

	if _, err := r.getQuerier().Exec(ctx, `DELETE FROM bill_details WHERE bill_id = $1`, b.ID); err != nil {
		return fmt.Errorf("clearing bill details: %w", err)
	}
	return r.insertDetails(ctx, b.ID, b.Details)
}

func (r *billRepository) insertDetails(ctx context.Context, billID string, details []models.BillDetail) error {
	if len(details) == 0 {
		return nil
	}

	positions := make([]int32, len(details))
	participantIDs := make([]string, len(details))
	userIDs := make([]string, len(details))
	ratios := make([]string, len(details))
	shares := make([]string, len(details))
	for i, d := range details {
		positions[i] = int32(d.Position)
		participantIDs[i] = d.ParticipantID
		userIDs[i] = d.UserID
		ratios[i] = d.Ratio.String()
		shares[i] = d.ShareCost.String()
	}

	query := `INSERT INTO bill_details (bill_id, position, participant_id, user_id, ratio, share_cost)
	          SELECT $1, d.position, d.participant_id::UUID, d.user_id::UUID, d.ratio::NUMERIC, d.share_cost::NUMERIC
	          FROM unnest($2::INT[], $3::TEXT[], $4::TEXT[], $5::TEXT[], $6::TEXT[])
	               AS d(position, participant_id, user_id, ratio, share_cost)`

	if _, err := r.getQuerier().Exec(ctx, query, billID, positions, participantIDs, userIDs, ratios, shares); err != nil {
		return fmt.Errorf("inserting bill details: %w", err)
	}
	return nil
}

// SetStatus moves the bill from one open status to another.
func (r *billRepository) SetStatus(ctx context.Context, id string, from, to models.BillStatus, at time.Time) error {
	tag, err := r.getQuerier().Exec(ctx,
		`UPDATE bills SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`,
		id, from, to, at,
	)
	if err != nil {
		return fmt.Errorf("updating bill status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("updating bill %s status: %w", id, pgx.ErrNoRows)
	}
	return nil
}

func (r *billRepository) MarkPushed(ctx context.Context, id string, at time.Time) error {
	tag, err := r.getQuerier().Exec(ctx,
		`UPDATE bills SET status = 'pushed', pushed_at = $2, updated_at = $2 WHERE id = $1 AND status = 'saved'`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("pushing bill: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pushing bill %s: %w", id, pgx.ErrNoRows)
	}
	return nil
}

func (r *billRepository) GetByID(ctx context.Context, id string) (*models.Bill, error) {
	return r.getOne(ctx, `SELECT `+billColumns+` FROM bills WHERE id = $1`, "getting bill by id", id)
}

func (r *billRepository) GetForUpdate(ctx context.Context, id string) (*models.Bill, error) {
	return r.getOne(ctx, `SELECT `+billColumns+` FROM bills WHERE id = $1 FOR UPDATE`, "locking bill", id)
}

// GetOpenForUpdate locks the activity's draft or saved bill, if there is one.
func (r *billRepository) GetOpenForUpdate(ctx context.Context, activityID string) (*models.Bill, error) {
	query := `SELECT ` + billColumns + ` FROM bills
	          WHERE activity_id = $1 AND status IN ('draft', 'saved')
	          FOR UPDATE`
	return r.getOne(ctx, query, "locking open bill", activityID)
}

func (r *billRepository) GetLatest(ctx context.Context, activityID string) (*models.Bill, error) {
	query := `SELECT ` + billColumns + ` FROM bills
	          WHERE activity_id = $1
	          ORDER BY created_at DESC, id DESC
	          LIMIT 1`
	return r.getOne(ctx, query, "getting latest bill", activityID)
}

func (r *billRepository) getOne(ctx context.Context, query, op string, arg string) (*models.Bill, error) {
	var b models.Bill
	if err := scanBill(r.getQuerier().QueryRow(ctx, query, arg), &b); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	details, err := r.getDetails(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	b.Details = details
	return &b, nil
}

func (r *billRepository) getDetails(ctx context.Context, billID string) ([]models.BillDetail, error) {
	rows, err := r.getQuerier().Query(ctx,
		`SELECT bill_id, position, participant_id, user_id, ratio, share_cost
		 FROM bill_details WHERE bill_id = $1 ORDER BY position`,
		billID,
	)
	if err != nil {
		return nil, fmt.Errorf("getting bill details: %w", err)
	}
	defer rows.Close()

	details := make([]models.BillDetail, 0)
	for rows.Next() {
		var d models.BillDetail
		if err := rows.Scan(&d.BillID, &d.Position, &d.ParticipantID, &d.UserID, &d.Ratio, &d.ShareCost); err != nil {
			return nil, fmt.Errorf("scanning bill detail: %w", err)
		}
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bill details: %w", err)
	}
	return details, nil
}

// ListByActivity returns one page of the activity's bills, newest first, and
// the total number of bills.
func (r *billRepository) ListByActivity(ctx context.Context, activityID string, limit, offset int) ([]models.Bill, int, error) {
	var total int
	if err := r.getQuerier().QueryRow(ctx, `SELECT COUNT(*) FROM bills WHERE activity_id = $1`, activityID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting bills: %w", err)
	}

	query := `SELECT ` + billColumns + ` FROM bills
	          WHERE activity_id = $1
	          ORDER BY created_at DESC, id DESC
	          LIMIT $2 OFFSET $3`
	rows, err := r.getQuerier().Query(ctx, query, activityID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing bills: %w", err)
	}

	bills := make([]models.Bill, 0)
	for rows.Next() {
		var b models.Bill
		if err := scanBill(rows, &b); err != nil {
			rows.Close()
			return nil, 0, fmt.Errorf("scanning bill: %w", err)
		}
		bills = append(bills, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating bills: %w", err)
	}

	for i := range bills {
		details, err := r.getDetails(ctx, bills[i].ID)
		if err != nil {
			return nil, 0, err
		}
		bills[i].Details = details
	}
	return bills, total, nil
}

func (r *billRepository) CreatePayments(ctx context.Context, payments []models.BillPayment) error {
	query := `INSERT INTO bill_payments (bill_id, participant_id, user_id, amount, status, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6)`
	for _, p := range payments {
		if _, err := r.getQuerier().Exec(ctx, query, p.BillID, p.ParticipantID, p.UserID, p.Amount, p.Status, p.UpdatedAt); err != nil {
			return fmt.Errorf("creating bill payment: %w", err)
		}
	}
	return nil
}

const paymentColumns = `bill_id, participant_id, user_id, amount, status, method, note, paid_at, updated_at`

func scanPayment(row pgx.Row, p *models.BillPayment) error {
	return row.Scan(&p.BillID, &p.ParticipantID, &p.UserID, &p.Amount, &p.Status, &p.Method, &p.Note, &p.PaidAt, &p.UpdatedAt)
}

func (r *billRepository) ListPayments(ctx context.Context, billID string) ([]models.BillPayment, error) {
	rows, err := r.getQuerier().Query(ctx,
		`SELECT bp.bill_id, bp.participant_id, bp.user_id, bp.amount, bp.status, bp.method, bp.note, bp.paid_at, bp.updated_at
		 FROM bill_payments bp
		 JOIN bill_details bd ON bd.bill_id = bp.bill_id AND bd.participant_id = bp.participant_id
		 WHERE bp.bill_id = $1 ORDER BY bd.position`,
		billID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing bill payments: %w", err)
	}
	defer rows.Close()

	payments := make([]models.BillPayment, 0)
	for rows.Next() {
		var p models.BillPayment
		if err := scanPayment(rows, &p); err != nil {
			return nil, fmt.Errorf("scanning bill payment: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bill payments: %w", err)
	}
	return payments, nil
}

func (r *billRepository) GetPaymentForUpdate(ctx context.Context, billID, participantID string) (*models.BillPayment, error) {
	var p models.BillPayment
	query := `SELECT ` + paymentColumns + ` FROM bill_payments
	          WHERE bill_id = $1 AND participant_id = $2 FOR UPDATE`
	if err := scanPayment(r.getQuerier().QueryRow(ctx, query, billID, participantID), &p); err != nil {
		return nil, fmt.Errorf("locking bill payment: %w", err)
	}
	return &p, nil
}

func (r *billRepository) UpdatePayment(ctx context.Context, p *models.BillPayment) error {
	query := `UPDATE bill_payments
	          SET status = $3, method = $4, note = $5, paid_at = $6, updated_at = $7
	          WHERE bill_id = $1 AND participant_id = $2`
	tag, err := r.getQuerier().Exec(ctx, query, p.BillID, p.ParticipantID, p.Status, p.Method, p.Note, p.PaidAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating bill payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("updating bill payment: %w", pgx.ErrNoRows)
	}
	return nil
}
