package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"activity-ledger/calculator"
	"activity-ledger/database"
	apperrors "activity-ledger/errors"
	"activity-ledger/metrics"
	"activity-ledger/models"
	"activity-ledger/money"
	"activity-ledger/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BillRecomputer refreshes an activity's open bill inside a caller's
// transaction. It is how participant and expense changes keep the bill in
// step with the data it was computed from.
type BillRecomputer interface {
	RecomputeOpen(ctx context.Context, q database.Querier, activityID, trigger string) (*models.Bill, error)
}

type BillService interface {
	BillRecomputer
	Generate(ctx context.Context, activityID, actorID string) (*models.Bill, error)
	Preview(ctx context.Context, activityID, actorID string) (*models.Bill, error)
	Save(ctx context.Context, billID, actorID string) (*models.Bill, error)
	Push(ctx context.Context, billID, actorID string) (*models.Bill, error)
	GetByID(ctx context.Context, billID, actorID string) (*models.Bill, error)
	Current(ctx context.Context, activityID, actorID string) (*models.Bill, error)
	ListByActivity(ctx context.Context, activityID, actorID string, limit, offset int) (*models.BillPage, error)
	Payments(ctx context.Context, billID, actorID string) ([]models.BillPayment, error)
	RecordPayment(ctx context.Context, billID, participantID, actorID string, update models.PaymentUpdate) (*models.BillPayment, error)
	PaymentSummary(ctx context.Context, billID, actorID string) (*models.PaymentSummary, error)
}

type billService struct {
	db              database.Transactor
	activityRepo    repository.ActivityRepository
	participantRepo repository.ParticipantRepository
	expenseRepo     repository.ExpenseRepository
	billRepo        repository.BillRepository
	outboxRepo      repository.OutboxRepository
	auth            Authorizer
	metrics         *metrics.LedgerMetrics
	now             func() time.Time
}

func NewBillService(
	db database.Transactor,
	activityRepo repository.ActivityRepository,
	participantRepo repository.ParticipantRepository,
	expenseRepo repository.ExpenseRepository,
	billRepo repository.BillRepository,
	outboxRepo repository.OutboxRepository,
	auth Authorizer,
	m *metrics.LedgerMetrics,
) BillService {
	return &billService{
		db:              db,
		activityRepo:    activityRepo,
		participantRepo: participantRepo,
		expenseRepo:     expenseRepo,
		billRepo:        billRepo,
		outboxRepo:      outboxRepo,
		auth:            auth,
		metrics:         m,
		now:             time.Now,
	}
}

// shareActivity holds the activity row in share mode. Writers that change
// bill inputs take it (or the exclusive lock) before any other row, so a
// concurrent Generate either sees their change or runs after it.
func shareActivity(ctx context.Context, activities repository.ActivityRepository, activityID string) (*models.Activity, error) {
	activity, err := activities.GetForShare(ctx, activityID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			return nil, apperrors.ActivityNotFound()
		}
		return nil, apperrors.DatabaseError("locking activity", err)
	}
	return activity, nil
}

// compute reads the activity, its expenses and eligible participants through
// q and runs the calculator.
func (s *billService) compute(ctx context.Context, q database.Querier, activityID string) (*models.Activity, calculator.Result, error) {
	activity, err := s.activityRepo.WithTx(q).GetByID(ctx, activityID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			return nil, calculator.Result{}, apperrors.ActivityNotFound()
		}
		return nil, calculator.Result{}, apperrors.DatabaseError("getting activity", err)
	}

	expenses, err := s.expenseRepo.WithTx(q).ListByActivity(ctx, activityID)
	if err != nil {
		return nil, calculator.Result{}, apperrors.DatabaseError("listing expenses", err)
	}

	eligible, err := s.participantRepo.WithTx(q).ListEligible(ctx, activityID)
	if err != nil {
		return nil, calculator.Result{}, apperrors.DatabaseError("listing eligible participants", err)
	}

	start := time.Now()
	res, err := calculator.ComputeBill(*activity, expenses, eligible)
	s.metrics.ObserveCompute(time.Since(start))
	return activity, res, err
}

// RecomputeOpen overwrites the activity's draft or saved bill with a fresh
// computation and demotes it to draft. It returns nil when there is no open
// bill. A configuration the calculator rejects does not fail the caller: the
// bill is kept, demoted, and marked with the computation error.
func (s *billService) RecomputeOpen(ctx context.Context, q database.Querier, activityID, trigger string) (*models.Bill, error) {
	bill, err := s.billRepo.WithTx(q).GetOpenForUpdate(ctx, activityID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			return nil, nil
		}
		return nil, apperrors.DatabaseError("locking open bill", err)
	}

	_, res, err := s.compute(ctx, q, activityID)
	switch {
	case err == nil:
		res.ApplyTo(bill)
		bill.ComputationError = nil
		s.metrics.IncRecomputation(trigger, "ok")
	case apperrors.HasCode(err, apperrors.CodeInvalidCustomTotal):
		msg := err.Error()
		bill.ComputationError = &msg
		s.metrics.IncRecomputation(trigger, "invalid_custom_total")
		zap.L().Warn("Open bill cannot be computed",
			zap.String("activity_id", activityID),
			zap.String("bill_id", bill.ID),
			zap.Error(err))
	default:
		return nil, err
	}

	bill.Status = models.BillDraft
	bill.UpdatedAt = s.now()
	if err := s.billRepo.WithTx(q).Overwrite(ctx, bill); err != nil {
		return nil, apperrors.DatabaseError("overwriting bill", err)
	}

	zap.L().Debug("Recomputed open bill",
		zap.String("activity_id", activityID),
		zap.String("bill_id", bill.ID),
		zap.String("trigger", trigger),
		zap.Int("participant_count", bill.ParticipantCount))
	return bill, nil
}

// Generate creates the activity's open bill, or recomputes it if one exists.
func (s *billService) Generate(ctx context.Context, activityID, actorID string) (*models.Bill, error) {
	if err := RequireActivityManager(ctx, s.auth, activityID, actorID); err != nil {
		return nil, err
	}

	var bill *models.Bill
	err := s.db.WithTx(ctx, func(q database.Querier) error {
		if _, err := s.activityRepo.WithTx(q).GetForUpdate(ctx, activityID); err != nil {
			if apperrors.IsNotFoundError(err) {
				return apperrors.ActivityNotFound()
			}
			return apperrors.DatabaseError("locking activity", err)
		}

		open, err := s.billRepo.WithTx(q).GetOpenForUpdate(ctx, activityID)
		if err != nil && !apperrors.IsNotFoundError(err) {
			return apperrors.DatabaseError("locking open bill", err)
		}

		_, res, err := s.compute(ctx, q, activityID)
		if err != nil {
			return err
		}
		s.metrics.IncRecomputation(TriggerManual, "ok")

		now := s.now()
		if open != nil {
			res.ApplyTo(open)
			open.Status = models.BillDraft
			open.ComputationError = nil
			open.UpdatedAt = now
			if err := s.billRepo.WithTx(q).Overwrite(ctx, open); err != nil {
				return apperrors.DatabaseError("overwriting bill", err)
			}
			bill = open
			return nil
		}

		bill = &models.Bill{
			ID:         uuid.New().String(),
			ActivityID: activityID,
			CreatorID:  actorID,
			Status:     models.BillDraft,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		res.ApplyTo(bill)
		if err := s.billRepo.WithTx(q).Create(ctx, bill); err != nil {
			if apperrors.IsConstraintViolation(err, repository.OpenBillIndex) {
				return apperrors.Conflict("An open bill already exists for this activity.")
			}
			return apperrors.DatabaseError("creating bill", err)
		}
		return nil
	})
	if err != nil {
		return nil, serviceError("generating bill", err)
	}

	zap.L().Info("Bill generated",
		zap.String("activity_id", activityID),
		zap.String("bill_id", bill.ID),
		zap.String("actor_id", actorID),
		zap.String("shareable_total", bill.ShareableTotal.String()))
	return bill, nil
}

// Preview computes a bill from current data without storing anything.
func (s *billService) Preview(ctx context.Context, activityID, actorID string) (*models.Bill, error) {
	if err := RequireActivityManager(ctx, s.auth, activityID, actorID); err != nil {
		return nil, err
	}

	var bill *models.Bill
	err := s.db.WithTx(ctx, func(q database.Querier) error {
		_, res, err := s.compute(ctx, q, activityID)
		if err != nil {
			return err
		}
		now := s.now()
		bill = &models.Bill{
			ActivityID: activityID,
			CreatorID:  actorID,
			Status:     models.BillDraft,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		res.ApplyTo(bill)
		return nil
	})
	if err != nil {
		return nil, serviceError("previewing bill", err)
	}
	return bill, nil
}

// Save confirms a draft. The bill is recomputed first so what gets confirmed
// matches current data.
func (s *billService) Save(ctx context.Context, billID, actorID string) (*models.Bill, error) {
	existing, err := s.getBill(ctx, billID)
	if err != nil {
		return nil, err
	}
	if err := RequireActivityManager(ctx, s.auth, existing.ActivityID, actorID); err != nil {
		return nil, err
	}

	var bill *models.Bill
	err = s.db.WithTx(ctx, func(q database.Querier) error {
		if _, err := shareActivity(ctx, s.activityRepo.WithTx(q), existing.ActivityID); err != nil {
			return err
		}
		b, err := s.billRepo.WithTx(q).GetForUpdate(ctx, billID)
		if err != nil {
			return apperrors.DatabaseError("locking bill", err)
		}
		if !b.Status.IsOpen() {
			return apperrors.InvalidBillState(string(b.Status))
		}

		_, res, err := s.compute(ctx, q, b.ActivityID)
		if err != nil {
			return err
		}
		res.ApplyTo(b)
		b.ComputationError = nil
		b.Status = models.BillSaved
		b.UpdatedAt = s.now()
		if err := s.billRepo.WithTx(q).Overwrite(ctx, b); err != nil {
			return apperrors.DatabaseError("saving bill", err)
		}
		bill = b
		return nil
	})
	if err != nil {
		return nil, serviceError("saving bill", err)
	}

	zap.L().Info("Bill saved", zap.String("bill_id", billID), zap.String("actor_id", actorID))
	return bill, nil
}

// Push finalizes a saved bill. It opens a payment row and queues one
// notification per participant. The bill is immutable afterwards.
func (s *billService) Push(ctx context.Context, billID, actorID string) (*models.Bill, error) {
	existing, err := s.getBill(ctx, billID)
	if err != nil {
		return nil, err
	}
	if err := RequireActivityManager(ctx, s.auth, existing.ActivityID, actorID); err != nil {
		return nil, err
	}

	var bill *models.Bill
	err = s.db.WithTx(ctx, func(q database.Querier) error {
		activity, err := shareActivity(ctx, s.activityRepo.WithTx(q), existing.ActivityID)
		if err != nil {
			return err
		}

		b, err := s.billRepo.WithTx(q).GetForUpdate(ctx, billID)
		if err != nil {
			return apperrors.DatabaseError("locking bill", err)
		}
		if b.Status != models.BillSaved {
			return apperrors.InvalidBillState(string(b.Status))
		}

		now := s.now()
		if err := s.billRepo.WithTx(q).MarkPushed(ctx, b.ID, now); err != nil {
			return apperrors.DatabaseError("pushing bill", err)
		}
		b.Status = models.BillPushed
		b.PushedAt = &now
		b.UpdatedAt = now

		payments := make([]models.BillPayment, len(b.Details))
		for i, d := range b.Details {
			status := models.PaymentUnpaid
			if d.ShareCost.IsZero() {
				status = models.PaymentExempted
			}
			payments[i] = models.BillPayment{
				BillID:        b.ID,
				ParticipantID: d.ParticipantID,
				UserID:        d.UserID,
				Amount:        d.ShareCost,
				Status:        status,
				UpdatedAt:     now,
			}
		}
		if err := s.billRepo.WithTx(q).CreatePayments(ctx, payments); err != nil {
			return apperrors.DatabaseError("creating bill payments", err)
		}

		for _, d := range b.Details {
			event, err := billPushedEvent(activity, b, d, now)
			if err != nil {
				return apperrors.InternalError(err)
			}
			if err := s.outboxRepo.WithTx(q).Publish(ctx, event); err != nil {
				return apperrors.DatabaseError("queueing bill notification", err)
			}
		}
		bill = b
		return nil
	})
	if err != nil {
		return nil, serviceError("pushing bill", err)
	}

	s.metrics.IncBillPushed()
	zap.L().Info("Bill pushed",
		zap.String("bill_id", billID),
		zap.String("activity_id", bill.ActivityID),
		zap.String("actor_id", actorID),
		zap.Int("recipients", len(bill.Details)))
	return bill, nil
}

func billPushedEvent(activity *models.Activity, b *models.Bill, d models.BillDetail, now time.Time) (*models.OutboxEvent, error) {
	payload, err := json.Marshal(models.BillNotification{
		ActivityID:      activity.ID,
		ActivityTitle:   activity.Title,
		BillID:          b.ID,
		ParticipantID:   d.ParticipantID,
		UserID:          d.UserID,
		ShareCost:       d.ShareCost,
		Ratio:           d.Ratio,
		PaymentDeadline: activity.PaymentDeadline,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding bill notification: %w", err)
	}
	return &models.OutboxEvent{
		ID:         uuid.New().String(),
		Type:       models.EventBillPushed,
		ActivityID: activity.ID,
		Payload:    payload,
		DedupeKey:  fmt.Sprintf("%s:%s:%s", models.EventBillPushed, b.ID, d.ParticipantID),
		CreatedAt:  now,
	}, nil
}

func (s *billService) getBill(ctx context.Context, billID string) (*models.Bill, error) {
	bill, err := s.billRepo.GetByID(ctx, billID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			return nil, apperrors.BillNotFound()
		}
		zap.L().Error("Failed to get bill", zap.String("bill_id", billID), zap.Error(err))
		return nil, apperrors.DatabaseError("getting bill", err)
	}
	return bill, nil
}

// requireBillReader allows managers and anyone listed on the bill.
func (s *billService) requireBillReader(ctx context.Context, bill *models.Bill, actorID string) error {
	for _, d := range bill.Details {
		if d.UserID == actorID {
			return nil
		}
	}
	return RequireActivityManager(ctx, s.auth, bill.ActivityID, actorID)
}

func (s *billService) GetByID(ctx context.Context, billID, actorID string) (*models.Bill, error) {
	bill, err := s.getBill(ctx, billID)
	if err != nil {
		return nil, err
	}
	if err := s.requireBillReader(ctx, bill, actorID); err != nil {
		return nil, err
	}
	return bill, nil
}

// Current returns the activity's most recent bill, open or pushed.
func (s *billService) Current(ctx context.Context, activityID, actorID string) (*models.Bill, error) {
	bill, err := s.billRepo.GetLatest(ctx, activityID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			return nil, apperrors.BillNotFound()
		}
		return nil, apperrors.DatabaseError("getting current bill", err)
	}
	if err := s.requireBillReader(ctx, bill, actorID); err != nil {
		return nil, err
	}
	return bill, nil
}

func (s *billService) ListByActivity(ctx context.Context, activityID, actorID string, limit, offset int) (*models.BillPage, error) {
	if err := RequireActivityManager(ctx, s.auth, activityID, actorID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultBillPageSize
	}
	if limit > MaxBillPageSize {
		limit = MaxBillPageSize
	}
	if offset < 0 {
		offset = 0
	}

	bills, total, err := s.billRepo.ListByActivity(ctx, activityID, limit, offset)
	if err != nil {
		zap.L().Error("Failed to list bills", zap.String("activity_id", activityID), zap.Error(err))
		return nil, apperrors.DatabaseError("listing bills", err)
	}
	return &models.BillPage{Bills: bills, Total: total, Limit: limit, Offset: offset}, nil
}

func (s *billService) Payments(ctx context.Context, billID, actorID string) ([]models.BillPayment, error) {
	bill, err := s.getBill(ctx, billID)
	if err != nil {
		return nil, err
	}
	if err := s.requireBillReader(ctx, bill, actorID); err != nil {
		return nil, err
	}
	payments, err := s.billRepo.ListPayments(ctx, billID)
	if err != nil {
		return nil, apperrors.DatabaseError("listing payments", err)
	}
	return payments, nil
}

// RecordPayment updates one participant's payment on a pushed bill. The
// recipient may mark their own payment paid or unpaid; only a manager may
// exempt.
func (s *billService) RecordPayment(ctx context.Context, billID, participantID, actorID string, update models.PaymentUpdate) (*models.BillPayment, error) {
	if !update.Status.Valid() {
		return nil, apperrors.InvalidFieldFormat("status", "one of unpaid, paid, exempted")
	}
	if update.Note != nil && len(*update.Note) > MaxPaymentNoteLength {
		return nil, apperrors.InvalidRequest(fmt.Sprintf("Note must be at most %d characters.", MaxPaymentNoteLength))
	}

	bill, err := s.getBill(ctx, billID)
	if err != nil {
		return nil, err
	}
	if bill.Status != models.BillPushed {
		return nil, apperrors.InvalidBillState(string(bill.Status))
	}

	var payment *models.BillPayment
	err = s.db.WithTx(ctx, func(q database.Querier) error {
		p, err := s.billRepo.WithTx(q).GetPaymentForUpdate(ctx, billID, participantID)
		if err != nil {
			if apperrors.IsNotFoundError(err) {
				return apperrors.PaymentNotFound()
			}
			return apperrors.DatabaseError("locking payment", err)
		}

		if p.UserID != actorID || update.Status == models.PaymentExempted {
			manager, err := s.auth.CanManageActivity(ctx, bill.ActivityID, actorID)
			if err != nil {
				return apperrors.DatabaseError("checking activity manager", err)
			}
			if !manager {
				if p.UserID != actorID {
					return apperrors.NotBillRecipient()
				}
				return apperrors.NotActivityManager()
			}
		}

		now := s.now()
		p.Status = update.Status
		p.Method = trimmed(update.Method)
		p.Note = trimmed(update.Note)
		p.PaidAt = nil
		if update.Status == models.PaymentPaid {
			p.PaidAt = &now
		}
		p.UpdatedAt = now
		if err := s.billRepo.WithTx(q).UpdatePayment(ctx, p); err != nil {
			return apperrors.DatabaseError("updating payment", err)
		}
		payment = p
		return nil
	})
	if err != nil {
		return nil, serviceError("recording payment", err)
	}

	zap.L().Info("Payment recorded",
		zap.String("bill_id", billID),
		zap.String("participant_id", participantID),
		zap.String("status", string(payment.Status)),
		zap.String("actor_id", actorID))
	return payment, nil
}

func (s *billService) PaymentSummary(ctx context.Context, billID, actorID string) (*models.PaymentSummary, error) {
	payments, err := s.Payments(ctx, billID, actorID)
	if err != nil {
		return nil, err
	}
	return summarizePayments(billID, payments), nil
}

func summarizePayments(billID string, payments []models.BillPayment) *models.PaymentSummary {
	summary := &models.PaymentSummary{
		BillID:      billID,
		Total:       len(payments),
		TotalAmount: money.Zero,
		PaidAmount:  money.Zero,
	}
	for _, p := range payments {
		summary.TotalAmount = summary.TotalAmount.Add(p.Amount)
		switch p.Status {
		case models.PaymentPaid:
			summary.Paid++
			summary.PaidAmount = summary.PaidAmount.Add(p.Amount)
		case models.PaymentUnpaid:
			summary.Unpaid++
		case models.PaymentExempted:
			summary.Exempted++
		}
	}
	return summary
}
