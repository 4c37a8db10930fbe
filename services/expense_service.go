package services

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"activity-ledger/database"
	apperrors "activity-ledger/errors"
	"activity-ledger/models"
	"activity-ledger/repository"
	"activity-ledger/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ExpenseService is the only writer of expense lines. Every change refreshes
// the activity's open bill in the same transaction.
type ExpenseService interface {
	Record(ctx context.Context, activityID, actorID string, expense *models.ExpenseLine) (*models.ExpenseLine, error)
	List(ctx context.Context, activityID, actorID string) ([]models.ExpenseLine, error)
	Delete(ctx context.Context, expenseID, actorID string) error
	AttachReceipt(ctx context.Context, expenseID, actorID string, file io.Reader, filename, contentType string) (*models.ExpenseLine, error)
}

type expenseService struct {
	db           database.Transactor
	activityRepo repository.ActivityRepository
	expenseRepo  repository.ExpenseRepository
	bills        BillRecomputer
	auth         Authorizer
	storage      storage.Storage
	now          func() time.Time
}

func NewExpenseService(
	db database.Transactor,
	activityRepo repository.ActivityRepository,
	expenseRepo repository.ExpenseRepository,
	bills BillRecomputer,
	auth Authorizer,
	store storage.Storage,
) ExpenseService {
	return &expenseService{
		db:           db,
		activityRepo: activityRepo,
		expenseRepo:  expenseRepo,
		bills:        bills,
		auth:         auth,
		storage:      store,
		now:          time.Now,
	}
}

var receiptContentTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

func validateExpense(expense *models.ExpenseLine) error {
	expense.Item = strings.TrimSpace(expense.Item)
	if expense.Item == "" {
		return apperrors.MissingRequiredField("item")
	}
	if len(expense.Item) > MaxExpenseItemLength {
		return apperrors.InvalidRequest(fmt.Sprintf("Item must be at most %d characters.", MaxExpenseItemLength))
	}
	if expense.Amount.IsNegative() {
		return apperrors.InvalidAmount("Expense amount cannot be negative.")
	}
	return nil
}

func (s *expenseService) Record(ctx context.Context, activityID, actorID string, expense *models.ExpenseLine) (*models.ExpenseLine, error) {
	if err := validateExpense(expense); err != nil {
		return nil, err
	}
	if err := RequireActivityManager(ctx, s.auth, activityID, actorID); err != nil {
		return nil, err
	}

	now := s.now()
	expense.ID = uuid.New().String()
	expense.ActivityID = activityID
	expense.RecorderID = actorID
	expense.Amount = expense.Amount.Round()
	expense.Description = trimmed(expense.Description)
	expense.Payer = trimmed(expense.Payer)
	expense.ImagePath = nil
	expense.CreatedAt = now
	if expense.ExpenseDate.IsZero() {
		expense.ExpenseDate = now
	}

	err := s.db.WithTx(ctx, func(q database.Querier) error {
		if _, err := shareActivity(ctx, s.activityRepo.WithTx(q), activityID); err != nil {
			return err
		}
		if err := s.expenseRepo.WithTx(q).Create(ctx, expense); err != nil {
			return apperrors.DatabaseError("creating expense", err)
		}
		_, err := s.bills.RecomputeOpen(ctx, q, activityID, TriggerExpense)
		return err
	})
	if err != nil {
		return nil, serviceError("recording expense", err)
	}

	zap.L().Info("Expense recorded",
		zap.String("activity_id", activityID),
		zap.String("expense_id", expense.ID),
		zap.String("amount", expense.Amount.String()),
		zap.String("actor_id", actorID))
	return expense, nil
}

func (s *expenseService) List(ctx context.Context, activityID, actorID string) ([]models.ExpenseLine, error) {
	if err := RequireActivityManager(ctx, s.auth, activityID, actorID); err != nil {
		return nil, err
	}
	expenses, err := s.expenseRepo.ListByActivity(ctx, activityID)
	if err != nil {
		zap.L().Error("Failed to list expenses", zap.String("activity_id", activityID), zap.Error(err))
		return nil, apperrors.DatabaseError("listing expenses", err)
	}
	if expenses == nil {
		expenses = []models.ExpenseLine{}
	}
	return expenses, nil
}

func (s *expenseService) Delete(ctx context.Context, expenseID, actorID string) error {
	expense, err := s.getExpense(ctx, expenseID)
	if err != nil {
		return err
	}
	if err := RequireActivityManager(ctx, s.auth, expense.ActivityID, actorID); err != nil {
		return err
	}

	err = s.db.WithTx(ctx, func(q database.Querier) error {
		if _, err := shareActivity(ctx, s.activityRepo.WithTx(q), expense.ActivityID); err != nil {
			return err
		}
		if err := s.expenseRepo.WithTx(q).Delete(ctx, expenseID); err != nil {
			if apperrors.IsNotFoundError(err) {
				return apperrors.ExpenseNotFound()
			}
			return apperrors.DatabaseError("deleting expense", err)
		}
		_, err := s.bills.RecomputeOpen(ctx, q, expense.ActivityID, TriggerExpense)
		return err
	})
	if err != nil {
		return serviceError("deleting expense", err)
	}

	if expense.ImagePath != nil {
		if err := s.storage.Delete(ctx, *expense.ImagePath); err != nil {
			zap.L().Warn("Failed to delete receipt image",
				zap.String("expense_id", expenseID),
				zap.String("key", *expense.ImagePath),
				zap.Error(err))
		}
	}

	zap.L().Info("Expense deleted", zap.String("expense_id", expenseID), zap.String("actor_id", actorID))
	return nil
}

// AttachReceipt uploads an image and records its key on the expense line.
// Amounts are unaffected, so the bill is left alone.
func (s *expenseService) AttachReceipt(ctx context.Context, expenseID, actorID string, file io.Reader, filename, contentType string) (*models.ExpenseLine, error) {
	ext, ok := receiptContentTypes[contentType]
	if !ok {
		return nil, apperrors.InvalidFieldFormat("file", "a JPEG, PNG, WebP or GIF image")
	}

	expense, err := s.getExpense(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	if err := RequireActivityManager(ctx, s.auth, expense.ActivityID, actorID); err != nil {
		return nil, err
	}

	key := path.Join(expense.ActivityID, fmt.Sprintf("%s-%d%s", expense.ID, s.now().Unix(), ext))
	if _, err := s.storage.Upload(ctx, key, file, contentType); err != nil {
		zap.L().Error("Failed to upload receipt",
			zap.String("expense_id", expenseID),
			zap.String("filename", filename),
			zap.Error(err))
		return nil, apperrors.StorageError("uploading receipt", err)
	}

	if err := s.expenseRepo.UpdateImagePath(ctx, expenseID, &key); err != nil {
		if apperrors.IsNotFoundError(err) {
			return nil, apperrors.ExpenseNotFound()
		}
		return nil, apperrors.DatabaseError("updating receipt path", err)
	}

	if expense.ImagePath != nil && *expense.ImagePath != key {
		if err := s.storage.Delete(ctx, *expense.ImagePath); err != nil {
			zap.L().Warn("Failed to delete replaced receipt", zap.String("key", *expense.ImagePath), zap.Error(err))
		}
	}
	expense.ImagePath = &key
	return expense, nil
}

func (s *expenseService) getExpense(ctx context.Context, expenseID string) (*models.ExpenseLine, error) {
	expense, err := s.expenseRepo.GetByID(ctx, expenseID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			return nil, apperrors.ExpenseNotFound()
		}
		zap.L().Error("Failed to get expense", zap.String("expense_id", expenseID), zap.Error(err))
		return nil, apperrors.DatabaseError("getting expense", err)
	}
	return expense, nil
}
