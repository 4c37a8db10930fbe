package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"activity-ledger/database"
	apperrors "activity-ledger/errors"
	"activity-ledger/models"
	"activity-ledger/money"
	"activity-ledger/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ImportService loads expense lines from a CSV export. The header row names
// the columns; item and amount are required, date, description and payer
// are optional. Column order does not matter.
type ImportService interface {
	PreviewExpensesCSV(ctx context.Context, activityID, actorID string, file io.Reader) (*models.ExpenseImportPreview, error)
	ImportExpensesCSV(ctx context.Context, activityID, actorID string, file io.Reader) (*models.ExpenseImportResult, error)
}

type importService struct {
	db           database.Transactor
	activityRepo repository.ActivityRepository
	expenseRepo  repository.ExpenseRepository
	bills        BillRecomputer
	auth         Authorizer
	now          func() time.Time
}

func NewImportService(
	db database.Transactor,
	activityRepo repository.ActivityRepository,
	expenseRepo repository.ExpenseRepository,
	bills BillRecomputer,
	auth Authorizer,
) ImportService {
	return &importService{
		db:           db,
		activityRepo: activityRepo,
		expenseRepo:  expenseRepo,
		bills:        bills,
		auth:         auth,
		now:          time.Now,
	}
}

var importDateLayouts = []string{"2006-01-02", time.RFC3339, "02/01/2006"}

type csvColumns struct {
	item, amount, date, description, payer int
}

func (s *importService) PreviewExpensesCSV(ctx context.Context, activityID, actorID string, file io.Reader) (*models.ExpenseImportPreview, error) {
	if err := RequireActivityManager(ctx, s.auth, activityID, actorID); err != nil {
		return nil, err
	}
	return s.parse(file, activityID, actorID)
}

// ImportExpensesCSV is all or nothing: any invalid row rejects the file.
func (s *importService) ImportExpensesCSV(ctx context.Context, activityID, actorID string, file io.Reader) (*models.ExpenseImportResult, error) {
	if err := RequireActivityManager(ctx, s.auth, activityID, actorID); err != nil {
		return nil, err
	}

	parsed, err := s.parse(file, activityID, actorID)
	if err != nil {
		return nil, err
	}
	if len(parsed.Errors) > 0 {
		shown := parsed.Errors
		if len(shown) > maxReportedErrors {
			shown = shown[:maxReportedErrors]
		}
		return nil, apperrors.InvalidRequestWithDetails(
			fmt.Sprintf("CSV contains %d invalid rows.", len(parsed.Errors)),
			strings.Join(shown, "; "))
	}
	if len(parsed.Rows) == 0 {
		return nil, apperrors.InvalidRequest("CSV has no expense rows.")
	}

	result := &models.ExpenseImportResult{TotalAmount: parsed.TotalAmount}
	err = s.db.WithTx(ctx, func(q database.Querier) error {
		if _, err := shareActivity(ctx, s.activityRepo.WithTx(q), activityID); err != nil {
			return err
		}
		txExpenses := s.expenseRepo.WithTx(q)
		for i := range parsed.Rows {
			if err := txExpenses.Create(ctx, &parsed.Rows[i]); err != nil {
				return apperrors.DatabaseError("creating expense", err)
			}
		}
		result.Imported = len(parsed.Rows)

		bill, err := s.bills.RecomputeOpen(ctx, q, activityID, TriggerExpense)
		result.Bill = bill
		return err
	})
	if err != nil {
		return nil, serviceError("importing expenses", err)
	}

	zap.L().Info("Expenses imported",
		zap.String("activity_id", activityID),
		zap.Int("count", result.Imported),
		zap.String("total", result.TotalAmount.String()),
		zap.String("actor_id", actorID))
	return result, nil
}

func (s *importService) parse(file io.Reader, activityID, actorID string) (*models.ExpenseImportPreview, error) {
	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, apperrors.InvalidRequest("Failed to read CSV header: " + err.Error())
	}
	cols, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	now := s.now()
	preview := &models.ExpenseImportPreview{Rows: []models.ExpenseLine{}, TotalAmount: money.Zero}
	rowNum := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		rowNum++
		if err != nil {
			preview.Errors = append(preview.Errors, fmt.Sprintf("Row %d: failed to parse: %v", rowNum, err))
			continue
		}
		if isBlank(record) {
			continue
		}
		if len(preview.Rows) == MaxImportRows {
			return nil, apperrors.InvalidRequest(fmt.Sprintf("CSV has more than %d rows.", MaxImportRows))
		}

		line, err := parseExpenseRow(record, cols, now)
		if err != nil {
			preview.Errors = append(preview.Errors, fmt.Sprintf("Row %d: %v", rowNum, err))
			continue
		}
		line.ID = uuid.New().String()
		line.ActivityID = activityID
		line.RecorderID = actorID
		line.CreatedAt = now
		preview.Rows = append(preview.Rows, *line)
		preview.TotalAmount = preview.TotalAmount.Add(line.Amount)
	}
	return preview, nil
}

func mapColumns(header []string) (csvColumns, error) {
	cols := csvColumns{item: -1, amount: -1, date: -1, description: -1, payer: -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case "item", "name":
			cols.item = i
		case "amount", "cost":
			cols.amount = i
		case "date", "expense_date":
			cols.date = i
		case "description", "notes":
			cols.description = i
		case "payer", "paid_by":
			cols.payer = i
		}
	}
	if cols.item < 0 || cols.amount < 0 {
		return cols, apperrors.InvalidRequest("CSV header must include item and amount columns.")
	}
	return cols, nil
}

func parseExpenseRow(record []string, cols csvColumns, now time.Time) (*models.ExpenseLine, error) {
	field := func(i int) string {
		if i < 0 || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	raw := field(cols.amount)
	if raw == "" {
		return nil, errors.New("amount is missing")
	}
	amount, err := money.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("amount %q is not a number", raw)
	}

	line := &models.ExpenseLine{
		Item:        field(cols.item),
		Amount:      amount.Round(),
		Description: optional(field(cols.description)),
		Payer:       optional(field(cols.payer)),
		ExpenseDate: now,
	}
	if err := validateExpense(line); err != nil {
		if appErr, ok := apperrors.AsAppError(err); ok {
			return nil, errors.New(appErr.Message)
		}
		return nil, err
	}

	if d := field(cols.date); d != "" {
		date, err := parseImportDate(d)
		if err != nil {
			return nil, err
		}
		line.ExpenseDate = date
	}
	return line, nil
}

func parseImportDate(s string) (time.Time, error) {
	for _, layout := range importDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("date %q is not in YYYY-MM-DD form", s)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
