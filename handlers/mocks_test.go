package handlers

import (
	"context"
	"io"

	"activity-ledger/models"
	"activity-ledger/services"
)

// The stubs embed the service interfaces so only the methods a test touches
// need bodies. Anything else panics on the nil embedded value.

type stubParticipation struct {
	services.ParticipationService
	record       *models.ParticipantRecord
	cancelResult *models.CancelResult
	err          error

	gotFilter  *models.ParticipantStatus
	gotApprove bool
	gotReason  *string
}

func (s *stubParticipation) Register(ctx context.Context, activityID, userID string) (*models.ParticipantRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.ParticipantRecord{ID: "p-1", ActivityID: activityID, UserID: userID, Status: models.StatusRegistered}, nil
}

func (s *stubParticipation) Decide(ctx context.Context, participantID, actorID string, approve bool, reason *string) (*models.ParticipantRecord, error) {
	s.gotApprove = approve
	s.gotReason = reason
	return s.record, s.err
}

func (s *stubParticipation) Cancel(ctx context.Context, participantID, actorID string, reason *string) (*models.CancelResult, error) {
	s.gotReason = reason
	return s.cancelResult, s.err
}

func (s *stubParticipation) ListByActivity(ctx context.Context, activityID string, status *models.ParticipantStatus) ([]models.ParticipantRecord, error) {
	s.gotFilter = status
	return []models.ParticipantRecord{}, s.err
}

type stubBills struct {
	services.BillService
	bill *models.Bill
	err  error

	gotLimit, gotOffset int
	gotUpdate           models.PaymentUpdate
}

func (s *stubBills) ListByActivity(ctx context.Context, activityID, actorID string, limit, offset int) (*models.BillPage, error) {
	s.gotLimit, s.gotOffset = limit, offset
	return &models.BillPage{Bills: []models.Bill{}, Limit: limit, Offset: offset}, s.err
}

func (s *stubBills) Push(ctx context.Context, billID, actorID string) (*models.Bill, error) {
	return s.bill, s.err
}

func (s *stubBills) RecordPayment(ctx context.Context, billID, participantID, actorID string, update models.PaymentUpdate) (*models.BillPayment, error) {
	s.gotUpdate = update
	if s.err != nil {
		return nil, s.err
	}
	return &models.BillPayment{BillID: billID, ParticipantID: participantID, Status: update.Status}, nil
}

type stubExpenses struct {
	services.ExpenseService
	err error

	recorded       *models.ExpenseLine
	gotFilename    string
	gotContentType string
	gotBody        []byte
}

func (s *stubExpenses) Record(ctx context.Context, activityID, actorID string, expense *models.ExpenseLine) (*models.ExpenseLine, error) {
	if s.err != nil {
		return nil, s.err
	}
	expense.ID = "e-1"
	expense.ActivityID = activityID
	s.recorded = expense
	return expense, nil
}

func (s *stubExpenses) Delete(ctx context.Context, expenseID, actorID string) error {
	return s.err
}

func (s *stubExpenses) AttachReceipt(ctx context.Context, expenseID, actorID string, file io.Reader, filename, contentType string) (*models.ExpenseLine, error) {
	body, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	s.gotBody = body
	s.gotFilename = filename
	s.gotContentType = contentType
	key := "act-1/" + filename
	return &models.ExpenseLine{ID: expenseID, ImagePath: &key}, s.err
}

type stubHistory struct {
	services.HistoryService
}

type stubExplanation struct {
	text string
	err  error
}

func (s *stubExplanation) ExplainShare(ctx context.Context, billID, participantID, actorID string) (*models.BillExplanation, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.BillExplanation{BillID: billID, ParticipantID: participantID, Explanation: s.text}, nil
}

type stubImport struct {
	preview *models.ExpenseImportPreview
	gotBody string
}

func (s *stubImport) PreviewExpensesCSV(ctx context.Context, activityID, actorID string, file io.Reader) (*models.ExpenseImportPreview, error) {
	body, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	s.gotBody = string(body)
	return s.preview, nil
}

func (s *stubImport) ImportExpensesCSV(ctx context.Context, activityID, actorID string, file io.Reader) (*models.ExpenseImportResult, error) {
	return &models.ExpenseImportResult{Imported: 1}, nil
}

type stubReceipts struct {
	gotContentType string
}

func (s *stubReceipts) ScanReceipt(ctx context.Context, activityID, actorID string, image io.Reader, contentType string) (*models.ReceiptScan, error) {
	s.gotContentType = contentType
	return &models.ReceiptScan{Items: []models.ScannedItem{{Name: "Court hire"}}}, nil
}
