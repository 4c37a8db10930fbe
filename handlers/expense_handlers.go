package handlers

import (
	"mime/multipart"
	"net/http"
	"time"

	apperrors "activity-ledger/errors"
	"activity-ledger/models"
	"activity-ledger/money"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxUploadSize = 5 * 1024 * 1024

type CreateExpenseRequest struct {
	Item        string       `json:"item"`
	Amount      *money.Money `json:"amount"`
	ExpenseDate *time.Time   `json:"expense_date,omitempty"`
	Description *string      `json:"description,omitempty"`
	Payer       *string      `json:"payer,omitempty"`
}

func (h *Handlers) RecordExpense(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	var req CreateExpenseRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}
	if req.Amount == nil {
		handleError(w, apperrors.MissingRequiredField("amount"))
		return
	}

	expense := &models.ExpenseLine{
		Item:        req.Item,
		Amount:      *req.Amount,
		Description: req.Description,
		Payer:       req.Payer,
	}
	if req.ExpenseDate != nil {
		expense.ExpenseDate = *req.ExpenseDate
	}

	created, err := h.expenseService.Record(r.Context(), chi.URLParam(r, "activityID"), userID, expense)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, created)
}

func (h *Handlers) ListExpenses(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	expenses, err := h.expenseService.List(r.Context(), chi.URLParam(r, "activityID"), userID)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, expenses)
}

func (h *Handlers) DeleteExpense(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	if err := h.expenseService.Delete(r.Context(), chi.URLParam(r, "expenseID"), userID); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) UploadReceipt(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	file, header, err := h.formFile(w, r)
	if err != nil {
		handleError(w, err)
		return
	}
	defer file.Close()

	expenseID := chi.URLParam(r, "expenseID")
	expense, err := h.expenseService.AttachReceipt(r.Context(), expenseID, userID, file,
		header.Filename, header.Header.Get("Content-Type"))
	if err != nil {
		handleError(w, err)
		return
	}

	zap.L().Info("Receipt attached",
		zap.String("expense_id", expenseID),
		zap.Int64("size", header.Size))
	respondJSON(w, http.StatusOK, expense)
}

func (h *Handlers) formFile(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		return nil, nil, apperrors.InvalidRequest("File too large or invalid multipart form. Max size is 5MB.")
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, nil, apperrors.MissingRequiredField("file")
	}
	return file, header, nil
}
