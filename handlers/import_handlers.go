package handlers

import (
	"mime/multipart"
	"net/http"
	"strings"

	apperrors "activity-ledger/errors"

	"github.com/go-chi/chi/v5"
)

func isCSV(header *multipart.FileHeader) bool {
	switch header.Header.Get("Content-Type") {
	case "text/csv", "application/csv", "application/vnd.ms-excel":
		return true
	}
	return strings.HasSuffix(strings.ToLower(header.Filename), ".csv")
}

func (h *Handlers) PreviewExpenseImport(w http.ResponseWriter, r *http.Request) {
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

	if !isCSV(header) {
		handleError(w, apperrors.InvalidFieldFormat("file", "a CSV file"))
		return
	}

	preview, err := h.importService.PreviewExpensesCSV(r.Context(), chi.URLParam(r, "activityID"), userID, file)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, preview)
}

func (h *Handlers) ImportExpenses(w http.ResponseWriter, r *http.Request) {
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

	if !isCSV(header) {
		handleError(w, apperrors.InvalidFieldFormat("file", "a CSV file"))
		return
	}

	result, err := h.importService.ImportExpensesCSV(r.Context(), chi.URLParam(r, "activityID"), userID, file)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, result)
}

func (h *Handlers) ScanReceipt(w http.ResponseWriter, r *http.Request) {
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

	scan, err := h.receiptService.ScanReceipt(r.Context(), chi.URLParam(r, "activityID"), userID,
		file, header.Header.Get("Content-Type"))
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, scan)
}
