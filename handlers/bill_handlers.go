package handlers

import (
	"net/http"

	"activity-ledger/models"
	"activity-ledger/services"

	"github.com/go-chi/chi/v5"
)

func (h *Handlers) GenerateBill(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	bill, err := h.billService.Generate(r.Context(), chi.URLParam(r, "activityID"), userID)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, bill)
}

func (h *Handlers) PreviewBill(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	bill, err := h.billService.Preview(r.Context(), chi.URLParam(r, "activityID"), userID)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, bill)
}

func (h *Handlers) GetCurrentBill(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	bill, err := h.billService.Current(r.Context(), chi.URLParam(r, "activityID"), userID)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, bill)
}

func (h *Handlers) ListBills(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	limit, err := queryInt(r, "limit", services.DefaultBillPageSize)
	if err != nil {
		handleError(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		handleError(w, err)
		return
	}

	page, err := h.billService.ListByActivity(r.Context(), chi.URLParam(r, "activityID"), userID, limit, offset)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, page)
}

func (h *Handlers) GetBill(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	bill, err := h.billService.GetByID(r.Context(), chi.URLParam(r, "billID"), userID)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, bill)
}

func (h *Handlers) SaveBill(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	bill, err := h.billService.Save(r.Context(), chi.URLParam(r, "billID"), userID)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, bill)
}

func (h *Handlers) PushBill(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	bill, err := h.billService.Push(r.Context(), chi.URLParam(r, "billID"), userID)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, bill)
}

func (h *Handlers) ListPayments(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	payments, err := h.billService.Payments(r.Context(), chi.URLParam(r, "billID"), userID)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, payments)
}

func (h *Handlers) GetPaymentSummary(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	summary, err := h.billService.PaymentSummary(r.Context(), chi.URLParam(r, "billID"), userID)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, summary)
}

func (h *Handlers) RecordPayment(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	var req models.PaymentUpdate
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}

	payment, err := h.billService.RecordPayment(r.Context(),
		chi.URLParam(r, "billID"), chi.URLParam(r, "participantID"), userID, req)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, payment)
}
