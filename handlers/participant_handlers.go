package handlers

import (
	"net/http"

	apperrors "activity-ledger/errors"
	"activity-ledger/models"
	"activity-ledger/money"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type DecisionRequest struct {
	Approve *bool   `json:"approve"`
	Reason  *string `json:"reason,omitempty"`
}

type CancelRequest struct {
	Reason *string `json:"reason,omitempty"`
}

type AttendanceRequest struct {
	Attended   *bool `json:"attended"`
	Correction bool  `json:"correction"`
}

type OverrideRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type RatioRequest struct {
	Ratio *money.Money `json:"ratio"`
}

// CancelResponse carries the cancelled record and, when the activity fell
// below its minimum, an advisory warning. The request itself succeeded.
type CancelResponse struct {
	Participant  *models.ParticipantRecord  `json:"participant"`
	UnderMinimum *models.UnderMinimumSignal `json:"under_minimum,omitempty"`
	Warning      *ErrorResponse             `json:"warning,omitempty"`
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}
	activityID := chi.URLParam(r, "activityID")

	record, err := h.participationService.Register(r.Context(), activityID, userID)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, record)
}

func (h *Handlers) ListParticipants(w http.ResponseWriter, r *http.Request) {
	if _, err := getUserID(r); err != nil {
		handleError(w, err)
		return
	}
	activityID := chi.URLParam(r, "activityID")

	var filter *models.ParticipantStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := models.ParseParticipantStatus(raw)
		if err != nil {
			handleError(w, apperrors.InvalidFieldFormat("status", "a participant status"))
			return
		}
		filter = &status
	}

	records, err := h.participationService.ListByActivity(r.Context(), activityID, filter)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, records)
}

func (h *Handlers) GetParticipant(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	record, err := h.participationService.GetByID(r.Context(), chi.URLParam(r, "participantID"), userID)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, record)
}

func (h *Handlers) DecideApplication(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	var req DecisionRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}
	if req.Approve == nil {
		handleError(w, apperrors.MissingRequiredField("approve"))
		return
	}

	record, err := h.participationService.Decide(r.Context(), chi.URLParam(r, "participantID"), userID, *req.Approve, req.Reason)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, record)
}

func (h *Handlers) CancelParticipation(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	var req CancelRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}

	result, err := h.participationService.Cancel(r.Context(), chi.URLParam(r, "participantID"), userID, req.Reason)
	if err != nil {
		handleError(w, err)
		return
	}

	resp := CancelResponse{Participant: result.Participant, UnderMinimum: result.UnderMinimum}
	if sig := result.UnderMinimum; sig != nil {
		resp.Warning = toErrorResponse(apperrors.UnderMinimumParticipants(sig.EligibleCount, sig.MinParticipants))
		zap.L().Info("Activity below minimum after cancellation",
			zap.String("activity_id", sig.ActivityID),
			zap.Int("eligible", sig.EligibleCount),
			zap.Int("min", sig.MinParticipants))
	}

	respondJSON(w, http.StatusOK, resp)
}

func (h *Handlers) MarkAttendance(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	var req AttendanceRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}
	if req.Attended == nil {
		handleError(w, apperrors.MissingRequiredField("attended"))
		return
	}

	record, err := h.participationService.MarkAttendance(r.Context(), chi.URLParam(r, "participantID"), userID, *req.Attended, req.Correction)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, record)
}

func (h *Handlers) OverrideStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	var req OverrideRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}
	status, err := models.ParseParticipantStatus(req.Status)
	if err != nil {
		handleError(w, apperrors.InvalidFieldFormat("status", "a participant status"))
		return
	}

	record, err := h.participationService.Override(r.Context(), chi.URLParam(r, "participantID"), userID, status, req.Reason)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, record)
}

func (h *Handlers) SetRatio(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	var req RatioRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}
	if req.Ratio == nil {
		handleError(w, apperrors.MissingRequiredField("ratio"))
		return
	}

	record, err := h.participationService.SetRatio(r.Context(), chi.URLParam(r, "participantID"), userID, *req.Ratio)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, record)
}

func (h *Handlers) GetParticipantHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	rows, err := h.historyService.ListByParticipant(r.Context(), chi.URLParam(r, "participantID"), userID)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, rows)
}

func (h *Handlers) GetActivityHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	rows, err := h.historyService.ListByActivity(r.Context(), chi.URLParam(r, "activityID"), userID)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, rows)
}
