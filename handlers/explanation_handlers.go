package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func (h *Handlers) ExplainShare(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	billID := chi.URLParam(r, "billID")
	participantID := chi.URLParam(r, "participantID")

	zap.L().Debug("Share explanation requested",
		zap.String("user_id", userID),
		zap.String("bill_id", billID),
		zap.String("participant_id", participantID))

	explanation, err := h.explanationService.ExplainShare(r.Context(), billID, participantID, userID)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, explanation)
}
