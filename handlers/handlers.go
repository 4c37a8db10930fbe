package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	apperrors "activity-ledger/errors"
	"activity-ledger/middleware"
	"activity-ledger/services"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error   string         `json:"error,omitempty"`
	Code    string         `json:"code,omitempty"`
	Details string         `json:"details,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

type Handlers struct {
	participationService services.ParticipationService
	billService          services.BillService
	expenseService       services.ExpenseService
	historyService       services.HistoryService
	explanationService   services.ExplanationService
	importService        services.ImportService
	receiptService       services.ReceiptService
	maxUploadSize        int64
}

func NewHandlers(
	participationService services.ParticipationService,
	billService services.BillService,
	expenseService services.ExpenseService,
	historyService services.HistoryService,
	explanationService services.ExplanationService,
	importService services.ImportService,
	receiptService services.ReceiptService,
) *Handlers {
	return &Handlers{
		participationService: participationService,
		billService:          billService,
		expenseService:       expenseService,
		historyService:       historyService,
		explanationService:   explanationService,
		importService:        importService,
		receiptService:       receiptService,
		maxUploadSize:        maxUploadSize,
	}
}

func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Route("/activities/{activityID}", func(r chi.Router) {
		r.Post("/participants", h.Register)
		r.Get("/participants", h.ListParticipants)
		r.Get("/history", h.GetActivityHistory)
		r.Post("/expenses", h.RecordExpense)
		r.Get("/expenses", h.ListExpenses)
		r.Post("/expenses/import/preview", h.PreviewExpenseImport)
		r.Post("/expenses/import", h.ImportExpenses)
		r.Post("/bills", h.GenerateBill)
		r.Get("/bills", h.ListBills)
		r.Get("/bills/preview", h.PreviewBill)
		r.Get("/bills/current", h.GetCurrentBill)
	})

	r.Route("/participants/{participantID}", func(r chi.Router) {
		r.Get("/", h.GetParticipant)
		r.Post("/decision", h.DecideApplication)
		r.Post("/cancel", h.CancelParticipation)
		r.Post("/attendance", h.MarkAttendance)
		r.Put("/status", h.OverrideStatus)
		r.Put("/ratio", h.SetRatio)
		r.Get("/history", h.GetParticipantHistory)
	})

	r.Route("/expenses/{expenseID}", func(r chi.Router) {
		r.Delete("/", h.DeleteExpense)
		r.Post("/receipt", h.UploadReceipt)
	})

	r.Route("/bills/{billID}", func(r chi.Router) {
		r.Get("/", h.GetBill)
		r.Post("/save", h.SaveBill)
		r.Post("/push", h.PushBill)
		r.Get("/payments", h.ListPayments)
		r.Get("/payments/summary", h.GetPaymentSummary)
		r.Put("/payments/{participantID}", h.RecordPayment)
	})
}

// RegisterAIRoutes holds the routes that call the text generation service.
// They sit behind a tighter rate limit.
func (h *Handlers) RegisterAIRoutes(r chi.Router) {
	r.Post("/bills/{billID}/participants/{participantID}/explain", h.ExplainShare)
	r.Post("/activities/{activityID}/expenses/scan", h.ScanReceipt)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Error("Failed to encode JSON response", zap.Error(err))
	}
}

func handleError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	if appErr, ok := apperrors.AsAppError(err); ok {
		status := apperrors.GetHTTPStatus(appErr.Type)

		if status >= 500 {
			zap.L().Error("App Error (Internal)",
				zap.String("code", string(appErr.Code)),
				zap.Error(appErr.Err))
		} else {
			zap.L().Debug("App Error (Client)",
				zap.String("code", string(appErr.Code)),
				zap.String("message", appErr.Message))
		}

		respondJSON(w, status, toErrorResponse(appErr))
		return
	}

	zap.L().Error("Non-AppError returned (bug)",
		zap.Error(err),
		zap.String("error_type", fmt.Sprintf("%T", err)))

	respondJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error: "An unexpected error occurred. Please try again later.",
		Code:  string(apperrors.CodeInternalError),
	})
}

func toErrorResponse(appErr *apperrors.AppError) *ErrorResponse {
	return &ErrorResponse{
		Error:   appErr.Message,
		Code:    string(appErr.Code),
		Details: appErr.Details,
		Meta:    appErr.Meta,
	}
}

func getUserID(r *http.Request) (string, error) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		return "", apperrors.Unauthorized("User ID not found in authentication context")
	}
	return userID, nil
}

func decodeJSON(r *http.Request, dst interface{}) error {
	return decodeBody(r, dst, false)
}

// decodeOptionalJSON accepts an empty body and leaves dst untouched.
func decodeOptionalJSON(r *http.Request, dst interface{}) error {
	return decodeBody(r, dst, true)
}

func decodeBody(r *http.Request, dst interface{}, optional bool) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperrors.InvalidRequest("Request body too large.")
		}
		return apperrors.InvalidRequestWithDetails("Invalid request body.", err.Error())
	}
	return nil
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperrors.InvalidFieldFormat(key, "an integer")
	}
	return n, nil
}
