package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	apperrors "activity-ledger/errors"
	"activity-ledger/middleware"
	"activity-ledger/models"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUserHeader = "X-Test-User"

type testServer struct {
	router       http.Handler
	participants *stubParticipation
	bills        *stubBills
	expenses     *stubExpenses
	explain      *stubExplanation
	imports      *stubImport
	receipts     *stubReceipts
}

func newTestServer() *testServer {
	ts := &testServer{
		participants: &stubParticipation{},
		bills:        &stubBills{},
		expenses:     &stubExpenses{},
		explain:      &stubExplanation{text: "You paid a third."},
		imports:      &stubImport{preview: &models.ExpenseImportPreview{}},
		receipts:     &stubReceipts{},
	}
	h := NewHandlers(ts.participants, ts.bills, ts.expenses, &stubHistory{}, ts.explain, ts.imports, ts.receipts)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if user := r.Header.Get(testUserHeader); user != "" {
				r = r.WithContext(context.WithValue(r.Context(), middleware.UserIDKey, user))
			}
			next.ServeHTTP(w, r)
		})
	})
	h.RegisterRoutes(r)
	h.RegisterAIRoutes(r)
	ts.router = r
	return ts
}

func (ts *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(testUserHeader, "user-1")
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHandleError(t *testing.T) {
	t.Run("app error keeps status, code and meta", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handleError(rec, apperrors.CapacityExceeded(2, 2))

		assert.Equal(t, http.StatusConflict, rec.Code)
		resp := decodeError(t, rec)
		assert.Equal(t, string(apperrors.CodeCapacityExceeded), resp.Code)
		assert.EqualValues(t, 2, resp.Meta["max"])
		assert.EqualValues(t, 2, resp.Meta["current"])
	})

	t.Run("wrapped app error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handleError(rec, errors.Join(errors.New("ctx"), apperrors.BillNotFound()))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, string(apperrors.CodeBillNotFound), decodeError(t, rec).Code)
	})

	t.Run("plain error is hidden", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handleError(rec, errors.New("pq: connection refused"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		resp := decodeError(t, rec)
		assert.Equal(t, string(apperrors.CodeInternalError), resp.Code)
		assert.NotContains(t, resp.Error, "connection refused")
	})
}

func TestRequiresAuthenticatedUser(t *testing.T) {
	ts := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/activities/act-1/participants", nil)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, string(apperrors.CodeUnauthorized), decodeError(t, rec).Code)
}

func TestRegister(t *testing.T) {
	ts := newTestServer()
	rec := ts.do(t, http.MethodPost, "/activities/act-1/participants", "")

	require.Equal(t, http.StatusCreated, rec.Code)
	var record models.ParticipantRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, "act-1", record.ActivityID)
	assert.Equal(t, "user-1", record.UserID)

	ts.participants.err = apperrors.DuplicateRegistration()
	rec = ts.do(t, http.MethodPost, "/activities/act-1/participants", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListParticipantsStatusFilter(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(t, http.MethodGet, "/activities/act-1/participants?status=approved", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, ts.participants.gotFilter)
	assert.Equal(t, models.StatusApproved, *ts.participants.gotFilter)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/activities/act-1/participants?status=waitlisted", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(apperrors.CodeInvalidFieldFormat), decodeError(t, rec).Code)
}

func TestDecideApplication(t *testing.T) {
	ts := newTestServer()
	ts.participants.record = &models.ParticipantRecord{ID: "p-1", Status: models.StatusRejected}

	rec := ts.do(t, http.MethodPost, "/participants/p-1/decision", `{"reason":"late"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(apperrors.CodeMissingRequiredField), decodeError(t, rec).Code)

	rec = ts.do(t, http.MethodPost, "/participants/p-1/decision", `{"approve":false,"reason":"late"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, ts.participants.gotApprove)
	require.NotNil(t, ts.participants.gotReason)
	assert.Equal(t, "late", *ts.participants.gotReason)

	rec = ts.do(t, http.MethodPost, "/participants/p-1/decision", `{"approve":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelParticipation(t *testing.T) {
	t.Run("empty body", func(t *testing.T) {
		ts := newTestServer()
		ts.participants.cancelResult = &models.CancelResult{
			Participant: &models.ParticipantRecord{ID: "p-1", Status: models.StatusCancelled},
		}

		rec := ts.do(t, http.MethodPost, "/participants/p-1/cancel", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Nil(t, ts.participants.gotReason)

		var resp CancelResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, models.StatusCancelled, resp.Participant.Status)
		assert.Nil(t, resp.Warning)
		assert.Nil(t, resp.UnderMinimum)
	})

	t.Run("under minimum carries warning", func(t *testing.T) {
		ts := newTestServer()
		ts.participants.cancelResult = &models.CancelResult{
			Participant: &models.ParticipantRecord{ID: "p-1", Status: models.StatusCancelled},
			UnderMinimum: &models.UnderMinimumSignal{
				ActivityID: "act-1", EligibleCount: 2, MinParticipants: 3,
			},
		}

		rec := ts.do(t, http.MethodPost, "/participants/p-1/cancel", `{"reason":"sick"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp CancelResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotNil(t, resp.Warning)
		assert.Equal(t, string(apperrors.CodeUnderMinimumParticipants), resp.Warning.Code)
		assert.EqualValues(t, 3, resp.Warning.Meta["min"])
		require.NotNil(t, resp.UnderMinimum)
		assert.Equal(t, 2, resp.UnderMinimum.EligibleCount)
	})
}

func TestListBillsPagination(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(t, http.MethodGet, "/activities/act-1/bills", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20, ts.bills.gotLimit)
	assert.Equal(t, 0, ts.bills.gotOffset)

	rec = ts.do(t, http.MethodGet, "/activities/act-1/bills?limit=5&offset=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, ts.bills.gotLimit)
	assert.Equal(t, 10, ts.bills.gotOffset)

	rec = ts.do(t, http.MethodGet, "/activities/act-1/bills?limit=ten", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPushBillErrors(t *testing.T) {
	ts := newTestServer()
	ts.bills.err = apperrors.InvalidBillState("pushed")

	rec := ts.do(t, http.MethodPost, "/bills/b-1/push", "")
	assert.Equal(t, string(apperrors.CodeInvalidBillState), decodeError(t, rec).Code)
}

func TestRecordPayment(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(t, http.MethodPut, "/bills/b-1/payments/p-2", `{"status":"paid","method":"cash"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.PaymentPaid, ts.bills.gotUpdate.Status)
	require.NotNil(t, ts.bills.gotUpdate.Method)
	assert.Equal(t, "cash", *ts.bills.gotUpdate.Method)

	var payment models.BillPayment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payment))
	assert.Equal(t, "p-2", payment.ParticipantID)
}

func TestRecordExpense(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(t, http.MethodPost, "/activities/act-1/expenses", `{"item":"Court hire"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(apperrors.CodeMissingRequiredField), decodeError(t, rec).Code)

	rec = ts.do(t, http.MethodPost, "/activities/act-1/expenses", `{"item":"Court hire","amount":"120.50"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, ts.expenses.recorded)
	assert.Equal(t, "120.50", ts.expenses.recorded.Amount.String())
	assert.True(t, ts.expenses.recorded.ExpenseDate.IsZero())
}

func TestDeleteExpense(t *testing.T) {
	ts := newTestServer()
	rec := ts.do(t, http.MethodDelete, "/expenses/e-1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	ts.expenses.err = apperrors.ExpenseNotFound()
	rec = ts.do(t, http.MethodDelete, "/expenses/e-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func (ts *testServer) upload(t *testing.T, target, filename, contentType, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(testUserHeader, "user-1")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func TestUploadReceipt(t *testing.T) {
	ts := newTestServer()
	rec := ts.upload(t, "/expenses/e-1/receipt", "receipt.png", "image/png", "png-bytes")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "receipt.png", ts.expenses.gotFilename)
	assert.Equal(t, "image/png", ts.expenses.gotContentType)
	assert.Equal(t, "png-bytes", string(ts.expenses.gotBody))
}

func TestUploadReceiptMissingFile(t *testing.T) {
	ts := newTestServer()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "no file here"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/expenses/e-1/receipt", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(testUserHeader, "user-1")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(apperrors.CodeMissingRequiredField), decodeError(t, rec).Code)
}

func TestExplainShare(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(t, http.MethodPost, "/bills/b-1/participants/p-1/explain", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"bill_id":"b-1","participant_id":"p-1","explanation":"You paid a third."}`, rec.Body.String())

	ts.explain.err = apperrors.AIServiceError(errors.New("quota"))
	rec = ts.do(t, http.MethodPost, "/bills/b-1/participants/p-1/explain", "")
	assert.Equal(t, string(apperrors.CodeAIServiceError), decodeError(t, rec).Code)
}

func TestExpenseImport(t *testing.T) {
	ts := newTestServer()

	rec := ts.upload(t, "/activities/act-1/expenses/import/preview", "expenses.csv", "application/octet-stream", "item,amount\nFuel,10\n")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "item,amount\nFuel,10\n", ts.imports.gotBody)

	rec = ts.upload(t, "/activities/act-1/expenses/import/preview", "expenses.xlsx", "application/zip", "PK")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(apperrors.CodeInvalidFieldFormat), decodeError(t, rec).Code)

	rec = ts.upload(t, "/activities/act-1/expenses/import", "expenses", "text/csv", "item,amount\nFuel,10\n")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"imported":1,"total_amount":"0.00"}`, rec.Body.String())
}

func TestScanReceipt(t *testing.T) {
	ts := newTestServer()

	rec := ts.upload(t, "/activities/act-1/expenses/scan", "receipt.jpg", "image/jpeg", "jpg")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", ts.receipts.gotContentType)
	assert.Contains(t, rec.Body.String(), "Court hire")
}
