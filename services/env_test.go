package services

import (
	"sync"
	"testing"
	"time"

	apperrors "activity-ledger/errors"
	"activity-ledger/metrics"
	"activity-ledger/models"
	"activity-ledger/money"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const (
	organizer = "organizer"
	outsider  = "outsider"
	actID     = "act-1"
)

type testEnv struct {
	store        *memStore
	objects      *memObjectStore
	generator    *stubGenerator
	participants *participationService
	bills        *billService
	expenses     *expenseService
	imports      *importService
	receipts     ReceiptService
	history      HistoryService
	explain      ExplanationService
}

// steppingClock returns strictly increasing times so registration order is
// well defined.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newTestEnv(t *testing.T, activity models.Activity) *testEnv {
	t.Helper()

	store := newMemStore()
	if activity.ID == "" {
		activity.ID = actID
	}
	if activity.OrganizerID == "" {
		activity.OrganizerID = organizer
	}
	if activity.Title == "" {
		activity.Title = "Saturday hike"
	}
	store.addActivity(activity)

	activityRepo := &memActivityRepo{s: store}
	participantRepo := &memParticipantRepo{s: store}
	historyRepo := &memHistoryRepo{s: store}
	expenseRepo := &memExpenseRepo{s: store}
	billRepo := &memBillRepo{s: store}
	outboxRepo := &memOutboxRepo{s: store}
	auth := NewAuthorizer(activityRepo)
	m := metrics.NewForRegistry(prometheus.NewRegistry(), metrics.Config{ServiceName: "test"})
	clock := steppingClock()

	bills := NewBillService(store, activityRepo, participantRepo, expenseRepo, billRepo, outboxRepo, auth, m).(*billService)
	bills.now = clock
	participants := NewParticipationService(store, activityRepo, participantRepo, historyRepo, outboxRepo, bills, auth, m).(*participationService)
	participants.now = clock
	objects := newMemObjectStore()
	expenses := NewExpenseService(store, activityRepo, expenseRepo, bills, auth, objects).(*expenseService)
	expenses.now = clock
	imports := NewImportService(store, activityRepo, expenseRepo, bills, auth).(*importService)
	imports.now = clock
	generator := &stubGenerator{reply: "Your share is the cost per ratio unit times your ratio."}

	return &testEnv{
		store:        store,
		objects:      objects,
		generator:    generator,
		participants: participants,
		bills:        bills,
		expenses:     expenses,
		imports:      imports,
		receipts:     NewReceiptService(generator, auth),
		history:      NewHistoryService(participantRepo, historyRepo, auth),
		explain:      NewExplanationService(generator, billRepo, activityRepo, auth),
	}
}

func (e *testEnv) register(t *testing.T, userID string) *models.ParticipantRecord {
	t.Helper()
	p, err := e.participants.Register(t.Context(), actID, userID)
	require.NoError(t, err)
	return p
}

func (e *testEnv) expense(t *testing.T, amount string) *models.ExpenseLine {
	t.Helper()
	line, err := e.expenses.Record(t.Context(), actID, organizer, &models.ExpenseLine{
		Item:   "supplies",
		Amount: money.MustParse(amount),
	})
	require.NoError(t, err)
	return line
}

func requireCode(t *testing.T, err error, code apperrors.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok, "expected AppError, got %v", err)
	require.Equal(t, code, appErr.Code, appErr.Message)
}

func shares(b *models.Bill) []string {
	out := make([]string, len(b.Details))
	for i, d := range b.Details {
		out[i] = d.ShareCost.String()
	}
	return out
}

func ptr[T any](v T) *T { return &v }
