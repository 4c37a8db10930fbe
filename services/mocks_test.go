package services

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"activity-ledger/database"
	"activity-ledger/models"
	"activity-ledger/repository"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// memStore stands in for Postgres. Transactions are serialized on txMu and
// roll back by restoring a snapshot; mu guards the maps for every call.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	activities   map[string]models.Activity
	managers     map[string]map[string]bool
	participants map[string]models.ParticipantRecord
	history      []models.ApplicationHistory
	expenses     map[string]models.ExpenseLine
	bills        map[string]models.Bill
	billOrder    []string
	payments     []models.BillPayment
	outbox       []models.OutboxEvent
	seq          int64

	// row locks taken, in order, as "kind:id"
	locks []string
}

func newMemStore() *memStore {
	return &memStore{
		activities:   make(map[string]models.Activity),
		managers:     make(map[string]map[string]bool),
		participants: make(map[string]models.ParticipantRecord),
		expenses:     make(map[string]models.ExpenseLine),
		bills:        make(map[string]models.Bill),
	}
}

type memSnapshot struct {
	participants map[string]models.ParticipantRecord
	history      []models.ApplicationHistory
	expenses     map[string]models.ExpenseLine
	bills        map[string]models.Bill
	billOrder    []string
	payments     []models.BillPayment
	outbox       []models.OutboxEvent
	seq          int64
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := memSnapshot{
		participants: make(map[string]models.ParticipantRecord, len(s.participants)),
		history:      append([]models.ApplicationHistory(nil), s.history...),
		expenses:     make(map[string]models.ExpenseLine, len(s.expenses)),
		bills:        make(map[string]models.Bill, len(s.bills)),
		billOrder:    append([]string(nil), s.billOrder...),
		payments:     append([]models.BillPayment(nil), s.payments...),
		outbox:       append([]models.OutboxEvent(nil), s.outbox...),
		seq:          s.seq,
	}
	for k, v := range s.participants {
		snap.participants[k] = v
	}
	for k, v := range s.expenses {
		snap.expenses[k] = v
	}
	for k, v := range s.bills {
		v.Details = append([]models.BillDetail(nil), v.Details...)
		snap.bills[k] = v
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants = snap.participants
	s.history = snap.history
	s.expenses = snap.expenses
	s.bills = snap.bills
	s.billOrder = snap.billOrder
	s.payments = snap.payments
	s.outbox = snap.outbox
	s.seq = snap.seq
}

func (s *memStore) WithTx(ctx context.Context, fn func(database.Querier) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	snap := s.snapshot()
	if err := fn(nil); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *memStore) addActivity(a models.Activity, managers ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities[a.ID] = a
	s.managers[a.ID] = map[string]bool{a.OrganizerID: true}
	for _, m := range managers {
		s.managers[a.ID][m] = true
	}
}

func (s *memStore) historyFor(participantID string) []models.ApplicationHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ApplicationHistory
	for _, h := range s.history {
		if h.ParticipantID == participantID {
			out = append(out, h)
		}
	}
	return out
}

func (s *memStore) outboxEvents(t models.OutboxEventType) []models.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.OutboxEvent
	for _, e := range s.outbox {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (s *memStore) lock(kind, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks = append(s.locks, kind+":"+id)
}

// takeLocks returns the lock trail and clears it.
func (s *memStore) takeLocks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.locks
	s.locks = nil
	return out
}

func noRows(what, id string) error {
	return fmt.Errorf("%s %s: %w", what, id, pgx.ErrNoRows)
}

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint}
}

// activities

type memActivityRepo struct{ s *memStore }

func (r *memActivityRepo) GetByID(ctx context.Context, id string) (*models.Activity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.activities[id]
	if !ok {
		return nil, noRows("activity", id)
	}
	return &a, nil
}

func (r *memActivityRepo) GetForUpdate(ctx context.Context, id string) (*models.Activity, error) {
	r.s.lock("activity-update", id)
	return r.GetByID(ctx, id)
}

func (r *memActivityRepo) GetForShare(ctx context.Context, id string) (*models.Activity, error) {
	r.s.lock("activity-share", id)
	return r.GetByID(ctx, id)
}

func (r *memActivityRepo) IsManager(ctx context.Context, activityID, userID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.managers[activityID][userID], nil
}

func (r *memActivityRepo) WithTx(database.Querier) repository.ActivityRepository { return r }

// participants

type memParticipantRepo struct{ s *memStore }

func (r *memParticipantRepo) conflicts(p *models.ParticipantRecord) bool {
	if !p.Status.IsActive() {
		return false
	}
	for _, other := range r.s.participants {
		if other.ID != p.ID && other.ActivityID == p.ActivityID && other.UserID == p.UserID && other.Status.IsActive() {
			return true
		}
	}
	return false
}

func (r *memParticipantRepo) Create(ctx context.Context, p *models.ParticipantRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.conflicts(p) {
		return uniqueViolation(repository.ActiveParticipantIndex)
	}
	r.s.participants[p.ID] = *p
	return nil
}

func (r *memParticipantRepo) Update(ctx context.Context, p *models.ParticipantRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.participants[p.ID]; !ok {
		return noRows("participant", p.ID)
	}
	if r.conflicts(p) {
		return uniqueViolation(repository.ActiveParticipantIndex)
	}
	r.s.participants[p.ID] = *p
	return nil
}

func (r *memParticipantRepo) GetByID(ctx context.Context, id string) (*models.ParticipantRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.participants[id]
	if !ok {
		return nil, noRows("participant", id)
	}
	return &p, nil
}

func (r *memParticipantRepo) GetForUpdate(ctx context.Context, id string) (*models.ParticipantRecord, error) {
	r.s.lock("participant", id)
	return r.GetByID(ctx, id)
}

func (r *memParticipantRepo) FindActive(ctx context.Context, activityID, userID string) (*models.ParticipantRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.participants {
		if p.ActivityID == activityID && p.UserID == userID && p.Status.IsActive() {
			return &p, nil
		}
	}
	return nil, noRows("active participant", userID)
}

func (r *memParticipantRepo) list(activityID string, keep func(models.ParticipantRecord) bool) []models.ParticipantRecord {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]models.ParticipantRecord, 0)
	for _, p := range r.s.participants {
		if p.ActivityID == activityID && keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].RegisteredAt.Before(out[j].RegisteredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *memParticipantRepo) ListByActivity(ctx context.Context, activityID string, status *models.ParticipantStatus) ([]models.ParticipantRecord, error) {
	return r.list(activityID, func(p models.ParticipantRecord) bool {
		return status == nil || p.Status == *status
	}), nil
}

func (r *memParticipantRepo) ListEligible(ctx context.Context, activityID string) ([]models.ParticipantRecord, error) {
	return r.list(activityID, func(p models.ParticipantRecord) bool { return p.Status.IsEligible() }), nil
}

func (r *memParticipantRepo) CountEligible(ctx context.Context, activityID string) (int, error) {
	eligible, _ := r.ListEligible(ctx, activityID)
	return len(eligible), nil
}

func (r *memParticipantRepo) WithTx(database.Querier) repository.ParticipantRepository { return r }

// history

type memHistoryRepo struct{ s *memStore }

func (r *memHistoryRepo) Append(ctx context.Context, h *models.ApplicationHistory) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.seq++
	h.Seq = r.s.seq
	r.s.history = append(r.s.history, *h)
	return nil
}

func (r *memHistoryRepo) ListByParticipant(ctx context.Context, participantID string) ([]models.ApplicationHistory, error) {
	return r.s.historyFor(participantID), nil
}

func (r *memHistoryRepo) ListByActivity(ctx context.Context, activityID string) ([]models.ApplicationHistory, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.ApplicationHistory
	for _, h := range r.s.history {
		if h.ActivityID == activityID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (r *memHistoryRepo) WithTx(database.Querier) repository.HistoryRepository { return r }

// expenses

type memExpenseRepo struct{ s *memStore }

func (r *memExpenseRepo) GetByID(ctx context.Context, id string) (*models.ExpenseLine, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.expenses[id]
	if !ok {
		return nil, noRows("expense", id)
	}
	return &e, nil
}

func (r *memExpenseRepo) ListByActivity(ctx context.Context, activityID string) ([]models.ExpenseLine, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.ExpenseLine
	for _, e := range r.s.expenses {
		if e.ActivityID == activityID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memExpenseRepo) Create(ctx context.Context, e *models.ExpenseLine) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.expenses[e.ID] = *e
	return nil
}

func (r *memExpenseRepo) UpdateImagePath(ctx context.Context, id string, imagePath *string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.expenses[id]
	if !ok {
		return noRows("expense", id)
	}
	e.ImagePath = imagePath
	r.s.expenses[id] = e
	return nil
}

func (r *memExpenseRepo) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.expenses[id]; !ok {
		return noRows("expense", id)
	}
	delete(r.s.expenses, id)
	return nil
}

func (r *memExpenseRepo) WithTx(database.Querier) repository.ExpenseRepository { return r }

// bills

type memBillRepo struct{ s *memStore }

func copyBill(b models.Bill) *models.Bill {
	b.Details = append([]models.BillDetail(nil), b.Details...)
	return &b
}

func (r *memBillRepo) Create(ctx context.Context, b *models.Bill) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if b.Status.IsOpen() {
		for _, other := range r.s.bills {
			if other.ActivityID == b.ActivityID && other.Status.IsOpen() {
				return uniqueViolation(repository.OpenBillIndex)
			}
		}
	}
	r.s.bills[b.ID] = *copyBill(*b)
	r.s.billOrder = append(r.s.billOrder, b.ID)
	return nil
}

func (r *memBillRepo) Overwrite(ctx context.Context, b *models.Bill) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.bills[b.ID]
	if !ok || !existing.Status.IsOpen() {
		return noRows("open bill", b.ID)
	}
	r.s.bills[b.ID] = *copyBill(*b)
	return nil
}

func (r *memBillRepo) SetStatus(ctx context.Context, id string, from, to models.BillStatus, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bills[id]
	if !ok || b.Status != from {
		return noRows("bill", id)
	}
	b.Status = to
	b.UpdatedAt = at
	r.s.bills[id] = b
	return nil
}

func (r *memBillRepo) MarkPushed(ctx context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bills[id]
	if !ok || b.Status != models.BillSaved {
		return noRows("saved bill", id)
	}
	b.Status = models.BillPushed
	b.PushedAt = &at
	b.UpdatedAt = at
	r.s.bills[id] = b
	return nil
}

func (r *memBillRepo) GetByID(ctx context.Context, id string) (*models.Bill, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bills[id]
	if !ok {
		return nil, noRows("bill", id)
	}
	return copyBill(b), nil
}

func (r *memBillRepo) GetForUpdate(ctx context.Context, id string) (*models.Bill, error) {
	r.s.lock("bill", id)
	return r.GetByID(ctx, id)
}

func (r *memBillRepo) GetOpenForUpdate(ctx context.Context, activityID string) (*models.Bill, error) {
	r.s.lock("open-bill", activityID)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, b := range r.s.bills {
		if b.ActivityID == activityID && b.Status.IsOpen() {
			return copyBill(b), nil
		}
	}
	return nil, noRows("open bill for activity", activityID)
}

func (r *memBillRepo) newestFirst(activityID string) []models.Bill {
	var out []models.Bill
	for i := len(r.s.billOrder) - 1; i >= 0; i-- {
		b := r.s.bills[r.s.billOrder[i]]
		if b.ActivityID == activityID {
			out = append(out, *copyBill(b))
		}
	}
	return out
}

func (r *memBillRepo) GetLatest(ctx context.Context, activityID string) (*models.Bill, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	bills := r.newestFirst(activityID)
	if len(bills) == 0 {
		return nil, noRows("bill for activity", activityID)
	}
	return &bills[0], nil
}

func (r *memBillRepo) ListByActivity(ctx context.Context, activityID string, limit, offset int) ([]models.Bill, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	bills := r.newestFirst(activityID)
	total := len(bills)
	if offset >= total {
		return []models.Bill{}, total, nil
	}
	end := min(offset+limit, total)
	return bills[offset:end], total, nil
}

func (r *memBillRepo) CreatePayments(ctx context.Context, payments []models.BillPayment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.payments = append(r.s.payments, payments...)
	return nil
}

func (r *memBillRepo) ListPayments(ctx context.Context, billID string) ([]models.BillPayment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]models.BillPayment, 0)
	for _, p := range r.s.payments {
		if p.BillID == billID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memBillRepo) GetPaymentForUpdate(ctx context.Context, billID, participantID string) (*models.BillPayment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.payments {
		if p.BillID == billID && p.ParticipantID == participantID {
			return &p, nil
		}
	}
	return nil, noRows("payment", participantID)
}

func (r *memBillRepo) UpdatePayment(ctx context.Context, payment *models.BillPayment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, p := range r.s.payments {
		if p.BillID == payment.BillID && p.ParticipantID == payment.ParticipantID {
			r.s.payments[i] = *payment
			return nil
		}
	}
	return noRows("payment", payment.ParticipantID)
}

func (r *memBillRepo) WithTx(database.Querier) repository.BillRepository { return r }

// outbox

type memOutboxRepo struct{ s *memStore }

func (r *memOutboxRepo) Publish(ctx context.Context, e *models.OutboxEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.outbox {
		if existing.DedupeKey == e.DedupeKey {
			return nil
		}
	}
	r.s.outbox = append(r.s.outbox, *e)
	return nil
}

func (r *memOutboxRepo) ClaimPending(ctx context.Context, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	return nil, nil
}

func (r *memOutboxRepo) MarkPublished(ctx context.Context, id string, at time.Time) error { return nil }

func (r *memOutboxRepo) MarkFailed(ctx context.Context, id string, reason string) error { return nil }

func (r *memOutboxRepo) WithTx(database.Querier) repository.OutboxRepository { return r }

// storage

type memObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	failErr error
}

func newMemObjectStore() *memObjectStore {
	return &memObjectStore{objects: make(map[string][]byte)}
}

func (m *memObjectStore) Upload(ctx context.Context, key string, file io.Reader, contentType string) (string, error) {
	if m.failErr != nil {
		return "", m.failErr
	}
	b, err := io.ReadAll(file)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = b
	return key, nil
}

func (m *memObjectStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *memObjectStore) PublicURL(key string) string { return "https://cdn.test/" + key }

// text generation

type stubGenerator struct {
	mu        sync.Mutex
	prompts   []string
	mimeTypes []string
	reply     string
	err       error
}

func (g *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	return g.reply, g.err
}

func (g *stubGenerator) GenerateFromImage(ctx context.Context, prompt, mimeType string, image []byte) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	g.mimeTypes = append(g.mimeTypes, mimeType)
	return g.reply, g.err
}

func (g *stubGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}
