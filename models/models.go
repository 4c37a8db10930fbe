package models

import (
	"encoding/json"
	"time"

	"activity-ledger/money"
)

type Activity struct {
	ID                     string       `json:"id" db:"id"`
	Title                  string       `json:"title" db:"title"`
	OrganizerID            string       `json:"organizer_id" db:"organizer_id"`
	RequiresApproval       bool         `json:"requires_approval" db:"requires_approval"`
	IsFree                 bool         `json:"is_free" db:"is_free"`
	EnableParticipantLimit bool         `json:"enable_participant_limit" db:"enable_participant_limit"`
	MinParticipants        *int         `json:"min_participants,omitempty" db:"min_participants"`
	MaxParticipants        *int         `json:"max_participants,omitempty" db:"max_participants"`
	OrganizerCost          money.Money  `json:"organizer_cost" db:"organizer_cost"`
	DeclaredTotalCost      *money.Money `json:"declared_total_cost,omitempty" db:"declared_total_cost"`
	UseCustomTotalCost     bool         `json:"use_custom_total_cost" db:"use_custom_total_cost"`
	CustomTotalCost        *money.Money `json:"custom_total_cost,omitempty" db:"custom_total_cost"`
	PaymentDeadline        *time.Time   `json:"payment_deadline,omitempty" db:"payment_deadline"`
}

type ParticipantRecord struct {
	ID              string            `json:"id" db:"id"`
	ActivityID      string            `json:"activity_id" db:"activity_id"`
	UserID          string            `json:"user_id" db:"user_id"`
	Status          ParticipantStatus `json:"status" db:"status"`
	Ratio           money.Money       `json:"ratio" db:"ratio"`
	RegisteredAt    time.Time         `json:"registered_at" db:"registered_at"`
	CancelledAt     *time.Time        `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CancelledBy     *string           `json:"cancelled_by,omitempty" db:"cancelled_by"`
	RejectedAt      *time.Time        `json:"rejected_at,omitempty" db:"rejected_at"`
	RejectedBy      *string           `json:"rejected_by,omitempty" db:"rejected_by"`
	RejectionReason *string           `json:"rejection_reason,omitempty" db:"rejection_reason"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at" db:"updated_at"`
}

// ApplicationHistory is one status change of a ParticipantRecord. Rows are
// never updated or deleted.
type ApplicationHistory struct {
	ID            string             `json:"id" db:"id"`
	Seq           int64              `json:"seq" db:"seq"`
	ActivityID    string             `json:"activity_id" db:"activity_id"`
	UserID        string             `json:"user_id" db:"user_id"`
	ParticipantID string             `json:"participant_id" db:"participant_id"`
	OldStatus     *ParticipantStatus `json:"old_status,omitempty" db:"old_status"`
	NewStatus     ParticipantStatus  `json:"new_status" db:"new_status"`
	ChangedBy     string             `json:"changed_by" db:"changed_by"`
	Reason        *string            `json:"reason,omitempty" db:"reason"`
	CreatedAt     time.Time          `json:"created_at" db:"created_at"`
}

type ExpenseLine struct {
	ID          string      `json:"id" db:"id"`
	ActivityID  string      `json:"activity_id" db:"activity_id"`
	Item        string      `json:"item" db:"item"`
	Amount      money.Money `json:"amount" db:"amount"`
	ExpenseDate time.Time   `json:"expense_date" db:"expense_date"`
	Description *string     `json:"description,omitempty" db:"description"`
	Payer       *string     `json:"payer,omitempty" db:"payer"`
	ImagePath   *string     `json:"image_path,omitempty" db:"image_path"`
	RecorderID  string      `json:"recorder_id" db:"recorder_id"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
}

type Bill struct {
	ID                 string       `json:"id" db:"id"`
	ActivityID         string       `json:"activity_id" db:"activity_id"`
	CreatorID          string       `json:"creator_id" db:"creator_id"`
	ExpenseTotalCost   money.Money  `json:"expense_total_cost" db:"expense_total_cost"`
	BaseTotalCost      money.Money  `json:"base_total_cost" db:"base_total_cost"`
	UseCustomTotalCost bool         `json:"use_custom_total_cost" db:"use_custom_total_cost"`
	CustomTotalCost    *money.Money `json:"custom_total_cost,omitempty" db:"custom_total_cost"`
	TotalCost          money.Money  `json:"total_cost" db:"total_cost"`
	OrganizerCost      money.Money  `json:"organizer_cost" db:"organizer_cost"`
	ShareableTotal     money.Money  `json:"shareable_total" db:"shareable_total"`
	ParticipantCount   int          `json:"participant_count" db:"participant_count"`
	TotalRatio         money.Money  `json:"total_ratio" db:"total_ratio"`
	AverageCost        money.Money  `json:"average_cost" db:"average_cost"`
	Status             BillStatus   `json:"status" db:"status"`
	ComputationError   *string      `json:"computation_error,omitempty" db:"computation_error"`
	PushedAt           *time.Time   `json:"pushed_at,omitempty" db:"pushed_at"`
	CreatedAt          time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at" db:"updated_at"`
	Details            []BillDetail `json:"bill_details"`
}

type BillDetail struct {
	BillID        string      `json:"-" db:"bill_id"`
	Position      int         `json:"position" db:"position"`
	ParticipantID string      `json:"participant_id" db:"participant_id"`
	UserID        string      `json:"user_id" db:"user_id"`
	Ratio         money.Money `json:"ratio" db:"ratio"`
	ShareCost     money.Money `json:"share_cost" db:"share_cost"`
}

type BillPayment struct {
	BillID        string        `json:"bill_id" db:"bill_id"`
	ParticipantID string        `json:"participant_id" db:"participant_id"`
	UserID        string        `json:"user_id" db:"user_id"`
	Amount        money.Money   `json:"amount" db:"amount"`
	Status        PaymentStatus `json:"status" db:"status"`
	Method        *string       `json:"method,omitempty" db:"method"`
	Note          *string       `json:"note,omitempty" db:"note"`
	PaidAt        *time.Time    `json:"paid_at,omitempty" db:"paid_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
}

// PaymentUpdate is a recipient's or manager's change to one payment row.
type PaymentUpdate struct {
	Status PaymentStatus `json:"status"`
	Method *string       `json:"method,omitempty"`
	Note   *string       `json:"note,omitempty"`
}

type BillPage struct {
	Bills  []Bill `json:"bills"`
	Total  int    `json:"total"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

type PaymentSummary struct {
	BillID      string      `json:"bill_id"`
	Total       int         `json:"total"`
	Paid        int         `json:"paid"`
	Unpaid      int         `json:"unpaid"`
	Exempted    int         `json:"exempted"`
	TotalAmount money.Money `json:"total_amount"`
	PaidAmount  money.Money `json:"paid_amount"`
}

type OutboxEventType string

const (
	EventBillPushed           OutboxEventType = "bill.pushed"
	EventActivityUnderMinimum OutboxEventType = "activity.under_minimum"
)

type OutboxEvent struct {
	ID          string          `json:"id" db:"id"`
	Type        OutboxEventType `json:"event_type" db:"event_type"`
	ActivityID  string          `json:"activity_id" db:"activity_id"`
	Payload     json.RawMessage `json:"payload" db:"payload"`
	DedupeKey   string          `json:"dedupe_key" db:"dedupe_key"`
	Attempts    int             `json:"attempts" db:"attempts"`
	LastError   *string         `json:"last_error,omitempty" db:"last_error"`
	PublishedAt *time.Time      `json:"published_at,omitempty" db:"published_at"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// BillNotification is the payload delivered to each participant when a bill is pushed.
type BillNotification struct {
	ActivityID      string      `json:"activity_id"`
	ActivityTitle   string      `json:"activity_title"`
	BillID          string      `json:"bill_id"`
	ParticipantID   string      `json:"participant_id"`
	UserID          string      `json:"user_id"`
	ShareCost       money.Money `json:"share_cost"`
	Ratio           money.Money `json:"ratio"`
	PaymentDeadline *time.Time  `json:"payment_deadline,omitempty"`
}

// UnderMinimumSignal is advisory: eligible participants dropped below the
// activity's minimum. It never blocks the operation that produced it.
type UnderMinimumSignal struct {
	ActivityID      string `json:"activity_id"`
	EligibleCount   int    `json:"eligible_count"`
	MinParticipants int    `json:"min_participants"`
}

type CancelResult struct {
	Participant  *ParticipantRecord  `json:"participant"`
	UnderMinimum *UnderMinimumSignal `json:"under_minimum,omitempty"`
}

type BillExplanation struct {
	BillID        string `json:"bill_id"`
	ParticipantID string `json:"participant_id"`
	Explanation   string `json:"explanation"`
}

// ExpenseImportPreview is the dry run of a CSV expense import. Rows are
// normalized the way they would be stored.
type ExpenseImportPreview struct {
	Rows        []ExpenseLine `json:"rows"`
	TotalAmount money.Money   `json:"total_amount"`
	Errors      []string      `json:"errors,omitempty"`
}

type ExpenseImportResult struct {
	Imported    int         `json:"imported"`
	TotalAmount money.Money `json:"total_amount"`
	Bill        *Bill       `json:"bill,omitempty"`
}

type ScannedItem struct {
	Name   string      `json:"name"`
	Amount money.Money `json:"amount"`
}

// ReceiptScan holds expense line suggestions read from a receipt image.
// Nothing is stored until the manager records the lines.
type ReceiptScan struct {
	Items      []ScannedItem `json:"items"`
	ItemsTotal money.Money   `json:"items_total"`
	Subtotal   money.Money   `json:"subtotal"`
	Tax        money.Money   `json:"tax"`
	Total      money.Money   `json:"total"`
}
