package services

import "activity-ledger/money"

// DefaultRatio is the cost-sharing weight of a new participant.
var DefaultRatio = money.One

const (
	DefaultBillPageSize = 20
	MaxBillPageSize     = 100
)

const (
	MaxReasonLength      = 500
	MaxExpenseItemLength = 100
	MaxPaymentNoteLength = 255
)

const (
	GeneralRateLimit = 500
	AIRateLimit      = 8
)

// Recomputation triggers, used as metric labels.
const (
	TriggerParticipant = "participant"
	TriggerExpense     = "expense"
	TriggerManual      = "manual"
)

const (
	MaxImportRows     = 500
	maxReportedErrors = 5
)
