package models

import "fmt"

// ParticipantStatus is the lifecycle state of a ParticipantRecord.
type ParticipantStatus string

const (
	StatusPending    ParticipantStatus = "pending"
	StatusRegistered ParticipantStatus = "registered"
	StatusApproved   ParticipantStatus = "approved"
	StatusAttended   ParticipantStatus = "attended"
	StatusAbsent     ParticipantStatus = "absent"
	StatusCancelled  ParticipantStatus = "cancelled"
	StatusRejected   ParticipantStatus = "rejected"
)

var AllParticipantStatuses = []ParticipantStatus{
	StatusPending,
	StatusRegistered,
	StatusApproved,
	StatusAttended,
	StatusAbsent,
	StatusCancelled,
	StatusRejected,
}

func ParseParticipantStatus(s string) (ParticipantStatus, error) {
	st := ParticipantStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown participant status %q", s)
	}
	return st, nil
}

func (s ParticipantStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRegistered, StatusApproved,
		StatusAttended, StatusAbsent, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// IsTerminal reports whether no further ordinary transition is allowed.
func (s ParticipantStatus) IsTerminal() bool {
	switch s {
	case StatusAttended, StatusAbsent, StatusCancelled, StatusRejected:
		return true
	case StatusPending, StatusRegistered, StatusApproved:
		return false
	}
	return false
}

// IsEligible reports whether the participant shares the activity cost.
func (s ParticipantStatus) IsEligible() bool {
	switch s {
	case StatusRegistered, StatusApproved, StatusAttended:
		return true
	case StatusPending, StatusAbsent, StatusCancelled, StatusRejected:
		return false
	}
	return false
}

// IsActive is the set covered by the one-live-record-per-user index.
func (s ParticipantStatus) IsActive() bool {
	return s.Valid() && !s.IsTerminal()
}

type BillStatus string

const (
	BillDraft  BillStatus = "draft"
	BillSaved  BillStatus = "saved"
	BillPushed BillStatus = "pushed"
)

func (s BillStatus) Valid() bool {
	switch s {
	case BillDraft, BillSaved, BillPushed:
		return true
	}
	return false
}

// IsOpen reports whether the bill may still be recomputed.
func (s BillStatus) IsOpen() bool {
	switch s {
	case BillDraft, BillSaved:
		return true
	case BillPushed:
		return false
	}
	return false
}

type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPaid     PaymentStatus = "paid"
	PaymentExempted PaymentStatus = "exempted"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentUnpaid, PaymentPaid, PaymentExempted:
		return true
	}
	return false
}
