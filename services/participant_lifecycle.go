package services

import (
	"strings"
	"time"

	apperrors "activity-ledger/errors"
	"activity-ledger/models"
)

// The functions in this file are the participant state machine. They decide
// the next status or reject the move; they never touch storage.

func initialStatus(activity *models.Activity) models.ParticipantStatus {
	if activity.RequiresApproval {
		return models.StatusPending
	}
	return models.StatusRegistered
}

func decideTransition(current models.ParticipantStatus, approve bool, reason *string) (models.ParticipantStatus, error) {
	switch current {
	case models.StatusPending:
	case models.StatusRegistered, models.StatusApproved, models.StatusAttended,
		models.StatusAbsent, models.StatusCancelled, models.StatusRejected:
		return "", apperrors.NotPending(string(current))
	default:
		return "", apperrors.InvalidTransition(string(current), "decided")
	}

	if approve {
		return models.StatusApproved, nil
	}
	if blank(reason) {
		return "", apperrors.MissingReason()
	}
	return models.StatusRejected, nil
}

func cancelTransition(current models.ParticipantStatus) error {
	switch current {
	case models.StatusPending, models.StatusRegistered, models.StatusApproved:
		return nil
	case models.StatusAttended, models.StatusAbsent, models.StatusCancelled, models.StatusRejected:
		return apperrors.AlreadyTerminal(string(current))
	}
	return apperrors.InvalidTransition(string(current), string(models.StatusCancelled))
}

// attendanceTransition returns the next status and whether anything changes.
// Re-marking the same value is a no-op.
func attendanceTransition(current models.ParticipantStatus, attended, correction bool) (models.ParticipantStatus, bool, error) {
	target := models.StatusAbsent
	if attended {
		target = models.StatusAttended
	}

	switch current {
	case models.StatusRegistered, models.StatusApproved:
		return target, true, nil
	case models.StatusAttended, models.StatusAbsent:
		if current == target {
			return current, false, nil
		}
		if !correction {
			return "", false, apperrors.AlreadyFinalized(string(current))
		}
		return target, true, nil
	case models.StatusPending, models.StatusCancelled, models.StatusRejected:
		return "", false, apperrors.InvalidTransition(string(current), string(target))
	}
	return "", false, apperrors.InvalidTransition(string(current), string(target))
}

// overrideTransition is the administrative path: any valid status other than
// the current one, always with a reason.
func overrideTransition(current, next models.ParticipantStatus, reason string) error {
	if !next.Valid() {
		return apperrors.InvalidFieldFormat("status", "one of pending, registered, approved, attended, absent, cancelled, rejected")
	}
	if strings.TrimSpace(reason) == "" {
		return apperrors.MissingReason()
	}
	if current == next {
		return apperrors.InvalidTransition(string(current), string(next))
	}
	return nil
}

// applyStatusFields sets or clears the cancellation and rejection columns so
// they describe the record's current status.
func applyStatusFields(p *models.ParticipantRecord, next models.ParticipantStatus, actorID string, reason *string, t time.Time) {
	switch next {
	case models.StatusCancelled:
		p.CancelledAt = &t
		p.CancelledBy = &actorID
	case models.StatusRejected:
		p.RejectedAt = &t
		p.RejectedBy = &actorID
		p.RejectionReason = trimmed(reason)
	case models.StatusPending, models.StatusRegistered, models.StatusApproved:
		p.CancelledAt, p.CancelledBy = nil, nil
		p.RejectedAt, p.RejectedBy, p.RejectionReason = nil, nil, nil
	case models.StatusAttended, models.StatusAbsent:
	}
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

func trimmed(s *string) *string {
	if blank(s) {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
