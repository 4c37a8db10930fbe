package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"activity-ledger/database"
	apperrors "activity-ledger/errors"
	"activity-ledger/metrics"
	"activity-ledger/models"
	"activity-ledger/money"
	"activity-ledger/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ParticipationService is the only writer of participant records and their
// application history. Each mutating call runs in one transaction that
// covers the record, its history row and the open bill.
type ParticipationService interface {
	Register(ctx context.Context, activityID, userID string) (*models.ParticipantRecord, error)
	Decide(ctx context.Context, participantID, actorID string, approve bool, reason *string) (*models.ParticipantRecord, error)
	Cancel(ctx context.Context, participantID, actorID string, reason *string) (*models.CancelResult, error)
	MarkAttendance(ctx context.Context, participantID, actorID string, attended, correction bool) (*models.ParticipantRecord, error)
	Override(ctx context.Context, participantID, actorID string, status models.ParticipantStatus, reason string) (*models.ParticipantRecord, error)
	SetRatio(ctx context.Context, participantID, actorID string, ratio money.Money) (*models.ParticipantRecord, error)
	GetByID(ctx context.Context, participantID, actorID string) (*models.ParticipantRecord, error)
	ListByActivity(ctx context.Context, activityID string, status *models.ParticipantStatus) ([]models.ParticipantRecord, error)
}

type participationService struct {
	db              database.Transactor
	activityRepo    repository.ActivityRepository
	participantRepo repository.ParticipantRepository
	historyRepo     repository.HistoryRepository
	outboxRepo      repository.OutboxRepository
	bills           BillRecomputer
	auth            Authorizer
	metrics         *metrics.LedgerMetrics
	now             func() time.Time
}

func NewParticipationService(
	db database.Transactor,
	activityRepo repository.ActivityRepository,
	participantRepo repository.ParticipantRepository,
	historyRepo repository.HistoryRepository,
	outboxRepo repository.OutboxRepository,
	bills BillRecomputer,
	auth Authorizer,
	m *metrics.LedgerMetrics,
) ParticipationService {
	return &participationService{
		db:              db,
		activityRepo:    activityRepo,
		participantRepo: participantRepo,
		historyRepo:     historyRepo,
		outboxRepo:      outboxRepo,
		bills:           bills,
		auth:            auth,
		metrics:         m,
		now:             time.Now,
	}
}

func (s *participationService) Register(ctx context.Context, activityID, userID string) (*models.ParticipantRecord, error) {
	var record *models.ParticipantRecord
	err := s.db.WithTx(ctx, func(q database.Querier) error {
		activity, err := s.lockActivity(ctx, q, activityID)
		if err != nil {
			return err
		}

		existing, err := s.participantRepo.WithTx(q).FindActive(ctx, activityID, userID)
		if err == nil && existing != nil {
			return apperrors.DuplicateRegistration()
		}
		if err != nil && !apperrors.IsNotFoundError(err) {
			return apperrors.DatabaseError("checking existing registration", err)
		}

		status := initialStatus(activity)
		if status.IsEligible() {
			if err := s.checkCapacity(ctx, q, activity); err != nil {
				return err
			}
		}

		now := s.now()
		record = &models.ParticipantRecord{
			ID:           uuid.New().String(),
			ActivityID:   activityID,
			UserID:       userID,
			Status:       status,
			Ratio:        DefaultRatio,
			RegisteredAt: now,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.participantRepo.WithTx(q).Create(ctx, record); err != nil {
			if apperrors.IsConstraintViolation(err, repository.ActiveParticipantIndex) {
				return apperrors.DuplicateRegistration()
			}
			return apperrors.DatabaseError("creating participant", err)
		}

		return s.afterTransition(ctx, q, record, nil, userID, nil)
	})
	if err != nil {
		zap.L().Debug("Registration failed",
			zap.String("activity_id", activityID),
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, serviceError("registering participant", err)
	}

	zap.L().Info("Participant registered",
		zap.String("activity_id", activityID),
		zap.String("participant_id", record.ID),
		zap.String("status", string(record.Status)))
	return record, nil
}

func (s *participationService) Decide(ctx context.Context, participantID, actorID string, approve bool, reason *string) (*models.ParticipantRecord, error) {
	current, err := s.getParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if err := RequireActivityManager(ctx, s.auth, current.ActivityID, actorID); err != nil {
		return nil, err
	}
	if err := checkReasonLength(reason); err != nil {
		return nil, err
	}

	var record *models.ParticipantRecord
	err = s.db.WithTx(ctx, func(q database.Querier) error {
		// approval counts against capacity, so it needs the exclusive lock
		var activity *models.Activity
		var err error
		if approve {
			activity, err = s.lockActivity(ctx, q, current.ActivityID)
		} else {
			activity, err = shareActivity(ctx, s.activityRepo.WithTx(q), current.ActivityID)
		}
		if err != nil {
			return err
		}

		p, err := s.lockParticipant(ctx, q, participantID)
		if err != nil {
			return err
		}

		next, err := decideTransition(p.Status, approve, reason)
		if err != nil {
			return err
		}
		if approve {
			if err := s.checkCapacity(ctx, q, activity); err != nil {
				return err
			}
		}

		old := p.Status
		applyStatusFields(p, next, actorID, reason, s.now())
		if err := s.transition(ctx, q, p, next, actorID, trimmed(reason)); err != nil {
			return err
		}
		record = p
		zap.L().Info("Application decided",
			zap.String("participant_id", participantID),
			zap.String("from", string(old)),
			zap.String("to", string(next)),
			zap.String("actor_id", actorID))
		return nil
	})
	if err != nil {
		return nil, serviceError("deciding application", err)
	}
	return record, nil
}

// Cancel withdraws a live registration. Falling below the activity minimum is
// reported in the result and queued for the activity owner; it never blocks
// the cancellation.
func (s *participationService) Cancel(ctx context.Context, participantID, actorID string, reason *string) (*models.CancelResult, error) {
	current, err := s.getParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if err := RequireSelfOrManager(ctx, s.auth, current.ActivityID, current.UserID, actorID); err != nil {
		return nil, err
	}
	if err := checkReasonLength(reason); err != nil {
		return nil, err
	}

	result := &models.CancelResult{}
	err = s.db.WithTx(ctx, func(q database.Querier) error {
		activity, err := shareActivity(ctx, s.activityRepo.WithTx(q), current.ActivityID)
		if err != nil {
			return err
		}
		p, err := s.lockParticipant(ctx, q, participantID)
		if err != nil {
			return err
		}
		if err := cancelTransition(p.Status); err != nil {
			return err
		}

		wasEligible := p.Status.IsEligible()
		applyStatusFields(p, models.StatusCancelled, actorID, reason, s.now())
		if err := s.transition(ctx, q, p, models.StatusCancelled, actorID, trimmed(reason)); err != nil {
			return err
		}
		result.Participant = p

		if !wasEligible {
			return nil
		}
		signal, err := s.checkMinimum(ctx, q, activity)
		if err != nil {
			return err
		}
		result.UnderMinimum = signal
		return nil
	})
	if err != nil {
		return nil, serviceError("cancelling participation", err)
	}

	s.reportUnderMinimum(result.UnderMinimum)
	zap.L().Info("Participation cancelled",
		zap.String("participant_id", participantID),
		zap.String("actor_id", actorID))
	return result, nil
}

func (s *participationService) MarkAttendance(ctx context.Context, participantID, actorID string, attended, correction bool) (*models.ParticipantRecord, error) {
	current, err := s.getParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if err := RequireActivityManager(ctx, s.auth, current.ActivityID, actorID); err != nil {
		return nil, err
	}

	var record *models.ParticipantRecord
	err = s.db.WithTx(ctx, func(q database.Querier) error {
		if _, err := shareActivity(ctx, s.activityRepo.WithTx(q), current.ActivityID); err != nil {
			return err
		}
		p, err := s.lockParticipant(ctx, q, participantID)
		if err != nil {
			return err
		}

		next, changed, err := attendanceTransition(p.Status, attended, correction)
		if err != nil {
			return err
		}
		record = p
		if !changed {
			return nil
		}

		var reason *string
		if correction && (p.Status == models.StatusAttended || p.Status == models.StatusAbsent) {
			r := "attendance correction"
			reason = &r
		}
		return s.transition(ctx, q, p, next, actorID, reason)
	})
	if err != nil {
		return nil, serviceError("marking attendance", err)
	}
	return record, nil
}

// Override moves a record to any status, bypassing the normal transition
// rules. It still enforces capacity and the one-live-record rule.
func (s *participationService) Override(ctx context.Context, participantID, actorID string, status models.ParticipantStatus, reason string) (*models.ParticipantRecord, error) {
	current, err := s.getParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if err := RequireActivityManager(ctx, s.auth, current.ActivityID, actorID); err != nil {
		return nil, err
	}
	if err := checkReasonLength(&reason); err != nil {
		return nil, err
	}

	var record *models.ParticipantRecord
	var signal *models.UnderMinimumSignal
	err = s.db.WithTx(ctx, func(q database.Querier) error {
		activity, err := s.lockActivity(ctx, q, current.ActivityID)
		if err != nil {
			return err
		}
		p, err := s.lockParticipant(ctx, q, participantID)
		if err != nil {
			return err
		}
		if err := overrideTransition(p.Status, status, reason); err != nil {
			return err
		}
		if status.IsEligible() && !p.Status.IsEligible() {
			if err := s.checkCapacity(ctx, q, activity); err != nil {
				return err
			}
		}

		wasEligible := p.Status.IsEligible()
		r := strings.TrimSpace(reason)
		applyStatusFields(p, status, actorID, &r, s.now())
		if err := s.transition(ctx, q, p, status, actorID, &r); err != nil {
			return err
		}
		record = p

		if status == models.StatusCancelled && wasEligible {
			signal, err = s.checkMinimum(ctx, q, activity)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, serviceError("overriding participant status", err)
	}

	s.reportUnderMinimum(signal)

	zap.L().Info("Participant status overridden",
		zap.String("participant_id", participantID),
		zap.String("status", string(status)),
		zap.String("actor_id", actorID))
	return record, nil
}

// SetRatio changes a participant's cost-sharing weight. It is not a status
// change, so no history row is written, but the open bill is recomputed.
func (s *participationService) SetRatio(ctx context.Context, participantID, actorID string, ratio money.Money) (*models.ParticipantRecord, error) {
	if ratio.IsNegative() {
		return nil, apperrors.InvalidRatio(ratio.String())
	}
	current, err := s.getParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if err := RequireActivityManager(ctx, s.auth, current.ActivityID, actorID); err != nil {
		return nil, err
	}

	var record *models.ParticipantRecord
	err = s.db.WithTx(ctx, func(q database.Querier) error {
		if _, err := shareActivity(ctx, s.activityRepo.WithTx(q), current.ActivityID); err != nil {
			return err
		}
		p, err := s.lockParticipant(ctx, q, participantID)
		if err != nil {
			return err
		}
		p.Ratio = ratio.Round()
		p.UpdatedAt = s.now()
		if err := s.participantRepo.WithTx(q).Update(ctx, p); err != nil {
			return apperrors.DatabaseError("updating ratio", err)
		}
		if _, err := s.bills.RecomputeOpen(ctx, q, p.ActivityID, TriggerParticipant); err != nil {
			return err
		}
		record = p
		return nil
	})
	if err != nil {
		return nil, serviceError("setting ratio", err)
	}
	return record, nil
}

func (s *participationService) GetByID(ctx context.Context, participantID, actorID string) (*models.ParticipantRecord, error) {
	p, err := s.getParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if err := RequireSelfOrManager(ctx, s.auth, p.ActivityID, p.UserID, actorID); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *participationService) ListByActivity(ctx context.Context, activityID string, status *models.ParticipantStatus) ([]models.ParticipantRecord, error) {
	if status != nil && !status.Valid() {
		return nil, apperrors.InvalidFieldFormat("status", "a participant status")
	}
	if _, err := s.activityRepo.GetByID(ctx, activityID); err != nil {
		if apperrors.IsNotFoundError(err) {
			return nil, apperrors.ActivityNotFound()
		}
		return nil, apperrors.DatabaseError("getting activity", err)
	}

	participants, err := s.participantRepo.ListByActivity(ctx, activityID, status)
	if err != nil {
		zap.L().Error("Failed to list participants", zap.String("activity_id", activityID), zap.Error(err))
		return nil, apperrors.DatabaseError("listing participants", err)
	}
	return participants, nil
}

// transition persists p in status next and performs the per-transition side
// effects. Callers set any status-specific fields first.
func (s *participationService) transition(ctx context.Context, q database.Querier, p *models.ParticipantRecord, next models.ParticipantStatus, actorID string, reason *string) error {
	old := p.Status
	p.Status = next
	p.UpdatedAt = s.now()
	if err := s.participantRepo.WithTx(q).Update(ctx, p); err != nil {
		if apperrors.IsConstraintViolation(err, repository.ActiveParticipantIndex) {
			return apperrors.DuplicateRegistration()
		}
		return apperrors.DatabaseError("updating participant", err)
	}
	return s.afterTransition(ctx, q, p, &old, actorID, reason)
}

// afterTransition writes the history row and refreshes the open bill.
func (s *participationService) afterTransition(ctx context.Context, q database.Querier, p *models.ParticipantRecord, old *models.ParticipantStatus, actorID string, reason *string) error {
	entry := &models.ApplicationHistory{
		ID:            uuid.New().String(),
		ActivityID:    p.ActivityID,
		UserID:        p.UserID,
		ParticipantID: p.ID,
		OldStatus:     old,
		NewStatus:     p.Status,
		ChangedBy:     actorID,
		Reason:        reason,
		CreatedAt:     p.UpdatedAt,
	}
	if err := s.historyRepo.WithTx(q).Append(ctx, entry); err != nil {
		return apperrors.DatabaseError("appending history", err)
	}

	if _, err := s.bills.RecomputeOpen(ctx, q, p.ActivityID, TriggerParticipant); err != nil {
		return err
	}

	from := ""
	if old != nil {
		from = string(*old)
	}
	s.metrics.IncTransition(from, string(p.Status))
	return nil
}

func (s *participationService) checkCapacity(ctx context.Context, q database.Querier, activity *models.Activity) error {
	if !activity.EnableParticipantLimit || activity.MaxParticipants == nil {
		return nil
	}
	count, err := s.participantRepo.WithTx(q).CountEligible(ctx, activity.ID)
	if err != nil {
		return apperrors.DatabaseError("counting participants", err)
	}
	if count+1 > *activity.MaxParticipants {
		return apperrors.CapacityExceeded(count, *activity.MaxParticipants)
	}
	return nil
}

// checkMinimum queues an under-minimum signal when the activity's eligible
// count is below its minimum. Callers invoke it only after an eligible record
// left the set.
func (s *participationService) checkMinimum(ctx context.Context, q database.Querier, activity *models.Activity) (*models.UnderMinimumSignal, error) {
	activityID := activity.ID
	if activity.MinParticipants == nil {
		return nil, nil
	}
	count, err := s.participantRepo.WithTx(q).CountEligible(ctx, activityID)
	if err != nil {
		return nil, apperrors.DatabaseError("counting participants", err)
	}
	if count >= *activity.MinParticipants {
		return nil, nil
	}

	signal := &models.UnderMinimumSignal{
		ActivityID:      activityID,
		EligibleCount:   count,
		MinParticipants: *activity.MinParticipants,
	}
	payload, err := json.Marshal(signal)
	if err != nil {
		return nil, apperrors.InternalError(fmt.Errorf("encoding under-minimum signal: %w", err))
	}
	now := s.now()
	event := &models.OutboxEvent{
		ID:         uuid.New().String(),
		Type:       models.EventActivityUnderMinimum,
		ActivityID: activityID,
		Payload:    payload,
		DedupeKey:  fmt.Sprintf("%s:%s:%d", models.EventActivityUnderMinimum, activityID, now.UnixNano()),
		CreatedAt:  now,
	}
	if err := s.outboxRepo.WithTx(q).Publish(ctx, event); err != nil {
		return nil, apperrors.DatabaseError("queueing under-minimum signal", err)
	}
	return signal, nil
}

func (s *participationService) reportUnderMinimum(signal *models.UnderMinimumSignal) {
	if signal == nil {
		return
	}
	s.metrics.IncUnderMinimum()
	zap.L().Warn("Activity below minimum participants",
		zap.String("activity_id", signal.ActivityID),
		zap.Int("eligible", signal.EligibleCount),
		zap.Int("min", signal.MinParticipants))
}

func (s *participationService) getParticipant(ctx context.Context, participantID string) (*models.ParticipantRecord, error) {
	p, err := s.participantRepo.GetByID(ctx, participantID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			return nil, apperrors.ParticipantNotFound()
		}
		zap.L().Error("Failed to get participant", zap.String("participant_id", participantID), zap.Error(err))
		return nil, apperrors.DatabaseError("getting participant", err)
	}
	return p, nil
}

func (s *participationService) lockActivity(ctx context.Context, q database.Querier, activityID string) (*models.Activity, error) {
	activity, err := s.activityRepo.WithTx(q).GetForUpdate(ctx, activityID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			return nil, apperrors.ActivityNotFound()
		}
		return nil, apperrors.DatabaseError("locking activity", err)
	}
	return activity, nil
}

func (s *participationService) lockParticipant(ctx context.Context, q database.Querier, participantID string) (*models.ParticipantRecord, error) {
	p, err := s.participantRepo.WithTx(q).GetForUpdate(ctx, participantID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			return nil, apperrors.ParticipantNotFound()
		}
		return nil, apperrors.DatabaseError("locking participant", err)
	}
	return p, nil
}

func checkReasonLength(reason *string) error {
	if reason != nil && len(*reason) > MaxReasonLength {
		return apperrors.InvalidRequest(fmt.Sprintf("Reason must be at most %d characters.", MaxReasonLength))
	}
	return nil
}
