package services

import (
	"context"
	"fmt"

	apperrors "activity-ledger/errors"
	"activity-ledger/models"
	"activity-ledger/repository"

	"go.uber.org/zap"
)

// HistoryService reads the application audit trail. Rows come back in the
// order they were written.
type HistoryService interface {
	ListByParticipant(ctx context.Context, participantID, actorID string) ([]models.ApplicationHistory, error)
	ListByActivity(ctx context.Context, activityID, actorID string) ([]models.ApplicationHistory, error)
}

type historyService struct {
	participantRepo repository.ParticipantRepository
	historyRepo     repository.HistoryRepository
	auth            Authorizer
}

func NewHistoryService(participantRepo repository.ParticipantRepository, historyRepo repository.HistoryRepository, auth Authorizer) HistoryService {
	return &historyService{
		participantRepo: participantRepo,
		historyRepo:     historyRepo,
		auth:            auth,
	}
}

func (s *historyService) ListByParticipant(ctx context.Context, participantID, actorID string) ([]models.ApplicationHistory, error) {
	p, err := s.participantRepo.GetByID(ctx, participantID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			return nil, apperrors.ParticipantNotFound()
		}
		return nil, apperrors.DatabaseError("getting participant", err)
	}
	if err := RequireSelfOrManager(ctx, s.auth, p.ActivityID, p.UserID, actorID); err != nil {
		return nil, err
	}

	rows, err := s.historyRepo.ListByParticipant(ctx, participantID)
	if err != nil {
		zap.L().Error("Failed to list history", zap.String("participant_id", participantID), zap.Error(err))
		return nil, apperrors.DatabaseError("listing history", err)
	}
	if rows == nil {
		rows = []models.ApplicationHistory{}
	}
	return rows, nil
}

func (s *historyService) ListByActivity(ctx context.Context, activityID, actorID string) ([]models.ApplicationHistory, error) {
	if err := RequireActivityManager(ctx, s.auth, activityID, actorID); err != nil {
		return nil, err
	}

	rows, err := s.historyRepo.ListByActivity(ctx, activityID)
	if err != nil {
		zap.L().Error("Failed to list history", zap.String("activity_id", activityID), zap.Error(err))
		return nil, apperrors.DatabaseError("listing history", err)
	}
	if rows == nil {
		rows = []models.ApplicationHistory{}
	}
	return rows, nil
}

// ValidateChain checks that each participant's rows form an unbroken chain:
// the first has no old status and every later old status equals the
// previous new status. rows must be in write order; several participants
// may be interleaved.
func ValidateChain(rows []models.ApplicationHistory) error {
	last := make(map[string]models.ParticipantStatus)
	for i, h := range rows {
		prev, seen := last[h.ParticipantID]
		switch {
		case !seen && h.OldStatus != nil:
			return fmt.Errorf("row %d: first entry for participant %s has old status %s", i, h.ParticipantID, *h.OldStatus)
		case seen && h.OldStatus == nil:
			return fmt.Errorf("row %d: participant %s restarts its chain", i, h.ParticipantID)
		case seen && *h.OldStatus != prev:
			return fmt.Errorf("row %d: participant %s moves from %s but was %s", i, h.ParticipantID, *h.OldStatus, prev)
		}
		last[h.ParticipantID] = h.NewStatus
	}
	return nil
}
