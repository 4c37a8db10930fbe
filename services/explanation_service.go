package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	apperrors "activity-ledger/errors"
	"activity-ledger/models"
	"activity-ledger/repository"

	"go.uber.org/zap"
)

type ExplanationService interface {
	ExplainShare(ctx context.Context, billID, participantID, actorID string) (*models.BillExplanation, error)
}

type explanationService struct {
	billRepo     repository.BillRepository
	activityRepo repository.ActivityRepository
	auth         Authorizer
	generator    TextGenerator

	// pushed bills never change, so their explanations are kept
	mu    sync.RWMutex
	cache map[string]string
}

func NewExplanationService(generator TextGenerator, billRepo repository.BillRepository, activityRepo repository.ActivityRepository, auth Authorizer) ExplanationService {
	return &explanationService{
		billRepo:     billRepo,
		activityRepo: activityRepo,
		auth:         auth,
		generator:    generator,
		cache:        make(map[string]string),
	}
}

func (s *explanationService) ExplainShare(ctx context.Context, billID, participantID, actorID string) (*models.BillExplanation, error) {
	bill, err := s.billRepo.GetByID(ctx, billID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			return nil, apperrors.BillNotFound()
		}
		return nil, apperrors.DatabaseError("getting bill", err)
	}

	var detail *models.BillDetail
	for i := range bill.Details {
		if bill.Details[i].ParticipantID == participantID {
			detail = &bill.Details[i]
			break
		}
	}
	if detail == nil {
		return nil, apperrors.ParticipantNotFound()
	}
	if err := RequireSelfOrManager(ctx, s.auth, bill.ActivityID, detail.UserID, actorID); err != nil {
		return nil, err
	}

	cacheKey := billID + ":" + participantID
	if bill.Status == models.BillPushed {
		s.mu.RLock()
		text, ok := s.cache[cacheKey]
		s.mu.RUnlock()
		if ok {
			return &models.BillExplanation{BillID: billID, ParticipantID: participantID, Explanation: text}, nil
		}
	}

	activity, err := s.activityRepo.GetByID(ctx, bill.ActivityID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			return nil, apperrors.ActivityNotFound()
		}
		return nil, apperrors.DatabaseError("getting activity", err)
	}

	text, err := s.generator.Generate(ctx, buildSharePrompt(activity, bill, detail))
	if err != nil {
		zap.L().Error("Explanation generation failed",
			zap.String("bill_id", billID),
			zap.String("participant_id", participantID),
			zap.Error(err))
		return nil, apperrors.AIServiceError(err)
	}

	if text != "" && bill.Status == models.BillPushed {
		s.mu.Lock()
		s.cache[cacheKey] = text
		s.mu.Unlock()
	}

	return &models.BillExplanation{BillID: billID, ParticipantID: participantID, Explanation: text}, nil
}

func buildSharePrompt(activity *models.Activity, bill *models.Bill, detail *models.BillDetail) string {
	var totals strings.Builder
	fmt.Fprintf(&totals, "Recorded expenses: %s\n", bill.ExpenseTotalCost)
	fmt.Fprintf(&totals, "Base total: %s\n", bill.BaseTotalCost)
	if bill.UseCustomTotalCost && bill.CustomTotalCost != nil {
		fmt.Fprintf(&totals, "Organizer-set total (overrides the base total): %s\n", *bill.CustomTotalCost)
	}
	fmt.Fprintf(&totals, "Total cost: %s\n", bill.TotalCost)
	fmt.Fprintf(&totals, "Organizer contribution: %s\n", bill.OrganizerCost)
	fmt.Fprintf(&totals, "Shared among participants: %s\n", bill.ShareableTotal)
	fmt.Fprintf(&totals, "Participants: %d, total ratio: %s, cost per ratio unit: %s\n",
		bill.ParticipantCount, bill.TotalRatio, bill.AverageCost)

	return fmt.Sprintf(`You explain split bills for a group activity app.

ACTIVITY: %s
Free activity: %t

BILL FIGURES:
%s
THIS PARTICIPANT:
Ratio: %s
Share: %s

Shares are the cost per ratio unit multiplied by each participant's ratio, rounded to cents. Leftover cents from rounding go one each to the earliest participants, or in proportion to ratio when there are many, so shares always add up to the shared amount exactly.

Explain in 2-3 sentences how this participant's share was reached. Mention the organizer contribution or an organizer-set total only if they apply. Be plain and accurate, no greetings or filler.`,
		activity.Title, activity.IsFree, totals.String(), detail.Ratio, detail.ShareCost)
}
