package services

import (
	"context"

	apperrors "activity-ledger/errors"
	"activity-ledger/repository"
)

// Authorizer decides whether an actor may manage an activity: approve or
// reject applications, record attendance, edit expenses and bills.
type Authorizer interface {
	CanManageActivity(ctx context.Context, activityID, actorID string) (bool, error)
}

type activityAuthorizer struct {
	activityRepo repository.ActivityRepository
}

// NewAuthorizer treats the organizer and any listed activity manager as
// managers.
func NewAuthorizer(activityRepo repository.ActivityRepository) Authorizer {
	return &activityAuthorizer{activityRepo: activityRepo}
}

func (a *activityAuthorizer) CanManageActivity(ctx context.Context, activityID, actorID string) (bool, error) {
	return a.activityRepo.IsManager(ctx, activityID, actorID)
}

func RequireActivityManager(ctx context.Context, auth Authorizer, activityID, actorID string) error {
	ok, err := auth.CanManageActivity(ctx, activityID, actorID)
	if err != nil {
		return apperrors.DatabaseError("checking activity manager", err)
	}
	if !ok {
		return apperrors.NotActivityManager()
	}
	return nil
}

// RequireSelfOrManager lets a user act on their own record, or a manager on
// anyone's.
func RequireSelfOrManager(ctx context.Context, auth Authorizer, activityID, subjectID, actorID string) error {
	if subjectID == actorID {
		return nil
	}
	return RequireActivityManager(ctx, auth, activityID, actorID)
}

// serviceError keeps typed errors and turns anything else into a retryable
// database error.
func serviceError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if apperrors.IsAppError(err) {
		return err
	}
	return apperrors.DatabaseError(operation, err)
}
