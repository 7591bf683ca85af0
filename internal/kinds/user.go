package kinds

import (
	"context"
	"errors"

	"reviewqueue/internal/guardian"
	"reviewqueue/internal/models"
	"reviewqueue/internal/reviewable"
)

// KindUser reviews a newly registered account.
const KindUser = "ReviewableUser"

// ReviewableUser returns the kind that approves or rejects user accounts.
func ReviewableUser(deps Deps) reviewable.Kind {
	return reviewable.Kind{
		Name:         KindUser,
		TargetType:   TargetUser,
		BuildActions: buildUserActions,
		Actions:      []string{reviewable.ActionApprove, reviewable.ActionReject},
		Handlers: map[string]reviewable.Handler{
			reviewable.ActionApprove: approveUser(deps),
			reviewable.ActionReject:  rejectUser(deps),
		},
	}
}

func buildUserActions(actions *reviewable.Actions, r *models.Reviewable, g *guardian.Guardian, _ reviewable.Args) {
	if !g.IsStaff() || r.Status != models.StatusPending {
		return
	}
	actions.Add(reviewable.ActionApprove)
	actions.Add(reviewable.ActionReject)
}

func targetUser(ctx context.Context, deps Deps, pc *reviewable.PerformContext) (*models.User, error) {
	ref := pc.Reviewable.Target()
	if ref == nil {
		return nil, nil
	}
	user, err := deps.Users.WithTx(pc.Tx).GetByID(ctx, ref.ID)
	var appErr *models.AppError
	if errors.As(err, &appErr) && appErr.Code == models.CodeNotFound {
		return nil, nil
	}
	return user, err
}

func approveUser(deps Deps) reviewable.Handler {
	return func(ctx context.Context, pc *reviewable.PerformContext) (*reviewable.PerformResult, error) {
		user, err := targetUser(ctx, deps, pc)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return reviewable.Failure("The user no longer exists"), nil
		}

		now := deps.now()
		if err := deps.Users.WithTx(pc.Tx).UpdateFields(ctx, user.ID, map[string]any{
			"approved":       true,
			"approved_by_id": pc.PerformedBy.ID,
			"approved_at":    now,
		}); err != nil {
			return nil, err
		}

		pc.Emit(EventUserApproved, map[string]any{"user_id": user.ID})
		return reviewable.Success(
			reviewable.TransitionTo(models.StatusApproved),
			reviewable.WithArtifact("user_id", user.ID),
		), nil
	}
}

func rejectUser(deps Deps) reviewable.Handler {
	return func(ctx context.Context, pc *reviewable.PerformContext) (*reviewable.PerformResult, error) {
		user, err := targetUser(ctx, deps, pc)
		if err != nil {
			return nil, err
		}
		if user != nil {
			if user.IsStaff() {
				return reviewable.Failure("Staff accounts can't be rejected"), nil
			}
			if err := deps.Users.WithTx(pc.Tx).Delete(ctx, user.ID); err != nil {
				return nil, err
			}
		}

		pc.Reviewable.SetTarget(nil)
		if err := deps.Reviewables.WithTx(pc.Tx).Save(ctx, pc.Reviewable); err != nil {
			return nil, err
		}

		payload := map[string]any{}
		if user != nil {
			payload["user_id"] = user.ID
			payload["username"] = user.Username
		}
		pc.Emit(EventUserRejected, payload)
		return reviewable.Success(reviewable.TransitionTo(models.StatusRejected)), nil
	}
}
