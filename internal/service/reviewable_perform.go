package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"reviewqueue/internal/models"
	"reviewqueue/internal/observability"
	"reviewqueue/internal/reviewable"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// errHandlerFailed rolls back a perform whose handler reported failure.
var errHandlerFailed = errors.New("perform handler failed")

// Perform runs actionID on r for performedBy. The action must be present in
// the catalog computed now for performedBy. The handler, the status change
// and its history entry share one transaction; a failure result rolls all of
// it back and is returned as is. Events are emitted after commit.
func (s *ReviewableService) Perform(ctx context.Context, performedBy *models.User, r *models.Reviewable, actionID string, args reviewable.Args) (*reviewable.PerformResult, error) {
	start := time.Now()

	g, err := s.GuardianFor(ctx, performedBy)
	if err != nil {
		return nil, err
	}
	if !s.ActionsFor(ctx, r, g, args).Has(actionID) {
		return nil, ErrInvalidAccess
	}

	kind, ok := s.registry.Lookup(r.Kind)
	if !ok {
		return nil, ErrInvalidAccess
	}
	handler, ok := kind.Handler(actionID)
	if !ok {
		panic(fmt.Sprintf("reviewable kind %q offers action %q but has no handler for it", r.Kind, actionID))
	}

	ctx, span := observability.StartReviewableSpan(ctx, "perform", r.Kind, r.ID)
	defer span.End()
	span.AddAttributes(attribute.String("reviewable.action", actionID))

	snapshot := *r
	pc := &reviewable.PerformContext{
		Reviewable:  r,
		PerformedBy: performedBy,
		Guardian:    g,
		Args:        args,
	}

	var result *reviewable.PerformResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pc.Tx = tx
		res, err := handler(ctx, pc)
		if err != nil {
			return err
		}
		if res == nil {
			return fmt.Errorf("%s handler for %q returned no result", r.Kind, actionID)
		}
		result = res
		if !res.IsSuccess() {
			return errHandlerFailed
		}
		if res.TransitionTo == nil {
			return nil
		}

		repo := s.reviewables.WithTx(tx)
		if err := repo.UpdateStatus(ctx, r.ID, *res.TransitionTo); err != nil {
			return err
		}
		r.Status = *res.TransitionTo
		return repo.LogHistory(ctx, historyEntry(r, models.HistoryTransitioned, performedBy.ID, nil))
	})

	switch {
	case errors.Is(err, errHandlerFailed):
		*r = snapshot
		observability.ObservePerform(r.Kind, actionID, "failure", start)
		slog.WarnContext(ctx, "reviewable perform failed",
			slog.Uint64("reviewable_id", uint64(r.ID)),
			slog.String("kind", r.Kind),
			slog.String("action", actionID),
			slog.Any("errors", result.Errors),
		)
		return result, nil
	case err != nil:
		*r = snapshot
		span.SetError(err)
		observability.ObservePerform(r.Kind, actionID, "error", start)
		return nil, appError(err)
	}

	observability.ObservePerform(r.Kind, actionID, "success", start)
	for _, e := range pc.PendingEvents() {
		s.bus.Emit(ctx, e)
	}
	if result.TransitionTo != nil {
		observability.ReviewableTransitions.WithLabelValues(r.Kind, r.Status.String()).Inc()
		slog.InfoContext(ctx, "reviewable transitioned",
			slog.Uint64("reviewable_id", uint64(r.ID)),
			slog.String("kind", r.Kind),
			slog.String("action", actionID),
			slog.String("status", r.Status.String()),
		)
		s.bus.Emit(ctx, reviewable.NewEvent(reviewable.EventTransitionedTo, r, map[string]any{
			"status": r.Status.String(),
		}))
	}
	return result, nil
}

// BulkPerformOutcome is the result of one row of a bulk perform.
type BulkPerformOutcome struct {
	ReviewableID uint                     `json:"reviewable_id"`
	TargetID     uint                     `json:"target_id"`
	Result       *reviewable.PerformResult `json:"result,omitempty"`
	Error        string                   `json:"error,omitempty"`
	Err          error                    `json:"-"`
}

// BulkPerformTargets performs action on every reviewable of kind whose target
// is in targetIDs and that performedBy may see. Each row commits on its own;
// a failing row is recorded and the rest continue.
func (s *ReviewableService) BulkPerformTargets(ctx context.Context, performedBy *models.User, action, kind string, targetIDs []uint, args reviewable.Args) ([]BulkPerformOutcome, error) {
	outcomes := []BulkPerformOutcome{}
	if performedBy == nil {
		return outcomes, nil
	}
	g, err := s.GuardianFor(ctx, performedBy)
	if err != nil {
		return nil, err
	}
	rows, err := s.reviewables.FindByTargets(ctx, kind, targetIDs)
	if err != nil {
		return nil, err
	}

	for i := range rows {
		r := &rows[i]
		if !g.CanReview(r) {
			continue
		}
		outcome := BulkPerformOutcome{ReviewableID: r.ID}
		if r.TargetID != nil {
			outcome.TargetID = *r.TargetID
		}
		outcome.Result, outcome.Err = s.Perform(ctx, performedBy, r, action, args)
		if outcome.Err != nil {
			outcome.Error = outcome.Err.Error()
			slog.WarnContext(ctx, "bulk perform skipped reviewable",
				slog.Uint64("reviewable_id", uint64(r.ID)),
				slog.String("action", action),
				slog.String("error", outcome.Error),
			)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// UpdateFieldsInput holds reviewer edits. Payload entries are merged into the
// stored payload key by key; CategoryID applies only when HasCategoryID is
// set, so it can be cleared.
type UpdateFieldsInput struct {
	Payload       map[string]any
	CategoryID    *uint
	HasCategoryID bool
}

// IsEmpty reports whether the input changes nothing.
func (in UpdateFieldsInput) IsEmpty() bool {
	return len(in.Payload) == 0 && !in.HasCategoryID
}

// UpdateFields applies in to r and logs an edited history entry carrying the
// changed columns as [old, new] pairs. On failure r is left as it was and the
// error is a validation AppError with field messages.
func (s *ReviewableService) UpdateFields(ctx context.Context, r *models.Reviewable, in UpdateFieldsInput, performedBy *models.User) (bool, error) {
	if in.IsEmpty() {
		return true, nil
	}
	if performedBy == nil {
		return false, ErrInvalidAccess
	}
	kind, ok := s.registry.Lookup(r.Kind)
	if !ok {
		return false, models.NewValidationError(fmt.Sprintf("Unknown reviewable kind %q", r.Kind))
	}

	ctx, span := observability.StartReviewableSpan(ctx, "update_fields", r.Kind, r.ID)
	defer span.End()

	snapshot := *r
	oldPayload := clonePayload(r.Payload)
	newPayload := clonePayload(r.Payload)
	for k, v := range in.Payload {
		newPayload[k] = v
	}

	diff := map[string][2]any{}
	if !reflect.DeepEqual(oldPayload, newPayload) {
		diff["payload"] = [2]any{oldPayload, newPayload}
	}
	if in.HasCategoryID && !sameID(r.CategoryID, in.CategoryID) {
		diff["category_id"] = [2]any{r.CategoryID, in.CategoryID}
		r.CategoryID = in.CategoryID
	}
	r.Payload = newPayload

	if errs := s.validate(kind, r); errs != nil {
		*r = snapshot
		return false, models.NewFieldValidationError(errs)
	}

	edited, err := json.Marshal(diff)
	if err != nil {
		*r = snapshot
		return false, models.NewFieldValidationError(map[string][]string{"payload": {"must be serializable"}})
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.reviewables.WithTx(tx)
		if err := repo.Save(ctx, r); err != nil {
			return err
		}
		return repo.LogHistory(ctx, historyEntry(r, models.HistoryEdited, performedBy.ID, datatypes.JSON(edited)))
	})
	if err != nil {
		*r = snapshot
		span.SetError(err)
		return false, appError(err)
	}

	slog.InfoContext(ctx, "reviewable edited",
		slog.Uint64("reviewable_id", uint64(r.ID)),
		slog.Int("changed", len(diff)),
	)
	return true, nil
}

func sameID(a, b *uint) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
