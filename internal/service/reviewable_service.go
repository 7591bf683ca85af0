package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"reviewqueue/internal/database"
	"reviewqueue/internal/featureflags"
	"reviewqueue/internal/guardian"
	"reviewqueue/internal/models"
	"reviewqueue/internal/observability"
	"reviewqueue/internal/repository"
	"reviewqueue/internal/reviewable"
	"reviewqueue/internal/validation"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrInvalidAccess is returned when an action or field is not in the catalog
// computed for the caller.
var ErrInvalidAccess = models.NewForbiddenError("You are not allowed to do that to this reviewable")

// ErrFeatureDisabled is returned by operations behind a disabled flag.
var ErrFeatureDisabled = &models.AppError{Code: models.CodeFeatureDisabled, Message: "This feature is disabled"}

// ReviewableService runs the review queue: creation with dedup, catalogs,
// edits, performs and visibility queries.
type ReviewableService struct {
	db          *gorm.DB
	registry    *reviewable.Registry
	reviewables repository.ReviewableRepository
	users       repository.UserRepository
	guardians   *guardian.Loader
	bus         *reviewable.Bus
	flags       *featureflags.Manager
}

// ReviewableServiceInput carries the dependencies of a ReviewableService. Bus
// and Flags may be nil.
type ReviewableServiceInput struct {
	DB          *gorm.DB
	Registry    *reviewable.Registry
	Reviewables repository.ReviewableRepository
	Users       repository.UserRepository
	Bus         *reviewable.Bus
	Flags       *featureflags.Manager
}

func NewReviewableService(in ReviewableServiceInput) *ReviewableService {
	return &ReviewableService{
		db:          in.DB,
		registry:    in.Registry,
		reviewables: in.Reviewables,
		users:       in.Users,
		guardians:   guardian.NewLoader(in.Users),
		bus:         in.Bus,
		flags:       in.Flags,
	}
}

// Registry returns the kind registry the service dispatches through.
func (s *ReviewableService) Registry() *reviewable.Registry { return s.registry }

// GuardianFor builds the guardian of user.
func (s *ReviewableService) GuardianFor(ctx context.Context, user *models.User) (*guardian.Guardian, error) {
	g, err := s.guardians.For(ctx, user)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return g, nil
}

// NeedsReviewInput describes an item entering the queue.
type NeedsReviewInput struct {
	Kind                  string
	Target                *models.TargetRef
	CreatedBy             *models.User
	Payload               map[string]any
	ReviewableByModerator bool
	ReviewableByGroupID   *uint
	CategoryID            *uint
	TopicID               *uint
}

// NeedsReview creates a pending reviewable, or when one already exists for
// the same kind and target, resets it to pending. The reset skips
// validation and keeps the stored payload.
func (s *ReviewableService) NeedsReview(ctx context.Context, in NeedsReviewInput) (*models.Reviewable, error) {
	kind, ok := s.registry.Lookup(in.Kind)
	if !ok {
		return nil, models.NewValidationError(fmt.Sprintf("Unknown reviewable kind %q", in.Kind))
	}
	if in.CreatedBy == nil || in.CreatedBy.ID == 0 {
		return nil, models.NewValidationError("A reviewable needs a creator")
	}
	if in.Target != nil && kind.TargetType != "" && in.Target.Type != kind.TargetType {
		return nil, models.NewValidationError(fmt.Sprintf("%s reviews %s targets, not %s", kind.Name, kind.TargetType, in.Target.Type))
	}

	ctx, span := observability.StartReviewableSpan(ctx, "needs_review", in.Kind, 0)
	defer span.End()

	r := &models.Reviewable{
		Kind:                  in.Kind,
		Status:                models.StatusPending,
		CreatedByID:           in.CreatedBy.ID,
		ReviewableByModerator: in.ReviewableByModerator,
		ReviewableByGroupID:   in.ReviewableByGroupID,
		CategoryID:            in.CategoryID,
		TopicID:               in.TopicID,
		Payload:               clonePayload(in.Payload),
	}
	r.SetTarget(in.Target)

	if errs := s.validate(kind, r); errs != nil {
		return nil, models.NewFieldValidationError(errs)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.reviewables.WithTx(tx)
		if err := repo.Create(ctx, r); err != nil {
			return err
		}
		return repo.LogHistory(ctx, historyEntry(r, models.HistoryCreated, in.CreatedBy.ID, nil))
	})
	if err == nil {
		observability.ReviewablesCreated.WithLabelValues(r.Kind, observability.OutcomeCreated).Inc()
		slog.InfoContext(ctx, "reviewable created",
			slog.Uint64("reviewable_id", uint64(r.ID)),
			slog.String("kind", r.Kind),
		)
		s.bus.Emit(ctx, reviewable.NewEvent(reviewable.EventCreated, r, nil))
		return r, nil
	}

	if !database.IsUniqueViolation(err) || r.TargetID == nil {
		span.SetError(err)
		return nil, appError(err)
	}

	existing, err := s.reactivate(ctx, in.Kind, *r.TargetID, in.CreatedBy)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	return existing, nil
}

// reactivate runs in its own transaction because the failed insert has
// already aborted the first one on postgres.
func (s *ReviewableService) reactivate(ctx context.Context, kind string, targetID uint, createdBy *models.User) (*models.Reviewable, error) {
	var existing *models.Reviewable
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.reviewables.WithTx(tx)
		if _, err := repo.Reactivate(ctx, kind, targetID); err != nil {
			return err
		}
		found, err := repo.FindByKindAndTarget(ctx, kind, targetID)
		if err != nil {
			return err
		}
		existing = found
		return repo.LogHistory(ctx, historyEntry(found, models.HistoryTransitioned, createdBy.ID, nil))
	})
	if err != nil {
		return nil, appError(err)
	}

	observability.ReviewablesCreated.WithLabelValues(kind, observability.OutcomeReactivated).Inc()
	observability.ReviewableTransitions.WithLabelValues(kind, existing.Status.String()).Inc()
	slog.InfoContext(ctx, "reviewable reactivated",
		slog.Uint64("reviewable_id", uint64(existing.ID)),
		slog.String("kind", kind),
	)
	s.bus.Emit(ctx, reviewable.NewEvent(reviewable.EventTransitionedTo, existing, map[string]any{
		"status": existing.Status.String(),
	}))
	return existing, nil
}

// ActionsFor builds the action catalog for g. It is recomputed on every call.
func (s *ReviewableService) ActionsFor(ctx context.Context, r *models.Reviewable, g *guardian.Guardian, args reviewable.Args) *reviewable.Actions {
	actions := reviewable.NewActions(r, g)
	if kind, ok := s.registry.Lookup(r.Kind); ok && kind.BuildActions != nil {
		kind.BuildActions(actions, r, g, args)
	}
	return actions
}

// EditableFor builds the editable-field catalog for g.
func (s *ReviewableService) EditableFor(ctx context.Context, r *models.Reviewable, g *guardian.Guardian, args reviewable.Args) *reviewable.EditableFields {
	fields := reviewable.NewEditableFields(r, g)
	if kind, ok := s.registry.Lookup(r.Kind); ok && kind.BuildEditableFields != nil {
		kind.BuildEditableFields(fields, r, g, args)
	}
	return fields
}

// ListOptions pages visibility queries.
type ListOptions struct {
	Limit  int
	Offset int
}

func visibilityFor(g *guardian.Guardian) repository.Visibility {
	return repository.Visibility{
		All:      g.IsAdmin(),
		Staff:    g.IsStaff(),
		GroupIDs: g.GroupIDs(),
	}
}

// ViewableBy lists every reviewable user may see, newest first. A nil user
// sees nothing.
func (s *ReviewableService) ViewableBy(ctx context.Context, user *models.User, opts ListOptions) ([]models.Reviewable, error) {
	return s.list(ctx, user, nil, opts)
}

// ListFor is ViewableBy restricted to status, pending when nil.
func (s *ReviewableService) ListFor(ctx context.Context, user *models.User, status *models.ReviewableStatus, opts ListOptions) ([]models.Reviewable, error) {
	if status == nil {
		pending := models.StatusPending
		status = &pending
	}
	return s.list(ctx, user, status, opts)
}

func (s *ReviewableService) list(ctx context.Context, user *models.User, status *models.ReviewableStatus, opts ListOptions) ([]models.Reviewable, error) {
	if user == nil {
		return []models.Reviewable{}, nil
	}
	g, err := s.GuardianFor(ctx, user)
	if err != nil {
		return nil, err
	}
	return s.reviewables.List(ctx, repository.ReviewableFilter{
		Visibility: visibilityFor(g),
		Status:     status,
	}, opts.Limit, opts.Offset)
}

// FindViewable loads reviewable id when user may see it. Hidden rows are
// reported as not found.
func (s *ReviewableService) FindViewable(ctx context.Context, user *models.User, id uint) (*models.Reviewable, error) {
	if user == nil {
		return nil, models.NewNotFoundError("Reviewable", id)
	}
	r, err := s.reviewables.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	g, err := s.GuardianFor(ctx, user)
	if err != nil {
		return nil, err
	}
	if !g.CanReview(r) {
		return nil, models.NewNotFoundError("Reviewable", id)
	}
	return r, nil
}

// History returns the audit trail of r, oldest first.
func (s *ReviewableService) History(ctx context.Context, r *models.Reviewable) ([]models.ReviewableHistory, error) {
	return s.reviewables.History(ctx, r.ID)
}

// PendingCount counts the pending reviewables g may see.
func (s *ReviewableService) PendingCount(ctx context.Context, g *guardian.Guardian) (int64, error) {
	if g.IsAnonymous() {
		return 0, nil
	}
	pending := models.StatusPending
	return s.reviewables.Count(ctx, repository.ReviewableFilter{
		Visibility: visibilityFor(g),
		Status:     &pending,
	})
}

// Claim marks r as handled by user. Claims are advisory.
func (s *ReviewableService) Claim(ctx context.Context, user *models.User, r *models.Reviewable) error {
	return s.setClaim(ctx, user, r, true)
}

// Unclaim clears the claim on r.
func (s *ReviewableService) Unclaim(ctx context.Context, user *models.User, r *models.Reviewable) error {
	return s.setClaim(ctx, user, r, false)
}

func (s *ReviewableService) setClaim(ctx context.Context, user *models.User, r *models.Reviewable, claim bool) error {
	if user == nil {
		return ErrInvalidAccess
	}
	if !s.flags.Enabled(featureflags.ReviewableClaims, user.ID) {
		return ErrFeatureDisabled
	}
	g, err := s.GuardianFor(ctx, user)
	if err != nil {
		return err
	}
	if !g.IsStaff() || !g.CanReview(r) {
		return ErrInvalidAccess
	}

	var claimedBy *uint
	if claim {
		id := user.ID
		claimedBy = &id
	}
	if err := s.reviewables.SetClaimedBy(ctx, r.ID, claimedBy); err != nil {
		return err
	}
	r.ClaimedByID = claimedBy
	return nil
}

func (s *ReviewableService) validate(kind *reviewable.Kind, r *models.Reviewable) map[string][]string {
	errs := validation.Reviewable(r)
	if errs == nil {
		errs = validation.FieldErrors{}
	}
	if kind.Validate != nil {
		for field, msgs := range kind.Validate(r) {
			for _, msg := range msgs {
				errs.Add(field, msg)
			}
		}
	}
	if errs.Empty() {
		return nil
	}
	return errs
}

func historyEntry(r *models.Reviewable, t models.HistoryType, by uint, edited datatypes.JSON) *models.ReviewableHistory {
	return &models.ReviewableHistory{
		ReviewableID: r.ID,
		HistoryType:  t,
		Status:       r.Status,
		CreatedByID:  by,
		Edited:       edited,
		CreatedAt:    time.Now(),
	}
}

func clonePayload(p map[string]any) datatypes.JSONMap {
	out := make(datatypes.JSONMap, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// appError passes AppErrors through and wraps anything else as internal.
func appError(err error) error {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return models.NewInternalError(err)
}
