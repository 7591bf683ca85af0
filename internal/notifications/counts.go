package notifications

import (
	"context"
	"errors"
	"fmt"

	"reviewqueue/internal/cache"
	"reviewqueue/internal/models"
	"reviewqueue/internal/repository"
	"reviewqueue/internal/reviewable"
)

// MessageReviewableCounts is the message type carrying a pending count.
const MessageReviewableCounts = "reviewable_counts"

// CountPayload is the body of a reviewable_counts message.
type CountPayload struct {
	ReviewableCount int64 `json:"reviewable_count"`
}

// ReviewableCounts recomputes pending counts after a lifecycle event and
// publishes them to the users who can see the reviewable: admins first, then
// moderators, then members of the reviewing group. A user hears once.
type ReviewableCounts struct {
	notifier    *Notifier
	reviewables repository.ReviewableRepository
	users       repository.UserRepository
}

func NewReviewableCounts(n *Notifier, reviewables repository.ReviewableRepository, users repository.UserRepository) *ReviewableCounts {
	return &ReviewableCounts{notifier: n, reviewables: reviewables, users: users}
}

// Subscribe attaches the listener to the core lifecycle events.
func (rc *ReviewableCounts) Subscribe(bus *reviewable.Bus) {
	bus.Subscribe(reviewable.EventCreated, rc.Handle)
	bus.Subscribe(reviewable.EventTransitionedTo, rc.Handle)
}

// Handle is the bus listener.
func (rc *ReviewableCounts) Handle(ctx context.Context, e reviewable.Event) error {
	return rc.Notify(ctx, e.ReviewableID)
}

// Notify publishes counts for reviewableID. A missing reviewable is ignored.
func (rc *ReviewableCounts) Notify(ctx context.Context, reviewableID uint) error {
	if !rc.notifier.Enabled() {
		return nil
	}
	r, err := rc.reviewables.GetByID(ctx, reviewableID)
	var appErr *models.AppError
	if errors.As(err, &appErr) && appErr.Code == models.CodeNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	contacted := map[uint]struct{}{}
	pending := models.StatusPending

	admins, err := rc.users.ListAdmins(ctx)
	if err != nil {
		return err
	}
	if err := rc.notifyAll(ctx, admins, contacted, repository.ReviewableFilter{
		Visibility: repository.Visibility{All: true},
		Status:     &pending,
	}); err != nil {
		return err
	}

	if r.ReviewableByModerator {
		mods, err := rc.users.ListModerators(ctx)
		if err != nil {
			return err
		}
		if err := rc.notifyAll(ctx, mods, contacted, repository.ReviewableFilter{
			Visibility:            repository.Visibility{All: true},
			Status:                &pending,
			ReviewableByModerator: true,
		}); err != nil {
			return err
		}
	}

	if r.ReviewableByGroupID != nil {
		return rc.notifyGroup(ctx, *r.ReviewableByGroupID, contacted)
	}
	return nil
}

func (rc *ReviewableCounts) notifyAll(ctx context.Context, users []models.User, contacted map[uint]struct{}, filter repository.ReviewableFilter) error {
	ids := make([]uint, 0, len(users))
	for _, u := range users {
		if _, seen := contacted[u.ID]; seen {
			continue
		}
		ids = append(ids, u.ID)
	}
	if len(ids) == 0 {
		return nil
	}

	count, err := rc.reviewables.Count(ctx, filter)
	if err != nil {
		return err
	}
	if err := rc.notifier.PublishMessage(ctx, countMessage(count), ids...); err != nil {
		return err
	}
	for _, id := range ids {
		contacted[id] = struct{}{}
	}
	return nil
}

// notifyGroup counts per member because each member sees every group they
// belong to.
func (rc *ReviewableCounts) notifyGroup(ctx context.Context, groupID uint, contacted map[uint]struct{}) error {
	members, err := rc.users.GroupMemberIDs(ctx, groupID)
	if err != nil {
		return err
	}
	pending := models.StatusPending
	for _, userID := range members {
		if _, seen := contacted[userID]; seen {
			continue
		}
		groupIDs, err := rc.users.GroupIDs(ctx, userID)
		if err != nil {
			return fmt.Errorf("groups of user %d: %w", userID, err)
		}
		count, err := rc.reviewables.Count(ctx, repository.ReviewableFilter{
			Visibility: repository.Visibility{GroupIDs: groupIDs},
			Status:     &pending,
		})
		if err != nil {
			return err
		}
		if err := rc.notifier.PublishMessage(ctx, countMessage(count), userID); err != nil {
			return err
		}
	}
	return nil
}

func countMessage(count int64) Message {
	return Message{Type: MessageReviewableCounts, Payload: CountPayload{ReviewableCount: count}}
}

// InvalidateCounts orphans every cached pending count. It is meant to be
// subscribed to every bus event.
func InvalidateCounts(ctx context.Context, _ reviewable.Event) error {
	cache.BumpReviewableVersion(ctx)
	return nil
}
