package kinds

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"reviewqueue/internal/guardian"
	"reviewqueue/internal/models"
	"reviewqueue/internal/reviewable"
	"reviewqueue/internal/validation"

	"github.com/google/uuid"
)

// KindQueuedPost holds a post that waits for approval before it is created.
const KindQueuedPost = "ReviewableQueuedPost"

// Editable field ids of a queued post.
const (
	FieldCategoryID = "category_id"
	FieldTitle      = "payload.title"
	FieldRaw        = "payload.raw"
)

// ReviewableQueuedPost returns the kind that turns an approved payload into
// a post.
func ReviewableQueuedPost(deps Deps) reviewable.Kind {
	return reviewable.Kind{
		Name:                KindQueuedPost,
		BuildActions:        buildQueuedPostActions,
		BuildEditableFields: buildQueuedPostFields,
		Validate:            validateQueuedPost,
		Actions:             []string{reviewable.ActionApprove, reviewable.ActionReject},
		Handlers: map[string]reviewable.Handler{
			reviewable.ActionApprove: approvePost(deps),
			reviewable.ActionReject:  rejectPost(deps),
		},
	}
}

func buildQueuedPostActions(actions *reviewable.Actions, r *models.Reviewable, g *guardian.Guardian, _ reviewable.Args) {
	if !g.IsStaff() {
		return
	}
	if r.Status != models.StatusApproved {
		actions.Add(reviewable.ActionApprove)
	}
	if r.Status != models.StatusRejected {
		actions.Add(reviewable.ActionReject)
	}
}

func buildQueuedPostFields(fields *reviewable.EditableFields, r *models.Reviewable, g *guardian.Guardian, _ reviewable.Args) {
	if !g.IsStaff() {
		return
	}
	// A reply to an existing topic has no title or category of its own.
	if r.TopicID == nil {
		fields.Add(FieldCategoryID, reviewable.FieldCategory)
		fields.Add(FieldTitle, reviewable.FieldText)
	}
	fields.Add(FieldRaw, reviewable.FieldEditor)
}

func validateQueuedPost(r *models.Reviewable) map[string][]string {
	raw, ok := r.Payload["raw"]
	if !ok {
		return map[string][]string{"payload": {"raw can't be blank"}}
	}
	s, ok := raw.(string)
	if !ok {
		return map[string][]string{"payload": {"raw must be text"}}
	}
	if strings.TrimSpace(s) == "" {
		return map[string][]string{"payload": {"raw can't be blank"}}
	}
	if title, ok := r.Payload["title"]; ok {
		if _, isString := title.(string); !isString {
			return map[string][]string{"payload": {"title must be text"}}
		}
	}
	return nil
}

func approvePost(deps Deps) reviewable.Handler {
	return func(ctx context.Context, pc *reviewable.PerformContext) (*reviewable.PerformResult, error) {
		r := pc.Reviewable
		raw := r.PayloadString("raw")
		if err := validation.PostRaw(raw); err != nil {
			return reviewable.Failure(err.Error()), nil
		}

		posts := deps.Posts.WithTx(pc.Tx)
		var topic *models.Topic
		if r.TopicID == nil {
			title := r.PayloadString("title")
			if err := validation.TopicTitle(title); err != nil {
				return reviewable.Failure(err.Error()), nil
			}
			topic = &models.Topic{Title: strings.TrimSpace(title), CategoryID: r.CategoryID, UserID: r.CreatedByID}
			if err := posts.CreateTopic(ctx, topic); err != nil {
				return nil, err
			}
		} else {
			existing, err := posts.GetTopic(ctx, *r.TopicID)
			var appErr *models.AppError
			if errors.As(err, &appErr) && appErr.Code == models.CodeNotFound {
				return reviewable.Failure("The topic no longer exists"), nil
			}
			if err != nil {
				return nil, err
			}
			topic = existing
		}

		post := &models.Post{TopicID: topic.ID, UserID: r.CreatedByID, Raw: raw}
		if err := posts.CreatePost(ctx, post); err != nil {
			return nil, err
		}

		if err := unsilence(ctx, deps, pc, r.CreatedByID); err != nil {
			return nil, err
		}

		if pc.Guardian.IsStaff() {
			postID := post.ID
			if err := logStaffAction(ctx, deps, pc, models.StaffActionPostApproved, &postID,
				fmt.Sprintf("topic %d", topic.ID)); err != nil {
				return nil, err
			}
		}

		pc.Emit(EventApprovedPost, map[string]any{"post_id": post.ID, "topic_id": topic.ID})
		return reviewable.Success(
			reviewable.TransitionTo(models.StatusApproved),
			reviewable.WithArtifact("post", post),
		), nil
	}
}

func rejectPost(deps Deps) reviewable.Handler {
	return func(ctx context.Context, pc *reviewable.PerformContext) (*reviewable.PerformResult, error) {
		if pc.Guardian.IsStaff() {
			if err := logStaffAction(ctx, deps, pc, models.StaffActionPostRejected, nil,
				truncate(pc.Reviewable.PayloadString("raw"), 200)); err != nil {
				return nil, err
			}
		}
		pc.Emit(EventRejectedPost, nil)
		return reviewable.Success(reviewable.TransitionTo(models.StatusRejected)), nil
	}
}

// unsilence lifts an active silence on the author once their post is
// accepted.
func unsilence(ctx context.Context, deps Deps, pc *reviewable.PerformContext, userID uint) error {
	users := deps.Users.WithTx(pc.Tx)
	author, err := users.GetByID(ctx, userID)
	var appErr *models.AppError
	if errors.As(err, &appErr) && appErr.Code == models.CodeNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if !author.IsSilenced(deps.now()) {
		return nil
	}
	return users.UpdateFields(ctx, author.ID, map[string]any{"silenced_till": nil})
}

func logStaffAction(ctx context.Context, deps Deps, pc *reviewable.PerformContext, action models.StaffAction, postID *uint, details string) error {
	reviewableID := pc.Reviewable.ID
	return deps.StaffLog.WithTx(pc.Tx).Create(ctx, &models.StaffActionLog{
		Action:       action,
		ActingUserID: pc.PerformedBy.ID,
		TargetPostID: postID,
		ReviewableID: &reviewableID,
		Details:      details,
	})
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// announceQueuedPost re-emits reviewable_created for queued posts under the
// kind's own event name.
func announceQueuedPost(bus *reviewable.Bus) reviewable.Listener {
	return func(ctx context.Context, e reviewable.Event) error {
		if e.Kind != KindQueuedPost {
			return nil
		}
		bus.Emit(ctx, reviewable.Event{
			ID:           uuid.New(),
			Name:         EventQueuedPostCreated,
			ReviewableID: e.ReviewableID,
			Kind:         e.Kind,
			Status:       e.Status,
			Payload:      e.Payload,
			At:           e.At,
		})
		return nil
	}
}
