// Package kinds holds the concrete reviewable kinds of the review queue.
package kinds

import (
	"context"
	"fmt"
	"time"

	"reviewqueue/internal/repository"
	"reviewqueue/internal/reviewable"

	"gorm.io/gorm"
)

// Kind-specific events.
const (
	EventQueuedPostCreated = "queued_post_created"
	EventApprovedPost      = "approved_post"
	EventRejectedPost      = "rejected_post"
	EventUserApproved      = "user_approved"
	EventUserRejected      = "user_rejected"
)

// Target types.
const (
	TargetUser = "User"
	TargetPost = "Post"
)

// Deps are the repositories kind handlers write through. Handlers bind them
// to the perform transaction with WithTx.
type Deps struct {
	Users       repository.UserRepository
	Posts       repository.PostRepository
	Reviewables repository.ReviewableRepository
	StaffLog    repository.StaffActionLogRepository
	Now         func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Register installs every kind and target resolver into reg and subscribes
// kind listeners on bus, which may be nil.
func Register(reg *reviewable.Registry, bus *reviewable.Bus, deps Deps) error {
	for _, k := range []reviewable.Kind{ReviewableUser(deps), ReviewableQueuedPost(deps)} {
		if err := reg.Register(k); err != nil {
			return fmt.Errorf("register %s: %w", k.Name, err)
		}
	}

	reg.RegisterTarget(TargetUser, func(ctx context.Context, db *gorm.DB, id uint) (any, error) {
		return deps.Users.WithTx(db).GetByID(ctx, id)
	})
	reg.RegisterTarget(TargetPost, func(ctx context.Context, db *gorm.DB, id uint) (any, error) {
		return deps.Posts.WithTx(db).GetPost(ctx, id)
	})

	if bus != nil {
		bus.Subscribe(reviewable.EventCreated, announceQueuedPost(bus))
	}
	return nil
}
