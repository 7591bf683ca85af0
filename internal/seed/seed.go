package seed

import (
	"context"
	"fmt"
	"log"

	"reviewqueue/internal/database"
	"reviewqueue/internal/kinds"
	"reviewqueue/internal/models"
	"reviewqueue/internal/service"

	"gorm.io/gorm"
)

// Options configures the demo seeder.
type Options struct {
	NumUsers       int
	NumModerators  int
	NumQueuedPosts int
	NumSignups     int
	ShouldClean    bool
	SkipBcrypt     bool
}

// Summary counts what Seed created.
type Summary struct {
	Users       int
	Moderators  int
	Reviewables int
}

// Seed fills the database with a queue to review. Reviewables enter through
// svc so they carry history and fire the usual events.
func Seed(ctx context.Context, db *gorm.DB, svc *service.ReviewableService, opts Options) (*Summary, error) {
	log.Printf("🌱 Seeding %d users, %d moderators, %d queued posts, %d signups...",
		opts.NumUsers, opts.NumModerators, opts.NumQueuedPosts, opts.NumSignups)

	if opts.ShouldClean {
		if err := ClearAll(db); err != nil {
			return nil, err
		}
	}

	f := NewFactory(db, FactoryOptions{SkipBcrypt: opts.SkipBcrypt})
	summary := &Summary{}

	moderators := make([]*models.User, 0, opts.NumModerators)
	for i := 0; i < opts.NumModerators; i++ {
		m, err := f.CreateModerator()
		if err != nil {
			return nil, err
		}
		moderators = append(moderators, m)
	}
	summary.Moderators = len(moderators)

	users := make([]*models.User, 0, opts.NumUsers)
	for i := 0; i < opts.NumUsers; i++ {
		u, err := f.CreateUser()
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	summary.Users = len(users)
	if len(users) == 0 {
		log.Println("✓ no regular users, skipping reviewables")
		return summary, nil
	}

	// Half the regular users triage queued posts alongside the moderators.
	triage, err := f.CreateGroup("triage", users[:len(users)/2]...)
	if err != nil {
		return nil, err
	}
	category, err := f.CreateCategory("")
	if err != nil {
		return nil, err
	}

	for i := 0; i < opts.NumQueuedPosts; i++ {
		author := users[i%len(users)]
		in := service.NeedsReviewInput{
			Kind:                  kinds.KindQueuedPost,
			CreatedBy:             author,
			Payload:               f.QueuedPostPayload(),
			ReviewableByModerator: true,
			CategoryID:            &category.ID,
		}
		if i%2 == 1 {
			in.ReviewableByGroupID = &triage.ID
		}
		if _, err := svc.NeedsReview(ctx, in); err != nil {
			return nil, fmt.Errorf("queue post %d: %w", i, err)
		}
		summary.Reviewables++
	}

	reporter := users[0]
	if len(moderators) > 0 {
		reporter = moderators[0]
	}
	for i := 0; i < opts.NumSignups; i++ {
		signup, err := f.CreateUser(func(u *models.User) { u.Approved = false })
		if err != nil {
			return nil, err
		}
		if _, err := svc.NeedsReview(ctx, service.NeedsReviewInput{
			Kind:                  kinds.KindUser,
			Target:                &models.TargetRef{Type: kinds.TargetUser, ID: signup.ID},
			CreatedBy:             reporter,
			ReviewableByModerator: true,
		}); err != nil {
			return nil, fmt.Errorf("queue signup %s: %w", signup.Username, err)
		}
		summary.Reviewables++
	}

	log.Printf("🎉 Seeded %d users, %d moderators, %d reviewables", summary.Users, summary.Moderators, summary.Reviewables)
	return summary, nil
}

// ClearAll deletes every row of every persistent model, children first.
func ClearAll(db *gorm.DB) error {
	tables := database.PersistentModels()
	for i := len(tables) - 1; i >= 0; i-- {
		if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped().Delete(tables[i]).Error; err != nil {
			return fmt.Errorf("clear %T: %w", tables[i], err)
		}
	}
	return nil
}
