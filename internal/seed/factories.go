// Package seed provides helpers to create test and demo data for the
// review queue. These helpers are intended for development and testing only.
package seed

import (
	"fmt"
	"log"

	"reviewqueue/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// DefaultPassword is the password of every fabricated user.
const DefaultPassword = "password123"

// FactoryOptions tunes a Factory.
type FactoryOptions struct {
	// SkipBcrypt stores the plain default password, which keeps bulk seeding
	// fast. Never use it against a shared database.
	SkipBcrypt bool
	// Seed fixes the gofakeit source; zero keeps it random.
	Seed int64
}

// Factory builds domain entities and persists them to the database.
type Factory struct {
	db    *gorm.DB
	opts  FactoryOptions
	faker *gofakeit.Faker
}

// NewFactory creates a new Factory bound to the provided Gorm DB.
func NewFactory(db *gorm.DB, opts FactoryOptions) *Factory {
	return &Factory{db: db, opts: opts, faker: gofakeit.New(opts.Seed)}
}

// Faker exposes the generator so callers can fabricate matching content.
func (f *Factory) Faker() *gofakeit.Faker { return f.faker }

func (f *Factory) password() string {
	if f.opts.SkipBcrypt {
		return DefaultPassword
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(DefaultPassword), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("seed: bcrypt failed, storing plain password: %v", err)
		return DefaultPassword
	}
	return string(hashed)
}

// CreateUser constructs and persists a sample user. Overrides run before the
// insert.
func (f *Factory) CreateUser(overrides ...func(*models.User)) (*models.User, error) {
	user := &models.User{
		Username: fmt.Sprintf("%s%d", f.faker.Username(), f.faker.Number(100, 99999)),
		Email:    fmt.Sprintf("%d.%s", f.faker.Number(1000, 999999), f.faker.Email()),
		Password: f.password(),
		Approved: true,
	}
	for _, override := range overrides {
		override(user)
	}

	if err := f.db.Create(user).Error; err != nil {
		return nil, fmt.Errorf("create user %s: %w", user.Username, err)
	}
	return user, nil
}

// CreateModerator creates a user with the moderator flag.
func (f *Factory) CreateModerator(overrides ...func(*models.User)) (*models.User, error) {
	return f.CreateUser(append([]func(*models.User){func(u *models.User) { u.IsModerator = true }}, overrides...)...)
}

// CreateAdmin creates a user with the admin flag.
func (f *Factory) CreateAdmin(overrides ...func(*models.User)) (*models.User, error) {
	return f.CreateUser(append([]func(*models.User){func(u *models.User) { u.IsAdmin = true }}, overrides...)...)
}

// CreateGroup creates a group and adds members to it.
func (f *Factory) CreateGroup(name string, members ...*models.User) (*models.Group, error) {
	if name == "" {
		name = fmt.Sprintf("%s_%d", f.faker.BuzzWord(), f.faker.Number(100, 9999))
	}
	group := &models.Group{Name: name}
	if err := f.db.Create(group).Error; err != nil {
		return nil, fmt.Errorf("create group %s: %w", name, err)
	}
	for _, m := range members {
		if err := f.db.Create(&models.GroupUser{GroupID: group.ID, UserID: m.ID}).Error; err != nil {
			return nil, fmt.Errorf("add user %d to group %s: %w", m.ID, name, err)
		}
	}
	return group, nil
}

// CreateCategory creates a category with a generated name when name is empty.
func (f *Factory) CreateCategory(name string) (*models.Category, error) {
	if name == "" {
		name = fmt.Sprintf("%s %d", f.faker.HipsterWord(), f.faker.Number(100, 9999))
	}
	category := &models.Category{Name: name}
	if err := f.db.Create(category).Error; err != nil {
		return nil, fmt.Errorf("create category %s: %w", name, err)
	}
	return category, nil
}

// QueuedPostPayload fabricates the payload of a queued post.
func (f *Factory) QueuedPostPayload() map[string]any {
	return map[string]any{
		"title": f.faker.Sentence(6),
		"raw":   f.faker.Paragraph(2, 3, 12, "\n\n"),
	}
}

// BuildReviewable returns an unsaved pending reviewable of kind created by
// creator, visible to moderators.
func (f *Factory) BuildReviewable(kind string, creator *models.User, overrides ...func(*models.Reviewable)) *models.Reviewable {
	r := &models.Reviewable{
		Kind:                  kind,
		Status:                models.StatusPending,
		CreatedByID:           creator.ID,
		ReviewableByModerator: true,
		Payload:               map[string]any{},
	}
	for _, override := range overrides {
		override(r)
	}
	return r
}

// CreateReviewable inserts a reviewable directly, bypassing dedup and
// history. Use the service for realistic data.
func (f *Factory) CreateReviewable(kind string, creator *models.User, overrides ...func(*models.Reviewable)) (*models.Reviewable, error) {
	r := f.BuildReviewable(kind, creator, overrides...)
	if err := f.db.Create(r).Error; err != nil {
		return nil, fmt.Errorf("create reviewable %s: %w", kind, err)
	}
	return r, nil
}
