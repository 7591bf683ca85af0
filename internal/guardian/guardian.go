// Package guardian answers privilege questions about the acting user.
package guardian

import (
	"context"
	"fmt"
	"slices"

	"reviewqueue/internal/models"
)

// Guardian wraps a possibly-nil user and the ids of the groups it belongs to.
// The zero value and a nil *Guardian are anonymous.
type Guardian struct {
	user     *models.User
	groupIDs []uint
}

// New builds a guardian for user.
func New(user *models.User, groupIDs ...uint) *Guardian {
	ids := slices.Clone(groupIDs)
	slices.Sort(ids)
	return &Guardian{user: user, groupIDs: slices.Compact(ids)}
}

// Anonymous returns a guardian with no user.
func Anonymous() *Guardian {
	return &Guardian{}
}

func (g *Guardian) User() *models.User {
	if g == nil {
		return nil
	}
	return g.user
}

func (g *Guardian) IsAnonymous() bool {
	return g.User() == nil
}

func (g *Guardian) IsAdmin() bool {
	u := g.User()
	return u != nil && u.IsAdmin
}

func (g *Guardian) IsModerator() bool {
	u := g.User()
	return u != nil && u.IsModerator
}

// IsStaff is true for admins and moderators.
func (g *Guardian) IsStaff() bool {
	return g.User().IsStaff()
}

func (g *Guardian) InGroup(groupID uint) bool {
	if g == nil {
		return false
	}
	_, found := slices.BinarySearch(g.groupIDs, groupID)
	return found
}

// GroupIDs returns the sorted group ids.
func (g *Guardian) GroupIDs() []uint {
	if g == nil {
		return nil
	}
	return slices.Clone(g.groupIDs)
}

// CanReview reports whether r is in the guardian's visible set.
func (g *Guardian) CanReview(r *models.Reviewable) bool {
	if r == nil || g.IsAnonymous() {
		return false
	}
	if g.IsAdmin() {
		return true
	}
	if r.ReviewableByModerator && g.IsStaff() {
		return true
	}
	return r.ReviewableByGroupID != nil && g.InGroup(*r.ReviewableByGroupID)
}

// UserSource is the data a Loader needs.
type UserSource interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GroupIDs(ctx context.Context, userID uint) ([]uint, error)
}

// Loader builds guardians from user ids.
type Loader struct {
	users UserSource
}

func NewLoader(users UserSource) *Loader {
	return &Loader{users: users}
}

// Load reads the user and its memberships.
func (l *Loader) Load(ctx context.Context, userID uint) (*Guardian, error) {
	user, err := l.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return l.For(ctx, user)
}

// For builds a guardian for an already loaded user. A nil user is anonymous.
func (l *Loader) For(ctx context.Context, user *models.User) (*Guardian, error) {
	if user == nil {
		return Anonymous(), nil
	}
	groupIDs, err := l.users.GroupIDs(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("load groups for user %d: %w", user.ID, err)
	}
	return New(user, groupIDs...), nil
}
