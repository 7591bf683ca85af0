// Package models contains the persistent entities of the review queue.
package models

import (
	"time"

	"gorm.io/gorm"
)

// User is an account that can raise reviewables, review them, or be reviewed.
type User struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Username     string         `gorm:"uniqueIndex;size:60;not null" json:"username"`
	Email        string         `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Password     string         `gorm:"not null" json:"-"`
	IsAdmin      bool           `gorm:"not null;default:false" json:"is_admin"`
	IsModerator  bool           `gorm:"not null;default:false" json:"is_moderator"`
	Approved     bool           `gorm:"not null;default:false" json:"approved"`
	ApprovedByID *uint          `json:"approved_by_id,omitempty"`
	ApprovedAt   *time.Time     `json:"approved_at,omitempty"`
	SilencedTill *time.Time     `json:"silenced_till,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

// IsStaff reports whether the user is an admin or a moderator.
func (u *User) IsStaff() bool {
	return u != nil && (u.IsAdmin || u.IsModerator)
}

// IsSilenced reports whether the user is silenced at the given instant.
func (u *User) IsSilenced(now time.Time) bool {
	return u != nil && u.SilencedTill != nil && u.SilencedTill.After(now)
}

// Group is a named set of users that can be handed reviewables.
type Group struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:100;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GroupUser is a membership row.
type GroupUser struct {
	GroupID   uint      `gorm:"primaryKey" json:"group_id"`
	UserID    uint      `gorm:"primaryKey;index" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName keeps the join table name stable.
func (GroupUser) TableName() string {
	return "group_users"
}
