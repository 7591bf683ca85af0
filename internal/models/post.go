package models

import (
	"time"

	"gorm.io/gorm"
)

// Category groups topics.
type Category struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:100;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Topic is a thread of posts.
type Topic struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	Title      string         `gorm:"size:255;not null" json:"title"`
	CategoryID *uint          `gorm:"index" json:"category_id,omitempty"`
	UserID     uint           `gorm:"not null;index" json:"user_id"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

// Post represents a post inside a topic.
type Post struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	TopicID   uint           `gorm:"not null;index" json:"topic_id"`
	UserID    uint           `gorm:"not null;index" json:"user_id"`
	Raw       string         `gorm:"type:text;not null" json:"raw"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// StaffAction names an entry in the staff action log.
type StaffAction string

const (
	// StaffActionPostApproved is logged when a queued post is approved.
	StaffActionPostApproved StaffAction = "post_approved"
	// StaffActionPostRejected is logged when a queued post is rejected.
	StaffActionPostRejected StaffAction = "post_rejected"
)

// StaffActionLog is an audit record of a staff decision with side effects
// outside the review queue.
type StaffActionLog struct {
	ID           uint        `gorm:"primaryKey" json:"id"`
	Action       StaffAction `gorm:"size:40;not null;index" json:"action"`
	ActingUserID uint        `gorm:"not null;index" json:"acting_user_id"`
	TargetPostID *uint       `json:"target_post_id,omitempty"`
	ReviewableID *uint       `gorm:"index" json:"reviewable_id,omitempty"`
	Details      string      `gorm:"type:text" json:"details"`
	CreatedAt    time.Time   `json:"created_at"`
}
