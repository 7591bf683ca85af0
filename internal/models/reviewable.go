package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gorm.io/datatypes"
)

// ReviewableStatus is the lifecycle state of a reviewable. The numeric values
// are persisted and must not be reordered.
type ReviewableStatus int

const (
	// StatusPending is the initial state; the item waits for a reviewer.
	StatusPending ReviewableStatus = 0
	// StatusApproved means a reviewer accepted the item.
	StatusApproved ReviewableStatus = 1
	// StatusRejected means a reviewer turned the item down.
	StatusRejected ReviewableStatus = 2
	// StatusIgnored means the item was dismissed without a decision.
	StatusIgnored ReviewableStatus = 3
	// StatusDeleted is a soft state; rows are never hard-deleted.
	StatusDeleted ReviewableStatus = 4
)

var statusNames = map[ReviewableStatus]string{
	StatusPending:  "pending",
	StatusApproved: "approved",
	StatusRejected: "rejected",
	StatusIgnored:  "ignored",
	StatusDeleted:  "deleted",
}

func (s ReviewableStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "status(" + strconv.Itoa(int(s)) + ")"
}

// Valid reports whether s is one of the known statuses.
func (s ReviewableStatus) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// ParseReviewableStatus resolves a status by name or by its numeric value.
func ParseReviewableStatus(raw string) (ReviewableStatus, error) {
	for status, name := range statusNames {
		if name == raw {
			return status, nil
		}
	}
	if n, err := strconv.Atoi(raw); err == nil && ReviewableStatus(n).Valid() {
		return ReviewableStatus(n), nil
	}
	return 0, fmt.Errorf("unknown reviewable status %q", raw)
}

// MarshalJSON renders the status by name.
func (s ReviewableStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts either the name or the numeric value.
func (s *ReviewableStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		parsed, err := ParseReviewableStatus(name)
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("reviewable status must be a string or integer: %w", err)
	}
	if !ReviewableStatus(n).Valid() {
		return fmt.Errorf("unknown reviewable status %d", n)
	}
	*s = ReviewableStatus(n)
	return nil
}

// TargetRef is a weak reference to the entity under review. The referenced
// row belongs to its own store.
type TargetRef struct {
	Type string `json:"type"`
	ID   uint   `json:"id"`
}

// Reviewable is a single item in the review queue. Kind selects the behavior
// registered for it.
type Reviewable struct {
	ID                    uint              `gorm:"primaryKey" json:"id"`
	Kind                  string            `gorm:"size:64;not null;uniqueIndex:idx_reviewables_kind_target,priority:1;index:idx_reviewables_status_kind,priority:2" json:"kind"`
	Status                ReviewableStatus  `gorm:"not null;default:0;index;index:idx_reviewables_status_kind,priority:1" json:"status"`
	CreatedByID           uint              `gorm:"not null;index" json:"created_by_id"`
	CreatedBy             *User             `gorm:"foreignKey:CreatedByID" json:"created_by,omitempty"`
	ReviewableByModerator bool              `gorm:"not null;default:false" json:"reviewable_by_moderator"`
	ReviewableByGroupID   *uint             `gorm:"index" json:"reviewable_by_group_id,omitempty"`
	ClaimedByID           *uint             `json:"claimed_by_id,omitempty"`
	CategoryID            *uint             `gorm:"index" json:"category_id,omitempty"`
	TopicID               *uint             `gorm:"index" json:"topic_id,omitempty"`
	TargetType            *string           `gorm:"size:64" json:"target_type,omitempty"`
	TargetID              *uint             `gorm:"uniqueIndex:idx_reviewables_kind_target,priority:2" json:"target_id,omitempty"`
	Payload               datatypes.JSONMap `json:"payload"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
}

// Target returns the reference to the reviewed entity, or nil when absent.
func (r *Reviewable) Target() *TargetRef {
	if r.TargetType == nil || r.TargetID == nil {
		return nil
	}
	return &TargetRef{Type: *r.TargetType, ID: *r.TargetID}
}

// SetTarget stores or clears the target reference.
func (r *Reviewable) SetTarget(ref *TargetRef) {
	if ref == nil {
		r.TargetType = nil
		r.TargetID = nil
		return
	}
	kind, id := ref.Type, ref.ID
	r.TargetType = &kind
	r.TargetID = &id
}

// PayloadString returns a payload value as a string, or "" when absent.
func (r *Reviewable) PayloadString(key string) string {
	if r.Payload == nil {
		return ""
	}
	switch v := r.Payload[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// HistoryType classifies a history row.
type HistoryType int

const (
	// HistoryCreated is logged once when a reviewable is inserted.
	HistoryCreated HistoryType = 0
	// HistoryTransitioned is logged whenever the status is set.
	HistoryTransitioned HistoryType = 1
	// HistoryEdited is logged after a successful field edit.
	HistoryEdited HistoryType = 2
)

func (t HistoryType) String() string {
	switch t {
	case HistoryCreated:
		return "created"
	case HistoryTransitioned:
		return "transitioned"
	case HistoryEdited:
		return "edited"
	}
	return "history(" + strconv.Itoa(int(t)) + ")"
}

// MarshalJSON renders the history type by name.
func (t HistoryType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// ReviewableHistory is an append-only audit row. Status is the status of the
// reviewable at the moment the row was written.
type ReviewableHistory struct {
	ID           uint             `gorm:"primaryKey" json:"id"`
	ReviewableID uint             `gorm:"not null;index" json:"reviewable_id"`
	HistoryType  HistoryType      `gorm:"not null" json:"history_type"`
	Status       ReviewableStatus `gorm:"not null" json:"status"`
	CreatedByID  uint             `gorm:"not null;index" json:"created_by_id"`
	Edited       datatypes.JSON   `json:"edited,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}
