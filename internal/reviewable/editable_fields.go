package reviewable

import (
	"fmt"
	"strings"

	"reviewqueue/internal/guardian"
	"reviewqueue/internal/models"
)

// FieldType tells a client which widget edits a field.
type FieldType string

const (
	FieldCategory FieldType = "category"
	FieldText     FieldType = "text"
	FieldEditor   FieldType = "editor"
)

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	switch t {
	case FieldCategory, FieldText, FieldEditor:
		return true
	}
	return false
}

const payloadPrefix = "payload."

// EditableField describes a field a reviewer may change. IDs beginning with
// "payload." name a key inside the payload map; anything else is a column.
type EditableField struct {
	ID   string    `json:"id"`
	Type FieldType `json:"type"`
}

// ItemID implements Item.
func (f EditableField) ItemID() string { return f.ID }

// IsPayload reports whether the field lives inside the payload map.
func (f EditableField) IsPayload() bool {
	return strings.HasPrefix(f.ID, payloadPrefix)
}

// PayloadKey returns the payload key for payload fields and "" otherwise.
func (f EditableField) PayloadKey() string {
	if !f.IsPayload() {
		return ""
	}
	return strings.TrimPrefix(f.ID, payloadPrefix)
}

// PayloadFieldID returns the editable-field id of a payload key.
func PayloadFieldID(key string) string {
	return payloadPrefix + key
}

// EditableFields is the catalog of fields a guardian may edit on one
// reviewable.
type EditableFields struct {
	Collection[EditableField]
	reviewable *models.Reviewable
	guardian   *guardian.Guardian
}

// NewEditableFields returns an empty catalog bound to r and g.
func NewEditableFields(r *models.Reviewable, g *guardian.Guardian) *EditableFields {
	return &EditableFields{reviewable: r, guardian: g}
}

// Add appends a field. An unknown field type is a programming error.
func (f *EditableFields) Add(id string, fieldType FieldType) EditableField {
	if !fieldType.Valid() {
		panic(fmt.Sprintf("reviewable: unknown editable field type %q for %q", fieldType, id))
	}
	field := EditableField{ID: id, Type: fieldType}
	f.Collection.Add(field)
	return field
}

func (f *EditableFields) Reviewable() *models.Reviewable { return f.reviewable }

func (f *EditableFields) Guardian() *guardian.Guardian { return f.guardian }
