package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"reviewqueue/internal/models"
)

const (
	MaxKindLength       = 64
	MaxPayloadKeyLength = 100
	MaxPayloadBytes     = 64 * 1024
	MaxPostRawLength    = 32000
	MinPostRawLength    = 1
	MaxTopicTitleLength = 255
	MinTopicTitleLength = 3
)

// FieldErrors collects messages per field and renders as the keyed map used
// by models.NewFieldValidationError.
type FieldErrors map[string][]string

func (f FieldErrors) Add(field, msg string) {
	f[field] = append(f[field], msg)
}

func (f FieldErrors) Empty() bool {
	return len(f) == 0
}

// Reviewable checks the columns every kind shares. It returns nil when the
// row is valid.
func Reviewable(r *models.Reviewable) FieldErrors {
	errs := FieldErrors{}
	if r == nil {
		errs.Add("base", "reviewable is missing")
		return errs
	}

	switch kind := strings.TrimSpace(r.Kind); {
	case kind == "":
		errs.Add("kind", "can't be blank")
	case len(kind) > MaxKindLength:
		errs.Add("kind", fmt.Sprintf("is too long (maximum is %d characters)", MaxKindLength))
	}
	if r.CreatedByID == 0 {
		errs.Add("created_by", "must exist")
	}
	if !r.Status.Valid() {
		errs.Add("status", "is not a known status")
	}
	if (r.TargetType == nil) != (r.TargetID == nil) {
		errs.Add("target", "type and id must be set together")
	}

	for key := range r.Payload {
		if strings.TrimSpace(key) == "" {
			errs.Add("payload", "keys can't be blank")
			break
		}
		if len(key) > MaxPayloadKeyLength {
			errs.Add("payload", fmt.Sprintf("key %q is too long", key[:20]))
		}
	}
	if r.Payload != nil {
		raw, err := json.Marshal(r.Payload)
		switch {
		case err != nil:
			errs.Add("payload", "must be serializable")
		case len(raw) > MaxPayloadBytes:
			errs.Add("payload", fmt.Sprintf("is too large (maximum is %d bytes)", MaxPayloadBytes))
		}
	}

	if errs.Empty() {
		return nil
	}
	return errs
}

// PostRaw checks the body of a post about to be created.
func PostRaw(raw string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(raw))
	if n < MinPostRawLength {
		return fmt.Errorf("raw can't be blank")
	}
	if n > MaxPostRawLength {
		return fmt.Errorf("raw is too long (maximum is %d characters)", MaxPostRawLength)
	}
	return nil
}

// TopicTitle checks the title of a topic about to be created.
func TopicTitle(title string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(title))
	if n == 0 {
		return fmt.Errorf("title can't be blank")
	}
	if n < MinTopicTitleLength || n > MaxTopicTitleLength {
		return fmt.Errorf("title must be between %d and %d characters", MinTopicTitleLength, MaxTopicTitleLength)
	}
	return nil
}
