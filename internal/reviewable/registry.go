package reviewable

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"reviewqueue/internal/guardian"
	"reviewqueue/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Args carries caller-supplied options into builders and handlers. A nil
// Args behaves like an empty one.
type Args map[string]any

// String returns the string value stored under key.
func (a Args) String(key string) string {
	if s, ok := a[key].(string); ok {
		return s
	}
	return ""
}

// Bool returns the boolean value stored under key.
func (a Args) Bool(key string) bool {
	b, _ := a[key].(bool)
	return b
}

// BuildActionsFunc populates the action catalog.
type BuildActionsFunc func(actions *Actions, r *models.Reviewable, g *guardian.Guardian, args Args)

// BuildEditableFieldsFunc populates the editable-field catalog.
type BuildEditableFieldsFunc func(fields *EditableFields, r *models.Reviewable, g *guardian.Guardian, args Args)

// Handler performs one action inside the perform transaction. Returning a
// failure result or an error rolls the transaction back.
type Handler func(ctx context.Context, pc *PerformContext) (*PerformResult, error)

// ValidateFunc returns per-field messages for an invalid reviewable.
type ValidateFunc func(r *models.Reviewable) map[string][]string

// TargetResolver loads the entity a TargetRef points at.
type TargetResolver func(ctx context.Context, db *gorm.DB, id uint) (any, error)

// Kind is the behavior attached to one reviewable kind.
type Kind struct {
	Name string
	// TargetType names the entity kind this kind reviews, empty when the
	// kind has no target.
	TargetType          string
	BuildActions        BuildActionsFunc
	BuildEditableFields BuildEditableFieldsFunc
	Validate            ValidateFunc
	// Actions lists every action id BuildActions may ever add.
	Actions  []string
	Handlers map[string]Handler
}

// Handler returns the handler registered for action.
func (k *Kind) Handler(action string) (Handler, bool) {
	h, ok := k.Handlers[action]
	return h, ok && h != nil
}

// ErrUnknownKind is returned when a kind name is not registered.
var ErrUnknownKind = errors.New("unknown reviewable kind")

// Registry maps kind names to behavior and target types to resolvers.
type Registry struct {
	mu        sync.RWMutex
	kinds     map[string]*Kind
	resolvers map[string]TargetResolver
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		kinds:     make(map[string]*Kind),
		resolvers: make(map[string]TargetResolver),
	}
}

// Register adds k. Every declared action must have a handler.
func (r *Registry) Register(k Kind) error {
	if k.Name == "" {
		return errors.New("reviewable kind name is required")
	}
	for _, action := range k.Actions {
		if _, ok := k.Handler(action); !ok {
			return fmt.Errorf("reviewable kind %q declares action %q without a handler", k.Name, action)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.kinds[k.Name]; exists {
		return fmt.Errorf("reviewable kind %q already registered", k.Name)
	}
	kind := k
	r.kinds[k.Name] = &kind
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(k Kind) {
	if err := r.Register(k); err != nil {
		panic(err)
	}
}

// Lookup returns the kind registered under name.
func (r *Registry) Lookup(name string) (*Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.kinds[name]
	return k, ok
}

// Names returns the registered kind names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterTarget installs the resolver for a target type.
func (r *Registry) RegisterTarget(targetType string, resolve TargetResolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[targetType] = resolve
}

// ResolveTarget loads the entity ref points at. A nil ref resolves to nil.
func (r *Registry) ResolveTarget(ctx context.Context, db *gorm.DB, ref *models.TargetRef) (any, error) {
	if ref == nil {
		return nil, nil
	}
	r.mu.RLock()
	resolve, ok := r.resolvers[ref.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no resolver for target type %q", ref.Type)
	}
	return resolve(ctx, db, ref.ID)
}

// PerformContext is handed to a Handler. Tx is the open perform
// transaction; every write a handler makes must go through it.
type PerformContext struct {
	Tx          *gorm.DB
	Reviewable  *models.Reviewable
	PerformedBy *models.User
	Guardian    *guardian.Guardian
	Args        Args

	pending []Event
}

// Emit queues a kind-specific event. Queued events are delivered after the
// transaction commits and dropped if it rolls back.
func (pc *PerformContext) Emit(name string, payload map[string]any) {
	pc.pending = append(pc.pending, NewEvent(name, pc.Reviewable, payload))
}

// PendingEvents returns the events queued so far.
func (pc *PerformContext) PendingEvents() []Event {
	out := make([]Event, len(pc.pending))
	copy(out, pc.pending)
	return out
}

// NewEvent stamps an event for r.
func NewEvent(name string, r *models.Reviewable, payload map[string]any) Event {
	e := Event{
		ID:      uuid.New(),
		Name:    name,
		Payload: payload,
		At:      time.Now().UTC(),
	}
	if r != nil {
		e.ReviewableID = r.ID
		e.Kind = r.Kind
		e.Status = r.Status
	}
	return e
}
