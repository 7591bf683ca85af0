package reviewable

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"reviewqueue/internal/models"

	"github.com/google/uuid"
)

// Core lifecycle events.
const (
	EventCreated        = "reviewable_created"
	EventTransitionedTo = "reviewable_transitioned_to"
)

// Event is a lifecycle signal. It is emitted only after the transaction that
// produced it has committed.
type Event struct {
	ID           uuid.UUID               `json:"id"`
	Name         string                  `json:"name"`
	ReviewableID uint                    `json:"reviewable_id"`
	Kind         string                  `json:"kind"`
	Status       models.ReviewableStatus `json:"status"`
	Payload      map[string]any          `json:"payload,omitempty"`
	At           time.Time               `json:"at"`
}

// Listener consumes events. Returned errors are logged.
type Listener func(ctx context.Context, e Event) error

// Bus delivers events to listeners synchronously in registration order.
type Bus struct {
	mu     sync.RWMutex
	named  map[string][]Listener
	all    []Listener
	logger *slog.Logger
}

// NewBus returns a bus logging through logger, or slog.Default when nil.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{named: make(map[string][]Listener), logger: logger}
}

// Subscribe registers l for events called name.
func (b *Bus) Subscribe(name string, l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.named[name] = append(b.named[name], l)
}

// SubscribeAll registers l for every event.
func (b *Bus) SubscribeAll(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, l)
}

// Emit delivers e. A nil bus drops the event.
func (b *Bus) Emit(ctx context.Context, e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	listeners := make([]Listener, 0, len(b.named[e.Name])+len(b.all))
	listeners = append(listeners, b.named[e.Name]...)
	listeners = append(listeners, b.all...)
	b.mu.RUnlock()

	for _, l := range listeners {
		b.deliver(ctx, l, e)
	}
}

func (b *Bus) deliver(ctx context.Context, l Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorContext(ctx, "reviewable event listener panicked",
				slog.String("event", e.Name),
				slog.Uint64("reviewable_id", uint64(e.ReviewableID)),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	if err := l(ctx, e); err != nil {
		b.logger.ErrorContext(ctx, "reviewable event listener failed",
			slog.String("event", e.Name),
			slog.Uint64("reviewable_id", uint64(e.ReviewableID)),
			slog.String("error", err.Error()),
		)
	}
}
