// Package event carries cross-aggregate domain events and an in-process
// observer-list dispatcher. Subscribers (audit log, notifications, metrics)
// register handlers; aggregates publish and never know who listens.
package event

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Kind identifies an event type.
type Kind string

const (
	KindOrderCreated         Kind = "order.created"
	KindOrderStatusChanged   Kind = "order.status_changed"
	KindPaymentStatusChanged Kind = "payment.status_changed"
	KindRefundSettled        Kind = "refund.settled"
)

// Event is a single domain occurrence. From/To are the status edge for
// transition events and empty otherwise.
type Event struct {
	Kind       Kind
	EntityID   string
	OrderID    string
	From       string
	To         string
	Detail     string
	OccurredAt time.Time
}

// Handler consumes an event. Handler errors are logged and do not abort the
// publishing operation: events are best-effort side effects, the aggregate
// write has already committed.
type Handler func(ctx context.Context, ev Event) error

// Dispatcher publishes domain events to registered handlers.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event)
}

// Bus is an in-process Dispatcher delivering events synchronously, in
// registration order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
	all      []Handler
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Kind][]Handler)}
}

// Subscribe registers h for events of the given kind.
func (b *Bus) Subscribe(kind Kind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// SubscribeAll registers h for every event regardless of kind. Used by the
// audit log, which records all state transitions.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Dispatch delivers ev to all matching handlers. Failures are logged with the
// context logger and swallowed.
func (b *Bus) Dispatch(ctx context.Context, ev Event) {
	b.mu.RLock()
	targets := make([]Handler, 0, len(b.all)+len(b.handlers[ev.Kind]))
	targets = append(targets, b.all...)
	targets = append(targets, b.handlers[ev.Kind]...)
	b.mu.RUnlock()

	for _, h := range targets {
		if err := h(ctx, ev); err != nil {
			zctx.From(ctx).Warn("event handler failed",
				zap.String("kind", string(ev.Kind)),
				zap.String("entity_id", ev.EntityID),
				zap.Error(err),
			)
		}
	}
}

// Nop is a Dispatcher that discards every event. Useful in tests.
type Nop struct{}

func (Nop) Dispatch(context.Context, Event) {}
