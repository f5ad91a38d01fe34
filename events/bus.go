package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Handler processes one event. A returned error is logged by the bus and
// never reaches the publisher.
type Handler func(ctx context.Context, event Event) error

type subscription struct {
	id       string
	name     Name
	wildcard bool
	handler  Handler
}

// Bus delivers events synchronously to subscribers.
//
// Named subscribers run before wildcard subscribers, each group in
// subscription order. Every handler invocation is isolated: an error or
// panic in one handler does not stop delivery to the others.
//
// Thread Safety: Bus is safe for concurrent use.
type Bus struct {
	mu       sync.RWMutex
	named    map[Name][]subscription
	wildcard []subscription
	index    map[string]subscription

	logger        *slog.Logger
	handlerErrors atomic.Int64
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger that receives handler failures.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBus creates an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		named:  make(map[Name][]subscription),
		index:  make(map[string]subscription),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for events named name and returns the
// subscription id.
func (b *Bus) Subscribe(name Name, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := subscription{id: uuid.NewString(), name: name, handler: handler}
	b.named[name] = append(b.named[name], sub)
	b.index[sub.id] = sub
	return sub.id
}

// SubscribeAll registers handler for every event.
func (b *Bus) SubscribeAll(handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := subscription{id: uuid.NewString(), wildcard: true, handler: handler}
	b.wildcard = append(b.wildcard, sub)
	b.index[sub.id] = sub
	return sub.id
}

// Unsubscribe removes a subscription. Unknown or already removed ids are ignored.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.index[id]
	if !ok {
		return
	}
	delete(b.index, id)

	if sub.wildcard {
		b.wildcard = without(b.wildcard, id)
		return
	}
	b.named[sub.name] = without(b.named[sub.name], id)
	if len(b.named[sub.name]) == 0 {
		delete(b.named, sub.name)
	}
}

// without returns a new slice so snapshots held by in-flight publishes stay valid.
func without(subs []subscription, id string) []subscription {
	out := make([]subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// Publish delivers event to every matching subscriber and returns after all
// handlers have run. Handlers subscribed during delivery see only later events.
func (b *Bus) Publish(ctx context.Context, event Event) {
	if event == nil {
		return
	}

	b.mu.RLock()
	named := b.named[event.EventName()]
	wildcard := b.wildcard
	b.mu.RUnlock()

	for _, sub := range named {
		b.invoke(ctx, sub, event)
	}
	for _, sub := range wildcard {
		b.invoke(ctx, sub, event)
	}
}

// invoke runs one handler, routing errors and panics to the logger.
func (b *Bus) invoke(ctx context.Context, sub subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.handlerErrors.Add(1)
			b.logger.Error("event handler panicked",
				slog.String("subscription_id", sub.id),
				slog.String("event", string(event.EventName())),
				slog.String("session_id", event.Session()),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()

	if err := sub.handler(ctx, event); err != nil {
		b.handlerErrors.Add(1)
		b.logger.Warn("event handler failed",
			slog.String("subscription_id", sub.id),
			slog.String("event", string(event.EventName())),
			slog.String("session_id", event.Session()),
			slog.String("error", err.Error()),
		)
	}
}

// HandlerErrors returns how many handler invocations have failed or panicked.
func (b *Bus) HandlerErrors() int64 {
	return b.handlerErrors.Load()
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.index)
}
