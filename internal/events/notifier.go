package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/conc/panics"
)

type subscription struct {
	id       uuid.UUID
	observer Observer
}

// Notifier stores observers per event kind and dispatches emissions to them.
// It is safe for concurrent use.
type Notifier struct {
	mu         sync.RWMutex
	observers  map[Kind][]subscription
	dispatcher Dispatcher
	clock      clockwork.Clock
	logger     *slog.Logger
}

// NotifierOption configures a Notifier.
type NotifierOption func(*Notifier)

// WithDispatcher sets the delivery strategy. Defaults to SyncDispatcher.
func WithDispatcher(d Dispatcher) NotifierOption {
	return func(n *Notifier) {
		if d != nil {
			n.dispatcher = d
		}
	}
}

// WithClock sets the clock used to stamp events.
func WithClock(c clockwork.Clock) NotifierOption {
	return func(n *Notifier) {
		if c != nil {
			n.clock = c
		}
	}
}

// NewNotifier creates a new Notifier with no observers.
func NewNotifier(logger *slog.Logger, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		observers:  make(map[Kind][]subscription, len(Kinds)),
		dispatcher: SyncDispatcher{},
		clock:      clockwork.NewRealClock(),
		logger:     logger.With("component", "lifecycle_notifier"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	return n
}

// Subscribe registers observer for events of the given kind. Observers of the
// same kind are invoked in registration order. Emissions that happened before
// the call are not replayed.
func (n *Notifier) Subscribe(kind Kind, observer Observer) (Subscription, error) {
	if !kind.Valid() {
		return Subscription{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if observer == nil {
		return Subscription{}, fmt.Errorf("observer for %q must not be nil", kind)
	}

	sub := subscription{id: uuid.New(), observer: observer}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.observers[kind] = append(n.observers[kind], sub)
	n.logger.Debug("registered observer",
		"kind", kind,
		"subscription_id", sub.id,
		"observer_count", len(n.observers[kind]))

	return Subscription{ID: sub.id, Kind: kind}, nil
}

// Unsubscribe removes a previously registered observer. It reports whether
// the subscription was found.
func (n *Notifier) Unsubscribe(s Subscription) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	subs := n.observers[s.Kind]
	for i, sub := range subs {
		if sub.id != s.ID {
			continue
		}
		// Copy instead of slicing in place: in-flight deliveries hold the old slice.
		next := make([]subscription, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		n.observers[s.Kind] = next
		return true
	}
	return false
}

// Count returns the number of observers registered for kind.
func (n *Notifier) Count(kind Kind) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.observers[kind])
}

// Emit publishes event to every observer registered for event.Kind.
//
// The observer list is snapshotted before dispatch, so observers may subscribe
// or unsubscribe while being notified. If any observer fails, the event is still
// delivered to all other observers. With SyncDispatcher the first observer error
// is returned; asynchronous dispatchers only report dispatch failures.
func (n *Notifier) Emit(ctx context.Context, event Event) error {
	if !event.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, event.Kind)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = n.clock.Now()
	}

	n.mu.RLock()
	subs := make([]subscription, len(n.observers[event.Kind]))
	copy(subs, n.observers[event.Kind])
	n.mu.RUnlock()

	n.logger.Debug("emitting event",
		"event_id", event.ID,
		"envelope_id", event.EnvelopeID,
		"kind", event.Kind,
		"observer_count", len(subs))

	if len(subs) == 0 {
		return nil
	}

	return n.dispatcher.Dispatch(ctx, func(ctx context.Context) error {
		return n.deliver(ctx, event, subs)
	})
}

func (n *Notifier) deliver(ctx context.Context, event Event, subs []subscription) error {
	var firstErr error
	for _, sub := range subs {
		if err := callObserver(ctx, sub.observer, event); err != nil {
			obsErr := &ObserverError{Kind: event.Kind, SubscriptionID: sub.id, Err: err}
			n.logger.Error("observer failed to process event",
				"error", err,
				"subscription_id", sub.id,
				"event_id", event.ID,
				"envelope_id", event.EnvelopeID,
				"kind", event.Kind)
			if firstErr == nil {
				firstErr = obsErr
			}
		}
	}
	return firstErr
}

// callObserver runs a single observer, converting a panic into an error.
func callObserver(ctx context.Context, observer Observer, event Event) (err error) {
	var pc panics.Catcher
	pc.Try(func() {
		err = observer(ctx, event)
	})
	if r := pc.Recovered(); r != nil {
		return fmt.Errorf("observer panicked: %v", r.Value)
	}
	return err
}
