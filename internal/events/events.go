package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Common errors returned by the events package
var (
	ErrUnknownKind      = errors.New("unknown event kind")
	ErrDispatcherClosed = errors.New("dispatcher is closed")
)

// Kind identifies one of the lifecycle events an envelope emits
type Kind string

// Lifecycle event kinds, in emission order
const (
	KindStarted  Kind = "started"
	KindFinished Kind = "finished"
	KindFailed   Kind = "failed"
	KindRestored Kind = "restored"
)

// Kinds lists every lifecycle kind in emission order.
var Kinds = []Kind{KindStarted, KindFinished, KindFailed, KindRestored}

// Valid reports whether k is one of the four lifecycle kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindStarted, KindFinished, KindFailed, KindRestored:
		return true
	default:
		return false
	}
}

// Event represents a single lifecycle emission.
type Event struct {
	// ID is a unique identifier for this emission
	ID uuid.UUID `json:"id"`

	// EnvelopeID identifies the envelope that emitted the event
	EnvelopeID uuid.UUID `json:"envelope_id"`

	// Kind is the lifecycle phase
	Kind Kind `json:"kind"`

	// Result holds the work's return value; only set for KindFinished
	Result any `json:"result,omitempty"`

	// Message is the human-readable failure message; only set for KindFailed
	Message string `json:"message,omitempty"`

	// Err carries the structured failure behind Message; only set for KindFailed
	Err error `json:"-"`

	// Duration is how long the work ran; set for KindFinished and KindFailed
	Duration time.Duration `json:"duration,omitempty"`

	// CreatedAt is the timestamp when the event was emitted
	CreatedAt time.Time `json:"created_at"`
}

// String returns a compact description used in logs and CLI output.
func (e Event) String() string {
	switch e.Kind {
	case KindFinished:
		return fmt.Sprintf("%s(%v)", e.Kind, e.Result)
	case KindFailed:
		return fmt.Sprintf("%s(%q)", e.Kind, e.Message)
	default:
		return string(e.Kind)
	}
}

// Observer reacts to a single event. A returned error is logged and reported
// back to the emitter but never stops delivery to the remaining observers.
type Observer func(ctx context.Context, event Event) error

// Subscription is the handle returned by Subscribe. It does not own the
// notifier; it only identifies one registered observer.
type Subscription struct {
	ID   uuid.UUID
	Kind Kind
}

// ObserverError wraps a failure raised by an observer during delivery.
type ObserverError struct {
	Kind           Kind
	SubscriptionID uuid.UUID
	Err            error
}

func (e *ObserverError) Error() string {
	return fmt.Sprintf("observer %s for %q failed: %v", e.SubscriptionID, e.Kind, e.Err)
}

func (e *ObserverError) Unwrap() error {
	return e.Err
}

// Dispatcher decides on which goroutine an emission is delivered.
//
// deliver invokes every observer of a single emission in registration order.
// Implementations must call it at most once and must preserve the order in
// which Dispatch was called.
type Dispatcher interface {
	Dispatch(ctx context.Context, deliver func(context.Context) error) error
}
