package task

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/atomic"

	"github.com/phrazzld/offload/internal/events"
)

// WorkFunc is the unit of work an Envelope runs. The context comes from the
// executor; the work may use it for cooperative cancellation.
type WorkFunc func(ctx context.Context, args Args) (any, error)

// Args holds the arguments supplied with the work, passed through unvalidated.
type Args struct {
	Positional []any
	Keyword    map[string]any
}

// Len returns the number of positional arguments.
func (a Args) Len() int {
	return len(a.Positional)
}

// At returns the i-th positional argument, or nil when out of range.
func (a Args) At(i int) any {
	if i < 0 || i >= len(a.Positional) {
		return nil
	}
	return a.Positional[i]
}

// Get returns the keyword argument with the given name.
func (a Args) Get(name string) (any, bool) {
	v, ok := a.Keyword[name]
	return v, ok
}

// Envelope packages a WorkFunc with its arguments so it can be run once on any
// worker, emitting started, finished or failed, and restored through its own
// Notifier.
//
// An Envelope does not confine observers to a goroutine. Observers that touch
// state owned by another goroutine must use an events.ChannelDispatcher (see
// WithDispatcher) or do their own marshalling.
type Envelope struct {
	id       uuid.UUID
	name     string
	work     WorkFunc
	args     Args
	notifier *events.Notifier
	state    *atomic.Int32
	clock    clockwork.Clock
	logger   *slog.Logger
}

type envelopeConfig struct {
	name       string
	logger     *slog.Logger
	clock      clockwork.Clock
	dispatcher events.Dispatcher
}

// Option configures an Envelope.
type Option func(*envelopeConfig)

// WithName sets a human-friendly name used in logs.
func WithName(name string) Option {
	return func(c *envelopeConfig) { c.name = name }
}

// WithLogger sets the logger that records failures. Defaults to a discarding logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *envelopeConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock sets the clock used for event timestamps and work duration.
func WithClock(clock clockwork.Clock) Option {
	return func(c *envelopeConfig) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithDispatcher sets how the envelope's notifier delivers events.
func WithDispatcher(d events.Dispatcher) Option {
	return func(c *envelopeConfig) { c.dispatcher = d }
}

// NewEnvelope creates an envelope ready to be scheduled. The work and
// arguments are stored as given; mismatches surface as a failure when the
// envelope runs.
func NewEnvelope(work WorkFunc, positional []any, keyword map[string]any, opts ...Option) *Envelope {
	cfg := envelopeConfig{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	id := uuid.New()
	logger := cfg.logger.With(
		"component", "task_envelope",
		"envelope_id", id,
	)
	if cfg.name != "" {
		logger = logger.With("envelope_name", cfg.name)
	}

	return &Envelope{
		id:   id,
		name: cfg.name,
		work: work,
		args: Args{
			Positional: append([]any(nil), positional...),
			Keyword:    cloneKeyword(keyword),
		},
		notifier: events.NewNotifier(cfg.logger,
			events.WithDispatcher(cfg.dispatcher),
			events.WithClock(cfg.clock),
		),
		state:  atomic.NewInt32(int32(StateCreated)),
		clock:  cfg.clock,
		logger: logger,
	}
}

// ID returns the envelope's unique identifier.
func (e *Envelope) ID() uuid.UUID {
	return e.id
}

// Name returns the envelope's name, or its ID when no name was given.
func (e *Envelope) Name() string {
	if e.name == "" {
		return e.id.String()
	}
	return e.name
}

// Args returns the stored arguments.
func (e *Envelope) Args() Args {
	return e.args
}

// State returns the current lifecycle state.
func (e *Envelope) State() State {
	return State(e.state.Load())
}

// Notifier returns the envelope's notifier for subscribing observers.
func (e *Envelope) Notifier() *events.Notifier {
	return e.notifier
}

// OnStarted registers fn for the started event.
func (e *Envelope) OnStarted(fn func()) (events.Subscription, error) {
	return e.notifier.Subscribe(events.KindStarted, func(context.Context, events.Event) error {
		fn()
		return nil
	})
}

// OnFinished registers fn for the finished event; fn receives the work's result.
func (e *Envelope) OnFinished(fn func(result any)) (events.Subscription, error) {
	return e.notifier.Subscribe(events.KindFinished, func(_ context.Context, ev events.Event) error {
		fn(ev.Result)
		return nil
	})
}

// OnFailed registers fn for the failed event; fn receives the failure message.
func (e *Envelope) OnFailed(fn func(message string)) (events.Subscription, error) {
	return e.notifier.Subscribe(events.KindFailed, func(_ context.Context, ev events.Event) error {
		fn(ev.Message)
		return nil
	})
}

// OnRestored registers fn for the restored event.
func (e *Envelope) OnRestored(fn func()) (events.Subscription, error) {
	return e.notifier.Subscribe(events.KindRestored, func(context.Context, events.Event) error {
		fn()
		return nil
	})
}

// Run executes the work on the calling goroutine and emits the lifecycle
// events in order: started, then finished or failed, then restored.
//
// Failures of the work, including panics, are logged and turned into the
// failed event; they never escape Run. The only error Run returns is
// ErrAlreadyRun, when the envelope has been run before.
func (e *Envelope) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !e.state.CompareAndSwap(int32(StateCreated), int32(StateStarted)) {
		e.logger.Warn("envelope already run, ignoring", "state", e.State().String())
		return ErrAlreadyRun
	}

	defer e.restore(ctx)

	e.emit(ctx, events.Event{Kind: events.KindStarted})

	startedAt := e.clock.Now()
	outcome := e.invoke(ctx)
	elapsed := e.clock.Since(startedAt)

	if outcome.Succeeded() {
		e.logger.Debug("work finished", "duration", elapsed)
		e.state.Store(int32(StateFinished))
		e.emit(ctx, events.Event{
			Kind:     events.KindFinished,
			Result:   outcome.Value,
			Duration: elapsed,
		})
		return nil
	}

	failure := outcome.Failure
	attrs := []any{
		"error", failure.Err,
		"message", failure.Message,
		"duration", elapsed,
	}
	if failure.Panicked() {
		attrs = append(attrs, "panic", true, "stack", string(failure.Stack))
	}
	e.logger.Error("work failed", attrs...)

	e.state.Store(int32(StateFailed))
	e.emit(ctx, events.Event{
		Kind:     events.KindFailed,
		Message:  failure.Message,
		Err:      failure,
		Duration: elapsed,
	})
	return nil
}

// invoke calls the work and folds a returned error or a panic into the Outcome.
func (e *Envelope) invoke(ctx context.Context) (out Outcome) {
	if e.work == nil {
		return Outcome{Failure: failureFromError(e.id, fmt.Errorf("%w: nil", ErrNotFunc))}
	}

	var pc panics.Catcher
	pc.Try(func() {
		value, err := e.work(ctx, e.args)
		if err != nil {
			out = Outcome{Failure: failureFromError(e.id, err)}
			return
		}
		out = Outcome{Value: value}
	})
	if r := pc.Recovered(); r != nil {
		out = Outcome{Failure: failureFromPanic(e.id, r.Value, r.Stack)}
	}
	return out
}

func (e *Envelope) restore(ctx context.Context) {
	e.state.Store(int32(StateRestored))
	e.emit(ctx, events.Event{Kind: events.KindRestored})
}

// emit forwards to the notifier. Observer failures are already isolated and
// logged there; anything else that goes wrong during dispatch is logged here so
// the remaining emissions still happen.
//
// Cancellation of the run context is meant for the work, not for delivery:
// every lifecycle event is dispatched even after ctx is done.
func (e *Envelope) emit(ctx context.Context, event events.Event) {
	event.EnvelopeID = e.id
	ctx = context.WithoutCancel(ctx)

	var err error
	var pc panics.Catcher
	pc.Try(func() {
		err = e.notifier.Emit(ctx, event)
	})
	if r := pc.Recovered(); r != nil {
		e.logger.Error("event dispatch panicked", "kind", event.Kind, "panic", r.Value)
		return
	}
	if err != nil {
		e.logger.Warn("event delivered with errors", "kind", event.Kind, "error", err)
	}
}

func cloneKeyword(keyword map[string]any) map[string]any {
	if keyword == nil {
		return nil
	}
	out := make(map[string]any, len(keyword))
	for k, v := range keyword {
		out[k] = v
	}
	return out
}
