package events

import (
	"context"
	"log/slog"
	"sync"
)

// SyncDispatcher delivers an emission on the goroutine that calls Emit.
type SyncDispatcher struct{}

// Dispatch implements Dispatcher.
func (SyncDispatcher) Dispatch(ctx context.Context, deliver func(context.Context) error) error {
	return deliver(ctx)
}

type pendingDelivery struct {
	ctx     context.Context
	deliver func(context.Context) error
}

// ChannelDispatcher queues emissions so that observers run on whichever
// goroutine drains it, typically the one that owns the state observers touch.
// Deliveries run in the order they were dispatched.
type ChannelDispatcher struct {
	queue  chan pendingDelivery
	mu     sync.RWMutex
	closed bool

	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

// NewChannelDispatcher creates a dispatcher with the given buffer size.
// A size below 1 is treated as 1.
func NewChannelDispatcher(size int, logger *slog.Logger) *ChannelDispatcher {
	if size < 1 {
		size = 1
	}
	return &ChannelDispatcher{
		queue:  make(chan pendingDelivery, size),
		done:   make(chan struct{}),
		logger: logger.With("component", "channel_dispatcher"),
	}
}

// Dispatch queues deliver. A cancelled ctx only matters when the buffer is full:
// then Dispatch blocks until there is room, ctx is done or the dispatcher is closed.
func (d *ChannelDispatcher) Dispatch(ctx context.Context, deliver func(context.Context) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	p := pendingDelivery{ctx: context.WithoutCancel(ctx), deliver: deliver}

	// Room in the buffer always wins over a cancelled ctx.
	select {
	case d.queue <- p:
		return nil
	default:
	}

	select {
	case d.queue <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		return ErrDispatcherClosed
	}
}

// RunPending runs every queued delivery without blocking and returns how many ran.
func (d *ChannelDispatcher) RunPending() int {
	ran := 0
	for {
		select {
		case p, ok := <-d.queue:
			if !ok {
				return ran
			}
			d.run(p)
			ran++
		default:
			return ran
		}
	}
}

// Drain runs queued deliveries on the calling goroutine until ctx is done or
// the dispatcher is closed and empty.
func (d *ChannelDispatcher) Drain(ctx context.Context) error {
	for {
		select {
		case p, ok := <-d.queue:
			if !ok {
				return nil
			}
			d.run(p)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Len returns the number of queued deliveries.
func (d *ChannelDispatcher) Len() int {
	return len(d.queue)
}

// Close stops accepting deliveries. Already queued deliveries can still be drained.
func (d *ChannelDispatcher) Close() {
	d.closeOnce.Do(func() {
		// Wake blocked senders first; they hold the read lock while waiting.
		close(d.done)

		d.mu.Lock()
		defer d.mu.Unlock()
		d.closed = true
		close(d.queue)
		d.logger.Debug("channel dispatcher closed", "pending", len(d.queue))
	})
}

func (d *ChannelDispatcher) run(p pendingDelivery) {
	if err := p.deliver(p.ctx); err != nil {
		d.logger.Debug("queued delivery completed with observer errors", "error", err)
	}
}
