// Package bus implements the event bus: a priority-ordered, single-dispatcher
// pub/sub mechanism that routes typed events between every other component.
//
// Publishers never block: Publish either enqueues the event or returns
// ErrQueueFull immediately. Exactly one goroutine (the dispatcher) drains the
// queue in priority order and invokes subscriber handlers sequentially;
// handler panics and errors never reach the dispatcher loop, they are only
// counted. The dispatcher polls the queue on a short interval rather than
// blocking indefinitely, so Stop is always responsive within one poll tick.
package bus

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"polymarket-mm/pkg/types"
)

// ErrQueueFull is returned by Publish when the backlog has reached MaxQueueSize.
var ErrQueueFull = errors.New("bus: queue full")

const pollInterval = 50 * time.Millisecond

// Handler processes a single dispatched event. Handlers must not block for
// long; any error is recorded but never propagated to the dispatcher.
type Handler func(types.Event) error

// Config configures the bus.
type Config struct {
	MaxQueueSize int
}

// Bus is the priority-ordered pub/sub event router.
type Bus struct {
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	queue       eventHeap
	subscribers map[types.EventKind][]Handler

	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
	eventCnt  int64
	errCnt    int64
}

// New creates an event bus. A zero or negative MaxQueueSize defaults to 10000.
func New(cfg Config, logger *slog.Logger) *Bus {
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 10000
	}
	return &Bus{
		cfg:         cfg,
		logger:      logger.With("component", "bus"),
		subscribers: make(map[types.EventKind][]Handler),
	}
}

// Subscribe registers a handler for an event kind.
func (b *Bus) Subscribe(kind types.EventKind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[kind] = append(b.subscribers[kind], h)
}

// Unsubscribe removes every handler registered for kind. Go func values are
// not comparable in the general case, so a single handler cannot be removed
// on its own; callers that need that should use a closure flag. This mirrors
// the spec's operation set while keeping the common case (subscribe for the
// engine's lifetime) simple.
func (b *Bus) Unsubscribe(kind types.EventKind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, kind)
}

// Publish enqueues an event for dispatch. Non-blocking: returns ErrQueueFull
// immediately if the backlog is at capacity.
func (b *Bus) Publish(evt types.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queue) >= b.cfg.MaxQueueSize {
		return ErrQueueFull
	}
	heap.Push(&b.queue, evt)
	return nil
}

// Start launches the dispatcher goroutine. Safe to call once; a second call
// before Stop is a no-op.
func (b *Bus) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	b.mu.Unlock()

	go b.run()
	b.logger.Info("event bus started", "max_queue_size", b.cfg.MaxQueueSize)
}

// Stop signals the dispatcher to exit and waits up to timeout for it to do
// so. If it does not stop within timeout the fact is logged and Stop returns
// anyway.
func (b *Bus) Stop(timeout time.Duration) {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	close(b.stopCh)
	done := b.doneCh
	b.mu.Unlock()

	select {
	case <-done:
		b.logger.Info("event bus stopped", "events", b.eventCnt, "errors", b.errCnt)
	case <-time.After(timeout):
		b.logger.Warn("event bus did not stop within timeout")
	}
}

func (b *Bus) run() {
	defer close(b.doneCh)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			for {
				evt, ok := b.pop()
				if !ok {
					break
				}
				b.dispatch(evt)
				b.eventCnt++
				select {
				case <-b.stopCh:
					return
				default:
				}
			}
		}
	}
}

func (b *Bus) pop() (types.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return types.Event{}, false
	}
	evt := heap.Pop(&b.queue).(types.Event)
	return evt, true
}

func (b *Bus) dispatch(evt types.Event) {
	b.mu.Lock()
	handlers := append([]Handler(nil), b.subscribers[evt.Kind]...)
	b.mu.Unlock()

	for _, h := range handlers {
		b.safeCall(h, evt)
	}
}

func (b *Bus) safeCall(h Handler, evt types.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.errCnt++
			b.logger.Error("panic in event handler", "kind", evt.Kind, "recover", r)
		}
	}()
	if err := h(evt); err != nil {
		b.errCnt++
		b.logger.Error("error in event handler", "kind", evt.Kind, "error", err)
	}
}

// Stats reports current bus statistics.
type Stats struct {
	Running         bool
	TotalEvents     int64
	Errors          int64
	QueueSize       int
	SubscriberCount map[types.EventKind]int
}

// Stats returns a snapshot of bus statistics.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	counts := make(map[types.EventKind]int, len(b.subscribers))
	for k, v := range b.subscribers {
		counts[k] = len(v)
	}
	return Stats{
		Running:         b.running,
		TotalEvents:     b.eventCnt,
		Errors:          b.errCnt,
		QueueSize:       len(b.queue),
		SubscriberCount: counts,
	}
}

// ClearQueue discards all pending events and returns how many were removed.
func (b *Bus) ClearQueue() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.queue)
	b.queue = b.queue[:0]
	return n
}

// Context-aware Stop convenience, used by callers that already carry a
// context and want it to shorten the wait.
func (b *Bus) StopContext(ctx context.Context, timeout time.Duration) {
	deadline := timeout
	if d, ok := ctx.Deadline(); ok {
		if remaining := time.Until(d); remaining < deadline {
			deadline = remaining
		}
	}
	b.Stop(deadline)
}
