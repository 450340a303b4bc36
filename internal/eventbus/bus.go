// Package eventbus implements the hub's in-process publish/subscribe event
// bus: typed and wildcard subscriptions, bounded per-subscriber mailboxes
// with drop-oldest back-pressure, a worker pool bounding concurrent handler
// execution, and a bounded ring-buffer history.
//
// The fan-out shape (snapshot subscribers under a read lock, dispatch
// through a bounded pool, never hold the lock during delivery) follows the
// route-first/short-circuit pattern of a memory-backed bus in the
// retrieval pack, simplified to plain goroutines and channels in place of
// a third-party worker-pool library and otel instrumentation this module
// does not carry.
package eventbus

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/nugget/integration-hub/internal/event"
	"github.com/nugget/integration-hub/internal/huberrors"
)

const (
	// DefaultMailboxSize is the bounded per-subscriber mailbox depth.
	DefaultMailboxSize = 1024
	// DefaultHistoryCap is the bounded ring-buffer history size.
	DefaultHistoryCap = 1000

	// TypeOverflow is published when a subscriber's mailbox drops events.
	TypeOverflow = "bus:overflow"
)

// Token identifies a subscription for later Unsubscribe calls.
type Token uint64

// Handler processes a delivered event. A Handler that panics is recovered
// and logged; it is never removed as a result.
type Handler func(event.Event)

// Config tunes the bus's resource bounds. Zero values fall back to the
// package defaults.
type Config struct {
	MailboxSize    int
	HistoryCap     int
	WorkerPoolSize int
	Logger         *slog.Logger
}

func (c Config) normalize() Config {
	if c.MailboxSize <= 0 {
		c.MailboxSize = DefaultMailboxSize
	}
	if c.HistoryCap <= 0 {
		c.HistoryCap = DefaultHistoryCap
	}
	if c.WorkerPoolSize <= 0 {
		c.WorkerPoolSize = runtime.NumCPU()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Bus is the hub's in-process event bus. The zero value is not usable;
// construct with New.
type Bus struct {
	cfg Config
	log *slog.Logger

	mu    sync.RWMutex
	subs  map[Token]*subscription
	next  atomic.Uint64
	sem   chan struct{} // bounds concurrent handler execution (the worker pool)
	ring  *ringBuffer
	overflowSignal chan struct{}
	overflowTotal  atomic.Uint64

	transform event.Transformer // optional, see event/transform.go
}

// New constructs a Bus ready to publish and subscribe.
func New(cfg Config) *Bus {
	cfg = cfg.normalize()
	b := &Bus{
		cfg:            cfg,
		log:            cfg.Logger,
		subs:           make(map[Token]*subscription),
		sem:            make(chan struct{}, cfg.WorkerPoolSize),
		ring:           newRingBuffer(cfg.HistoryCap),
		overflowSignal: make(chan struct{}, 1),
	}
	go b.overflowLoop()
	return b
}

// SetTransformer installs an optional hook invoked between publish and
// fan-out, as described in §9's camera-metadata-enrichment resolution.
// Passing nil restores the no-op default.
func (b *Bus) SetTransformer(t event.Transformer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transform = t
}

// Publish normalises e, appends it to history, then fans out to every
// matching subscriber. It does not validate e: an event with an empty
// Type or Source is published as given. It never blocks longer than a
// bounded mailbox enqueue per subscriber.
func (b *Bus) Publish(e event.Event) {
	e = event.Normalize(e)

	b.mu.RLock()
	transform := b.transform
	b.mu.RUnlock()
	if transform != nil {
		e = transform(e)
	}

	b.ring.add(e)

	b.mu.RLock()
	matched := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.matches(e) {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range matched {
		b.deliver(s, e)
	}
}

// deliver enqueues e onto s's mailbox, dropping the oldest queued event on
// overflow rather than blocking the publisher.
func (b *Bus) deliver(s *subscription, e event.Event) {
	select {
	case s.mailbox <- e:
		return
	default:
	}

	// Mailbox full: drop the oldest queued event, then enqueue the new one.
	select {
	case <-s.mailbox:
		s.dropped.Add(1)
		b.signalOverflow()
	default:
	}

	select {
	case s.mailbox <- e:
	default:
		// Raced with the drain loop; the event is lost but counted.
		s.dropped.Add(1)
		b.signalOverflow()
	}
}

func (b *Bus) signalOverflow() {
	b.overflowTotal.Add(1)
	select {
	case b.overflowSignal <- struct{}{}:
	default:
		// Already pending; the coalesced signal will pick up the new total.
	}
}

// overflowLoop publishes a coalesced bus:overflow event each time drops
// occur, reporting the cumulative drop count since the bus started. The
// overflow signal channel itself is bounded to size 1 and never blocks a
// drop from being counted.
func (b *Bus) overflowLoop() {
	for range b.overflowSignal {
		total := b.overflowTotal.Load()
		err := huberrors.BusOverflow("deliver", "", fmt.Errorf("%d events dropped since start", total))
		b.log.Warn("eventbus: mailbox overflow", "error", err)
		b.publishInternal(event.Event{
			Type:     TypeOverflow,
			Source:   event.SourceSystem,
			Priority: event.PriorityHigh,
			Data:     map[string]any{"dropped_total": total, "error": err.Error()},
		})
	}
}

// publishInternal publishes without re-entering the overflow-signalling
// path's own mailbox accounting loop semantics differently than Publish;
// it exists only so bus-internal events don't recurse through deliver in
// a confusing stack trace during debugging. Behaviourally identical to
// Publish.
func (b *Bus) publishInternal(e event.Event) {
	b.Publish(e)
}

// runHandler executes h(e) under the bus's worker-pool semaphore, bounding
// the number of concurrently executing handlers to cfg.WorkerPoolSize. A
// panicking handler is recovered and logged; it is not unsubscribed.
func (b *Bus) runHandler(s *subscription, h Handler, e event.Event) {
	b.sem <- struct{}{}
	defer func() { <-b.sem }()
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("eventbus: handler panicked", "token", s.token, "pattern", s.pattern, "panic", r)
		}
	}()
	h(e)
}
