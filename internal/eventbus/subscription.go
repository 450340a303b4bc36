package eventbus

import (
	"strings"
	"sync/atomic"

	"github.com/nugget/integration-hub/internal/event"
)

// subscription holds one subscriber's mailbox and matching rule. Exactly
// one goroutine drains a given subscription's mailbox, so deliveries to
// that subscriber preserve publish order from any single publisher.
type subscription struct {
	token   Token
	pattern string // literal type, "ns:*" prefix, or "*"
	filter  *event.Filter
	handler Handler
	mailbox chan event.Event
	dropped atomic.Uint64
	done    chan struct{}
}

func (s *subscription) matches(e event.Event) bool {
	if s.filter != nil {
		return s.filter.Match(e)
	}
	switch {
	case s.pattern == "*":
		return true
	case strings.HasSuffix(s.pattern, ":*"):
		return strings.HasPrefix(e.Type, strings.TrimSuffix(s.pattern, "*"))
	default:
		return e.Type == s.pattern
	}
}

func (s *subscription) drain(b *Bus) {
	defer close(s.done)
	for e := range s.mailbox {
		b.runHandler(s, s.handler, e)
	}
}

// Subscribe registers h for events matching pattern, which is either a
// literal event type, a namespace prefix ("camera:*"), or "*" for every
// event. It returns a token usable with Unsubscribe.
func (b *Bus) Subscribe(pattern string, h Handler) Token {
	s := &subscription{
		pattern: pattern,
		handler: h,
		mailbox: make(chan event.Event, b.cfg.MailboxSize),
		done:    make(chan struct{}),
	}
	return b.register(s)
}

// SubscribeFiltered registers h for events matching every predicate in f.
func (b *Bus) SubscribeFiltered(f event.Filter, h Handler) Token {
	s := &subscription{
		filter:  &f,
		handler: h,
		mailbox: make(chan event.Event, b.cfg.MailboxSize),
		done:    make(chan struct{}),
	}
	return b.register(s)
}

func (b *Bus) register(s *subscription) Token {
	s.token = Token(b.next.Add(1))
	b.mu.Lock()
	b.subs[s.token] = s
	b.mu.Unlock()
	go s.drain(b)
	return s.token
}

// Unsubscribe removes the subscription identified by tok and closes its
// mailbox. Events already enqueued are still delivered to the handler;
// the subscriber's drain goroutine exits once the mailbox is empty.
func (b *Bus) Unsubscribe(tok Token) {
	b.mu.Lock()
	s, ok := b.subs[tok]
	if ok {
		delete(b.subs, tok)
	}
	b.mu.Unlock()
	if ok {
		close(s.mailbox)
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// DroppedCount returns how many events have been dropped from tok's
// mailbox due to overflow.
func (b *Bus) DroppedCount(tok Token) uint64 {
	b.mu.RLock()
	s, ok := b.subs[tok]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	return s.dropped.Load()
}
