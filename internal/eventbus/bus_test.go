package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/nugget/integration-hub/internal/event"
)

func newTestBus(cfg Config) *Bus {
	return New(cfg)
}

func TestPublish_DeliversToExactTypeSubscriber(t *testing.T) {
	b := newTestBus(Config{})
	got := make(chan event.Event, 1)
	b.Subscribe("camera:motion", func(e event.Event) { got <- e })

	b.Publish(event.Event{Type: "camera:motion", Source: "cam-7"})

	select {
	case e := <-got:
		if e.Source != "cam-7" {
			t.Errorf("got source %q, want cam-7", e.Source)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestPublish_WildcardAndPrefixSubscribers(t *testing.T) {
	b := newTestBus(Config{})
	wild := make(chan event.Event, 4)
	prefix := make(chan event.Event, 4)
	b.Subscribe("*", func(e event.Event) { wild <- e })
	b.Subscribe("camera:*", func(e event.Event) { prefix <- e })

	b.Publish(event.Event{Type: "camera:motion"})
	b.Publish(event.Event{Type: "adsb:squawk"})

	drain := func(ch chan event.Event, n int) []event.Event {
		var out []event.Event
		for i := 0; i < n; i++ {
			select {
			case e := <-ch:
				out = append(out, e)
			case <-time.After(time.Second):
				t.Fatal("timed out draining channel")
			}
		}
		return out
	}

	if got := drain(wild, 2); len(got) != 2 {
		t.Errorf("wildcard subscriber got %d events, want 2", len(got))
	}
	if got := drain(prefix, 1); len(got) != 1 || got[0].Type != "camera:motion" {
		t.Errorf("prefix subscriber got %v, want exactly camera:motion", got)
	}
}

func TestPublish_OrderPreservedPerSubscriber(t *testing.T) {
	b := newTestBus(Config{})
	var mu sync.Mutex
	var order []int
	done := make(chan struct{})
	count := 0
	b.Subscribe("seq", func(e event.Event) {
		mu.Lock()
		order = append(order, e.Data["n"].(int))
		count++
		if count == 5 {
			close(done)
		}
		mu.Unlock()
	})

	for i := 0; i < 5; i++ {
		b.Publish(event.Event{Type: "seq", Data: map[string]any{"n": i}})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for all deliveries")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, n := range order {
		if n != i {
			t.Fatalf("order = %v, want 0..4 in order", order)
		}
	}
}

func TestPublish_OverflowDropsOldestAndSignals(t *testing.T) {
	b := newTestBus(Config{MailboxSize: 4})
	block := make(chan struct{})

	b.Subscribe("burst", func(e event.Event) {
		<-block // hold the first delivery so the mailbox backs up
	})

	overflow := make(chan event.Event, 1)
	b.Subscribe("bus:overflow", func(e event.Event) {
		select {
		case overflow <- e:
		default:
		}
	})

	for i := 0; i < 10; i++ {
		b.Publish(event.Event{Type: "burst", Data: map[string]any{"n": i}})
	}
	close(block)

	select {
	case e := <-overflow:
		dropped, _ := e.Data["dropped_total"].(uint64)
		if dropped == 0 {
			t.Errorf("expected nonzero dropped_total, got %v", e.Data["dropped_total"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bus:overflow event")
	}
}

func TestHistory_BoundedToCapAndNewestFirst(t *testing.T) {
	b := newTestBus(Config{HistoryCap: 3})
	for i := 0; i < 5; i++ {
		b.Publish(event.Event{Type: "t", Data: map[string]any{"n": i}})
	}
	hist := b.History(HistoryQuery{})
	if len(hist) != 3 {
		t.Fatalf("History len = %d, want 3", len(hist))
	}
	if hist[0].Data["n"] != 4 {
		t.Errorf("hist[0].Data[n] = %v, want 4 (newest first)", hist[0].Data["n"])
	}
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	b := newTestBus(Config{})
	got := make(chan event.Event, 1)
	tok := b.Subscribe("t", func(e event.Event) { got <- e })
	b.Unsubscribe(tok)

	b.Publish(event.Event{Type: "t"})

	select {
	case <-got:
		t.Fatal("unsubscribed handler should not receive events")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribeFiltered_OnlyMatchingDelivered(t *testing.T) {
	b := newTestBus(Config{})
	got := make(chan event.Event, 4)
	b.SubscribeFiltered(event.Filter{DataPath: []event.DataCondition{
		{Path: "confidence", Operator: event.OpMin, Value: 0.8},
	}}, func(e event.Event) { got <- e })

	b.Publish(event.Event{Type: "detect", Data: map[string]any{"confidence": 0.5}})
	b.Publish(event.Event{Type: "detect", Data: map[string]any{"confidence": 0.95}})

	select {
	case e := <-got:
		if e.Data["confidence"] != 0.95 {
			t.Errorf("expected only the high-confidence event, got %v", e.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for filtered delivery")
	}

	select {
	case e := <-got:
		t.Fatalf("unexpected second delivery: %v", e.Data)
	case <-time.After(100 * time.Millisecond):
	}
}
