// Package rules implements the Rule Engine: it subscribes to the event
// bus with a wildcard, evaluates enabled rules from the Rule Store
// against every event, and dispatches their actions in order.
package rules

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/integration-hub/internal/capability"
	"github.com/nugget/integration-hub/internal/event"
	"github.com/nugget/integration-hub/internal/eventbus"
	"github.com/nugget/integration-hub/internal/rulestore"
)

// Dispatcher is the narrow slice of the Registry the engine needs to
// execute "execute" actions, mirroring connector.EventSink's
// constructor-injection pattern so the engine never holds a full
// *registry.Registry.
type Dispatcher interface {
	Dispatch(ctx context.Context, instanceID, capID string, op capability.Operation, params map[string]any) (any, error)
}

// Notifier delivers a rendered notify{} action to a named channel. The
// production implementation routes through the Dispatcher at a
// connector's "send" capability; tests supply a fake.
type Notifier interface {
	Notify(ctx context.Context, channel, message string) error
}

// Recorder appends a record{} action's payload to an external store.
// Failure is non-fatal, per §4.6 step 4.
type Recorder interface {
	Record(ctx context.Context, channel string, payload map[string]any) error
}

// defaultActionTimeout bounds how long a single fired action may run
// before Dispatch aborts it with a timeout error, per §5. A hung
// connector must not stall the rest of a rule's action list.
const defaultActionTimeout = 15 * time.Second

// Engine is the Rule Engine (Component G).
type Engine struct {
	log      *slog.Logger
	bus      *eventbus.Bus
	store    *rulestore.Store
	dispatch Dispatcher
	notify   Notifier
	record   Recorder

	mu            sync.Mutex
	lastTriggered map[string]time.Time
	errorCounts   map[string]int
	token         eventbus.Token
}

// New constructs an Engine. notify/record may be nil if the deployment
// wires no channels for those action kinds; matching actions then log
// and count as a non-fatal error.
func New(bus *eventbus.Bus, store *rulestore.Store, dispatch Dispatcher, notify Notifier, record Recorder, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		log:           log,
		bus:           bus,
		store:         store,
		dispatch:      dispatch,
		notify:        notify,
		record:        record,
		lastTriggered: make(map[string]time.Time),
		errorCounts:   make(map[string]int),
	}
}

// Start subscribes the engine to every event on the bus.
func (e *Engine) Start() {
	e.token = e.bus.Subscribe("*", e.handle)
}

// Stop unsubscribes the engine from the bus.
func (e *Engine) Stop() {
	e.bus.Unsubscribe(e.token)
}

// ErrorCount returns how many action failures have been recorded
// against ruleID since startup.
func (e *Engine) ErrorCount(ruleID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errorCounts[ruleID]
}

func (e *Engine) handle(evt event.Event) {
	for _, r := range e.store.GetEnabled() {
		if !matchConditions(r.Conditions, evt) {
			continue
		}
		if e.inCooldown(r) {
			continue
		}
		e.fire(r, evt)
	}
}

func (e *Engine) inCooldown(r *rulestore.Rule) bool {
	if r.CooldownSec <= 0 {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.lastTriggered[r.ID]
	return ok && time.Since(last) < time.Duration(r.CooldownSec)*time.Second
}

func (e *Engine) markTriggered(ruleID string) {
	e.mu.Lock()
	e.lastTriggered[ruleID] = time.Now()
	e.mu.Unlock()
}

func (e *Engine) countError(ruleID string) {
	e.mu.Lock()
	e.errorCounts[ruleID]++
	e.mu.Unlock()
}

// fire appends the alarm_history row, runs every action in declared
// order, and publishes alarm:triggered, per §4.6 step 3.
func (e *Engine) fire(r *rulestore.Rule, evt event.Event) {
	e.markTriggered(r.ID)

	eventData, err := marshalData(evt.Data)
	if err != nil {
		e.log.Error("rules: marshal event data", "rule", r.ID, "error", err)
		eventData = "{}"
	}

	entry, err := e.store.RecordAlarmTrigger(r.ID, evt.Type, evt.Source, eventData)
	if err != nil {
		e.log.Error("rules: record alarm trigger", "rule", r.ID, "error", err)
		return
	}

	for _, a := range r.Actions {
		ctx, cancel := context.WithTimeout(context.Background(), defaultActionTimeout)
		err := e.runAction(ctx, a, evt)
		cancel()
		if err != nil {
			e.countError(r.ID)
			e.log.Error("rules: action failed", "rule", r.ID, "action", a.Type, "error", err)
		}
	}

	e.bus.Publish(event.Event{
		Type:   "alarm:triggered",
		Source: "rule-engine",
		Data: map[string]any{
			"ruleId":  r.ID,
			"alarmId": entry.ID,
		},
	})
}

func marshalData(data map[string]any) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
