package connector

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nugget/integration-hub/internal/capability"
	"github.com/nugget/integration-hub/internal/huberrors"
)

// Status is a connector instance's lifecycle state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Stats tracks per-instance traffic counters, updated on every operation
// per §4.3 step 8/9.
type Stats struct {
	MessagesSent     int64
	MessagesReceived int64
	Errors           int64
	LastActivity     time.Time
}

// EventSink receives the lifecycle and operation events an instance
// emits. The registry is the production implementation; it republishes
// each event on the global bus as connector:<event>. Constructor
// injection of this narrow interface keeps the instance from holding a
// reference to the whole registry, avoiding the cycle the source
// material's "safe logger" wrapper worked around.
type EventSink interface {
	Emit(instanceID, name string, payload map[string]any)
}

type noopSink struct{}

func (noopSink) Emit(string, string, map[string]any) {}

// Snapshot is the serialisable view of an instance's attributes, per §3.
type Snapshot struct {
	ID                  string
	Type                string
	Name                string
	Description         string
	Config              map[string]any
	Status              Status
	EnabledCapabilities map[string]bool
	Stats               Stats
	LastConnected       time.Time
	LastError           string
	ConnectionAttempts   int
}

// Instance is a live connector: a Driver plus the shared state machine,
// stats, and event emission common to every connector type.
type Instance struct {
	ID          string
	Name        string
	Description string
	driver      Driver

	mu     sync.Mutex // serialises lifecycle transitions and Execute calls
	status Status
	config map[string]any
	enabled map[string]bool

	stats atomicStats

	lastConnected      time.Time
	lastError          error
	connectionAttempts atomic.Int64

	sink EventSink
}

type atomicStats struct {
	sent, received, errs atomic.Int64
	lastActivity         atomic.Value // time.Time
}

func (s *atomicStats) touch() { s.lastActivity.Store(time.Now().UTC()) }

func (s *atomicStats) snapshot() Stats {
	t, _ := s.lastActivity.Load().(time.Time)
	return Stats{
		MessagesSent:     s.sent.Load(),
		MessagesReceived: s.received.Load(),
		Errors:           s.errs.Load(),
		LastActivity:     t,
	}
}

// New constructs an Instance in the Disconnected state. All declared
// capabilities default to enabled, per §3.
func New(id, name, description string, driver Driver, cfg map[string]any, sink EventSink) *Instance {
	if sink == nil {
		sink = noopSink{}
	}
	enabled := make(map[string]bool)
	for _, d := range driver.Capabilities() {
		enabled[d.ID] = true
	}
	return &Instance{
		ID:          id,
		Name:        name,
		Description: description,
		driver:      driver,
		status:      StatusDisconnected,
		config:      cfg,
		enabled:     enabled,
		sink:        sink,
	}
}

// Type returns the connector type identifier.
func (in *Instance) Type() string { return in.driver.Type() }

// Definitions returns the type's declared capability schema.
func (in *Instance) Definitions() []capability.Definition { return in.driver.Capabilities() }

// Status returns the current lifecycle state.
func (in *Instance) Status() Status {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.status
}

// Enabled reports whether capID is enabled on this instance.
func (in *Instance) Enabled(capID string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.enabled[capID]
}

// SetCapabilityEnabled toggles capID and emits capability-changed.
func (in *Instance) SetCapabilityEnabled(capID string, on bool) {
	in.mu.Lock()
	in.enabled[capID] = on
	in.mu.Unlock()
	in.sink.Emit(in.ID, "capability-changed", map[string]any{"capabilityId": capID, "enabled": on})
}

// SetConfig replaces the instance's config and emits config-updated.
func (in *Instance) SetConfig(cfg map[string]any) {
	in.mu.Lock()
	in.config = cfg
	in.mu.Unlock()
	in.sink.Emit(in.ID, "config-updated", map[string]any{})
}

// Snapshot returns a cycle-safe, serialisable view of the instance, per
// §4.4's config-persistence requirement: never the live driver or sink.
func (in *Instance) Snapshot() Snapshot {
	in.mu.Lock()
	defer in.mu.Unlock()
	enabled := make(map[string]bool, len(in.enabled))
	for k, v := range in.enabled {
		enabled[k] = v
	}
	lastErr := ""
	if in.lastError != nil {
		lastErr = in.lastError.Error()
	}
	return Snapshot{
		ID:                 in.ID,
		Type:               in.driver.Type(),
		Name:               in.Name,
		Description:        in.Description,
		Config:             in.config,
		Status:             in.status,
		EnabledCapabilities: enabled,
		Stats:              in.stats.snapshot(),
		LastConnected:      in.lastConnected,
		LastError:          lastErr,
		ConnectionAttempts: int(in.connectionAttempts.Load()),
	}
}

// ConnectionAttempts returns the current retry counter, reset to 0 on a
// successful connect.
func (in *Instance) ConnectionAttempts() int { return int(in.connectionAttempts.Load()) }

// LastError returns the most recently recorded connect/disconnect error,
// or nil.
func (in *Instance) LastError() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.lastError
}

func (in *Instance) emit(name string, payload map[string]any) {
	in.sink.Emit(in.ID, name, payload)
}

// errConnect/errDisconnect scope a typed error to this instance.
func (in *Instance) errConnect(err error) error    { return huberrors.Connect("connect", in.ID, err) }
func (in *Instance) errDisconnect(err error) error { return huberrors.Disconnect("disconnect", in.ID, err) }
