// Package registry implements the connector type catalogue and instance
// catalogue: registration, auto-discovery, CRUD, connect/disconnect
// sweeps, capability-match queries, and event forwarding onto the bus.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/nugget/integration-hub/internal/capability"
	"github.com/nugget/integration-hub/internal/connector"
	"github.com/nugget/integration-hub/internal/event"
	"github.com/nugget/integration-hub/internal/eventbus"
	"github.com/nugget/integration-hub/internal/huberrors"
)

// InstanceConfig is the create/update tuple for a connector instance,
// per §3's Connector Instance.
type InstanceConfig struct {
	ID                  string
	Type                string
	Name                string
	Description         string
	Config              map[string]any
	EnabledCapabilities  []string
	DisabledCapabilities []string
}

// Registry holds the type catalogue and the instance catalogue. It
// implements connector.EventSink so instances can emit lifecycle events
// without holding a reference back to the registry itself.
type Registry struct {
	log  *slog.Logger
	bus  *eventbus.Bus
	disp *connector.Dispatcher

	mu      sync.RWMutex
	types   map[string]TypeInfo
	instances map[string]*connector.Instance

	persist *persister // nil disables config persistence
}

// New constructs an empty Registry wired to bus.
func New(bus *eventbus.Bus, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:       log,
		bus:       bus,
		disp:      connector.NewDispatcher(),
		types:     make(map[string]TypeInfo),
		instances: make(map[string]*connector.Instance),
	}
}

// EnablePersistence configures a debounced JSON snapshot writer at path.
// See persist.go.
func (r *Registry) EnablePersistence(path string) {
	r.persist = newPersister(path, r.log)
}

// EnableCheckpoints attaches a sqlite-backed checkpoint store at path to
// the registry's persister, so every JSON snapshot write is also
// recorded as a timestamped row for crash-recovery and audit purposes.
// Must be called after EnablePersistence. See checkpoint.go.
func (r *Registry) EnableCheckpoints(path string) error {
	if r.persist == nil {
		return fmt.Errorf("registry: EnableCheckpoints requires EnablePersistence first")
	}
	store, err := NewCheckpointStore(path)
	if err != nil {
		return err
	}
	r.persist.checkpoint = store
	return nil
}

// Close releases resources held by the registry's persistence layer.
func (r *Registry) Close() error {
	if r.persist != nil && r.persist.checkpoint != nil {
		return r.persist.checkpoint.Close()
	}
	return nil
}

// RegisterType registers a compiled-in connector type under the id its
// Driver reports, rejecting duplicates.
func (r *Registry) RegisterType(f Factory) error {
	probe := f()
	id := probe.Type()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[id]; exists {
		return huberrors.Config("registerType", id, fmt.Errorf("type %q already registered", id))
	}
	r.types[id] = TypeInfo{ID: id, Capabilities: probe.Capabilities(), factory: f}
	return nil
}

// AutoDiscoverTypes enumerates dir's entries and catalogues a TypeInfo
// for each derived identifier, per §4.4/§6. An entry whose derived id
// was already catalogued in this call is skipped with a warning. An
// entry whose id matches a type registered via RegisterType is left
// alone (the compiled-in factory is authoritative).
func (r *Registry) AutoDiscoverTypes(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, huberrors.Config("autoDiscoverTypes", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strippedBaseName(e.Name()))
	}
	sort.Strings(names)

	r.mu.Lock()
	defer r.mu.Unlock()

	discovered := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		id := DeriveTypeID(name)
		if seen[id] {
			r.log.Warn("registry: duplicate auto-discovered type id, skipping", "id", id, "source", name)
			continue
		}
		seen[id] = true
		if _, exists := r.types[id]; exists {
			discovered = append(discovered, id)
			continue
		}
		r.types[id] = TypeInfo{ID: id}
		discovered = append(discovered, id)
	}
	return discovered, nil
}

func strippedBaseName(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}

// Types returns a snapshot of the type catalogue.
func (r *Registry) Types() []TypeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TypeInfo, 0, len(r.types))
	for _, t := range r.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CreateInstance validates cfg, constructs the instance via its type's
// factory, and adds it to the catalogue. Capability overrides in cfg are
// applied after construction (defaults come from the type's schema).
func (r *Registry) CreateInstance(cfg InstanceConfig) (*connector.Instance, error) {
	if cfg.ID == "" {
		return nil, huberrors.Config("createInstance", "", fmt.Errorf("id is required"))
	}

	r.mu.Lock()
	if _, exists := r.instances[cfg.ID]; exists {
		r.mu.Unlock()
		return nil, huberrors.Config("createInstance", cfg.ID, fmt.Errorf("duplicate instance id"))
	}
	t, exists := r.types[cfg.Type]
	if !exists {
		r.mu.Unlock()
		return nil, huberrors.Config("createInstance", cfg.ID, fmt.Errorf("unknown type %q", cfg.Type))
	}
	if !t.Instantiable() {
		r.mu.Unlock()
		return nil, huberrors.Config("createInstance", cfg.ID, fmt.Errorf("type %q has no registered factory", cfg.Type))
	}
	r.mu.Unlock()

	driver := t.factory()
	if err := driver.ValidateConfig(cfg.Config); err != nil {
		return nil, huberrors.Config("createInstance", cfg.ID, err)
	}

	in := connector.New(cfg.ID, cfg.Name, cfg.Description, driver, cfg.Config, r)
	for _, capID := range cfg.EnabledCapabilities {
		in.SetCapabilityEnabled(capID, true)
	}
	for _, capID := range cfg.DisabledCapabilities {
		in.SetCapabilityEnabled(capID, false)
	}

	r.mu.Lock()
	r.instances[cfg.ID] = in
	r.mu.Unlock()

	r.Emit(cfg.ID, "created", map[string]any{"type": cfg.Type})
	r.schedulePersist()
	return in, nil
}

// Get returns the instance with the given id, or nil.
func (r *Registry) Get(id string) *connector.Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instances[id]
}

// Instances returns a snapshot of every instance, sorted by id.
func (r *Registry) Instances() []*connector.Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*connector.Instance, 0, len(r.instances))
	for _, in := range r.instances {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpdateInstance merges cfg.Config (if non-nil) and applies capability
// enable/disable overrides.
func (r *Registry) UpdateInstance(id string, cfg InstanceConfig) error {
	in := r.Get(id)
	if in == nil {
		return huberrors.Config("updateInstance", id, fmt.Errorf("unknown instance"))
	}
	if cfg.Config != nil {
		in.SetConfig(cfg.Config)
	}
	for _, capID := range cfg.EnabledCapabilities {
		in.SetCapabilityEnabled(capID, true)
	}
	for _, capID := range cfg.DisabledCapabilities {
		in.SetCapabilityEnabled(capID, false)
	}
	r.schedulePersist()
	return nil
}

// RemoveInstance drives a connected instance to Disconnected, then
// drops it from the catalogue.
func (r *Registry) RemoveInstance(ctx context.Context, id string) error {
	in := r.Get(id)
	if in == nil {
		return huberrors.Config("removeInstance", id, fmt.Errorf("unknown instance"))
	}
	if in.Status() == connector.StatusConnected {
		if err := in.Disconnect(ctx); err != nil {
			return err
		}
	}
	r.mu.Lock()
	delete(r.instances, id)
	r.mu.Unlock()
	r.Emit(id, "removed", map[string]any{})
	r.schedulePersist()
	return nil
}

// ConnectAll attempts to connect every instance, returning a per-instance
// outcome map. It never holds the registry mutex during a connector's
// performConnect.
func (r *Registry) ConnectAll(ctx context.Context) map[string]error {
	return r.sweep(ctx, (*connector.Instance).Connect)
}

// DisconnectAll attempts to disconnect every instance.
func (r *Registry) DisconnectAll(ctx context.Context) map[string]error {
	return r.sweep(ctx, (*connector.Instance).Disconnect)
}

func (r *Registry) sweep(ctx context.Context, op func(*connector.Instance, context.Context) error) map[string]error {
	instances := r.Instances()
	results := make(map[string]error, len(instances))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, in := range instances {
		wg.Add(1)
		go func(in *connector.Instance) {
			defer wg.Done()
			err := op(in, ctx)
			mu.Lock()
			results[in.ID] = err
			mu.Unlock()
		}(in)
	}
	wg.Wait()
	return results
}

// Dispatch executes (capID, op, params) against the named instance
// through the shared Dispatcher.
func (r *Registry) Dispatch(ctx context.Context, instanceID, capID string, op capability.Operation, params map[string]any) (any, error) {
	in := r.Get(instanceID)
	if in == nil {
		return nil, huberrors.Capability("dispatch", instanceID, fmt.Errorf("unknown instance"))
	}
	return r.disp.Dispatch(ctx, in, capID, op, params)
}

// Emit implements connector.EventSink: every instance event is
// republished on the bus as connector:<name> with the connector id
// attached, per §4.4's event-forwarding requirement.
func (r *Registry) Emit(instanceID, name string, payload map[string]any) {
	data := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		data[k] = v
	}
	data["connectorId"] = instanceID
	r.bus.Publish(event.Event{
		Type:   "connector:" + name,
		Source: instanceID,
		Data:   data,
	})
}

func (r *Registry) schedulePersist() {
	if r.persist == nil {
		return
	}
	r.persist.schedule(r.snapshotForPersist())
}

func (r *Registry) snapshotForPersist() []connector.Snapshot {
	instances := r.Instances()
	out := make([]connector.Snapshot, 0, len(instances))
	for _, in := range instances {
		out = append(out, in.Snapshot())
	}
	return out
}
