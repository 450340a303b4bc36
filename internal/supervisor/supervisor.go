// Package supervisor implements boot orchestration, per-connector
// reconnection, periodic health snapshots, and graceful shutdown for the
// integration hub (Component H).
package supervisor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nugget/integration-hub/internal/config"
	"github.com/nugget/integration-hub/internal/event"
	"github.com/nugget/integration-hub/internal/eventbus"
	"github.com/nugget/integration-hub/internal/registry"
	"github.com/nugget/integration-hub/internal/rules"
	"github.com/nugget/integration-hub/internal/rulestore"
)

// Supervisor owns the hub's top-level lifecycle: boot, health snapshots,
// reconnection, and shutdown.
type Supervisor struct {
	log      *slog.Logger
	cfg      *config.Config
	bus      *eventbus.Bus
	registry *registry.Registry
	store    *rulestore.Store
	engine   *rules.Engine

	reconnect *reconnectManager

	errorToken eventbus.Token
	stopHealth chan struct{}
	wg         sync.WaitGroup
}

// New constructs a Supervisor wired to the given components. All of bus,
// registry, store, and engine must already be constructed; New does not
// start anything until Boot is called.
func New(cfg *config.Config, bus *eventbus.Bus, reg *registry.Registry, store *rulestore.Store, engine *rules.Engine, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		log:        log,
		cfg:        cfg,
		bus:        bus,
		registry:   reg,
		store:      store,
		engine:     engine,
		reconnect:  newReconnectManager(DefaultBackoff(), log),
		stopHealth: make(chan struct{}),
	}
}

// Boot runs the exact sequence from §4.8: auto-discover connector types,
// recreate persisted instances, start the Rule Engine, subscribe the
// reconnection watcher, start the health snapshot loop, and connectAll.
func (s *Supervisor) Boot(ctx context.Context) error {
	if s.cfg.Hub.AutoDiscoveryDir != "" {
		ids, err := s.registry.AutoDiscoverTypes(s.cfg.Hub.AutoDiscoveryDir)
		if err != nil {
			s.log.Warn("supervisor: auto-discovery failed", "dir", s.cfg.Hub.AutoDiscoveryDir, "error", err)
		} else {
			s.log.Info("supervisor: auto-discovered connector types", "count", len(ids), "types", ids)
		}
	}

	for _, ic := range s.cfg.Connectors {
		if _, err := s.registry.CreateInstance(ic); err != nil {
			s.log.Error("supervisor: failed to recreate connector instance", "id", ic.ID, "error", err)
		}
	}

	s.engine.Start()

	s.errorToken = s.bus.Subscribe("connector:connection-error", s.onConnectionError)

	s.wg.Add(1)
	go s.runHealthLoop(s.cfg.HealthInterval())

	results := s.registry.ConnectAll(ctx)
	for id, err := range results {
		if err != nil {
			s.log.Warn("supervisor: initial connect failed, will retry", "connector", id, "error", err)
		}
	}

	return nil
}

// onConnectionError starts (or no-ops if already running) a reconnect
// loop for the connector named in e.Data["connectorId"].
func (s *Supervisor) onConnectionError(e event.Event) {
	id, _ := e.Data["connectorId"].(string)
	if id == "" {
		return
	}
	in := s.registry.Get(id)
	if in == nil {
		return
	}
	s.reconnect.Watch(context.Background(), in)
}

// Shutdown stops the health loop and reconnection watchers, stops the
// Rule Engine, disconnects every connector, closes the registry's
// checkpoint store, and closes the Rule Store. It does not drain the
// bus: events still queued in subscriber mailboxes are not waited for.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	close(s.stopHealth)
	s.bus.Unsubscribe(s.errorToken)
	s.reconnect.Stop()
	s.wg.Wait()

	s.engine.Stop()

	results := s.registry.DisconnectAll(ctx)
	for id, err := range results {
		if err != nil {
			s.log.Error("supervisor: disconnect failed during shutdown", "connector", id, "error", err)
		}
	}

	if err := s.registry.Close(); err != nil {
		s.log.Error("supervisor: registry close failed during shutdown", "error", err)
	}

	return s.store.Close()
}
