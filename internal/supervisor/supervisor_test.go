package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nugget/integration-hub/internal/capability"
	"github.com/nugget/integration-hub/internal/config"
	"github.com/nugget/integration-hub/internal/connector"
	"github.com/nugget/integration-hub/internal/eventbus"
	"github.com/nugget/integration-hub/internal/registry"
	"github.com/nugget/integration-hub/internal/rules"
	"github.com/nugget/integration-hub/internal/rulestore"
)

// fakeDriver is a recording connector driver, modeled on
// connector_test.go's fixture of the same name: connectErrs are popped
// in order so a test can make the first N connect attempts fail before
// succeeding.
type fakeDriver struct {
	mu          sync.Mutex
	connectErrs []error
	connectCalls int
}

func (f *fakeDriver) Type() string { return "fake-sensor" }
func (f *fakeDriver) Capabilities() []capability.Definition {
	return []capability.Definition{{
		ID:         "sensor:read",
		Operations: []capability.Operation{capability.OpRead},
	}}
}
func (f *fakeDriver) ValidateConfig(cfg map[string]any) error     { return nil }
func (f *fakeDriver) PerformDisconnect(ctx context.Context) error { return nil }

func (f *fakeDriver) PerformConnect(ctx context.Context, cfg map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		return err
	}
	return nil
}

func (f *fakeDriver) ExecuteCapability(ctx context.Context, capID string, op capability.Operation, params map[string]any) (any, error) {
	return nil, nil
}

func (f *fakeDriver) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

func testStore(t *testing.T) *rulestore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.db")
	st, err := rulestore.NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testConfig(connectors ...registry.InstanceConfig) *config.Config {
	cfg := config.Default()
	cfg.Connectors = connectors
	return cfg
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newTestSupervisor(t *testing.T, driver *fakeDriver) (*Supervisor, *registry.Registry, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New(eventbus.Config{})
	reg := registry.New(bus, nil)
	if err := reg.RegisterType(func() connector.Driver { return driver }); err != nil {
		t.Fatalf("RegisterType: %v", err)
	}
	store := testStore(t)
	engine := rules.New(bus, store, reg, nil, nil, nil)
	cfg := testConfig(registry.InstanceConfig{ID: "sensor-1", Type: "fake-sensor", Name: "Sensor 1"})

	sup := New(cfg, bus, reg, store, engine, nil)
	// Speed up reconnection for the test instead of waiting through the
	// real 1s/2s/4s.../60s schedule.
	sup.reconnect.backoff = Backoff{Initial: time.Millisecond, Factor: 1, Cap: 5 * time.Millisecond}
	return sup, reg, bus
}

func TestBoot_RecreatesConfiguredInstancesAndConnects(t *testing.T) {
	driver := &fakeDriver{}
	sup, reg, _ := newTestSupervisor(t, driver)

	if err := sup.Boot(context.Background()); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	defer sup.Shutdown(context.Background())

	in := reg.Get("sensor-1")
	if in == nil {
		t.Fatal("expected sensor-1 to be recreated from cfg.Connectors")
	}
	waitFor(t, func() bool { return in.Status() == connector.StatusConnected })
}

func TestBoot_SkipsAutoDiscoveryWhenDirUnset(t *testing.T) {
	driver := &fakeDriver{}
	sup, _, _ := newTestSupervisor(t, driver)
	sup.cfg.Hub.AutoDiscoveryDir = ""

	if err := sup.Boot(context.Background()); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	defer sup.Shutdown(context.Background())
}

func TestBoot_AutoDiscoversTypesFromConfiguredDir(t *testing.T) {
	driver := &fakeDriver{}
	sup, reg, _ := newTestSupervisor(t, driver)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "web-gui.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}
	sup.cfg.Hub.AutoDiscoveryDir = dir

	if err := sup.Boot(context.Background()); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	defer sup.Shutdown(context.Background())

	found := false
	for _, ti := range reg.Types() {
		if ti.ID == "web-gui" {
			found = true
		}
	}
	if !found {
		t.Error("expected web-gui type to be catalogued from auto-discovery")
	}
}

func TestReconnect_ConnectionErrorTriggersRetryUntilConnected(t *testing.T) {
	driver := &fakeDriver{connectErrs: []error{errors.New("refused"), errors.New("refused")}}
	sup, reg, _ := newTestSupervisor(t, driver)

	if err := sup.Boot(context.Background()); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	defer sup.Shutdown(context.Background())

	in := reg.Get("sensor-1")
	waitFor(t, func() bool { return in.Status() == connector.StatusConnected })

	if driver.calls() < 3 {
		t.Errorf("expected at least 3 connect attempts (2 failures + 1 success), got %d", driver.calls())
	}
}

func TestShutdown_DisconnectsInstancesAndClosesStore(t *testing.T) {
	driver := &fakeDriver{}
	sup, reg, _ := newTestSupervisor(t, driver)

	if err := sup.Boot(context.Background()); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	in := reg.Get("sensor-1")
	waitFor(t, func() bool { return in.Status() == connector.StatusConnected })

	if err := sup.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if in.Status() == connector.StatusConnected {
		t.Error("expected instance to be disconnected after Shutdown")
	}
	if _, err := sup.store.GetStats(); err == nil {
		t.Error("expected rule store operations to fail after Shutdown closed it")
	}
}

func TestShutdown_StopsHealthLoopAndReconnectGoroutines(t *testing.T) {
	driver := &fakeDriver{}
	sup, reg, _ := newTestSupervisor(t, driver)

	if err := sup.Boot(context.Background()); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	in := reg.Get("sensor-1")
	waitFor(t, func() bool { return in.Status() == connector.StatusConnected })

	done := make(chan struct{})
	go func() {
		sup.Shutdown(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return, suspect a leaked goroutine")
	}
}
