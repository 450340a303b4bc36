package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nugget/integration-hub/internal/capability"
	"github.com/nugget/integration-hub/internal/connector"
	"github.com/nugget/integration-hub/internal/event"
	"github.com/nugget/integration-hub/internal/eventbus"
)

type stubDriver struct {
	typ  string
	defs []capability.Definition
}

func (s *stubDriver) Type() string                           { return s.typ }
func (s *stubDriver) Capabilities() []capability.Definition   { return s.defs }
func (s *stubDriver) ValidateConfig(map[string]any) error     { return nil }
func (s *stubDriver) PerformConnect(context.Context, map[string]any) error { return nil }
func (s *stubDriver) PerformDisconnect(context.Context) error { return nil }
func (s *stubDriver) ExecuteCapability(context.Context, string, capability.Operation, map[string]any) (any, error) {
	return nil, nil
}

func newCameraFactory() Factory {
	return func() connector.Driver {
		return &stubDriver{
			typ: "camera",
			defs: []capability.Definition{
				{ID: "camera:event:motion", Operations: []capability.Operation{capability.OpTrigger}},
			},
		}
	}
}

func newTelegramFactory() Factory {
	return func() connector.Driver {
		return &stubDriver{
			typ: "telegram",
			defs: []capability.Definition{
				{ID: "telegram:send", Operations: []capability.Operation{capability.OpSend}},
			},
		}
	}
}

func TestDeriveTypeID_ExactScenario(t *testing.T) {
	cases := map[string]string{
		"UnifiProtectConnector":      "unifi-protect",
		"ADSBConnector":              "adsb",
		"SpeedDetectionGuiConnector": "speed-detection-gui",
	}
	for in, want := range cases {
		if got := DeriveTypeID(in); got != want {
			t.Errorf("DeriveTypeID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAutoDiscoverTypes_ExactScenario(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"UnifiProtectConnector", "ADSBConnector", "SpeedDetectionGuiConnector"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	r := New(eventbus.New(eventbus.Config{}), nil)
	ids, err := r.AutoDiscoverTypes(dir)
	if err != nil {
		t.Fatalf("AutoDiscoverTypes: %v", err)
	}

	want := map[string]bool{"unifi-protect": true, "adsb": true, "speed-detection-gui": true}
	if len(ids) != len(want) {
		t.Fatalf("got %v, want exactly %v", ids, want)
	}
	for _, id := range ids {
		if !want[id] {
			t.Errorf("unexpected discovered id %q", id)
		}
	}
}

func TestCreateInstance_RejectsDuplicateID(t *testing.T) {
	r := New(eventbus.New(eventbus.Config{}), nil)
	if err := r.RegisterType(newCameraFactory()); err != nil {
		t.Fatal(err)
	}
	cfg := InstanceConfig{ID: "cam-7", Type: "camera"}
	if _, err := r.CreateInstance(cfg); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := r.CreateInstance(cfg); err == nil {
		t.Fatal("expected ConfigError on duplicate id")
	}
}

func TestCreateInstance_RejectsUnknownType(t *testing.T) {
	r := New(eventbus.New(eventbus.Config{}), nil)
	_, err := r.CreateInstance(InstanceConfig{ID: "x", Type: "nope"})
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestFindCapabilityMatches_ExactScenario(t *testing.T) {
	r := New(eventbus.New(eventbus.Config{}), nil)
	if err := r.RegisterType(newCameraFactory()); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterType(newTelegramFactory()); err != nil {
		t.Fatal(err)
	}
	if _, err := r.CreateInstance(InstanceConfig{ID: "cam-7", Type: "camera"}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.CreateInstance(InstanceConfig{ID: "telegram-main", Type: "telegram"}); err != nil {
		t.Fatal(err)
	}

	matches := r.FindCapabilityMatches("camera:event:motion", "telegram:send")
	if len(matches) != 1 {
		t.Fatalf("matches = %v, want exactly one pair", matches)
	}
	if matches[0].Producer != "cam-7" || matches[0].Consumer != "telegram-main" {
		t.Errorf("match = %+v, want cam-7 -> telegram-main", matches[0])
	}
}

func TestFindCapabilityMatches_ExcludesSelfPair(t *testing.T) {
	r := New(eventbus.New(eventbus.Config{}), nil)
	if err := r.RegisterType(newCameraFactory()); err != nil {
		t.Fatal(err)
	}
	if _, err := r.CreateInstance(InstanceConfig{ID: "cam-7", Type: "camera"}); err != nil {
		t.Fatal(err)
	}

	matches := r.FindCapabilityMatches("camera:event:motion", "camera:event:motion")
	if len(matches) != 0 {
		t.Errorf("expected no self-pairs, got %v", matches)
	}
}

func TestRemoveInstance_DisconnectsFirst(t *testing.T) {
	r := New(eventbus.New(eventbus.Config{}), nil)
	if err := r.RegisterType(newCameraFactory()); err != nil {
		t.Fatal(err)
	}
	in, err := r.CreateInstance(InstanceConfig{ID: "cam-7", Type: "camera"})
	if err != nil {
		t.Fatal(err)
	}
	if err := in.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := r.RemoveInstance(context.Background(), "cam-7"); err != nil {
		t.Fatalf("RemoveInstance: %v", err)
	}
	if r.Get("cam-7") != nil {
		t.Fatal("instance should be removed")
	}
}

func TestEmit_ForwardsAsConnectorPrefixedEvent(t *testing.T) {
	bus := eventbus.New(eventbus.Config{})
	r := New(bus, nil)
	got := make(chan event.Event, 1)
	bus.Subscribe("connector:created", func(e event.Event) { got <- e })

	if err := r.RegisterType(newCameraFactory()); err != nil {
		t.Fatal(err)
	}
	if _, err := r.CreateInstance(InstanceConfig{ID: "cam-7", Type: "camera"}); err != nil {
		t.Fatal(err)
	}

	select {
	case e := <-got:
		if e.Data["connectorId"] != "cam-7" {
			t.Errorf("connectorId = %v, want cam-7", e.Data["connectorId"])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for connector:created")
	}
}

func TestConnectAll_ReportsPerInstanceOutcome(t *testing.T) {
	r := New(eventbus.New(eventbus.Config{}), nil)
	if err := r.RegisterType(newCameraFactory()); err != nil {
		t.Fatal(err)
	}
	if _, err := r.CreateInstance(InstanceConfig{ID: "cam-7", Type: "camera"}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.CreateInstance(InstanceConfig{ID: "cam-8", Type: "camera"}); err != nil {
		t.Fatal(err)
	}

	results := r.ConnectAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("results = %v, want 2 entries", results)
	}
	for id, err := range results {
		if err != nil {
			t.Errorf("ConnectAll[%s] = %v, want nil", id, err)
		}
	}
}
