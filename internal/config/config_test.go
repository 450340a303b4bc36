package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.json")
	os.WriteFile(path, []byte(`{"hub":{"workerPoolSize":4}}`), 0o600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.json")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(`{"hub":{}}`), 0o600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.json" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.json")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(`{"hub":{"ruleStorePath":"${HUB_TEST_DIR}/rules.db"}}`), 0o600)
	os.Setenv("HUB_TEST_DIR", "/var/lib/hubd")
	defer os.Unsetenv("HUB_TEST_DIR")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Hub.RuleStorePath != "/var/lib/hubd/rules.db" {
		t.Errorf("RuleStorePath = %q, want expanded path", cfg.Hub.RuleStorePath)
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(`{"hub":{}}`), 0o600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Hub.BusMailboxSize != 1024 {
		t.Errorf("BusMailboxSize = %d, want 1024 default", cfg.Hub.BusMailboxSize)
	}
	if cfg.Hub.HealthSnapshotInterval != "30s" {
		t.Errorf("HealthSnapshotInterval = %q, want 30s default", cfg.Hub.HealthSnapshotInterval)
	}
	if cfg.Hub.RuleStorePath == "" {
		t.Error("RuleStorePath should have a default")
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(`{"hub":{"busMailboxSize":256,"workerPoolSize":2,"healthSnapshotInterval":"10s"}}`), 0o600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Hub.BusMailboxSize != 256 {
		t.Errorf("BusMailboxSize = %d, want 256", cfg.Hub.BusMailboxSize)
	}
	if cfg.Hub.WorkerPoolSize != 2 {
		t.Errorf("WorkerPoolSize = %d, want 2", cfg.Hub.WorkerPoolSize)
	}
	if cfg.HealthInterval().String() != "10s" {
		t.Errorf("HealthInterval() = %v, want 10s", cfg.HealthInterval())
	}
}

func TestLoad_LoadsConnectorsFromSameDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	doc := `{
		"hub": {"workerPoolSize": 4},
		"connectors": [
			{"id": "cam-7", "type": "unifi-protect", "name": "Front Yard", "config": {"host": "192.168.1.5"}, "capabilities": {"enabled": ["camera:event:motion"]}}
		]
	}`
	os.WriteFile(path, []byte(doc), 0o600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(cfg.Connectors) != 1 {
		t.Fatalf("Connectors = %v, want 1 entry", cfg.Connectors)
	}
	if cfg.Connectors[0].ID != "cam-7" || cfg.Connectors[0].Type != "unifi-protect" {
		t.Errorf("Connectors[0] = %+v", cfg.Connectors[0])
	}
}

func TestValidate_RejectsBadHealthInterval(t *testing.T) {
	cfg := Default()
	cfg.Hub.HealthSnapshotInterval = "not-a-duration"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid healthSnapshotInterval")
	}
}

func TestValidate_RejectsNonPositiveMailboxSize(t *testing.T) {
	cfg := Default()
	cfg.Hub.BusMailboxSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero busMailboxSize")
	}
}

func TestValidate_RejectsUnknownLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Hub.LogLevel = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestDefault_PassesValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() should validate cleanly: %v", err)
	}
}
