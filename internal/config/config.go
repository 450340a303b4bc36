// Package config loads the integration hub's top-level settings.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nugget/integration-hub/internal/registry"
)

// DefaultSearchPaths returns the config file search order. An explicit
// path (from -config flag) is checked first. Then: ./config.json,
// ~/.config/hubd/config.json, /config/config.json, /etc/hubd/config.json.
func DefaultSearchPaths() []string {
	paths := []string{"config.json"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "hubd", "config.json"))
	}

	paths = append(paths, "/config/config.json") // Container convention
	paths = append(paths, "/etc/hubd/config.json")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise, searches DefaultSearchPaths and returns the first
// that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// HubConfig holds the hub's own top-level settings, per §6: bus
// capacity, worker pool sizing, health snapshot cadence, and the
// filesystem locations the Supervisor wires at boot.
type HubConfig struct {
	BusMailboxSize         int    `json:"busMailboxSize"`
	BusHistoryCap          int    `json:"busHistoryCap"`
	WorkerPoolSize         int    `json:"workerPoolSize"`
	HealthSnapshotInterval string `json:"healthSnapshotInterval"`
	RuleStorePath          string `json:"ruleStorePath"`
	AutoDiscoveryDir       string `json:"autoDiscoveryDir"`
	DataDir                string `json:"dataDir"`
	LogLevel               string `json:"logLevel"`
	APIEnabled             bool   `json:"apiEnabled"`
}

// Config is the top-level shape of config.json: the hub's own settings
// plus the connector instances the Registry persists under the same
// document, per §6's "Supplemented" note.
type Config struct {
	Hub        HubConfig                `json:"hub"`
	Connectors []registry.InstanceConfig `json:"-"` // loaded separately via registry.LoadInstanceConfigs
	path       string
}

// Load reads configuration from a JSON file, expands environment
// variables, applies defaults for any unset fields, and validates the
// result. After Load returns successfully, every Hub field is usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${DATA_DIR}) for container
	// deployments; the recommended approach is still to put values
	// directly in the config file.
	expanded := os.ExpandEnv(string(data))

	var doc struct {
		Hub HubConfig `json:"hub"`
	}
	if err := json.Unmarshal([]byte(expanded), &doc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg := &Config{Hub: doc.Hub, path: path}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	connectors, err := registry.LoadInstanceConfigs(path)
	if err != nil {
		return nil, fmt.Errorf("config: load connectors: %w", err)
	}
	cfg.Connectors = connectors

	return cfg, nil
}

// Path returns the file Load read cfg from, for the Supervisor's
// debounced-persistence writer to reuse as its save target.
func (c *Config) Path() string { return c.path }

// CheckpointPath returns the sqlite checkpoint store location under
// DataDir, for the Registry's crash-recovery audit trail.
func (c *Config) CheckpointPath() string {
	return filepath.Join(c.Hub.DataDir, "checkpoints.db")
}

// applyDefaults fills in zero-value Hub fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Hub.BusMailboxSize == 0 {
		c.Hub.BusMailboxSize = 1024
	}
	if c.Hub.BusHistoryCap == 0 {
		c.Hub.BusHistoryCap = 1000
	}
	if c.Hub.HealthSnapshotInterval == "" {
		c.Hub.HealthSnapshotInterval = "30s"
	}
	if c.Hub.RuleStorePath == "" {
		c.Hub.RuleStorePath = "./data/rules.db"
	}
	if c.Hub.AutoDiscoveryDir == "" {
		c.Hub.AutoDiscoveryDir = "./connectors.d"
	}
	if c.Hub.DataDir == "" {
		c.Hub.DataDir = "./data"
	}
}

// Validate checks that the configuration is internally consistent. It
// runs after applyDefaults, so it can assume defaults are populated.
func (c *Config) Validate() error {
	if c.Hub.BusMailboxSize < 1 {
		return fmt.Errorf("hub.busMailboxSize %d must be positive", c.Hub.BusMailboxSize)
	}
	if c.Hub.WorkerPoolSize < 0 {
		return fmt.Errorf("hub.workerPoolSize %d must not be negative", c.Hub.WorkerPoolSize)
	}
	if _, err := time.ParseDuration(c.Hub.HealthSnapshotInterval); err != nil {
		return fmt.Errorf("hub.healthSnapshotInterval %q: %w", c.Hub.HealthSnapshotInterval, err)
	}
	if c.Hub.LogLevel != "" {
		if _, err := ParseLogLevel(c.Hub.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// HealthInterval parses HealthSnapshotInterval, already validated by
// Validate, so the error is never expected in practice.
func (c *Config) HealthInterval() time.Duration {
	d, _ := time.ParseDuration(c.Hub.HealthSnapshotInterval)
	return d
}

// Default returns a default configuration suitable for local
// development, with every default already applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
