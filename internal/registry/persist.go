package registry

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/nugget/integration-hub/internal/connector"
)

// debounceWindow is how long schedule() waits after its last call
// before flush() actually writes, collapsing a burst of mutations (e.g.
// several capability toggles in a row) into one disk write.
const debounceWindow = 500 * time.Millisecond

// persister debounces writes of the connector configuration snapshot to
// a JSON file, per §4.4/§6. Serialisation is cycle-safe: only
// connector.Snapshot values are ever written, never a live Instance.
type persister struct {
	path string
	log  *slog.Logger

	mu      sync.Mutex
	pending []connector.Snapshot
	timer   *time.Timer

	checkpoint *CheckpointStore // nil disables the sqlite audit trail
}

func newPersister(path string, log *slog.Logger) *persister {
	return &persister{path: path, log: log}
}

// persistDocument is the on-disk shape of the connector configuration
// file described in §6.
type persistDocument struct {
	Connectors []persistedConnector `json:"connectors"`
}

type persistedConnector struct {
	ID           string                    `json:"id"`
	Type         string                    `json:"type"`
	Name         string                    `json:"name"`
	Description  string                    `json:"description"`
	Config       map[string]any            `json:"config"`
	Capabilities persistedCapabilityConfig `json:"capabilities"`
}

type persistedCapabilityConfig struct {
	Enabled  []string `json:"enabled"`
	Disabled []string `json:"disabled"`
}

func (p *persister) schedule(snapshot []connector.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = snapshot
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(debounceWindow, p.flush)
}

func (p *persister) flush() {
	p.mu.Lock()
	snapshot := p.pending
	p.mu.Unlock()

	doc := persistDocument{Connectors: make([]persistedConnector, 0, len(snapshot))}
	for _, s := range snapshot {
		var enabled, disabled []string
		for capID, on := range s.EnabledCapabilities {
			if on {
				enabled = append(enabled, capID)
			} else {
				disabled = append(disabled, capID)
			}
		}
		doc.Connectors = append(doc.Connectors, persistedConnector{
			ID:          s.ID,
			Type:        s.Type,
			Name:        s.Name,
			Description: s.Description,
			Config:      s.Config,
			Capabilities: persistedCapabilityConfig{
				Enabled:  enabled,
				Disabled: disabled,
			},
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		p.log.Error("registry: marshal connector config snapshot", "error", err)
		return
	}
	if err := os.WriteFile(p.path, data, 0o600); err != nil {
		p.log.Error("registry: write connector config snapshot", "path", p.path, "error", err)
		return
	}

	if p.checkpoint != nil {
		if err := p.checkpoint.Record(data); err != nil {
			p.log.Warn("registry: checkpoint record failed", "error", err)
		}
	}
}

// LoadInstanceConfigs reads the connector configuration file at path and
// returns the instance definitions to recreate on boot. A missing file
// is not an error: it means no instances have been persisted yet.
func LoadInstanceConfigs(path string) ([]InstanceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var doc persistDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	out := make([]InstanceConfig, 0, len(doc.Connectors))
	for _, c := range doc.Connectors {
		out = append(out, InstanceConfig{
			ID:                   c.ID,
			Type:                 c.Type,
			Name:                 c.Name,
			Description:          c.Description,
			Config:               c.Config,
			EnabledCapabilities:  c.Capabilities.Enabled,
			DisabledCapabilities: c.Capabilities.Disabled,
		})
	}
	return out, nil
}
