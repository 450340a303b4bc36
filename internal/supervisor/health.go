package supervisor

import (
	"runtime"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nugget/integration-hub/internal/buildinfo"
	"github.com/nugget/integration-hub/internal/event"
)

// connectorHealth is one instance's entry in the health:check payload.
type connectorHealth struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Status   string `json:"status"`
	Errors   int64  `json:"errors"`
	LastErr  string `json:"lastError,omitempty"`
	Attempts int    `json:"connectionAttempts"`
}

// snapshotHealth builds the health:check event data, per §4.8: memory,
// uptime, and per-connector status and error counts.
func (s *Supervisor) snapshotHealth() map[string]any {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	instances := s.registry.Instances()
	connectors := make([]connectorHealth, 0, len(instances))
	for _, in := range instances {
		snap := in.Snapshot()
		connectors = append(connectors, connectorHealth{
			ID:       snap.ID,
			Type:     snap.Type,
			Status:   string(snap.Status),
			Errors:   snap.Stats.Errors,
			LastErr:  snap.LastError,
			Attempts: snap.ConnectionAttempts,
		})
	}

	return map[string]any{
		"memory":     humanize.Bytes(mem.Alloc),
		"memoryAlloc": mem.Alloc,
		"uptime":     buildinfo.Uptime().String(),
		"uptimeHuman": humanize.RelTime(time.Now().Add(-buildinfo.Uptime()), time.Now(), "ago", ""),
		"connectors": connectors,
	}
}

// runHealthLoop publishes health:check every interval until stopped.
func (s *Supervisor) runHealthLoop(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopHealth:
			return
		case <-ticker.C:
			s.bus.Publish(event.Event{
				Type:   "health:check",
				Source: event.SourceSystem,
				Data:   s.snapshotHealth(),
			})
		}
	}
}
