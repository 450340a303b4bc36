// Package unifiprotectconn implements the "unifi-protect" connector
// type: a camera NVR reachable over its HTTP API. It polls for
// motion/smart-detect events and exposes a snapshot capability,
// adapted from a UniFi Network controller client that originally
// polled wireless client associations for room-level presence.
package unifiprotectconn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nugget/integration-hub/internal/capability"
	"github.com/nugget/integration-hub/internal/connector"
	"github.com/nugget/integration-hub/internal/event"
	"github.com/nugget/integration-hub/internal/eventbus"
	"github.com/nugget/integration-hub/internal/httpkit"
)

// motionCapability and snapshotCapability are the two capabilities
// every unifi-protect instance declares, per §3's camera:* examples.
var (
	// motionCapability is find-only: it documents which event types the
	// background poller publishes rather than accepting a direct
	// ExecuteCapability call, so dispatching "camera:event:motion"
	// reaches ExecuteCapability and fails there with an "unknown
	// capability" execution error. Subscribers get these events
	// through the event bus, not through Dispatch.
	motionCapability = capability.Definition{
		ID:                 "camera:event:motion",
		Operations:         []capability.Operation{capability.OpSubscribe},
		Events:             []string{"motion", "smart-detect"},
		RequiresConnection: true,
	}
	snapshotCapability = capability.Definition{
		ID:                 "camera:snapshot",
		Operations:         []capability.Operation{capability.OpRead, capability.OpTrigger},
		RequiresConnection: true,
	}
)

// Driver implements connector.Driver for the unifi-protect type. One
// Driver backs exactly one connector instance; RegisterType's factory
// closure hands every instance the same bus so its motion poller can
// publish directly onto it.
type Driver struct {
	bus *eventbus.Bus
	log *slog.Logger

	mu         sync.Mutex
	baseURL    string
	apiKey     string
	cameraID   string // matches the connector instance's own id, by convention
	pollEvery  time.Duration
	client     *http.Client
	cancelPoll context.CancelFunc
}

// New returns a registry.Factory for the unifi-protect type: a closure
// that hands every instance it creates the shared bus.
func New(bus *eventbus.Bus, log *slog.Logger) func() connector.Driver {
	if log == nil {
		log = slog.Default()
	}
	return func() connector.Driver {
		return &Driver{bus: bus, log: log}
	}
}

func (d *Driver) Type() string { return "unifi-protect" }

func (d *Driver) Capabilities() []capability.Definition {
	return []capability.Definition{motionCapability, snapshotCapability}
}

func (d *Driver) ValidateConfig(cfg map[string]any) error {
	if _, ok := cfg["baseUrl"].(string); !ok {
		return fmt.Errorf("unifi-protect: baseUrl is required")
	}
	if _, ok := cfg["apiKey"].(string); !ok {
		return fmt.Errorf("unifi-protect: apiKey is required")
	}
	if _, ok := cfg["cameraId"].(string); !ok {
		return fmt.Errorf("unifi-protect: cameraId is required (must match this instance's own id)")
	}
	return nil
}

func (d *Driver) PerformConnect(ctx context.Context, cfg map[string]any) error {
	baseURL, _ := cfg["baseUrl"].(string)
	apiKey, _ := cfg["apiKey"].(string)
	cameraID, _ := cfg["cameraId"].(string)
	pollSeconds := 10
	if v, ok := cfg["pollIntervalSeconds"].(float64); ok && v > 0 {
		pollSeconds = int(v)
	}

	d.mu.Lock()
	d.baseURL = baseURL
	d.apiKey = apiKey
	d.cameraID = cameraID
	d.pollEvery = time.Duration(pollSeconds) * time.Second
	d.client = httpkit.NewClient(
		httpkit.WithTimeout(15*time.Second),
		httpkit.WithRetry(2, 2*time.Second),
		httpkit.WithTLSInsecureSkipVerify(),
		httpkit.WithLogger(d.log),
	)
	d.mu.Unlock()

	return d.ping(ctx)
}

func (d *Driver) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/proxy/protect/api/bootstrap", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-API-KEY", d.apiKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unifi-protect status %d", resp.StatusCode)
	}
	return nil
}

func (d *Driver) PerformDisconnect(ctx context.Context) error {
	d.mu.Lock()
	cancel := d.cancelPoll
	d.cancelPoll = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// OnConnect starts the motion poller. It ignores the connect ctx (which
// may be scoped only to the connect attempt itself) and manages its own
// lifetime, cancelled from PerformDisconnect.
func (d *Driver) OnConnect(context.Context) {
	pollCtx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.cancelPoll = cancel
	d.mu.Unlock()
	go d.pollLoop(pollCtx)
}

func (d *Driver) OnDisconnect(context.Context) {}
func (d *Driver) OnError(context.Context, error) {}

func (d *Driver) ExecuteCapability(ctx context.Context, capID string, op capability.Operation, params map[string]any) (any, error) {
	if capID != "camera:snapshot" {
		return nil, fmt.Errorf("unifi-protect: unknown capability %q", capID)
	}
	return d.fetchSnapshot(ctx, d.cameraID)
}

func (d *Driver) fetchSnapshot(ctx context.Context, camera string) (any, error) {
	path := fmt.Sprintf("/proxy/protect/api/cameras/%s/snapshot", camera)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-API-KEY", d.apiKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", camera, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("unifi-protect snapshot error %d: %s", resp.StatusCode, body)
	}
	return map[string]any{"camera": camera, "contentType": resp.Header.Get("Content-Type")}, nil
}

// protectEvent is the subset of the bootstrap/events payload this
// poller cares about.
type protectEvent struct {
	ID     string `json:"id"`
	Type   string `json:"type"` // "motion" or "smartDetectZone"
	Camera string `json:"camera"`
	Score  int    `json:"score"`
	Start  int64  `json:"start"`
}

// pollLoop periodically fetches recent events and publishes each new
// one as a camera:event:motion-shaped domain event, deduplicated by ID.
func (d *Driver) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(d.pollEvery)
	defer ticker.Stop()

	seen := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			events, err := d.fetchEvents(ctx)
			if err != nil {
				d.log.Warn("unifi-protect: poll failed", "error", err)
				continue
			}
			for _, e := range events {
				if e.Camera != d.cameraID || seen[e.ID] {
					continue
				}
				seen[e.ID] = true
				d.publish(e)
			}
		}
	}
}

func (d *Driver) fetchEvents(ctx context.Context) ([]protectEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/proxy/protect/api/events", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-API-KEY", d.apiKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<16)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unifi-protect events status %d", resp.StatusCode)
	}

	var events []protectEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return events, nil
}

func (d *Driver) publish(e protectEvent) {
	typ := "motion"
	if e.Type == "smartDetectZone" {
		typ = "smart-detect"
	}
	d.bus.Publish(event.Normalize(event.Event{
		Type:   typ,
		Source: d.cameraID,
		Data: map[string]any{
			"eventId": e.ID,
			"score":   e.Score,
		},
	}))
}
