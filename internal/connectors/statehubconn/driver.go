// Package statehubconn implements the "state-hub" connector type: a
// generic authenticated WebSocket state/event hub (the shape a Home
// Assistant-style automation backend exposes). It authenticates,
// subscribes to state-change events, republishes each as a domain
// event, and exposes a call-service capability for rule actions.
// Adapted from a Home Assistant WebSocket client down to its
// auth-handshake and request/response correlation core.
package statehubconn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/integration-hub/internal/capability"
	"github.com/nugget/integration-hub/internal/connector"
	"github.com/nugget/integration-hub/internal/event"
	"github.com/nugget/integration-hub/internal/eventbus"
)

var callServiceCapability = capability.Definition{
	ID:                 "state:call-service",
	Operations:         []capability.Operation{capability.OpTrigger},
	RequiresConnection: true,
	Parameters: map[string]capability.Parameter{
		"domain":  {Type: "string", Required: true},
		"service": {Type: "string", Required: true},
		"data":    {Type: "object", Required: false},
	},
}

var stateChangedCapability = capability.Definition{
	ID:                 "state:changed",
	Operations:         []capability.Operation{capability.OpSubscribe},
	Events:             []string{"state-changed"},
	RequiresConnection: true,
}

// wsFrame is the generic message envelope for the hub's WebSocket
// protocol: every outbound call carries an id, every inbound response
// or event carries the same shape.
type wsFrame struct {
	ID      int64           `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success bool            `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
	Error   *wsError        `json:"error,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// stateChangedEvent is the event payload shape this driver republishes.
type stateChangedEvent struct {
	EntityID string `json:"entityId"`
	OldState string `json:"oldState"`
	NewState string `json:"newState"`
}

// Driver implements connector.Driver for the state-hub type.
type Driver struct {
	bus *eventbus.Bus
	log *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	msgID  atomic.Int64
	cancel context.CancelFunc

	pendingMu sync.Mutex
	pending   map[int64]chan wsFrame
}

// New returns a registry.Factory for the state-hub type.
func New(bus *eventbus.Bus, log *slog.Logger) func() connector.Driver {
	if log == nil {
		log = slog.Default()
	}
	return func() connector.Driver {
		return &Driver{bus: bus, log: log, pending: make(map[int64]chan wsFrame)}
	}
}

func (d *Driver) Type() string { return "state-hub" }

func (d *Driver) Capabilities() []capability.Definition {
	return []capability.Definition{callServiceCapability, stateChangedCapability}
}

func (d *Driver) ValidateConfig(cfg map[string]any) error {
	if _, ok := cfg["baseUrl"].(string); !ok {
		return fmt.Errorf("state-hub: baseUrl is required")
	}
	if _, ok := cfg["token"].(string); !ok {
		return fmt.Errorf("state-hub: token is required")
	}
	return nil
}

func (d *Driver) PerformConnect(ctx context.Context, cfg map[string]any) error {
	baseURL, _ := cfg["baseUrl"].(string)
	token, _ := cfg["token"].(string)

	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("parse baseUrl: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = "/api/websocket"

	dialer := websocket.Dialer{ReadBufferSize: 1 << 20, WriteBufferSize: 64 << 10}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(100 << 20)

	var authReq wsFrame
	if err := conn.ReadJSON(&authReq); err != nil {
		conn.Close()
		return fmt.Errorf("read auth_required: %w", err)
	}
	if authReq.Type != "auth_required" {
		conn.Close()
		return fmt.Errorf("expected auth_required, got %s", authReq.Type)
	}

	if err := conn.WriteJSON(map[string]string{"type": "auth", "access_token": token}); err != nil {
		conn.Close()
		return fmt.Errorf("send auth: %w", err)
	}

	var authResp wsFrame
	if err := conn.ReadJSON(&authResp); err != nil {
		conn.Close()
		return fmt.Errorf("read auth response: %w", err)
	}
	if authResp.Type != "auth_ok" {
		conn.Close()
		return fmt.Errorf("authentication failed: %s", authResp.Type)
	}

	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()

	readCtx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	go d.readLoop(readCtx, conn)

	if err := d.subscribeStateChanged(ctx); err != nil {
		d.log.Warn("state-hub: subscribe failed", "error", err)
	}
	return nil
}

func (d *Driver) subscribeStateChanged(ctx context.Context) error {
	id := d.msgID.Add(1)
	_, err := d.sendAndWait(ctx, id, map[string]any{"id": id, "type": "subscribe_events", "event_type": "state_changed"})
	return err
}

func (d *Driver) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			d.log.Warn("state-hub: read failed, connection considered lost", "error", err)
			return
		}

		switch {
		case frame.ID != 0 && frame.Type == "result":
			d.pendingMu.Lock()
			ch, ok := d.pending[frame.ID]
			d.pendingMu.Unlock()
			if ok {
				ch <- frame
			}
		case frame.Type == "event" && frame.Event != nil:
			d.handleEvent(frame.Event)
		}
	}
}

func (d *Driver) handleEvent(raw json.RawMessage) {
	var sc stateChangedEvent
	if err := json.Unmarshal(raw, &sc); err != nil {
		return
	}
	d.bus.Publish(event.Normalize(event.Event{
		Type:   "state-changed",
		Source: sc.EntityID,
		Data: map[string]any{
			"oldState": sc.OldState,
			"newState": sc.NewState,
		},
	}))
}

func (d *Driver) sendAndWait(ctx context.Context, id int64, msg any) (json.RawMessage, error) {
	respCh := make(chan wsFrame, 1)
	d.pendingMu.Lock()
	d.pending[id] = respCh
	d.pendingMu.Unlock()
	defer func() {
		d.pendingMu.Lock()
		delete(d.pending, id)
		d.pendingMu.Unlock()
	}()

	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("state-hub: not connected")
	}
	if err := conn.WriteJSON(msg); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, fmt.Errorf("state-hub error %s: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Second):
		return nil, fmt.Errorf("state-hub: timed out waiting for response")
	}
}

func (d *Driver) PerformDisconnect(ctx context.Context) error {
	d.mu.Lock()
	conn := d.conn
	cancel := d.cancel
	d.conn = nil
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (d *Driver) ExecuteCapability(ctx context.Context, capID string, op capability.Operation, params map[string]any) (any, error) {
	if capID != "state:call-service" {
		return nil, fmt.Errorf("state-hub: unknown capability %q", capID)
	}
	domain, _ := params["domain"].(string)
	service, _ := params["service"].(string)
	data, _ := params["data"].(map[string]any)

	id := d.msgID.Add(1)
	result, err := d.sendAndWait(ctx, id, map[string]any{
		"id":           id,
		"type":         "call_service",
		"domain":       domain,
		"service":      service,
		"service_data": data,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": string(result)}, nil
}
