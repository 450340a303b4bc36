// Package mqttconn implements the "mqtt" connector type: a generic MQTT
// broker bridge. It subscribes to configured topics and republishes
// each inbound message as an "mqtt-message" domain event, and exposes
// an "mqtt:publish" capability for rule actions to push messages back
// out. Adapted from a Home-Assistant-discovery MQTT publisher down to
// its connection-management and rate-limiting core.
package mqttconn

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/integration-hub/internal/capability"
	"github.com/nugget/integration-hub/internal/connector"
	"github.com/nugget/integration-hub/internal/event"
	"github.com/nugget/integration-hub/internal/eventbus"
)

var publishCapability = capability.Definition{
	ID:                 "mqtt:publish",
	Operations:         []capability.Operation{capability.OpPublish},
	RequiresConnection: true,
	Parameters: map[string]capability.Parameter{
		"topic":   {Type: "string", Required: true},
		"payload": {Type: "string", Required: true},
	},
}

var messageCapability = capability.Definition{
	ID:                 "mqtt:message",
	Operations:         []capability.Operation{capability.OpSubscribe},
	Events:             []string{"mqtt-message"},
	RequiresConnection: true,
}

// Driver implements connector.Driver for the mqtt type.
type Driver struct {
	bus *eventbus.Bus
	log *slog.Logger

	mu     sync.Mutex
	cm     *autopaho.ConnectionManager
	topics []string
	quota  *DailyQuota
	limit  *rateLimiter
}

// New returns a registry.Factory for the mqtt type.
func New(bus *eventbus.Bus, log *slog.Logger) func() connector.Driver {
	if log == nil {
		log = slog.Default()
	}
	return func() connector.Driver {
		return &Driver{bus: bus, log: log, quota: NewDailyQuota(nil)}
	}
}

func (d *Driver) Type() string { return "mqtt" }

func (d *Driver) Capabilities() []capability.Definition {
	return []capability.Definition{publishCapability, messageCapability}
}

func (d *Driver) ValidateConfig(cfg map[string]any) error {
	broker, ok := cfg["broker"].(string)
	if !ok || broker == "" {
		return fmt.Errorf("mqtt: broker is required")
	}
	if _, err := url.Parse(broker); err != nil {
		return fmt.Errorf("mqtt: invalid broker url: %w", err)
	}
	return nil
}

func (d *Driver) PerformConnect(ctx context.Context, cfg map[string]any) error {
	broker, _ := cfg["broker"].(string)
	clientID, _ := cfg["clientId"].(string)
	if clientID == "" {
		clientID = "integration-hub"
	}
	username, _ := cfg["username"].(string)
	password, _ := cfg["password"].(string)

	var topics []string
	if raw, ok := cfg["topics"].([]any); ok {
		for _, t := range raw {
			if s, ok := t.(string); ok {
				topics = append(topics, s)
			}
		}
	}

	brokerURL, err := url.Parse(broker)
	if err != nil {
		return fmt.Errorf("parse broker url: %w", err)
	}

	d.mu.Lock()
	d.topics = topics
	d.limit = newRateLimiter(100, time.Second, d.log)
	d.mu.Unlock()
	go d.limit.start(ctx)

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: username,
		ConnectPassword: []byte(password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			d.log.Info("mqtt: connected to broker", "broker", broker)
			subCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			d.subscribe(subCtx, cm)
		},
		OnConnectError: func(err error) {
			d.log.Warn("mqtt: connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	cm.AddOnPublishReceived(func(pr autopaho.PublishReceived) (bool, error) {
		if !d.limit.allow() {
			return true, nil
		}
		d.publishInbound(pr.Packet.Topic, pr.Packet.Payload)
		return true, nil
	})

	connCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		cm.Disconnect(context.Background())
		return fmt.Errorf("mqtt: initial connection failed: %w", err)
	}

	d.mu.Lock()
	d.cm = cm
	d.mu.Unlock()
	return nil
}

func (d *Driver) subscribe(ctx context.Context, cm *autopaho.ConnectionManager) {
	if len(d.topics) == 0 {
		return
	}
	subs := make([]paho.SubscribeOptions, 0, len(d.topics))
	for _, t := range d.topics {
		subs = append(subs, paho.SubscribeOptions{Topic: t, QoS: 0})
	}
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{Subscriptions: subs}); err != nil {
		d.log.Warn("mqtt: subscribe failed", "topics", strings.Join(d.topics, ","), "error", err)
	}
}

func (d *Driver) publishInbound(topic string, payload []byte) {
	d.bus.Publish(event.Normalize(event.Event{
		Type:   "mqtt-message",
		Source: topic,
		Data: map[string]any{
			"topic":   topic,
			"payload": string(payload),
		},
	}))
}

func (d *Driver) PerformDisconnect(ctx context.Context) error {
	d.mu.Lock()
	cm := d.cm
	d.cm = nil
	d.mu.Unlock()
	if cm == nil {
		return nil
	}
	return cm.Disconnect(ctx)
}

func (d *Driver) ExecuteCapability(ctx context.Context, capID string, op capability.Operation, params map[string]any) (any, error) {
	if capID != "mqtt:publish" {
		return nil, fmt.Errorf("mqtt: unknown capability %q", capID)
	}
	if !d.quota.Allow() {
		return nil, fmt.Errorf("mqtt: daily publish quota exceeded")
	}
	topic, _ := params["topic"].(string)
	payload, _ := params["payload"].(string)

	d.mu.Lock()
	cm := d.cm
	d.mu.Unlock()
	if cm == nil {
		return nil, fmt.Errorf("mqtt: not connected")
	}

	if _, err := cm.Publish(ctx, &paho.Publish{Topic: topic, Payload: []byte(payload), QoS: 0}); err != nil {
		return nil, fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return map[string]any{"topic": topic}, nil
}
