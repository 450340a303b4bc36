// Package emailconn implements the "email" connector type: a single
// IMAP mailbox that polls INBOX for new messages and republishes them
// as domain events, plus an SMTP-backed send capability with
// markdown-to-HTML composition. Adapted from an IMAP/SMTP email client
// package down to its connection, listing, and send core.
package emailconn

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nugget/integration-hub/internal/capability"
	"github.com/nugget/integration-hub/internal/connector"
	"github.com/nugget/integration-hub/internal/event"
	"github.com/nugget/integration-hub/internal/eventbus"
)

var listCapability = capability.Definition{
	ID:                 "email:list",
	Operations:         []capability.Operation{capability.OpList, capability.OpRead},
	RequiresConnection: true,
	Parameters: map[string]capability.Parameter{
		"folder": {Type: "string", Required: false},
		"unseen": {Type: "boolean", Required: false},
		"limit":  {Type: "number", Required: false},
	},
}

var sendCapability = capability.Definition{
	ID:                 "email:send",
	Operations:         []capability.Operation{capability.OpSend, capability.OpTrigger},
	RequiresConnection: true,
	Parameters: map[string]capability.Parameter{
		"to":      {Type: "array", Required: true},
		"subject": {Type: "string", Required: true},
		"body":    {Type: "string", Required: true},
	},
}

var newMessageCapability = capability.Definition{
	ID:                 "email:new-message",
	Operations:         []capability.Operation{capability.OpSubscribe},
	Events:             []string{"new-message"},
	RequiresConnection: true,
}

// Envelope is the summary view of a single IMAP message used for both
// the email:list capability's result and the new-message event payload.
type Envelope struct {
	UID     uint32    `json:"uid"`
	From    string    `json:"from"`
	Subject string    `json:"subject"`
	Date    time.Time `json:"date"`
}

// Driver implements connector.Driver for the email type: one instance
// per mailbox.
type Driver struct {
	bus *eventbus.Bus
	log *slog.Logger

	mu         sync.Mutex
	client     *imapclient.Client
	cancelPoll context.CancelFunc

	accountID string
	host      string
	port      int
	username  string
	password  string
	useTLS    bool

	smtpHost     string
	smtpPort     int
	smtpStartTLS bool
	defaultFrom  string

	pollEvery time.Duration

	hwmMu sync.Mutex
	hwm   uint32 // highest INBOX UID seen so far
}

// New returns a registry.Factory for the email type.
func New(bus *eventbus.Bus, log *slog.Logger) func() connector.Driver {
	if log == nil {
		log = slog.Default()
	}
	return func() connector.Driver {
		return &Driver{bus: bus, log: log}
	}
}

func (d *Driver) Type() string { return "email" }

func (d *Driver) Capabilities() []capability.Definition {
	return []capability.Definition{listCapability, sendCapability, newMessageCapability}
}

func (d *Driver) ValidateConfig(cfg map[string]any) error {
	if _, ok := cfg["accountId"].(string); !ok {
		return fmt.Errorf("email: accountId is required (must match this instance's own id)")
	}
	if _, ok := cfg["host"].(string); !ok {
		return fmt.Errorf("email: host is required")
	}
	if _, ok := cfg["username"].(string); !ok {
		return fmt.Errorf("email: username is required")
	}
	if _, ok := cfg["password"].(string); !ok {
		return fmt.Errorf("email: password is required")
	}
	return nil
}

func (d *Driver) PerformConnect(ctx context.Context, cfg map[string]any) error {
	d.accountID, _ = cfg["accountId"].(string)
	d.host, _ = cfg["host"].(string)
	d.username, _ = cfg["username"].(string)
	d.password, _ = cfg["password"].(string)

	d.port = 993
	if p, ok := cfg["port"].(float64); ok {
		d.port = int(p)
	}
	d.useTLS = d.port != 143
	if tlsVal, ok := cfg["tls"].(bool); ok {
		d.useTLS = tlsVal
	}

	d.smtpHost, _ = cfg["smtpHost"].(string)
	d.smtpPort = 587
	if p, ok := cfg["smtpPort"].(float64); ok {
		d.smtpPort = int(p)
	}
	d.smtpStartTLS = true
	if v, ok := cfg["smtpStartTLS"].(bool); ok {
		d.smtpStartTLS = v
	}
	d.defaultFrom, _ = cfg["defaultFrom"].(string)

	d.pollEvery = 60 * time.Second
	if secs, ok := cfg["pollIntervalSeconds"].(float64); ok && secs > 0 {
		d.pollEvery = time.Duration(secs) * time.Second
	}

	client, err := d.dial(ctx)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.client = client
	d.mu.Unlock()

	if err := d.seedHighWaterMark(); err != nil {
		d.log.Warn("email: failed to seed high-water mark", "account", d.accountID, "error", err)
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.cancelPoll = cancel
	d.mu.Unlock()
	go d.pollLoop(pollCtx)

	return nil
}

func (d *Driver) dial(ctx context.Context) (*imapclient.Client, error) {
	addr := net.JoinHostPort(d.host, fmt.Sprintf("%d", d.port))

	var opts imapclient.Options
	if d.useTLS {
		opts.TLSConfig = &tls.Config{ServerName: d.host}
	}

	var client *imapclient.Client
	var err error
	if d.useTLS {
		client, err = imapclient.DialTLS(addr, &opts)
	} else {
		client, err = imapclient.DialInsecure(addr, &opts)
	}
	if err != nil {
		return nil, fmt.Errorf("dial IMAP %s: %w", addr, err)
	}

	if err := client.Login(d.username, d.password).Wait(); err != nil {
		client.Close()
		return nil, fmt.Errorf("login as %s: %w", d.username, err)
	}
	return client, nil
}

func (d *Driver) PerformDisconnect(ctx context.Context) error {
	d.mu.Lock()
	client := d.client
	cancel := d.cancelPoll
	d.client = nil
	d.cancelPoll = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if client == nil {
		return nil
	}
	return client.Close()
}

func (d *Driver) ExecuteCapability(ctx context.Context, capID string, op capability.Operation, params map[string]any) (any, error) {
	switch capID {
	case "email:list":
		return d.executeList(params)
	case "email:send":
		return d.executeSend(ctx, params)
	default:
		return nil, fmt.Errorf("email: unknown capability %q", capID)
	}
}

func (d *Driver) executeList(params map[string]any) (any, error) {
	folder, _ := params["folder"].(string)
	unseen, _ := params["unseen"].(bool)
	limit := 20
	if l, ok := params["limit"].(float64); ok && l > 0 {
		limit = int(l)
	}

	d.mu.Lock()
	client := d.client
	d.mu.Unlock()
	if client == nil {
		return nil, fmt.Errorf("email: not connected")
	}

	envelopes, err := listMessages(client, folder, unseen, 0, limit)
	if err != nil {
		return nil, err
	}
	return envelopes, nil
}

func (d *Driver) executeSend(ctx context.Context, params map[string]any) (any, error) {
	toRaw, _ := params["to"].([]any)
	to := make([]string, 0, len(toRaw))
	for _, v := range toRaw {
		if s, ok := v.(string); ok {
			to = append(to, s)
		}
	}
	subject, _ := params["subject"].(string)
	body, _ := params["body"].(string)

	if len(to) == 0 {
		return nil, fmt.Errorf("email: send requires at least one recipient")
	}
	from := d.defaultFrom
	if from == "" {
		from = d.username
	}

	msg, err := composeMessage(from, to, subject, body)
	if err != nil {
		return nil, fmt.Errorf("compose message: %w", err)
	}

	if d.smtpHost == "" {
		return nil, fmt.Errorf("email: smtpHost not configured, cannot send")
	}
	if err := sendMail(ctx, d.smtpHost, d.smtpPort, d.smtpStartTLS, d.username, d.password, from, to, msg); err != nil {
		return nil, err
	}
	return map[string]any{"sent": true, "to": to}, nil
}
