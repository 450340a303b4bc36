// Package displayconn implements the "display" connector type: a
// rule-action sink that renders a markdown status card to HTML and
// optionally a QR code, then pushes the rendered payload to a
// configured webhook (e.g. a kiosk or dashboard panel). No teacher
// precedent exists for this connector; it is built fresh from the
// goldmark/go-qrcode libraries already present in the module's
// dependency stack, in the style of the other connector packages.
package displayconn

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/yuin/goldmark"

	"github.com/nugget/integration-hub/internal/capability"
	"github.com/nugget/integration-hub/internal/connector"
	"github.com/nugget/integration-hub/internal/eventbus"
	"github.com/nugget/integration-hub/internal/httpkit"
)

var renderCapability = capability.Definition{
	ID:                 "display:render",
	Operations:         []capability.Operation{capability.OpTrigger},
	RequiresConnection: true,
	Parameters: map[string]capability.Parameter{
		"title":     {Type: "string", Required: true},
		"markdown":  {Type: "string", Required: true},
		"qrContent": {Type: "string", Required: false},
	},
}

// Rendered is the payload returned by display:render and, when a
// webhook is configured, POSTed to it as JSON.
type Rendered struct {
	Title     string `json:"title"`
	HTML      string `json:"html"`
	QRPNGBase64 string `json:"qrPngBase64,omitempty"`
}

// Driver implements connector.Driver for the display type.
type Driver struct {
	bus *eventbus.Bus
	log *slog.Logger

	mu         sync.Mutex
	httpClient *http.Client
	webhookURL string
}

// New returns a registry.Factory for the display type.
func New(bus *eventbus.Bus, log *slog.Logger) func() connector.Driver {
	if log == nil {
		log = slog.Default()
	}
	return func() connector.Driver {
		return &Driver{bus: bus, log: log}
	}
}

func (d *Driver) Type() string { return "display" }

func (d *Driver) Capabilities() []capability.Definition {
	return []capability.Definition{renderCapability}
}

func (d *Driver) ValidateConfig(cfg map[string]any) error {
	// webhookUrl is optional: a display with none just renders and
	// returns the payload without pushing it anywhere.
	return nil
}

func (d *Driver) PerformConnect(ctx context.Context, cfg map[string]any) error {
	d.webhookURL, _ = cfg["webhookUrl"].(string)
	d.mu.Lock()
	d.httpClient = httpkit.NewClient(httpkit.WithTimeout(10 * time.Second))
	d.mu.Unlock()
	return nil
}

func (d *Driver) PerformDisconnect(ctx context.Context) error {
	d.mu.Lock()
	d.httpClient = nil
	d.mu.Unlock()
	return nil
}

func (d *Driver) ExecuteCapability(ctx context.Context, capID string, op capability.Operation, params map[string]any) (any, error) {
	if capID != "display:render" {
		return nil, fmt.Errorf("display: unknown capability %q", capID)
	}

	title, _ := params["title"].(string)
	md, _ := params["markdown"].(string)
	qrContent, _ := params["qrContent"].(string)

	rendered, err := renderCard(title, md, qrContent)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	client := d.httpClient
	webhook := d.webhookURL
	d.mu.Unlock()

	if webhook != "" && client != nil {
		if err := postRendered(ctx, client, webhook, rendered); err != nil {
			d.log.Warn("display: webhook push failed", "url", webhook, "error", err)
		}
	}

	return rendered, nil
}

func renderCard(title, md, qrContent string) (Rendered, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return Rendered{}, fmt.Errorf("render markdown: %w", err)
	}

	rendered := Rendered{Title: title, HTML: buf.String()}

	if qrContent != "" {
		png, err := qrcode.Encode(qrContent, qrcode.Medium, 256)
		if err != nil {
			return Rendered{}, fmt.Errorf("encode qr code: %w", err)
		}
		rendered.QRPNGBase64 = base64.StdEncoding.EncodeToString(png)
	}
	return rendered, nil
}

func postRendered(ctx context.Context, client *http.Client, url string, rendered Rendered) error {
	body, err := json.Marshal(rendered)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
