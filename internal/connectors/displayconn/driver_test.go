package displayconn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nugget/integration-hub/internal/capability"
	"github.com/nugget/integration-hub/internal/connector"
	"github.com/nugget/integration-hub/internal/eventbus"
)

func TestRenderCard_ProducesHTMLAndQRWhenRequested(t *testing.T) {
	rendered, err := renderCard("Status", "**bold**", "https://example.com/pair")
	if err != nil {
		t.Fatalf("renderCard: %v", err)
	}
	if !strings.Contains(rendered.HTML, "<strong>bold</strong>") {
		t.Errorf("HTML = %q, missing rendered bold tag", rendered.HTML)
	}
	if rendered.QRPNGBase64 == "" {
		t.Error("expected a QR code to be generated")
	}
}

func TestRenderCard_SkipsQRWhenNoContent(t *testing.T) {
	rendered, err := renderCard("Status", "plain text", "")
	if err != nil {
		t.Fatalf("renderCard: %v", err)
	}
	if rendered.QRPNGBase64 != "" {
		t.Error("expected no QR code when qrContent is empty")
	}
}

func TestExecuteCapability_PostsRenderedPayloadToWebhook(t *testing.T) {
	received := make(chan Rendered, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var rendered Rendered
		json.NewDecoder(r.Body).Decode(&rendered)
		received <- rendered
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	bus := eventbus.New(eventbus.Config{})
	factory := New(bus, nil)
	in := connector.New("panel-1", "", "", factory(), map[string]any{"webhookUrl": srv.URL}, nil)

	if err := in.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer in.Disconnect(context.Background())

	_, err := connector.NewDispatcher().Dispatch(context.Background(), in, "display:render", capability.OpTrigger, map[string]any{
		"title": "Front door", "markdown": "someone is here",
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	select {
	case rendered := <-received:
		if rendered.Title != "Front door" {
			t.Errorf("title = %q, want Front door", rendered.Title)
		}
	default:
		t.Fatal("expected webhook to receive the rendered payload")
	}
}
