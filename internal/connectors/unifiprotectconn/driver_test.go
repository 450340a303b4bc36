package unifiprotectconn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nugget/integration-hub/internal/connector"
	"github.com/nugget/integration-hub/internal/event"
	"github.com/nugget/integration-hub/internal/eventbus"
)

func TestValidateConfig_RequiresBaseURLAPIKeyAndCameraID(t *testing.T) {
	d := &Driver{}
	if err := d.ValidateConfig(map[string]any{}); err == nil {
		t.Fatal("expected error for empty config")
	}
	if err := d.ValidateConfig(map[string]any{"baseUrl": "x", "apiKey": "y"}); err == nil {
		t.Fatal("expected error for missing cameraId")
	}
	if err := d.ValidateConfig(map[string]any{"baseUrl": "x", "apiKey": "y", "cameraId": "cam-7"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPollLoop_PublishesMotionEventFilteredByCamera(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/proxy/protect/api/bootstrap":
			w.WriteHeader(http.StatusOK)
		case "/proxy/protect/api/events":
			events := []protectEvent{
				{ID: "evt-1", Type: "motion", Camera: "cam-7", Score: 90},
				{ID: "evt-2", Type: "motion", Camera: "cam-other", Score: 80},
			}
			json.NewEncoder(w).Encode(events)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	bus := eventbus.New(eventbus.Config{})
	factory := New(bus, nil)
	in := connector.New("cam-7", "Camera 7", "", factory(), map[string]any{
		"baseUrl":             srv.URL,
		"apiKey":              "k",
		"cameraId":            "cam-7",
		"pollIntervalSeconds": float64(1),
	}, nil)

	received := make(chan string, 4)
	bus.Subscribe("motion", func(ev event.Event) {
		received <- ev.Source
	})

	if err := in.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer in.Disconnect(context.Background())

	select {
	case src := <-received:
		if src != "cam-7" {
			t.Errorf("event source = %q, want cam-7", src)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for motion event")
	}
}
