package trackerconn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nugget/integration-hub/internal/capability"
	"github.com/nugget/integration-hub/internal/connector"
	"github.com/nugget/integration-hub/internal/event"
	"github.com/nugget/integration-hub/internal/eventbus"
)

func TestValidateConfig_RequiresRepoIDRepoAndToken(t *testing.T) {
	d := &Driver{}
	if err := d.ValidateConfig(map[string]any{}); err == nil {
		t.Fatal("expected error for empty config")
	}
	if err := d.ValidateConfig(map[string]any{"repoId": "r1", "repo": "bad-format", "token": "t"}); err == nil {
		t.Fatal("expected error for malformed repo")
	}
	if err := d.ValidateConfig(map[string]any{"repoId": "r1", "repo": "owner/repo", "token": "t"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func fakeGitHub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	issueCounter := 100

	mux.HandleFunc("GET /api/v3/repos/owner/repo", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"full_name": "owner/repo"})
	})
	mux.HandleFunc("GET /api/v3/repos/owner/repo/issues", func(w http.ResponseWriter, r *http.Request) {
		issueCounter++
		json.NewEncoder(w).Encode([]map[string]any{
			{"number": issueCounter, "title": "New bug", "state": "open", "html_url": "https://example.com/1",
				"user": map[string]any{"login": "alice"}, "created_at": "2026-01-01T00:00:00Z"},
		})
	})
	mux.HandleFunc("POST /api/v3/repos/owner/repo/issues/42/comments", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"id": 7, "html_url": "https://example.com/comment/7"})
	})
	return httptest.NewServer(mux)
}

func TestConnect_SeedsLastSeenThenPublishesNewIssue(t *testing.T) {
	srv := fakeGitHub(t)
	defer srv.Close()

	bus := eventbus.New(eventbus.Config{})
	received := make(chan event.Event, 4)
	bus.Subscribe("new-issue", func(e event.Event) { received <- e })

	factory := New(bus, nil)
	in := connector.New("repo-1", "", "", factory(), map[string]any{
		"repoId":              "repo-1",
		"repo":                "owner/repo",
		"token":               "test-token",
		"baseUrl":             srv.URL,
		"pollIntervalSeconds": float64(0.05),
	}, nil)

	if err := in.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer in.Disconnect(context.Background())

	select {
	case e := <-received:
		if e.Source != "repo-1" {
			t.Errorf("source = %q, want repo-1", e.Source)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for new-issue event")
	}
}

func TestExecuteCapability_AddCommentReturnsID(t *testing.T) {
	srv := fakeGitHub(t)
	defer srv.Close()

	bus := eventbus.New(eventbus.Config{})
	factory := New(bus, nil)
	in := connector.New("repo-1", "", "", factory(), map[string]any{
		"repoId":  "repo-1",
		"repo":    "owner/repo",
		"token":   "test-token",
		"baseUrl": srv.URL,
	}, nil)

	if err := in.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer in.Disconnect(context.Background())

	result, err := connector.NewDispatcher().Dispatch(context.Background(), in, "tracker:comment", capability.OpTrigger, map[string]any{
		"number": float64(42), "body": "looking into it",
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	m, ok := result.(map[string]any)
	if !ok || m["id"] != int64(7) {
		t.Errorf("result = %#v, want id=7", result)
	}
}
