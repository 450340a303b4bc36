// Package trackerconn implements the "issue-tracker" connector type: a
// single GitHub repository whose issues can be listed, created, and
// commented on, and which is polled for newly opened issues that are
// republished as domain events. Adapted from a provider-agnostic code
// forge client down to its GitHub/google-go-github core.
package trackerconn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v69/github"

	"github.com/nugget/integration-hub/internal/capability"
	"github.com/nugget/integration-hub/internal/connector"
	"github.com/nugget/integration-hub/internal/event"
	"github.com/nugget/integration-hub/internal/eventbus"
	"github.com/nugget/integration-hub/internal/httpkit"
)

var issueCapability = capability.Definition{
	ID:                 "tracker:issue",
	Operations:         []capability.Operation{capability.OpList, capability.OpTrigger},
	RequiresConnection: true,
	Parameters: map[string]capability.Parameter{
		"title": {Type: "string", Required: false},
		"body":  {Type: "string", Required: false},
	},
}

var commentCapability = capability.Definition{
	ID:                 "tracker:comment",
	Operations:         []capability.Operation{capability.OpTrigger},
	RequiresConnection: true,
	Parameters: map[string]capability.Parameter{
		"number": {Type: "number", Required: true},
		"body":   {Type: "string", Required: true},
	},
}

var newIssueCapability = capability.Definition{
	ID:                 "tracker:new-issue",
	Operations:         []capability.Operation{capability.OpSubscribe},
	Events:             []string{"new-issue"},
	RequiresConnection: true,
}

// Issue is the summary view of a tracker issue, used both as the
// tracker:issue list result shape and the new-issue event payload.
type Issue struct {
	Number  int       `json:"number"`
	Title   string    `json:"title"`
	Author  string    `json:"author"`
	State   string    `json:"state"`
	URL     string    `json:"url"`
	Created time.Time `json:"createdAt"`
}

// Driver implements connector.Driver for the issue-tracker type: one
// instance per repository.
type Driver struct {
	bus *eventbus.Bus
	log *slog.Logger

	mu         sync.Mutex
	client     *github.Client
	cancelPoll context.CancelFunc

	repoID   string
	owner    string
	repo     string
	lastSeen int // highest issue number seen so far

	pollEvery time.Duration
}

// New returns a registry.Factory for the issue-tracker type.
func New(bus *eventbus.Bus, log *slog.Logger) func() connector.Driver {
	if log == nil {
		log = slog.Default()
	}
	return func() connector.Driver {
		return &Driver{bus: bus, log: log}
	}
}

func (d *Driver) Type() string { return "issue-tracker" }

func (d *Driver) Capabilities() []capability.Definition {
	return []capability.Definition{issueCapability, commentCapability, newIssueCapability}
}

func (d *Driver) ValidateConfig(cfg map[string]any) error {
	if _, ok := cfg["repoId"].(string); !ok {
		return fmt.Errorf("issue-tracker: repoId is required (must match this instance's own id)")
	}
	repo, ok := cfg["repo"].(string)
	if !ok {
		return fmt.Errorf("issue-tracker: repo is required (owner/name)")
	}
	if _, _, err := splitRepo(repo); err != nil {
		return err
	}
	if _, ok := cfg["token"].(string); !ok {
		return fmt.Errorf("issue-tracker: token is required")
	}
	return nil
}

func (d *Driver) PerformConnect(ctx context.Context, cfg map[string]any) error {
	d.repoID, _ = cfg["repoId"].(string)
	repoStr, _ := cfg["repo"].(string)
	owner, name, err := splitRepo(repoStr)
	if err != nil {
		return err
	}
	d.owner, d.repo = owner, name

	token, _ := cfg["token"].(string)
	baseURL, _ := cfg["baseUrl"].(string)

	httpClient := httpkit.NewClient(httpkit.WithTimeout(30*time.Second), httpkit.WithLogger(d.log))
	client := github.NewClient(httpClient).WithAuthToken(token)
	if baseURL != "" && baseURL != "https://api.github.com" {
		client, err = client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return fmt.Errorf("configure enterprise URL: %w", err)
		}
	}

	d.pollEvery = 5 * time.Minute
	if secs, ok := cfg["pollIntervalSeconds"].(float64); ok && secs > 0 {
		d.pollEvery = time.Duration(secs * float64(time.Second))
	}

	// Verify the token/repo combination works before declaring connected.
	if _, _, err := client.Repositories.Get(ctx, owner, name); err != nil {
		return fmt.Errorf("issue-tracker: verify repo %s/%s: %w", owner, name, err)
	}

	d.mu.Lock()
	d.client = client
	d.mu.Unlock()

	if err := d.seedLastSeen(ctx); err != nil {
		d.log.Warn("issue-tracker: failed to seed last-seen issue", "repo", repoStr, "error", err)
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.cancelPoll = cancel
	d.mu.Unlock()
	go d.pollLoop(pollCtx)

	return nil
}

func (d *Driver) PerformDisconnect(ctx context.Context) error {
	d.mu.Lock()
	cancel := d.cancelPoll
	d.client = nil
	d.cancelPoll = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

func (d *Driver) ExecuteCapability(ctx context.Context, capID string, op capability.Operation, params map[string]any) (any, error) {
	d.mu.Lock()
	client := d.client
	d.mu.Unlock()
	if client == nil {
		return nil, fmt.Errorf("issue-tracker: not connected")
	}

	switch capID {
	case "tracker:issue":
		return d.executeIssue(ctx, client, op, params)
	case "tracker:comment":
		return d.executeComment(ctx, client, params)
	default:
		return nil, fmt.Errorf("issue-tracker: unknown capability %q", capID)
	}
}

func (d *Driver) executeIssue(ctx context.Context, client *github.Client, op capability.Operation, params map[string]any) (any, error) {
	if op == capability.OpList {
		ghIssues, _, err := client.Issues.ListByRepo(ctx, d.owner, d.repo, &github.IssueListByRepoOptions{
			ListOptions: github.ListOptions{PerPage: 50},
		})
		if err != nil {
			return nil, fmt.Errorf("list issues: %w", err)
		}
		out := make([]Issue, 0, len(ghIssues))
		for _, gi := range ghIssues {
			if gi.IsPullRequest() {
				continue
			}
			out = append(out, mapIssue(gi))
		}
		return out, nil
	}

	title, _ := params["title"].(string)
	body, _ := params["body"].(string)
	if title == "" {
		return nil, fmt.Errorf("issue-tracker: title is required to create an issue")
	}
	ghIssue, _, err := client.Issues.Create(ctx, d.owner, d.repo, &github.IssueRequest{Title: &title, Body: &body})
	if err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}
	return mapIssue(ghIssue), nil
}

func (d *Driver) executeComment(ctx context.Context, client *github.Client, params map[string]any) (any, error) {
	number, ok := params["number"].(float64)
	if !ok {
		return nil, fmt.Errorf("issue-tracker: number is required")
	}
	body, _ := params["body"].(string)
	comment, _, err := client.Issues.CreateComment(ctx, d.owner, d.repo, int(number), &github.IssueComment{Body: &body})
	if err != nil {
		return nil, fmt.Errorf("add comment: %w", err)
	}
	return map[string]any{"id": comment.GetID(), "url": comment.GetHTMLURL()}, nil
}

func mapIssue(gi *github.Issue) Issue {
	return Issue{
		Number:  gi.GetNumber(),
		Title:   gi.GetTitle(),
		Author:  gi.GetUser().GetLogin(),
		State:   gi.GetState(),
		URL:     gi.GetHTMLURL(),
		Created: gi.GetCreatedAt().Time,
	}
}

func splitRepo(repo string) (owner, name string, err error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo format %q, expected owner/repo", repo)
	}
	return parts[0], parts[1], nil
}
