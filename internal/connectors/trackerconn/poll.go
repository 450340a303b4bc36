package trackerconn

import (
	"context"
	"time"

	"github.com/google/go-github/v69/github"

	"github.com/nugget/integration-hub/internal/event"
)

// seedLastSeen records the current highest issue number without
// reporting it, so the first poll after connect doesn't republish
// every open issue as new-issue events.
func (d *Driver) seedLastSeen(ctx context.Context) error {
	d.mu.Lock()
	client := d.client
	d.mu.Unlock()

	ghIssues, _, err := client.Issues.ListByRepo(ctx, d.owner, d.repo, &github.IssueListByRepoOptions{
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return err
	}
	for _, gi := range ghIssues {
		if gi.IsPullRequest() {
			continue
		}
		if gi.GetNumber() > d.lastSeen {
			d.lastSeen = gi.GetNumber()
		}
	}
	return nil
}

func (d *Driver) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(d.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.checkNewIssues(ctx)
		}
	}
}

func (d *Driver) checkNewIssues(ctx context.Context) {
	d.mu.Lock()
	client := d.client
	lastSeen := d.lastSeen
	d.mu.Unlock()
	if client == nil {
		return
	}

	ghIssues, _, err := client.Issues.ListByRepo(ctx, d.owner, d.repo, &github.IssueListByRepoOptions{
		Sort:        "created",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: 30},
	})
	if err != nil {
		d.log.Warn("issue-tracker: poll failed", "repo", d.owner+"/"+d.repo, "error", err)
		return
	}

	var fresh []Issue
	highest := lastSeen
	for _, gi := range ghIssues {
		if gi.IsPullRequest() {
			continue
		}
		n := gi.GetNumber()
		if n > highest {
			highest = n
		}
		if n > lastSeen {
			fresh = append(fresh, mapIssue(gi))
		}
	}

	if highest > lastSeen {
		d.mu.Lock()
		d.lastSeen = highest
		d.mu.Unlock()
	}

	for _, issue := range fresh {
		d.bus.Publish(event.Normalize(event.Event{
			Type:   "new-issue",
			Source: d.repoID,
			Data: map[string]any{
				"number": issue.Number,
				"title":  issue.Title,
				"author": issue.Author,
				"url":    issue.URL,
			},
		}))
	}
}
