package emailconn

import (
	"context"
	"time"

	"github.com/nugget/integration-hub/internal/event"
)

// seedHighWaterMark records the current highest INBOX UID without
// reporting it, so the first poll after connect doesn't republish the
// entire mailbox as new-message events.
func (d *Driver) seedHighWaterMark() error {
	d.mu.Lock()
	client := d.client
	d.mu.Unlock()

	envelopes, err := listMessages(client, "INBOX", false, 0, 1)
	if err != nil {
		return err
	}
	if len(envelopes) == 0 {
		return nil
	}
	d.hwmMu.Lock()
	d.hwm = envelopes[0].UID
	d.hwmMu.Unlock()
	return nil
}

// pollLoop checks INBOX for messages newer than the stored high-water
// mark on every tick, publishing one new-message event per message
// found, until ctx is cancelled at disconnect.
func (d *Driver) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(d.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.checkNewMessages()
		}
	}
}

func (d *Driver) checkNewMessages() {
	d.mu.Lock()
	client := d.client
	d.mu.Unlock()
	if client == nil {
		return
	}

	d.hwmMu.Lock()
	mark := d.hwm
	d.hwmMu.Unlock()

	envelopes, err := listMessages(client, "INBOX", false, mark, 0)
	if err != nil {
		d.log.Warn("email: poll failed", "account", d.accountID, "error", err)
		return
	}
	if len(envelopes) == 0 {
		return
	}

	var highest uint32
	for _, env := range envelopes {
		if env.UID > highest {
			highest = env.UID
		}
	}
	if highest > mark {
		d.hwmMu.Lock()
		d.hwm = highest
		d.hwmMu.Unlock()
	}

	for _, env := range envelopes {
		d.bus.Publish(event.Normalize(event.Event{
			Type:   "new-message",
			Source: d.accountID,
			Data: map[string]any{
				"uid":     env.UID,
				"from":    env.From,
				"subject": env.Subject,
			},
		}))
	}
}
