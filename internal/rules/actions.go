package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/nugget/integration-hub/internal/capability"
	"github.com/nugget/integration-hub/internal/event"
	"github.com/nugget/integration-hub/internal/rulestore"
)

// runAction executes one rule action against evt, per §4.6 step 3c.
func (e *Engine) runAction(ctx context.Context, a rulestore.Action, evt event.Event) error {
	switch a.Type {
	case rulestore.ActionNotify:
		return e.runNotify(ctx, a.Config, evt)
	case rulestore.ActionExecute:
		return e.runExecute(ctx, a.Config)
	case rulestore.ActionRecord:
		return e.runRecord(ctx, a.Config)
	case rulestore.ActionEscalate:
		return e.runEscalate(a.Config, evt)
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
}

func (e *Engine) runNotify(ctx context.Context, cfg map[string]any, evt event.Event) error {
	if e.notify == nil {
		return fmt.Errorf("notify action configured but no Notifier wired")
	}
	channels, ok := cfg["channels"].([]any)
	if !ok || len(channels) == 0 {
		return fmt.Errorf("notify action missing channels")
	}
	tmpl, _ := cfg["message"].(string)
	message := renderTemplate(tmpl, evt)

	var firstErr error
	for _, c := range channels {
		channel, ok := c.(string)
		if !ok {
			continue
		}
		if err := e.notify.Notify(ctx, channel, message); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *Engine) runExecute(ctx context.Context, cfg map[string]any) error {
	if e.dispatch == nil {
		return fmt.Errorf("execute action configured but no Dispatcher wired")
	}
	instanceID, _ := cfg["connectorId"].(string)
	capID, _ := cfg["capability"].(string)
	op, _ := cfg["operation"].(string)
	if instanceID == "" || capID == "" || op == "" {
		return fmt.Errorf("execute action requires connectorId, capability, and operation")
	}
	params, _ := cfg["params"].(map[string]any)
	_, err := e.dispatch.Dispatch(ctx, instanceID, capID, capability.Operation(op), params)
	return err
}

func (e *Engine) runRecord(ctx context.Context, cfg map[string]any) error {
	if e.record == nil {
		return fmt.Errorf("record action configured but no Recorder wired")
	}
	channel, _ := cfg["channel"].(string)
	payload, _ := cfg["payload"].(map[string]any)
	return e.record.Record(ctx, channel, payload)
}

func (e *Engine) runEscalate(cfg map[string]any, evt event.Event) error {
	priority, _ := cfg["priority"].(string)
	if priority == "" {
		return fmt.Errorf("escalate action missing priority")
	}
	escalated := evt
	escalated.Priority = event.Priority(priority)
	e.bus.Publish(escalated)
	return nil
}

// renderTemplate substitutes {{source}}, {{type}}, {{priority}}, and
// {{data.<key>}} placeholders against evt. Unknown placeholders are left
// untouched rather than erroring, since a malformed template should
// still produce a best-effort notification.
func renderTemplate(tmpl string, evt event.Event) string {
	replacements := map[string]string{
		"{{source}}":   evt.Source,
		"{{type}}":     evt.Type,
		"{{priority}}": string(evt.Priority),
	}
	out := tmpl
	for k, v := range replacements {
		out = strings.ReplaceAll(out, k, v)
	}
	for k, v := range evt.Data {
		placeholder := "{{data." + k + "}}"
		out = strings.ReplaceAll(out, placeholder, fmt.Sprint(v))
	}
	return out
}
