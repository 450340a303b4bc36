// Package connector implements the contract every connector instance
// satisfies (lifecycle, capabilities, execution, stats) and the dispatcher
// that validates and executes capability calls against an instance.
//
// Concrete connector drivers (MQTT, WebSocket, WebDAV, GitHub, IMAP, …)
// implement Driver; everything else — the state machine, stats
// bookkeeping, event emission, per-instance serialisation — is common and
// lives here, per §4.2's "all other behaviour is common" requirement.
package connector

import (
	"context"

	"github.com/nugget/integration-hub/internal/capability"
)

// Driver is implemented once per connector type. performConnect,
// performDisconnect, and executeCapability are the only type-specific
// behaviour; Instance supplies everything else.
type Driver interface {
	// Type returns the stable, kebab-case type identifier.
	Type() string
	// Capabilities returns the type's declarative capability schema.
	Capabilities() []capability.Definition
	// ValidateConfig checks a candidate instance config before creation.
	ValidateConfig(cfg map[string]any) error
	// PerformConnect establishes the underlying connection. Called only
	// from the Disconnected/Error state, never while already Connected.
	PerformConnect(ctx context.Context, cfg map[string]any) error
	// PerformDisconnect tears down the underlying connection. Called
	// from any state other than Disconnected (Connected or Error).
	PerformDisconnect(ctx context.Context) error
	// ExecuteCapability performs one (capabilityId, operation) call.
	// Parameter and precondition validation happen before this is
	// called; drivers only implement the actual work.
	ExecuteCapability(ctx context.Context, capID string, op capability.Operation, params map[string]any) (any, error)
}

// Hooks is an optional interface a Driver may additionally implement for
// lifecycle callbacks. Drivers that don't implement it get no-op hooks.
type Hooks interface {
	OnConnect(ctx context.Context)
	OnDisconnect(ctx context.Context)
	OnError(ctx context.Context, err error)
}

func hooksOf(d Driver) Hooks {
	if h, ok := d.(Hooks); ok {
		return h
	}
	return noopHooks{}
}

type noopHooks struct{}

func (noopHooks) OnConnect(context.Context)      {}
func (noopHooks) OnDisconnect(context.Context)   {}
func (noopHooks) OnError(context.Context, error) {}
