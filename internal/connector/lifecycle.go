package connector

import (
	"context"
	"time"
)

// Connect drives the instance from Disconnected/Error to Connected.
// It is a no-op from Connected, per §4.4's idempotence invariant. The
// instance's mutex is held for the full duration, including
// performConnect, so concurrent Connect/Disconnect/Execute calls on the
// same instance observe a total order (§5's per-instance serialisation).
func (in *Instance) Connect(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.status == StatusConnected {
		return nil
	}
	in.status = StatusConnecting
	cfg := in.config

	err := in.driver.PerformConnect(ctx, cfg)
	if err != nil {
		in.status = StatusError
		in.lastError = err
		in.connectionAttempts.Add(1)
		hooksOf(in.driver).OnError(ctx, err)
		in.emit("connection-error", map[string]any{"error": err.Error()})
		return in.errConnect(err)
	}

	in.status = StatusConnected
	in.lastConnected = time.Now().UTC()
	in.connectionAttempts.Store(0)
	hooksOf(in.driver).OnConnect(ctx)
	in.emit("connected", map[string]any{})
	return nil
}

// Disconnect drives the instance to Disconnected. It is a no-op from
// Disconnected.
func (in *Instance) Disconnect(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.status == StatusDisconnected {
		return nil
	}

	err := in.driver.PerformDisconnect(ctx)
	in.status = StatusDisconnected
	if err != nil {
		hooksOf(in.driver).OnError(ctx, err)
		return in.errDisconnect(err)
	}
	hooksOf(in.driver).OnDisconnect(ctx)
	in.emit("disconnected", map[string]any{})
	return nil
}

// Reconnect disconnects (if needed) and connects again.
func (in *Instance) Reconnect(ctx context.Context) error {
	if err := in.Disconnect(ctx); err != nil {
		return err
	}
	return in.Connect(ctx)
}
