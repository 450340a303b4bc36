package connector

import (
	"context"
	"errors"

	"github.com/nugget/integration-hub/internal/capability"
	"github.com/nugget/integration-hub/internal/huberrors"
)

var (
	errUnknownCapability    = errors.New("capability not declared by type")
	errCapabilityDisabled   = errors.New("capability disabled on instance")
	errUnsupportedOperation = errors.New("operation not supported by capability")
	errNotConnected         = errors.New("capability requires a connected instance")
)

// Dispatcher validates and executes (capabilityId, operation, params)
// calls against an Instance, per §4.3's nine-step sequence. It is
// stateless; all mutable bookkeeping lives on the target Instance.
type Dispatcher struct{}

// NewDispatcher returns a ready-to-use Dispatcher.
func NewDispatcher() *Dispatcher { return &Dispatcher{} }

// Dispatch runs steps 1-9 of §4.3 against in. The instance's mutex
// serialises this call with any concurrent Connect/Disconnect/Execute on
// the same instance.
func (d *Dispatcher) Dispatch(ctx context.Context, in *Instance, capID string, op capability.Operation, params map[string]any) (any, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	def, ok := findDefinition(in.driver.Capabilities(), capID)
	if !ok {
		return nil, huberrors.Capability("dispatch", in.ID, errUnknownCapability)
	}
	if !in.enabled[capID] {
		return nil, huberrors.Capability("dispatch", in.ID, errCapabilityDisabled)
	}
	if !def.SupportsOperation(op) {
		return nil, huberrors.Capability("dispatch", in.ID, errUnsupportedOperation)
	}
	if def.RequiresConnection && in.status != StatusConnected {
		return nil, huberrors.Lifecycle("dispatch", in.ID, errNotConnected)
	}
	if err := def.ValidateParams(params); err != nil {
		return nil, huberrors.Parameter("dispatch", in.ID, err)
	}

	in.stats.touch()

	result, err := d.execute(ctx, in, capID, op, params)
	if err != nil {
		in.stats.errs.Add(1)
		in.lastError = err
		in.emit("operation-error", map[string]any{
			"capabilityId": capID, "operation": string(op), "error": err.Error(),
		})
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, huberrors.Timeout("dispatch", in.ID, err)
		}
		return nil, huberrors.Execution("dispatch", in.ID, err)
	}

	switch {
	case capability.IsProducer(op):
		in.stats.sent.Add(1)
	case capability.IsConsumer(op):
		in.stats.received.Add(1)
	}
	in.emit("operation-completed", map[string]any{
		"capabilityId": capID, "operation": string(op),
	})
	return result, nil
}

// executeOutcome carries an ExecuteCapability call's result across the
// goroutine boundary execute uses to race it against ctx.
type executeOutcome struct {
	result any
	err    error
}

// execute runs in.driver.ExecuteCapability on its own goroutine and
// races it against ctx, per §5: on expiry or cancellation, Dispatch
// unblocks immediately with ctx's error rather than waiting on a driver
// that may not check ctx itself. The goroutine is not abandoned: if the
// call eventually finishes after Dispatch has already returned, its
// result is still recorded onto the instance under a fresh lock
// acquisition, so stats and lastError stay accurate.
func (d *Dispatcher) execute(ctx context.Context, in *Instance, capID string, op capability.Operation, params map[string]any) (any, error) {
	done := make(chan executeOutcome, 1)
	go func() {
		result, err := in.driver.ExecuteCapability(ctx, capID, op, params)
		done <- executeOutcome{result, err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		go recordLateOutcome(in, capID, op, done)
		return nil, ctx.Err()
	}
}

// recordLateOutcome waits for a timed-out ExecuteCapability call to
// actually finish and folds its result into the instance's bookkeeping,
// since Dispatch already returned a timeout error to its caller without
// waiting for it.
func recordLateOutcome(in *Instance, capID string, op capability.Operation, done <-chan executeOutcome) {
	o := <-done

	in.mu.Lock()
	defer in.mu.Unlock()

	if o.err != nil {
		in.stats.errs.Add(1)
		in.lastError = o.err
		in.emit("operation-error", map[string]any{
			"capabilityId": capID, "operation": string(op), "error": o.err.Error(),
		})
		return
	}

	switch {
	case capability.IsProducer(op):
		in.stats.sent.Add(1)
	case capability.IsConsumer(op):
		in.stats.received.Add(1)
	}
	in.emit("operation-completed", map[string]any{
		"capabilityId": capID, "operation": string(op),
	})
}

func findDefinition(defs []capability.Definition, id string) (capability.Definition, bool) {
	for _, d := range defs {
		if d.ID == id {
			return d, true
		}
	}
	return capability.Definition{}, false
}
