package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/integration-hub/internal/connector"
)

// reconnectManager drives Connect retries for instances that land in the
// Error state, adapted from connwatch's Watcher/Manager: one goroutine
// per watched subject, exponential backoff with a ceiling, here wired to
// a connector instance's connect() instead of a generic health probe.
type reconnectManager struct {
	log     *slog.Logger
	backoff Backoff

	mu       sync.Mutex
	inFlight map[string]context.CancelFunc
	wg       sync.WaitGroup
}

func newReconnectManager(backoff Backoff, log *slog.Logger) *reconnectManager {
	return &reconnectManager{
		log:      log,
		backoff:  backoff,
		inFlight: make(map[string]context.CancelFunc),
	}
}

// Watch starts a reconnect loop for in unless one is already running.
// connectionAttempts increases monotonically via the instance's own
// counter until a successful Connect resets it, per §4.8.
func (m *reconnectManager) Watch(ctx context.Context, in *connector.Instance) {
	m.mu.Lock()
	if _, exists := m.inFlight[in.ID]; exists {
		m.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.inFlight[in.ID] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(loopCtx, in)
}

func (m *reconnectManager) run(ctx context.Context, in *connector.Instance) {
	defer m.wg.Done()
	defer m.clear(in.ID)

	attempt := 0
	for {
		if in.Status() == connector.StatusConnected {
			return
		}

		if err := in.Connect(ctx); err == nil {
			m.log.Info("supervisor: connector reconnected", "connector", in.ID, "attempts", attempt+1)
			return
		}

		delay := m.backoff.Delay(attempt)
		m.log.Debug("supervisor: reconnect attempt failed, backing off",
			"connector", in.ID, "attempt", attempt, "delay", delay)
		attempt++

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (m *reconnectManager) clear(id string) {
	m.mu.Lock()
	delete(m.inFlight, id)
	m.mu.Unlock()
}

// Stop cancels every in-flight reconnect loop and waits for them to exit.
func (m *reconnectManager) Stop() {
	m.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(m.inFlight))
	for _, c := range m.inFlight {
		cancels = append(cancels, c)
	}
	m.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	m.wg.Wait()
}
