// Command hubd boots the integration hub: event bus, connector registry,
// rule engine, and the supervisor that wires them together and keeps
// connectors alive across restarts.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nugget/integration-hub/internal/buildinfo"
	"github.com/nugget/integration-hub/internal/capability"
	"github.com/nugget/integration-hub/internal/config"
	"github.com/nugget/integration-hub/internal/connectors/displayconn"
	"github.com/nugget/integration-hub/internal/connectors/emailconn"
	"github.com/nugget/integration-hub/internal/connectors/mqttconn"
	"github.com/nugget/integration-hub/internal/connectors/statehubconn"
	"github.com/nugget/integration-hub/internal/connectors/storageconn"
	"github.com/nugget/integration-hub/internal/connectors/trackerconn"
	"github.com/nugget/integration-hub/internal/connectors/unifiprotectconn"
	"github.com/nugget/integration-hub/internal/eventbus"
	"github.com/nugget/integration-hub/internal/registry"
	"github.com/nugget/integration-hub/internal/rules"
	"github.com/nugget/integration-hub/internal/rulestore"
	"github.com/nugget/integration-hub/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "", "path to config.json (default: search standard locations)")
	flag.Parse()

	if flag.Arg(0) == "version" {
		fmt.Println(buildinfo.String())
		return
	}

	path, err := config.FindConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hubd:", err)
		os.Exit(1)
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hubd:", err)
		os.Exit(1)
	}

	level, _ := config.ParseLogLevel(cfg.Hub.LogLevel)
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("hubd: fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	bus := eventbus.New(eventbus.Config{
		MailboxSize:    cfg.Hub.BusMailboxSize,
		HistoryCap:     cfg.Hub.BusHistoryCap,
		WorkerPoolSize: cfg.Hub.WorkerPoolSize,
		Logger:         log,
	})

	reg := registry.New(bus, log)
	if err := registerConnectorTypes(reg, bus, log); err != nil {
		return fmt.Errorf("register connector types: %w", err)
	}

	reg.EnablePersistence(cfg.Path())
	if err := reg.EnableCheckpoints(cfg.CheckpointPath()); err != nil {
		return fmt.Errorf("enable checkpoints: %w", err)
	}

	store, err := rulestore.NewStore(cfg.Hub.RuleStorePath)
	if err != nil {
		return fmt.Errorf("open rule store: %w", err)
	}

	engine := rules.New(bus, store, reg, &dispatchNotifier{reg: reg}, &dispatchRecorder{reg: reg}, log)

	sup := supervisor.New(cfg, bus, reg, store, engine, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sup.Boot(ctx); err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	log.Info("hubd: boot complete", "config", cfg.Path())

	<-ctx.Done()
	log.Info("hubd: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sup.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("hubd: shutdown complete")
	return nil
}

// registerConnectorTypes registers every compiled-in connector driver
// with the registry's type catalogue.
func registerConnectorTypes(reg *registry.Registry, bus *eventbus.Bus, log *slog.Logger) error {
	factories := []registry.Factory{
		unifiprotectconn.New(bus, log),
		mqttconn.New(bus, log),
		statehubconn.New(bus, log),
		emailconn.New(bus, log),
		trackerconn.New(bus, log),
		storageconn.New(bus, log),
		displayconn.New(bus, log),
	}
	for _, f := range factories {
		if err := reg.RegisterType(f); err != nil {
			return err
		}
	}
	return nil
}

// resolveSendCapability finds the capability that instanceID declares
// for op, so a notify{}/record{} action's channel can name a bare
// connector instance ID — e.g. "telegram-main" — per spec.md's §8
// scenario 3 ("telegram-main.execute(\"telegram:send\", \"send\", ...)"),
// rather than requiring the caller to already know which capability ID
// the connector exposes.
func resolveSendCapability(reg *registry.Registry, instanceID string, op capability.Operation) (string, error) {
	in := reg.Get(instanceID)
	if in == nil {
		return "", fmt.Errorf("connector %q not found", instanceID)
	}
	for _, def := range in.Definitions() {
		if def.SupportsOperation(op) {
			return def.ID, nil
		}
	}
	return "", fmt.Errorf("connector %q declares no capability supporting %q", instanceID, op)
}

// dispatchNotifier adapts the Registry's Dispatch to rules.Notifier. A
// notify{} action's channel is a bare connector instance ID; the
// capability is resolved by OpSend support rather than named in the
// channel string.
type dispatchNotifier struct {
	reg *registry.Registry
}

func (n *dispatchNotifier) Notify(ctx context.Context, channel, message string) error {
	capID, err := resolveSendCapability(n.reg, channel, capability.OpSend)
	if err != nil {
		return err
	}
	_, err = n.reg.Dispatch(ctx, channel, capID, capability.OpSend, map[string]any{
		"message":  message,
		"body":     message,
		"markdown": message,
	})
	return err
}

// dispatchRecorder adapts the Registry's Dispatch to rules.Recorder. A
// record{} action's channel is a bare connector instance ID; the
// capability is resolved by OpWrite support rather than named in the
// channel string.
type dispatchRecorder struct {
	reg *registry.Registry
}

func (r *dispatchRecorder) Record(ctx context.Context, channel string, payload map[string]any) error {
	capID, err := resolveSendCapability(r.reg, channel, capability.OpWrite)
	if err != nil {
		return err
	}
	_, err = r.reg.Dispatch(ctx, channel, capID, capability.OpWrite, payload)
	return err
}
