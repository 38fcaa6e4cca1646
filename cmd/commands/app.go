package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/claudestation/claudestation/internal/apiclient"
	"github.com/claudestation/claudestation/internal/config"
	"github.com/claudestation/claudestation/internal/conversation"
	"github.com/claudestation/claudestation/internal/events"
	"github.com/claudestation/claudestation/internal/orchestrator"
	"github.com/claudestation/claudestation/internal/pricing"
	"github.com/claudestation/claudestation/internal/store"
)

// app bundles the wired services a command needs, built fresh per
// invocation from the on-disk config and store. There is no long-lived
// daemon: each CLI invocation opens the store, does its work, and closes it.
type app struct {
	store    *store.Store
	bus      *events.Bus
	orch     *orchestrator.Orchestrator
	conv     *conversation.Service
	tracker  *pricing.TokenTracker
	reloader *config.Reloader
}

// newApp wires a Service over the configured store and provider, starting
// the orchestrator's background compression worker. Callers must call
// close() when done.
func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(config.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	api, err := apiclient.New(cfg.Provider, nil)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build api client: %w", err)
	}

	tracker, err := pricing.New()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load pricing: %w", err)
	}

	bus := events.NewBus(cfg.Events.BufferSize)

	orch := orchestrator.New(st, api, tracker, bus)
	orch.Start()

	conv := conversation.New(st, orch, tracker, bus)

	reloader := config.NewReloader(configPath, config.DotenvPath(), cfg)
	reloader.OnReload(func(reloaded *config.Config) {
		configureLogging(false, reloaded.Events.LogLevel)
	})

	return &app{store: st, bus: bus, orch: orch, conv: conv, tracker: tracker, reloader: reloader}, nil
}

func (a *app) close() {
	a.orch.Stop()
	a.bus.Close()
	if err := a.store.Close(); err != nil {
		slog.Warn("close store", "error", err)
	}
}

// configureLogging sets the process-wide slog default handler from the
// --debug flag and the config file's events.log_level.
func configureLogging(debug bool, level string) {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	if debug {
		lvl = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
