// Package app wires the exchange, storage, caches and services together and
// runs them in the configured mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/wallbot/internal/config"
)

type modeFunc func(*App, context.Context, *Dependencies) error

var modes = map[string]modeFunc{
	"trade":   (*App).TradeMode,
	"monitor": (*App).MonitorMode,
}

// App owns the configuration and the cleanup of whatever Run wired.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	closeOnce sync.Once
	cleanup   func()
}

func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Run wires the dependencies, starts the mode's goroutines and blocks until
// ctx is cancelled or one of them fails. Call Close afterwards.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	run, ok := modes[mode]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	start := time.Now()
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.cleanup = cleanup
	a.logger.InfoContext(ctx, "dependencies ready",
		slog.String("mode", mode),
		slog.Duration("took", time.Since(start)),
		slog.Int("health_checks", len(deps.Checkers)),
	)

	return run(a, ctx, deps)
}

// Close releases the wired dependencies in reverse order. Repeated calls are
// no-ops.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.cleanup == nil {
			return
		}
		a.logger.Info("releasing dependencies", slog.String("component", "app"))
		a.cleanup()
	})
}
