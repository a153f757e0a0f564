package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/wallbot/internal/domain"
	"github.com/alanyoungcy/wallbot/internal/feed"
	"github.com/alanyoungcy/wallbot/internal/pipeline"
	"github.com/alanyoungcy/wallbot/internal/scanner"
	"github.com/alanyoungcy/wallbot/internal/server"
	"github.com/alanyoungcy/wallbot/internal/server/handler"
	"github.com/alanyoungcy/wallbot/internal/server/ws"
	"github.com/alanyoungcy/wallbot/internal/service"
	"github.com/alanyoungcy/wallbot/internal/strategy"
)

// TradeMode runs the full engine: market bridge, per-symbol strategies,
// order entry, rotation and every side service.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	g, ctx := errgroup.WithContext(ctx)

	var private feed.Stream
	if deps.Private != nil {
		private = deps.Private
	}
	bridge := a.newBridge(deps, private)
	a.startRecorder(ctx, g, deps, bridge)

	journal := service.NewJournal(service.JournalConfig{}, deps.AuditStore, deps.SignalBus, deps.Notifier, a.logger)
	g.Go(func() error { return journal.Run(ctx) })

	var gateway domain.OrderGateway
	if deps.Gateway != nil {
		gateway = deps.Gateway
		g.Go(func() error { return a.connectGateway(ctx, deps) })
	}

	engine := strategy.NewEngine(strategy.EngineConfig{
		Tuning:    a.cfg.Strategy.Parameters(),
		InboxSize: a.cfg.Strategy.InboxSize,
		LockTTL:   a.cfg.Strategy.LockTTL.Duration,
	}, strategy.Deps{
		Exchange: deps.REST,
		Gateway:  gateway,
		Sink:     journal,
		Metrics:  deps.Metrics,
		Logger:   a.logger,
	})
	engine.SetSubscriber(bridge)
	if deps.LockManager != nil {
		engine.SetLockManager(deps.LockManager)
	}

	g.Go(func() error { return bridge.Run(ctx) })
	g.Go(func() error { return engine.Run(ctx, bridge.Events()) })

	rotator := a.newRotator(deps, engine)
	g.Go(func() error { return a.allocate(ctx, bridge, engine, rotator) })

	if deps.BookCache != nil {
		mirror := service.NewBookMirror(engine, deps.BookCache, deps.SignalBus, a.cfg.Server.BookMirror.Duration, a.logger)
		g.Go(func() error { return mirror.Run(ctx) })
	}
	a.startArchiver(ctx, g, deps)

	status := handler.NewStatusHandler("trade", engine, bridge)
	a.startServer(ctx, g, deps, status, engine, rotator)

	return g.Wait()
}

// MonitorMode streams and records market data for the selected symbols
// without trading.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	bridge := a.newBridge(deps, nil)
	a.startRecorder(ctx, g, deps, bridge)
	g.Go(func() error { return bridge.Run(ctx) })

	// Nothing consumes the queue without an engine.
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-bridge.Events():
			}
		}
	})

	syncer := &bridgeSyncer{bridge: bridge}
	rotator := a.newRotator(deps, syncer)
	g.Go(func() error { return a.allocate(ctx, bridge, syncer, rotator) })

	a.startArchiver(ctx, g, deps)

	status := handler.NewStatusHandler("monitor", nil, bridge)
	a.startServer(ctx, g, deps, status, nil, rotator)

	return g.Wait()
}

func (a *App) newBridge(deps *Dependencies, private feed.Stream) *feed.MarketBridge {
	return feed.NewMarketBridge(feed.BridgeConfig{
		Depth:      a.cfg.Bridge.Depth,
		BatchSize:  a.cfg.Bridge.BatchSize,
		BatchPause: a.cfg.Bridge.BatchPause.Duration,
		QueueSize:  a.cfg.Bridge.QueueSize,
	}, deps.Public, private, deps.Metrics, a.logger)
}

// startRecorder taps the bridge into the tick store. Call before the bridge
// runs.
func (a *App) startRecorder(ctx context.Context, g *errgroup.Group, deps *Dependencies, bridge *feed.MarketBridge) {
	if !a.cfg.Recorder.Enabled || deps.TickStore == nil {
		return
	}
	recorder := service.NewRecorder(service.RecorderConfig{
		TickBatch:     a.cfg.Recorder.TickBatch,
		DepthBatch:    a.cfg.Recorder.DepthBatch,
		FlushInterval: a.cfg.Recorder.FlushInterval.Duration,
	}, deps.TickStore, deps.Metrics, a.logger)
	bridge.AddTap(recorder.Observe)
	g.Go(func() error { return recorder.Run(ctx) })
}

func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	g.Go(func() error { return archiver.RunCron(ctx, a.cfg.Archive.Cron) })
}

// newRotator returns nil when the scanner is disabled.
func (a *App) newRotator(deps *Dependencies, target scanner.Syncer) *scanner.Rotator {
	if !a.cfg.Scanner.Enabled {
		return nil
	}
	sc := a.cfg.Scanner
	selCfg := scanner.DefaultSelectorConfig()
	selCfg.TopN = sc.TopN
	selCfg.QuoteCoin = sc.QuoteCoin
	selCfg.ExcludeBases = sc.ExcludeBases
	selCfg.RequireCopyTrading = sc.RequireCopyTrading
	selCfg.MinTurnover = sc.MinTurnover
	selCfg.Candidates = sc.Candidates
	selCfg.KlineInterval = sc.KlineInterval
	selCfg.KlineLimit = sc.KlineLimit
	selCfg.MinCandles = sc.MinCandles
	selCfg.Concurrency = sc.Concurrency

	selector := scanner.NewSelector(selCfg, deps.REST, a.logger)
	return scanner.NewRotator(selector, target, sc.Schedule, a.cfg.Strategy.Symbols, a.logger)
}

// allocate waits for the streams, then hands symbol selection to the rotator
// or applies the static list.
func (a *App) allocate(ctx context.Context, bridge *feed.MarketBridge, target scanner.Syncer, rotator *scanner.Rotator) error {
	select {
	case <-bridge.Ready():
	case <-ctx.Done():
		return ctx.Err()
	}
	if rotator != nil {
		return rotator.Run(ctx)
	}
	if err := target.Sync(ctx, a.cfg.Strategy.Symbols); err != nil {
		a.logger.ErrorContext(ctx, "static symbol allocation incomplete", slog.String("error", err.Error()))
	}
	<-ctx.Done()
	return ctx.Err()
}

// connectGateway retries the order gateway until it authenticates. Orders go
// over REST until then.
func (a *App) connectGateway(ctx context.Context, deps *Dependencies) error {
	backoff := time.Second
	for {
		err := deps.Gateway.Connect(ctx)
		if err == nil {
			a.logger.InfoContext(ctx, "order gateway connected")
			return nil
		}
		a.logger.WarnContext(ctx, "order gateway connect failed, using rest",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", backoff),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, time.Minute)
	}
}

func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, status *handler.StatusHandler, engine handler.SymbolEngine, rotator *scanner.Rotator) {
	if !a.cfg.Server.Enabled {
		return
	}
	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(deps.Checkers, a.logger),
		Status:  status,
		Metrics: deps.Metrics.Handler(),
	}
	if engine != nil {
		handlers.Symbols = handler.NewSymbolHandler(engine, a.logger)
	}
	if deps.AuditStore != nil {
		handlers.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}
	if rotator != nil {
		handlers.Scan = handler.NewScanHandler(rotator, a.logger)
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, nil, func() any { return status.Snapshot() }, a.logger)
		g.Go(func() error { return hub.Run(ctx) })
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)
	g.Go(func() error { return srv.Run(ctx) })
}

// bridgeSyncer lets the rotator drive subscriptions directly when no engine
// runs.
type bridgeSyncer struct {
	bridge *feed.MarketBridge
}

func (s *bridgeSyncer) Sync(ctx context.Context, target []string) error {
	return s.bridge.Reconcile(ctx, target)
}

func (s *bridgeSyncer) Symbols() []string { return s.bridge.Active() }
