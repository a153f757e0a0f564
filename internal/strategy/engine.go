package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/wallbot/internal/domain"
)

// Subscriber keeps the market data subscriptions in line with the active
// symbols.
type Subscriber interface {
	Reconcile(ctx context.Context, symbols []string) error
}

// EngineConfig holds the engine settings.
type EngineConfig struct {
	// Tuning is the parameter template; instrument filters are filled in at
	// activation.
	Tuning     domain.StrategyParameters
	InboxSize  int
	LockTTL    time.Duration
	LockPrefix string
}

// Engine routes market events to one strategy instance per symbol. Each
// instance consumes its own ordered inbox on its own goroutine, so symbols
// never block each other's state and events for one symbol are handled in
// arrival order.
type Engine struct {
	cfg         EngineConfig
	deps        Deps
	locks       domain.LockManager
	subs        Subscriber
	registry    *Registry
	logger      *slog.Logger
	newStrategy func(domain.StrategyParameters) Strategy

	root context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
	opMu sync.Mutex // serializes activation changes
}

// NewEngine creates an Engine. Instances are started by Activate or Sync and
// stopped when Run returns.
func NewEngine(cfg EngineConfig, deps Deps) *Engine {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1024
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.LockPrefix == "" {
		cfg.LockPrefix = "symbol:"
	}
	root, stop := context.WithCancel(context.Background())
	e := &Engine{
		cfg:      cfg,
		deps:     deps,
		registry: NewRegistry(),
		logger:   deps.Logger.With(slog.String("component", "strategy_engine")),
		root:     root,
		stop:     stop,
	}
	e.newStrategy = func(p domain.StrategyParameters) Strategy {
		return NewAdaptiveWallStrategy(p, deps)
	}
	return e
}

// SetLockManager enables per-symbol distributed locks.
func (e *Engine) SetLockManager(l domain.LockManager) { e.locks = l }

// SetSubscriber sets the subscription reconciler.
func (e *Engine) SetSubscriber(s Subscriber) { e.subs = s }

// Registry returns the instance registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Symbols returns the symbols that still need market data.
func (e *Engine) Symbols() []string { return e.registry.List() }

// Info returns runtime info for every instance, sorted by symbol.
func (e *Engine) Info() []SymbolInfo { return e.registry.ListInfo() }

// Run dispatches events until ctx is done or events is closed, then stops
// every instance.
func (e *Engine) Run(ctx context.Context, events <-chan domain.MarketEvent) error {
	e.logger.Info("strategy engine started")
	defer e.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			e.Dispatch(ctx, ev)
		}
	}
}

// Dispatch hands ev to the instance owning its symbol. It blocks while that
// inbox is full; events for inactive symbols are dropped.
func (e *Engine) Dispatch(ctx context.Context, ev domain.MarketEvent) {
	inst, ok := e.registry.get(ev.EventSymbol())
	if !ok {
		return
	}
	select {
	case inst.inbox <- ev:
	case <-inst.done:
	case <-ctx.Done():
	}
}

// Activate starts trading symbol. Failing to load the instrument filters is
// fatal for that symbol only.
func (e *Engine) Activate(ctx context.Context, symbol string) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	if err := e.activateLocked(ctx, symbol); err != nil {
		return err
	}
	return e.reconcile(ctx)
}

// Deactivate stops symbol. An instance with a trade in flight keeps running
// until it is back to idle.
func (e *Engine) Deactivate(_ context.Context, symbol string) {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	e.deactivateLocked(symbol)
}

// Sync activates every symbol in target and deactivates the rest.
func (e *Engine) Sync(ctx context.Context, target []string) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	want := mapset.NewSet[string](target...)
	running := mapset.NewSet[string]()
	for _, info := range e.registry.ListInfo() {
		if info.Status == "running" {
			running.Add(info.Symbol)
		}
	}

	remove := running.Difference(want).ToSlice()
	add := want.Difference(running).ToSlice()
	sort.Strings(remove)
	sort.Strings(add)

	for _, sym := range remove {
		e.deactivateLocked(sym)
	}
	var errs []error
	for _, sym := range add {
		if err := e.activateLocked(ctx, sym); err != nil {
			e.logger.ErrorContext(ctx, "symbol activation failed",
				slog.String("symbol", sym),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	if err := e.reconcile(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Statuses returns the status of every instance, sorted by symbol.
func (e *Engine) Statuses() []Status {
	insts := e.registry.all()
	out := make([]Status, 0, len(insts))
	for _, inst := range insts {
		out = append(out, inst.strat.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (e *Engine) activateLocked(ctx context.Context, symbol string) error {
	if inst, ok := e.registry.get(symbol); ok {
		if inst.isDraining() {
			inst.setDraining(false)
			e.logger.InfoContext(ctx, "symbol deactivation cancelled", slog.String("symbol", symbol))
		}
		return nil
	}

	spec, err := e.deps.Exchange.FetchInstrumentInfo(ctx, symbol)
	if err != nil {
		return fmt.Errorf("strategy: activate %s: instrument info: %w", symbol, err)
	}
	params, err := e.cfg.Tuning.WithInstrument(spec)
	if err != nil {
		return fmt.Errorf("strategy: activate %s: %w", symbol, err)
	}

	var lease domain.Lease
	if e.locks != nil {
		lease, err = e.locks.Acquire(ctx, e.cfg.LockPrefix+symbol, e.cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("strategy: activate %s: lock: %w", symbol, err)
		}
	}

	ictx, cancel := context.WithCancel(e.root)
	inst := &instance{
		strat:       e.newStrategy(params),
		inbox:       make(chan domain.MarketEvent, e.cfg.InboxSize),
		cancel:      cancel,
		done:        make(chan struct{}),
		lease:       lease,
		activatedAt: time.Now(),
	}
	e.registry.put(symbol, inst)
	e.deps.Metrics.SetActiveSymbols(e.registry.Len())

	e.wg.Add(1)
	go e.runInstance(ictx, symbol, inst)

	e.logger.InfoContext(ctx, "symbol activated",
		slog.String("symbol", symbol),
		slog.Float64("tick_size", params.TickSize),
		slog.Float64("lot_size", params.LotSize),
		slog.Float64("min_qty", params.MinQty),
		slog.Float64("min_notional", params.MinNotional),
	)
	return nil
}

func (e *Engine) deactivateLocked(symbol string) {
	inst, ok := e.registry.get(symbol)
	if !ok || inst.isDraining() {
		return
	}
	inst.setDraining(true)
	if !inst.strat.Idle() {
		e.logger.Info("symbol draining until trade completes", slog.String("symbol", symbol))
	}
}

func (e *Engine) runInstance(ctx context.Context, symbol string, inst *instance) {
	defer e.wg.Done()
	defer close(inst.done)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return inst.strat.Run(gctx) })
	g.Go(func() error { return e.consume(gctx, symbol, inst) })
	if inst.lease != nil {
		g.Go(func() error { return e.keepLease(gctx, symbol, inst) })
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Error("symbol instance failed", slog.String("symbol", symbol), slog.String("error", err.Error()))
	}
	if inst.lease != nil {
		inst.lease.Release()
	}

	if e.registry.remove(symbol, inst) {
		e.deps.Metrics.SetActiveSymbols(e.registry.Len())
		if e.root.Err() == nil {
			rctx, cancel := context.WithTimeout(e.root, 10*time.Second)
			defer cancel()
			e.opMu.Lock()
			err := e.reconcile(rctx)
			e.opMu.Unlock()
			if err != nil {
				e.logger.Warn("reconcile after deactivation failed", slog.String("error", err.Error()))
			}
		}
	}
}

// consume feeds the inbox to the strategy and finishes a pending
// deactivation once the strategy is idle. The idle check runs on this
// goroutine so it cannot race a decision pass.
func (e *Engine) consume(ctx context.Context, symbol string, inst *instance) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-inst.inbox:
			deliver(ctx, inst.strat, ev)
		case <-ticker.C:
		}
		if inst.isDraining() && inst.strat.Idle() {
			e.logger.Info("symbol deactivated", slog.String("symbol", symbol))
			inst.cancel()
			return nil
		}
	}
}

func deliver(ctx context.Context, s Strategy, ev domain.MarketEvent) {
	switch ev := ev.(type) {
	case domain.DepthEvent:
		s.OnDepth(ctx, ev)
	case domain.ExecutionEvent:
		s.OnExecution(ctx, ev)
	case domain.TradeEvent:
		s.OnTick(ctx, ev)
	}
}

func (e *Engine) keepLease(ctx context.Context, symbol string, inst *instance) error {
	ticker := time.NewTicker(e.cfg.LockTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := inst.lease.Extend(ctx, e.cfg.LockTTL); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				e.logger.Error("symbol lock lost, draining",
					slog.String("symbol", symbol),
					slog.String("error", err.Error()),
				)
				inst.setDraining(true)
				return nil
			}
		}
	}
}

func (e *Engine) reconcile(ctx context.Context) error {
	if e.subs == nil {
		return nil
	}
	if err := e.subs.Reconcile(ctx, e.registry.List()); err != nil {
		return fmt.Errorf("strategy: reconcile subscriptions: %w", err)
	}
	return nil
}

func (e *Engine) shutdown() {
	for _, inst := range e.registry.all() {
		if !inst.strat.Idle() {
			e.logger.Warn("stopping with trade in flight", slog.String("symbol", inst.strat.Symbol()))
		}
	}
	e.stop()
	e.wg.Wait()
	e.logger.Info("strategy engine stopped")
}
