package strategy

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/wallbot/internal/analytics"
	"github.com/alanyoungcy/wallbot/internal/domain"
	"github.com/alanyoungcy/wallbot/internal/executor"
	"github.com/alanyoungcy/wallbot/internal/metrics"
	"github.com/alanyoungcy/wallbot/internal/orderbook"
)

// Deps are the collaborators shared by every strategy instance.
type Deps struct {
	Exchange domain.Exchange
	Gateway  domain.OrderGateway // optional fast order path
	Sink     domain.LifecycleSink
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// AdaptiveWallStrategy trades in front of order book walls for one symbol. It
// owns the local book, the analytics, the detector and the trade manager.
type AdaptiveWallStrategy struct {
	params   domain.StrategyParameters
	book     *orderbook.Book
	vol      *analytics.Volatility
	detector *Detector
	trades   *executor.TradeManager
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	// guard drops a decision pass instead of queueing it behind a running
	// one. The book is always updated.
	guard sync.Mutex
	// confirms mirrors the detector's count so Status never waits on guard.
	confirms atomic.Int64

	mu         sync.RWMutex
	lastSignal *Signal
	lastTrade  float64
	lastTickAt time.Time
}

// NewAdaptiveWallStrategy wires a strategy for params, which must already
// carry the instrument filters.
func NewAdaptiveWallStrategy(params domain.StrategyParameters, deps Deps) *AdaptiveWallStrategy {
	logger := deps.Logger.With(
		slog.String("component", "wall_strategy"),
		slog.String("symbol", params.Symbol),
	)
	vol := analytics.NewVolatility(params, deps.Exchange, deps.Metrics, deps.Logger)
	trades := executor.NewTradeManager(params, deps.Exchange, vol, deps.Logger)
	if deps.Gateway != nil {
		trades.SetGateway(deps.Gateway)
	}
	trades.SetSink(deps.Sink)
	trades.SetMetrics(deps.Metrics)

	return &AdaptiveWallStrategy{
		params:   params,
		book:     orderbook.New(params.Symbol),
		vol:      vol,
		detector: NewDetector(params),
		trades:   trades,
		metrics:  deps.Metrics,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *AdaptiveWallStrategy) Symbol() string { return s.params.Symbol }

// Trades exposes the trade manager.
func (s *AdaptiveWallStrategy) Trades() *executor.TradeManager { return s.trades }

// Book exposes the local order book.
func (s *AdaptiveWallStrategy) Book() *orderbook.Book { return s.book }

// Run drives the volatility refresh loop until ctx is done.
func (s *AdaptiveWallStrategy) Run(ctx context.Context) error {
	return s.vol.Run(ctx)
}

// Idle reports whether no trade is in flight.
func (s *AdaptiveWallStrategy) Idle() bool {
	return s.trades.State() == domain.StateIdle
}

// OnDepth applies the update and runs one decision pass for the current
// trade state.
func (s *AdaptiveWallStrategy) OnDepth(ctx context.Context, ev domain.DepthEvent) {
	if !s.book.Apply(ev) {
		return
	}
	s.metrics.BookUpdate(s.params.Symbol)

	if !s.guard.TryLock() {
		s.metrics.DecisionDropped(s.params.Symbol)
		return
	}
	defer s.guard.Unlock()

	bid, okB := s.book.Best(domain.SideBuy)
	ask, okA := s.book.Best(domain.SideSell)
	if !okB || !okA {
		return
	}
	avg := s.vol.UpdateEMA(s.book.BackgroundVolume())

	switch s.trades.State() {
	case domain.StateIdle:
		s.evaluateEntry(ctx, avg)
	case domain.StateOrderPlaced:
		s.superviseEntry(ctx, bid, ask)
	case domain.StateInPosition:
		s.manageRisk(ctx, bid, ask)
	}
}

// OnExecution forwards fills to the trade manager.
func (s *AdaptiveWallStrategy) OnExecution(ctx context.Context, ev domain.ExecutionEvent) {
	if err := s.trades.HandleExecution(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "handle execution failed",
			slog.String("order_id", ev.OrderID),
			slog.String("error", err.Error()),
		)
	}
}

// OnTick records the last trade price for status. It does not trade.
func (s *AdaptiveWallStrategy) OnTick(_ context.Context, ev domain.TradeEvent) {
	s.mu.Lock()
	s.lastTrade = ev.Price
	s.lastTickAt = ev.Timestamp
	s.mu.Unlock()
}

func (s *AdaptiveWallStrategy) evaluateEntry(ctx context.Context, avg float64) {
	sig := s.detector.Detect(s.book, avg)
	s.confirms.Store(int64(s.detector.Confirms()))
	if sig == nil {
		return
	}
	s.metrics.Signal(s.params.Symbol, string(sig.Side))
	s.mu.Lock()
	s.lastSignal = sig
	s.mu.Unlock()

	p := s.params
	qty := analytics.FloorToLot(p.OrderAmountUSDT/sig.EntryPrice, p.LotSize)
	if qty < p.MinQty || qty*sig.EntryPrice < p.MinNotional {
		s.logger.InfoContext(ctx, "wall signal skipped, order below exchange minimum",
			slog.String("side", string(sig.Side)),
			slog.Float64("entry", sig.EntryPrice),
			slog.Float64("qty", qty),
			slog.Float64("min_qty", p.MinQty),
			slog.Float64("min_notional", p.MinNotional),
		)
		return
	}

	tp, sl := s.vol.CalculateExits(sig.Side, sig.EntryPrice, sig.WallPrice)
	s.logger.InfoContext(ctx, "wall confirmed",
		slog.String("side", string(sig.Side)),
		slog.Float64("wall", sig.WallPrice),
		slog.Float64("wall_volume", sig.WallVolume),
		slog.Float64("threshold", sig.Threshold),
		slog.Float64("entry", sig.EntryPrice),
	)
	if _, err := s.trades.OpenPosition(ctx, executor.Entry{
		Side:          sig.Side,
		WallPrice:     sig.WallPrice,
		WallThreshold: sig.Threshold,
		EntryPrice:    sig.EntryPrice,
		Qty:           qty,
		StopLoss:      sl,
		TakeProfit:    tp,
	}); err != nil {
		s.logger.WarnContext(ctx, "open position failed", slog.String("error", err.Error()))
	}
}

// superviseEntry cancels a resting entry once the wall weakens, the market
// runs away from the order or the entry goes stale.
func (s *AdaptiveWallStrategy) superviseEntry(ctx context.Context, bid, ask float64) {
	_, tc, ok := s.trades.Snapshot()
	if !ok {
		return
	}
	reason := s.entryCancelReason(tc, bid, ask)
	if reason == "" {
		return
	}
	if err := s.trades.CancelEntry(ctx, reason); err != nil {
		s.logger.WarnContext(ctx, "cancel entry failed, retrying on next update",
			slog.String("order_id", tc.EntryOrderID),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
	}
}

func (s *AdaptiveWallStrategy) entryCancelReason(tc domain.TradeContext, bid, ask float64) string {
	p := s.params
	near := s.book.VolumeNear(tc.Side, tc.WallPrice, p.TickSize, p.IntegrityWindow)
	if near < p.WallIntegrityRatio*tc.WallThreshold {
		return "wall_integrity"
	}
	if tc.Side == domain.SideBuy && bid > analytics.OffsetTicks(tc.EntryPrice, p.TickSize, p.DriftTicks) {
		return "drift"
	}
	if tc.Side == domain.SideSell && ask < analytics.OffsetTicks(tc.EntryPrice, p.TickSize, -p.DriftTicks) {
		return "drift"
	}
	if p.EntryTimeout > 0 && s.now().Sub(tc.PlacedAt) > p.EntryTimeout {
		return "timeout"
	}
	return ""
}

// manageRisk panics out when the wall behind the position is eaten through
// or the stop distance is breached, and otherwise keeps the take-profit in
// sync.
func (s *AdaptiveWallStrategy) manageRisk(ctx context.Context, bid, ask float64) {
	_, tc, ok := s.trades.Snapshot()
	if !ok {
		return
	}
	p := s.params

	var (
		reason string
		pnl    float64
		mark   float64
	)
	if tc.Side == domain.SideBuy {
		mark = bid
		pnl = analytics.TicksBetween(bid, tc.EntryPrice, p.TickSize)
		if bid < tc.WallPrice {
			reason = "wall_breakout"
		}
	} else {
		mark = ask
		pnl = analytics.TicksBetween(tc.EntryPrice, ask, p.TickSize)
		if ask > tc.WallPrice {
			reason = "wall_breakout"
		}
	}
	if reason == "" && pnl <= -float64(p.StopLossTicks) {
		reason = "stop_loss"
	}

	if reason != "" {
		s.logger.WarnContext(ctx, "risk limit breached",
			slog.String("reason", reason),
			slog.String("side", string(tc.Side)),
			slog.Float64("mark", mark),
			slog.Float64("wall", tc.WallPrice),
			slog.Float64("entry", tc.EntryPrice),
			slog.Float64("pnl_ticks", pnl),
			slog.Float64("qty", tc.FilledQuantity),
		)
		if err := s.trades.PanicExit(ctx, reason); err != nil {
			s.logger.ErrorContext(ctx, "panic exit failed", slog.String("error", err.Error()))
		}
		return
	}

	// A partially filled entry still resting is cancelled under the same
	// staleness rules as a fresh one.
	if tc.EntryResting {
		if r := s.entryCancelReason(tc, bid, ask); r != "" {
			if err := s.trades.CancelEntry(ctx, r); err != nil {
				s.logger.WarnContext(ctx, "cancel entry remainder failed", slog.String("error", err.Error()))
			}
		}
	}

	if err := s.trades.EnsureTakeProfit(ctx); err != nil {
		s.logger.WarnContext(ctx, "take-profit sync failed", slog.String("error", err.Error()))
	}
}

// Status returns the monitoring view.
func (s *AdaptiveWallStrategy) Status() Status {
	state, tc, ok := s.trades.Snapshot()
	st := Status{
		Symbol:    s.params.Symbol,
		State:     state.String(),
		Top:       s.book.Summary(),
		Analytics: s.vol.Snapshot(),
	}
	if ok {
		st.Trade = &tc
	}

	st.Confirms = int(s.confirms.Load())

	s.mu.RLock()
	defer s.mu.RUnlock()
	st.LastSignal = s.lastSignal
	st.LastTrade = s.lastTrade
	st.LastTickAt = s.lastTickAt
	return st
}
