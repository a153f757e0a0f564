package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/wallbot/internal/analytics"
	"github.com/alanyoungcy/wallbot/internal/domain"
	"github.com/alanyoungcy/wallbot/internal/metrics"
)

// flatEpsilon is the open quantity at or below which a position counts as
// closed.
var flatEpsilon = decimal.New(1, -9)

// Entry describes a post-only entry order and the bracket attached to it.
type Entry struct {
	Side          domain.Side
	WallPrice     float64
	WallThreshold float64
	EntryPrice    float64
	Qty           float64
	StopLoss      float64
	TakeProfit    float64
}

// ExitPricer supplies the take-profit price when none was fixed at entry.
type ExitPricer interface {
	TakeProfitPrice(side domain.Side, entry float64) float64
}

// trade is the mutable record behind domain.TradeContext. Fill quantities are
// accumulated in decimal so partial fills sum exactly.
type trade struct {
	ctx         domain.TradeContext
	entryLinkID string
	target      decimal.Decimal
	entryFilled decimal.Decimal
	// confirmed is the position size reported by the exchange when a cancel
	// raced a fill. It is a floor, so late execution reports for the same
	// fills do not count twice.
	confirmed  decimal.Decimal
	exitFilled decimal.Decimal
	exitOrders map[string]bool // take-profit order ids and link ids
	tpQty      decimal.Decimal // total size of the resting take-profit
	tpBase     decimal.Decimal // exitFilled when that take-profit was placed
}

func (t *trade) held() decimal.Decimal {
	h := decimal.Max(t.entryFilled, t.confirmed)
	if h.GreaterThan(t.target) {
		return t.target
	}
	return h
}

func (t *trade) open() decimal.Decimal {
	o := t.held().Sub(t.exitFilled)
	if o.IsNegative() {
		return decimal.Zero
	}
	return o
}

func (t *trade) isEntry(ev domain.ExecutionEvent) bool {
	return (ev.OrderID != "" && ev.OrderID == t.ctx.EntryOrderID) ||
		(ev.OrderLinkID != "" && ev.OrderLinkID == t.entryLinkID)
}

func (t *trade) isExit(ev domain.ExecutionEvent) bool {
	return (ev.OrderID != "" && t.exitOrders[ev.OrderID]) ||
		(ev.OrderLinkID != "" && t.exitOrders[ev.OrderLinkID])
}

// TradeManager owns the order lifecycle of one symbol: entry, fill
// accounting, take-profit synchronization, cancel races and panic exits. It is
// the only component that mutates trade state. All exported methods are safe
// for concurrent use; they serialize on one mutex that is held across the
// exchange round-trip so an execution report can never observe a half-applied
// transition.
type TradeManager struct {
	params   domain.StrategyParameters
	exchange domain.Exchange
	gateway  domain.OrderGateway
	exits    ExitPricer
	sink     domain.LifecycleSink
	metrics  *metrics.Metrics
	dedup    *Dedup
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	state domain.StrategyState
	trade *trade
	// retired is the last closed trade. Entry fills reported after it closed
	// are matched against it.
	retired *trade
}

// NewTradeManager creates an idle TradeManager for params.Symbol.
func NewTradeManager(params domain.StrategyParameters, exchange domain.Exchange, exits ExitPricer, logger *slog.Logger) *TradeManager {
	return &TradeManager{
		params:   params,
		exchange: exchange,
		exits:    exits,
		dedup:    NewDedup(10 * time.Minute),
		now:      time.Now,
		logger: logger.With(
			slog.String("component", "trade_manager"),
			slog.String("symbol", params.Symbol),
		),
	}
}

// SetGateway enables the low-latency order path. REST stays the fallback.
func (m *TradeManager) SetGateway(g domain.OrderGateway) { m.gateway = g }

// SetSink sets the lifecycle event sink.
func (m *TradeManager) SetSink(s domain.LifecycleSink) { m.sink = s }

// SetMetrics sets the metrics collectors.
func (m *TradeManager) SetMetrics(mt *metrics.Metrics) { m.metrics = mt }

// State returns the current lifecycle state.
func (m *TradeManager) State() domain.StrategyState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns the state and a copy of the trade context. The bool is
// false when idle.
func (m *TradeManager) Snapshot() (domain.StrategyState, domain.TradeContext, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.trade == nil {
		return m.state, domain.TradeContext{}, false
	}
	t := m.trade
	out := t.ctx
	out.FilledQuantity = t.open().InexactFloat64()
	if out.TakeProfitOrderID != "" {
		out.TakeProfitQuantity = t.tpQty.Sub(t.exitFilled.Sub(t.tpBase)).InexactFloat64()
	}
	return m.state, out, true
}

// OpenPosition submits a post-only entry carrying its stop-loss and
// take-profit attributes and moves Idle -> OrderPlaced. It returns
// ErrNotIdle unless idle.
func (m *TradeManager) OpenPosition(ctx context.Context, e Entry) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != domain.StateIdle {
		return "", domain.ErrNotIdle
	}
	if !e.Side.Valid() || !(e.Qty > 0) || !(e.EntryPrice > 0) {
		return "", fmt.Errorf("executor: open position %s qty=%v price=%v: %w", e.Side, e.Qty, e.EntryPrice, domain.ErrInvalidOrder)
	}

	link := newLinkID("en")
	id, err := m.placeLimit(ctx, "entry", domain.LimitOrder{
		Symbol:      m.params.Symbol,
		Side:        e.Side,
		Price:       e.EntryPrice,
		Qty:         e.Qty,
		StopLoss:    e.StopLoss,
		TakeProfit:  e.TakeProfit,
		OrderLinkID: link,
	})
	if err != nil {
		return "", fmt.Errorf("executor: place entry: %w", err)
	}

	m.trade = &trade{
		ctx: domain.TradeContext{
			Symbol:          m.params.Symbol,
			Side:            e.Side,
			WallPrice:       e.WallPrice,
			WallThreshold:   e.WallThreshold,
			EntryPrice:      e.EntryPrice,
			TargetQuantity:  e.Qty,
			EntryOrderID:    id,
			EntryResting:    true,
			TakeProfitPrice: e.TakeProfit,
			StopLossPrice:   e.StopLoss,
			PlacedAt:        m.now(),
		},
		entryLinkID: link,
		target:      decimal.NewFromFloat(e.Qty),
		exitOrders:  make(map[string]bool),
	}
	m.setState(domain.StateOrderPlaced)

	m.logger.InfoContext(ctx, "entry placed",
		slog.String("order_id", id),
		slog.String("side", string(e.Side)),
		slog.Float64("price", e.EntryPrice),
		slog.Float64("qty", e.Qty),
		slog.Float64("wall", e.WallPrice),
		slog.Float64("sl", e.StopLoss),
		slog.Float64("tp", e.TakeProfit),
	)
	m.emit(domain.LifecycleOpen, e.EntryPrice, e.Qty, id, "")
	return id, nil
}

// HandleExecution applies one fill. Entry fills grow the position and resync
// the take-profit; take-profit fills shrink it and close the trade at zero.
// An entry fill for a trade that already closed reopens it. Replayed
// execution ids are ignored.
func (m *TradeManager) HandleExecution(ctx context.Context, ev domain.ExecutionEvent) error {
	qty := decimal.NewFromFloat(ev.ExecQty)
	if !qty.IsPositive() {
		return nil
	}
	if m.dedup.Seen(ev.ExecID) {
		m.logger.DebugContext(ctx, "duplicate execution ignored", slog.String("exec_id", ev.ExecID))
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.trade
	if t == nil {
		if r := m.retired; r != nil && r.isEntry(ev) {
			return m.adoptLateEntryLocked(ctx, r, ev, qty)
		}
		m.logger.WarnContext(ctx, "execution with no active trade",
			slog.String("order_id", ev.OrderID),
			slog.String("side", string(ev.Side)),
			slog.Float64("qty", ev.ExecQty),
			slog.Float64("price", ev.ExecPrice),
		)
		return nil
	}

	switch {
	case t.isEntry(ev):
		t.entryFilled = t.entryFilled.Add(qty)
		if t.entryFilled.GreaterThanOrEqual(t.target) {
			t.ctx.EntryResting = false
		}
		if m.state == domain.StateOrderPlaced {
			m.setState(domain.StateInPosition)
		}
		m.logger.InfoContext(ctx, "entry fill",
			slog.String("order_id", ev.OrderID),
			slog.Float64("qty", ev.ExecQty),
			slog.Float64("price", ev.ExecPrice),
			slog.String("filled", t.entryFilled.String()),
			slog.String("target", t.target.String()),
		)
		m.emit(domain.LifecycleFill, ev.ExecPrice, ev.ExecQty, ev.OrderID, "entry")
		return m.syncTakeProfitLocked(ctx)

	case t.isExit(ev):
		t.exitFilled = t.exitFilled.Add(qty)
		open := t.open()
		m.logger.InfoContext(ctx, "take-profit fill",
			slog.String("order_id", ev.OrderID),
			slog.Float64("qty", ev.ExecQty),
			slog.Float64("price", ev.ExecPrice),
			slog.String("open", open.String()),
		)
		m.emit(domain.LifecycleFill, ev.ExecPrice, ev.ExecQty, ev.OrderID, "take_profit")
		if open.LessThanOrEqual(flatEpsilon) {
			return m.closeFlatLocked(ctx, ev.ExecPrice, ev.OrderID, "take_profit")
		}
		return nil

	default:
		if r := m.retired; r != nil && r.isEntry(ev) {
			m.logger.ErrorContext(ctx, "fill for a closed entry while another trade is active",
				slog.String("order_id", ev.OrderID),
				slog.String("side", string(r.ctx.Side)),
				slog.Float64("qty", ev.ExecQty),
			)
			return nil
		}
		m.logger.DebugContext(ctx, "execution for untracked order",
			slog.String("order_id", ev.OrderID),
			slog.String("order_link_id", ev.OrderLinkID),
		)
		return nil
	}
}

// adoptLateEntryLocked reopens the retired trade r for an entry fill that
// arrived after it closed, so the new exposure gets a take-profit.
func (m *TradeManager) adoptLateEntryLocked(ctx context.Context, r *trade, ev domain.ExecutionEvent, qty decimal.Decimal) error {
	r.entryFilled = r.entryFilled.Add(qty)
	open := r.open()
	if open.LessThanOrEqual(flatEpsilon) {
		// already counted through the confirmed position
		m.logger.InfoContext(ctx, "late entry fill already accounted",
			slog.String("order_id", ev.OrderID),
			slog.Float64("qty", ev.ExecQty),
		)
		return nil
	}

	m.trade = r
	m.retired = nil
	m.setState(domain.StateInPosition)
	m.logger.WarnContext(ctx, "entry filled after trade closed, reopening",
		slog.String("order_id", ev.OrderID),
		slog.Float64("qty", ev.ExecQty),
		slog.Float64("price", ev.ExecPrice),
		slog.String("open", open.String()),
	)
	m.emit(domain.LifecycleFill, ev.ExecPrice, ev.ExecQty, ev.OrderID, "late_entry")
	return m.syncTakeProfitLocked(ctx)
}

// closeFlatLocked ends a trade whose open quantity is zero. A resting entry
// remainder is cancelled first. If that cancel fails the trade stays in
// InPosition, so fills of the remainder are still tracked and the next
// update retries.
func (m *TradeManager) closeFlatLocked(ctx context.Context, price float64, orderID, reason string) error {
	t := m.trade
	if t.ctx.EntryResting {
		err := m.cancelOrder(ctx, "cancel_entry", t.ctx.EntryOrderID)
		if err != nil && !errors.Is(err, domain.ErrOrderNotFound) {
			m.logger.WarnContext(ctx, "cancel entry remainder failed, keeping trade open",
				slog.String("order_id", t.ctx.EntryOrderID),
				slog.String("reason", reason),
				slog.String("error", err.Error()),
			)
			// nothing is open, so the take-profit has nothing left to close
			t.ctx.TakeProfitOrderID = ""
			return fmt.Errorf("executor: cancel entry remainder %s: %w", t.ctx.EntryOrderID, err)
		}
		t.ctx.EntryResting = false
	}
	m.emit(domain.LifecycleClose, price, t.exitFilled.InexactFloat64(), orderID, reason)
	m.resetLocked()
	return nil
}

// EnsureTakeProfit places or resizes the take-profit when it is missing or
// out of sync with the open quantity. It is how failed placements and
// amendments get retried.
func (m *TradeManager) EnsureTakeProfit(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncTakeProfitLocked(ctx)
}

func (m *TradeManager) syncTakeProfitLocked(ctx context.Context) error {
	t := m.trade
	if t == nil || m.state != domain.StateInPosition {
		return nil
	}
	open := t.open()
	if open.LessThanOrEqual(flatEpsilon) {
		return m.closeFlatLocked(ctx, t.ctx.TakeProfitPrice, "", "flat")
	}
	if t.ctx.TakeProfitOrderID == "" {
		return m.placeTakeProfitLocked(ctx, open)
	}

	// The take-profit keeps its own fills, so its total size is the open
	// quantity plus what it already closed.
	want := open.Add(t.exitFilled.Sub(t.tpBase))
	if want.Equal(t.tpQty) {
		return nil
	}

	start := time.Now()
	err := m.exchange.AmendOrder(ctx, m.params.Symbol, t.ctx.TakeProfitOrderID, want.InexactFloat64())
	m.metrics.Order("amend", err, msSince(start))
	switch {
	case err == nil:
		t.tpQty = want
		m.logger.InfoContext(ctx, "take-profit resized",
			slog.String("order_id", t.ctx.TakeProfitOrderID),
			slog.String("qty", want.String()),
		)
		return nil
	case errors.Is(err, domain.ErrOrderNotFound):
		m.logger.WarnContext(ctx, "take-profit gone on amend, confirming position",
			slog.String("order_id", t.ctx.TakeProfitOrderID),
		)
		t.ctx.TakeProfitOrderID = ""
		flat, perr := m.exchangeFlatLocked(ctx)
		if perr != nil {
			return fmt.Errorf("executor: confirm position after take-profit loss: %w", perr)
		}
		if flat {
			m.emit(domain.LifecycleClose, t.ctx.TakeProfitPrice, open.InexactFloat64(), "", "flat_on_exchange")
			m.resetLocked()
			return nil
		}
		return m.placeTakeProfitLocked(ctx, open)
	default:
		m.logger.WarnContext(ctx, "take-profit amend failed, retrying on next update",
			slog.String("order_id", t.ctx.TakeProfitOrderID),
			slog.String("qty", want.String()),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("executor: amend take-profit: %w", err)
	}
}

func (m *TradeManager) placeTakeProfitLocked(ctx context.Context, open decimal.Decimal) error {
	t := m.trade
	price := t.ctx.TakeProfitPrice
	if !(price > 0) {
		price = analytics.RoundToTick(m.exits.TakeProfitPrice(t.ctx.Side, t.ctx.EntryPrice), m.params.TickSize)
		t.ctx.TakeProfitPrice = price
	}

	link := newLinkID("tp")
	id, err := m.placeLimit(ctx, "take_profit", domain.LimitOrder{
		Symbol:      m.params.Symbol,
		Side:        t.ctx.Side.Opposite(),
		Price:       price,
		Qty:         open.InexactFloat64(),
		ReduceOnly:  true,
		OrderLinkID: link,
	})
	if err != nil {
		m.logger.WarnContext(ctx, "take-profit placement failed, retrying on next update",
			slog.Float64("price", price),
			slog.String("qty", open.String()),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("executor: place take-profit: %w", err)
	}

	t.ctx.TakeProfitOrderID = id
	t.exitOrders[id] = true
	t.exitOrders[link] = true
	t.tpQty = open
	t.tpBase = t.exitFilled

	m.logger.InfoContext(ctx, "take-profit placed",
		slog.String("order_id", id),
		slog.Float64("price", price),
		slog.String("qty", open.String()),
	)
	m.emit(domain.LifecycleTakeProfit, price, open.InexactFloat64(), id, "")
	return nil
}

// CancelEntry cancels the resting entry order. When the cancel succeeds or
// the order is already gone, the exchange position decides the outcome: any
// fill that raced the cancel moves the trade to InPosition with a synced
// take-profit, otherwise the trade is dropped. If the position cannot be
// confirmed the state is kept and the call can be repeated. In InPosition it
// only cancels the unfilled remainder of the entry.
func (m *TradeManager) CancelEntry(ctx context.Context, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelEntryLocked(ctx, reason)
}

func (m *TradeManager) cancelEntryLocked(ctx context.Context, reason string) error {
	t := m.trade
	if t == nil {
		return nil
	}

	if t.ctx.EntryResting {
		err := m.cancelOrder(ctx, "cancel_entry", t.ctx.EntryOrderID)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrOrderNotFound):
			m.logger.InfoContext(ctx, "entry already gone on cancel",
				slog.String("order_id", t.ctx.EntryOrderID),
				slog.String("reason", reason),
			)
		default:
			return fmt.Errorf("executor: cancel entry %s: %w", t.ctx.EntryOrderID, err)
		}
		t.ctx.EntryResting = false
	}

	if m.state == domain.StateInPosition {
		m.logger.InfoContext(ctx, "entry remainder cancelled",
			slog.String("order_id", t.ctx.EntryOrderID),
			slog.String("filled", t.entryFilled.String()),
			slog.String("reason", reason),
		)
		return nil
	}

	pos, err := m.exchange.GetPosition(ctx, m.params.Symbol)
	if err != nil {
		return fmt.Errorf("executor: confirm position after cancel: %w", err)
	}
	t.confirmed = sideQty(pos, t.ctx.Side)

	if open := t.open(); open.GreaterThan(flatEpsilon) {
		m.setState(domain.StateInPosition)
		m.logger.WarnContext(ctx, "entry filled while cancelling",
			slog.String("order_id", t.ctx.EntryOrderID),
			slog.String("position", open.String()),
			slog.String("reason", reason),
		)
		m.emit(domain.LifecycleFill, t.ctx.EntryPrice, open.InexactFloat64(), t.ctx.EntryOrderID, "confirmed_on_cancel")
		return m.syncTakeProfitLocked(ctx)
	}

	m.logger.InfoContext(ctx, "entry cancelled",
		slog.String("order_id", t.ctx.EntryOrderID),
		slog.String("reason", reason),
	)
	m.emit(domain.LifecycleCancel, t.ctx.EntryPrice, t.ctx.TargetQuantity, t.ctx.EntryOrderID, reason)
	m.resetLocked()
	return nil
}

// PanicExit flattens the trade: it cancels any resting entry and take-profit
// and sends a reduce-only market order for the open quantity on the opposite
// side. Nothing is submitted when the open quantity is zero. If the market
// order fails and the exchange still shows a position, the state is kept so
// the next update retries. If the entry remainder could not be cancelled the
// trade is kept in InPosition with nothing open and the error is returned.
func (m *TradeManager) PanicExit(ctx context.Context, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.trade
	if t == nil {
		return nil
	}
	if m.state == domain.StateOrderPlaced {
		if err := m.cancelEntryLocked(ctx, reason); err != nil {
			return err
		}
		if m.state != domain.StateInPosition {
			return nil
		}
	}
	var remainderErr error
	if t.ctx.EntryResting {
		err := m.cancelOrder(ctx, "cancel_entry", t.ctx.EntryOrderID)
		if err != nil && !errors.Is(err, domain.ErrOrderNotFound) {
			m.logger.WarnContext(ctx, "cancel entry remainder failed during panic exit",
				slog.String("order_id", t.ctx.EntryOrderID),
				slog.String("error", err.Error()),
			)
			remainderErr = fmt.Errorf("executor: panic exit: cancel entry remainder %s: %w", t.ctx.EntryOrderID, err)
		} else {
			t.ctx.EntryResting = false
		}
	}

	open := t.open()
	if open.LessThanOrEqual(flatEpsilon) {
		if remainderErr != nil {
			return remainderErr
		}
		m.logger.InfoContext(ctx, "panic exit with nothing open", slog.String("reason", reason))
		m.emit(domain.LifecycleClose, 0, 0, "", reason)
		m.resetLocked()
		return nil
	}

	if id := t.ctx.TakeProfitOrderID; id != "" {
		if err := m.cancelOrder(ctx, "cancel_take_profit", id); err != nil && !errors.Is(err, domain.ErrOrderNotFound) {
			m.logger.WarnContext(ctx, "cancel take-profit failed during panic exit",
				slog.String("order_id", id),
				slog.String("error", err.Error()),
			)
		}
		t.ctx.TakeProfitOrderID = ""
	}

	qty := open.InexactFloat64()
	id, err := m.placeMarket(ctx, "panic", domain.MarketOrder{
		Symbol:      m.params.Symbol,
		Side:        t.ctx.Side.Opposite(),
		Qty:         qty,
		ReduceOnly:  true,
		OrderLinkID: newLinkID("px"),
	})
	if err != nil {
		if flat, perr := m.exchangeFlatLocked(ctx); perr == nil && flat {
			m.logger.WarnContext(ctx, "panic exit order failed but exchange is flat",
				slog.String("reason", reason),
				slog.String("error", err.Error()),
			)
			m.emit(domain.LifecycleClose, 0, qty, "", "flat_on_exchange")
			return m.settlePanicLocked(remainderErr)
		}
		m.logger.ErrorContext(ctx, "panic exit order failed, retrying on next update",
			slog.String("reason", reason),
			slog.Float64("qty", qty),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("executor: panic exit: %w", err)
	}

	m.logger.WarnContext(ctx, "panic exit",
		slog.String("reason", reason),
		slog.String("order_id", id),
		slog.String("side", string(t.ctx.Side.Opposite())),
		slog.Float64("qty", qty),
		slog.Float64("entry", t.ctx.EntryPrice),
		slog.Float64("wall", t.ctx.WallPrice),
	)
	m.metrics.Panic(m.params.Symbol, reason)
	m.emit(domain.LifecyclePanic, 0, qty, id, reason)
	return m.settlePanicLocked(remainderErr)
}

// settlePanicLocked books a flattened position. The trade is only dropped once
// no entry remainder can still fill.
func (m *TradeManager) settlePanicLocked(remainderErr error) error {
	if remainderErr != nil {
		t := m.trade
		t.exitFilled = t.held()
		return remainderErr
	}
	m.resetLocked()
	return nil
}

// exchangeFlatLocked reports whether the exchange shows no position on the
// trade's side.
func (m *TradeManager) exchangeFlatLocked(ctx context.Context) (bool, error) {
	pos, err := m.exchange.GetPosition(ctx, m.params.Symbol)
	if err != nil {
		return false, err
	}
	return sideQty(pos, m.trade.ctx.Side).LessThanOrEqual(flatEpsilon), nil
}

// placeLimit sends through the gateway when one is set and falls back to REST
// only when the gateway could not deliver the request. Both tiers share the
// order link id, so the exchange rejects a second copy of the same order.
func (m *TradeManager) placeLimit(ctx context.Context, op string, o domain.LimitOrder) (string, error) {
	if m.gateway != nil {
		start := time.Now()
		id, err := m.gateway.PlaceLimitMaker(ctx, o)
		m.metrics.Order(op+"_gateway", err, msSince(start))
		if err == nil || !errors.Is(err, domain.ErrGatewayUnavailable) {
			return id, err
		}
		m.metrics.GatewayFallback()
		m.logger.WarnContext(ctx, "gateway unavailable, using rest",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
	}
	start := time.Now()
	id, err := m.exchange.PlaceLimitMaker(ctx, o)
	m.metrics.Order(op, err, msSince(start))
	return id, err
}

func (m *TradeManager) placeMarket(ctx context.Context, op string, o domain.MarketOrder) (string, error) {
	if m.gateway != nil {
		start := time.Now()
		id, err := m.gateway.PlaceMarketOrder(ctx, o)
		m.metrics.Order(op+"_gateway", err, msSince(start))
		if err == nil || !errors.Is(err, domain.ErrGatewayUnavailable) {
			return id, err
		}
		m.metrics.GatewayFallback()
		m.logger.WarnContext(ctx, "gateway unavailable, using rest",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
	}
	start := time.Now()
	id, err := m.exchange.PlaceMarketOrder(ctx, o)
	m.metrics.Order(op, err, msSince(start))
	return id, err
}

func (m *TradeManager) cancelOrder(ctx context.Context, op, orderID string) error {
	start := time.Now()
	err := m.exchange.CancelOrder(ctx, m.params.Symbol, orderID)
	m.metrics.Order(op, err, msSince(start))
	return err
}

func (m *TradeManager) setState(s domain.StrategyState) {
	m.state = s
	m.metrics.SetTradeState(m.params.Symbol, int(s))
}

// resetLocked retires the trade as fully closed and goes idle.
func (m *TradeManager) resetLocked() {
	if t := m.trade; t != nil {
		t.exitFilled = decimal.Max(t.exitFilled, t.held())
		t.exitOrders = make(map[string]bool)
		t.ctx.TakeProfitOrderID = ""
		t.ctx.EntryResting = false
		m.retired = t
	}
	m.trade = nil
	m.setState(domain.StateIdle)
}

func (m *TradeManager) emit(kind domain.LifecycleKind, price, qty float64, orderID, reason string) {
	m.metrics.LifecycleEvent(string(kind))
	if m.sink == nil {
		return
	}
	var side domain.Side
	if m.trade != nil {
		side = m.trade.ctx.Side
	}
	m.sink.Record(domain.LifecycleEvent{
		Kind:      kind,
		Symbol:    m.params.Symbol,
		Side:      side,
		Price:     price,
		Qty:       qty,
		OrderID:   orderID,
		Reason:    reason,
		Timestamp: m.now(),
	})
}

// sideQty is the part of a signed position that belongs to side.
func sideQty(pos float64, side domain.Side) decimal.Decimal {
	q := decimal.NewFromFloat(pos * side.Sign())
	if !q.IsPositive() {
		return decimal.Zero
	}
	return q
}

// newLinkID returns a client order id within the exchange's 36 char limit.
func newLinkID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
