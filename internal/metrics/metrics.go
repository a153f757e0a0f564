// Package metrics holds the Prometheus collectors for the engine. A nil
// *Metrics is valid and records nothing, so components and tests can run
// without a registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the wall engine.
type Metrics struct {
	reg *prometheus.Registry

	BookUpdates      *prometheus.CounterVec
	DecisionsDropped *prometheus.CounterVec
	Signals          *prometheus.CounterVec
	Orders           *prometheus.CounterVec
	OrderLatencyMs   *prometheus.HistogramVec
	GatewayFallbacks prometheus.Counter
	Panics           *prometheus.CounterVec
	Lifecycle        *prometheus.CounterVec
	TakeProfitPct    *prometheus.GaugeVec
	BackgroundEMA    *prometheus.GaugeVec
	TradeState       *prometheus.GaugeVec
	ActiveSymbols    prometheus.Gauge
	BridgeEvents     *prometheus.CounterVec
	Reconnects       *prometheus.CounterVec
	RecorderRows     *prometheus.CounterVec
}

// New creates a registry with process/go collectors and registers all engine
// metrics on it.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,

		BookUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wallbot_book_updates_total",
			Help: "Depth events applied to local order books",
		}, []string{"symbol"}),

		DecisionsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wallbot_decisions_dropped_total",
			Help: "Decision passes skipped because the previous one was still running",
		}, []string{"symbol"}),

		Signals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wallbot_wall_signals_total",
			Help: "Confirmed wall signals",
		}, []string{"symbol", "side"}),

		Orders: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wallbot_orders_total",
			Help: "Order requests by operation and result",
		}, []string{"op", "result"}),

		OrderLatencyMs: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wallbot_order_latency_ms",
			Help:    "Order round-trip latency in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"op"}),

		GatewayFallbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "wallbot_gateway_fallbacks_total",
			Help: "Orders sent over REST after the fast gateway failed",
		}),

		Panics: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wallbot_panic_exits_total",
			Help: "Reduce-only emergency exits by reason",
		}, []string{"symbol", "reason"}),

		Lifecycle: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wallbot_lifecycle_events_total",
			Help: "Trade lifecycle events by kind",
		}, []string{"kind"}),

		TakeProfitPct: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wallbot_take_profit_percent",
			Help: "Current NATR-derived take-profit percent",
		}, []string{"symbol"}),

		BackgroundEMA: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wallbot_background_volume_ema",
			Help: "EMA of background book volume",
		}, []string{"symbol"}),

		TradeState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wallbot_trade_state",
			Help: "Trade state per symbol (0 idle, 1 order placed, 2 in position)",
		}, []string{"symbol"}),

		ActiveSymbols: f.NewGauge(prometheus.GaugeOpts{
			Name: "wallbot_active_symbols",
			Help: "Number of symbols with a running engine",
		}),

		BridgeEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wallbot_bridge_events_total",
			Help: "Normalized events pushed onto the bridge queue",
		}, []string{"kind"}),

		Reconnects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wallbot_ws_reconnects_total",
			Help: "WebSocket reconnect attempts by session",
		}, []string{"session"}),

		RecorderRows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wallbot_recorder_rows_total",
			Help: "Rows flushed by the tick recorder",
		}, []string{"table"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) BookUpdate(symbol string) {
	if m == nil {
		return
	}
	m.BookUpdates.WithLabelValues(symbol).Inc()
}

func (m *Metrics) DecisionDropped(symbol string) {
	if m == nil {
		return
	}
	m.DecisionsDropped.WithLabelValues(symbol).Inc()
}

func (m *Metrics) Signal(symbol, side string) {
	if m == nil {
		return
	}
	m.Signals.WithLabelValues(symbol, side).Inc()
}

// Order records one order request outcome and its latency.
func (m *Metrics) Order(op string, err error, latencyMs float64) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Orders.WithLabelValues(op, result).Inc()
	m.OrderLatencyMs.WithLabelValues(op).Observe(latencyMs)
}

func (m *Metrics) GatewayFallback() {
	if m == nil {
		return
	}
	m.GatewayFallbacks.Inc()
}

func (m *Metrics) Panic(symbol, reason string) {
	if m == nil {
		return
	}
	m.Panics.WithLabelValues(symbol, reason).Inc()
}

func (m *Metrics) LifecycleEvent(kind string) {
	if m == nil {
		return
	}
	m.Lifecycle.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetTakeProfitPct(symbol string, pct float64) {
	if m == nil {
		return
	}
	m.TakeProfitPct.WithLabelValues(symbol).Set(pct)
}

func (m *Metrics) SetBackgroundEMA(symbol string, v float64) {
	if m == nil {
		return
	}
	m.BackgroundEMA.WithLabelValues(symbol).Set(v)
}

func (m *Metrics) SetTradeState(symbol string, state int) {
	if m == nil {
		return
	}
	m.TradeState.WithLabelValues(symbol).Set(float64(state))
}

func (m *Metrics) SetActiveSymbols(n int) {
	if m == nil {
		return
	}
	m.ActiveSymbols.Set(float64(n))
}

func (m *Metrics) BridgeEvent(kind string) {
	if m == nil {
		return
	}
	m.BridgeEvents.WithLabelValues(kind).Inc()
}

func (m *Metrics) Reconnect(session string) {
	if m == nil {
		return
	}
	m.Reconnects.WithLabelValues(session).Inc()
}

func (m *Metrics) RecorderFlush(table string, rows int) {
	if m == nil {
		return
	}
	m.RecorderRows.WithLabelValues(table).Add(float64(rows))
}
