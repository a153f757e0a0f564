// Package analytics computes the adaptive inputs of the wall strategy: a
// rolling NATR that sizes take-profit distance and an EMA of background book
// volume that scales the wall threshold.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/wallbot/internal/domain"
	"github.com/alanyoungcy/wallbot/internal/metrics"
)

// CandleSource is the subset of domain.Exchange the analytics loop needs.
type CandleSource interface {
	FetchOHLC(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error)
}

// Snapshot is a read-only view of the analytics state.
type Snapshot struct {
	NATR              float64   `json:"natr"`
	TakeProfitPercent float64   `json:"tp_percent"`
	AvgVolume         float64   `json:"avg_volume"`
	LastRefresh       time.Time `json:"last_refresh"`
}

// Volatility holds the per-symbol volatility and liquidity estimates.
type Volatility struct {
	params  domain.StrategyParameters
	candles CandleSource
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu          sync.RWMutex
	natr        float64
	tpPct       float64
	avgVol      float64
	seeded      bool
	lastRefresh time.Time
}

// NewVolatility creates the analytics for one symbol. Until the first
// successful refresh the take-profit percent sits at the configured floor.
func NewVolatility(params domain.StrategyParameters, candles CandleSource, m *metrics.Metrics, logger *slog.Logger) *Volatility {
	return &Volatility{
		params:  params,
		candles: candles,
		metrics: m,
		tpPct:   params.MinTPPercent,
		logger: logger.With(
			slog.String("component", "volatility"),
			slog.String("symbol", params.Symbol),
		),
	}
}

// Run refreshes NATR immediately and then every VolatilityInterval until ctx
// is cancelled. Fetch failures are logged and retried on the next cycle.
func (v *Volatility) Run(ctx context.Context) error {
	interval := v.params.VolatilityInterval
	if interval <= 0 {
		interval = time.Minute
	}
	if err := v.Refresh(ctx); err != nil {
		v.logger.WarnContext(ctx, "volatility refresh failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := v.Refresh(ctx); err != nil {
				v.logger.WarnContext(ctx, "volatility refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Refresh runs one NATR cycle. Fewer than two candles leaves the state
// untouched.
func (v *Volatility) Refresh(ctx context.Context) error {
	if !v.params.UseDynamicTP {
		return nil
	}
	interval := v.params.CandleInterval
	if interval == "" {
		interval = "5"
	}
	candles, err := v.candles.FetchOHLC(ctx, v.params.Symbol, interval, v.params.NATRPeriod+1)
	if err != nil {
		return fmt.Errorf("analytics: fetch ohlc: %w", err)
	}
	natr, ok := NATR(candles)
	if !ok {
		v.logger.DebugContext(ctx, "not enough candles for natr", slog.Int("candles", len(candles)))
		return nil
	}

	pct := math.Max(natr*v.params.TPNATRMultiplier, v.params.MinTPPercent)

	v.mu.Lock()
	v.natr = natr
	v.tpPct = pct
	v.lastRefresh = time.Now()
	v.mu.Unlock()

	v.metrics.SetTakeProfitPct(v.params.Symbol, pct)
	v.logger.DebugContext(ctx, "volatility refreshed",
		slog.Float64("natr", natr),
		slog.Float64("tp_percent", pct),
	)
	return nil
}

// NATR computes the normalized average true range over newest-first candles.
// The true range of candle i uses candle i+1 as the previous close. It
// returns false when fewer than two candles are given or the last close is
// not positive.
func NATR(candles []domain.Candle) (float64, bool) {
	if len(candles) < 2 || !(candles[0].Close > 0) {
		return 0, false
	}
	var sum float64
	n := 0
	for i := 0; i < len(candles)-1; i++ {
		curr, prev := candles[i], candles[i+1]
		tr := math.Max(curr.High-curr.Low,
			math.Max(math.Abs(curr.High-prev.Close), math.Abs(curr.Low-prev.Close)))
		if math.IsNaN(tr) || math.IsInf(tr, 0) {
			continue
		}
		sum += tr
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n) / candles[0].Close * 100, true
}

// UpdateEMA blends a background volume sample into the average. The first
// positive sample seeds the average directly; non-positive samples are
// ignored.
func (v *Volatility) UpdateEMA(sample float64) float64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !(sample > 0) || math.IsInf(sample, 0) {
		return v.avgVol
	}
	if !v.seeded {
		v.avgVol = sample
		v.seeded = true
	} else {
		a := v.params.VolEMAAlpha
		v.avgVol = a*sample + (1-a)*v.avgVol
	}
	v.metrics.SetBackgroundEMA(v.params.Symbol, v.avgVol)
	return v.avgVol
}

// AvgVolume returns the current background volume EMA.
func (v *Volatility) AvgVolume() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.avgVol
}

// TakeProfitPercent returns the current NATR-derived take-profit percent.
func (v *Volatility) TakeProfitPercent() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.tpPct
}

// Snapshot returns the current analytics state.
func (v *Volatility) Snapshot() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return Snapshot{
		NATR:              v.natr,
		TakeProfitPercent: v.tpPct,
		AvgVolume:         v.avgVol,
		LastRefresh:       v.lastRefresh,
	}
}

// TakeProfitPrice returns the exit price for a position entered at entry.
// With dynamic TP the distance is the current percent converted to whole
// ticks (at least one); otherwise FixedTPTicks.
func (v *Volatility) TakeProfitPrice(side domain.Side, entry float64) float64 {
	p := v.params
	ticks := p.FixedTPTicks
	if p.UseDynamicTP {
		pct := v.TakeProfitPercent()
		ticks = max(1, int(math.Round(entry*pct/100/p.TickSize)))
	}
	return OffsetTicks(entry, p.TickSize, int(side.Sign())*ticks)
}

// CalculateExits returns the take-profit and stop-loss prices for a trade.
// The stop sits one tick past the wall that justified the entry.
func (v *Volatility) CalculateExits(side domain.Side, entry, wall float64) (tp, sl float64) {
	tp = RoundToTick(v.TakeProfitPrice(side, entry), v.params.TickSize)
	sl = RoundToTick(OffsetTicks(wall, v.params.TickSize, -int(side.Sign())), v.params.TickSize)
	return tp, sl
}
