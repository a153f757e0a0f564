package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// StrategyParameters is the immutable per-symbol configuration. It is built
// once when a symbol is activated and handed by value to every component.
type StrategyParameters struct {
	Symbol string

	// Instrument filters, resolved from the exchange.
	TickSize    float64
	LotSize     float64
	MinQty      float64
	MinNotional float64

	OrderAmountUSDT    float64
	WallRatioThreshold float64
	MinWallValueUSDT   float64
	VolEMAAlpha        float64
	EntryDeltaTicks    int
	RequiredConfirms   int

	StopLossTicks    int
	UseDynamicTP     bool
	NATRPeriod       int
	TPNATRMultiplier float64
	MinTPPercent     float64
	FixedTPTicks     int

	// Entry supervision while an order rests.
	WallIntegrityRatio float64
	IntegrityWindow    int
	DriftTicks         int
	EntryTimeout       time.Duration

	VolatilityInterval time.Duration
	CandleInterval     string
}

// DefaultStrategyParameters returns the tuning defaults without instrument
// filters.
func DefaultStrategyParameters() StrategyParameters {
	return StrategyParameters{
		MinNotional:        5.0,
		OrderAmountUSDT:    20.0,
		WallRatioThreshold: 2.0,
		MinWallValueUSDT:   5000.0,
		VolEMAAlpha:        0.018955904607758676,
		EntryDeltaTicks:    1,
		RequiredConfirms:   3,
		StopLossTicks:      30,
		UseDynamicTP:       true,
		NATRPeriod:         20,
		TPNATRMultiplier:   0.5,
		MinTPPercent:       0.2,
		FixedTPTicks:       15,
		WallIntegrityRatio: 0.5,
		IntegrityWindow:    1,
		DriftTicks:         3,
		EntryTimeout:       20 * time.Second,
		VolatilityInterval: 60 * time.Second,
		CandleInterval:     "5",
	}
}

// WithInstrument returns a copy of p bound to the instrument's filters and
// validated. An exchange-provided min notional overrides the tuning floor
// only when it is larger.
func (p StrategyParameters) WithInstrument(spec InstrumentSpec) (StrategyParameters, error) {
	p.Symbol = spec.Symbol
	p.TickSize = spec.TickSize
	p.LotSize = spec.LotSize
	p.MinQty = spec.MinQty
	if spec.MinNotional > p.MinNotional {
		p.MinNotional = spec.MinNotional
	}
	if err := p.Validate(); err != nil {
		return StrategyParameters{}, err
	}
	return p, nil
}

// Validate reports every invalid field.
func (p StrategyParameters) Validate() error {
	var errs []string
	positive := func(name string, v float64) {
		if !(v > 0) || math.IsInf(v, 0) {
			errs = append(errs, fmt.Sprintf("%s must be > 0, got %v", name, v))
		}
	}
	if p.Symbol == "" {
		errs = append(errs, "symbol must not be empty")
	}
	positive("tick_size", p.TickSize)
	positive("lot_size", p.LotSize)
	positive("order_amount_usdt", p.OrderAmountUSDT)
	positive("wall_ratio_threshold", p.WallRatioThreshold)
	if p.MinQty < 0 {
		errs = append(errs, "min_qty must be >= 0")
	}
	if p.VolEMAAlpha <= 0 || p.VolEMAAlpha > 1 {
		errs = append(errs, fmt.Sprintf("vol_ema_alpha must be in (0,1], got %v", p.VolEMAAlpha))
	}
	if p.RequiredConfirms < 1 {
		errs = append(errs, "required_confirms must be >= 1")
	}
	if p.StopLossTicks < 1 {
		errs = append(errs, "stop_loss_ticks must be >= 1")
	}
	if p.UseDynamicTP && p.NATRPeriod < 1 {
		errs = append(errs, "natr_period must be >= 1 when dynamic tp is on")
	}
	if !p.UseDynamicTP && p.FixedTPTicks < 1 {
		errs = append(errs, "fixed_tp_ticks must be >= 1 when dynamic tp is off")
	}
	if p.WallIntegrityRatio <= 0 || p.WallIntegrityRatio > 1 {
		errs = append(errs, "wall_integrity_ratio must be in (0,1]")
	}
	if len(errs) > 0 {
		return fmt.Errorf("strategy params %s:\n  - %s", p.Symbol, strings.Join(errs, "\n  - "))
	}
	return nil
}
