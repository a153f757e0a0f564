package analytics

import (
	"github.com/shopspring/decimal"
)

// RoundToTick rounds price to the nearest multiple of tick.
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	t := decimal.NewFromFloat(tick)
	f, _ := decimal.NewFromFloat(price).Div(t).Round(0).Mul(t).Float64()
	return f
}

// FloorToLot rounds qty down to a multiple of lot.
func FloorToLot(qty, lot float64) float64 {
	if lot <= 0 {
		return qty
	}
	l := decimal.NewFromFloat(lot)
	f, _ := decimal.NewFromFloat(qty).Div(l).Floor().Mul(l).Float64()
	return f
}

// OffsetTicks returns price moved by n ticks, exact in decimal.
func OffsetTicks(price, tick float64, n int) float64 {
	f, _ := decimal.NewFromFloat(price).
		Add(decimal.NewFromFloat(tick).Mul(decimal.NewFromInt(int64(n)))).
		Float64()
	return f
}

// TicksBetween returns (a-b)/tick.
func TicksBetween(a, b, tick float64) float64 {
	if tick <= 0 {
		return 0
	}
	f, _ := decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).
		Div(decimal.NewFromFloat(tick)).Float64()
	return f
}
