package strategy

import (
	"github.com/alanyoungcy/wallbot/internal/analytics"
	"github.com/alanyoungcy/wallbot/internal/domain"
)

// BookView is the read side of a local order book the detector needs.
type BookView interface {
	Best(side domain.Side) (float64, bool)
	VolumeAt(side domain.Side, price float64) float64
}

// Signal is a confirmed wall and the maker entry in front of it.
type Signal struct {
	Side       domain.Side `json:"side"`
	WallPrice  float64     `json:"wall_price"`
	WallVolume float64     `json:"wall_volume"`
	Threshold  float64     `json:"threshold"`
	EntryPrice float64     `json:"entry_price"`
}

// Detector flags walls at the top of book. A wall must hold for
// RequiredConfirms consecutive updates before a signal fires. Not safe for
// concurrent use; one detector belongs to one strategy instance.
type Detector struct {
	params   domain.StrategyParameters
	confirms int
}

// NewDetector creates a Detector for params.
func NewDetector(params domain.StrategyParameters) *Detector {
	return &Detector{params: params}
}

// Detect checks both sides of book against avgBackground*WallRatioThreshold
// and the minimum wall notional. The bid side wins when both qualify.
func (d *Detector) Detect(book BookView, avgBackground float64) *Signal {
	threshold := avgBackground * d.params.WallRatioThreshold
	if !(threshold > 0) {
		d.confirms = 0
		return nil
	}

	sig := d.wallAt(book, domain.SideBuy, threshold)
	if sig == nil {
		sig = d.wallAt(book, domain.SideSell, threshold)
	}
	if sig == nil {
		d.confirms = 0
		return nil
	}

	d.confirms++
	if d.confirms < max(1, d.params.RequiredConfirms) {
		return nil
	}
	d.confirms = 0
	return sig
}

// Confirms returns the current debounce count.
func (d *Detector) Confirms() int { return d.confirms }

func (d *Detector) wallAt(book BookView, side domain.Side, threshold float64) *Signal {
	price, ok := book.Best(side)
	if !ok {
		return nil
	}
	vol := book.VolumeAt(side, price)
	if vol <= threshold || vol*price <= d.params.MinWallValueUSDT {
		return nil
	}
	// Buys post above a bid wall, sells below an ask wall.
	entry := analytics.OffsetTicks(price, d.params.TickSize, int(side.Sign())*d.params.EntryDeltaTicks)
	return &Signal{
		Side:       side,
		WallPrice:  price,
		WallVolume: vol,
		Threshold:  threshold,
		EntryPrice: entry,
	}
}
