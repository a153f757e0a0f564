package domain

// Side is the order direction as the exchange spells it.
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// Opposite returns the closing side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Sign is +1 for buys and -1 for sells.
func (s Side) Sign() float64 {
	if s == SideBuy {
		return 1
	}
	return -1
}

// Valid reports whether s is Buy or Sell.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// LimitOrder is a post-only limit order request. StopLoss and TakeProfit are
// optional attached bracket prices; zero means unset.
type LimitOrder struct {
	Symbol      string
	Side        Side
	Price       float64
	Qty         float64
	ReduceOnly  bool
	StopLoss    float64
	TakeProfit  float64
	OrderLinkID string
}

// MarketOrder is an immediate-or-cancel market order request.
type MarketOrder struct {
	Symbol      string
	Side        Side
	Qty         float64
	ReduceOnly  bool
	OrderLinkID string
}
