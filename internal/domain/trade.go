package domain

import "time"

// StrategyState is the per-symbol order lifecycle state.
type StrategyState int

const (
	StateIdle StrategyState = iota
	StateOrderPlaced
	StateInPosition
)

func (s StrategyState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOrderPlaced:
		return "order_placed"
	case StateInPosition:
		return "in_position"
	default:
		return "unknown"
	}
}

// TradeContext is a read-only copy of the in-flight trade record.
type TradeContext struct {
	Symbol             string    `json:"symbol"`
	Side               Side      `json:"side"`
	WallPrice          float64   `json:"wall_price"`
	WallThreshold      float64   `json:"wall_threshold"`
	EntryPrice         float64   `json:"entry_price"`
	TargetQuantity     float64   `json:"target_qty"`
	EntryOrderID       string    `json:"entry_order_id"`
	EntryResting       bool      `json:"entry_resting"`
	FilledQuantity     float64   `json:"filled_qty"`
	TakeProfitOrderID  string    `json:"tp_order_id,omitempty"`
	TakeProfitPrice    float64   `json:"tp_price,omitempty"`
	TakeProfitQuantity float64   `json:"tp_qty,omitempty"`
	StopLossPrice      float64   `json:"sl_price"`
	PlacedAt           time.Time `json:"placed_at"`
}

// LifecycleKind names a trade lifecycle transition.
type LifecycleKind string

const (
	LifecycleOpen       LifecycleKind = "OPEN"
	LifecycleFill       LifecycleKind = "FILL"
	LifecycleTakeProfit LifecycleKind = "TP"
	LifecycleClose      LifecycleKind = "CLOSE"
	LifecycleCancel     LifecycleKind = "CANCEL"
	LifecyclePanic      LifecycleKind = "PANIC"
)

// LifecycleEvent is emitted by the trade manager on every transition worth
// auditing or notifying about.
type LifecycleEvent struct {
	Kind      LifecycleKind `json:"kind"`
	Symbol    string        `json:"symbol"`
	Side      Side          `json:"side"`
	Price     float64       `json:"price"`
	Qty       float64       `json:"qty"`
	OrderID   string        `json:"order_id,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Timestamp time.Time     `json:"ts"`
}
