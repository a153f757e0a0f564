package domain

import "time"

// EventKind tags a normalized market event.
type EventKind string

const (
	EventDepth     EventKind = "depth"
	EventExecution EventKind = "execution"
	EventTrade     EventKind = "trade"
)

// MarketEvent is anything the bridge delivers on its ordered queue.
type MarketEvent interface {
	Kind() EventKind
	EventSymbol() string
}

// DepthEvent is an orderbook snapshot or delta.
type DepthEvent struct {
	Symbol     string
	IsSnapshot bool
	Bids       []PriceLevel
	Asks       []PriceLevel
	UpdateID   int64
	Timestamp  time.Time // exchange time
	ReceivedAt time.Time
}

func (e DepthEvent) Kind() EventKind     { return EventDepth }
func (e DepthEvent) EventSymbol() string { return e.Symbol }

// ExecutionEvent is a fill reported on the private stream.
type ExecutionEvent struct {
	Symbol      string
	OrderID     string
	OrderLinkID string
	ExecID      string
	Side        Side
	ExecQty     float64
	ExecPrice   float64
	Timestamp   time.Time
}

func (e ExecutionEvent) Kind() EventKind     { return EventExecution }
func (e ExecutionEvent) EventSymbol() string { return e.Symbol }

// TradeEvent is a public trade print.
type TradeEvent struct {
	Symbol       string
	TradeID      string
	Price        float64
	Volume       float64
	Side         Side // taker side
	IsBuyerMaker bool
	Timestamp    time.Time
	ReceivedAt   time.Time
}

func (e TradeEvent) Kind() EventKind     { return EventTrade }
func (e TradeEvent) EventSymbol() string { return e.Symbol }
