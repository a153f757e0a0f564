package domain

import "time"

// PriceLevel is a single price+quantity entry in an orderbook. A quantity of
// exactly zero in a delta removes the level.
type PriceLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"qty"`
}

// TopOfBook is the compact book summary mirrored to the cache and exposed on
// the status endpoint.
type TopOfBook struct {
	Symbol     string    `json:"symbol"`
	BestBid    float64   `json:"best_bid"`
	BestAsk    float64   `json:"best_ask"`
	BidQty     float64   `json:"bid_qty"`
	AskQty     float64   `json:"ask_qty"`
	Background float64   `json:"background"`
	Timestamp  time.Time `json:"ts"`
}
