package domain

import "context"

// Exchange is the execution/data capability set the engine consumes. The
// Bybit REST client is the primary implementation.
type Exchange interface {
	FetchInstrumentInfo(ctx context.Context, symbol string) (InstrumentSpec, error)
	// FetchOHLC returns candles newest first.
	FetchOHLC(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	PlaceLimitMaker(ctx context.Context, order LimitOrder) (string, error)
	PlaceMarketOrder(ctx context.Context, order MarketOrder) (string, error)
	AmendOrder(ctx context.Context, symbol, orderID string, qty float64) error
	// CancelOrder returns ErrOrderNotFound when the order is already gone.
	CancelOrder(ctx context.Context, symbol, orderID string) error
	// GetPosition returns the signed position size (short is negative).
	GetPosition(ctx context.Context, symbol string) (float64, error)
}

// OrderGateway is the optional low-latency order path. When it fails the
// caller falls back to Exchange explicitly.
type OrderGateway interface {
	PlaceLimitMaker(ctx context.Context, order LimitOrder) (string, error)
	PlaceMarketOrder(ctx context.Context, order MarketOrder) (string, error)
}

// MarketDirectory lists tradable instruments and 24h tickers for the scanner.
type MarketDirectory interface {
	ListInstruments(ctx context.Context) ([]InstrumentSpec, error)
	FetchTickers(ctx context.Context) ([]Ticker, error)
	FetchOHLC(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

// LifecycleSink receives trade lifecycle events. Implementations must not
// block the caller.
type LifecycleSink interface {
	Record(ev LifecycleEvent)
}
