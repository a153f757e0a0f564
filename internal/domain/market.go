package domain

import "time"

// InstrumentSpec is the exchange trading filter for a symbol.
type InstrumentSpec struct {
	Symbol      string
	BaseCoin    string
	QuoteCoin   string
	TickSize    float64
	LotSize     float64
	MinQty      float64
	MinNotional float64
	CopyTrading string
}

// Candle is one OHLC bar. Exchange kline lists arrive newest first.
type Candle struct {
	Start  time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Ticker is a 24h market summary used by the scanner.
type Ticker struct {
	Symbol      string
	LastPrice   float64
	Turnover24h float64
	Volume24h   float64
}
