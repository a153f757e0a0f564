package bybit

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/alanyoungcy/wallbot/internal/domain"
)

// Category is the only product line the bot trades.
const Category = "linear"

// --------------------------------------------------------------------------
// REST DTOs
// --------------------------------------------------------------------------

// envelope is the common v5 REST response wrapper.
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
	Time    int64           `json:"time"`
}

// APIInstrument is one entry of /v5/market/instruments-info.
type APIInstrument struct {
	Symbol      string `json:"symbol"`
	Status      string `json:"status"`
	BaseCoin    string `json:"baseCoin"`
	QuoteCoin   string `json:"quoteCoin"`
	CopyTrading string `json:"copyTrading"`
	PriceFilter struct {
		TickSize string `json:"tickSize"`
	} `json:"priceFilter"`
	LotSizeFilter struct {
		QtyStep          string `json:"qtyStep"`
		MinOrderQty      string `json:"minOrderQty"`
		MinNotionalValue string `json:"minNotionalValue"`
	} `json:"lotSizeFilter"`
}

type instrumentsResult struct {
	List           []APIInstrument `json:"list"`
	NextPageCursor string          `json:"nextPageCursor"`
}

// APITicker is one entry of /v5/market/tickers.
type APITicker struct {
	Symbol      string `json:"symbol"`
	LastPrice   string `json:"lastPrice"`
	Turnover24h string `json:"turnover24h"`
	Volume24h   string `json:"volume24h"`
}

type listResult[T any] struct {
	List []T `json:"list"`
}

// APIPosition is one entry of /v5/position/list.
type APIPosition struct {
	Symbol string `json:"symbol"`
	Side   string `json:"side"` // "Buy", "Sell" or "" when flat
	Size   string `json:"size"`
}

// APIOrderResult is the result of order create/amend/cancel.
type APIOrderResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

// OrderRequest is the body of /v5/order/create and of the trade stream's
// order.create op.
type OrderRequest struct {
	Category    string `json:"category"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Qty         string `json:"qty"`
	Price       string `json:"price,omitempty"`
	TimeInForce string `json:"timeInForce,omitempty"`
	ReduceOnly  bool   `json:"reduceOnly,omitempty"`
	OrderLinkID string `json:"orderLinkId,omitempty"`
	TakeProfit  string `json:"takeProfit,omitempty"`
	StopLoss    string `json:"stopLoss,omitempty"`
	TpslMode    string `json:"tpslMode,omitempty"`
	TpTriggerBy string `json:"tpTriggerBy,omitempty"`
	SlTriggerBy string `json:"slTriggerBy,omitempty"`
}

// LimitRequest builds a post-only limit order with optional attached
// take-profit and stop-loss.
func LimitRequest(o domain.LimitOrder) OrderRequest {
	req := OrderRequest{
		Category:    Category,
		Symbol:      o.Symbol,
		Side:        string(o.Side),
		OrderType:   "Limit",
		Qty:         formatFloat(o.Qty),
		Price:       formatFloat(o.Price),
		TimeInForce: "PostOnly",
		ReduceOnly:  o.ReduceOnly,
		OrderLinkID: o.OrderLinkID,
	}
	if o.TakeProfit > 0 || o.StopLoss > 0 {
		req.TpslMode = "Full"
	}
	if o.TakeProfit > 0 {
		req.TakeProfit = formatFloat(o.TakeProfit)
		req.TpTriggerBy = "LastPrice"
	}
	if o.StopLoss > 0 {
		req.StopLoss = formatFloat(o.StopLoss)
		req.SlTriggerBy = "LastPrice"
	}
	return req
}

// MarketRequest builds an IOC market order.
func MarketRequest(o domain.MarketOrder) OrderRequest {
	return OrderRequest{
		Category:    Category,
		Symbol:      o.Symbol,
		Side:        string(o.Side),
		OrderType:   "Market",
		Qty:         formatFloat(o.Qty),
		TimeInForce: "IOC",
		ReduceOnly:  o.ReduceOnly,
		OrderLinkID: o.OrderLinkID,
	}
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// WSCommand is an op frame sent to a stream (subscribe, unsubscribe, auth,
// ping).
type WSCommand struct {
	ReqID string `json:"req_id,omitempty"`
	Op    string `json:"op"`
	Args  []any  `json:"args,omitempty"`
}

// wsFrame is the union of every inbound frame on public and private streams.
type wsFrame struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	TS      int64           `json:"ts"`
	Data    json.RawMessage `json:"data"`
	Op      string          `json:"op"`
	Success *bool           `json:"success"`
	RetMsg  string          `json:"ret_msg"`
	ReqID   string          `json:"req_id"`
}

// BookData is the payload of orderbook.{depth}.{symbol}.
type BookData struct {
	Symbol   string      `json:"s"`
	Bids     [][2]string `json:"b"`
	Asks     [][2]string `json:"a"`
	UpdateID int64       `json:"u"`
	Seq      int64       `json:"seq"`
}

// TradeData is one entry of publicTrade.{symbol}.
type TradeData struct {
	Time       int64  `json:"T"`
	Symbol     string `json:"s"`
	Side       string `json:"S"`
	Volume     string `json:"v"`
	Price      string `json:"p"`
	TradeID    string `json:"i"`
	BlockTrade bool   `json:"BT"`
}

// ExecutionData is one entry of the private execution topic.
type ExecutionData struct {
	Category    string `json:"category"`
	Symbol      string `json:"symbol"`
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Side        string `json:"side"`
	ExecID      string `json:"execId"`
	ExecPrice   string `json:"execPrice"`
	ExecQty     string `json:"execQty"`
	ExecType    string `json:"execType"`
	ExecTime    string `json:"execTime"`
}

// tradeRequest is a frame on the trade stream.
type tradeRequest struct {
	ReqID  string            `json:"reqId"`
	Header map[string]string `json:"header"`
	Op     string            `json:"op"`
	Args   []any             `json:"args"`
}

// tradeResponse is the reply to a tradeRequest, or to auth/ping.
type tradeResponse struct {
	ReqID   string          `json:"reqId"`
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Op      string          `json:"op"`
	Data    json.RawMessage `json:"data"`
}

// --------------------------------------------------------------------------
// Conversions
// --------------------------------------------------------------------------

// InstrumentToDomain converts an APIInstrument.
func InstrumentToDomain(in APIInstrument) domain.InstrumentSpec {
	return domain.InstrumentSpec{
		Symbol:      in.Symbol,
		BaseCoin:    in.BaseCoin,
		QuoteCoin:   in.QuoteCoin,
		TickSize:    parseFloat(in.PriceFilter.TickSize),
		LotSize:     parseFloat(in.LotSizeFilter.QtyStep),
		MinQty:      parseFloat(in.LotSizeFilter.MinOrderQty),
		MinNotional: parseFloat(in.LotSizeFilter.MinNotionalValue),
		CopyTrading: in.CopyTrading,
	}
}

// TickerToDomain converts an APITicker.
func TickerToDomain(t APITicker) domain.Ticker {
	return domain.Ticker{
		Symbol:      t.Symbol,
		LastPrice:   parseFloat(t.LastPrice),
		Turnover24h: parseFloat(t.Turnover24h),
		Volume24h:   parseFloat(t.Volume24h),
	}
}

// KlineToDomain converts one kline row
// [start, open, high, low, close, volume, turnover]. ok is false for short
// rows.
func KlineToDomain(row []string) (domain.Candle, bool) {
	if len(row) < 6 {
		return domain.Candle{}, false
	}
	start, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return domain.Candle{}, false
	}
	return domain.Candle{
		Start:  time.UnixMilli(start).UTC(),
		Open:   parseFloat(row[1]),
		High:   parseFloat(row[2]),
		Low:    parseFloat(row[3]),
		Close:  parseFloat(row[4]),
		Volume: parseFloat(row[5]),
	}, true
}

// BookToDomain converts an orderbook frame. Levels that fail to parse are
// skipped.
func BookToDomain(d BookData, snapshot bool, ts int64, received time.Time) domain.DepthEvent {
	return domain.DepthEvent{
		Symbol:     d.Symbol,
		IsSnapshot: snapshot,
		Bids:       levels(d.Bids),
		Asks:       levels(d.Asks),
		UpdateID:   d.UpdateID,
		Timestamp:  time.UnixMilli(ts).UTC(),
		ReceivedAt: received,
	}
}

// TradeToDomain converts a public trade print.
func TradeToDomain(t TradeData, received time.Time) domain.TradeEvent {
	side := domain.Side(t.Side)
	return domain.TradeEvent{
		Symbol:       t.Symbol,
		TradeID:      t.TradeID,
		Price:        parseFloat(t.Price),
		Volume:       parseFloat(t.Volume),
		Side:         side,
		IsBuyerMaker: side == domain.SideSell,
		Timestamp:    time.UnixMilli(t.Time).UTC(),
		ReceivedAt:   received,
	}
}

// ExecutionToDomain converts a private execution. ok is false for
// non-trade executions such as funding.
func ExecutionToDomain(e ExecutionData) (domain.ExecutionEvent, bool) {
	if e.ExecType != "" && e.ExecType != "Trade" {
		return domain.ExecutionEvent{}, false
	}
	ms, _ := strconv.ParseInt(e.ExecTime, 10, 64)
	return domain.ExecutionEvent{
		Symbol:      e.Symbol,
		OrderID:     e.OrderID,
		OrderLinkID: e.OrderLinkID,
		ExecID:      e.ExecID,
		Side:        domain.Side(e.Side),
		ExecQty:     parseFloat(e.ExecQty),
		ExecPrice:   parseFloat(e.ExecPrice),
		Timestamp:   time.UnixMilli(ms).UTC(),
	}, true
}

func levels(raw [][2]string) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(raw))
	for _, l := range raw {
		p, err := strconv.ParseFloat(l[0], 64)
		if err != nil {
			continue
		}
		q, err := strconv.ParseFloat(l[1], 64)
		if err != nil {
			continue
		}
		out = append(out, domain.PriceLevel{Price: p, Quantity: q})
	}
	return out
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
