package bybit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wallbot/internal/crypto"
	"github.com/alanyoungcy/wallbot/internal/domain"
)

func ok(result any) []byte {
	raw, _ := json.Marshal(result)
	b, _ := json.Marshal(map[string]any{"retCode": 0, "retMsg": "OK", "result": json.RawMessage(raw)})
	return b
}

func fail(code int, msg string) []byte {
	b, _ := json.Marshal(map[string]any{"retCode": code, "retMsg": msg, "result": map[string]any{}})
	return b
}

func testAuth() *crypto.HMACAuth {
	return &crypto.HMACAuth{Key: "key", Secret: "secret"}
}

func TestFetchInstrumentInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v5/market/instruments-info", r.URL.Path)
		require.Equal(t, "linear", r.URL.Query().Get("category"))
		require.Equal(t, "SOLUSDT", r.URL.Query().Get("symbol"))
		require.Empty(t, r.Header.Get("X-BAPI-SIGN"))
		w.Write(ok(map[string]any{"list": []map[string]any{{
			"symbol":        "SOLUSDT",
			"status":        "Trading",
			"baseCoin":      "SOL",
			"quoteCoin":     "USDT",
			"priceFilter":   map[string]string{"tickSize": "0.010"},
			"lotSizeFilter": map[string]string{"qtyStep": "0.1", "minOrderQty": "0.1", "minNotionalValue": "5"},
		}}}))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	spec, err := c.FetchInstrumentInfo(context.Background(), "SOLUSDT")
	require.NoError(t, err)
	require.Equal(t, 0.01, spec.TickSize)
	require.Equal(t, 0.1, spec.LotSize)
	require.Equal(t, 0.1, spec.MinQty)
	require.Equal(t, 5.0, spec.MinNotional)
	require.Equal(t, "SOL", spec.BaseCoin)
}

func TestFetchInstrumentInfoUnknownSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(ok(map[string]any{"list": []any{}}))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, nil).FetchInstrumentInfo(context.Background(), "FOOUSDT")
	require.ErrorIs(t, err, domain.ErrNoInstrument)
}

func TestListInstrumentsPaginates(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		inst := func(sym, status string) map[string]any {
			return map[string]any{
				"symbol": sym, "status": status,
				"priceFilter":   map[string]string{"tickSize": "0.01"},
				"lotSizeFilter": map[string]string{"qtyStep": "1", "minOrderQty": "1"},
			}
		}
		if r.URL.Query().Get("cursor") == "" {
			w.Write(ok(map[string]any{
				"list":           []any{inst("AUSDT", "Trading"), inst("BUSDT", "Closed")},
				"nextPageCursor": "page2",
			}))
			return
		}
		w.Write(ok(map[string]any{"list": []any{inst("CUSDT", "Trading")}}))
	}))
	defer srv.Close()

	specs, err := NewClient(srv.URL, nil).ListInstruments(context.Background())
	require.NoError(t, err)
	require.Len(t, specs, 2)
	require.Equal(t, "AUSDT", specs[0].Symbol)
	require.Equal(t, "CUSDT", specs[1].Symbol)
	require.Equal(t, int32(2), calls.Load())
}

func TestFetchOHLCSkipsShortRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "5", r.URL.Query().Get("interval"))
		require.Equal(t, "20", r.URL.Query().Get("limit"))
		w.Write(ok(map[string]any{"list": [][]string{
			{"1700000300000", "101", "103", "100", "102", "50", "5000"},
			{"1700000000000", "100", "102", "99"},
		}}))
	}))
	defer srv.Close()

	candles, err := NewClient(srv.URL, nil).FetchOHLC(context.Background(), "SOLUSDT", "5", 20)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	require.Equal(t, 102.0, candles[0].Close)
	require.Equal(t, int64(1700000300000), candles[0].Start.UnixMilli())
}

func TestPlaceLimitMakerSignsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v5/order/create", r.URL.Path)
		body, _ := io.ReadAll(r.Body)

		auth := testAuth()
		ts := r.Header.Get("X-BAPI-TIMESTAMP")
		var ms int64
		require.NoError(t, json.Unmarshal([]byte(ts), &ms))
		want := auth.RESTHeadersAt(string(body), ms)
		require.Equal(t, want["X-BAPI-SIGN"], r.Header.Get("X-BAPI-SIGN"))
		require.Equal(t, "key", r.Header.Get("X-BAPI-API-KEY"))

		var req OrderRequest
		require.NoError(t, json.Unmarshal(body, &req))
		require.Equal(t, "Limit", req.OrderType)
		require.Equal(t, "PostOnly", req.TimeInForce)
		require.Equal(t, "100.01", req.Price)
		require.Equal(t, "0.19", req.Qty)
		require.Equal(t, "99.99", req.StopLoss)
		require.Equal(t, "100.21", req.TakeProfit)
		require.Equal(t, "en1", req.OrderLinkID)
		w.Write(ok(map[string]string{"orderId": "abc", "orderLinkId": "en1"}))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testAuth())
	id, err := c.PlaceLimitMaker(context.Background(), domain.LimitOrder{
		Symbol: "SOLUSDT", Side: domain.SideBuy, Price: 100.01, Qty: 0.19,
		StopLoss: 99.99, TakeProfit: 100.21, OrderLinkID: "en1",
	})
	require.NoError(t, err)
	require.Equal(t, "abc", id)
}

func TestDuplicateLinkIDReturnsExistingOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v5/order/create":
			w.Write(fail(110072, "OrderLinkedID is duplicate"))
		case "/v5/order/realtime":
			require.Equal(t, "px1", r.URL.Query().Get("orderLinkId"))
			w.Write(ok(map[string]any{"list": []map[string]string{{"orderId": "landed", "orderLinkId": "px1"}}}))
		}
	}))
	defer srv.Close()

	id, err := NewClient(srv.URL, testAuth()).PlaceMarketOrder(context.Background(), domain.MarketOrder{
		Symbol: "SOLUSDT", Side: domain.SideSell, Qty: 3, ReduceOnly: true, OrderLinkID: "px1",
	})
	require.NoError(t, err)
	require.Equal(t, "landed", id)
}

func TestCancelOrderNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(fail(110001, "order not exists or too late to cancel"))
	}))
	defer srv.Close()

	err := NewClient(srv.URL, testAuth()).CancelOrder(context.Background(), "SOLUSDT", "abc")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 110001, apiErr.Code)
}

func TestRetCodeMapping(t *testing.T) {
	require.NoError(t, retCodeError(0, "OK"))
	require.ErrorIs(t, retCodeError(10006, "too many visits"), domain.ErrRateLimited)
	require.ErrorIs(t, retCodeError(10003, "invalid key"), domain.ErrUnauthorized)
	require.ErrorIs(t, retCodeError(10004, "error sign"), domain.ErrSigningFailed)
	require.ErrorIs(t, retCodeError(110007, "insufficient balance"), domain.ErrInvalidOrder)

	err := retCodeError(99999, "unknown")
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestGetPositionSignsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		var ms int64
		require.NoError(t, json.Unmarshal([]byte(r.Header.Get("X-BAPI-TIMESTAMP")), &ms))
		want := testAuth().RESTHeadersAt(r.URL.RawQuery, ms)
		require.Equal(t, want["X-BAPI-SIGN"], r.Header.Get("X-BAPI-SIGN"))
		w.Write(ok(map[string]any{"list": []map[string]string{{"symbol": "SOLUSDT", "side": "Sell", "size": "2.5"}}}))
	}))
	defer srv.Close()

	pos, err := NewClient(srv.URL, testAuth()).GetPosition(context.Background(), "SOLUSDT")
	require.NoError(t, err)
	require.Equal(t, -2.5, pos)
}

func TestSignedCallWithoutKeys(t *testing.T) {
	_, err := NewClient("http://127.0.0.1:0", nil).GetPosition(context.Background(), "SOLUSDT")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestHTTPStatusMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, nil).FetchTickers(context.Background())
	require.ErrorIs(t, err, domain.ErrRateLimited)
}

type countingLimiter struct{ waits atomic.Int32 }

func (l *countingLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return true, nil
}

func (l *countingLimiter) Wait(context.Context, string, int, time.Duration) error {
	l.waits.Add(1)
	return nil
}

func TestRateLimiterGuardsSignedCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(ok(map[string]any{"list": []any{}}))
	}))
	defer srv.Close()

	lim := &countingLimiter{}
	c := NewClient(srv.URL, testAuth())
	c.SetRateLimiter(lim, "bybit:rest", 10, time.Second)

	_, err := c.GetPosition(context.Background(), "SOLUSDT")
	require.NoError(t, err)
	_, err = c.FetchTickers(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), lim.waits.Load())
}

func TestConversions(t *testing.T) {
	ev := BookToDomain(BookData{
		Symbol:   "SOLUSDT",
		Bids:     [][2]string{{"100.00", "5"}, {"bad", "1"}},
		Asks:     [][2]string{{"100.02", "0"}},
		UpdateID: 7,
	}, true, 1700000000000, time.Now())
	require.True(t, ev.IsSnapshot)
	require.Len(t, ev.Bids, 1)
	require.Equal(t, 0.0, ev.Asks[0].Quantity)
	require.Equal(t, int64(7), ev.UpdateID)

	_, ok := ExecutionToDomain(ExecutionData{ExecType: "Funding", ExecQty: "1"})
	require.False(t, ok)
	fill, ok := ExecutionToDomain(ExecutionData{Symbol: "SOLUSDT", ExecType: "Trade", ExecID: "e1", ExecQty: "0.1", ExecPrice: "100.01", Side: "Buy"})
	require.True(t, ok)
	require.Equal(t, 0.1, fill.ExecQty)
	require.Equal(t, domain.SideBuy, fill.Side)

	tr := TradeToDomain(TradeData{Symbol: "SOLUSDT", Side: "Sell", Price: "100", Volume: "2"}, time.Now())
	require.True(t, tr.IsBuyerMaker)

	mkt := MarketRequest(domain.MarketOrder{Symbol: "SOLUSDT", Side: domain.SideSell, Qty: 3, ReduceOnly: true})
	require.Equal(t, "Market", mkt.OrderType)
	require.True(t, mkt.ReduceOnly)
	require.Empty(t, mkt.Price)
}

func TestBatches(t *testing.T) {
	topics := make([]string, 23)
	for i := range topics {
		topics[i] = TradeTopic("S" + string(rune('A'+i)))
	}
	b := Batches(topics, 10)
	require.Len(t, b, 3)
	require.Len(t, b[0], 10)
	require.Len(t, b[2], 3)
	require.Empty(t, Batches(nil, 10))
	require.Equal(t, "orderbook.50.SOLUSDT", DepthTopic(50, "SOLUSDT"))
}
