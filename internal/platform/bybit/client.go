package bybit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/wallbot/internal/crypto"
	"github.com/alanyoungcy/wallbot/internal/domain"
)

// Client is the REST client for the Bybit v5 API. It implements
// domain.Exchange and domain.MarketDirectory.
type Client struct {
	baseURL    string
	auth       *crypto.HMACAuth
	httpClient *http.Client

	limiter     domain.RateLimiter
	limiterKey  string
	limit       int
	limitWindow time.Duration
}

// NewClient creates a new Bybit REST client.
//
// baseURL is the API root, e.g. "https://api.bybit.com". auth may be nil for
// market-data-only use; signed calls then fail with ErrUnauthorized.
func NewClient(baseURL string, auth *crypto.HMACAuth) *Client {
	return &Client{
		baseURL: baseURL,
		auth:    auth,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SetRateLimiter throttles signed requests to limit per window, shared by
// every process using the same key.
func (c *Client) SetRateLimiter(l domain.RateLimiter, key string, limit int, window time.Duration) {
	c.limiter = l
	c.limiterKey = key
	c.limit = limit
	c.limitWindow = window
}

// --------------------------------------------------------------------------
// Market data
// --------------------------------------------------------------------------

// FetchInstrumentInfo returns the trading filters for symbol.
func (c *Client) FetchInstrumentInfo(ctx context.Context, symbol string) (domain.InstrumentSpec, error) {
	q := url.Values{}
	q.Set("category", Category)
	q.Set("symbol", symbol)

	var res instrumentsResult
	if err := c.doPublic(ctx, "/v5/market/instruments-info", q, &res); err != nil {
		return domain.InstrumentSpec{}, fmt.Errorf("bybit: instrument info %s: %w", symbol, err)
	}
	if len(res.List) == 0 {
		return domain.InstrumentSpec{}, fmt.Errorf("bybit: instrument info %s: %w", symbol, domain.ErrNoInstrument)
	}
	spec := InstrumentToDomain(res.List[0])
	if spec.TickSize <= 0 || spec.LotSize <= 0 {
		return domain.InstrumentSpec{}, fmt.Errorf("bybit: instrument info %s: invalid filters: %w", symbol, domain.ErrNoInstrument)
	}
	return spec, nil
}

// ListInstruments returns every linear instrument in Trading status,
// following the pagination cursor.
func (c *Client) ListInstruments(ctx context.Context) ([]domain.InstrumentSpec, error) {
	var out []domain.InstrumentSpec
	cursor := ""
	for {
		q := url.Values{}
		q.Set("category", Category)
		q.Set("limit", "1000")
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var res instrumentsResult
		if err := c.doPublic(ctx, "/v5/market/instruments-info", q, &res); err != nil {
			return nil, fmt.Errorf("bybit: list instruments: %w", err)
		}
		for _, in := range res.List {
			if in.Status != "Trading" {
				continue
			}
			out = append(out, InstrumentToDomain(in))
		}
		if res.NextPageCursor == "" || res.NextPageCursor == cursor {
			return out, nil
		}
		cursor = res.NextPageCursor
	}
}

// FetchTickers returns 24h tickers for every linear symbol.
func (c *Client) FetchTickers(ctx context.Context) ([]domain.Ticker, error) {
	q := url.Values{}
	q.Set("category", Category)

	var res listResult[APITicker]
	if err := c.doPublic(ctx, "/v5/market/tickers", q, &res); err != nil {
		return nil, fmt.Errorf("bybit: tickers: %w", err)
	}
	out := make([]domain.Ticker, 0, len(res.List))
	for _, t := range res.List {
		out = append(out, TickerToDomain(t))
	}
	return out, nil
}

// FetchOHLC returns up to limit candles, newest first. interval uses the
// exchange notation ("1", "5", "60", "D").
func (c *Client) FetchOHLC(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	q := url.Values{}
	q.Set("category", Category)
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))

	var res listResult[[]string]
	if err := c.doPublic(ctx, "/v5/market/kline", q, &res); err != nil {
		return nil, fmt.Errorf("bybit: kline %s: %w", symbol, err)
	}
	out := make([]domain.Candle, 0, len(res.List))
	for _, row := range res.List {
		if cd, ok := KlineToDomain(row); ok {
			out = append(out, cd)
		}
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Trading
// --------------------------------------------------------------------------

// PlaceLimitMaker submits a post-only limit order and returns its order id.
func (c *Client) PlaceLimitMaker(ctx context.Context, o domain.LimitOrder) (string, error) {
	id, err := c.create(ctx, LimitRequest(o))
	if err != nil {
		return "", fmt.Errorf("bybit: place limit %s %s: %w", o.Symbol, o.Side, err)
	}
	return id, nil
}

// PlaceMarketOrder submits a market order and returns its order id.
func (c *Client) PlaceMarketOrder(ctx context.Context, o domain.MarketOrder) (string, error) {
	id, err := c.create(ctx, MarketRequest(o))
	if err != nil {
		return "", fmt.Errorf("bybit: place market %s %s: %w", o.Symbol, o.Side, err)
	}
	return id, nil
}

// create submits req. A duplicate orderLinkId means an earlier attempt
// through another path already landed, so the existing order id is returned.
func (c *Client) create(ctx context.Context, req OrderRequest) (string, error) {
	var res APIOrderResult
	err := c.doSigned(ctx, http.MethodPost, "/v5/order/create", nil, req, &res)
	if err == nil {
		return res.OrderID, nil
	}
	var apiErr *APIError
	if req.OrderLinkID != "" && errors.As(err, &apiErr) && apiErr.Code == codeDuplicateLinkID {
		return c.orderIDByLink(ctx, req.Symbol, req.OrderLinkID)
	}
	return "", err
}

func (c *Client) orderIDByLink(ctx context.Context, symbol, linkID string) (string, error) {
	q := url.Values{}
	q.Set("category", Category)
	q.Set("symbol", symbol)
	q.Set("orderLinkId", linkID)

	var res listResult[APIOrderResult]
	if err := c.doSigned(ctx, http.MethodGet, "/v5/order/realtime", q, nil, &res); err != nil {
		return "", fmt.Errorf("lookup %s: %w", linkID, err)
	}
	if len(res.List) == 0 || res.List[0].OrderID == "" {
		return "", fmt.Errorf("lookup %s: %w", linkID, domain.ErrOrderNotFound)
	}
	return res.List[0].OrderID, nil
}

// AmendOrder changes the quantity of a resting order.
func (c *Client) AmendOrder(ctx context.Context, symbol, orderID string, qty float64) error {
	body := map[string]string{
		"category": Category,
		"symbol":   symbol,
		"orderId":  orderID,
		"qty":      formatFloat(qty),
	}
	if err := c.doSigned(ctx, http.MethodPost, "/v5/order/amend", nil, body, nil); err != nil {
		return fmt.Errorf("bybit: amend %s: %w", orderID, err)
	}
	return nil
}

// CancelOrder cancels a resting order. It returns ErrOrderNotFound when the
// order is already filled or cancelled.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	body := map[string]string{
		"category": Category,
		"symbol":   symbol,
		"orderId":  orderID,
	}
	if err := c.doSigned(ctx, http.MethodPost, "/v5/order/cancel", nil, body, nil); err != nil {
		return fmt.Errorf("bybit: cancel %s: %w", orderID, err)
	}
	return nil
}

// GetPosition returns the signed position size for symbol; short is
// negative and flat is zero.
func (c *Client) GetPosition(ctx context.Context, symbol string) (float64, error) {
	q := url.Values{}
	q.Set("category", Category)
	q.Set("symbol", symbol)

	var res listResult[APIPosition]
	if err := c.doSigned(ctx, http.MethodGet, "/v5/position/list", q, nil, &res); err != nil {
		return 0, fmt.Errorf("bybit: position %s: %w", symbol, err)
	}
	var pos float64
	for _, p := range res.List {
		size := parseFloat(p.Size)
		switch domain.Side(p.Side) {
		case domain.SideBuy:
			pos += size
		case domain.SideSell:
			pos -= size
		}
	}
	return pos, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doPublic sends an unsigned GET and decodes the result field into out.
func (c *Client) doPublic(ctx context.Context, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

// doSigned builds, signs (HMAC), sends, and decodes a private request.
// GET requests sign the query string, others the JSON body.
func (c *Client) doSigned(ctx context.Context, method, path string, query url.Values, reqBody, out any) error {
	if !c.auth.Configured() {
		return domain.ErrUnauthorized
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, c.limiterKey, c.limit, c.limitWindow); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}

	fullURL := c.baseURL + path
	var (
		payload    string
		bodyReader io.Reader
	)
	if method == http.MethodGet {
		payload = query.Encode()
		if payload != "" {
			fullURL += "?" + payload
		}
	} else if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		payload = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.auth.RESTHeaders(payload) {
		req.Header.Set(k, v)
	}

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := retCodeError(env.RetCode, env.RetMsg); err != nil {
		return err
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// APIError is a non-zero retCode. It unwraps to the matching domain
// sentinel when there is one.
type APIError struct {
	Code int
	Msg  string
	kind error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("retCode %d: %s", e.Code, e.Msg)
}

func (e *APIError) Unwrap() error { return e.kind }

const codeDuplicateLinkID = 110072

// retCodeError maps v5 return codes onto domain sentinels.
func retCodeError(code int, msg string) error {
	if code == 0 {
		return nil
	}
	e := &APIError{Code: code, Msg: msg}
	switch code {
	case 110001, 110008, 110010:
		e.kind = domain.ErrOrderNotFound
	case 10006, 10018:
		e.kind = domain.ErrRateLimited
	case 10003, 10005, 33004:
		e.kind = domain.ErrUnauthorized
	case 10004:
		e.kind = domain.ErrSigningFailed
	case 10001, 110003, 110004, 110007, 110017, 110094:
		e.kind = domain.ErrInvalidOrder
	}
	return e
}

// checkStatus maps non-2xx HTTP status codes to appropriate errors.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var env envelope
	_ = json.Unmarshal(body, &env)

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("HTTP %d: %s: %w", statusCode, env.RetMsg, domain.ErrUnauthorized)
	case http.StatusTooManyRequests:
		return fmt.Errorf("HTTP %d: %s: %w", statusCode, env.RetMsg, domain.ErrRateLimited)
	case http.StatusNotFound:
		return fmt.Errorf("HTTP %d: %w", statusCode, domain.ErrNotFound)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, env.RetMsg)
	}
}
