package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/wallbot/internal/crypto"
	"github.com/alanyoungcy/wallbot/internal/domain"
)

// TradeGateway places orders over the authenticated trade stream. It
// implements domain.OrderGateway. Transport failures are reported as
// domain.ErrGatewayUnavailable so callers can fall back to REST; exchange
// rejections are returned as they are.
type TradeGateway struct {
	wsURL   string
	auth    *crypto.HMACAuth
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex // guards conn and writes
	conn   *websocket.Conn
	closed bool
	authed atomic.Bool

	pendMu  sync.Mutex
	pending map[string]chan tradeResponse

	done chan struct{}
}

// NewTradeGateway creates a gateway for e.g. "wss://stream.bybit.com/v5/trade".
// timeout bounds each request round trip.
func NewTradeGateway(wsURL string, auth *crypto.HMACAuth, timeout time.Duration, logger *slog.Logger) *TradeGateway {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &TradeGateway{
		wsURL:   wsURL,
		auth:    auth,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "bybit_trade_ws")),
		pending: make(map[string]chan tradeResponse),
		done:    make(chan struct{}),
	}
}

// Connect dials the trade stream and waits for authentication.
func (g *TradeGateway) Connect(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return fmt.Errorf("bybit/trade: %w", domain.ErrWSDisconnect)
	}
	if !g.auth.Configured() {
		g.mu.Unlock()
		return fmt.Errorf("bybit/trade: %w", domain.ErrUnauthorized)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, g.wsURL, nil)
	if err != nil {
		g.mu.Unlock()
		return fmt.Errorf("bybit/trade: connect: %w", err)
	}
	g.conn = conn
	g.authed.Store(false)
	conn.SetReadDeadline(time.Now().Add(pongWait))

	authCh := g.expect("auth")
	err = g.writeLocked(map[string]any{"op": "auth", "args": g.auth.WSAuthArgs()})
	g.mu.Unlock()
	if err != nil {
		g.forget("auth")
		g.drop(conn)
		return fmt.Errorf("bybit/trade: auth: %w", err)
	}

	go g.readLoop(conn)

	select {
	case resp, ok := <-authCh:
		if !ok {
			g.drop(conn)
			return fmt.Errorf("bybit/trade: auth: %w", domain.ErrWSDisconnect)
		}
		if resp.RetCode != 0 {
			g.drop(conn)
			return fmt.Errorf("bybit/trade: auth: %w", retCodeError(resp.RetCode, resp.RetMsg))
		}
	case <-ctx.Done():
		g.forget("auth")
		g.drop(conn)
		return fmt.Errorf("bybit/trade: auth: %w", ctx.Err())
	}

	g.authed.Store(true)
	go g.pingLoop(conn)
	g.logger.InfoContext(ctx, "trade stream authenticated")
	return nil
}

// Ready reports whether the gateway can take orders.
func (g *TradeGateway) Ready() bool { return g.authed.Load() }

// PlaceLimitMaker sends order.create for a post-only limit order.
func (g *TradeGateway) PlaceLimitMaker(ctx context.Context, o domain.LimitOrder) (string, error) {
	id, err := g.create(ctx, LimitRequest(o))
	if err != nil {
		return "", fmt.Errorf("bybit/trade: place limit %s %s: %w", o.Symbol, o.Side, err)
	}
	return id, nil
}

// PlaceMarketOrder sends order.create for a market order.
func (g *TradeGateway) PlaceMarketOrder(ctx context.Context, o domain.MarketOrder) (string, error) {
	id, err := g.create(ctx, MarketRequest(o))
	if err != nil {
		return "", fmt.Errorf("bybit/trade: place market %s %s: %w", o.Symbol, o.Side, err)
	}
	return id, nil
}

// Close shuts down the gateway.
func (g *TradeGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true
	g.authed.Store(false)
	close(g.done)

	if g.conn != nil {
		_ = g.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		return g.conn.Close()
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

func (g *TradeGateway) create(ctx context.Context, req OrderRequest) (string, error) {
	if !g.authed.Load() {
		return "", domain.ErrGatewayUnavailable
	}

	reqID := uuid.NewString()
	ch := g.expect(reqID)
	defer g.forget(reqID)

	frame := tradeRequest{
		ReqID: reqID,
		Header: map[string]string{
			"X-BAPI-TIMESTAMP":   strconv.FormatInt(time.Now().UnixMilli(), 10),
			"X-BAPI-RECV-WINDOW": strconv.Itoa(crypto.DefaultRecvWindow),
		},
		Op:   "order.create",
		Args: []any{req},
	}

	g.mu.Lock()
	if g.conn == nil {
		g.mu.Unlock()
		return "", domain.ErrGatewayUnavailable
	}
	err := g.writeLocked(frame)
	g.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("write: %v: %w", err, domain.ErrGatewayUnavailable)
	}

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return "", fmt.Errorf("connection dropped: %w", domain.ErrGatewayUnavailable)
		}
		if err := retCodeError(resp.RetCode, resp.RetMsg); err != nil {
			return "", err
		}
		var res APIOrderResult
		if err := json.Unmarshal(resp.Data, &res); err != nil {
			return "", fmt.Errorf("decode result: %w", err)
		}
		return res.OrderID, nil
	case <-timer.C:
		return "", fmt.Errorf("no reply in %s: %w", g.timeout, domain.ErrGatewayUnavailable)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// writeLocked writes a JSON frame. Caller must hold g.mu.
func (g *TradeGateway) writeLocked(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	g.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return g.conn.WriteMessage(websocket.TextMessage, data)
}

func (g *TradeGateway) expect(key string) chan tradeResponse {
	ch := make(chan tradeResponse, 1)
	g.pendMu.Lock()
	g.pending[key] = ch
	g.pendMu.Unlock()
	return ch
}

func (g *TradeGateway) forget(key string) {
	g.pendMu.Lock()
	delete(g.pending, key)
	g.pendMu.Unlock()
}

// drop detaches and closes conn so its read loop exits without reconnecting.
func (g *TradeGateway) drop(conn *websocket.Conn) {
	g.mu.Lock()
	if g.conn == conn {
		g.conn = nil
	}
	g.mu.Unlock()
	conn.Close()
}

// failPending releases every waiter after a dropped connection.
func (g *TradeGateway) failPending() {
	g.pendMu.Lock()
	defer g.pendMu.Unlock()
	for k, ch := range g.pending {
		close(ch)
		delete(g.pending, k)
	}
}

func (g *TradeGateway) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			g.mu.Lock()
			current := g.conn == conn
			g.mu.Unlock()
			if !current {
				return // dropped during connect
			}
			live := g.authed.Swap(false)
			g.failPending()
			if !live {
				return // Connect reports the failure
			}
			select {
			case <-g.done:
				return
			default:
			}
			g.logger.Warn("trade stream read failed, reconnecting", slog.String("error", err.Error()))
			g.reconnect()
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var resp tradeResponse
		if err := json.Unmarshal(message, &resp); err != nil {
			continue
		}
		key := resp.ReqID
		if key == "" {
			key = strings.ToLower(resp.Op)
		}
		g.pendMu.Lock()
		ch, ok := g.pending[key]
		if ok {
			delete(g.pending, key)
		}
		g.pendMu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (g *TradeGateway) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-g.done:
			return
		case <-ticker.C:
			g.mu.Lock()
			if g.conn != conn {
				g.mu.Unlock()
				return
			}
			err := g.writeLocked(map[string]string{"op": "ping"})
			g.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// reconnect re-establishes the trade stream with exponential backoff.
// Orders fall back to REST in the meantime.
func (g *TradeGateway) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-g.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := g.Connect(ctx)
		cancel()
		if err == nil {
			return
		}
		g.logger.Warn("trade stream reconnect failed",
			slog.Duration("retry_in", delay),
			slog.String("error", err.Error()),
		)

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
