package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/wallbot/internal/crypto"
	"github.com/alanyoungcy/wallbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed between inbound frames before the
	// connection is considered dead.
	pongWait = 60 * time.Second

	// pingPeriod is the application heartbeat interval. Bybit drops idle
	// connections after 30s without one.
	pingPeriod = 20 * time.Second

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second

	// MaxTopicsPerRequest is the exchange limit on args per subscribe frame.
	MaxTopicsPerRequest = 10
)

// DepthHandler is called for every orderbook snapshot or delta.
type DepthHandler func(domain.DepthEvent)

// TradeHandler is called for every public trade print.
type TradeHandler func(domain.TradeEvent)

// ExecutionHandler is called for every private fill.
type ExecutionHandler func(domain.ExecutionEvent)

// ReconnectHandler is called after a dropped connection is restored.
type ReconnectHandler func()

// Session is a Bybit v5 stream connection, public or private. It manages the
// connection lifecycle, heartbeats and subscriptions, and dispatches
// normalized events to registered handlers.
type Session struct {
	name   string
	wsURL  string
	auth   *crypto.HMACAuth // private streams only
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	// Topics to restore on reconnect, in subscription order.
	topics []string

	depthHandlers     []DepthHandler
	tradeHandlers     []TradeHandler
	execHandlers      []ExecutionHandler
	reconnectHandlers []ReconnectHandler
	handlerMu         sync.RWMutex

	// done is closed when the session is shut down.
	done chan struct{}
}

// NewPublicSession creates a session for a public market-data stream, e.g.
// "wss://stream.bybit.com/v5/public/linear".
func NewPublicSession(wsURL string, logger *slog.Logger) *Session {
	return newSession("public", wsURL, nil, logger)
}

// NewPrivateSession creates an authenticated session for the private
// stream, e.g. "wss://stream.bybit.com/v5/private".
func NewPrivateSession(wsURL string, auth *crypto.HMACAuth, logger *slog.Logger) *Session {
	return newSession("private", wsURL, auth, logger)
}

func newSession(name, wsURL string, auth *crypto.HMACAuth, logger *slog.Logger) *Session {
	return &Session{
		name:   name,
		wsURL:  wsURL,
		auth:   auth,
		logger: logger.With(slog.String("component", "bybit_ws"), slog.String("session", name)),
		done:   make(chan struct{}),
	}
}

// Name returns "public" or "private".
func (s *Session) Name() string { return s.name }

// Connect dials the stream, authenticates private sessions and restores any
// previous subscriptions.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("bybit/ws %s: %w", s.name, domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("bybit/ws %s: connect: %w", s.name, err)
	}

	s.conn = conn
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	if s.auth != nil {
		if err := s.sendLocked(WSCommand{Op: "auth", Args: s.auth.WSAuthArgs()}); err != nil {
			conn.Close()
			return fmt.Errorf("bybit/ws %s: auth: %w", s.name, err)
		}
	}

	for _, batch := range Batches(s.topics, MaxTopicsPerRequest) {
		if err := s.sendLocked(WSCommand{Op: "subscribe", Args: toArgs(batch)}); err != nil {
			conn.Close()
			return fmt.Errorf("bybit/ws %s: restore subscription: %w", s.name, err)
		}
	}

	go s.readLoop(conn)
	go s.pingLoop(conn)

	return nil
}

// Subscribe subscribes to topics in one frame. Callers batch to
// MaxTopicsPerRequest. Topics are restored on the next connect if the send
// fails.
func (s *Session) Subscribe(ctx context.Context, topics []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Track subscriptions for reconnection, even when the send fails.
	for _, t := range topics {
		if !slices.Contains(s.topics, t) {
			s.topics = append(s.topics, t)
		}
	}

	if s.conn == nil {
		return fmt.Errorf("bybit/ws %s: not connected: %w", s.name, domain.ErrWSDisconnect)
	}
	if err := s.sendLocked(WSCommand{Op: "subscribe", Args: toArgs(topics)}); err != nil {
		return fmt.Errorf("bybit/ws %s: subscribe: %w", s.name, err)
	}
	return nil
}

// Unsubscribe removes topics in one frame.
func (s *Session) Unsubscribe(ctx context.Context, topics []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Forget them even if the send fails so a reconnect does not restore them.
	filtered := s.topics[:0]
	for _, t := range s.topics {
		if !slices.Contains(topics, t) {
			filtered = append(filtered, t)
		}
	}
	s.topics = filtered

	if s.conn == nil {
		return fmt.Errorf("bybit/ws %s: not connected: %w", s.name, domain.ErrWSDisconnect)
	}
	if err := s.sendLocked(WSCommand{Op: "unsubscribe", Args: toArgs(topics)}); err != nil {
		return fmt.Errorf("bybit/ws %s: unsubscribe: %w", s.name, err)
	}
	return nil
}

// Topics returns the tracked subscriptions.
func (s *Session) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.topics...)
}

// Close shuts down the connection and stops reconnecting.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	close(s.done)

	if s.conn != nil {
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		return s.conn.Close()
	}
	return nil
}

// OnDepth registers a handler for orderbook frames.
func (s *Session) OnDepth(h DepthHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.depthHandlers = append(s.depthHandlers, h)
}

// OnTrade registers a handler for public trades.
func (s *Session) OnTrade(h TradeHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.tradeHandlers = append(s.tradeHandlers, h)
}

// OnExecution registers a handler for private fills.
func (s *Session) OnExecution(h ExecutionHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.execHandlers = append(s.execHandlers, h)
}

// OnReconnect registers a handler run after each successful reconnect.
func (s *Session) OnReconnect(h ReconnectHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.reconnectHandlers = append(s.reconnectHandlers, h)
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// sendLocked writes a JSON command. Caller must hold s.mu.
func (s *Session) sendLocked(cmd WSCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads frames from conn until it fails, then reconnects with
// exponential backoff unless the session was closed.
func (s *Session) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.logger.Warn("stream read failed, reconnecting", slog.String("error", err.Error()))
			s.reconnect()
			return // readLoop is restarted by reconnect -> Connect
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		s.handleMessage(message)
	}
}

// pingLoop sends the application heartbeat until conn is replaced or the
// session closes.
func (s *Session) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.conn != conn {
				s.mu.Unlock()
				return
			}
			err := s.sendLocked(WSCommand{ReqID: "keepalive", Op: "ping"})
			s.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw frame and routes it by topic.
func (s *Session) handleMessage(raw []byte) {
	var f wsFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return // Silently drop unparseable messages.
	}

	if f.Topic == "" {
		if f.Success != nil && !*f.Success {
			s.logger.Warn("stream op rejected",
				slog.String("op", f.Op),
				slog.String("ret_msg", f.RetMsg),
			)
		}
		return
	}

	received := time.Now()
	switch {
	case strings.HasPrefix(f.Topic, "orderbook."):
		var d BookData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return
		}
		if d.Symbol == "" {
			d.Symbol = topicSymbol(f.Topic)
		}
		ev := BookToDomain(d, f.Type == "snapshot", f.TS, received)

		s.handlerMu.RLock()
		handlers := s.depthHandlers
		s.handlerMu.RUnlock()
		for _, h := range handlers {
			h(ev)
		}

	case strings.HasPrefix(f.Topic, "publicTrade."):
		var trades []TradeData
		if err := json.Unmarshal(f.Data, &trades); err != nil {
			return
		}
		s.handlerMu.RLock()
		handlers := s.tradeHandlers
		s.handlerMu.RUnlock()
		for _, t := range trades {
			ev := TradeToDomain(t, received)
			for _, h := range handlers {
				h(ev)
			}
		}

	case strings.HasPrefix(f.Topic, "execution"):
		var execs []ExecutionData
		if err := json.Unmarshal(f.Data, &execs); err != nil {
			return
		}
		s.handlerMu.RLock()
		handlers := s.execHandlers
		s.handlerMu.RUnlock()
		for _, e := range execs {
			ev, ok := ExecutionToDomain(e)
			if !ok {
				continue
			}
			for _, h := range handlers {
				h(ev)
			}
		}
	}
}

// reconnect re-establishes the connection with exponential backoff. It
// blocks until successful or the session is closed.
func (s *Session) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-s.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := s.Connect(ctx)
		cancel()

		if err == nil {
			s.logger.Info("stream reconnected")
			s.handlerMu.RLock()
			handlers := s.reconnectHandlers
			s.handlerMu.RUnlock()
			for _, h := range handlers {
				h()
			}
			return
		}
		s.logger.Warn("stream reconnect failed",
			slog.Duration("retry_in", delay),
			slog.String("error", err.Error()),
		)

		// Exponential backoff.
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// Batches splits topics into chunks of at most n.
func Batches(topics []string, n int) [][]string {
	if n <= 0 {
		n = MaxTopicsPerRequest
	}
	var out [][]string
	for len(topics) > 0 {
		k := min(n, len(topics))
		out = append(out, topics[:k])
		topics = topics[k:]
	}
	return out
}

// DepthTopic returns the orderbook topic for symbol at depth.
func DepthTopic(depth int, symbol string) string {
	return fmt.Sprintf("orderbook.%d.%s", depth, symbol)
}

// TradeTopic returns the public trade topic for symbol.
func TradeTopic(symbol string) string {
	return "publicTrade." + symbol
}

// ExecutionTopic is the private fills topic.
const ExecutionTopic = "execution"

func topicSymbol(topic string) string {
	if i := strings.LastIndexByte(topic, '.'); i >= 0 {
		return topic[i+1:]
	}
	return ""
}

func toArgs(topics []string) []any {
	args := make([]any, len(topics))
	for i, t := range topics {
		args[i] = t
	}
	return args
}
