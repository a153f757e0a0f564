package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/alanyoungcy/wallbot/internal/domain"
	"github.com/alanyoungcy/wallbot/internal/metrics"
	"github.com/alanyoungcy/wallbot/internal/platform/bybit"
)

// Stream is the stream session surface the bridge drives. *bybit.Session
// implements it.
type Stream interface {
	Name() string
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, topics []string) error
	Unsubscribe(ctx context.Context, topics []string) error
	Close() error
	OnDepth(h bybit.DepthHandler)
	OnTrade(h bybit.TradeHandler)
	OnExecution(h bybit.ExecutionHandler)
	OnReconnect(h bybit.ReconnectHandler)
}

// Tap observes every event before it is queued. Taps run on transport
// goroutines and must not block.
type Tap func(domain.MarketEvent)

// BridgeConfig holds the bridge settings.
type BridgeConfig struct {
	Depth      int           // orderbook depth topic, 50
	BatchSize  int           // topics per subscribe frame, 10
	BatchPause time.Duration // pause between frames, 20ms
	QueueSize  int
}

// MarketBridge multiplexes the public and private streams into one ordered
// event queue and keeps the public subscriptions in line with the active
// symbols.
type MarketBridge struct {
	cfg     BridgeConfig
	public  Stream
	private Stream // nil when running without keys
	metrics *metrics.Metrics
	logger  *slog.Logger

	events chan domain.MarketEvent
	ready  chan struct{}
	done   chan struct{}
	taps   []Tap

	mu     sync.Mutex // serializes Reconcile
	active mapset.Set[string]
}

// NewMarketBridge creates a bridge. Handlers are registered immediately so
// nothing is lost between Connect and the first read of Events.
func NewMarketBridge(cfg BridgeConfig, public, private Stream, m *metrics.Metrics, logger *slog.Logger) *MarketBridge {
	if cfg.Depth <= 0 {
		cfg.Depth = 50
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = bybit.MaxTopicsPerRequest
	}
	if cfg.BatchPause <= 0 {
		cfg.BatchPause = 20 * time.Millisecond
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 10000
	}
	b := &MarketBridge{
		cfg:     cfg,
		public:  public,
		private: private,
		metrics: m,
		logger:  logger.With(slog.String("component", "market_bridge")),
		events:  make(chan domain.MarketEvent, cfg.QueueSize),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		active:  mapset.NewSet[string](),
	}

	public.OnDepth(func(ev domain.DepthEvent) { b.push(ev) })
	public.OnTrade(func(ev domain.TradeEvent) { b.push(ev) })
	public.OnReconnect(b.reconnected(public.Name()))
	if private != nil {
		private.OnExecution(func(ev domain.ExecutionEvent) { b.push(ev) })
		private.OnReconnect(b.reconnected(private.Name()))
	}
	return b
}

// AddTap registers an observer. Call before Run.
func (b *MarketBridge) AddTap(t Tap) { b.taps = append(b.taps, t) }

// Events returns the ordered queue of normalized events.
func (b *MarketBridge) Events() <-chan domain.MarketEvent { return b.events }

// Ready is closed once both streams are connected.
func (b *MarketBridge) Ready() <-chan struct{} { return b.ready }

// Active returns the symbols currently subscribed, sorted.
func (b *MarketBridge) Active() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.active.ToSlice()
	sort.Strings(out)
	return out
}

// Run connects both streams and blocks until ctx is done. Dropped
// connections are restored by the sessions themselves.
func (b *MarketBridge) Run(ctx context.Context) error {
	defer close(b.done)

	if err := b.public.Connect(ctx); err != nil {
		return fmt.Errorf("feed: connect public: %w", err)
	}
	defer b.public.Close()

	if b.private != nil {
		if err := b.private.Connect(ctx); err != nil {
			return fmt.Errorf("feed: connect private: %w", err)
		}
		defer b.private.Close()
		if err := b.private.Subscribe(ctx, []string{bybit.ExecutionTopic}); err != nil {
			return fmt.Errorf("feed: subscribe executions: %w", err)
		}
	}

	close(b.ready)
	b.logger.InfoContext(ctx, "market bridge started", slog.Bool("private", b.private != nil))
	<-ctx.Done()
	b.logger.Info("market bridge stopped")
	return ctx.Err()
}

// Reconcile moves the public subscriptions to exactly symbols. Removals are
// sent before additions, in batches with a short pause between frames.
func (b *MarketBridge) Reconcile(ctx context.Context, symbols []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	target := mapset.NewSet[string](symbols...)
	toAdd := target.Difference(b.active).ToSlice()
	toRemove := b.active.Difference(target).ToSlice()
	if len(toAdd) == 0 && len(toRemove) == 0 {
		return nil
	}
	sort.Strings(toAdd)
	sort.Strings(toRemove)

	b.logger.InfoContext(ctx, "rebalancing subscriptions",
		slog.Any("add", toAdd),
		slog.Any("remove", toRemove),
		slog.Int("keep", b.active.Intersect(target).Cardinality()),
	)

	var errs []error
	if len(toRemove) > 0 {
		if err := b.batched(ctx, b.public.Unsubscribe, b.topics(toRemove)); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe: %w", err))
		}
		b.active.RemoveAll(toRemove...)
	}
	if len(toAdd) > 0 {
		if err := b.batched(ctx, b.public.Subscribe, b.topics(toAdd)); err != nil {
			errs = append(errs, fmt.Errorf("subscribe: %w", err))
		}
		// The session restores failed subscriptions on reconnect.
		b.active.Append(toAdd...)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("feed: reconcile: %w", err)
	}
	return nil
}

func (b *MarketBridge) batched(ctx context.Context, op func(context.Context, []string) error, topics []string) error {
	var errs []error
	for i, batch := range bybit.Batches(topics, b.cfg.BatchSize) {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.cfg.BatchPause):
			}
		}
		if err := op(ctx, batch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *MarketBridge) topics(symbols []string) []string {
	out := make([]string, 0, 2*len(symbols))
	for _, s := range symbols {
		out = append(out, bybit.DepthTopic(b.cfg.Depth, s), bybit.TradeTopic(s))
	}
	return out
}

// push queues ev, blocking while the queue is full so order is kept.
func (b *MarketBridge) push(ev domain.MarketEvent) {
	for _, t := range b.taps {
		t(ev)
	}
	b.metrics.BridgeEvent(string(ev.Kind()))
	select {
	case b.events <- ev:
	case <-b.done:
	}
}

func (b *MarketBridge) reconnected(session string) bybit.ReconnectHandler {
	return func() {
		b.metrics.Reconnect(session)
		b.logger.Warn("stream restored", slog.String("session", session))
	}
}
