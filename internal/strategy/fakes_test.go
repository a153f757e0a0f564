package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/wallbot/internal/domain"
)

type fakeExchange struct {
	mu      sync.Mutex
	spec    domain.InstrumentSpec
	specErr error
	nextID  int
	limits  []domain.LimitOrder
	markets []domain.MarketOrder
	cancels []string
	amends  int
	pos     float64
}

func (f *fakeExchange) FetchInstrumentInfo(_ context.Context, symbol string) (domain.InstrumentSpec, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.specErr != nil {
		return domain.InstrumentSpec{}, f.specErr
	}
	s := f.spec
	s.Symbol = symbol
	return s, nil
}

func (f *fakeExchange) FetchOHLC(context.Context, string, string, int) ([]domain.Candle, error) {
	return nil, nil
}

func (f *fakeExchange) PlaceLimitMaker(_ context.Context, o domain.LimitOrder) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.limits = append(f.limits, o)
	return fmt.Sprintf("ord-%d", f.nextID), nil
}

func (f *fakeExchange) PlaceMarketOrder(_ context.Context, o domain.MarketOrder) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.markets = append(f.markets, o)
	return fmt.Sprintf("ord-%d", f.nextID), nil
}

func (f *fakeExchange) AmendOrder(context.Context, string, string, float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.amends++
	return nil
}

func (f *fakeExchange) CancelOrder(_ context.Context, _, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, orderID)
	return nil
}

func (f *fakeExchange) GetPosition(context.Context, string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos, nil
}

func (f *fakeExchange) limitOrders() []domain.LimitOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.LimitOrder(nil), f.limits...)
}

type stubStrategy struct {
	symbol string
	idle   atomic.Bool

	mu   sync.Mutex
	seen []int64
}

func newStub(symbol string) *stubStrategy {
	s := &stubStrategy{symbol: symbol}
	s.idle.Store(true)
	return s
}

func (s *stubStrategy) Symbol() string { return s.symbol }

func (s *stubStrategy) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (s *stubStrategy) OnDepth(_ context.Context, ev domain.DepthEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, ev.UpdateID)
}

func (s *stubStrategy) OnExecution(context.Context, domain.ExecutionEvent) {}
func (s *stubStrategy) OnTick(context.Context, domain.TradeEvent)          {}
func (s *stubStrategy) Idle() bool                                         { return s.idle.Load() }
func (s *stubStrategy) Status() Status                                     { return Status{Symbol: s.symbol} }

func (s *stubStrategy) updates() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.seen...)
}

type fakeSubscriber struct {
	mu   sync.Mutex
	last []string
	n    int
}

func (f *fakeSubscriber) Reconcile(_ context.Context, symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = append([]string(nil), symbols...)
	f.n++
	return nil
}

func (f *fakeSubscriber) symbols() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.last...)
}

type fakeLease struct{ released atomic.Bool }

func (l *fakeLease) Extend(context.Context, time.Duration) error { return nil }
func (l *fakeLease) Release()                                    { l.released.Store(true) }

type fakeLocks struct {
	held map[string]bool
}

func (f *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (domain.Lease, error) {
	if f.held[key] {
		return nil, domain.ErrLockHeld
	}
	return &fakeLease{}, nil
}

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }
