package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wallbot/internal/domain"
)

func lv(p, q float64) domain.PriceLevel { return domain.PriceLevel{Price: p, Quantity: q} }

// wallBook is a bid wall of 500 at 100.00 with ten levels of 10 behind the
// top on each side, so the background average is 10.
func wallBook() domain.DepthEvent {
	bids := []domain.PriceLevel{lv(100.00, 500)}
	asks := []domain.PriceLevel{lv(100.06, 10)}
	for i := 1; i <= 10; i++ {
		bids = append(bids, lv(100.00-float64(i)*0.01, 10))
		asks = append(asks, lv(100.06+float64(i)*0.01, 10))
	}
	return domain.DepthEvent{Symbol: "SOLUSDT", IsSnapshot: true, Bids: bids, Asks: asks}
}

func noopDelta() domain.DepthEvent {
	return domain.DepthEvent{Symbol: "SOLUSDT", Bids: []domain.PriceLevel{lv(99.90, 10)}}
}

func scenarioParams(lot, amount float64) domain.StrategyParameters {
	p := domain.DefaultStrategyParameters()
	p.Symbol = "SOLUSDT"
	p.TickSize = 0.01
	p.LotSize = lot
	p.MinQty = lot
	p.WallRatioThreshold = 15
	p.OrderAmountUSDT = amount
	return p
}

func newScenario(p domain.StrategyParameters) (*AdaptiveWallStrategy, *fakeExchange) {
	ex := &fakeExchange{}
	s := NewAdaptiveWallStrategy(p, Deps{Exchange: ex, Logger: discard()})
	return s, ex
}

// confirmWall feeds three confirming updates.
func confirmWall(ctx context.Context, s *AdaptiveWallStrategy) {
	s.OnDepth(ctx, wallBook())
	s.OnDepth(ctx, noopDelta())
	s.OnDepth(ctx, noopDelta())
}

func TestWallEntryAfterThreeConfirms(t *testing.T) {
	ctx := context.Background()
	s, ex := newScenario(scenarioParams(0.01, 20))

	s.OnDepth(ctx, wallBook())
	s.OnDepth(ctx, noopDelta())
	require.Empty(t, ex.limitOrders())
	require.Equal(t, 2, s.Status().Confirms)

	s.OnDepth(ctx, noopDelta())
	orders := ex.limitOrders()
	require.Len(t, orders, 1)
	o := orders[0]
	require.Equal(t, domain.SideBuy, o.Side)
	require.Equal(t, 100.01, o.Price)
	require.Equal(t, 0.19, o.Qty)
	require.Equal(t, 99.99, o.StopLoss)
	// floor 0.2% of 100.01 is 20 ticks
	require.Equal(t, 100.21, o.TakeProfit)
	require.Equal(t, domain.StateOrderPlaced, s.Trades().State())
}

func TestOrderBelowMinimumIsSkipped(t *testing.T) {
	ctx := context.Background()
	p := scenarioParams(1, 20) // 20/100.01 floors to 0 lots
	s, ex := newScenario(p)

	confirmWall(ctx, s)
	require.Empty(t, ex.limitOrders())
	require.True(t, s.Idle())
}

func TestBreakoutPanicsOut(t *testing.T) {
	ctx := context.Background()
	s, ex := newScenario(scenarioParams(1, 550))

	confirmWall(ctx, s)
	require.Len(t, ex.limitOrders(), 1)
	require.Equal(t, 5.0, ex.limitOrders()[0].Qty)

	s.OnExecution(ctx, domain.ExecutionEvent{Symbol: "SOLUSDT", OrderID: "ord-1", ExecID: "e1", ExecQty: 5, ExecPrice: 100.01})
	require.Equal(t, domain.StateInPosition, s.Trades().State())
	tp := ex.limitOrders()[1]
	require.True(t, tp.ReduceOnly)
	require.Equal(t, 5.0, tp.Qty)

	s.OnExecution(ctx, domain.ExecutionEvent{Symbol: "SOLUSDT", OrderID: "ord-2", ExecID: "t1", ExecQty: 2, ExecPrice: 100.21})
	_, tc, _ := s.Trades().Snapshot()
	require.Equal(t, 3.0, tc.FilledQuantity)

	// wall eaten, best bid 99.98
	s.OnDepth(ctx, domain.DepthEvent{Symbol: "SOLUSDT", Bids: []domain.PriceLevel{lv(100.00, 0), lv(99.99, 0)}})

	require.True(t, s.Idle())
	require.Contains(t, ex.cancels, "ord-2")
	require.Len(t, ex.markets, 1)
	require.True(t, ex.markets[0].ReduceOnly)
	require.Equal(t, domain.SideSell, ex.markets[0].Side)
	require.Equal(t, 3.0, ex.markets[0].Qty)
}

func TestStopLossPanicsOut(t *testing.T) {
	ctx := context.Background()
	p := scenarioParams(1, 550)
	p.EntryDeltaTicks = 3
	p.StopLossTicks = 2
	s, ex := newScenario(p)

	confirmWall(ctx, s)
	require.Equal(t, 100.03, ex.limitOrders()[0].Price)
	s.OnExecution(ctx, domain.ExecutionEvent{Symbol: "SOLUSDT", OrderID: "ord-1", ExecID: "e1", ExecQty: 5})

	// one tick under entry, wall intact
	s.OnDepth(ctx, domain.DepthEvent{Symbol: "SOLUSDT", Bids: []domain.PriceLevel{lv(100.02, 1)}})
	require.False(t, s.Idle())

	// two ticks under entry, still above the wall
	s.OnDepth(ctx, domain.DepthEvent{Symbol: "SOLUSDT", Bids: []domain.PriceLevel{lv(100.02, 0), lv(100.01, 1)}})
	require.True(t, s.Idle())
	require.Len(t, ex.markets, 1)
	require.True(t, ex.markets[0].ReduceOnly)
	require.Equal(t, 5.0, ex.markets[0].Qty)
}

func TestWeakWallCancelsEntry(t *testing.T) {
	ctx := context.Background()
	s, ex := newScenario(scenarioParams(0.01, 20))
	confirmWall(ctx, s)

	// 50 < 0.5 * threshold 150
	s.OnDepth(ctx, domain.DepthEvent{Symbol: "SOLUSDT", Bids: []domain.PriceLevel{lv(100.00, 50)}})
	require.True(t, s.Idle())
	require.Equal(t, []string{"ord-1"}, ex.cancels)
}

func TestWallChurnWithinWindowKeepsEntry(t *testing.T) {
	ctx := context.Background()
	s, ex := newScenario(scenarioParams(0.01, 20))
	confirmWall(ctx, s)

	// the wall steps down one tick
	s.OnDepth(ctx, domain.DepthEvent{Symbol: "SOLUSDT", Bids: []domain.PriceLevel{lv(100.00, 0), lv(99.99, 500)}})
	require.False(t, s.Idle())
	require.Empty(t, ex.cancels)
}

func TestDriftCancelsEntry(t *testing.T) {
	ctx := context.Background()
	s, ex := newScenario(scenarioParams(0.01, 20))
	confirmWall(ctx, s)

	s.OnDepth(ctx, domain.DepthEvent{Symbol: "SOLUSDT", Bids: []domain.PriceLevel{lv(100.05, 5)}})
	require.True(t, s.Idle())
	require.Equal(t, []string{"ord-1"}, ex.cancels)
}

func TestStaleEntryCancelled(t *testing.T) {
	ctx := context.Background()
	s, ex := newScenario(scenarioParams(0.01, 20))
	confirmWall(ctx, s)

	s.OnDepth(ctx, noopDelta())
	require.False(t, s.Idle())

	s.now = func() time.Time { return time.Now().Add(time.Minute) }
	s.OnDepth(ctx, noopDelta())
	require.True(t, s.Idle())
	require.Equal(t, []string{"ord-1"}, ex.cancels)
}

func TestDecisionDroppedWhileGuardHeld(t *testing.T) {
	ctx := context.Background()
	s, ex := newScenario(scenarioParams(0.01, 20))

	s.guard.Lock()
	confirmWall(ctx, s)
	s.guard.Unlock()

	// the book kept up even though no decision ran
	require.Empty(t, ex.limitOrders())
	bid, ok := s.Book().Best(domain.SideBuy)
	require.True(t, ok)
	require.Equal(t, 100.0, bid)
}

func TestStatusDoesNotWaitForDecisionPass(t *testing.T) {
	ctx := context.Background()
	s, _ := newScenario(scenarioParams(0.01, 20))
	s.OnDepth(ctx, wallBook())

	s.guard.Lock()
	defer s.guard.Unlock()

	done := make(chan Status, 1)
	go func() { done <- s.Status() }()
	select {
	case st := <-done:
		require.Equal(t, 1, st.Confirms)
	case <-time.After(time.Second):
		t.Fatal("Status blocked behind a running decision pass")
	}
}

func TestTickOnlyUpdatesStatus(t *testing.T) {
	ctx := context.Background()
	s, ex := newScenario(scenarioParams(0.01, 20))
	s.OnTick(ctx, domain.TradeEvent{Symbol: "SOLUSDT", Price: 100.01, Volume: 3})
	require.Equal(t, 100.01, s.Status().LastTrade)
	require.Empty(t, ex.limitOrders())
}
