package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wallbot/internal/domain"
)

type stubEngine struct {
	*Engine
	stubs map[string]*stubStrategy
	subs  *fakeSubscriber
}

func newStubEngine(t *testing.T) (*stubEngine, chan domain.MarketEvent) {
	t.Helper()
	ex := &fakeExchange{spec: domain.InstrumentSpec{TickSize: 0.01, LotSize: 0.1, MinQty: 0.1}}
	e := NewEngine(EngineConfig{Tuning: domain.DefaultStrategyParameters()}, Deps{Exchange: ex, Logger: discard()})
	se := &stubEngine{Engine: e, stubs: make(map[string]*stubStrategy), subs: &fakeSubscriber{}}
	e.SetSubscriber(se.subs)
	e.newStrategy = func(p domain.StrategyParameters) Strategy {
		s := newStub(p.Symbol)
		se.stubs[p.Symbol] = s
		return s
	}

	events := make(chan domain.MarketEvent)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx, events)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return se, events
}

func TestActivateFailsWithoutInstrument(t *testing.T) {
	ex := &fakeExchange{specErr: errors.New("symbol not found")}
	e := NewEngine(EngineConfig{Tuning: domain.DefaultStrategyParameters()}, Deps{Exchange: ex, Logger: discard()})

	err := e.Activate(context.Background(), "FOOUSDT")
	require.Error(t, err)
	require.Empty(t, e.Symbols())
}

func TestActivateRespectsLock(t *testing.T) {
	ex := &fakeExchange{spec: domain.InstrumentSpec{TickSize: 0.01, LotSize: 0.1}}
	e := NewEngine(EngineConfig{Tuning: domain.DefaultStrategyParameters()}, Deps{Exchange: ex, Logger: discard()})
	e.SetLockManager(&fakeLocks{held: map[string]bool{"wallbot:symbol:SOLUSDT": true}})

	err := e.Activate(context.Background(), "SOLUSDT")
	require.ErrorIs(t, err, domain.ErrLockHeld)
	require.Empty(t, e.Symbols())
}

func TestDispatchPreservesOrder(t *testing.T) {
	e, events := newStubEngine(t)
	require.NoError(t, e.Activate(context.Background(), "SOLUSDT"))
	require.Equal(t, []string{"SOLUSDT"}, e.subs.symbols())

	for i := int64(1); i <= 200; i++ {
		events <- domain.DepthEvent{Symbol: "SOLUSDT", UpdateID: i}
	}
	// unknown symbols are dropped
	events <- domain.DepthEvent{Symbol: "XRPUSDT", UpdateID: 1}

	stub := e.stubs["SOLUSDT"]
	require.Eventually(t, func() bool { return len(stub.updates()) == 200 }, 2*time.Second, 10*time.Millisecond)
	for i, id := range stub.updates() {
		require.Equal(t, int64(i+1), id)
	}
}

func TestDeactivateWaitsForIdle(t *testing.T) {
	e, _ := newStubEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Activate(ctx, "SOLUSDT"))

	stub := e.stubs["SOLUSDT"]
	stub.idle.Store(false)
	e.Deactivate(ctx, "SOLUSDT")

	time.Sleep(1500 * time.Millisecond)
	infos := e.Registry().ListInfo()
	require.Len(t, infos, 1)
	require.Equal(t, "draining", infos[0].Status)

	stub.idle.Store(true)
	require.Eventually(t, func() bool { return len(e.Symbols()) == 0 }, 3*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool { return len(e.subs.symbols()) == 0 }, 3*time.Second, 20*time.Millisecond)
}

func TestSyncDiffsSymbolSet(t *testing.T) {
	e, _ := newStubEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Sync(ctx, []string{"AUSDT", "BUSDT"}))
	require.Equal(t, []string{"AUSDT", "BUSDT"}, e.Symbols())

	require.NoError(t, e.Sync(ctx, []string{"BUSDT", "CUSDT"}))
	require.Eventually(t, func() bool {
		syms := e.Symbols()
		return len(syms) == 2 && syms[0] == "BUSDT" && syms[1] == "CUSDT"
	}, 3*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		subs := e.subs.symbols()
		return len(subs) == 2 && subs[0] == "BUSDT"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestSyncReactivatesDrainingSymbol(t *testing.T) {
	e, _ := newStubEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Activate(ctx, "SOLUSDT"))
	stub := e.stubs["SOLUSDT"]
	stub.idle.Store(false)

	require.NoError(t, e.Sync(ctx, nil))
	require.Equal(t, "draining", e.Registry().ListInfo()[0].Status)

	require.NoError(t, e.Sync(ctx, []string{"SOLUSDT"}))
	require.Equal(t, "running", e.Registry().ListInfo()[0].Status)
	require.Same(t, stub, e.stubs["SOLUSDT"])
}
