package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wallbot/internal/domain"
	"github.com/alanyoungcy/wallbot/internal/notify"
	"github.com/alanyoungcy/wallbot/internal/strategy"
)

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

type memAudit struct {
	mu     sync.Mutex
	events []string
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (m *memAudit) logged() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streamed  map[string][][]byte
}

func (m *memBus) Publish(_ context.Context, ch string, p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.published == nil {
		m.published = map[string][][]byte{}
	}
	m.published[ch] = append(m.published[ch], p)
	return nil
}

func (m *memBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (m *memBus) StreamAppend(_ context.Context, s string, p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.streamed == nil {
		m.streamed = map[string][][]byte{}
	}
	m.streamed[s] = append(m.streamed[s], p)
	return nil
}

func (m *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (m *memBus) count(ch string) (pub, stream int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published[ch]), len(m.streamed[ch])
}

type countingSender struct {
	mu     sync.Mutex
	titles []string
}

func (c *countingSender) Send(_ context.Context, title, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.titles = append(c.titles, title)
	return nil
}

func (c *countingSender) Name() string { return "count" }

func (c *countingSender) sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.titles)
}

func TestJournalFansOut(t *testing.T) {
	audit := &memAudit{}
	bus := &memBus{}
	sender := &countingSender{}
	n := notify.NewNotifier([]notify.Sender{sender}, []string{"PANIC"}, discard())
	j := NewJournal(JournalConfig{}, audit, bus, n, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	j.Record(domain.LifecycleEvent{Kind: domain.LifecycleOpen, Symbol: "SOLUSDT", Side: domain.SideBuy, Price: 100.01})
	j.Record(domain.LifecycleEvent{Kind: domain.LifecyclePanic, Symbol: "SOLUSDT", Reason: "stop_loss"})

	require.Eventually(t, func() bool { return len(audit.logged()) == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"trade.OPEN", "trade.PANIC"}, audit.logged())
	pub, stream := bus.count(LifecycleStream)
	require.Equal(t, 2, pub)
	require.Equal(t, 2, stream)
	require.Equal(t, 1, sender.sent())

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestJournalRecordNeverBlocks(t *testing.T) {
	j := NewJournal(JournalConfig{QueueSize: 2}, nil, nil, nil, discard())
	for i := 0; i < 5; i++ {
		j.Record(domain.LifecycleEvent{Kind: domain.LifecycleFill})
	}
	require.Equal(t, int64(3), j.Dropped())
}

func TestJournalDrainsOnShutdown(t *testing.T) {
	audit := &memAudit{}
	j := NewJournal(JournalConfig{}, audit, nil, nil, discard())
	j.Record(domain.LifecycleEvent{Kind: domain.LifecycleClose})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, j.Run(ctx), context.Canceled)
	require.Equal(t, []string{"trade.CLOSE"}, audit.logged())
}

type memTicks struct {
	mu    sync.Mutex
	ticks [][]domain.TradeEvent
	depth [][]domain.DepthEvent
	err   error
}

func (m *memTicks) InsertTicks(_ context.Context, t []domain.TradeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks = append(m.ticks, t)
	return m.err
}

func (m *memTicks) InsertDepth(_ context.Context, d []domain.DepthEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depth = append(m.depth, d)
	return m.err
}

func (m *memTicks) ListTicksBefore(context.Context, time.Time, int) ([]domain.TradeEvent, error) {
	return nil, nil
}

func (m *memTicks) DeleteTicksBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func (m *memTicks) batches() (ticks, depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ticks), len(m.depth)
}

func TestRecorderFlushesOnDepthBatch(t *testing.T) {
	store := &memTicks{}
	r := NewRecorder(RecorderConfig{DepthBatch: 3, FlushInterval: time.Hour}, store, nil, discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	r.Observe(domain.TradeEvent{Symbol: "SOLUSDT"})
	r.Observe(domain.ExecutionEvent{Symbol: "SOLUSDT"})
	for i := 0; i < 3; i++ {
		r.Observe(domain.DepthEvent{Symbol: "SOLUSDT", UpdateID: int64(i)})
	}

	require.Eventually(t, func() bool { _, d := store.batches(); return d == 1 }, time.Second, 5*time.Millisecond)
	store.mu.Lock()
	require.Len(t, store.depth[0], 3)
	// the pending tick went out with the same flush
	require.Len(t, store.ticks, 1)
	store.mu.Unlock()
}

func TestRecorderFlushesOnInterval(t *testing.T) {
	store := &memTicks{}
	r := NewRecorder(RecorderConfig{FlushInterval: 20 * time.Millisecond}, store, nil, discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	r.Observe(domain.TradeEvent{Symbol: "SOLUSDT"})
	require.Eventually(t, func() bool { tk, _ := store.batches(); return tk == 1 }, time.Second, 5*time.Millisecond)
}

func TestRecorderDropsFailedBatchAndCapsBuffer(t *testing.T) {
	store := &memTicks{err: errors.New("db down")}
	r := NewRecorder(RecorderConfig{TickBatch: 10, MaxBuffered: 2, FlushInterval: time.Hour}, store, nil, discard())

	for i := 0; i < 5; i++ {
		r.Observe(domain.TradeEvent{Symbol: "SOLUSDT"})
	}
	r.Flush(context.Background())
	require.Len(t, store.ticks[0], 2)

	r.Flush(context.Background())
	tk, _ := store.batches()
	require.Equal(t, 1, tk)
}

type memBookCache struct {
	tops map[string]domain.TopOfBook
}

func (m *memBookCache) SetTop(_ context.Context, top domain.TopOfBook) error {
	if m.tops == nil {
		m.tops = map[string]domain.TopOfBook{}
	}
	m.tops[top.Symbol] = top
	return nil
}

func (m *memBookCache) GetTop(_ context.Context, symbol string) (domain.TopOfBook, error) {
	return m.tops[symbol], nil
}

type staticStatuses []strategy.Status

func (s staticStatuses) Statuses() []strategy.Status { return s }

func TestBookMirrorSkipsUnsyncedBooks(t *testing.T) {
	cache := &memBookCache{}
	bus := &memBus{}
	src := staticStatuses{
		{Symbol: "SOLUSDT", State: "idle", Top: domain.TopOfBook{Symbol: "SOLUSDT", BestBid: 100, BestAsk: 100.01}},
		{Symbol: "DOGEUSDT", State: "idle"},
	}
	NewBookMirror(src, cache, bus, 0, discard()).Mirror(context.Background())

	require.Len(t, cache.tops, 1)
	require.Equal(t, 100.01, cache.tops["SOLUSDT"].BestAsk)
	pub, _ := bus.count(BookChannel)
	require.Equal(t, 1, pub)
}
