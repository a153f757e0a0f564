package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wallbot/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return Wrap(rdb, "wallbot:"), mr
}

func TestKeyPrefix(t *testing.T) {
	c, _ := newTestClient(t)
	require.Equal(t, "wallbot:lock:SOLUSDT", c.Key("lock", "SOLUSDT"))
}

func TestLockExclusiveUntilReleased(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	lease, err := lm.Acquire(ctx, "SOLUSDT", 30*time.Second)
	require.NoError(t, err)
	require.True(t, mr.Exists("wallbot:lock:SOLUSDT"))

	_, err = lm.Acquire(ctx, "SOLUSDT", 30*time.Second)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	lease.Release()
	lease.Release()
	require.False(t, mr.Exists("wallbot:lock:SOLUSDT"))

	_, err = lm.Acquire(ctx, "SOLUSDT", 30*time.Second)
	require.NoError(t, err)
}

func TestLeaseExtend(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	lease, err := lm.Acquire(ctx, "SOLUSDT", 10*time.Second)
	require.NoError(t, err)
	require.NoError(t, lease.Extend(ctx, time.Minute))
	require.Equal(t, time.Minute, mr.TTL("wallbot:lock:SOLUSDT"))

	// expired and taken by someone else
	mr.FastForward(2 * time.Minute)
	_, err = lm.Acquire(ctx, "SOLUSDT", time.Minute)
	require.NoError(t, err)
	require.ErrorIs(t, lease.Extend(ctx, time.Minute), domain.ErrLockHeld)

	// a stale lease never releases the new owner's lock
	lease.Release()
	require.True(t, mr.Exists("wallbot:lock:SOLUSDT"))
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "rest", 3, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "rest", 3, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	wctx, cancel := context.WithTimeout(ctx, 120*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, rl.Wait(wctx, "rest", 3, time.Minute), context.DeadlineExceeded)

	require.NoError(t, rl.Wait(ctx, "other", 3, time.Minute))
}

func TestBookCacheRoundTrip(t *testing.T) {
	c, mr := newTestClient(t)
	bc := NewBookCache(c, time.Minute)
	ctx := context.Background()

	_, err := bc.GetTop(ctx, "SOLUSDT")
	require.ErrorIs(t, err, domain.ErrNotFound)

	ts := time.UnixMilli(1700000000123)
	require.NoError(t, bc.SetTop(ctx, domain.TopOfBook{
		Symbol: "SOLUSDT", BestBid: 100.01, BestAsk: 100.02, BidQty: 500, AskQty: 7, Background: 12.5, Timestamp: ts,
	}))
	require.Equal(t, time.Minute, mr.TTL("wallbot:book:SOLUSDT"))

	top, err := bc.GetTop(ctx, "SOLUSDT")
	require.NoError(t, err)
	require.Equal(t, 100.01, top.BestBid)
	require.Equal(t, 100.02, top.BestAsk)
	require.Equal(t, 500.0, top.BidQty)
	require.Equal(t, 12.5, top.Background)
	require.True(t, ts.Equal(top.Timestamp))
}

func TestSignalBusStreamAndPubSub(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := bus.StreamRead(ctx, "lifecycle", "0", 10)
	require.NoError(t, err)
	require.Empty(t, msgs)

	require.NoError(t, bus.StreamAppend(ctx, "lifecycle", []byte(`{"kind":"OPEN"}`)))
	require.NoError(t, bus.StreamAppend(ctx, "lifecycle", []byte(`{"kind":"FILL"}`)))
	msgs, err = bus.StreamRead(ctx, "lifecycle", "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.JSONEq(t, `{"kind":"FILL"}`, string(msgs[1].Payload))

	ch, err := bus.Subscribe(ctx, "lifecycle")
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, "lifecycle", []byte("hello")))
	select {
	case got := <-ch:
		require.Equal(t, "hello", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("no pubsub message")
	}
}
