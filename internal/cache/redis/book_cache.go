package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/wallbot/internal/domain"
)

// BookCache implements domain.BookCache. Each symbol's summary is one hash:
//
//	{prefix}book:{symbol}  bid, ask, bid_qty, ask_qty, bg, ts
//
// Keys expire after ttl so stale symbols disappear after rotation.
type BookCache struct {
	c   *Client
	ttl time.Duration
}

// NewBookCache creates a BookCache. ttl <= 0 disables expiry.
func NewBookCache(c *Client, ttl time.Duration) *BookCache {
	return &BookCache{c: c, ttl: ttl}
}

func (bc *BookCache) key(symbol string) string { return bc.c.Key("book", symbol) }

// SetTop writes the summary atomically.
func (bc *BookCache) SetTop(ctx context.Context, top domain.TopOfBook) error {
	k := bc.key(top.Symbol)
	pipe := bc.c.rdb.TxPipeline()
	pipe.HSet(ctx, k,
		"bid", formatFloat(top.BestBid),
		"ask", formatFloat(top.BestAsk),
		"bid_qty", formatFloat(top.BidQty),
		"ask_qty", formatFloat(top.AskQty),
		"bg", formatFloat(top.Background),
		"ts", strconv.FormatInt(top.Timestamp.UnixMilli(), 10),
	)
	if bc.ttl > 0 {
		pipe.Expire(ctx, k, bc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set top %s: %w", top.Symbol, err)
	}
	return nil
}

// GetTop returns domain.ErrNotFound when nothing is cached for symbol.
func (bc *BookCache) GetTop(ctx context.Context, symbol string) (domain.TopOfBook, error) {
	vals, err := bc.c.rdb.HGetAll(ctx, bc.key(symbol)).Result()
	if err != nil && err != redis.Nil {
		return domain.TopOfBook{}, fmt.Errorf("redis: get top %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.TopOfBook{}, fmt.Errorf("redis: get top %s: %w", symbol, domain.ErrNotFound)
	}

	top := domain.TopOfBook{
		Symbol:     symbol,
		BestBid:    parseFloat(vals["bid"]),
		BestAsk:    parseFloat(vals["ask"]),
		BidQty:     parseFloat(vals["bid_qty"]),
		AskQty:     parseFloat(vals["ask_qty"]),
		Background: parseFloat(vals["bg"]),
	}
	if ms, err := strconv.ParseInt(vals["ts"], 10, 64); err == nil {
		top.Timestamp = time.UnixMilli(ms)
	}
	return top, nil
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// Compile-time interface check.
var _ domain.BookCache = (*BookCache)(nil)
