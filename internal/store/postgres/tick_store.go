package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/wallbot/internal/domain"
)

var (
	tickColumns  = []string{"time", "exch_time", "symbol", "trade_id", "price", "volume", "side", "is_buyer_maker"}
	depthColumns = []string{"time", "exch_time", "symbol", "update_id", "bids", "asks", "is_snapshot"}
)

// TickStore implements domain.TickStore with COPY for bulk inserts.
type TickStore struct {
	pool *pgxpool.Pool
}

// NewTickStore creates a TickStore backed by the given pool.
func NewTickStore(pool *pgxpool.Pool) *TickStore {
	return &TickStore{pool: pool}
}

// InsertTicks copies public trades into market_ticks.
func (s *TickStore) InsertTicks(ctx context.Context, ticks []domain.TradeEvent) error {
	if len(ticks) == 0 {
		return nil
	}
	n, err := s.pool.CopyFrom(ctx, pgx.Identifier{"market_ticks"}, tickColumns, pgx.CopyFromSlice(len(ticks), func(i int) ([]any, error) {
		return tickRow(ticks[i]), nil
	}))
	if err != nil {
		return fmt.Errorf("postgres: copy ticks: %w", err)
	}
	if int(n) != len(ticks) {
		return fmt.Errorf("postgres: copy ticks: wrote %d of %d", n, len(ticks))
	}
	return nil
}

// InsertDepth copies book updates into market_depth_snapshots.
func (s *TickStore) InsertDepth(ctx context.Context, depth []domain.DepthEvent) error {
	if len(depth) == 0 {
		return nil
	}
	_, err := s.pool.CopyFrom(ctx, pgx.Identifier{"market_depth_snapshots"}, depthColumns, pgx.CopyFromSlice(len(depth), func(i int) ([]any, error) {
		return depthRow(depth[i])
	}))
	if err != nil {
		return fmt.Errorf("postgres: copy depth: %w", err)
	}
	return nil
}

// ListTicksBefore returns the oldest ticks recorded before the cutoff.
func (s *TickStore) ListTicksBefore(ctx context.Context, before time.Time, limit int) ([]domain.TradeEvent, error) {
	const query = `
		SELECT time, exch_time, symbol, COALESCE(trade_id, ''), COALESCE(price, 0), COALESCE(volume, 0),
		       COALESCE(side, ''), COALESCE(is_buyer_maker, FALSE)
		FROM market_ticks
		WHERE time < $1
		ORDER BY time
		LIMIT $2`
	rows, err := s.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ticks: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeEvent
	for rows.Next() {
		var (
			t    domain.TradeEvent
			side string
		)
		if err := rows.Scan(&t.ReceivedAt, &t.Timestamp, &t.Symbol, &t.TradeID, &t.Price, &t.Volume, &side, &t.IsBuyerMaker); err != nil {
			return nil, fmt.Errorf("postgres: scan tick: %w", err)
		}
		t.Side = domain.Side(side)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list ticks rows: %w", err)
	}
	return out, nil
}

// DeleteTicksBefore removes ticks and depth rows recorded before the cutoff
// and returns the number of ticks removed.
func (s *TickStore) DeleteTicksBefore(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM market_ticks WHERE time < $1`, before)
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected()
		_, err = tx.Exec(ctx, `DELETE FROM market_depth_snapshots WHERE time < $1`, before)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("postgres: delete ticks: %w", err)
	}
	return deleted, nil
}

func tickRow(t domain.TradeEvent) []any {
	return []any{
		recordedAt(t.ReceivedAt), exchangeTime(t.Timestamp, t.ReceivedAt),
		t.Symbol, t.TradeID, t.Price, t.Volume, string(t.Side), t.IsBuyerMaker,
	}
}

func depthRow(d domain.DepthEvent) ([]any, error) {
	bids, err := json.Marshal(pairs(d.Bids))
	if err != nil {
		return nil, err
	}
	asks, err := json.Marshal(pairs(d.Asks))
	if err != nil {
		return nil, err
	}
	return []any{
		recordedAt(d.ReceivedAt), exchangeTime(d.Timestamp, d.ReceivedAt),
		d.Symbol, d.UpdateID, bids, asks, d.IsSnapshot,
	}, nil
}

// pairs renders levels as [[price, qty], ...].
func pairs(levels []domain.PriceLevel) [][2]float64 {
	out := make([][2]float64, len(levels))
	for i, l := range levels {
		out[i] = [2]float64{l.Price, l.Quantity}
	}
	return out
}

func recordedAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func exchangeTime(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return recordedAt(fallback)
	}
	return t.UTC()
}

// Compile-time interface check.
var _ domain.TickStore = (*TickStore)(nil)
