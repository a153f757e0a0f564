package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time

	// Audit filters: event name prefix (e.g. "trade.") and detail symbol.
	EventPrefix string
	Symbol      string
}

// TickStore persists recorded market data.
type TickStore interface {
	InsertTicks(ctx context.Context, ticks []TradeEvent) error
	InsertDepth(ctx context.Context, depth []DepthEvent) error
	ListTicksBefore(ctx context.Context, before time.Time, limit int) ([]TradeEvent, error)
	DeleteTicksBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log record.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists audit log entries.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
