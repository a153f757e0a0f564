package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/wallbot/internal/domain"
	"github.com/alanyoungcy/wallbot/internal/strategy"
)

// BookChannel is the pub/sub channel top-of-book summaries are published on.
const BookChannel = "book"

// StatusSource reports the per-symbol status. *strategy.Engine implements it.
type StatusSource interface {
	Statuses() []strategy.Status
}

// BookMirror copies every active symbol's top of book to the cache and the
// signal bus on an interval, for dashboards and other processes.
type BookMirror struct {
	source   StatusSource
	cache    domain.BookCache
	bus      domain.SignalBus // optional
	interval time.Duration
	logger   *slog.Logger
}

// NewBookMirror creates a BookMirror. interval <= 0 uses one second.
func NewBookMirror(source StatusSource, cache domain.BookCache, bus domain.SignalBus, interval time.Duration, logger *slog.Logger) *BookMirror {
	if interval <= 0 {
		interval = time.Second
	}
	return &BookMirror{
		source:   source,
		cache:    cache,
		bus:      bus,
		interval: interval,
		logger:   logger.With(slog.String("component", "book_mirror")),
	}
}

// Run mirrors until ctx is cancelled.
func (m *BookMirror) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Mirror(ctx)
		}
	}
}

// Mirror writes one round. Symbols whose book is not synced yet are skipped.
func (m *BookMirror) Mirror(ctx context.Context) {
	for _, st := range m.source.Statuses() {
		top := st.Top
		if top.BestBid <= 0 || top.BestAsk <= 0 {
			continue
		}
		if top.Symbol == "" {
			top.Symbol = st.Symbol
		}
		if err := m.cache.SetTop(ctx, top); err != nil {
			m.logger.WarnContext(ctx, "set top failed",
				slog.String("symbol", top.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		if m.bus == nil {
			continue
		}
		evt, _ := json.Marshal(map[string]any{
			"event":  "top_of_book",
			"symbol": top.Symbol,
			"state":  st.State,
			"top":    top,
			"tp_pct": st.Analytics.TakeProfitPercent,
		})
		if err := m.bus.Publish(ctx, BookChannel, evt); err != nil {
			m.logger.WarnContext(ctx, "publish top failed",
				slog.String("symbol", top.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}
