package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/wallbot/internal/domain"
	"github.com/alanyoungcy/wallbot/internal/metrics"
)

// RecorderConfig holds the flush thresholds.
type RecorderConfig struct {
	TickBatch     int           // flush ticks at this many rows, 1000
	DepthBatch    int           // flush depth at this many rows, 10
	FlushInterval time.Duration // flush everything at least this often, 500ms
	MaxBuffered   int           // drop new rows beyond this per buffer
}

// Recorder buffers public trades and book updates and writes them to the
// tick store in batches. Observe is the bridge tap: it only appends and
// signals, the database writes happen on Run's goroutine.
type Recorder struct {
	cfg     RecorderConfig
	store   domain.TickStore
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	ticks   []domain.TradeEvent
	depth   []domain.DepthEvent
	dropped int64

	flush chan struct{}
}

// NewRecorder creates a Recorder.
func NewRecorder(cfg RecorderConfig, store domain.TickStore, m *metrics.Metrics, logger *slog.Logger) *Recorder {
	if cfg.TickBatch <= 0 {
		cfg.TickBatch = 1000
	}
	if cfg.DepthBatch <= 0 {
		cfg.DepthBatch = 10
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.MaxBuffered <= 0 {
		cfg.MaxBuffered = 100 * cfg.TickBatch
	}
	return &Recorder{
		cfg:     cfg,
		store:   store,
		metrics: m,
		logger:  logger.With(slog.String("component", "recorder")),
		flush:   make(chan struct{}, 1),
	}
}

// Observe buffers ev. Executions are private and never recorded.
func (r *Recorder) Observe(ev domain.MarketEvent) {
	r.mu.Lock()
	full := false
	switch e := ev.(type) {
	case domain.TradeEvent:
		if len(r.ticks) >= r.cfg.MaxBuffered {
			r.dropped++
			break
		}
		r.ticks = append(r.ticks, e)
		full = len(r.ticks) >= r.cfg.TickBatch
	case domain.DepthEvent:
		if len(r.depth) >= r.cfg.MaxBuffered {
			r.dropped++
			break
		}
		r.depth = append(r.depth, e)
		full = len(r.depth) >= r.cfg.DepthBatch
	}
	r.mu.Unlock()

	if full {
		select {
		case r.flush <- struct{}{}:
		default:
		}
	}
}

// Run flushes on size and on the interval until ctx is cancelled, then
// writes what is left.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			r.Flush(fctx)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			r.Flush(ctx)
		case <-r.flush:
			r.Flush(ctx)
		}
	}
}

// Flush writes both buffers. Failed batches are logged and discarded so a
// database outage cannot grow memory without bound.
func (r *Recorder) Flush(ctx context.Context) {
	r.mu.Lock()
	ticks, depth := r.ticks, r.depth
	r.ticks, r.depth = nil, nil
	dropped := r.dropped
	r.dropped = 0
	r.mu.Unlock()

	if dropped > 0 {
		r.logger.WarnContext(ctx, "recorder buffer full, rows dropped", slog.Int64("rows", dropped))
	}
	if len(ticks) > 0 {
		if err := r.store.InsertTicks(ctx, ticks); err != nil {
			r.logger.ErrorContext(ctx, "tick write failed",
				slog.Int("rows", len(ticks)),
				slog.String("error", err.Error()),
			)
		} else {
			r.metrics.RecorderFlush("market_ticks", len(ticks))
		}
	}
	if len(depth) > 0 {
		if err := r.store.InsertDepth(ctx, depth); err != nil {
			r.logger.ErrorContext(ctx, "depth write failed",
				slog.Int("rows", len(depth)),
				slog.String("error", err.Error()),
			)
		} else {
			r.metrics.RecorderFlush("market_depth_snapshots", len(depth))
		}
	}
}
