// Package service holds the engine's side services: the trade journal, the
// market data recorder and the top-of-book mirror.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/wallbot/internal/domain"
	"github.com/alanyoungcy/wallbot/internal/notify"
)

// LifecycleStream is the Redis stream and pub/sub channel lifecycle events
// are written to.
const LifecycleStream = "lifecycle"

// JournalConfig holds the journal settings.
type JournalConfig struct {
	QueueSize    int
	WriteTimeout time.Duration
}

// Journal records trade lifecycle events to the audit log, the signal bus
// and the notifier. Record never blocks: when the queue is full the event is
// dropped and counted.
type Journal struct {
	cfg      JournalConfig
	audit    domain.AuditStore // optional
	bus      domain.SignalBus  // optional
	notifier *notify.Notifier  // optional
	logger   *slog.Logger

	queue   chan domain.LifecycleEvent
	dropped atomic.Int64
}

// NewJournal creates a Journal. Any sink may be nil.
func NewJournal(cfg JournalConfig, audit domain.AuditStore, bus domain.SignalBus, notifier *notify.Notifier, logger *slog.Logger) *Journal {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Journal{
		cfg:      cfg,
		audit:    audit,
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "journal")),
		queue:    make(chan domain.LifecycleEvent, cfg.QueueSize),
	}
}

// Record queues ev for delivery.
func (j *Journal) Record(ev domain.LifecycleEvent) {
	select {
	case j.queue <- ev:
	default:
		j.dropped.Add(1)
		j.logger.Warn("journal queue full, event dropped",
			slog.String("kind", string(ev.Kind)),
			slog.String("symbol", ev.Symbol),
		)
	}
}

// Dropped returns the number of events lost to a full queue.
func (j *Journal) Dropped() int64 { return j.dropped.Load() }

// Run delivers queued events until ctx is cancelled, then drains what is
// left with a short deadline.
func (j *Journal) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			j.drain()
			return ctx.Err()
		case ev := <-j.queue:
			j.deliver(ctx, ev)
		}
	}
}

func (j *Journal) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), j.cfg.WriteTimeout)
	defer cancel()
	for {
		select {
		case ev := <-j.queue:
			j.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (j *Journal) deliver(ctx context.Context, ev domain.LifecycleEvent) {
	ctx, cancel := context.WithTimeout(ctx, j.cfg.WriteTimeout)
	defer cancel()

	logger := j.logger.With(
		slog.String("kind", string(ev.Kind)),
		slog.String("symbol", ev.Symbol),
	)

	if j.audit != nil {
		if err := j.audit.Log(ctx, "trade."+string(ev.Kind), lifecycleDetail(ev)); err != nil {
			logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}

	if j.bus != nil {
		payload, err := json.Marshal(ev)
		if err == nil {
			if err := j.bus.StreamAppend(ctx, LifecycleStream, payload); err != nil {
				logger.WarnContext(ctx, "stream append failed", slog.String("error", err.Error()))
			}
			if err := j.bus.Publish(ctx, LifecycleStream, payload); err != nil {
				logger.WarnContext(ctx, "publish failed", slog.String("error", err.Error()))
			}
		}
	}

	if j.notifier.Enabled() {
		title, msg := notify.FormatLifecycle(ev)
		if err := j.notifier.Notify(ctx, string(ev.Kind), title, msg); err != nil {
			logger.WarnContext(ctx, "notification failed", slog.String("error", err.Error()))
		}
	}
}

func lifecycleDetail(ev domain.LifecycleEvent) map[string]any {
	d := map[string]any{
		"symbol": ev.Symbol,
		"side":   string(ev.Side),
		"price":  ev.Price,
		"qty":    ev.Qty,
		"ts":     ev.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if ev.OrderID != "" {
		d["order_id"] = ev.OrderID
	}
	if ev.Reason != "" {
		d["reason"] = ev.Reason
	}
	return d
}

// Compile-time interface check.
var _ domain.LifecycleSink = (*Journal)(nil)
