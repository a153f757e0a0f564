package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/robfig/cron/v3"
)

// Source produces the ranked symbol list. *Selector implements it.
type Source interface {
	Select(ctx context.Context) ([]Candidate, error)
}

// Syncer applies a target symbol set. *strategy.Engine implements it.
type Syncer interface {
	Sync(ctx context.Context, target []string) error
	Symbols() []string
}

// Rotator rescans the market on a schedule and moves the engine to the
// winners. A failed or empty scan keeps the current set.
type Rotator struct {
	source   Source
	engine   Syncer
	fallback []string
	schedule string
	logger   *slog.Logger

	mu      sync.Mutex // one rotation at a time
	trigger chan struct{}
}

// NewRotator creates a Rotator. schedule is a robfig/cron spec such as
// "@every 5m". fallback is traded when the first scan finds nothing.
func NewRotator(source Source, engine Syncer, schedule string, fallback []string, logger *slog.Logger) *Rotator {
	if schedule == "" {
		schedule = "@every 5m"
	}
	return &Rotator{
		source:   source,
		engine:   engine,
		fallback: fallback,
		schedule: schedule,
		logger:   logger.With(slog.String("component", "rotator")),
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger requests an out-of-schedule rotation. It reports false when one is
// already pending.
func (r *Rotator) Trigger() bool {
	select {
	case r.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run performs the initial allocation and then rotates on the schedule
// until ctx is cancelled.
func (r *Rotator) Run(ctx context.Context) error {
	if err := r.Rotate(ctx, true); err != nil {
		r.logger.ErrorContext(ctx, "initial allocation failed", slog.String("error", err.Error()))
	}

	c := cron.New()
	if _, err := c.AddFunc(r.schedule, func() {
		if err := r.Rotate(ctx, false); err != nil {
			r.logger.ErrorContext(ctx, "rotation failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("scanner: schedule %q: %w", r.schedule, err)
	}
	c.Start()
	r.logger.InfoContext(ctx, "rotation started", slog.String("schedule", r.schedule))

	for {
		select {
		case <-ctx.Done():
			<-c.Stop().Done()
			r.logger.Info("rotation stopped")
			return ctx.Err()
		case <-r.trigger:
			if err := r.Rotate(ctx, false); err != nil {
				r.logger.ErrorContext(ctx, "triggered rotation failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Rotate scans once and syncs the engine. On the initial pass an empty scan
// falls back to the configured symbols.
func (r *Rotator) Rotate(ctx context.Context, initial bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger.InfoContext(ctx, "market rescan", slog.Bool("initial", initial))

	cands, err := r.source.Select(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "scan failed", slog.String("error", err.Error()))
	}
	target := make([]string, 0, len(cands))
	for _, c := range cands {
		target = append(target, c.Symbol)
	}

	if len(target) == 0 {
		if !initial || len(r.fallback) == 0 {
			r.logger.WarnContext(ctx, "scanner found nothing, keeping current set",
				slog.Any("current", r.engine.Symbols()),
			)
			return err
		}
		target = append(target, r.fallback...)
		r.logger.WarnContext(ctx, "using fallback symbols", slog.Any("symbols", target))
	}

	sort.Strings(target)
	current := r.engine.Symbols()
	if !initial && slices.Equal(current, target) {
		r.logger.InfoContext(ctx, "no change in market leadership", slog.Any("symbols", current))
		return nil
	}

	if err := r.engine.Sync(ctx, target); err != nil {
		return fmt.Errorf("scanner: sync: %w", err)
	}
	return nil
}
