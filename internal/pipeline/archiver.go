// Package pipeline schedules background data maintenance.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/wallbot/internal/domain"
)

// Archiver moves recorded ticks past retention from the database to cold
// storage.
type Archiver struct {
	blobArchiver  domain.Archiver
	retentionDays int
	now           func() time.Time
	logger        *slog.Logger
}

// NewArchiver creates a new Archiver.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	if retentionDays <= 0 {
		retentionDays = 7
	}
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		now:           time.Now,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// Run archives everything older than the retention window once.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	start := time.Now()
	n, err := a.blobArchiver.ArchiveTicks(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archive ticks before %v: %w", cutoff, err)
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("ticks_archived", n),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}

// RunCron runs the archiver on a standard 5-field cron schedule (for example
// "0 3 * * *") until ctx is cancelled. Runs never overlap.
func (a *Archiver) RunCron(ctx context.Context, expr string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	id, err := c.AddFunc(expr, func() {
		if err := a.Run(ctx); err != nil {
			a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("pipeline: parse cron expression %q: %w", expr, err)
	}

	c.Start()
	a.logger.InfoContext(ctx, "archiver cron started",
		slog.String("cron", expr),
		slog.Time("next_run", c.Entry(id).Next),
	)

	<-ctx.Done()
	<-c.Stop().Done()
	a.logger.Info("archiver cron stopped")
	return ctx.Err()
}
