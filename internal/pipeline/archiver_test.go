package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeArchiver struct {
	cutoffs []time.Time
	err     error
}

func (f *fakeArchiver) ArchiveTicks(_ context.Context, before time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, before)
	return 42, f.err
}

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestRunUsesRetentionCutoff(t *testing.T) {
	fa := &fakeArchiver{}
	a := NewArchiver(fa, 3, discard())
	now := time.Date(2025, 2, 10, 3, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	require.NoError(t, a.Run(context.Background()))
	require.Equal(t, []time.Time{now.Add(-72 * time.Hour)}, fa.cutoffs)
}

func TestRunWrapsArchiveError(t *testing.T) {
	fa := &fakeArchiver{err: errors.New("bucket gone")}
	err := NewArchiver(fa, 0, discard()).Run(context.Background())
	require.ErrorContains(t, err, "bucket gone")
}

func TestRunCronRejectsBadExpression(t *testing.T) {
	a := NewArchiver(&fakeArchiver{}, 1, discard())
	require.Error(t, a.RunCron(context.Background(), "not a cron"))
}

func TestRunCronStopsOnCancel(t *testing.T) {
	a := NewArchiver(&fakeArchiver{}, 1, discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.RunCron(ctx, "0 3 * * *") }()
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cron did not stop")
	}
}
