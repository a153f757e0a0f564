package app

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wallbot/internal/config"
)

func offlineConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Postgres.Enabled = false
	cfg.Redis.Enabled = false
	cfg.Recorder.Enabled = false
	return &cfg
}

func TestWireOfflineBuildsExchangeOnly(t *testing.T) {
	cfg := offlineConfig()
	deps, cleanup, err := Wire(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer cleanup()

	require.NotNil(t, deps.REST)
	require.NotNil(t, deps.Public)
	require.Nil(t, deps.Private)
	require.Nil(t, deps.Gateway)
	require.Nil(t, deps.AuditStore)
	require.Nil(t, deps.SignalBus)
	require.Nil(t, deps.Archiver)
	require.Empty(t, deps.Checkers)
	require.False(t, deps.Notifier.Enabled())
}

func TestWireWithKeysBuildsPrivatePaths(t *testing.T) {
	cfg := offlineConfig()
	cfg.Bybit.APIKey = "key"
	cfg.Bybit.APISecret = "secret"
	deps, cleanup, err := Wire(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer cleanup()

	require.NotNil(t, deps.Private)
	require.NotNil(t, deps.Gateway)
	require.True(t, deps.Auth.Configured())
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := offlineConfig()
	cfg.Mode = "paper"
	a := New(cfg, slog.New(slog.DiscardHandler))
	defer a.Close()

	require.ErrorContains(t, a.Run(context.Background()), `unsupported mode "paper"`)
	a.Close()
	a.Close()
}
