package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wallbot/internal/domain"
	"github.com/alanyoungcy/wallbot/internal/server/handler"
	"github.com/alanyoungcy/wallbot/internal/strategy"
)

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

type fakeEngine struct {
	activateErr error
	activated   []string
	deactivated []string
}

func (f *fakeEngine) Info() []strategy.SymbolInfo {
	return []strategy.SymbolInfo{{Symbol: "SOLUSDT", Status: "running"}}
}

func (f *fakeEngine) Statuses() []strategy.Status {
	return []strategy.Status{{Symbol: "SOLUSDT", State: "idle"}}
}

func (f *fakeEngine) Activate(_ context.Context, symbol string) error {
	f.activated = append(f.activated, symbol)
	return f.activateErr
}

func (f *fakeEngine) Deactivate(_ context.Context, symbol string) {
	f.deactivated = append(f.deactivated, symbol)
}

type fakeAudit struct{ opts domain.ListOpts }

func (f *fakeAudit) Log(context.Context, string, map[string]any) error { return nil }

func (f *fakeAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	f.opts = opts
	return []domain.AuditEntry{{ID: 7, Event: "trade.OPEN", Detail: map[string]any{"symbol": "SOLUSDT"}}}, nil
}

type fakeTrigger struct{ calls int }

func (f *fakeTrigger) Trigger() bool {
	f.calls++
	return f.calls == 1
}

type denyLimiter struct{ err error }

func (d denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, d.err
}

func (d denyLimiter) Wait(context.Context, string, int, time.Duration) error { return nil }

func newTestHandler(cfg Config, eng *fakeEngine, audit *fakeAudit, trig *fakeTrigger, limiter domain.RateLimiter, checks ...handler.Checker) http.Handler {
	h := Handlers{
		Health:  handler.NewHealthHandler(checks, discard()),
		Status:  handler.NewStatusHandler("trade", eng, nil),
		Symbols: handler.NewSymbolHandler(eng, discard()),
		Audit:   handler.NewAuditHandler(audit, discard()),
		Scan:    handler.NewScanHandler(trig, discard()),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { fmt.Fprint(w, "# metrics") }),
	}
	return NewServer(cfg, h, nil, limiter, discard()).Handler()
}

func do(t *testing.T, h http.Handler, method, path string, header map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealthAndReadiness(t *testing.T) {
	h := newTestHandler(Config{}, &fakeEngine{}, &fakeAudit{}, &fakeTrigger{}, nil,
		handler.Checker{Name: "redis", Check: func(context.Context) error { return nil }},
		handler.Checker{Name: "postgres", Check: func(context.Context) error { return errors.New("connection refused") }},
	)

	rec, body := do(t, h, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", body["status"])

	rec, body = do(t, h, http.MethodGet, "/api/ready", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "degraded", body["status"])
	require.Equal(t, map[string]any{"redis": "ok", "postgres": "connection refused"}, body["checks"])
}

func TestAuthProtectsAPIButNotProbes(t *testing.T) {
	h := newTestHandler(Config{APIKey: "s3cret"}, &fakeEngine{}, &fakeAudit{}, &fakeTrigger{}, nil)

	rec, _ := do(t, h, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/status", map[string]string{"Authorization": "Bearer wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body := do(t, h, http.MethodGet, "/api/status", map[string]string{"Authorization": "Bearer s3cret"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "trade", body["mode"])

	rec, _ = do(t, h, http.MethodGet, "/api/status?token=s3cret", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSymbolRoutes(t *testing.T) {
	eng := &fakeEngine{}
	h := newTestHandler(Config{}, eng, &fakeAudit{}, &fakeTrigger{}, nil)

	rec, body := do(t, h, http.MethodGet, "/api/symbols", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body["symbols"], 1)

	rec, body = do(t, h, http.MethodGet, "/api/symbols/solusdt", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "idle", body["state"])

	rec, _ = do(t, h, http.MethodGet, "/api/symbols/DOGEUSDT", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/symbols/ARBUSDT", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"ARBUSDT"}, eng.activated)

	rec, _ = do(t, h, http.MethodPost, "/api/symbols/no-such!", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = do(t, h, http.MethodDelete, "/api/symbols/ARBUSDT", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "draining", body["status"])
	require.Equal(t, []string{"ARBUSDT"}, eng.deactivated)
}

func TestActivateMapsErrors(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("strategy: activate X: lock: %w", domain.ErrLockHeld), http.StatusConflict},
		{fmt.Errorf("strategy: activate X: %w", domain.ErrNoInstrument), http.StatusNotFound},
		{errors.New("timeout"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		h := newTestHandler(Config{}, &fakeEngine{activateErr: tc.err}, &fakeAudit{}, &fakeTrigger{}, nil)
		rec, _ := do(t, h, http.MethodPost, "/api/symbols/SOLUSDT", nil)
		require.Equal(t, tc.code, rec.Code, tc.err.Error())
	}
}

func TestAuditListsWithPaging(t *testing.T) {
	audit := &fakeAudit{}
	h := newTestHandler(Config{}, &fakeEngine{}, audit, &fakeTrigger{}, nil)

	rec, body := do(t, h, http.MethodGet, "/api/audit?limit=900&offset=5&since=2025-01-02T00:00:00Z&event=trade.&symbol=solusdt", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 500, audit.opts.Limit)
	require.Equal(t, 5, audit.opts.Offset)
	require.NotNil(t, audit.opts.Since)
	require.Equal(t, "trade.", audit.opts.EventPrefix)
	require.Equal(t, "SOLUSDT", audit.opts.Symbol)

	entries := body["entries"].([]any)
	require.Len(t, entries, 1)
	require.Equal(t, "trade.OPEN", entries[0].(map[string]any)["event"])
}

func TestScanTriggerCoalesces(t *testing.T) {
	trig := &fakeTrigger{}
	h := newTestHandler(Config{}, &fakeEngine{}, &fakeAudit{}, trig, nil)

	rec, body := do(t, h, http.MethodPost, "/api/scan/trigger", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "accepted", body["status"])

	_, body = do(t, h, http.MethodPost, "/api/scan/trigger", nil)
	require.Equal(t, "pending", body["status"])
}

func TestRateLimit(t *testing.T) {
	cfg := Config{RateLimit: 10, RateLimitWindow: 2 * time.Second}

	h := newTestHandler(cfg, &fakeEngine{}, &fakeAudit{}, &fakeTrigger{}, denyLimiter{})
	rec, _ := do(t, h, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "2", rec.Header().Get("Retry-After"))

	// limiter outage fails open
	h = newTestHandler(cfg, &fakeEngine{}, &fakeAudit{}, &fakeTrigger{}, denyLimiter{err: errors.New("redis down")})
	rec, _ = do(t, h, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := newTestHandler(Config{APIKey: "k", CORSOrigins: []string{"https://dash.example"}}, &fakeEngine{}, &fakeAudit{}, &fakeTrigger{}, nil)

	rec, _ := do(t, h, http.MethodOptions, "/api/symbols/SOLUSDT", map[string]string{"Origin": "https://dash.example"})
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec, _ = do(t, h, http.MethodOptions, "/api/status", map[string]string{"Origin": "https://evil.example"})
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
