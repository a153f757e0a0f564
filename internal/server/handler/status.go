package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/wallbot/internal/strategy"
)

// StatusSource reports the per-symbol strategy state.
type StatusSource interface {
	Statuses() []strategy.Status
}

// TopicSource reports the live market data subscriptions.
type TopicSource interface {
	Active() []string
}

// StatusHandler serves the process overview for the dashboard.
type StatusHandler struct {
	mode    string
	started time.Time
	engine  StatusSource
	feed    TopicSource // nil outside trade mode
}

// NewStatusHandler creates a StatusHandler. feed may be nil.
func NewStatusHandler(mode string, engine StatusSource, feed TopicSource) *StatusHandler {
	return &StatusHandler{mode: mode, started: time.Now(), engine: engine, feed: feed}
}

// Snapshot is the body of GET /api/status and the WebSocket greeting.
func (h *StatusHandler) Snapshot() map[string]any {
	out := map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"symbols":        []strategy.Status{},
	}
	if h.engine != nil {
		out["symbols"] = h.engine.Statuses()
	}
	if h.feed != nil {
		out["topics"] = h.feed.Active()
	}
	return out
}

// GetStatus responds with Snapshot.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Snapshot())
}
