package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// Trigger requests one out-of-schedule run. *scanner.Rotator implements it.
type Trigger interface {
	Trigger() bool
}

// ScanHandler lets an operator force a market rescan.
type ScanHandler struct {
	trigger Trigger
	logger  *slog.Logger
}

// NewScanHandler creates a ScanHandler.
func NewScanHandler(trigger Trigger, logger *slog.Logger) *ScanHandler {
	return &ScanHandler{trigger: trigger, logger: logHandler(logger, "scan")}
}

// TriggerScan enqueues a rescan. A request made while one is pending is
// coalesced into it.
// POST /api/scan/trigger
func (h *ScanHandler) TriggerScan(w http.ResponseWriter, r *http.Request) {
	queued := h.trigger.Trigger()
	h.logger.InfoContext(r.Context(), "rescan requested", slog.Bool("queued", queued))
	status := "accepted"
	if !queued {
		status = "pending"
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       status,
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}
