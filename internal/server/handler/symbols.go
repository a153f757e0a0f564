package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/wallbot/internal/domain"
	"github.com/alanyoungcy/wallbot/internal/strategy"
)

// SymbolEngine is the part of the strategy engine the symbols API drives.
type SymbolEngine interface {
	Info() []strategy.SymbolInfo
	Statuses() []strategy.Status
	Activate(ctx context.Context, symbol string) error
	Deactivate(ctx context.Context, symbol string)
}

// SymbolHandler lists and toggles traded symbols.
type SymbolHandler struct {
	engine SymbolEngine
	logger *slog.Logger
}

// NewSymbolHandler creates a SymbolHandler.
func NewSymbolHandler(engine SymbolEngine, logger *slog.Logger) *SymbolHandler {
	return &SymbolHandler{engine: engine, logger: logHandler(logger, "symbols")}
}

// ListSymbols returns every running or draining symbol.
// GET /api/symbols
func (h *SymbolHandler) ListSymbols(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"symbols": h.engine.Info()})
}

// GetSymbol returns the strategy status of one symbol.
// GET /api/symbols/{symbol}
func (h *SymbolHandler) GetSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "invalid symbol")
		return
	}
	for _, st := range h.engine.Statuses() {
		if st.Symbol == symbol {
			writeJSON(w, http.StatusOK, st)
			return
		}
	}
	writeError(w, http.StatusNotFound, "symbol not active")
}

// Activate starts trading a symbol.
// POST /api/symbols/{symbol}
func (h *SymbolHandler) Activate(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "invalid symbol")
		return
	}
	if err := h.engine.Activate(r.Context(), symbol); err != nil {
		h.logger.WarnContext(r.Context(), "activation failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		switch {
		case errors.Is(err, domain.ErrNoInstrument), errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, domain.ErrLockHeld):
			writeError(w, http.StatusConflict, "symbol is traded by another process")
		default:
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	h.logger.InfoContext(r.Context(), "symbol activated via api", slog.String("symbol", symbol))
	writeJSON(w, http.StatusOK, map[string]string{"symbol": symbol, "status": "running"})
}

// Deactivate stops a symbol once its trade, if any, is complete.
// DELETE /api/symbols/{symbol}
func (h *SymbolHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "invalid symbol")
		return
	}
	h.engine.Deactivate(r.Context(), symbol)
	h.logger.InfoContext(r.Context(), "symbol deactivated via api", slog.String("symbol", symbol))
	writeJSON(w, http.StatusAccepted, map[string]string{"symbol": symbol, "status": "draining"})
}
