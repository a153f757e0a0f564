package strategy

import (
	"context"
	"time"

	"github.com/alanyoungcy/wallbot/internal/analytics"
	"github.com/alanyoungcy/wallbot/internal/domain"
)

// Strategy is a per-symbol event handler driven by the engine. The On*
// methods are called from a single goroutine in arrival order.
type Strategy interface {
	Symbol() string
	// Run blocks with the strategy's background work until ctx is done.
	Run(ctx context.Context) error
	OnDepth(ctx context.Context, ev domain.DepthEvent)
	OnExecution(ctx context.Context, ev domain.ExecutionEvent)
	OnTick(ctx context.Context, ev domain.TradeEvent)
	Idle() bool
	Status() Status
}

// Status is the monitoring view of one strategy instance.
type Status struct {
	Symbol     string               `json:"symbol"`
	State      string               `json:"state"`
	Trade      *domain.TradeContext `json:"trade,omitempty"`
	Top        domain.TopOfBook     `json:"top"`
	Analytics  analytics.Snapshot   `json:"analytics"`
	Confirms   int                  `json:"confirms"`
	LastSignal *Signal              `json:"last_signal,omitempty"`
	LastTrade  float64              `json:"last_trade"`
	LastTickAt time.Time            `json:"last_tick_at"`
}
