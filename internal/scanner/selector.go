package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/wallbot/internal/analytics"
	"github.com/alanyoungcy/wallbot/internal/domain"
)

// SelectorConfig holds the scan funnel settings.
type SelectorConfig struct {
	TopN               int
	QuoteCoin          string
	ExcludeBases       []string
	ExcludeSymbols     []string
	RequireCopyTrading bool
	MinTurnover        float64 // 24h, quote currency
	Candidates         int     // most liquid symbols scored by NATR
	KlineInterval      string
	KlineLimit         int
	MinCandles         int
	Concurrency        int
}

// DefaultSelectorConfig returns the production funnel.
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		TopN:           3,
		QuoteCoin:      "USDT",
		ExcludeBases:   []string{"BTC", "ETH"},
		ExcludeSymbols: []string{"BTCUSDT", "ETHUSDT", "BTC-PERP", "ETH-PERP"},
		MinTurnover:    1_000_000,
		Candidates:     20,
		KlineInterval:  "5",
		KlineLimit:     20,
		MinCandles:     10,
		Concurrency:    10,
	}
}

// Candidate is a scored symbol.
type Candidate struct {
	Symbol   string  `json:"symbol"`
	Turnover float64 `json:"turnover_24h"`
	Price    float64 `json:"price"`
	NATR     float64 `json:"natr"`
}

// Selector ranks the tradable universe: eligible instruments, then the most
// liquid by 24h turnover, then the most volatile by NATR.
type Selector struct {
	cfg    SelectorConfig
	dir    domain.MarketDirectory
	logger *slog.Logger
}

// NewSelector creates a Selector.
func NewSelector(cfg SelectorConfig, dir domain.MarketDirectory, logger *slog.Logger) *Selector {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	return &Selector{
		cfg:    cfg,
		dir:    dir,
		logger: logger.With(slog.String("component", "market_selector")),
	}
}

// Select returns up to TopN candidates, most volatile first. Symbols whose
// candles cannot be fetched are skipped.
func (s *Selector) Select(ctx context.Context) ([]Candidate, error) {
	instruments, err := s.dir.ListInstruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanner: instruments: %w", err)
	}
	eligible := mapset.NewSet[string]()
	for _, in := range instruments {
		if s.eligible(in) {
			eligible.Add(in.Symbol)
		}
	}
	if eligible.Cardinality() == 0 {
		s.logger.WarnContext(ctx, "no eligible instruments")
		return nil, nil
	}

	tickers, err := s.dir.FetchTickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanner: tickers: %w", err)
	}
	var liquid []Candidate
	for _, t := range tickers {
		if !eligible.Contains(t.Symbol) || t.Turnover24h < s.cfg.MinTurnover || !(t.LastPrice > 0) {
			continue
		}
		liquid = append(liquid, Candidate{Symbol: t.Symbol, Turnover: t.Turnover24h, Price: t.LastPrice})
	}
	sort.Slice(liquid, func(i, j int) bool { return liquid[i].Turnover > liquid[j].Turnover })
	if len(liquid) > s.cfg.Candidates {
		liquid = liquid[:s.cfg.Candidates]
	}

	s.logger.InfoContext(ctx, "scoring volatility",
		slog.Int("eligible", eligible.Cardinality()),
		slog.Int("candidates", len(liquid)),
	)

	var (
		mu     sync.Mutex
		scored []Candidate
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, c := range liquid {
		g.Go(func() error {
			natr, ok := s.score(gctx, c.Symbol)
			if !ok {
				return nil
			}
			c.NATR = natr
			mu.Lock()
			scored = append(scored, c)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].NATR != scored[j].NATR {
			return scored[i].NATR > scored[j].NATR
		}
		return scored[i].Symbol < scored[j].Symbol
	})
	if len(scored) > s.cfg.TopN {
		scored = scored[:s.cfg.TopN]
	}
	for i, c := range scored {
		s.logger.InfoContext(ctx, "selected",
			slog.Int("rank", i+1),
			slog.String("symbol", c.Symbol),
			slog.Float64("natr", c.NATR),
			slog.Float64("turnover_24h", c.Turnover),
		)
	}
	return scored, nil
}

func (s *Selector) eligible(in domain.InstrumentSpec) bool {
	if s.cfg.QuoteCoin != "" && in.QuoteCoin != s.cfg.QuoteCoin {
		return false
	}
	for _, b := range s.cfg.ExcludeBases {
		if strings.EqualFold(in.BaseCoin, b) {
			return false
		}
	}
	for _, sym := range s.cfg.ExcludeSymbols {
		if in.Symbol == sym {
			return false
		}
	}
	if s.cfg.RequireCopyTrading {
		switch strings.ToLower(in.CopyTrading) {
		case "both", "uta_only", "normal_only", "true", "1":
		default:
			return false
		}
	}
	return true
}

func (s *Selector) score(ctx context.Context, symbol string) (float64, bool) {
	candles, err := s.dir.FetchOHLC(ctx, symbol, s.cfg.KlineInterval, s.cfg.KlineLimit)
	if err != nil {
		s.logger.WarnContext(ctx, "kline fetch failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return 0, false
	}
	if len(candles) < s.cfg.MinCandles {
		return 0, false
	}
	return analytics.NATR(candles)
}
