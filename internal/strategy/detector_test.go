package strategy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wallbot/internal/domain"
)

type staticBook struct {
	bid, ask       float64
	bidVol, askVol float64
}

func (b *staticBook) Best(side domain.Side) (float64, bool) {
	if side == domain.SideBuy {
		return b.bid, b.bid > 0
	}
	return b.ask, b.ask > 0
}

func (b *staticBook) VolumeAt(side domain.Side, _ float64) float64 {
	if side == domain.SideBuy {
		return b.bidVol
	}
	return b.askVol
}

func detectorParams() domain.StrategyParameters {
	p := domain.DefaultStrategyParameters()
	p.Symbol = "SOLUSDT"
	p.TickSize = 0.01
	p.LotSize = 0.01
	p.WallRatioThreshold = 15
	return p
}

func TestDetectorDebounceBrokenBeforeConfirm(t *testing.T) {
	d := NewDetector(detectorParams())
	wall := &staticBook{bid: 100, ask: 100.02, bidVol: 500, askVol: 10}
	flat := &staticBook{bid: 100, ask: 100.02, bidVol: 10, askVol: 10}

	require.Nil(t, d.Detect(wall, 10))
	require.Nil(t, d.Detect(wall, 10))
	require.Nil(t, d.Detect(flat, 10))
	require.Zero(t, d.Confirms())

	require.Nil(t, d.Detect(wall, 10))
	require.Nil(t, d.Detect(wall, 10))
	sig := d.Detect(wall, 10)
	require.NotNil(t, sig)

	// fires once, then needs a fresh run of confirmations
	require.Nil(t, d.Detect(wall, 10))
}

func TestDetectorSignalFields(t *testing.T) {
	p := detectorParams()
	p.RequiredConfirms = 1
	d := NewDetector(p)

	sig := d.Detect(&staticBook{bid: 100, ask: 100.02, bidVol: 500, askVol: 10}, 10)
	require.NotNil(t, sig)
	require.Equal(t, domain.SideBuy, sig.Side)
	require.Equal(t, 100.0, sig.WallPrice)
	require.Equal(t, 100.01, sig.EntryPrice)
	require.Equal(t, 150.0, sig.Threshold)

	sig = d.Detect(&staticBook{bid: 100, ask: 100.02, bidVol: 10, askVol: 500}, 10)
	require.NotNil(t, sig)
	require.Equal(t, domain.SideSell, sig.Side)
	require.Equal(t, 100.01, sig.EntryPrice)
}

func TestDetectorBidWallWins(t *testing.T) {
	p := detectorParams()
	p.RequiredConfirms = 1
	d := NewDetector(p)
	sig := d.Detect(&staticBook{bid: 100, ask: 100.02, bidVol: 500, askVol: 900}, 10)
	require.Equal(t, domain.SideBuy, sig.Side)
}

func TestDetectorRequiresMinimumNotional(t *testing.T) {
	p := detectorParams()
	p.RequiredConfirms = 1
	d := NewDetector(p)

	// relative wall, but 400 * 1.0 is far below 5000 USDT
	require.Nil(t, d.Detect(&staticBook{bid: 1.0, ask: 1.01, bidVol: 400, askVol: 1}, 1))
	// no baseline yet
	require.Nil(t, d.Detect(&staticBook{bid: 100, ask: 100.02, bidVol: 500}, 0))
}
