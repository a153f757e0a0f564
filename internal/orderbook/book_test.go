package orderbook

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wallbot/internal/domain"
)

func lv(p, q float64) domain.PriceLevel { return domain.PriceLevel{Price: p, Quantity: q} }

func snapshot(bids, asks []domain.PriceLevel) domain.DepthEvent {
	return domain.DepthEvent{Symbol: "SOLUSDT", IsSnapshot: true, Bids: bids, Asks: asks}
}

func delta(bids, asks []domain.PriceLevel) domain.DepthEvent {
	return domain.DepthEvent{Symbol: "SOLUSDT", Bids: bids, Asks: asks}
}

func TestDeltaBeforeSnapshotIsDiscarded(t *testing.T) {
	b := New("SOLUSDT")
	require.False(t, b.Apply(delta([]domain.PriceLevel{lv(100, 1)}, nil)))
	require.Equal(t, 0, b.Len(domain.SideBuy))
	require.False(t, b.Synced())

	require.True(t, b.Apply(snapshot([]domain.PriceLevel{lv(100, 1)}, []domain.PriceLevel{lv(101, 1)})))
	require.True(t, b.Apply(delta([]domain.PriceLevel{lv(99, 2)}, nil)))
	require.Equal(t, 2, b.Len(domain.SideBuy))
	require.True(t, b.Synced())
}

func TestSnapshotReplacesBook(t *testing.T) {
	b := New("SOLUSDT")
	b.Apply(snapshot([]domain.PriceLevel{lv(100, 1), lv(99, 1)}, []domain.PriceLevel{lv(101, 1)}))
	b.Apply(snapshot([]domain.PriceLevel{lv(50, 3)}, []domain.PriceLevel{lv(51, 4)}))

	require.Equal(t, 1, b.Len(domain.SideBuy))
	bid, ok := b.Best(domain.SideBuy)
	require.True(t, ok)
	require.Equal(t, 50.0, bid)
	require.Zero(t, b.VolumeAt(domain.SideBuy, 100))
}

func TestZeroQuantityDeltaForMissingLevelIsNoop(t *testing.T) {
	b := New("SOLUSDT")
	b.Apply(snapshot([]domain.PriceLevel{lv(100, 1)}, []domain.PriceLevel{lv(101, 2)}))
	before := b.Summary()

	require.True(t, b.Apply(delta([]domain.PriceLevel{lv(98.5, 0)}, []domain.PriceLevel{lv(140, 0)})))

	require.Equal(t, before, b.Summary())
	require.Equal(t, 1, b.Len(domain.SideBuy))
	require.Equal(t, 1, b.Len(domain.SideSell))
}

func TestZeroQuantityRemovesLevel(t *testing.T) {
	b := New("SOLUSDT")
	b.Apply(snapshot([]domain.PriceLevel{lv(100, 1), lv(99, 1)}, []domain.PriceLevel{lv(101, 2)}))
	b.Apply(delta([]domain.PriceLevel{lv(100, 0)}, nil))

	bid, _ := b.Best(domain.SideBuy)
	require.Equal(t, 99.0, bid)
}

func TestFloatNoiseMapsToSameLevel(t *testing.T) {
	b := New("SOLUSDT")
	b.Apply(snapshot([]domain.PriceLevel{lv(0.1+0.2, 5)}, []domain.PriceLevel{lv(0.4, 1)}))
	b.Apply(delta([]domain.PriceLevel{lv(0.3, 7)}, nil))

	require.Equal(t, 1, b.Len(domain.SideBuy))
	require.Equal(t, 7.0, b.VolumeAt(domain.SideBuy, 0.3))
	require.Equal(t, Key(0.1+0.2), Key(0.3))
}

func TestMalformedLevelsDropped(t *testing.T) {
	b := New("SOLUSDT")
	b.Apply(snapshot(
		[]domain.PriceLevel{lv(math.NaN(), 1), lv(100, math.Inf(1)), lv(99, 1), lv(-1, 3)},
		[]domain.PriceLevel{lv(101, 1)},
	))
	require.Equal(t, 1, b.Len(domain.SideBuy))
	bid, _ := b.Best(domain.SideBuy)
	require.Equal(t, 99.0, bid)
}

func TestBestOnEmptySide(t *testing.T) {
	b := New("SOLUSDT")
	_, ok := b.Best(domain.SideBuy)
	require.False(t, ok)
	require.Zero(t, b.BackgroundVolume())
}

func TestBackgroundVolumeSkipsTopLevel(t *testing.T) {
	b := New("SOLUSDT")
	bids := []domain.PriceLevel{lv(100, 1000)}
	asks := []domain.PriceLevel{lv(101, 1000)}
	for i := 1; i <= 12; i++ {
		bids = append(bids, lv(100-float64(i)*0.01, 10))
		asks = append(asks, lv(101+float64(i)*0.01, 20))
	}
	b.Apply(snapshot(bids, asks))

	// levels 2..11 on each side: ten 10s and ten 20s.
	require.InDelta(t, 15.0, b.BackgroundVolume(), 1e-12)
}

func TestBackgroundVolumeEmptyWhenOneSideMissing(t *testing.T) {
	b := New("SOLUSDT")
	b.Apply(snapshot([]domain.PriceLevel{lv(100, 1), lv(99, 2)}, nil))
	require.Zero(t, b.BackgroundVolume())
}

func TestVolumeNearToleratesChurn(t *testing.T) {
	b := New("SOLUSDT")
	b.Apply(snapshot([]domain.PriceLevel{lv(100.01, 50), lv(99.99, 400)}, []domain.PriceLevel{lv(100.02, 1)}))

	require.Zero(t, b.VolumeAt(domain.SideBuy, 100.00))
	require.Equal(t, 400.0, b.VolumeNear(domain.SideBuy, 100.00, 0.01, 1))
	require.Equal(t, 0.0, b.VolumeNear(domain.SideBuy, 100.00, 0.01, 0))
}

func TestRandomSequenceNeverCrosses(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	b := New("SOLUSDT")

	mid := 100.0
	for step := 0; step < 2000; step++ {
		if step%250 == 0 {
			var bids, asks []domain.PriceLevel
			for i := 1; i <= 20; i++ {
				bids = append(bids, lv(mid-float64(i)*0.01, float64(r.Intn(50)+1)))
				asks = append(asks, lv(mid+float64(i)*0.01, float64(r.Intn(50)+1)))
			}
			b.Apply(snapshot(bids, asks))
		} else {
			i := float64(r.Intn(20) + 1)
			q := float64(r.Intn(4)) // zero removes
			if r.Intn(2) == 0 {
				b.Apply(delta([]domain.PriceLevel{lv(mid-i*0.01, q)}, nil))
			} else {
				b.Apply(delta(nil, []domain.PriceLevel{lv(mid+i*0.01, q)}))
			}
		}
		require.False(t, b.Crossed(), "step %d", step)
	}
}

func TestCrossedFixtureDetected(t *testing.T) {
	b := New("SOLUSDT")
	b.Apply(snapshot([]domain.PriceLevel{lv(101, 1)}, []domain.PriceLevel{lv(100, 1)}))
	require.True(t, b.Crossed())
}

func TestDepthOrdering(t *testing.T) {
	b := New("SOLUSDT")
	b.Apply(snapshot([]domain.PriceLevel{lv(98, 1), lv(100, 1), lv(99, 1)}, []domain.PriceLevel{lv(103, 1), lv(101, 1)}))
	bids, asks := b.Depth(2)
	require.Equal(t, []domain.PriceLevel{lv(100, 1), lv(99, 1)}, bids)
	require.Equal(t, []domain.PriceLevel{lv(101, 1), lv(103, 1)}, asks)
}
