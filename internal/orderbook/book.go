// Package orderbook maintains a local bid/ask view rebuilt from exchange
// snapshot and delta events.
package orderbook

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/wallbot/internal/domain"
)

// keyScale is the number of decimals prices are canonicalized to.
const keyScale = 8

// backgroundDepth is how many levels behind the top feed the background
// volume on each side.
const backgroundDepth = 10

type level struct {
	price float64
	qty   float64
}

// Book is a price->quantity view of both sides of one symbol. Prices are keyed
// by their fixed-point representation so float noise never creates two levels
// for the same price.
type Book struct {
	mu       sync.RWMutex
	symbol   string
	bids     map[int64]level
	asks     map[int64]level
	synced   bool
	updateID int64
	lastTS   time.Time
}

// New creates an empty book for symbol.
func New(symbol string) *Book {
	return &Book{
		symbol: symbol,
		bids:   make(map[int64]level),
		asks:   make(map[int64]level),
	}
}

// Symbol returns the book's symbol.
func (b *Book) Symbol() string { return b.symbol }

// Key canonicalizes a price to its fixed-point map key.
func Key(price float64) int64 {
	return decimal.NewFromFloat(price).Shift(keyScale).Round(0).IntPart()
}

func keyPrice(k int64) float64 {
	f, _ := decimal.New(k, -keyScale).Float64()
	return f
}

// Apply mutates the book with a snapshot or delta. It returns false when the
// event was discarded because no snapshot has been seen yet.
func (b *Book) Apply(ev domain.DepthEvent) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ev.IsSnapshot {
		clear(b.bids)
		clear(b.asks)
		b.synced = true
	} else if !b.synced {
		return false
	}

	applySide(b.bids, ev.Bids)
	applySide(b.asks, ev.Asks)

	b.updateID = ev.UpdateID
	b.lastTS = ev.Timestamp
	return true
}

func applySide(side map[int64]level, levels []domain.PriceLevel) {
	for _, lv := range levels {
		if !finite(lv.Price) || !finite(lv.Quantity) || lv.Price <= 0 || lv.Quantity < 0 {
			continue
		}
		k := Key(lv.Price)
		if lv.Quantity == 0 {
			delete(side, k)
			continue
		}
		side[k] = level{price: keyPrice(k), qty: lv.Quantity}
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func (b *Book) sideMap(side domain.Side) map[int64]level {
	if side == domain.SideBuy {
		return b.bids
	}
	return b.asks
}

// Synced reports whether a snapshot has been applied.
func (b *Book) Synced() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.synced
}

// Best returns the highest bid (SideBuy) or lowest ask (SideSell).
func (b *Book) Best(side domain.Side) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	lv, ok := b.bestLocked(side)
	return lv.price, ok
}

func (b *Book) bestLocked(side domain.Side) (level, bool) {
	m := b.sideMap(side)
	var (
		best  level
		bestK int64
		found bool
	)
	for k, lv := range m {
		if !found || (side == domain.SideBuy && k > bestK) || (side == domain.SideSell && k < bestK) {
			best, bestK, found = lv, k, true
		}
	}
	return best, found
}

// VolumeAt returns the resting quantity at price, or 0.
func (b *Book) VolumeAt(side domain.Side, price float64) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sideMap(side)[Key(price)].qty
}

// VolumeNear returns the largest resting quantity within window ticks of
// price on the given side.
func (b *Book) VolumeNear(side domain.Side, price, tick float64, window int) float64 {
	if window <= 0 || tick <= 0 {
		return b.VolumeAt(side, price)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	m := b.sideMap(side)
	p := decimal.NewFromFloat(price)
	t := decimal.NewFromFloat(tick)
	var vol float64
	for i := -window; i <= window; i++ {
		pi, _ := p.Add(t.Mul(decimal.NewFromInt(int64(i)))).Float64()
		if q := m[Key(pi)].qty; q > vol {
			vol = q
		}
	}
	return vol
}

// BackgroundVolume is the mean quantity of the levels ranked 2nd through 11th
// on both sides. The top level is excluded so a wall never inflates its own
// threshold. Zero when either side is empty.
func (b *Book) BackgroundVolume() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.bids) == 0 || len(b.asks) == 0 {
		return 0
	}
	bids := sortedLevels(b.bids, true)
	asks := sortedLevels(b.asks, false)

	var (
		sum float64
		n   int
	)
	for _, side := range [][]level{bids, asks} {
		end := min(len(side), backgroundDepth+1)
		for i := 1; i < end; i++ {
			sum += side[i].qty
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func sortedLevels(m map[int64]level, desc bool) []level {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	if desc {
		sort.Slice(keys, func(i, j int) bool { return keys[i] > keys[j] })
	} else {
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	}
	out := make([]level, len(keys))
	for i, k := range keys {
		out[i] = m[k]
	}
	return out
}

// Depth returns up to n levels per side, best first.
func (b *Book) Depth(n int) (bids, asks []domain.PriceLevel) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	conv := func(levels []level) []domain.PriceLevel {
		if n > 0 && len(levels) > n {
			levels = levels[:n]
		}
		out := make([]domain.PriceLevel, len(levels))
		for i, lv := range levels {
			out[i] = domain.PriceLevel{Price: lv.price, Quantity: lv.qty}
		}
		return out
	}
	return conv(sortedLevels(b.bids, true)), conv(sortedLevels(b.asks, false))
}

// Crossed reports best_bid >= best_ask with both sides present.
func (b *Book) Crossed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bid, okB := b.bestLocked(domain.SideBuy)
	ask, okA := b.bestLocked(domain.SideSell)
	return okB && okA && bid.price >= ask.price
}

// Summary returns the top-of-book view.
func (b *Book) Summary() domain.TopOfBook {
	bg := b.BackgroundVolume()

	b.mu.RLock()
	defer b.mu.RUnlock()
	bid, _ := b.bestLocked(domain.SideBuy)
	ask, _ := b.bestLocked(domain.SideSell)
	return domain.TopOfBook{
		Symbol:     b.symbol,
		BestBid:    bid.price,
		BestAsk:    ask.price,
		BidQty:     bid.qty,
		AskQty:     ask.qty,
		Background: bg,
		Timestamp:  b.lastTS,
	}
}

// Len returns the number of levels on a side.
func (b *Book) Len(side domain.Side) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sideMap(side))
}
