package executor

import (
	"sync"
	"time"
)

// Dedup remembers execution ids so a fill replayed after a private stream
// reconnect is applied only once. It is safe for concurrent use.
type Dedup struct {
	seen    map[string]time.Time // execID -> first seen
	ttl     time.Duration
	sweepAt time.Time
	mu      sync.Mutex
}

// NewDedup creates a Dedup that forgets execution ids after ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// Seen reports whether execID was already recorded within the TTL and records
// it otherwise. Empty ids are never treated as duplicates. Expired entries are
// swept at most once per TTL.
func (d *Dedup) Seen(execID string) bool {
	if execID == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if now.After(d.sweepAt) {
		for id, ts := range d.seen {
			if now.Sub(ts) >= d.ttl {
				delete(d.seen, id)
			}
		}
		d.sweepAt = now.Add(d.ttl)
	}

	if first, ok := d.seen[execID]; ok && now.Sub(first) < d.ttl {
		return true
	}
	d.seen[execID] = now
	return false
}

// Len returns the number of remembered ids.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
