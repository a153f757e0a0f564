package strategy

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/wallbot/internal/domain"
)

// SymbolInfo holds runtime info for an active symbol (for status APIs).
type SymbolInfo struct {
	Symbol      string    `json:"symbol"`
	Status      string    `json:"status"` // "running", "draining"
	ActivatedAt time.Time `json:"activated_at"`
}

// instance is one running strategy with its ordered inbox.
type instance struct {
	strat       Strategy
	inbox       chan domain.MarketEvent
	cancel      context.CancelFunc
	done        chan struct{}
	lease       domain.Lease
	activatedAt time.Time

	mu       sync.Mutex
	draining bool
}

func (i *instance) setDraining(v bool) {
	i.mu.Lock()
	i.draining = v
	i.mu.Unlock()
}

func (i *instance) isDraining() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.draining
}

// Registry tracks the running instances by symbol. It is safe for concurrent
// use.
type Registry struct {
	instances map[string]*instance
	mu        sync.RWMutex
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		instances: make(map[string]*instance),
	}
}

func (r *Registry) put(symbol string, inst *instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[symbol] = inst
}

func (r *Registry) get(symbol string) (*instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[symbol]
	return inst, ok
}

// remove deletes symbol only if it still maps to inst.
func (r *Registry) remove(symbol string, inst *instance) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.instances[symbol]; ok && cur == inst {
		delete(r.instances, symbol)
		return true
	}
	return false
}

func (r *Registry) all() []*instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*instance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	return out
}

// List returns the active symbols in sorted order, draining ones included.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.instances))
	for n := range r.instances {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}

// ListInfo returns runtime info for every instance, sorted by symbol.
func (r *Registry) ListInfo() []SymbolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]SymbolInfo, 0, len(r.instances))
	for sym, inst := range r.instances {
		status := "running"
		if inst.isDraining() {
			status = "draining"
		}
		infos = append(infos, SymbolInfo{Symbol: sym, Status: status, ActivatedAt: inst.activatedAt})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Symbol < infos[j].Symbol })
	return infos
}
