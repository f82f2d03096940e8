package server

import (
	"sync"

	"github.com/agentic-research/stratum/internal/topology"
)

// Holder is a thread-safe reference to the current topology. Readers keep
// whatever topology they were handed; Swap only affects later lookups.
type Holder struct {
	mu      sync.RWMutex
	current *topology.Topology
}

func NewHolder(initial *topology.Topology) *Holder {
	return &Holder{current: initial}
}

// Swap atomically replaces the current topology.
func (h *Holder) Swap(t *topology.Topology) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = t
}

// Current returns the topology in place, or nil before the first build.
func (h *Holder) Current() *topology.Topology {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}
