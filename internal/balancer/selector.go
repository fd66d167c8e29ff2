package balancer

import (
	"math/rand"
	"sync"

	"github.com/canopyrun/canopy/internal/registry"
)

// Selector picks one backend from a non-empty candidate list. Candidates
// arrive sorted by container id, so implementations get deterministic
// tie-breaking for free.
type Selector interface {
	Select(backends []registry.Backend) (registry.Backend, bool)
}

// SelectorFactory builds one selector per hostname, so per-hostname state
// (like a rotating index) never leaks across applications.
type SelectorFactory func() Selector

// RoundRobin rotates through the candidate list. The index survives
// membership changes; it is reduced modulo the current list length.
type RoundRobin struct {
	mu    sync.Mutex
	index int
}

// NewRoundRobin returns the default selector factory.
func NewRoundRobin() Selector { return &RoundRobin{} }

func (r *RoundRobin) Select(backends []registry.Backend) (registry.Backend, bool) {
	if len(backends) == 0 {
		return registry.Backend{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.index = (r.index + 1) % len(backends)
	return backends[r.index], true
}

// Random picks a uniformly random backend.
type Random struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandom returns a random selector seeded from the global source.
func NewRandom() Selector {
	return &Random{rnd: rand.New(rand.NewSource(rand.Int63()))}
}

func (r *Random) Select(backends []registry.Backend) (registry.Backend, bool) {
	if len(backends) == 0 {
		return registry.Backend{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return backends[r.rnd.Intn(len(backends))], true
}
