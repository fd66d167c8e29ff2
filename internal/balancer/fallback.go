package balancer

import (
	"sync"
	"time"

	"github.com/canopyrun/canopy/internal/clock"
	"github.com/canopyrun/canopy/internal/registry"
)

// FallbackCache keeps the last-known-good backend list per hostname. It is
// consulted only when discovery fails or the circuit is open; a fresh entry
// lets the balancer keep routing through a registry outage.
type FallbackCache struct {
	mu      sync.Mutex
	entries map[string]fallbackEntry
	clock   clock.Clock
}

type fallbackEntry struct {
	backends []registry.Backend
	storedAt time.Time
}

// NewFallbackCache creates an empty cache.
func NewFallbackCache(clk clock.Clock) *FallbackCache {
	return &FallbackCache{entries: make(map[string]fallbackEntry), clock: clk}
}

// Store records a snapshot. Empty snapshots are ignored: the cache holds
// last-known-GOOD state, and an empty list routes nothing.
func (f *FallbackCache) Store(appHostname string, backends []registry.Backend) {
	if len(backends) == 0 {
		return
	}
	snap := make([]registry.Backend, len(backends))
	copy(snap, backends)
	f.mu.Lock()
	f.entries[appHostname] = fallbackEntry{backends: snap, storedAt: f.clock.Now()}
	f.mu.Unlock()
}

// Fresh returns the snapshot if one exists and is younger than maxAge.
func (f *FallbackCache) Fresh(appHostname string, maxAge time.Duration) ([]registry.Backend, bool) {
	f.mu.Lock()
	e, ok := f.entries[appHostname]
	f.mu.Unlock()
	if !ok || f.clock.Since(e.storedAt) >= maxAge {
		return nil, false
	}
	out := make([]registry.Backend, len(e.backends))
	copy(out, e.backends)
	return out, true
}

// Known reports whether the hostname has ever produced a non-empty snapshot.
// Distinguishes "unknown application" from "known but at zero capacity".
func (f *FallbackCache) Known(appHostname string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[appHostname]
	return ok
}
