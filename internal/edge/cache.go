package edge

import (
	"sync"
	"time"

	"github.com/canopyrun/canopy/internal/balancer"
	"github.com/canopyrun/canopy/internal/clock"
)

type cacheKey struct {
	hostname string
	clientIP string
}

type cacheEntry struct {
	info   balancer.RoutingInfo
	expiry time.Time
}

// RouteCache holds resolved routes per (hostname, client IP). An entry read
// at or past its expiry is treated as absent and removed.
type RouteCache struct {
	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
	clk     clock.Clock
}

// NewRouteCache creates an empty cache on the given clock.
func NewRouteCache(clk clock.Clock) *RouteCache {
	return &RouteCache{entries: make(map[cacheKey]cacheEntry), clk: clk}
}

// Get returns the cached route for the key if it has not expired.
func (c *RouteCache) Get(hostname, clientIP string) (balancer.RoutingInfo, bool) {
	key := cacheKey{hostname, clientIP}

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return balancer.RoutingInfo{}, false
	}
	if !c.clk.Now().Before(e.expiry) {
		delete(c.entries, key)
		return balancer.RoutingInfo{}, false
	}
	return e.info, true
}

// Put stores a route with expiry = now + ttl, replacing any previous entry.
func (c *RouteCache) Put(hostname, clientIP string, info balancer.RoutingInfo, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey{hostname, clientIP}] = cacheEntry{info: info, expiry: c.clk.Now().Add(ttl)}
}

// Evict removes the entry for the key, if any.
func (c *RouteCache) Evict(hostname, clientIP string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey{hostname, clientIP})
}

// Len reports the number of live entries, expired or not.
func (c *RouteCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
