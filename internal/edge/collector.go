package edge

import "sync"

// Sample is one completed proxied request as observed at the edge.
type Sample struct {
	UserID      string
	AppHostname string
	ContainerID string
	StatusCode  int
	LatencyMS   int64
}

// DimStats are the aggregates kept per dimension value.
type DimStats struct {
	Requests     int64         `json:"requests"`
	Errors       int64         `json:"errors"`
	LatencySumMS int64         `json:"latency_sum_ms"`
	LatencyCount int64         `json:"latency_count"`
	StatusCodes  map[int]int64 `json:"status_codes"`
}

func newDimStats() *DimStats {
	return &DimStats{StatusCodes: make(map[int]int64)}
}

func (d *DimStats) observe(s Sample) {
	d.Requests++
	if s.StatusCode >= 400 {
		d.Errors++
	}
	if s.LatencyMS > 0 {
		d.LatencySumMS += s.LatencyMS
		d.LatencyCount++
	}
	d.StatusCodes[s.StatusCode]++
}

func (d *DimStats) snapshot() DimStats {
	out := DimStats{
		Requests:     d.Requests,
		Errors:       d.Errors,
		LatencySumMS: d.LatencySumMS,
		LatencyCount: d.LatencyCount,
		StatusCodes:  make(map[int]int64, len(d.StatusCodes)),
	}
	for code, n := range d.StatusCodes {
		out.StatusCodes[code] = n
	}
	return out
}

// Collector keeps in-process request aggregates along four dimensions:
// global, per user, per app hostname, and per container. The first non-empty
// user observed for a hostname or container becomes its owner; later samples
// never reassign ownership.
type Collector struct {
	mu          sync.Mutex
	global      *DimStats
	byUser      map[string]*DimStats
	byHostname  map[string]*DimStats
	byContainer map[string]*DimStats

	hostnameOwner  map[string]string
	containerOwner map[string]string
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	c := &Collector{}
	c.reset()
	return c
}

func (c *Collector) reset() {
	c.global = newDimStats()
	c.byUser = make(map[string]*DimStats)
	c.byHostname = make(map[string]*DimStats)
	c.byContainer = make(map[string]*DimStats)
	c.hostnameOwner = make(map[string]string)
	c.containerOwner = make(map[string]string)
}

// Record adds one sample to every dimension it identifies. A sample without
// a user id still counts globally and per hostname/container.
func (c *Collector) Record(s Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.global.observe(s)

	if s.UserID != "" {
		c.dim(c.byUser, s.UserID).observe(s)
	}
	if s.AppHostname != "" {
		c.dim(c.byHostname, s.AppHostname).observe(s)
		if _, owned := c.hostnameOwner[s.AppHostname]; !owned && s.UserID != "" {
			c.hostnameOwner[s.AppHostname] = s.UserID
		}
	}
	if s.ContainerID != "" {
		c.dim(c.byContainer, s.ContainerID).observe(s)
		if _, owned := c.containerOwner[s.ContainerID]; !owned && s.UserID != "" {
			c.containerOwner[s.ContainerID] = s.UserID
		}
	}
}

func (c *Collector) dim(m map[string]*DimStats, key string) *DimStats {
	d, ok := m[key]
	if !ok {
		d = newDimStats()
		m[key] = d
	}
	return d
}

// Global returns the all-traffic aggregates.
func (c *Collector) Global() DimStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.global.snapshot()
}

// ByHostname returns the aggregates for one app hostname.
func (c *Collector) ByHostname(hostname string) (DimStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.byHostname[hostname]
	if !ok {
		return DimStats{}, false
	}
	return d.snapshot(), true
}

// ByContainer returns the aggregates for one container.
func (c *Collector) ByContainer(containerID string) (DimStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.byContainer[containerID]
	if !ok {
		return DimStats{}, false
	}
	return d.snapshot(), true
}

// UserView is the per-user aggregate plus the hostnames and containers whose
// first-observed user is that user.
type UserView struct {
	User       DimStats            `json:"user"`
	Hostnames  map[string]DimStats `json:"hostnames"`
	Containers map[string]DimStats `json:"containers"`
}

// ByUser returns the filtered view for one user.
func (c *Collector) ByUser(userID string) (UserView, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.byUser[userID]
	if !ok {
		return UserView{}, false
	}
	view := UserView{
		User:       d.snapshot(),
		Hostnames:  make(map[string]DimStats),
		Containers: make(map[string]DimStats),
	}
	for hostname, owner := range c.hostnameOwner {
		if owner == userID {
			view.Hostnames[hostname] = c.byHostname[hostname].snapshot()
		}
	}
	for container, owner := range c.containerOwner {
		if owner == userID {
			view.Containers[container] = c.byContainer[container].snapshot()
		}
	}
	return view, true
}

// Reset clears all counters and ownership.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}
