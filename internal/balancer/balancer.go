package balancer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/canopyrun/canopy/internal/hostname"
	"github.com/canopyrun/canopy/internal/logging"
	"github.com/canopyrun/canopy/internal/metrics"
	"github.com/canopyrun/canopy/internal/registry"
)

// RoutingInfo is the balancer's decision: where the edge should send this
// request, plus the labels the edge needs for caching and attribution.
type RoutingInfo struct {
	TargetHost  string `json:"target_host"`
	TargetPort  int    `json:"target_port"`
	ContainerID string `json:"container_id"`
	ImageID     string `json:"image_id"`
	UserID      string `json:"user_id,omitempty"`
	TTLSeconds  int    `json:"ttl_seconds"`
}

// Discoverer is what Route needs from discovery. *Discovery implements it;
// tests substitute fakes.
type Discoverer interface {
	Snapshot(ctx context.Context, appHostname string) ([]registry.Backend, error)
}

// Options configures a Balancer.
type Options struct {
	RouteTTL    time.Duration // TTL stamped on RoutingInfo, default 30 min
	FallbackTTL time.Duration // freshness window for stale snapshots
	NewSelector SelectorFactory
}

// Balancer resolves hostnames to backends: discovery through a circuit
// breaker, selection by a per-hostname selector, stale-snapshot fallback
// when discovery is down.
type Balancer struct {
	disc     Discoverer
	breaker  *Breaker
	fallback *FallbackCache
	opts     Options
	log      *logging.Logger

	mu        sync.Mutex
	selectors map[string]Selector
}

// New creates a Balancer.
func New(disc Discoverer, breaker *Breaker, fallback *FallbackCache, opts Options, log *logging.Logger) *Balancer {
	b := &Balancer{
		disc:      disc,
		breaker:   breaker,
		fallback:  fallback,
		opts:      opts,
		log:       log,
		selectors: make(map[string]Selector),
	}
	if b.opts.NewSelector == nil {
		b.opts.NewSelector = NewRoundRobin
	}
	if b.opts.RouteTTL <= 0 {
		b.opts.RouteTTL = 30 * time.Minute
	}
	return b
}

// Fallback exposes the fallback cache so the watcher can feed it.
func (b *Balancer) Fallback() *FallbackCache { return b.fallback }

// Route resolves an application hostname to a single backend.
func (b *Balancer) Route(ctx context.Context, rawHostname string) (RoutingInfo, error) {
	app, err := hostname.Normalize(rawHostname)
	if err != nil {
		return RoutingInfo{}, fmt.Errorf("route: %w", ErrInvalidInput)
	}

	res, err := b.breaker.Execute(func() (any, error) {
		return b.disc.Snapshot(ctx, app)
	})
	if err != nil {
		return b.routeDegraded(app, err)
	}

	backends := res.([]registry.Backend)
	b.fallback.Store(app, backends)

	if len(backends) == 0 {
		if b.fallback.Known(app) {
			return RoutingInfo{}, fmt.Errorf("route %s: %w", app, ErrNoCapacity)
		}
		return RoutingInfo{}, fmt.Errorf("route %s: %w", app, ErrNotFound)
	}
	return b.selectFrom(app, backends)
}

// routeDegraded handles discovery failure: serve from a fresh fallback
// snapshot if one exists, otherwise surface the failure kind.
func (b *Balancer) routeDegraded(app string, cause error) (RoutingInfo, error) {
	if backends, ok := b.fallback.Fresh(app, b.opts.FallbackTTL); ok {
		metrics.FallbackRoutes.Inc()
		b.log.Warn("routing from fallback snapshot", "app_hostname", app, "cause", cause)
		return b.selectFrom(app, backends)
	}

	switch {
	case errors.Is(cause, ErrCircuitOpen):
		return RoutingInfo{}, fmt.Errorf("route %s: %w", app, ErrCircuitOpen)
	case errors.Is(cause, ErrTimeout):
		return RoutingInfo{}, fmt.Errorf("route %s: %w", app, ErrTimeout)
	default:
		b.log.Error("discovery failed with no fallback", "app_hostname", app, "error", cause)
		return RoutingInfo{}, fmt.Errorf("route %s: %w", app, ErrUnavailable)
	}
}

func (b *Balancer) selectFrom(app string, backends []registry.Backend) (RoutingInfo, error) {
	chosen, ok := b.selectorFor(app).Select(backends)
	if !ok {
		return RoutingInfo{}, fmt.Errorf("route %s: %w", app, ErrNoCapacity)
	}
	return RoutingInfo{
		TargetHost:  chosen.Address,
		TargetPort:  chosen.ExternalPort,
		ContainerID: chosen.ContainerID,
		ImageID:     chosen.ImageID,
		UserID:      chosen.UserID,
		TTLSeconds:  int(b.opts.RouteTTL / time.Second),
	}, nil
}

func (b *Balancer) selectorFor(app string) Selector {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.selectors[app]
	if !ok {
		s = b.opts.NewSelector()
		b.selectors[app] = s
	}
	return s
}
