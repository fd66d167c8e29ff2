// Package metrics holds the operational Prometheus instruments for all
// Canopy services. Each binary serves them at /metrics; unused instruments
// in a given binary simply stay at zero.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Edge router
	ProxyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canopy_edge_requests_total",
		Help: "Total proxied app requests by upstream status code.",
	}, []string{"status"})
	ProxyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "canopy_edge_request_duration_seconds",
		Help:    "End-to-end duration of proxied app requests.",
		Buckets: prometheus.DefBuckets,
	})
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canopy_edge_cache_hits_total",
		Help: "Routing cache hits.",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canopy_edge_cache_misses_total",
		Help: "Routing cache misses (including expired entries).",
	})
	CacheInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canopy_edge_cache_invalidations_total",
		Help: "Routing cache entries evicted after backend failures.",
	})
	LBErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canopy_edge_lb_errors_total",
		Help: "Load balancer lookup failures by error kind.",
	}, []string{"kind"})

	// Load balancer
	RouteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canopy_lb_route_total",
		Help: "Route resolutions by outcome (ok or error kind).",
	}, []string{"outcome"})
	FallbackRoutes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canopy_lb_fallback_routes_total",
		Help: "Routes served from the stale-snapshot fallback cache.",
	})

	// Service registry
	BackendsRegistered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canopy_registry_registered_total",
		Help: "Backend registrations processed.",
	})
	BackendsDeregistered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canopy_registry_deregistered_total",
		Help: "Backend deregistrations processed.",
	})
	ProbeCritical = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canopy_registry_probe_critical_total",
		Help: "Probe transitions to critical.",
	})

	// Billing ledger
	IntervalsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canopy_billing_intervals_opened_total",
		Help: "Usage intervals opened.",
	})
	IntervalsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canopy_billing_intervals_closed_total",
		Help: "Usage intervals closed.",
	})
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canopy_billing_events_dropped_total",
		Help: "Billing events dropped by reason.",
	}, []string{"reason"})

	// Event stream
	PoisonMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canopy_stream_poison_messages_total",
		Help: "Unparseable messages skipped per topic.",
	}, []string{"topic"})
)
