package edge

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/canopyrun/canopy/internal/balancer"
	"github.com/canopyrun/canopy/internal/clock"
	"github.com/canopyrun/canopy/internal/hostname"
	"github.com/canopyrun/canopy/internal/logging"
	"github.com/canopyrun/canopy/internal/metrics"
)

// Router resolves an app hostname to a backend instance. Implemented by
// RouteClient against the balancer service.
type Router interface {
	Route(ctx context.Context, appHostname string) (balancer.RoutingInfo, error)
}

// Proxy serves /apps/{app_hostname}/... by resolving the hostname through
// the load balancer and forwarding the request to the chosen backend.
// Resolved routes are cached per (hostname, client IP); concurrent cold
// requests for the same key collapse to a single balancer call.
type Proxy struct {
	routes    *RouteCache
	lb        Router
	collector *Collector
	clk       clock.Clock
	backend   *http.Client
	timeout   time.Duration
	group     singleflight.Group
	log       *logging.Logger
}

// NewProxy creates the apps proxy. backendTimeout bounds each forwarded
// request end to end.
func NewProxy(routes *RouteCache, lb Router, collector *Collector, clk clock.Clock, backendTimeout time.Duration, log *logging.Logger) *Proxy {
	return &Proxy{
		routes:    routes,
		lb:        lb,
		collector: collector,
		clk:       clk,
		backend:   &http.Client{},
		timeout:   backendTimeout,
		log:       log.Component("proxy"),
	}
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := p.clk.Now()

	app, err := hostname.Normalize(r.PathValue("app_hostname"))
	if err != nil {
		http.Error(w, "invalid app hostname", http.StatusBadRequest)
		return
	}
	clientIP := ClientIP(r)

	info, err := p.resolve(r.Context(), app, clientIP)
	if err != nil {
		status, body := routeFailure(err)
		kind := balancer.Kind(err)
		metrics.LBErrors.WithLabelValues(kind).Inc()
		metrics.ProxyRequests.WithLabelValues(strconv.Itoa(status)).Inc()
		p.log.Warn("route lookup failed", "app_hostname", app, "kind", kind, "error", err)
		http.Error(w, body, status)
		return
	}

	status := p.forward(w, r, app, clientIP, info)

	latency := p.clk.Since(start).Milliseconds()
	metrics.ProxyRequests.WithLabelValues(strconv.Itoa(status)).Inc()
	metrics.ProxyDuration.Observe(float64(latency) / 1000)
	p.collector.Record(Sample{
		UserID:      userFor(r, info),
		AppHostname: app,
		ContainerID: info.ContainerID,
		StatusCode:  status,
		LatencyMS:   latency,
	})
}

// resolve returns the cached route for (app, clientIP) or asks the balancer.
func (p *Proxy) resolve(ctx context.Context, app, clientIP string) (balancer.RoutingInfo, error) {
	if info, ok := p.routes.Get(app, clientIP); ok {
		metrics.CacheHits.Inc()
		return info, nil
	}
	metrics.CacheMisses.Inc()

	v, err, _ := p.group.Do(app+"\x00"+clientIP, func() (any, error) {
		// A collapsed waiter may find the entry the leader just stored.
		if info, ok := p.routes.Get(app, clientIP); ok {
			return info, nil
		}
		info, err := p.lb.Route(ctx, app)
		if err != nil {
			return nil, err
		}
		p.routes.Put(app, clientIP, info, time.Duration(info.TTLSeconds)*time.Second)
		return info, nil
	})
	if err != nil {
		return balancer.RoutingInfo{}, err
	}
	return v.(balancer.RoutingInfo), nil
}

func (p *Proxy) forward(w http.ResponseWriter, r *http.Request, app, clientIP string, info balancer.RoutingInfo) int {
	ctx, cancel := context.WithTimeout(r.Context(), p.timeout)
	defer cancel()

	target := "http://" + net.JoinHostPort(info.TargetHost, strconv.Itoa(info.TargetPort)) + "/" + r.PathValue("tail")
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	out, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return http.StatusBadGateway
	}
	out.Header = outboundHeaders(r)

	resp, err := p.backend.Do(out)
	if err != nil {
		// Transport failure: evict so the next request re-resolves.
		p.routes.Evict(app, clientIP)
		metrics.CacheInvalidations.Inc()
		p.log.Warn("backend request failed",
			"app_hostname", app, "container_id", info.ContainerID, "error", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return http.StatusBadGateway
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		// Server errors pass through but the route is no longer trusted.
		p.routes.Evict(app, clientIP)
		metrics.CacheInvalidations.Inc()
	}

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		p.log.Debug("response copy interrupted", "app_hostname", app, "error", err)
	}
	return resp.StatusCode
}

// routeFailure maps a routing error onto the client-facing status and body.
func routeFailure(err error) (int, string) {
	switch {
	case errors.Is(err, balancer.ErrNotFound),
		errors.Is(err, balancer.ErrNoCapacity),
		errors.Is(err, balancer.ErrUnavailable):
		return http.StatusServiceUnavailable, "no instances available"
	case errors.Is(err, balancer.ErrTimeout), errors.Is(err, balancer.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "routing temporarily unavailable"
	case errors.Is(err, balancer.ErrInvalidInput):
		return http.StatusBadRequest, "invalid app hostname"
	}
	return http.StatusBadGateway, "bad gateway"
}

// outboundHeaders builds the forwarded header set: original headers minus
// Host, Content-Length, and hop-by-hop entries, plus correlation id and the
// peer appended to X-Forwarded-For.
func outboundHeaders(r *http.Request) http.Header {
	h := make(http.Header, len(r.Header))
	copyHeaders(h, r.Header)
	h.Del("Host")
	h.Del("Content-Length")

	if h.Get("X-Correlation-ID") == "" {
		h.Set("X-Correlation-ID", uuid.NewString())
	}

	peer := peerAddr(r)
	if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
		h.Set("X-Forwarded-For", prior+", "+peer)
	} else {
		h.Set("X-Forwarded-For", peer)
	}
	return h
}

func userFor(r *http.Request, info balancer.RoutingInfo) string {
	if u := r.Header.Get("X-User-ID"); u != "" {
		return u
	}
	return info.UserID
}

var hopByHop = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// copyHeaders copies src into dst, dropping hop-by-hop headers and anything
// named in the Connection header.
func copyHeaders(dst, src http.Header) {
	dropped := map[string]bool{}
	for _, v := range src.Values("Connection") {
		for _, f := range strings.Split(v, ",") {
			if f = strings.TrimSpace(f); f != "" {
				dropped[http.CanonicalHeaderKey(f)] = true
			}
		}
	}
	for name, values := range src {
		if hopByHop[name] || dropped[name] {
			continue
		}
		dst[name] = append(dst[name], values...)
	}
}
