package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/canopyrun/canopy/internal/clock"
	"github.com/canopyrun/canopy/internal/logging"
	"github.com/canopyrun/canopy/internal/metrics"
)

// Alerter is notified of registry-driven removals. Wired to the alert chain
// by the service binary; a nil Alerter disables notifications.
type Alerter interface {
	BackendDeregistered(containerID, appHostname, reason string)
}

// Registry holds the backend set. One mutex guards the maps and the version
// counter; probe workers take it only for status flips, so queries never
// wait on a probe.
type Registry struct {
	mu         sync.Mutex
	backends   map[string]*Backend            // container id → backend
	byHostname map[string]map[string]*Backend // app hostname → container id → backend
	byImage    map[string]map[string]*Backend // image id → container id → backend
	version    uint64
	wake       chan struct{} // closed and replaced on every mutation
	probes     map[string]context.CancelFunc

	clock  clock.Clock
	log    *logging.Logger
	alerts Alerter
}

// New creates an empty Registry. The version counter starts at 1 so a watch
// with last_version=0 always returns the current snapshot immediately
// (warm start).
func New(clk clock.Clock, log *logging.Logger) *Registry {
	return &Registry{
		backends:   make(map[string]*Backend),
		byHostname: make(map[string]map[string]*Backend),
		byImage:    make(map[string]map[string]*Backend),
		version:    1,
		wake:       make(chan struct{}),
		probes:     make(map[string]context.CancelFunc),
		clock:      clk,
		log:        log,
	}
}

// SetAlerter attaches an optional alert sink.
func (r *Registry) SetAlerter(a Alerter) { r.alerts = a }

// Version returns the current registry version.
func (r *Registry) Version() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// Register upserts a backend keyed by container id. The backend starts (or
// resets to) passing, and the probe schedule is started or refreshed. A
// re-register of a live container is effectively a no-op apart from the
// version bump.
func (r *Registry) Register(b Backend, check Check) {
	r.mu.Lock()
	b.Health = HealthPassing
	b.criticalSince = time.Time{}

	if old, ok := r.backends[b.ContainerID]; ok {
		r.removeFromIndices(old)
	}
	stored := b
	r.backends[b.ContainerID] = &stored
	r.addToIndices(&stored)
	r.bumpLocked()
	r.mu.Unlock()

	metrics.BackendsRegistered.Inc()
	r.log.Info("backend registered",
		"container_id", b.ContainerID, "app_hostname", b.AppHostname,
		"address", b.Address, "external_port", b.ExternalPort)

	if check.Interval > 0 {
		r.startProbe(b.ContainerID, check)
	}
}

// Deregister removes a backend and cancels its probe. No-op if absent.
func (r *Registry) Deregister(containerID string) {
	r.mu.Lock()
	b, ok := r.backends[containerID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.backends, containerID)
	r.removeFromIndices(b)
	r.bumpLocked()
	cancel := r.probes[containerID]
	delete(r.probes, containerID)
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	metrics.BackendsDeregistered.Inc()
	r.log.Info("backend deregistered", "container_id", containerID, "app_hostname", b.AppHostname)
}

// SetHealth updates a backend's probe status. Critical backends keep their
// first-critical timestamp so the prober can enforce the deregister window.
func (r *Registry) SetHealth(containerID string, h Health) {
	r.mu.Lock()
	b, ok := r.backends[containerID]
	if !ok || b.Health == h {
		r.mu.Unlock()
		return
	}
	b.Health = h
	if h == HealthCritical {
		if b.criticalSince.IsZero() {
			b.criticalSince = r.clock.Now()
		}
	} else {
		b.criticalSince = time.Time{}
	}
	r.bumpLocked()
	r.mu.Unlock()

	if h == HealthCritical {
		metrics.ProbeCritical.Inc()
	}
	r.log.Info("backend health changed", "container_id", containerID, "health", string(h))
}

// QueryHealthy returns a non-blocking snapshot of passing backends for the
// hostname, sorted by container id for deterministic selector input.
func (r *Registry) QueryHealthy(appHostname string) []Backend {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(appHostname, true)
}

// QueryAll returns every backend for the hostname regardless of health.
func (r *Registry) QueryAll(appHostname string) []Backend {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(appHostname, false)
}

// QueryByImage returns every backend running the given image.
func (r *Registry) QueryByImage(imageID string) []Backend {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Backend
	for _, b := range r.byImage[imageID] {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContainerID < out[j].ContainerID })
	return out
}

// Watch blocks until the registry version exceeds lastVersion or maxWait
// elapses, then returns the current version and the healthy backends for the
// hostname. An expired wait returns the current snapshot unchanged.
func (r *Registry) Watch(ctx context.Context, appHostname string, lastVersion uint64, maxWait time.Duration) (uint64, []Backend) {
	timeout := r.clock.After(maxWait)
	for {
		r.mu.Lock()
		if r.version > lastVersion {
			v := r.version
			snap := r.snapshotLocked(appHostname, true)
			r.mu.Unlock()
			return v, snap
		}
		wake := r.wake
		r.mu.Unlock()

		select {
		case <-wake:
		case <-timeout:
			r.mu.Lock()
			v := r.version
			snap := r.snapshotLocked(appHostname, true)
			r.mu.Unlock()
			return v, snap
		case <-ctx.Done():
			r.mu.Lock()
			v := r.version
			snap := r.snapshotLocked(appHostname, true)
			r.mu.Unlock()
			return v, snap
		}
	}
}

// Stop cancels all probe workers.
func (r *Registry) Stop() {
	r.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(r.probes))
	for id, c := range r.probes {
		cancels = append(cancels, c)
		delete(r.probes, id)
	}
	r.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

// bumpLocked increments the version and wakes watchers. Callers hold r.mu.
func (r *Registry) bumpLocked() {
	r.version++
	close(r.wake)
	r.wake = make(chan struct{})
}

func (r *Registry) snapshotLocked(appHostname string, passingOnly bool) []Backend {
	var out []Backend
	for _, b := range r.byHostname[appHostname] {
		if passingOnly && b.Health != HealthPassing {
			continue
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContainerID < out[j].ContainerID })
	return out
}

func (r *Registry) addToIndices(b *Backend) {
	if r.byHostname[b.AppHostname] == nil {
		r.byHostname[b.AppHostname] = make(map[string]*Backend)
	}
	r.byHostname[b.AppHostname][b.ContainerID] = b
	if r.byImage[b.ImageID] == nil {
		r.byImage[b.ImageID] = make(map[string]*Backend)
	}
	r.byImage[b.ImageID][b.ContainerID] = b
}

func (r *Registry) removeFromIndices(b *Backend) {
	if m := r.byHostname[b.AppHostname]; m != nil {
		delete(m, b.ContainerID)
		if len(m) == 0 {
			delete(r.byHostname, b.AppHostname)
		}
	}
	if m := r.byImage[b.ImageID]; m != nil {
		delete(m, b.ContainerID)
		if len(m) == 0 {
			delete(r.byImage, b.ImageID)
		}
	}
}
