package registry

import (
	"context"
	"net"
	"time"
)

// probeFailureThreshold is how many consecutive failed dials flip a backend
// to critical.
const probeFailureThreshold = 3

// dialFunc is swapped out by tests to avoid real sockets.
type dialFunc func(addr string, timeout time.Duration) error

func tcpDial(addr string, timeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return err
	}
	return conn.Close()
}

// dial is package-level so tests can stub connectivity.
var dial dialFunc = tcpDial

// startProbe launches (or replaces) the probe worker for a backend.
func (r *Registry) startProbe(containerID string, check Check) {
	ctx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	if old := r.probes[containerID]; old != nil {
		old()
	}
	r.probes[containerID] = cancel
	r.mu.Unlock()

	go r.probeLoop(ctx, containerID, check)
}

// probeLoop dials the backend's published port on every tick. Three
// consecutive failures mark the backend critical; a backend critical for the
// configured window is deregistered automatically.
func (r *Registry) probeLoop(ctx context.Context, containerID string, check Check) {
	ticker := time.NewTicker(check.Interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := dial(check.TCP, check.Timeout); err != nil {
			failures++
			if failures == probeFailureThreshold {
				r.log.Warn("backend probe critical",
					"container_id", containerID, "target", check.TCP, "error", err)
				r.SetHealth(containerID, HealthCritical)
			}
		} else {
			failures = 0
			r.SetHealth(containerID, HealthPassing)
		}

		if check.DeregisterCriticalAfter > 0 && r.criticalFor(containerID) >= check.DeregisterCriticalAfter {
			r.log.Warn("deregistering backend critical past window",
				"container_id", containerID, "window", check.DeregisterCriticalAfter)
			hostname := r.hostnameOf(containerID)
			r.Deregister(containerID)
			if r.alerts != nil {
				r.alerts.BackendDeregistered(containerID, hostname, "critical past deregister window")
			}
			return
		}
	}
}

// criticalFor returns how long the backend has been critical, or zero.
func (r *Registry) criticalFor(containerID string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.backends[containerID]
	if !ok || b.criticalSince.IsZero() {
		return 0
	}
	return r.clock.Since(b.criticalSince)
}

func (r *Registry) hostnameOf(containerID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.backends[containerID]; ok {
		return b.AppHostname
	}
	return ""
}
