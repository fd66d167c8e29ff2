package balancer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	consul "github.com/hashicorp/consul/api"

	"github.com/canopyrun/canopy/internal/registry"
)

// healthAPI is the slice of the consul health client used for discovery,
// extracted for tests.
type healthAPI interface {
	Service(service, tag string, passingOnly bool, q *consul.QueryOptions) ([]*consul.ServiceEntry, *consul.QueryMeta, error)
}

// Discovery queries the service registry for healthy backends over the
// consul wire protocol.
type Discovery struct {
	health  healthAPI
	timeout time.Duration
}

// NewDiscovery wraps a consul health client. timeout bounds every snapshot
// query; blocking watch calls manage their own deadlines.
func NewDiscovery(health *consul.Health, timeout time.Duration) *Discovery {
	return &Discovery{health: health, timeout: timeout}
}

// Snapshot returns the currently passing backends for the hostname.
func (d *Discovery) Snapshot(ctx context.Context, appHostname string) ([]registry.Backend, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	opts := (&consul.QueryOptions{}).WithContext(ctx)
	entries, _, err := d.health.Service(appHostname, "", true, opts)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("discovery snapshot %s: %w", appHostname, ErrTimeout)
		}
		return nil, fmt.Errorf("discovery snapshot %s: %w", appHostname, err)
	}
	return entriesToBackends(entries), nil
}

// Watch issues one blocking query: it returns when the registry version
// exceeds index or wait expires, whichever comes first.
func (d *Discovery) Watch(ctx context.Context, appHostname string, index uint64, wait time.Duration) ([]registry.Backend, uint64, error) {
	opts := (&consul.QueryOptions{WaitIndex: index, WaitTime: wait}).WithContext(ctx)
	entries, meta, err := d.health.Service(appHostname, "", true, opts)
	if err != nil {
		return nil, index, fmt.Errorf("discovery watch %s: %w", appHostname, err)
	}
	return entriesToBackends(entries), meta.LastIndex, nil
}

func entriesToBackends(entries []*consul.ServiceEntry) []registry.Backend {
	backends := make([]registry.Backend, 0, len(entries))
	for _, e := range entries {
		if e.Service == nil {
			continue
		}
		b := registry.Backend{
			ContainerID:  e.Service.ID,
			Address:      e.Service.Address,
			InternalPort: e.Service.Port,
			AppHostname:  e.Service.Service,
			Health:       registry.HealthPassing,
		}
		registry.DecodeTags(e.Service.Tags, &b)
		backends = append(backends, b)
	}
	return backends
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
