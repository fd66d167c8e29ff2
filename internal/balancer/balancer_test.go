package balancer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/canopyrun/canopy/internal/clock"
	"github.com/canopyrun/canopy/internal/logging"
	"github.com/canopyrun/canopy/internal/registry"
)

type fakeDisc struct {
	mu       sync.Mutex
	backends []registry.Backend
	err      error
	calls    int
}

func (f *fakeDisc) Snapshot(context.Context, string) ([]registry.Backend, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.backends, nil
}

func (f *fakeDisc) set(backends []registry.Backend, err error) {
	f.mu.Lock()
	f.backends, f.err = backends, err
	f.mu.Unlock()
}

func (f *fakeDisc) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testBalancer(t *testing.T, disc Discoverer) (*Balancer, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	log := logging.New(false)
	b := New(disc,
		NewBreaker("registry", 3, 15*time.Second, log),
		NewFallbackCache(clk),
		Options{RouteTTL: 30 * time.Minute, FallbackTTL: 5 * time.Minute},
		log)
	return b, clk
}

func demo(id string) registry.Backend {
	return registry.Backend{
		ContainerID:  id,
		Address:      "10.0.0.5",
		InternalPort: 8080,
		ExternalPort: 30001,
		ImageID:      "img-1",
		UserID:       "u-1",
		AppHostname:  "demo",
		Health:       registry.HealthPassing,
	}
}

func TestRouteReturnsRoutingInfo(t *testing.T) {
	disc := &fakeDisc{backends: []registry.Backend{demo("c-1")}}
	b, _ := testBalancer(t, disc)

	info, err := b.Route(context.Background(), "Demo")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if info.TargetHost != "10.0.0.5" || info.TargetPort != 30001 {
		t.Errorf("target = %s:%d, want 10.0.0.5:30001 (external port)", info.TargetHost, info.TargetPort)
	}
	if info.ContainerID != "c-1" || info.ImageID != "img-1" || info.UserID != "u-1" {
		t.Errorf("labels = %+v, want container/image/user carried through", info)
	}
	if info.TTLSeconds != 1800 {
		t.Errorf("TTLSeconds = %d, want 1800", info.TTLSeconds)
	}
}

func TestRouteRejectsEmptyHostname(t *testing.T) {
	b, _ := testBalancer(t, &fakeDisc{})
	if _, err := b.Route(context.Background(), "  "); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Route(empty) = %v, want ErrInvalidInput", err)
	}
}

func TestRouteDistinguishesNotFoundFromNoCapacity(t *testing.T) {
	disc := &fakeDisc{}
	b, _ := testBalancer(t, disc)

	// Never-seen hostname with an empty backend set: not-found.
	if _, err := b.Route(context.Background(), "demo"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Route over unknown hostname = %v, want ErrNotFound", err)
	}

	// The hostname becomes known, then drains: no-capacity.
	disc.set([]registry.Backend{demo("c-1")}, nil)
	if _, err := b.Route(context.Background(), "demo"); err != nil {
		t.Fatalf("Route: %v", err)
	}
	disc.set(nil, nil)
	if _, err := b.Route(context.Background(), "demo"); !errors.Is(err, ErrNoCapacity) {
		t.Errorf("Route over drained hostname = %v, want ErrNoCapacity", err)
	}
}

func TestRouteRoundRobinsAcrossBackends(t *testing.T) {
	disc := &fakeDisc{backends: []registry.Backend{demo("c-1"), demo("c-2")}}
	b, _ := testBalancer(t, disc)

	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		info, err := b.Route(context.Background(), "demo")
		if err != nil {
			t.Fatalf("Route: %v", err)
		}
		seen[info.ContainerID]++
	}
	if seen["c-1"] != 2 || seen["c-2"] != 2 {
		t.Errorf("selection counts = %v, want 2 each", seen)
	}
}

func TestRouteServesFromFreshFallbackOnDiscoveryFailure(t *testing.T) {
	disc := &fakeDisc{backends: []registry.Backend{demo("c-1")}}
	b, _ := testBalancer(t, disc)

	// Prime the fallback with a good snapshot, then break discovery.
	if _, err := b.Route(context.Background(), "demo"); err != nil {
		t.Fatalf("Route: %v", err)
	}
	disc.set(nil, errors.New("registry down"))

	info, err := b.Route(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Route during outage = %v, want fallback-served route", err)
	}
	if info.ContainerID != "c-1" {
		t.Errorf("fallback route container = %s, want c-1", info.ContainerID)
	}
}

func TestRouteUnavailableWhenFallbackStale(t *testing.T) {
	disc := &fakeDisc{backends: []registry.Backend{demo("c-1")}}
	b, clk := testBalancer(t, disc)

	if _, err := b.Route(context.Background(), "demo"); err != nil {
		t.Fatalf("Route: %v", err)
	}
	disc.set(nil, errors.New("registry down"))
	clk.Advance(5 * time.Minute) // exactly the TTL: snapshot no longer fresh

	if _, err := b.Route(context.Background(), "demo"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Route with stale fallback = %v, want ErrUnavailable", err)
	}
}

func TestRouteTimeoutSurfacesWithoutFallback(t *testing.T) {
	disc := &fakeDisc{err: ErrTimeout}
	b, _ := testBalancer(t, disc)

	if _, err := b.Route(context.Background(), "demo"); !errors.Is(err, ErrTimeout) {
		t.Errorf("Route = %v, want ErrTimeout", err)
	}
}

func TestRouteFailsFastWhenCircuitOpen(t *testing.T) {
	disc := &fakeDisc{err: errors.New("registry down")}
	b, _ := testBalancer(t, disc)

	// Three consecutive failures trip the breaker.
	for i := 0; i < 3; i++ {
		b.Route(context.Background(), "demo")
	}
	calls := disc.callCount()
	if calls != 3 {
		t.Fatalf("discovery calls = %d, want 3", calls)
	}

	// Fourth call fails fast: no discovery invocation, circuit-open error.
	_, err := b.Route(context.Background(), "demo")
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Route with open circuit = %v, want ErrCircuitOpen", err)
	}
	if disc.callCount() != calls {
		t.Error("open circuit still invoked discovery")
	}
}

func TestRouteCircuitOpenStillServesFreshFallback(t *testing.T) {
	disc := &fakeDisc{backends: []registry.Backend{demo("c-1")}}
	b, _ := testBalancer(t, disc)

	if _, err := b.Route(context.Background(), "demo"); err != nil {
		t.Fatalf("Route: %v", err)
	}
	disc.set(nil, errors.New("registry down"))
	for i := 0; i < 3; i++ {
		b.Route(context.Background(), "other") // trip the breaker on a cold hostname
	}

	info, err := b.Route(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Route with open circuit and fresh fallback = %v, want served", err)
	}
	if info.ContainerID != "c-1" {
		t.Errorf("container = %s, want c-1 from fallback", info.ContainerID)
	}
}
