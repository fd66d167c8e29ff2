package edge

import (
	"testing"
	"time"

	"github.com/canopyrun/canopy/internal/balancer"
	"github.com/canopyrun/canopy/internal/clock"
)

func TestRouteCachePutGet(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	c := NewRouteCache(clk)

	info := balancer.RoutingInfo{TargetHost: "10.0.0.5", TargetPort: 30001, ContainerID: "c-1"}
	c.Put("demo", "1.2.3.4", info, 30*time.Minute)

	got, ok := c.Get("demo", "1.2.3.4")
	if !ok || got.ContainerID != "c-1" {
		t.Fatalf("Get = %+v/%v, want the stored route", got, ok)
	}
	if _, ok := c.Get("demo", "5.6.7.8"); ok {
		t.Error("Get returned an entry for a different client ip")
	}
}

func TestRouteCacheEntryAtExpiryIsAbsent(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	c := NewRouteCache(clk)
	c.Put("demo", "1.2.3.4", balancer.RoutingInfo{ContainerID: "c-1"}, time.Minute)

	clk.Advance(time.Minute) // now == expiry: expired, not "one more read"
	if _, ok := c.Get("demo", "1.2.3.4"); ok {
		t.Error("Get returned an entry exactly at its expiry time")
	}
	if c.Len() != 0 {
		t.Error("expired entry was not removed on read")
	}
}

func TestRouteCacheEvict(t *testing.T) {
	clk := clock.NewFake(time.Now())
	c := NewRouteCache(clk)
	c.Put("demo", "1.2.3.4", balancer.RoutingInfo{ContainerID: "c-1"}, time.Minute)

	c.Evict("demo", "1.2.3.4")
	if _, ok := c.Get("demo", "1.2.3.4"); ok {
		t.Error("Get returned an evicted entry")
	}
	c.Evict("demo", "1.2.3.4") // evicting twice is fine
}
