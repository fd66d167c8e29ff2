package edge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/canopyrun/canopy/internal/balancer"
)

func TestRouteClientOK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/route/demo" {
			t.Errorf("path = %s, want /v1/route/demo", r.URL.Path)
		}
		json.NewEncoder(w).Encode(balancer.RoutingInfo{
			TargetHost: "10.0.0.5", TargetPort: 30001, ContainerID: "c-1", UserID: "u-1", TTLSeconds: 1800,
		})
	}))
	defer ts.Close()

	c := NewRouteClient(ts.URL, 500*time.Millisecond)
	info, err := c.Route(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if info.TargetHost != "10.0.0.5" || info.ContainerID != "c-1" || info.TTLSeconds != 1800 {
		t.Errorf("info = %+v, want decoded routing info", info)
	}
}

func TestRouteClientMapsErrorKinds(t *testing.T) {
	tests := []struct {
		status int
		kind   string
		want   error
	}{
		{http.StatusNotFound, "not-found", balancer.ErrNotFound},
		{http.StatusServiceUnavailable, "no-capacity", balancer.ErrNoCapacity},
		{http.StatusServiceUnavailable, "circuit-open", balancer.ErrCircuitOpen},
		{http.StatusGatewayTimeout, "timeout", balancer.ErrTimeout},
		{http.StatusInternalServerError, "something-new", balancer.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]string{"error": tt.kind, "message": "nope"})
			}))
			defer ts.Close()

			c := NewRouteClient(ts.URL, 500*time.Millisecond)
			if _, err := c.Route(context.Background(), "demo"); !errors.Is(err, tt.want) {
				t.Errorf("Route = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRouteClientTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer ts.Close()

	c := NewRouteClient(ts.URL, 20*time.Millisecond)
	if _, err := c.Route(context.Background(), "demo"); !errors.Is(err, balancer.ErrTimeout) {
		t.Errorf("Route = %v, want ErrTimeout", err)
	}
}

func TestRouteClientTransportErrorIsUnavailable(t *testing.T) {
	c := NewRouteClient("http://127.0.0.1:1", 500*time.Millisecond)
	if _, err := c.Route(context.Background(), "demo"); !errors.Is(err, balancer.ErrUnavailable) {
		t.Errorf("Route = %v, want ErrUnavailable", err)
	}
}
