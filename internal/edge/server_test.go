package edge

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/canopyrun/canopy/internal/clock"
	"github.com/canopyrun/canopy/internal/logging"
)

func TestServerAPIPassthrough(t *testing.T) {
	var mu sync.Mutex
	var gotPath string
	orchestrator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPath = r.URL.Path
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer orchestrator.Close()

	clk := clock.NewFake(time.Now())
	proxy := NewProxy(NewRouteCache(clk), &fakeRouter{}, NewCollector(), clk, time.Second, logging.New(false))
	srv, err := NewServer(proxy, NewCollector(), orchestrator.URL, logging.New(false))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp := get(t, ts.URL+"/api/v1/containers")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want the orchestrator's 202", resp.StatusCode)
	}
	mu.Lock()
	defer mu.Unlock()
	if gotPath != "/api/v1/containers" {
		t.Errorf("orchestrator saw %s, want /api/v1/containers unchanged", gotPath)
	}
}

func TestServerMetricsViews(t *testing.T) {
	f := newEdge(t, &fakeRouter{})
	f.collector.Record(Sample{UserID: "u-1", AppHostname: "demo", ContainerID: "c-1", StatusCode: 200, LatencyMS: 7})

	resp := get(t, f.edge.URL+"/internal/metrics")
	var global DimStats
	if err := json.NewDecoder(resp.Body).Decode(&global); err != nil {
		t.Fatalf("decode global: %v", err)
	}
	if global.Requests != 1 {
		t.Errorf("global requests = %d, want 1", global.Requests)
	}

	resp = get(t, f.edge.URL+"/internal/metrics?user=u-1")
	var view UserView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode user view: %v", err)
	}
	if view.User.Requests != 1 || len(view.Hostnames) != 1 {
		t.Errorf("user view = %+v, want one request and the owned hostname", view)
	}

	if resp := get(t, f.edge.URL+"/internal/metrics?user=nobody"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown user status = %d, want 404", resp.StatusCode)
	}
}

func TestServerMetricsReset(t *testing.T) {
	f := newEdge(t, &fakeRouter{})
	f.collector.Record(Sample{AppHostname: "demo", StatusCode: 200})

	resp, err := http.Post(f.edge.URL+"/internal/metrics/reset", "", nil)
	if err != nil {
		t.Fatalf("POST reset: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("reset status = %d, want 204", resp.StatusCode)
	}
	if g := f.collector.Global(); g.Requests != 0 {
		t.Errorf("global after reset = %+v, want zeroed", g)
	}
}
