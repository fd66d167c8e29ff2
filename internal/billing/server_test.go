package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/canopyrun/canopy/internal/event"
	"github.com/canopyrun/canopy/internal/logging"
)

func usageServer(t *testing.T) (*Ledger, *httptest.Server) {
	t.Helper()
	l, _, _ := testLedger(t)
	ts := httptest.NewServer(NewServer(l, logging.New(false)).Handler())
	t.Cleanup(ts.Close)
	return l, ts
}

func TestUsageAllImages(t *testing.T) {
	l, ts := usageServer(t)
	ctx := context.Background()
	l.onOpen(ctx, evt(event.KindCreated, "c-1", at(t0)))
	l.onClose(ctx, evt(event.KindStopped, "c-1", at(t0.Add(30*time.Minute))))

	resp, err := http.Get(ts.URL + "/v1/usage/u-1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got usageResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.UserID != "u-1" || len(got.Images) != 1 {
		t.Fatalf("response = %+v, want one image row for u-1", got)
	}
	if got.Images[0].TotalCost != 0.30 || got.Images[0].TotalMinutes != 30 {
		t.Errorf("summary = %+v, want 30 minutes / 0.30", got.Images[0])
	}
}

func TestUsageByImageIncludesIntervals(t *testing.T) {
	l, ts := usageServer(t)
	ctx := context.Background()
	l.onOpen(ctx, evt(event.KindCreated, "c-1", at(t0)))
	l.onClose(ctx, evt(event.KindStopped, "c-1", at(t0.Add(10*time.Minute))))

	resp, err := http.Get(ts.URL + "/v1/usage/u-1/img-1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var got ImageSummary
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ImageID != "img-1" || len(got.Intervals) != 1 {
		t.Fatalf("summary = %+v, want img-1 with one interval", got)
	}
	if got.Intervals[0].ContainerID != "c-1" || got.Intervals[0].Status != StatusCompleted {
		t.Errorf("interval = %+v, want completed c-1", got.Intervals[0])
	}
}

func TestUsageUnknownUserIsEmpty(t *testing.T) {
	_, ts := usageServer(t)

	resp, err := http.Get(ts.URL + "/v1/usage/nobody")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 with empty images", resp.StatusCode)
	}

	var got usageResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Images) != 0 {
		t.Errorf("images = %+v, want empty", got.Images)
	}
}
