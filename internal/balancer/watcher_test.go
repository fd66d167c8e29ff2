package balancer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/canopyrun/canopy/internal/clock"
	"github.com/canopyrun/canopy/internal/logging"
	"github.com/canopyrun/canopy/internal/registry"
)

// scriptedWatch returns one snapshot per call with an advancing index, then
// blocks until the context is cancelled.
type scriptedWatch struct {
	mu    sync.Mutex
	snaps [][]registry.Backend
	calls int
}

func (s *scriptedWatch) Watch(ctx context.Context, _ string, index uint64, _ time.Duration) ([]registry.Backend, uint64, error) {
	s.mu.Lock()
	if s.calls < len(s.snaps) {
		snap := s.snaps[s.calls]
		s.calls++
		s.mu.Unlock()
		return snap, index + 1, nil
	}
	s.mu.Unlock()
	<-ctx.Done()
	return nil, index, ctx.Err()
}

func TestWatcherFeedsFallbackCache(t *testing.T) {
	clk := clock.NewFake(time.Now())
	fallback := NewFallbackCache(clk)
	disc := &scriptedWatch{snaps: [][]registry.Backend{
		{{ContainerID: "c-1"}},
		{{ContainerID: "c-1"}, {ContainerID: "c-2"}},
	}}

	w := NewWatcher(disc, fallback, time.Minute, logging.New(false))
	defer w.Stop()

	w.Ensure("demo")
	w.Ensure("demo") // second Ensure is a no-op

	deadline := time.After(2 * time.Second)
	for {
		if snap, ok := fallback.Fresh("demo", time.Minute); ok && len(snap) == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("watcher never stored the second snapshot")
		case <-time.After(5 * time.Millisecond):
		}
	}

	disc.mu.Lock()
	calls := disc.calls
	disc.mu.Unlock()
	if calls != 2 {
		t.Errorf("watch calls = %d, want 2 (one loop, not one per Ensure)", calls)
	}
}

func TestWatcherStopCancelsLoops(t *testing.T) {
	clk := clock.NewFake(time.Now())
	disc := &scriptedWatch{} // blocks immediately
	w := NewWatcher(disc, NewFallbackCache(clk), time.Minute, logging.New(false))

	w.Ensure("demo")
	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not cancel the blocked watch loop")
	}
}
