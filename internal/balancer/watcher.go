package balancer

import (
	"context"
	"sync"
	"time"

	"github.com/canopyrun/canopy/internal/logging"
	"github.com/canopyrun/canopy/internal/registry"
)

// watchDiscoverer is the blocking-query side of discovery.
type watchDiscoverer interface {
	Watch(ctx context.Context, appHostname string, index uint64, wait time.Duration) ([]registry.Backend, uint64, error)
}

// Watcher runs one long-poll loop per watched hostname on a background
// goroutine, feeding every snapshot into the fallback cache. It never sits
// on a request path: Route only reads the cache the watcher maintains.
type Watcher struct {
	disc     watchDiscoverer
	fallback *FallbackCache
	wait     time.Duration
	log      *logging.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWatcher creates a stopped Watcher. wait is the long-poll bound passed
// to the registry (default 60 s at the config layer).
func NewWatcher(disc watchDiscoverer, fallback *FallbackCache, wait time.Duration, log *logging.Logger) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		disc:     disc,
		fallback: fallback,
		wait:     wait,
		log:      log,
		cancels:  make(map[string]context.CancelFunc),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Ensure starts a watch loop for the hostname if one is not already running.
// Called lazily on first route of each hostname.
func (w *Watcher) Ensure(appHostname string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.cancels[appHostname]; ok {
		return
	}
	if w.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithCancel(w.ctx)
	w.cancels[appHostname] = cancel
	w.wg.Add(1)
	go w.loop(ctx, appHostname)
}

// Stop cancels all watch loops and waits for them to exit.
func (w *Watcher) Stop() {
	w.cancel()
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context, appHostname string) {
	defer w.wg.Done()
	w.log.Info("watching backend set", "app_hostname", appHostname)

	var index uint64
	for {
		if ctx.Err() != nil {
			return
		}
		backends, newIndex, err := w.disc.Watch(ctx, appHostname, index, w.wait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Warn("watch failed, backing off", "app_hostname", appHostname, "error", err)
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		// A wait expiry returns the same index; only advances are snapshots
		// worth storing, but storing an unchanged list is harmless.
		index = newIndex
		w.fallback.Store(appHostname, backends)
	}
}
