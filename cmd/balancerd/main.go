package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	consul "github.com/hashicorp/consul/api"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/canopyrun/canopy/internal/alerts"
	"github.com/canopyrun/canopy/internal/balancer"
	"github.com/canopyrun/canopy/internal/clock"
	"github.com/canopyrun/canopy/internal/config"
	"github.com/canopyrun/canopy/internal/logging"
)

var version = "dev"

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogJSON)

	fmt.Println("Canopy balancerd " + version)
	fmt.Println("=============================================")
	fmt.Printf("LB_LISTEN_ADDR=%s\n", cfg.LBListenAddr)
	fmt.Printf("REGISTRY_URL=%s\n", cfg.RegistryURL)
	fmt.Printf("LB_TIMEOUT_MS=%s\n", cfg.LBTimeout)
	fmt.Printf("CIRCUIT_FAILURE_THRESHOLD=%d\n", cfg.CircuitFailureThreshold)
	fmt.Printf("CIRCUIT_RESET_TIMEOUT_S=%s\n", cfg.CircuitResetTimeout)
	fmt.Printf("CACHE_DEFAULT_TTL_S=%s\n", cfg.CacheDefaultTTL)
	fmt.Printf("FALLBACK_TTL_S=%s\n", cfg.FallbackTTL)
	fmt.Printf("WATCH_WAIT_S=%s\n", cfg.WatchWait)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	clk := clock.Real{}

	client, err := consul.NewClient(&consul.Config{Address: cfg.RegistryURL})
	if err != nil {
		log.Error("failed to create registry client", "error", err)
		os.Exit(1)
	}

	// Alert chain.
	notifiers := []alerts.Notifier{alerts.NewLogNotifier(log)}
	if cfg.AlertWebhookURL != "" {
		notifiers = append(notifiers, alerts.NewWebhook(cfg.AlertWebhookURL, nil))
		log.Info("webhook alerts enabled", "url", cfg.AlertWebhookURL)
	}
	if cfg.AlertMQTTBroker != "" {
		notifiers = append(notifiers, alerts.NewMQTT(cfg.AlertMQTTBroker, cfg.AlertMQTTTopic, "canopy-balancerd", "", "", 0))
		log.Info("mqtt alerts enabled", "broker", cfg.AlertMQTTBroker, "topic", cfg.AlertMQTTTopic)
	}
	sink := alerts.NewSink(alerts.NewMulti(log, notifiers...), clk)

	disc := balancer.NewDiscovery(client.Health(), cfg.LBTimeout)
	breaker := balancer.NewBreaker("registry", cfg.CircuitFailureThreshold, cfg.CircuitResetTimeout, log.Component("breaker"))
	breaker.SetAlerter(sink)

	fallback := balancer.NewFallbackCache(clk)
	watcher := balancer.NewWatcher(disc, fallback, cfg.WatchWait, log.Component("watcher"))
	defer watcher.Stop()

	bal := balancer.New(disc, breaker, fallback, balancer.Options{
		RouteTTL:    cfg.CacheDefaultTTL,
		FallbackTTL: cfg.FallbackTTL,
	}, log.Component("balancer"))

	srv := balancer.NewServer(bal, watcher, log.Component("lb-api"))
	mux := http.NewServeMux()
	mux.Handle("/", srv.Handler())
	mux.Handle("GET /metrics", promhttp.Handler())

	httpSrv := &http.Server{Addr: cfg.LBListenAddr, Handler: mux}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("balancer server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("balancerd started", "version", version, "addr", cfg.LBListenAddr)

	<-ctx.Done()
	_ = httpSrv.Shutdown(context.Background())
	log.Info("balancerd shutdown complete")
}
