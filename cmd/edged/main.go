package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/canopyrun/canopy/internal/clock"
	"github.com/canopyrun/canopy/internal/config"
	"github.com/canopyrun/canopy/internal/edge"
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

	fmt.Println("Canopy edged " + version)
	fmt.Println("=============================================")
	fmt.Printf("EDGE_LISTEN_ADDR=%s\n", cfg.EdgeListenAddr)
	fmt.Printf("LB_URL=%s\n", cfg.LBURL)
	fmt.Printf("ORCHESTRATOR_URL=%s\n", cfg.OrchestratorURL)
	fmt.Printf("LB_TIMEOUT_MS=%s\n", cfg.LBTimeout)
	fmt.Printf("BACKEND_TIMEOUT_MS=%s\n", cfg.BackendTimeout)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	clk := clock.Real{}
	routes := edge.NewRouteCache(clk)
	lb := edge.NewRouteClient(cfg.LBURL, cfg.LBTimeout)
	collector := edge.NewCollector()
	proxy := edge.NewProxy(routes, lb, collector, clk, cfg.BackendTimeout, log)

	srv, err := edge.NewServer(proxy, collector, cfg.OrchestratorURL, log.Component("edge-api"))
	if err != nil {
		log.Error("failed to create edge server", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/", srv.Handler())
	mux.Handle("GET /metrics", promhttp.Handler())

	httpSrv := &http.Server{Addr: cfg.EdgeListenAddr, Handler: mux}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("edge server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("edged started", "version", version, "addr", cfg.EdgeListenAddr)

	<-ctx.Done()
	_ = httpSrv.Shutdown(context.Background())
	log.Info("edged shutdown complete")
}
