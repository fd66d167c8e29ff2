package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	consul "github.com/hashicorp/consul/api"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/canopyrun/canopy/internal/alerts"
	"github.com/canopyrun/canopy/internal/clock"
	"github.com/canopyrun/canopy/internal/config"
	"github.com/canopyrun/canopy/internal/ingest"
	"github.com/canopyrun/canopy/internal/logging"
	"github.com/canopyrun/canopy/internal/registry"
	"github.com/canopyrun/canopy/internal/stream"
)

var version = "dev"

// probeTimeout bounds each TCP health dial.
const probeTimeout = 2 * time.Second

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogJSON)

	fmt.Println("Canopy registryd " + version)
	fmt.Println("=============================================")
	fmt.Printf("REGISTRY_LISTEN_ADDR=%s\n", cfg.RegistryListenAddr)
	fmt.Printf("REGISTRY_URL=%s\n", cfg.RegistryURL)
	fmt.Printf("KAFKA_BOOTSTRAP_SERVERS=%v\n", cfg.KafkaBrokers)
	fmt.Printf("KAFKA_TOPIC=%s\n", cfg.KafkaTopic)
	fmt.Printf("HEALTH_CHECK_INTERVAL_S=%s\n", cfg.HealthCheckInterval)
	fmt.Printf("DEREGISTER_CRITICAL_AFTER_S=%s\n", cfg.DeregisterCriticalAfter)
	fmt.Printf("CONTAINER_HOST_ADDR=%s\n", cfg.ContainerHostAddr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	clk := clock.Real{}
	sink := buildAlertSink(cfg, log, clk)

	reg := registry.New(clk, log.Component("registry"))
	reg.SetAlerter(sink)
	defer reg.Stop()

	srv := registry.NewServer(reg, log.Component("registry-api"), cfg.WatchWait)
	mux := http.NewServeMux()
	mux.Handle("/", srv.Handler())
	mux.Handle("GET /metrics", promhttp.Handler())

	httpSrv := &http.Server{Addr: cfg.RegistryListenAddr, Handler: mux}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("registry server error", "error", err)
			os.Exit(1)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = httpSrv.Shutdown(context.Background())
	}()

	// The ingestor feeds the registry through its own consul-wire surface,
	// same as any external client would.
	client, err := consul.NewClient(&consul.Config{Address: cfg.RegistryURL})
	if err != nil {
		log.Error("failed to create registry client", "error", err)
		os.Exit(1)
	}

	ingestor := ingest.New(client.Agent(), ingest.Options{
		ContainerHostAddr:       cfg.ContainerHostAddr,
		ProbeInterval:           cfg.HealthCheckInterval,
		ProbeTimeout:            probeTimeout,
		DeregisterCriticalAfter: cfg.DeregisterCriticalAfter,
	}, log.Component("ingest"))

	consumer := stream.NewConsumer(
		stream.ReaderConfig(cfg.KafkaBrokers, cfg.KafkaGroup+"-registry", cfg.KafkaTopic),
		ingestor.Handlers(), log.Component("stream"))
	consumer.SetPoisonReporter(sink)

	log.Info("registryd started", "version", version, "addr", cfg.RegistryListenAddr)

	if err := consumer.Run(ctx); err != nil {
		log.Error("registryd exited with error", "error", err)
		os.Exit(2)
	}

	log.Info("registryd shutdown complete")
}

// buildAlertSink assembles the notifier chain from configuration. The log
// notifier is always present.
func buildAlertSink(cfg *config.Config, log *logging.Logger, clk clock.Clock) *alerts.Sink {
	notifiers := []alerts.Notifier{alerts.NewLogNotifier(log)}
	if cfg.AlertWebhookURL != "" {
		notifiers = append(notifiers, alerts.NewWebhook(cfg.AlertWebhookURL, nil))
		log.Info("webhook alerts enabled", "url", cfg.AlertWebhookURL)
	}
	if cfg.AlertMQTTBroker != "" {
		notifiers = append(notifiers, alerts.NewMQTT(cfg.AlertMQTTBroker, cfg.AlertMQTTTopic, "canopy-registryd", "", "", 0))
		log.Info("mqtt alerts enabled", "broker", cfg.AlertMQTTBroker, "topic", cfg.AlertMQTTTopic)
	}
	return alerts.NewSink(alerts.NewMulti(log, notifiers...), clk)
}
