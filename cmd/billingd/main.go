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

	"github.com/canopyrun/canopy/internal/alerts"
	"github.com/canopyrun/canopy/internal/billing"
	"github.com/canopyrun/canopy/internal/clock"
	"github.com/canopyrun/canopy/internal/config"
	"github.com/canopyrun/canopy/internal/logging"
	"github.com/canopyrun/canopy/internal/stream"
)

var version = "dev"

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogJSON)

	fmt.Println("Canopy billingd " + version)
	fmt.Println("=============================================")
	fmt.Printf("BILLING_LISTEN_ADDR=%s\n", cfg.BillingListenAddr)
	fmt.Printf("BILLING_DB_PATH=%s\n", cfg.BillingDBPath)
	fmt.Printf("BILLING_RATE_PER_MINUTE=%g\n", cfg.BillingRatePerMinute)
	fmt.Printf("BILLING_RETENTION=%s\n", cfg.BillingRetention)
	fmt.Printf("BILLING_SWEEP_SCHEDULE=%s\n", cfg.BillingSweepSchedule)
	fmt.Printf("KAFKA_BOOTSTRAP_SERVERS=%v\n", cfg.KafkaBrokers)
	fmt.Printf("KAFKA_TOPIC=%s\n", cfg.KafkaTopic)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	clk := clock.Real{}

	store, err := billing.OpenStore(cfg.BillingDBPath)
	if err != nil {
		log.Error("failed to open billing database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	rates, err := billing.LoadRatePlan(cfg.BillingRatePerMinute, cfg.BillingRatesFile)
	if err != nil {
		log.Error("failed to load rate plan", "error", err)
		os.Exit(1)
	}

	ledger := billing.NewLedger(store, rates, clk, log)
	if err := ledger.Restore(); err != nil {
		log.Error("failed to restore open intervals", "error", err)
		os.Exit(1)
	}

	sweeper := billing.NewSweeper(store, cfg.BillingRetention, clk, log)
	if err := sweeper.Start(cfg.BillingSweepSchedule); err != nil {
		log.Error("failed to start retention sweeper", "error", err)
		os.Exit(1)
	}
	defer sweeper.Stop()

	// Alert chain.
	notifiers := []alerts.Notifier{alerts.NewLogNotifier(log)}
	if cfg.AlertWebhookURL != "" {
		notifiers = append(notifiers, alerts.NewWebhook(cfg.AlertWebhookURL, nil))
		log.Info("webhook alerts enabled", "url", cfg.AlertWebhookURL)
	}
	if cfg.AlertMQTTBroker != "" {
		notifiers = append(notifiers, alerts.NewMQTT(cfg.AlertMQTTBroker, cfg.AlertMQTTTopic, "canopy-billingd", "", "", 0))
		log.Info("mqtt alerts enabled", "broker", cfg.AlertMQTTBroker, "topic", cfg.AlertMQTTTopic)
	}
	sink := alerts.NewSink(alerts.NewMulti(log, notifiers...), clk)

	srv := billing.NewServer(ledger, log.Component("billing-api"))
	mux := http.NewServeMux()
	mux.Handle("/", srv.Handler())
	mux.Handle("GET /metrics", promhttp.Handler())

	httpSrv := &http.Server{Addr: cfg.BillingListenAddr, Handler: mux}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("billing server error", "error", err)
			os.Exit(1)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = httpSrv.Shutdown(context.Background())
	}()

	consumer := stream.NewConsumer(
		stream.ReaderConfig(cfg.KafkaBrokers, cfg.KafkaGroup+"-billing", cfg.KafkaTopic),
		ledger.Handlers(), log.Component("stream"))
	consumer.SetPoisonReporter(sink)

	log.Info("billingd started", "version", version, "addr", cfg.BillingListenAddr)

	if err := consumer.Run(ctx); err != nil {
		log.Error("billingd exited with error", "error", err)
		os.Exit(2)
	}

	log.Info("billingd shutdown complete")
}
