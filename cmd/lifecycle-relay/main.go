package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/canopyrun/canopy/internal/config"
	"github.com/canopyrun/canopy/internal/docker"
	"github.com/canopyrun/canopy/internal/logging"
	"github.com/canopyrun/canopy/internal/relay"
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

	fmt.Println("Canopy lifecycle-relay " + version)
	fmt.Println("=============================================")
	fmt.Printf("DOCKER_HOST_SOCK=%s\n", cfg.DockerSock)
	fmt.Printf("KAFKA_BOOTSTRAP_SERVERS=%v\n", cfg.KafkaBrokers)
	fmt.Printf("KAFKA_TOPIC=%s\n", cfg.KafkaTopic)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	client, err := docker.NewClient(cfg.DockerSock)
	if err != nil {
		log.Error("failed to create Docker client", "error", err)
		os.Exit(1)
	}
	defer client.Close()
	if err := client.Ping(ctx); err != nil {
		log.Error("Docker daemon unreachable", "sock", cfg.DockerSock, "error", err)
		os.Exit(1)
	}

	producer := stream.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()

	log.Info("lifecycle-relay started", "version", version, "topic", cfg.KafkaTopic)

	if err := relay.New(client, producer, log).Run(ctx); err != nil {
		log.Error("lifecycle-relay exited with error", "error", err)
		os.Exit(2)
	}

	log.Info("lifecycle-relay shutdown complete")
}
