package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all Canopy configuration from environment variables. Each
// service binary reads the subset it needs; unused fields keep their defaults.
type Config struct {
	// Event stream
	KafkaBrokers []string // KAFKA_BOOTSTRAP_SERVERS, comma separated
	KafkaGroup   string   // KAFKA_CONSUMER_GROUP, base group id; services append their role
	KafkaTopic   string   // KAFKA_TOPIC

	// Downstream targets
	RegistryURL     string // REGISTRY_URL, service-registry base URL
	LBURL           string // LB_URL, load balancer base URL
	OrchestratorURL string // ORCHESTRATOR_URL, control-plane passthrough target

	// Listen addresses
	EdgeListenAddr     string // EDGE_LISTEN_ADDR
	LBListenAddr       string // LB_LISTEN_ADDR
	RegistryListenAddr string // REGISTRY_LISTEN_ADDR
	BillingListenAddr  string // BILLING_LISTEN_ADDR

	// Timeouts
	LBTimeout      time.Duration // LB_TIMEOUT_MS
	BackendTimeout time.Duration // BACKEND_TIMEOUT_MS

	// Circuit breaker
	CircuitFailureThreshold int           // CIRCUIT_FAILURE_THRESHOLD
	CircuitResetTimeout     time.Duration // CIRCUIT_RESET_TIMEOUT_S

	// Routing cache
	CacheDefaultTTL time.Duration // CACHE_DEFAULT_TTL_S

	// Load balancer fallback + watch
	FallbackTTL time.Duration // FALLBACK_TTL_S
	WatchWait   time.Duration // WATCH_WAIT_S

	// Health checks
	HealthCheckInterval     time.Duration // HEALTH_CHECK_INTERVAL_S
	DeregisterCriticalAfter time.Duration // DEREGISTER_CRITICAL_AFTER_S
	ContainerHostAddr       string        // CONTAINER_HOST_ADDR, probe + routing target host

	// Billing
	BillingRatePerMinute float64       // BILLING_RATE_PER_MINUTE
	BillingDBPath        string        // BILLING_DB_PATH
	BillingRatesFile     string        // BILLING_RATES_FILE, optional YAML rate plan
	BillingRetention     time.Duration // BILLING_RETENTION_DAYS, in days
	BillingSweepSchedule string        // BILLING_SWEEP_SCHEDULE, cron expression

	// Alerts
	AlertWebhookURL string // ALERT_WEBHOOK_URL
	AlertMQTTBroker string // ALERT_MQTT_BROKER
	AlertMQTTTopic  string // ALERT_MQTT_TOPIC

	// Lifecycle relay
	DockerSock string // DOCKER_HOST_SOCK

	// Logging
	LogJSON bool // LOG_JSON
}

// Load reads all configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		KafkaBrokers: splitList(envStr("KAFKA_BOOTSTRAP_SERVERS", "localhost:9092")),
		KafkaGroup:   envStr("KAFKA_CONSUMER_GROUP", "canopy"),
		KafkaTopic:   envStr("KAFKA_TOPIC", "container-lifecycle"),

		RegistryURL:     envStr("REGISTRY_URL", "http://localhost:8500"),
		LBURL:           envStr("LB_URL", "http://localhost:8081"),
		OrchestratorURL: envStr("ORCHESTRATOR_URL", "http://localhost:8090"),

		EdgeListenAddr:     envStr("EDGE_LISTEN_ADDR", ":8080"),
		LBListenAddr:       envStr("LB_LISTEN_ADDR", ":8081"),
		RegistryListenAddr: envStr("REGISTRY_LISTEN_ADDR", ":8500"),
		BillingListenAddr:  envStr("BILLING_LISTEN_ADDR", ":8082"),

		LBTimeout:      time.Duration(envInt("LB_TIMEOUT_MS", 500)) * time.Millisecond,
		BackendTimeout: time.Duration(envInt("BACKEND_TIMEOUT_MS", 10000)) * time.Millisecond,

		CircuitFailureThreshold: envInt("CIRCUIT_FAILURE_THRESHOLD", 3),
		CircuitResetTimeout:     time.Duration(envInt("CIRCUIT_RESET_TIMEOUT_S", 15)) * time.Second,

		CacheDefaultTTL: time.Duration(envInt("CACHE_DEFAULT_TTL_S", 1800)) * time.Second,

		FallbackTTL: time.Duration(envInt("FALLBACK_TTL_S", 300)) * time.Second,
		WatchWait:   time.Duration(envInt("WATCH_WAIT_S", 60)) * time.Second,

		HealthCheckInterval:     time.Duration(envInt("HEALTH_CHECK_INTERVAL_S", 10)) * time.Second,
		DeregisterCriticalAfter: time.Duration(envInt("DEREGISTER_CRITICAL_AFTER_S", 60)) * time.Second,
		ContainerHostAddr:       envStr("CONTAINER_HOST_ADDR", "localhost"),

		BillingRatePerMinute: envFloat("BILLING_RATE_PER_MINUTE", 0.01),
		BillingDBPath:        envStr("BILLING_DB_PATH", "/data/billing.db"),
		BillingRatesFile:     envStr("BILLING_RATES_FILE", ""),
		BillingRetention:     time.Duration(envInt("BILLING_RETENTION_DAYS", 90)) * 24 * time.Hour,
		BillingSweepSchedule: envStr("BILLING_SWEEP_SCHEDULE", "0 3 * * *"),

		AlertWebhookURL: envStr("ALERT_WEBHOOK_URL", ""),
		AlertMQTTBroker: envStr("ALERT_MQTT_BROKER", ""),
		AlertMQTTTopic:  envStr("ALERT_MQTT_TOPIC", "canopy/alerts"),

		DockerSock: envStr("DOCKER_HOST_SOCK", "/var/run/docker.sock"),

		LogJSON: envBool("LOG_JSON", true),
	}
}

// Validate checks configuration for invalid values.
func (c *Config) Validate() error {
	var errs []error
	if len(c.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BOOTSTRAP_SERVERS must not be empty"))
	}
	if c.LBTimeout <= 0 {
		errs = append(errs, fmt.Errorf("LB_TIMEOUT_MS must be > 0, got %s", c.LBTimeout))
	}
	if c.BackendTimeout <= 0 {
		errs = append(errs, fmt.Errorf("BACKEND_TIMEOUT_MS must be > 0, got %s", c.BackendTimeout))
	}
	if c.CircuitFailureThreshold < 1 {
		errs = append(errs, fmt.Errorf("CIRCUIT_FAILURE_THRESHOLD must be >= 1, got %d", c.CircuitFailureThreshold))
	}
	if c.CircuitResetTimeout <= 0 {
		errs = append(errs, fmt.Errorf("CIRCUIT_RESET_TIMEOUT_S must be > 0, got %s", c.CircuitResetTimeout))
	}
	if c.CacheDefaultTTL <= 0 {
		errs = append(errs, fmt.Errorf("CACHE_DEFAULT_TTL_S must be > 0, got %s", c.CacheDefaultTTL))
	}
	if c.HealthCheckInterval <= 0 {
		errs = append(errs, fmt.Errorf("HEALTH_CHECK_INTERVAL_S must be > 0, got %s", c.HealthCheckInterval))
	}
	if c.DeregisterCriticalAfter <= 0 {
		errs = append(errs, fmt.Errorf("DEREGISTER_CRITICAL_AFTER_S must be > 0, got %s", c.DeregisterCriticalAfter))
	}
	if c.BillingRatePerMinute < 0 {
		errs = append(errs, fmt.Errorf("BILLING_RATE_PER_MINUTE must be >= 0, got %g", c.BillingRatePerMinute))
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
