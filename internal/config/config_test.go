package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if got := cfg.KafkaTopic; got != "container-lifecycle" {
		t.Errorf("KafkaTopic = %q, want container-lifecycle", got)
	}
	if got := cfg.LBTimeout; got != 500*time.Millisecond {
		t.Errorf("LBTimeout = %s, want 500ms", got)
	}
	if got := cfg.BackendTimeout; got != 10*time.Second {
		t.Errorf("BackendTimeout = %s, want 10s", got)
	}
	if got := cfg.CircuitFailureThreshold; got != 3 {
		t.Errorf("CircuitFailureThreshold = %d, want 3", got)
	}
	if got := cfg.CircuitResetTimeout; got != 15*time.Second {
		t.Errorf("CircuitResetTimeout = %s, want 15s", got)
	}
	if got := cfg.CacheDefaultTTL; got != 1800*time.Second {
		t.Errorf("CacheDefaultTTL = %s, want 30m", got)
	}
	if got := cfg.BillingRatePerMinute; got != 0.01 {
		t.Errorf("BillingRatePerMinute = %g, want 0.01", got)
	}
	if got := cfg.HealthCheckInterval; got != 10*time.Second {
		t.Errorf("HealthCheckInterval = %s, want 10s", got)
	}
	if got := cfg.DeregisterCriticalAfter; got != 60*time.Second {
		t.Errorf("DeregisterCriticalAfter = %s, want 60s", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults = %v, want nil", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BOOTSTRAP_SERVERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("LB_TIMEOUT_MS", "250")
	t.Setenv("CIRCUIT_FAILURE_THRESHOLD", "5")
	t.Setenv("BILLING_RATE_PER_MINUTE", "0.05")

	cfg := Load()

	if got := cfg.KafkaBrokers; len(got) != 2 || got[0] != "kafka-1:9092" || got[1] != "kafka-2:9092" {
		t.Errorf("KafkaBrokers = %v, want two trimmed brokers", got)
	}
	if got := cfg.LBTimeout; got != 250*time.Millisecond {
		t.Errorf("LBTimeout = %s, want 250ms", got)
	}
	if got := cfg.CircuitFailureThreshold; got != 5 {
		t.Errorf("CircuitFailureThreshold = %d, want 5", got)
	}
	if got := cfg.BillingRatePerMinute; got != 0.05 {
		t.Errorf("BillingRatePerMinute = %g, want 0.05", got)
	}
}

func TestLoadMalformedFallsBackToDefault(t *testing.T) {
	t.Setenv("LB_TIMEOUT_MS", "not-a-number")
	t.Setenv("LOG_JSON", "maybe")

	cfg := Load()
	if got := cfg.LBTimeout; got != 500*time.Millisecond {
		t.Errorf("LBTimeout = %s, want default 500ms on malformed input", got)
	}
	if !cfg.LogJSON {
		t.Error("LogJSON = false, want default true on malformed input")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("LB_TIMEOUT_MS", "-1")
	t.Setenv("CIRCUIT_FAILURE_THRESHOLD", "0")

	cfg := Load()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	if !strings.Contains(err.Error(), "LB_TIMEOUT_MS") {
		t.Errorf("error %q does not mention LB_TIMEOUT_MS", err)
	}
	if !strings.Contains(err.Error(), "CIRCUIT_FAILURE_THRESHOLD") {
		t.Errorf("error %q does not mention CIRCUIT_FAILURE_THRESHOLD", err)
	}
}
