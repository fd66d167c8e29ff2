package balancer

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/canopyrun/canopy/internal/logging"
)

var errBoom = errors.New("boom")

func failOnce(b *Breaker) error {
	_, err := b.Execute(func() (any, error) { return nil, errBoom })
	return err
}

func TestBreakerOpensOnNthConsecutiveFailure(t *testing.T) {
	b := NewBreaker("registry", 3, time.Minute, logging.New(false))

	// N-1 failures leave the breaker closed.
	for i := 0; i < 2; i++ {
		if err := failOnce(b); !errors.Is(err, errBoom) {
			t.Fatalf("failure %d returned %v, want underlying error", i+1, err)
		}
		if got := b.State(); got != gobreaker.StateClosed {
			t.Fatalf("state after %d failures = %v, want closed", i+1, got)
		}
	}

	// The Nth consecutive failure trips it.
	failOnce(b)
	if got := b.State(); got != gobreaker.StateOpen {
		t.Fatalf("state after 3rd failure = %v, want open", got)
	}

	// While open, calls fail fast without running fn.
	ran := false
	_, err := b.Execute(func() (any, error) { ran = true; return nil, nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("open breaker returned %v, want ErrCircuitOpen", err)
	}
	if ran {
		t.Error("open breaker executed the call")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("registry", 3, time.Minute, logging.New(false))

	failOnce(b)
	failOnce(b)
	if _, err := b.Execute(func() (any, error) { return "ok", nil }); err != nil {
		t.Fatalf("success call returned %v", err)
	}
	// Two more failures: the earlier pair must not count.
	failOnce(b)
	failOnce(b)
	if got := b.State(); got != gobreaker.StateClosed {
		t.Errorf("state = %v, want closed (count reset by success)", got)
	}
}

func TestBreakerHalfOpenAdmitsSingleProbe(t *testing.T) {
	b := NewBreaker("registry", 1, 50*time.Millisecond, logging.New(false))

	failOnce(b)
	if got := b.State(); got != gobreaker.StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	time.Sleep(80 * time.Millisecond)

	// First caller becomes the half-open probe; a concurrent second caller
	// fails fast with circuit-open.
	release := make(chan struct{})
	probeDone := make(chan error, 1)
	go func() {
		_, err := b.Execute(func() (any, error) {
			<-release
			return "ok", nil
		})
		probeDone <- err
	}()

	time.Sleep(20 * time.Millisecond)
	_, err := b.Execute(func() (any, error) { return nil, nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("concurrent half-open caller got %v, want ErrCircuitOpen", err)
	}

	close(release)
	if err := <-probeDone; err != nil {
		t.Fatalf("probe call returned %v", err)
	}
	if got := b.State(); got != gobreaker.StateClosed {
		t.Errorf("state after successful probe = %v, want closed", got)
	}
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	b := NewBreaker("registry", 1, 50*time.Millisecond, logging.New(false))

	failOnce(b)
	time.Sleep(80 * time.Millisecond)

	if err := failOnce(b); !errors.Is(err, errBoom) {
		t.Fatalf("probe failure returned %v, want underlying error", err)
	}
	if got := b.State(); got != gobreaker.StateOpen {
		t.Errorf("state after failed probe = %v, want open again", got)
	}
}

type circuitAlerts struct{ opened []string }

func (c *circuitAlerts) CircuitOpened(name string) { c.opened = append(c.opened, name) }

func TestBreakerAlertsOnOpen(t *testing.T) {
	b := NewBreaker("registry", 1, time.Minute, logging.New(false))
	alerts := &circuitAlerts{}
	b.SetAlerter(alerts)

	failOnce(b)
	if len(alerts.opened) != 1 || alerts.opened[0] != "registry" {
		t.Errorf("alerts = %v, want one open alert for registry", alerts.opened)
	}
}
