package balancer

import (
	"time"

	"github.com/sony/gobreaker"

	"github.com/canopyrun/canopy/internal/logging"
)

// StateAlerter is notified when the discovery circuit opens. Wired to the
// alert chain by the service binary; nil disables notifications.
type StateAlerter interface {
	CircuitOpened(name string)
}

// Breaker gates discovery calls. It trips open on N consecutive failures,
// fails fast while open, and after the reset timeout admits exactly one
// half-open probe; concurrent callers during half-open fail fast with
// circuit-open rather than queueing behind the probe.
type Breaker struct {
	gb     *gobreaker.CircuitBreaker
	log    *logging.Logger
	alerts StateAlerter
}

// NewBreaker creates a Breaker named after its downstream target.
func NewBreaker(name string, failureThreshold int, resetTimeout time.Duration, log *logging.Logger) *Breaker {
	b := &Breaker{log: log}
	b.gb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // single half-open probe
		Timeout:     resetTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return int(c.ConsecutiveFailures) >= failureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				"target", name, "from", from.String(), "to", to.String())
			if to == gobreaker.StateOpen && b.alerts != nil {
				b.alerts.CircuitOpened(name)
			}
		},
	})
	return b
}

// SetAlerter attaches an optional alert sink.
func (b *Breaker) SetAlerter(a StateAlerter) { b.alerts = a }

// Execute runs fn through the breaker. Fail-fast rejections surface as
// ErrCircuitOpen; fn's own error passes through and counts as a failure.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	res, err := b.gb.Execute(fn)
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, ErrCircuitOpen
	}
	return res, err
}

// State exposes the breaker state for tests and diagnostics.
func (b *Breaker) State() gobreaker.State { return b.gb.State() }
