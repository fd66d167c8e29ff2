package alerts

import (
	"context"

	"github.com/canopyrun/canopy/internal/clock"
)

// Sink adapts a Multi to the small alert interfaces the components accept:
// the registry's Alerter, the breaker's StateAlerter, and the stream's
// PoisonReporter.
type Sink struct {
	multi *Multi
	clk   clock.Clock
}

// NewSink creates the component-facing adapter.
func NewSink(multi *Multi, clk clock.Clock) *Sink {
	return &Sink{multi: multi, clk: clk}
}

// BackendDeregistered reports a registry-driven removal.
func (s *Sink) BackendDeregistered(containerID, appHostname, reason string) {
	s.multi.Notify(context.Background(), Event{
		Type:        EventBackendDeregistered,
		AppHostname: appHostname,
		ContainerID: containerID,
		Detail:      reason,
		Timestamp:   s.clk.Now().UTC(),
	})
}

// CircuitOpened reports a discovery breaker opening.
func (s *Sink) CircuitOpened(name string) {
	s.multi.Notify(context.Background(), Event{
		Type:      EventCircuitOpened,
		Breaker:   name,
		Timestamp: s.clk.Now().UTC(),
	})
}

// PoisonMessage reports a skipped unparseable stream message.
func (s *Sink) PoisonMessage(topic string, offset int64, reason string) {
	s.multi.Notify(context.Background(), Event{
		Type:      EventPoisonMessage,
		Topic:     topic,
		Offset:    offset,
		Detail:    reason,
		Timestamp: s.clk.Now().UTC(),
	})
}
