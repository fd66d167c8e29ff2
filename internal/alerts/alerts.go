// Package alerts delivers operational events to external sinks: a breaker
// opening, a backend deregistered by the prober, a poison message skipped.
package alerts

import (
	"context"
	"sync"
	"time"
)

// EventType identifies what happened.
type EventType string

const (
	EventCircuitOpened       EventType = "circuit_opened"
	EventBackendDeregistered EventType = "backend_deregistered"
	EventPoisonMessage       EventType = "poison_message"
)

// Event is one alert as delivered to every provider.
type Event struct {
	Type        EventType `json:"type"`
	AppHostname string    `json:"app_hostname,omitempty"`
	ContainerID string    `json:"container_id,omitempty"`
	Breaker     string    `json:"breaker,omitempty"`
	Topic       string    `json:"topic,omitempty"`
	Offset      int64     `json:"offset,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Notifier sends events to an external system.
type Notifier interface {
	Send(ctx context.Context, event Event) error
	Name() string
}

// Logger is a minimal logging interface to avoid importing the logging package.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Multi fans out events to multiple notifiers. It never returns errors;
// failures are logged but don't block the caller.
type Multi struct {
	mu        sync.RWMutex
	notifiers []Notifier
	log       Logger
	timeout   time.Duration
}

// NewMulti creates a dispatcher from the given notifiers. Each provider gets
// its own delivery timeout so one slow sink cannot stall the rest.
func NewMulti(log Logger, notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers, log: log, timeout: 10 * time.Second}
}

// Notify sends an event to all registered notifiers. Returns true if at
// least one notifier succeeded (or none are configured).
func (m *Multi) Notify(ctx context.Context, event Event) bool {
	m.mu.RLock()
	notifiers := m.notifiers
	m.mu.RUnlock()

	if len(notifiers) == 0 {
		return true
	}

	anyOK := false
	for _, n := range notifiers {
		sendCtx, cancel := context.WithTimeout(ctx, m.timeout)
		err := n.Send(sendCtx, event)
		cancel()
		if err != nil {
			m.log.Error("alert delivery failed",
				"provider", n.Name(),
				"event", string(event.Type),
				"container_id", event.ContainerID,
				"error", err.Error(),
			)
		} else {
			anyOK = true
		}
	}
	return anyOK
}

// Reconfigure replaces the notifier chain at runtime.
func (m *Multi) Reconfigure(notifiers ...Notifier) {
	m.mu.Lock()
	m.notifiers = notifiers
	m.mu.Unlock()
}
