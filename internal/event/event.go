// Package event defines the container lifecycle event schema shared by the
// stream producer and every consumer.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind identifies a container lifecycle transition.
type Kind string

const (
	KindCreated Kind = "container.created"
	KindStarted Kind = "container.started"
	KindStopped Kind = "container.stopped"
	KindDeleted Kind = "container.deleted"
)

// Known reports whether k is one of the four lifecycle kinds.
func (k Kind) Known() bool {
	switch k {
	case KindCreated, KindStarted, KindStopped, KindDeleted:
		return true
	}
	return false
}

// Lifecycle is one container lifecycle event as carried on the
// container-lifecycle topic. Events for the same container share a partition
// key (the container id), so per-container ordering is preserved.
type Lifecycle struct {
	Event         Kind       `json:"event"`
	ContainerID   string     `json:"container_id"`
	ContainerName string     `json:"container_name,omitempty"`
	ContainerIP   string     `json:"container_ip,omitempty"`
	ImageID       string     `json:"image_id,omitempty"`
	InternalPort  int        `json:"internal_port,omitempty"`
	ExternalPort  int        `json:"external_port,omitempty"`
	AppHostname   string     `json:"app_hostname,omitempty"`
	UserID        string     `json:"user_id,omitempty"`
	Timestamp     *time.Time `json:"timestamp,omitempty"`
}

// PartitionKey returns the Kafka message key for this event.
func (e *Lifecycle) PartitionKey() []byte {
	return []byte(e.ContainerID)
}

// Time returns the event timestamp coerced to UTC, or now if the producer
// did not set one.
func (e *Lifecycle) Time(now time.Time) time.Time {
	if e.Timestamp == nil {
		return now.UTC()
	}
	return e.Timestamp.UTC()
}

// Decode parses and validates a lifecycle event from a topic message value.
func Decode(value []byte) (*Lifecycle, error) {
	var e Lifecycle
	if err := json.Unmarshal(value, &e); err != nil {
		return nil, fmt.Errorf("decode lifecycle event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// Validate checks the schema constraints every consumer relies on.
func (e *Lifecycle) Validate() error {
	var errs []error
	if e.Event == "" {
		errs = append(errs, errors.New("missing event kind"))
	}
	if e.ContainerID == "" {
		errs = append(errs, errors.New("missing container_id"))
	}
	if e.ExternalPort < 0 || e.ExternalPort > 65535 {
		errs = append(errs, fmt.Errorf("external_port %d out of range", e.ExternalPort))
	}
	if e.InternalPort < 0 || e.InternalPort > 65535 {
		errs = append(errs, fmt.Errorf("internal_port %d out of range", e.InternalPort))
	}
	return errors.Join(errs...)
}
