// Package ingest feeds container lifecycle events into the service registry.
// It is the registry-side consumer of the container-lifecycle topic:
// container.created registers a backend, container.deleted removes it.
// Start/stop transitions change nothing here; the registry's TCP probes own
// backend status.
package ingest

import (
	"context"
	"fmt"
	"strconv"
	"time"

	consul "github.com/hashicorp/consul/api"

	"github.com/canopyrun/canopy/internal/event"
	"github.com/canopyrun/canopy/internal/hostname"
	"github.com/canopyrun/canopy/internal/logging"
	"github.com/canopyrun/canopy/internal/registry"
	"github.com/canopyrun/canopy/internal/stream"
)

// agentAPI is the slice of the consul agent client the ingestor uses,
// extracted for tests.
type agentAPI interface {
	ServiceRegister(*consul.AgentServiceRegistration) error
	ServiceDeregister(string) error
}

// Options carries the probe parameters stamped onto every registration.
type Options struct {
	ContainerHostAddr       string
	ProbeInterval           time.Duration
	ProbeTimeout            time.Duration
	DeregisterCriticalAfter time.Duration
}

// Ingestor translates lifecycle events into registry mutations.
type Ingestor struct {
	agent agentAPI
	opts  Options
	log   *logging.Logger
}

// New creates an Ingestor over a consul-compatible agent client.
func New(agent *consul.Agent, opts Options, log *logging.Logger) *Ingestor {
	return &Ingestor{agent: agent, opts: opts, log: log}
}

// Handlers returns the event dispatch table for the stream consumer.
func (i *Ingestor) Handlers() stream.Handlers {
	return stream.Handlers{
		OnCreated: i.onCreated,
		OnStarted: i.onProbeOwned,
		OnStopped: i.onProbeOwned,
		OnDeleted: i.onDeleted,
	}
}

func (i *Ingestor) onCreated(_ context.Context, e *event.Lifecycle) error {
	app, err := hostname.Normalize(e.AppHostname)
	if err != nil {
		// Not registrable without a hostname; skipping keeps the group moving.
		i.log.Warn("dropping created event without app hostname", "container_id", e.ContainerID)
		return nil
	}

	b := registry.Backend{
		ContainerID:  e.ContainerID,
		Address:      i.opts.ContainerHostAddr,
		InternalPort: e.InternalPort,
		ExternalPort: e.ExternalPort,
		ImageID:      e.ImageID,
		UserID:       e.UserID,
		AppHostname:  app,
	}

	reg := &consul.AgentServiceRegistration{
		ID:      e.ContainerID,
		Name:    app,
		Address: i.opts.ContainerHostAddr,
		Port:    e.InternalPort,
		Tags:    registry.EncodeTags(b),
		Check: &consul.AgentServiceCheck{
			TCP:                            i.opts.ContainerHostAddr + ":" + strconv.Itoa(e.ExternalPort),
			Interval:                       i.opts.ProbeInterval.String(),
			Timeout:                        i.opts.ProbeTimeout.String(),
			DeregisterCriticalServiceAfter: i.opts.DeregisterCriticalAfter.String(),
		},
	}

	if err := i.agent.ServiceRegister(reg); err != nil {
		return fmt.Errorf("register %s: %w", e.ContainerID, err)
	}
	i.log.Info("registered backend", "container_id", e.ContainerID, "app_hostname", app)
	return nil
}

func (i *Ingestor) onDeleted(_ context.Context, e *event.Lifecycle) error {
	if err := i.agent.ServiceDeregister(e.ContainerID); err != nil {
		return fmt.Errorf("deregister %s: %w", e.ContainerID, err)
	}
	i.log.Info("deregistered backend", "container_id", e.ContainerID)
	return nil
}

// onProbeOwned handles start/stop transitions, which affect only probe
// status. Membership stays as-is; the TCP probe discovers reachability.
func (i *Ingestor) onProbeOwned(_ context.Context, e *event.Lifecycle) error {
	i.log.Debug("lifecycle transition left to probes",
		"kind", string(e.Event), "container_id", e.ContainerID)
	return nil
}
