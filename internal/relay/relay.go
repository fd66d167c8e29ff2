// Package relay tails the container host's Docker event stream and publishes
// lifecycle events to the container-lifecycle topic. It is the upstream
// producer for every Canopy consumer group.
package relay

import (
	"context"
	"strconv"
	"time"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/events"

	"github.com/canopyrun/canopy/internal/event"
	"github.com/canopyrun/canopy/internal/logging"
)

// Orchestrator-stamped container labels carrying routing metadata.
const (
	labelAppHostname  = "canopy.app-hostname"
	labelUserID       = "canopy.user-id"
	labelImageID      = "canopy.image-id"
	labelInternalPort = "canopy.internal-port"
	labelExternalPort = "canopy.external-port"
)

// dockerSource is the slice of the Docker client the relay uses, extracted
// for tests.
type dockerSource interface {
	StreamEvents(ctx context.Context) (<-chan events.Message, <-chan error)
	InspectContainer(ctx context.Context, id string) (container.InspectResponse, error)
}

// Publisher writes lifecycle events to the topic. Implemented by
// stream.Producer.
type Publisher interface {
	Publish(ctx context.Context, e *event.Lifecycle) error
}

// Relay converts daemon events into lifecycle events. The stream reconnects
// with a fixed backoff on error; events for untracked containers (no
// canopy labels) are skipped.
type Relay struct {
	docker  dockerSource
	pub     Publisher
	log     *logging.Logger
	backoff time.Duration
}

// New creates a Relay over a Docker event source and a topic publisher.
func New(d dockerSource, pub Publisher, log *logging.Logger) *Relay {
	return &Relay{docker: d, pub: pub, log: log.Component("relay"), backoff: 5 * time.Second}
}

// Run consumes the event stream until ctx is cancelled, reconnecting after
// stream errors.
func (r *Relay) Run(ctx context.Context) error {
	for {
		err := r.stream(ctx)
		if ctx.Err() != nil {
			r.log.Info("relay stopped")
			return nil
		}
		r.log.Warn("event stream interrupted, reconnecting", "error", err, "backoff", r.backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.backoff):
		}
	}
}

func (r *Relay) stream(ctx context.Context) error {
	msgs, errs := r.docker.StreamEvents(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errs:
			return err
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			r.handle(ctx, msg)
		}
	}
}

func (r *Relay) handle(ctx context.Context, msg events.Message) {
	kind, ok := kindFor(msg.Action)
	if !ok {
		return
	}

	e := r.translate(ctx, kind, msg)
	if e == nil {
		return
	}
	if err := r.pub.Publish(ctx, e); err != nil {
		r.log.Error("publish failed",
			"kind", string(e.Event), "container_id", e.ContainerID, "error", err)
		return
	}
	r.log.Debug("published lifecycle event", "kind", string(e.Event), "container_id", e.ContainerID)
}

// kindFor maps daemon actions onto the lifecycle schema. "die" covers every
// exit path, so "stop" and "kill" need no mapping of their own.
func kindFor(action events.Action) (event.Kind, bool) {
	switch action {
	case events.ActionCreate:
		return event.KindCreated, true
	case events.ActionStart:
		return event.KindStarted, true
	case events.ActionDie:
		return event.KindStopped, true
	case events.ActionDestroy:
		return event.KindDeleted, true
	}
	return "", false
}

func (r *Relay) translate(ctx context.Context, kind event.Kind, msg events.Message) *event.Lifecycle {
	attrs := msg.Actor.Attributes
	if attrs[labelAppHostname] == "" && attrs[labelUserID] == "" {
		// Not a Canopy-managed container.
		return nil
	}

	ts := time.Unix(0, msg.TimeNano).UTC()
	e := &event.Lifecycle{
		Event:         kind,
		ContainerID:   msg.Actor.ID,
		ContainerName: attrs["name"],
		ImageID:       attrs[labelImageID],
		InternalPort:  portAttr(attrs, labelInternalPort),
		ExternalPort:  portAttr(attrs, labelExternalPort),
		AppHostname:   attrs[labelAppHostname],
		UserID:        attrs[labelUserID],
		Timestamp:     &ts,
	}

	// The container's address only exists while it does; deletion events
	// skip the inspect.
	if kind != event.KindDeleted {
		e.ContainerIP = r.containerIP(ctx, msg.Actor.ID)
	}
	return e
}

// containerIP returns the container's address on its first attached network,
// or "" when the inspect fails (the registry routes via the host address, so
// this field is informational).
func (r *Relay) containerIP(ctx context.Context, id string) string {
	inspect, err := r.docker.InspectContainer(ctx, id)
	if err != nil {
		r.log.Debug("inspect failed", "container_id", id, "error", err)
		return ""
	}
	if inspect.NetworkSettings == nil {
		return ""
	}
	for _, ep := range inspect.NetworkSettings.Networks {
		if ep != nil && ep.IPAddress.IsValid() {
			return ep.IPAddress.String()
		}
	}
	return ""
}

func portAttr(attrs map[string]string, key string) int {
	n, err := strconv.Atoi(attrs[key])
	if err != nil {
		return 0
	}
	return n
}
