// Package stream connects Canopy components to the container-lifecycle
// Kafka topic. Each consuming component runs its own consumer group so the
// registry and the billing ledger replay independently.
package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/canopyrun/canopy/internal/event"
	"github.com/canopyrun/canopy/internal/logging"
	"github.com/canopyrun/canopy/internal/metrics"
)

// Handlers maps lifecycle event kinds to component callbacks. A nil entry
// means the component ignores that kind.
type Handlers struct {
	OnCreated func(ctx context.Context, e *event.Lifecycle) error
	OnStarted func(ctx context.Context, e *event.Lifecycle) error
	OnStopped func(ctx context.Context, e *event.Lifecycle) error
	OnDeleted func(ctx context.Context, e *event.Lifecycle) error
}

func (h Handlers) forKind(k event.Kind) func(ctx context.Context, e *event.Lifecycle) error {
	switch k {
	case event.KindCreated:
		return h.OnCreated
	case event.KindStarted:
		return h.OnStarted
	case event.KindStopped:
		return h.OnStopped
	case event.KindDeleted:
		return h.OnDeleted
	}
	return nil
}

// fetcher is the subset of kafka.Reader the consumer uses, extracted so
// tests can drive the loop without a broker.
type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PoisonReporter is notified when a message is skipped as unparseable.
// Wired to the alerts chain by the service binaries.
type PoisonReporter interface {
	PoisonMessage(topic string, offset int64, reason string)
}

// Consumer runs a consumer-group fetch loop and dispatches lifecycle events
// to the registered handlers. Offsets are committed after the handler
// returns; unparseable messages are committed too so a poison message never
// blocks the group. A handler error stops the loop without committing, so
// the group resumes from the failed offset on restart.
type Consumer struct {
	reader fetcher
	handle Handlers
	log    *logging.Logger
	poison PoisonReporter
	topic  string
}

// ReaderConfig returns the kafka-go reader configuration used by all Canopy
// consumers: earliest offset for new groups and a bounded poll tick so
// shutdown is prompt.
func ReaderConfig(brokers []string, group, topic string) kafka.ReaderConfig {
	return kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		StartOffset:    kafka.FirstOffset,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		MaxWait:        time.Second,
		CommitInterval: 0, // synchronous commits after each handled message
	}
}

// NewConsumer creates a Consumer over a real kafka.Reader.
func NewConsumer(cfg kafka.ReaderConfig, handle Handlers, log *logging.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(cfg),
		handle: handle,
		log:    log,
		topic:  cfg.Topic,
	}
}

// SetPoisonReporter attaches an optional reporter for skipped messages.
func (c *Consumer) SetPoisonReporter(p PoisonReporter) { c.poison = p }

// Run fetches and dispatches until ctx is cancelled, then closes the reader.
// The in-flight handler is allowed to finish before Run returns.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.log.Info("consumer stopped", "topic", c.topic)
				return nil
			}
			return err
		}

		if err := c.dispatch(ctx, msg); err != nil {
			return err
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, msg kafka.Message) error {
	e, err := event.Decode(msg.Value)
	if err != nil {
		// Poison message: log, report, commit, move on.
		metrics.PoisonMessages.WithLabelValues(c.topic).Inc()
		c.log.Warn("skipping unparseable message",
			"topic", c.topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
		if c.poison != nil {
			c.poison.PoisonMessage(c.topic, msg.Offset, err.Error())
		}
		c.commit(ctx, msg)
		return nil
	}

	if !e.Event.Known() {
		c.log.Warn("skipping unknown event kind",
			"kind", string(e.Event), "container_id", e.ContainerID, "offset", msg.Offset)
		c.commit(ctx, msg)
		return nil
	}

	h := c.handle.forKind(e.Event)
	if h == nil {
		c.commit(ctx, msg)
		return nil
	}

	if err := h(ctx, e); err != nil {
		// No internal retry: stop without committing so the group resumes
		// from this offset on restart (at-least-once). Fetching past it and
		// committing a later message would mark this one consumed.
		c.log.Error("handler failed, stopping consumer",
			"kind", string(e.Event), "container_id", e.ContainerID, "offset", msg.Offset, "error", err)
		return fmt.Errorf("handle %s at offset %d: %w", string(e.Event), msg.Offset, err)
	}
	c.commit(ctx, msg)
	return nil
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
		c.log.Error("commit failed", "topic", c.topic, "offset", msg.Offset, "error", err)
	}
}
