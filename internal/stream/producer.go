package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/canopyrun/canopy/internal/event"
)

// Producer publishes lifecycle events keyed by container id. The hash
// balancer pins all events for a container to one partition, which is what
// preserves per-container ordering for every consumer.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates a Producer for the given brokers and topic.
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

// Publish writes one lifecycle event to the topic.
func (p *Producer) Publish(ctx context.Context, e *event.Lifecycle) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal lifecycle event: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   e.PartitionKey(),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("publish %s for %s: %w", e.Event, e.ContainerID, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
