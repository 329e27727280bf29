// Package publisher exports gateway bus events to Kafka.
package publisher

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"order-gateway/internal/events"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config selects the Kafka cluster and topic.
type Config struct {
	Brokers []string
	Topic   string
}

// Publisher forwards every bus envelope to a Kafka topic, keyed by order id
// when the payload carries one.
type Publisher struct {
	writer MessageWriter
	log    *zap.Logger
}

// NewPublisher creates a publisher backed by a kafka-go writer.
func NewPublisher(cfg Config, log *zap.Logger) *Publisher {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
	})
	return NewWithWriter(writer, log)
}

// NewWithWriter wraps an existing writer.
func NewWithWriter(w MessageWriter, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{writer: w, log: log}
}

// Publish writes a single envelope.
func (p *Publisher) Publish(ctx context.Context, env events.Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return errors.Wrapf(err, "encode event %s", env.ID)
	}

	msg := kafka.Message{
		Key:   []byte(keyOf(env)),
		Value: value,
		Time:  env.Time,
		Headers: []kafka.Header{
			{Key: "topic", Value: []byte(env.Topic)},
			{Key: "event_id", Value: []byte(env.ID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Error("failed to publish event",
			zap.String("event_id", env.ID),
			zap.String("topic", string(env.Topic)),
			zap.Error(err))
		return errors.Wrap(err, "publish event")
	}
	return nil
}

// Run drains the bus into Kafka until ctx is cancelled, then closes the
// writer. Publish failures are logged and the event is skipped.
func (p *Publisher) Run(ctx context.Context, bus *events.Bus) error {
	stream, unsub := bus.SubscribeAll(1024)
	defer unsub()
	defer func() {
		if err := p.writer.Close(); err != nil {
			p.log.Warn("close kafka writer", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-stream:
			if !ok {
				return nil
			}
			_ = p.Publish(ctx, env)
		}
	}
}

func keyOf(env events.Envelope) string {
	switch p := env.Payload.(type) {
	case events.OrderChanged:
		return p.Order.ID
	case events.OrderRejected:
		return p.OrderID
	case events.OrderDispatched:
		return p.Order.ID
	case events.OrderResponded:
		return p.OrderID
	case events.OrderExpired:
		return p.OrderID
	case events.VenueAnomaly:
		return p.OrderID
	}
	return string(env.Topic)
}
