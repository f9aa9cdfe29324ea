package outbox

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/commercekit/payment-reconciler/pkg/tracing"
)

type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Dispatcher publishes locked outbox events to the payment events topic.
type Dispatcher struct {
	log      *slog.Logger
	producer Producer
	topic    string
}

func NewDispatcher(log *slog.Logger, producer Producer, topic string) *Dispatcher {
	return &Dispatcher{log: log, producer: producer, topic: topic}
}

func (d *Dispatcher) Dispatch(ctx context.Context, event Event) error {
	headers := make([]kafka.Header, 0, len(event.Headers)+2)
	for k, v := range event.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	headers = append(headers, kafka.Header{Key: "event_type", Value: []byte(event.Type)})
	if event.Traceparent != "" {
		headers = append(headers, kafka.Header{Key: tracing.TraceparentHeader, Value: []byte(event.Traceparent)})
	} else {
		headers = tracing.InjectKafkaHeaders(ctx, headers)
	}

	msg := kafka.Message{
		Topic:   d.topic,
		Key:     []byte(event.AggregateID),
		Value:   event.Payload,
		Headers: headers,
	}
	if err := d.producer.WriteMessages(ctx, msg); err != nil {
		d.log.Error("outbox dispatch failed", "event_id", event.ID, "err", err)
		return err
	}
	d.log.Info("outbox dispatched", "event_id", event.ID, "type", event.Type)
	return nil
}
