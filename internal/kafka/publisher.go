package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/orders"
)

const eventVersion = 1

// Sink is the enqueue side of Producer.
type Sink interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers ...kafka.Header) error
}

// EventPublisher wraps payloads in the v1 envelope and routes them by event type.
type EventPublisher struct {
	Sink    Sink
	Service string
}

func (p *EventPublisher) Publish(ctx context.Context, eventType, key string, payload any) error {
	topic := orders.TopicFor(eventType)
	if topic == "" {
		return fmt.Errorf("no topic for event %s", eventType)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  eventVersion,
		OccurredAt:    time.Now().UTC(),
		Producer:      p.Service,
		TraceID:       middleware.GetReqID(ctx),
		CorrelationID: key,
		Payload:       raw,
	}
	// Payload is already valid JSON, so the envelope always encodes.
	return p.Sink.Publish(ctx, topic, orders.PartitionKey(key), MustMarshal(ev),
		kafka.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafka.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(eventVersion))},
	)
}
