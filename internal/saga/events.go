package saga

import (
	"time"

	"github.com/google/uuid"

	kafkax "github.com/ariefcatur/order-fulfillment-saga/internal/kafka"
	"github.com/ariefcatur/order-fulfillment-saga/internal/domain"
)

// EventPublisher decouples the orchestrator and compensation handler from
// the Kafka client directly, so unit tests can substitute an in-memory
// fake.
type EventPublisher interface {
	Publish(orderID string, eventType string, payload any)
}

// KafkaEventPublisher publishes to the order.events audit topic, mirroring
// the original system's OrderEvents DynamoDB table / EventBridge bus
// (see SPEC_FULL.md §2).
type KafkaEventPublisher struct {
	Producer    *kafkax.Producer
	ServiceName string
}

func (p *KafkaEventPublisher) Publish(orderID, eventType string, payload any) {
	env := domain.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      p.ServiceName,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	p.Producer.Publish(domain.PartitionKey(orderID), kafkax.MustMarshal(env))
}

// NoopEventPublisher discards events; used where audit publishing isn't
// wired (tests, or a degraded-mode deployment without Kafka).
type NoopEventPublisher struct{}

func (NoopEventPublisher) Publish(string, string, any) {}
