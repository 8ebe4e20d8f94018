package domain

const (
	// TopicSagaTrigger decouples the webhook HTTP handler from saga
	// execution: the ingress publishes here, cmd/saga-worker consumes.
	TopicSagaTrigger = "saga.trigger"

	// TopicOrderEvents is the audit/event-sourcing trail mirroring the
	// original system's OrderEvents DynamoDB table and EventBridge bus.
	TopicOrderEvents = "order.events"
)

// PartitionKey keeps every event for one order in the same partition, so a
// single consumer group member sees them in publish order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
