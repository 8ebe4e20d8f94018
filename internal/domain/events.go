package domain

import (
	"encoding/json"
	"time"
)

// Event type constants carried in Envelope.EventType. These mirror the
// saga's own step names plus the webhook-triggered entry point, published to
// the order.events audit topic by the saga, the compensation handler and the
// reaper (cancellations made by the webhook ingress publish no event), and
// SagaTriggerRequested to the saga.trigger topic that decouples the webhook
// HTTP handler from saga execution.
const (
	EventSagaTriggerRequested = "SagaTriggerRequested"
	EventInventoryReserved    = "InventoryReserved"
	EventInventoryRejected    = "InventoryRejected"
	EventPaymentVerified      = "PaymentVerified"
	EventShippingAllocated    = "ShippingAllocated"
	EventOrderCancelled       = "OrderCancelled"
)

// Envelope is the wire format for every event on every Kafka topic this
// system publishes.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

type SagaTriggerPayload struct {
	OrderID string `json:"order_id"`
}

type InventoryReservedPayload struct {
	OrderID string      `json:"order_id"`
	Items   []OrderItem `json:"items"`
}

type InventoryRejectedPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

type PaymentVerifiedPayload struct {
	OrderID     string `json:"order_id"`
	PaymentID   string `json:"payment_id"`
	AmountCents int64  `json:"amount_cents"`
}

type ShippingAllocatedPayload struct {
	OrderID        string `json:"order_id"`
	TrackingNumber string `json:"tracking_number"`
	Carrier        string `json:"carrier"`
}

type OrderCancelledPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}
