package domain

import (
	"encoding/json"
	"time"
)

// IdempotencyStatus is the lifecycle of a single idempotency row.
type IdempotencyStatus string

const (
	IdempotencyInProgress IdempotencyStatus = "IN_PROGRESS"
	IdempotencyCompleted  IdempotencyStatus = "COMPLETED"
	IdempotencyFailed     IdempotencyStatus = "FAILED"
)

// IdempotencyKey is a single row keyed by an opaque, caller-constructed
// string. Key encodings used by this system:
//
//	order:{orderId}:{op}                         saga step checkpoints
//	payment:{orderId}:{paymentIntentId}          payment operations
//	inventory:{orderId}:{productId}:{reserve|release}  per-item inventory actions
type IdempotencyKey struct {
	Key       string            `json:"key"`
	Operation string            `json:"operation"`
	Status    IdempotencyStatus `json:"status"`
	Result    json.RawMessage   `json:"result,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// Session is the admin authorizer's bearer-token record, TTL-purged like
// IdempotencyKey.
type Session struct {
	SessionToken string    `json:"sessionToken"`
	Username     string    `json:"username"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}
