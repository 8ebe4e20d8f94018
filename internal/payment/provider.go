// Package payment is the adapter spec §4.7 elevates to a first-class
// component: it is implicit in §4.3/§4.4/§6 but required by every saga step
// and the webhook ingress. The HTTP implementation is grounded directly on
// polkiloo-gophermart's internal/adapter/accrual.HTTPClient: absolute
// base-URL validation at construction, context-bound requests, a typed
// rate-limit error carrying a Retry-After duration, and a status-code
// switch rather than generic error wrapping.
package payment

import (
	"context"
	"time"
)

// IntentStatus mirrors the provider's view of a payment intent.
type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentSucceeded IntentStatus = "succeeded"
	IntentFailed    IntentStatus = "failed"
	IntentCanceled  IntentStatus = "canceled"
)

// Intent is the provider's payment-intent resource, the subset this system
// consumes.
type Intent struct {
	ID            string
	ClientSecret  string
	Status        IntentStatus
	AmountCents   int64
	Currency      string
	PaymentMethod string
	Metadata      map[string]string
}

// Refund is the result of issuing a refund against a payment intent.
type Refund struct {
	ID     string
	Status string
}

// Provider is the contract every saga step and the webhook ingress consume.
// Implementations must be safe for concurrent use across every handler
// invocation (spec §5: "cached client handles ... safe for concurrent use").
type Provider interface {
	CreatePaymentIntent(ctx context.Context, orderID string, amountCents int64, currency string, metadata map[string]string) (Intent, error)
	GetPaymentIntent(ctx context.Context, intentID string) (Intent, error)
	Refund(ctx context.Context, intentID, reason string) (Refund, error)
	VerifyWebhookSignature(ctx context.Context, payload []byte, signatureHeader string) error
}

// RateLimitedError is the typed retry-after signal from the provider,
// mirrored from accrual.TooManyRequestsError.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e RateLimitedError) Error() string {
	return "payment provider rate limited, retry after " + e.RetryAfter.String()
}
