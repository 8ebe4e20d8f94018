// Package webhook implements the payment-provider callback ingress (spec
// §4.5): signature verification, idempotent order transitions, and
// publishing a saga trigger. It is the decoupling point between HTTP
// response latency and saga execution — the teacher's own architecture
// (cmd/api's HTTP handler publishes an event, a separate consumer process
// acts on it).
package webhook

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/ariefcatur/order-fulfillment-saga/internal/apperrors"
	"github.com/ariefcatur/order-fulfillment-saga/internal/domain"
	"github.com/ariefcatur/order-fulfillment-saga/internal/payment"
	"github.com/ariefcatur/order-fulfillment-saga/internal/store"
)

const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
	EventPaymentCanceled  = "payment_intent.canceled"
)

// Event is the decoded wire shape of a payment-provider webhook delivery.
type Event struct {
	Type   string `json:"type"`
	Intent struct {
		ID            string            `json:"id"`
		AmountCents   int64             `json:"amount_cents"`
		PaymentMethod string            `json:"payment_method"`
		Metadata      map[string]string `json:"metadata"`
	} `json:"data"`
}

// Trigger is published to the saga.trigger topic so HTTP response latency
// is decoupled from saga execution.
type Trigger interface {
	Publish(orderID string, eventType string, payload any)
}

// OrderRows is the subset of store.OrderStore the webhook ingress depends
// on, extracted for substitutability in tests.
type OrderRows interface {
	Get(ctx context.Context, orderID string) (domain.Order, error)
	SetPayment(ctx context.Context, orderID, paymentIntentID string, status domain.PaymentStatus) error
	SetPaymentStatus(ctx context.Context, orderID string, status domain.PaymentStatus) error
	CancelWithMetadata(ctx context.Context, orderID string, metaPatch domain.Metadata) error
}

var _ OrderRows = (*store.OrderStore)(nil)

type Ingress struct {
	Orders  OrderRows
	Payment payment.Provider
	Trigger Trigger
	Log     zerolog.Logger
}

// Handle verifies the signature, decodes the event, and applies spec
// §4.5's event handling. It returns a SignatureFailure on a bad signature
// (mapped to HTTP 400 by the caller), a ValidationFailure for an
// undecodable body or an event without metadata.orderId, and any store
// error unchanged; every other outcome returns nil, including ignored
// event types and unknown orders — "return success" per spec.
func (i *Ingress) Handle(ctx context.Context, body []byte, signatureHeader string) error {
	if err := i.Payment.VerifyWebhookSignature(ctx, body, signatureHeader); err != nil {
		return err
	}

	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return apperrors.Wrap(apperrors.KindValidationFailure, err, "decode webhook event")
	}

	switch ev.Type {
	case EventPaymentSucceeded:
		return i.handleSucceeded(ctx, ev)
	case EventPaymentFailed:
		return i.handleTerminal(ctx, ev, domain.PaymentFailed)
	case EventPaymentCanceled:
		return i.handleTerminal(ctx, ev, domain.PaymentCanceled)
	default:
		return nil
	}
}

// handleSucceeded implements the duplicate-webhook guard: "if order status
// != PENDING, treat as a duplicate and return success without
// reprocessing" (spec §4.5). This is the sole idempotence mechanism for
// webhook replay — delivering the same event k times triggers the saga at
// most once because only the PENDING -> (persist payment, trigger) path
// ever fires.
func (i *Ingress) handleSucceeded(ctx context.Context, ev Event) error {
	orderID, ok := ev.Intent.Metadata["orderId"]
	if !ok || orderID == "" {
		return apperrors.New(apperrors.KindValidationFailure, "webhook event missing metadata.orderId")
	}

	order, err := i.Orders.Get(ctx, orderID)
	if err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			return nil // unknown order: treat as a stale/foreign event, not an error
		}
		return err
	}
	if order.Status != domain.StatusPending {
		i.Log.Info().Str("order_id", orderID).Str("status", string(order.Status)).
			Msg("duplicate payment_intent.succeeded webhook, ignoring")
		return nil
	}

	if err := i.Orders.SetPayment(ctx, orderID, ev.Intent.ID, domain.PaymentSucceeded); err != nil {
		return err
	}
	i.Trigger.Publish(orderID, domain.EventSagaTriggerRequested, domain.SagaTriggerPayload{OrderID: orderID})
	return nil
}

// handleTerminal implements the payment_intent.payment_failed and
// payment_intent.canceled branches: transition straight to CANCELLED with
// the corresponding paymentStatus.
func (i *Ingress) handleTerminal(ctx context.Context, ev Event, status domain.PaymentStatus) error {
	orderID, ok := ev.Intent.Metadata["orderId"]
	if !ok || orderID == "" {
		return apperrors.New(apperrors.KindValidationFailure, "webhook event missing metadata.orderId")
	}
	order, err := i.Orders.Get(ctx, orderID)
	if err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			return nil
		}
		return err
	}
	if order.Status == domain.StatusCancelled {
		return nil
	}
	if err := i.Orders.SetPaymentStatus(ctx, orderID, status); err != nil {
		return err
	}
	return i.Orders.CancelWithMetadata(ctx, orderID, domain.Metadata{}.WithCancelReason(string(status)))
}
