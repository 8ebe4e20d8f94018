// Package notify is the fire-and-forget email delivery adapter named in
// spec §2's component table but left undetailed: template rendering is
// explicitly out of scope (spec §1), so only dispatch is modeled here.
package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// Adapter sends templated emails. Implementations must tolerate being
// called from the saga's best-effort SendNotification step, whose caller
// never fails the saga on an Adapter error (spec §4.3 point 4), and from
// the reaper's abandoned-cart reminder, whose caller never blocks
// cancellation on an Adapter error (spec §4.6).
type Adapter interface {
	SendOrderConfirmation(ctx context.Context, to, orderID string) error
	SendAbandonedCartReminder(ctx context.Context, to, orderID string) error
}

// LoggingAdapter is the only implementation this repo ships: it logs the
// send and returns nil, standing in for a real provider (SES, SendGrid,
// Postmark) wired the same way — through this interface — in a production
// deployment. Template rendering and provider integration are out of scope
// (spec §1 Non-goals: "email template rendering").
type LoggingAdapter struct {
	Log         zerolog.Logger
	SenderEmail string
}

func (a LoggingAdapter) SendOrderConfirmation(ctx context.Context, to, orderID string) error {
	a.Log.Info().
		Str("order_id", orderID).
		Str("to", to).
		Str("from", a.SenderEmail).
		Str("template", "order-confirmation").
		Msg("notification dispatched")
	return nil
}

func (a LoggingAdapter) SendAbandonedCartReminder(ctx context.Context, to, orderID string) error {
	a.Log.Info().
		Str("order_id", orderID).
		Str("to", to).
		Str("from", a.SenderEmail).
		Str("template", "abandoned-cart-reminder").
		Msg("notification dispatched")
	return nil
}
