// Package saga implements the order-fulfillment saga orchestrator and its
// compensation handler (spec §4.3/§4.4). It is structurally grounded on the
// original system's Step Functions chain
// (original_source/infrastructure/.../stepfunctions_stack.py:
// ReserveInventoryTask -> ProcessPaymentTask -> AllocateShippingTask ->
// SendNotificationTask, each wrapped in a catch routing to CompensateTask)
// reimplemented as an in-process Go state machine, invoked the same way the
// teacher's cmd/inventory consumer invokes inventory.Service.HandleOrderCreated
// — here, cmd/saga-worker invokes Orchestrator.Run per saga.trigger message.
package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/ariefcatur/order-fulfillment-saga/internal/apperrors"
	"github.com/ariefcatur/order-fulfillment-saga/internal/domain"
	"github.com/ariefcatur/order-fulfillment-saga/internal/idempotency"
	"github.com/ariefcatur/order-fulfillment-saga/internal/inventoryengine"
	"github.com/ariefcatur/order-fulfillment-saga/internal/notify"
	"github.com/ariefcatur/order-fulfillment-saga/internal/payment"
	"github.com/ariefcatur/order-fulfillment-saga/internal/store"
)

// allowedCarriers is the "allowed set" of spec §4.3 step 3.
var allowedCarriers = []struct {
	Name string
	Code string
}{
	{"USPS", "US"},
	{"FedEx", "FE"},
	{"UPS", "UP"},
}

// OrderRows is the subset of store.OrderStore the saga package depends on,
// extracted so the orchestrator and compensation handler can be driven by
// an in-memory fake in tests.
type OrderRows interface {
	Get(ctx context.Context, orderID string) (domain.Order, error)
	SetItemWarehouses(ctx context.Context, orderID string, items []domain.OrderItem) error
	TransitionStatus(ctx context.Context, orderID string, expectedFrom, to domain.Status) error
	SetShippingAllocation(ctx context.Context, orderID, tracking, carrier string, eta time.Time) error
	SetPaymentStatus(ctx context.Context, orderID string, status domain.PaymentStatus) error
	CancelWithMetadata(ctx context.Context, orderID string, metaPatch domain.Metadata) error
}

var _ OrderRows = (*store.OrderStore)(nil)

type Orchestrator struct {
	Orders      OrderRows
	Inventory   *inventoryengine.Engine
	Idempotency *idempotency.Service
	Payment     payment.Provider
	Notify      notify.Adapter
	Events      EventPublisher
	Compensate  *CompensationHandler
	Clock       domain.Clock
	Log         zerolog.Logger

	// rngIntn is overridden in tests for deterministic tracking numbers.
	rngIntn func(n int) int
}

func New(orders OrderRows, inv *inventoryengine.Engine, idem *idempotency.Service,
	pay payment.Provider, notifier notify.Adapter, events EventPublisher, comp *CompensationHandler,
	clock domain.Clock, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		Orders: orders, Inventory: inv, Idempotency: idem, Payment: pay, Notify: notifier,
		Events: events, Compensate: comp, Clock: clock, Log: log, rngIntn: rand.Intn,
	}
}

// Run advances orderID through {Reserve -> VerifyPayment -> AllocateShipping
// -> Notify}, invoking compensation on any logical step failure. It is safe
// to call repeatedly for the same orderID (spec §4.3: "each step may be
// re-invoked safely").
func (o *Orchestrator) Run(ctx context.Context, orderID string) error {
	log := o.Log.With().Str("order_id", orderID).Logger()

	order, err := o.Orders.Get(ctx, orderID)
	if err != nil {
		return err
	}

	if order.Status == domain.StatusPending || order.Status == domain.StatusInventoryReserved {
		if _, err := o.reserveInventory(ctx, order); err != nil {
			log.Warn().Err(err).Msg("reserve inventory failed, compensating")
			return o.compensateAndReturn(ctx, orderID, "ReserveInventory", err)
		}
		order, err = o.Orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
	}

	if order.Status == domain.StatusInventoryReserved {
		if _, err := o.verifyPayment(ctx, order); err != nil {
			log.Warn().Err(err).Msg("verify payment failed, compensating")
			return o.compensateAndReturn(ctx, orderID, "VerifyPayment", err)
		}
		order, err = o.Orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
	}

	if order.Status == domain.StatusPaymentConfirmed {
		if _, err := o.allocateShipping(ctx, order); err != nil {
			log.Warn().Err(err).Msg("allocate shipping failed, compensating")
			return o.compensateAndReturn(ctx, orderID, "AllocateShipping", err)
		}
		order, err = o.Orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
	}

	if order.Status == domain.StatusShippingAllocated {
		o.sendNotification(ctx, order)
	}

	return nil
}

func (o *Orchestrator) compensateAndReturn(ctx context.Context, orderID, step string, cause error) error {
	if _, cErr := o.Compensate.CompensateForFailure(ctx, orderID, step, cause); cErr != nil {
		o.Log.Error().Err(cErr).Str("order_id", orderID).Msg("compensation itself failed")
	}
	return cause
}

// reservedItemsOutput is the idempotency-cached result of ReserveInventory.
type reservedItemsOutput struct {
	Items []domain.OrderItem `json:"items"`
}

// reserveInventory implements spec §4.3 step 1. If order.Status is already
// INVENTORY_RESERVED this is an idempotent no-op returning the existing
// reservation. Otherwise each item is reserved via the warehouse-selection
// algorithm; if any item fails, already-reserved items from this same
// attempt are released before returning, so a PENDING order never leaks a
// partial reservation for the compensation table's PENDING row (which does
// not itself release inventory).
func (o *Orchestrator) reserveInventory(ctx context.Context, order domain.Order) (reservedItemsOutput, error) {
	if order.Status == domain.StatusInventoryReserved {
		return reservedItemsOutput{Items: order.Items}, nil
	}
	if order.Status != domain.StatusPending {
		return reservedItemsOutput{}, apperrors.New(apperrors.KindValidationFailure,
			"reserveInventory precondition failed: status="+string(order.Status))
	}

	key := fmt.Sprintf("order:%s:reserve-inventory", order.OrderID)
	raw, err := o.Idempotency.ExecuteOnce(ctx, key, "reserve-inventory", func(ctx context.Context) (json.RawMessage, error) {
		items := make([]domain.OrderItem, len(order.Items))
		copy(items, order.Items)

		var reserved []domain.OrderItem
		for i := range items {
			res, err := o.Inventory.ReserveForItem(ctx, items[i].ProductID, items[i].Quantity)
			if err != nil {
				o.releasePartial(ctx, reserved)
				return nil, err
			}
			items[i].WarehouseID = res.WarehouseID
			reserved = append(reserved, items[i])
		}

		if err := o.Orders.SetItemWarehouses(ctx, order.OrderID, items); err != nil {
			o.releasePartial(ctx, reserved)
			return nil, err
		}
		o.Events.Publish(order.OrderID, domain.EventInventoryReserved, domain.InventoryReservedPayload{
			OrderID: order.OrderID, Items: items,
		})
		return json.Marshal(reservedItemsOutput{Items: items})
	})
	if err != nil {
		o.Events.Publish(order.OrderID, domain.EventInventoryRejected, domain.InventoryRejectedPayload{
			OrderID: order.OrderID, Reason: err.Error(),
		})
		return reservedItemsOutput{}, err
	}

	var out reservedItemsOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return reservedItemsOutput{}, err
	}
	return out, nil
}

func (o *Orchestrator) releasePartial(ctx context.Context, items []domain.OrderItem) {
	for _, it := range items {
		if err := o.Inventory.ReleaseAt(ctx, it.ProductID, it.WarehouseID, it.Quantity); err != nil {
			o.Log.Error().Err(err).Str("product_id", it.ProductID).Msg("failed to release partially reserved item")
		}
	}
}

// paymentVerificationOutput is the idempotency-cached result of VerifyPayment.
type paymentVerificationOutput struct {
	PaymentID   string `json:"paymentId"`
	AmountCents int64  `json:"amountCents"`
}

// verifyPayment implements spec §4.3 step 2.
func (o *Orchestrator) verifyPayment(ctx context.Context, order domain.Order) (paymentVerificationOutput, error) {
	if order.Status != domain.StatusInventoryReserved {
		return paymentVerificationOutput{}, apperrors.New(apperrors.KindValidationFailure,
			"verifyPayment precondition failed: status="+string(order.Status))
	}
	if order.PaymentIntentID == "" {
		return paymentVerificationOutput{}, apperrors.New(apperrors.KindValidationFailure, "no paymentIntentId on order")
	}

	key := fmt.Sprintf("order:%s:payment-verification", order.OrderID)
	raw, err := o.Idempotency.ExecuteOnce(ctx, key, "payment-verification", func(ctx context.Context) (json.RawMessage, error) {
		intent, err := o.Payment.GetPaymentIntent(ctx, order.PaymentIntentID)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindExternalServiceError, err, "fetch payment intent")
		}
		if intent.Status != payment.IntentSucceeded {
			return nil, apperrors.New(apperrors.KindPaymentVerificationFail,
				"payment intent status is "+string(intent.Status)+", expected succeeded")
		}
		if intent.AmountCents != order.TotalAmount {
			return nil, apperrors.New(apperrors.KindPaymentVerificationFail,
				fmt.Sprintf("payment amount %d does not match order total %d", intent.AmountCents, order.TotalAmount))
		}
		if err := o.Orders.TransitionStatus(ctx, order.OrderID, domain.StatusInventoryReserved, domain.StatusPaymentConfirmed); err != nil {
			return nil, err
		}
		o.Events.Publish(order.OrderID, domain.EventPaymentVerified, domain.PaymentVerifiedPayload{
			OrderID: order.OrderID, PaymentID: intent.ID, AmountCents: intent.AmountCents,
		})
		return json.Marshal(paymentVerificationOutput{PaymentID: intent.ID, AmountCents: intent.AmountCents})
	})
	if err != nil {
		return paymentVerificationOutput{}, err
	}
	var out paymentVerificationOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return paymentVerificationOutput{}, err
	}
	return out, nil
}

// shippingAllocationOutput is the idempotency-cached result of AllocateShipping.
type shippingAllocationOutput struct {
	TrackingNumber    string    `json:"trackingNumber"`
	Carrier           string    `json:"carrier"`
	EstimatedDelivery time.Time `json:"estimatedDelivery"`
}

// allocateShipping implements spec §4.3 step 3.
func (o *Orchestrator) allocateShipping(ctx context.Context, order domain.Order) (shippingAllocationOutput, error) {
	if order.Status != domain.StatusPaymentConfirmed {
		return shippingAllocationOutput{}, apperrors.New(apperrors.KindValidationFailure,
			"allocateShipping precondition failed: status="+string(order.Status))
	}

	key := fmt.Sprintf("order:%s:allocate-shipping", order.OrderID)
	raw, err := o.Idempotency.ExecuteOnce(ctx, key, "allocate-shipping", func(ctx context.Context) (json.RawMessage, error) {
		carrier := allowedCarriers[o.intn(len(allowedCarriers))]
		now := o.Clock.Now()
		tracking := fmt.Sprintf("%s%d%03d", carrier.Code, now.UnixMilli(), o.intn(1000))
		etaDays := 3 + o.intn(3) // 3..5 inclusive
		eta := now.AddDate(0, 0, etaDays)

		if err := o.Orders.SetShippingAllocation(ctx, order.OrderID, tracking, carrier.Name, eta); err != nil {
			return nil, err
		}
		o.Events.Publish(order.OrderID, domain.EventShippingAllocated, domain.ShippingAllocatedPayload{
			OrderID: order.OrderID, TrackingNumber: tracking, Carrier: carrier.Name,
		})
		return json.Marshal(shippingAllocationOutput{TrackingNumber: tracking, Carrier: carrier.Name, EstimatedDelivery: eta})
	})
	if err != nil {
		return shippingAllocationOutput{}, err
	}
	var out shippingAllocationOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return shippingAllocationOutput{}, err
	}
	return out, nil
}

// sendNotification implements spec §4.3 step 4: best-effort, never fails
// the saga. It is still idempotency-keyed like the other three steps, so a
// replayed Run against an already-SHIPPING_ALLOCATED order (same trigger
// delivered twice, or a worker restart) never re-sends the confirmation.
func (o *Orchestrator) sendNotification(ctx context.Context, order domain.Order) {
	key := fmt.Sprintf("order:%s:send-notification", order.OrderID)
	_, err := o.Idempotency.ExecuteOnce(ctx, key, "send-notification", func(ctx context.Context) (json.RawMessage, error) {
		if err := o.Notify.SendOrderConfirmation(ctx, order.CustomerID, order.OrderID); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]bool{"sent": true})
	})
	if err != nil {
		o.Log.Warn().Err(err).Str("order_id", order.OrderID).Msg("order confirmation notification failed")
	}
}

func (o *Orchestrator) intn(n int) int {
	if o.rngIntn == nil {
		return rand.Intn(n)
	}
	return o.rngIntn(n)
}
