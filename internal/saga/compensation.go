package saga

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/order-fulfillment-saga/internal/apperrors"
	"github.com/ariefcatur/order-fulfillment-saga/internal/domain"
	"github.com/ariefcatur/order-fulfillment-saga/internal/inventoryengine"
	"github.com/ariefcatur/order-fulfillment-saga/internal/payment"
)

// CompensationHandler reverses completed saga steps given the order's
// current observed status (spec §4.4). Per-item inventory release fans out
// with errgroup.Group, bounded by item count: each goroutine targets a
// distinct (productId, warehouseId) row, so no coordination beyond the
// store's optimistic-concurrency retry is needed (spec §9).
type CompensationHandler struct {
	Orders    OrderRows
	Inventory *inventoryengine.Engine
	Payment   payment.Provider
	Events    EventPublisher
	Log       zerolog.Logger
}

// Result is the value Compensate returns. Refund and per-item release
// failures are logged and leave Success true. A failed final CANCELLED
// transition yields Success=false together with the error; an order that
// cannot be loaded yields only the error.
type Result struct {
	Success          bool
	CompensatedSteps []string
}

// CompensateForFailure drives the compensation table in spec §4.4 in
// response to a failed saga step. failedStep and cause are used only for
// diagnostics and to derive the cancelReason metadata value (preferring the
// apperrors.Kind of cause, so scenario assertions like "reason containing
// InsufficientInventory" hold regardless of which step failed); the actions
// taken are driven exclusively by order.Status.
func (c *CompensationHandler) CompensateForFailure(ctx context.Context, orderID, failedStep string, cause error) (Result, error) {
	return c.Compensate(ctx, orderID, reasonFromCause(cause, failedStep))
}

// Compensate drives the compensation table in spec §4.4 with an explicit
// cancelReason — used directly by admin cancellation (spec §6's
// POST /admin/orders/{orderId}/cancel, body {reason}).
func (c *CompensationHandler) Compensate(ctx context.Context, orderID, reason string) (Result, error) {
	order, err := c.Orders.Get(ctx, orderID)
	if err != nil {
		return Result{}, err
	}

	result := Result{Success: true}

	switch order.Status {
	case domain.StatusCancelled:
		return Result{Success: true}, nil

	case domain.StatusPending:
		// Nothing committed yet: reserveInventory already released any
		// partial reservation from its own attempt before returning.

	case domain.StatusInventoryReserved:
		c.releaseItems(ctx, order.Items)
		result.CompensatedSteps = append(result.CompensatedSteps, "inventory_released")

	case domain.StatusPaymentConfirmed, domain.StatusShippingAllocated:
		if order.PaymentIntentID != "" {
			if _, err := c.Payment.Refund(ctx, order.PaymentIntentID, "requested_by_customer"); err != nil {
				c.Log.Error().Err(err).Str("order_id", orderID).Msg("refund failed during compensation, continuing")
			} else {
				if err := c.Orders.SetPaymentStatus(ctx, orderID, domain.PaymentRefunded); err != nil {
					c.Log.Error().Err(err).Str("order_id", orderID).Msg("failed to persist refunded payment status")
				}
				result.CompensatedSteps = append(result.CompensatedSteps, "payment_refunded")
			}
		}
		c.releaseItems(ctx, order.Items)
		result.CompensatedSteps = append(result.CompensatedSteps, "inventory_released")
	}

	if err := c.Orders.CancelWithMetadata(ctx, orderID, domain.Metadata{}.WithCancelReason(reason)); err != nil {
		c.Log.Error().Err(err).Str("order_id", orderID).Msg("final CANCELLED transition failed during compensation")
		result.Success = false
		return result, err
	}
	result.CompensatedSteps = append(result.CompensatedSteps, "order_cancelled")
	c.Events.Publish(orderID, domain.EventOrderCancelled, domain.OrderCancelledPayload{OrderID: orderID, Reason: reason})
	return result, nil
}

// releaseItems fans out per-item release, bounded by item count. A single
// item's release failure is logged and skipped; it never aborts the other
// items or the caller's subsequent CANCELLED transition (spec §4.4 error
// policy).
func (c *CompensationHandler) releaseItems(ctx context.Context, items []domain.OrderItem) {
	g, gctx := errgroup.WithContext(ctx)
	for _, it := range items {
		it := it
		g.Go(func() error {
			if it.WarehouseID == "" {
				return nil
			}
			if err := c.Inventory.ReleaseAt(gctx, it.ProductID, it.WarehouseID, it.Quantity); err != nil {
				c.Log.Error().Err(err).Str("product_id", it.ProductID).Str("warehouse_id", it.WarehouseID).
					Msg("failed to release item during compensation, skipping")
			}
			return nil
		})
	}
	_ = g.Wait() // releaseItems never returns an error: per-item failures are logged, not aggregated
}

// reasonFromCause prefers the apperrors.Kind of cause, falling back to
// failedStep, then a generic label — so scenario assertions like "reason
// containing InsufficientInventory" hold regardless of which step failed.
func reasonFromCause(cause error, failedStep string) string {
	if appErr, ok := apperrors.As(cause); ok {
		return string(appErr.Kind)
	}
	if failedStep != "" {
		return failedStep
	}
	return "COMPENSATED"
}
