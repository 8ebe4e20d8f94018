// Package store implements the Postgres-backed repositories for Orders,
// Inventory, Products, IdempotencyKeys and Sessions described in spec §3.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/order-fulfillment-saga/internal/apperrors"
	"github.com/ariefcatur/order-fulfillment-saga/internal/domain"
)

type OrderStore struct{ DB *pgxpool.Pool }

// Create inserts a new PENDING order and its items in one transaction,
// validating the totals-consistency invariant before writing anything.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	if domain.ItemsTotal(o.Items) != o.TotalAmount {
		return apperrors.New(apperrors.KindValidationFailure, "totalAmount does not match sum of item totals")
	}
	for _, it := range o.Items {
		if it.Quantity*int(it.PricePerUnit) != int(it.TotalPrice) {
			return apperrors.New(apperrors.KindValidationFailure, "item totalPrice does not match quantity * pricePerUnit")
		}
	}

	addr, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(o.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, customer_id, status, total_cents, shipping_address, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		o.OrderID, o.CustomerID, string(domain.StatusPending), o.TotalAmount, addr, meta, o.CreatedAt)
	if err != nil {
		return err
	}

	for _, it := range o.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (order_id, product_id, product_name, quantity, price_per_unit, total_price, warehouse_id)
			VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))`,
			o.OrderID, it.ProductID, it.ProductName, it.Quantity, it.PricePerUnit, it.TotalPrice, it.WarehouseID)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// Get loads an order and its items.
func (s *OrderStore) Get(ctx context.Context, orderID string) (domain.Order, error) {
	var o domain.Order
	var addr, meta []byte
	var paymentIntentID, paymentStatus, tracking, carrier *string
	var estDelivery *time.Time

	row := s.DB.QueryRow(ctx, `
		SELECT id, customer_id, status, total_cents, shipping_address, payment_intent_id,
		       payment_status, tracking_number, carrier, estimated_delivery, metadata, created_at, updated_at
		FROM orders WHERE id = $1`, orderID)
	if err := row.Scan(&o.OrderID, &o.CustomerID, &o.Status, &o.TotalAmount, &addr, &paymentIntentID,
		&paymentStatus, &tracking, &carrier, &estDelivery, &meta, &o.CreatedAt, &o.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, apperrors.New(apperrors.KindNotFound, "order not found")
		}
		return domain.Order{}, err
	}
	if paymentIntentID != nil {
		o.PaymentIntentID = *paymentIntentID
	}
	if paymentStatus != nil {
		o.PaymentStatus = domain.PaymentStatus(*paymentStatus)
	}
	if tracking != nil {
		o.TrackingNumber = *tracking
	}
	if carrier != nil {
		o.Carrier = *carrier
	}
	o.EstimatedDelivery = estDelivery
	if err := json.Unmarshal(addr, &o.ShippingAddress); err != nil {
		return domain.Order{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &o.Metadata); err != nil {
			return domain.Order{}, err
		}
	}

	rows, err := s.DB.Query(ctx, `
		SELECT product_id, product_name, quantity, price_per_unit, total_price, COALESCE(warehouse_id, '')
		FROM order_items WHERE order_id = $1 ORDER BY product_id`, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ProductID, &it.ProductName, &it.Quantity, &it.PricePerUnit, &it.TotalPrice, &it.WarehouseID); err != nil {
			return domain.Order{}, err
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

// TransitionStatus performs a conditional status update: the write only
// applies if the order's current status equals expectedFrom, so two writers
// racing to advance the same order have exactly one succeed (spec §5).
func (s *OrderStore) TransitionStatus(ctx context.Context, orderID string, expectedFrom, to domain.Status) error {
	if !domain.CanTransition(expectedFrom, to) {
		return apperrors.New(apperrors.KindValidationFailure, "illegal status transition")
	}
	ct, err := s.DB.Exec(ctx, `
		UPDATE orders SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`,
		orderID, string(expectedFrom), string(to))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return apperrors.New(apperrors.KindConcurrencyConflict, "order status changed concurrently")
	}
	return nil
}

// SetItemWarehouses persists the warehouseId chosen for each item and
// transitions PENDING -> INVENTORY_RESERVED atomically with that write.
func (s *OrderStore) SetItemWarehouses(ctx context.Context, orderID string, items []domain.OrderItem) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, it := range items {
		ct, err := tx.Exec(ctx, `UPDATE order_items SET warehouse_id = $3 WHERE order_id = $1 AND product_id = $2`,
			orderID, it.ProductID, it.WarehouseID)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return apperrors.New(apperrors.KindNotFound, "order item not found: "+it.ProductID)
		}
	}
	ct, err := tx.Exec(ctx, `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1 AND status = $3`,
		orderID, string(domain.StatusInventoryReserved), string(domain.StatusPending))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return apperrors.New(apperrors.KindConcurrencyConflict, "order status changed concurrently")
	}
	return tx.Commit(ctx)
}

// SetPayment records the payment intent id and payment status; called by
// order creation after it mints the intent, and by the webhook ingress
// before it triggers the saga.
func (s *OrderStore) SetPayment(ctx context.Context, orderID, paymentIntentID string, status domain.PaymentStatus) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE orders SET payment_intent_id = $2, payment_status = $3, updated_at = now() WHERE id = $1`,
		orderID, paymentIntentID, string(status))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return apperrors.New(apperrors.KindNotFound, "order not found")
	}
	return nil
}

// SetPaymentStatus updates only the payment status field, used by
// compensation (refunded) and the webhook's failed/canceled branches.
func (s *OrderStore) SetPaymentStatus(ctx context.Context, orderID string, status domain.PaymentStatus) error {
	ct, err := s.DB.Exec(ctx, `UPDATE orders SET payment_status = $2, updated_at = now() WHERE id = $1`,
		orderID, string(status))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return apperrors.New(apperrors.KindNotFound, "order not found")
	}
	return nil
}

// SetShippingAllocation persists tracking/carrier/delivery and transitions
// PAYMENT_CONFIRMED -> SHIPPING_ALLOCATED atomically.
func (s *OrderStore) SetShippingAllocation(ctx context.Context, orderID, tracking, carrier string, eta time.Time) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE orders SET tracking_number = $2, carrier = $3, estimated_delivery = $4,
		       status = $5, updated_at = now()
		WHERE id = $1 AND status = $6`,
		orderID, tracking, carrier, eta, string(domain.StatusShippingAllocated), string(domain.StatusPaymentConfirmed))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return apperrors.New(apperrors.KindConcurrencyConflict, "order status changed concurrently")
	}
	return nil
}

// CancelWithMetadata transitions to CANCELLED unconditionally (compensation
// always attempts this regardless of current status) and merges metadata.
func (s *OrderStore) CancelWithMetadata(ctx context.Context, orderID string, metaPatch domain.Metadata) error {
	o, err := s.Get(ctx, orderID)
	if err != nil {
		return err
	}
	merged := o.Metadata
	if merged == nil {
		merged = domain.Metadata{}
	}
	for k, v := range metaPatch {
		merged[k] = v
	}
	b, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `UPDATE orders SET status = $2, metadata = $3, updated_at = now() WHERE id = $1`,
		orderID, string(domain.StatusCancelled), b)
	return err
}

// MarkReminderSent merges reminderEmailSent=true into metadata without
// touching status.
func (s *OrderStore) MarkReminderSent(ctx context.Context, orderID string) error {
	o, err := s.Get(ctx, orderID)
	if err != nil {
		return err
	}
	merged := o.Metadata.WithReminderEmailSent()
	b, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `UPDATE orders SET metadata = $2, updated_at = now() WHERE id = $1`, orderID, b)
	return err
}

// ListByCustomer returns orders for a customer, most recent first.
func (s *OrderStore) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id FROM orders WHERE customer_id = $1 ORDER BY created_at DESC LIMIT $2`, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	out := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		o, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// ListAbandonedCandidates returns INVENTORY_RESERVED orders with a pending
// (or never-recorded) payment status older than cutoff — reaper
// cancellation candidates (spec §4.6).
func (s *OrderStore) ListAbandonedCandidates(ctx context.Context, cutoff time.Time) ([]string, error) {
	return s.queryIDs(ctx, `
		SELECT id FROM orders
		WHERE status = $1
		  AND (payment_status IS NULL OR payment_status = $2)
		  AND created_at < $3
		ORDER BY created_at ASC`,
		string(domain.StatusInventoryReserved), string(domain.PaymentPending), cutoff)
}

// ListReminderCandidates returns orders past the reminder cutoff that have
// not yet had a reminder email recorded in metadata.
func (s *OrderStore) ListReminderCandidates(ctx context.Context, cutoff time.Time) ([]string, error) {
	return s.queryIDs(ctx, `
		SELECT id FROM orders
		WHERE status = $1
		  AND (payment_status IS NULL OR payment_status = $2)
		  AND created_at < $3
		  AND COALESCE(metadata->>'reminderEmailSent', '') <> 'true'
		ORDER BY created_at ASC`,
		string(domain.StatusInventoryReserved), string(domain.PaymentPending), cutoff)
}

func (s *OrderStore) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
