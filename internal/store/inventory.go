package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/order-fulfillment-saga/internal/apperrors"
	"github.com/ariefcatur/order-fulfillment-saga/internal/domain"
)

// InventoryStore is the optimistic-concurrency store backing the inventory
// engine. Every mutating method is a single conditional UPDATE; success is
// judged by rows-affected, never by a prior read+lock.
type InventoryStore struct{ DB *pgxpool.Pool }

// Get reads one (productId, warehouseId) row. A missing Reserved column
// (legacy row) defaults to 0 — spec §9 backfill accommodation, not a
// correctness feature.
func (s *InventoryStore) Get(ctx context.Context, productID, warehouseID string) (domain.Inventory, error) {
	var inv domain.Inventory
	var reserved *int
	row := s.DB.QueryRow(ctx, `
		SELECT product_id, warehouse_id, quantity, reserved, version, updated_at
		FROM inventory WHERE product_id = $1 AND warehouse_id = $2`, productID, warehouseID)
	if err := row.Scan(&inv.ProductID, &inv.WarehouseID, &inv.Quantity, &reserved, &inv.Version, &inv.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Inventory{}, apperrors.New(apperrors.KindNotFound, "inventory row not found")
		}
		return domain.Inventory{}, err
	}
	if reserved != nil {
		inv.Reserved = *reserved
	}
	return inv, nil
}

// ListByProduct enumerates all warehouse rows for a product in a stable
// order (by warehouse_id), bounded across all warehouses, per spec §4.2's
// warehouse-selection algorithm.
func (s *InventoryStore) ListByProduct(ctx context.Context, productID string) ([]domain.Inventory, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT product_id, warehouse_id, quantity, reserved, version, updated_at
		FROM inventory WHERE product_id = $1 ORDER BY warehouse_id`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Inventory
	for rows.Next() {
		var inv domain.Inventory
		if err := rows.Scan(&inv.ProductID, &inv.WarehouseID, &inv.Quantity, &inv.Reserved, &inv.Version, &inv.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// Reserve conditionally increments Reserved by qty iff version matches and
// enough stock is available. Returns ConcurrencyConflict on any predicate
// mismatch; callers distinguish "insufficient stock" only after a re-read,
// per spec §4.2.
func (s *InventoryStore) Reserve(ctx context.Context, productID, warehouseID string, qty int, expectedVersion int64) error {
	return s.conditionalUpdate(ctx, `
		UPDATE inventory
		SET reserved = reserved + $4, version = version + 1, updated_at = now()
		WHERE product_id = $1 AND warehouse_id = $2 AND version = $3 AND (quantity - reserved) >= $4`,
		productID, warehouseID, expectedVersion, qty)
}

// Release conditionally decrements Reserved by qty iff version matches and
// reserved >= qty.
func (s *InventoryStore) Release(ctx context.Context, productID, warehouseID string, qty int, expectedVersion int64) error {
	return s.conditionalUpdate(ctx, `
		UPDATE inventory
		SET reserved = reserved - $4, version = version + 1, updated_at = now()
		WHERE product_id = $1 AND warehouse_id = $2 AND version = $3 AND reserved >= $4`,
		productID, warehouseID, expectedVersion, qty)
}

// ConfirmShipment conditionally decrements Reserved by qty, same predicate
// as Release. Kept distinct per spec §3: physical dispatch is conceptually
// different from an administrative release even though the current saga
// never calls it (see DESIGN.md open-question decision).
func (s *InventoryStore) ConfirmShipment(ctx context.Context, productID, warehouseID string, qty int, expectedVersion int64) error {
	return s.conditionalUpdate(ctx, `
		UPDATE inventory
		SET reserved = reserved - $4, version = version + 1, updated_at = now()
		WHERE product_id = $1 AND warehouse_id = $2 AND version = $3 AND reserved >= $4`,
		productID, warehouseID, expectedVersion, qty)
}

// Restock conditionally increments Quantity by qtyToAdd iff version matches.
func (s *InventoryStore) Restock(ctx context.Context, productID, warehouseID string, qtyToAdd int, expectedVersion int64) error {
	return s.conditionalUpdate(ctx, `
		UPDATE inventory
		SET quantity = quantity + $4, version = version + 1, updated_at = now()
		WHERE product_id = $1 AND warehouse_id = $2 AND version = $3`,
		productID, warehouseID, expectedVersion, qtyToAdd)
}

func (s *InventoryStore) conditionalUpdate(ctx context.Context, query string, productID, warehouseID string, expectedVersion int64, qty int) error {
	ct, err := s.DB.Exec(ctx, query, productID, warehouseID, expectedVersion, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return apperrors.New(apperrors.KindConcurrencyConflict, "inventory version mismatch or insufficient stock")
	}
	return nil
}
