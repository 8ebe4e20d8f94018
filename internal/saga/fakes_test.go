package saga

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ariefcatur/order-fulfillment-saga/internal/apperrors"
	"github.com/ariefcatur/order-fulfillment-saga/internal/domain"
)

// fakeRows is an in-memory stand-in for store.InventoryStore, satisfying
// inventoryengine.Rows, shared by the orchestrator and compensation tests
// in this package.
type fakeRows struct {
	mu   sync.Mutex
	rows map[string]domain.Inventory
}

func invRowKey(productID, warehouseID string) string { return productID + "|" + warehouseID }

func newFakeRows(rows ...domain.Inventory) *fakeRows {
	f := &fakeRows{rows: map[string]domain.Inventory{}}
	for _, r := range rows {
		f.rows[invRowKey(r.ProductID, r.WarehouseID)] = r
	}
	return f
}

func (f *fakeRows) Get(_ context.Context, productID, warehouseID string) (domain.Inventory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[invRowKey(productID, warehouseID)]
	if !ok {
		return domain.Inventory{}, apperrors.New(apperrors.KindNotFound, "not found")
	}
	return r, nil
}

func (f *fakeRows) ListByProduct(_ context.Context, productID string) ([]domain.Inventory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Inventory
	for _, r := range f.rows {
		if r.ProductID == productID {
			out = append(out, r)
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].WarehouseID < out[i].WarehouseID {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (f *fakeRows) Reserve(_ context.Context, productID, warehouseID string, qty int, expectedVersion int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[invRowKey(productID, warehouseID)]
	if !ok || r.Version != expectedVersion || r.Available() < qty {
		return apperrors.New(apperrors.KindConcurrencyConflict, "conflict")
	}
	r.Reserved += qty
	r.Version++
	f.rows[invRowKey(productID, warehouseID)] = r
	return nil
}

func (f *fakeRows) Release(_ context.Context, productID, warehouseID string, qty int, expectedVersion int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[invRowKey(productID, warehouseID)]
	if !ok || r.Version != expectedVersion || r.Reserved < qty {
		return apperrors.New(apperrors.KindConcurrencyConflict, "conflict")
	}
	r.Reserved -= qty
	r.Version++
	f.rows[invRowKey(productID, warehouseID)] = r
	return nil
}

func (f *fakeRows) ConfirmShipment(ctx context.Context, productID, warehouseID string, qty int, expectedVersion int64) error {
	return f.Release(ctx, productID, warehouseID, qty, expectedVersion)
}

func (f *fakeRows) Restock(_ context.Context, productID, warehouseID string, qtyToAdd int, expectedVersion int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[invRowKey(productID, warehouseID)]
	if !ok || r.Version != expectedVersion {
		return apperrors.New(apperrors.KindConcurrencyConflict, "conflict")
	}
	r.Quantity += qtyToAdd
	r.Version++
	f.rows[invRowKey(productID, warehouseID)] = r
	return nil
}

// fakeIdemRows is an in-memory stand-in for store.IdempotencyStore,
// satisfying idempotency.Rows.
type fakeIdemRows struct {
	mu   sync.Mutex
	rows map[string]domain.IdempotencyKey
}

func newFakeIdemRows() *fakeIdemRows {
	return &fakeIdemRows{rows: map[string]domain.IdempotencyKey{}}
}

func (f *fakeIdemRows) TryInsertInProgress(_ context.Context, key, operation string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.rows[key]; exists {
		return false, nil
	}
	now := time.Now().UTC()
	f.rows[key] = domain.IdempotencyKey{Key: key, Operation: operation, Status: domain.IdempotencyInProgress, CreatedAt: now, ExpiresAt: now.Add(ttl)}
	return true, nil
}

func (f *fakeIdemRows) ReplaceFailedWithInProgress(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.rows[key]
	if !ok || k.Status != domain.IdempotencyFailed {
		return false, nil
	}
	k.Status = domain.IdempotencyInProgress
	k.Result = nil
	f.rows[key] = k
	return true, nil
}

func (f *fakeIdemRows) Get(_ context.Context, key string) (domain.IdempotencyKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.rows[key]
	if !ok {
		return domain.IdempotencyKey{}, apperrors.New(apperrors.KindNotFound, "not found")
	}
	return k, nil
}

func (f *fakeIdemRows) Complete(_ context.Context, key string, result json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := f.rows[key]
	k.Status = domain.IdempotencyCompleted
	k.Result = result
	f.rows[key] = k
	return nil
}

func (f *fakeIdemRows) Fail(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := f.rows[key]
	k.Status = domain.IdempotencyFailed
	f.rows[key] = k
	return nil
}
