// Package inventoryengine implements the multi-warehouse reservation engine
// from spec §4.2: optimistic-concurrency mutation of internal/store's
// InventoryStore rows, plus the warehouse-selection algorithm that tries
// every candidate warehouse before giving up.
//
// This is a deliberate re-architecture away from the teacher's
// internal/orders.ReservationRepo, which locks a single products.stock
// column with SELECT ... FOR UPDATE. The spec's concurrency model (§5) rules
// out in-process or row-lock coordination in favor of a versioned
// conditional UPDATE with caller-side retry, so this package keeps the
// teacher's retry-on-contention instinct but replaces the locking primitive.
package inventoryengine

import (
	"context"
	"time"

	"github.com/ariefcatur/order-fulfillment-saga/internal/apperrors"
	"github.com/ariefcatur/order-fulfillment-saga/internal/domain"
	"github.com/ariefcatur/order-fulfillment-saga/internal/store"
)

// maxCandidateRetries is the per-warehouse retry budget from spec §4.2 step
// 3: "retry up to three times with backoff 100*n ms".
const maxCandidateRetries = 3

// Rows is the subset of store.InventoryStore the engine depends on,
// extracted so tests can substitute an in-memory fake instead of a real
// pool (same accept-an-interface shape as polkiloo-gophermart's
// usecase.OrderRepository).
type Rows interface {
	Get(ctx context.Context, productID, warehouseID string) (domain.Inventory, error)
	ListByProduct(ctx context.Context, productID string) ([]domain.Inventory, error)
	Reserve(ctx context.Context, productID, warehouseID string, qty int, expectedVersion int64) error
	Release(ctx context.Context, productID, warehouseID string, qty int, expectedVersion int64) error
	ConfirmShipment(ctx context.Context, productID, warehouseID string, qty int, expectedVersion int64) error
	Restock(ctx context.Context, productID, warehouseID string, qtyToAdd int, expectedVersion int64) error
}

type Engine struct {
	Store Rows

	// sleep is overridden in tests to avoid real backoff delays.
	sleep func(time.Duration)
}

func New(s Rows) *Engine {
	return &Engine{Store: s, sleep: time.Sleep}
}

var _ Rows = (*store.InventoryStore)(nil)

// Get reads one (productID, warehouseID) row, defaulting Reserved to 0 for
// legacy rows via the store's own backfill (spec §9).
func (e *Engine) Get(ctx context.Context, productID, warehouseID string) (domain.Inventory, error) {
	return e.Store.Get(ctx, productID, warehouseID)
}

// Restock increases on-hand quantity, re-reading and retrying immediately
// on every concurrent version mismatch, with no retry bound and no backoff
// (unlike ReserveForItem), since restocks race with reservations on the
// same row.
func (e *Engine) Restock(ctx context.Context, productID, warehouseID string, qtyToAdd int) (domain.Inventory, error) {
	for {
		cur, err := e.Store.Get(ctx, productID, warehouseID)
		if err != nil {
			return domain.Inventory{}, err
		}
		if err := e.Store.Restock(ctx, productID, warehouseID, qtyToAdd, cur.Version); err != nil {
			if apperrors.Is(err, apperrors.KindConcurrencyConflict) {
				continue
			}
			return domain.Inventory{}, err
		}
		return e.Store.Get(ctx, productID, warehouseID)
	}
}

// ReleaseAt releases qty previously reserved at a specific warehouse,
// making up to maxCandidateRetries attempts in total, with 100*n ms backoff
// after each version conflict (compensation and the reaper call this
// per item; each targets a distinct row, so no cross-item coordination is
// needed — spec §9's "naturally parallelizable" fan-out).
func (e *Engine) ReleaseAt(ctx context.Context, productID, warehouseID string, qty int) error {
	for attempt := 1; ; attempt++ {
		cur, err := e.Store.Get(ctx, productID, warehouseID)
		if err != nil {
			return err
		}
		err = e.Store.Release(ctx, productID, warehouseID, qty, cur.Version)
		if err == nil {
			return nil
		}
		if !apperrors.Is(err, apperrors.KindConcurrencyConflict) || attempt >= maxCandidateRetries {
			return err
		}
		e.backoff(attempt)
	}
}

// ConfirmShipmentAt decrements Reserved for a physically-dispatched item.
// Unused by the live saga (spec open question, decided in DESIGN.md: the
// saga terminates at SHIPPING_ALLOCATED) but kept as a first-class engine
// operation for a future physical-dispatch integration.
func (e *Engine) ConfirmShipmentAt(ctx context.Context, productID, warehouseID string, qty int) error {
	for attempt := 1; ; attempt++ {
		cur, err := e.Store.Get(ctx, productID, warehouseID)
		if err != nil {
			return err
		}
		err = e.Store.ConfirmShipment(ctx, productID, warehouseID, qty, cur.Version)
		if err == nil {
			return nil
		}
		if !apperrors.Is(err, apperrors.KindConcurrencyConflict) || attempt >= maxCandidateRetries {
			return err
		}
		e.backoff(attempt)
	}
}

// ReservationResult is the per-item outcome of ReserveForItem: which
// warehouse satisfied the request, so the caller can persist it onto the
// order item (spec §4.3 step 1 output).
type ReservationResult struct {
	WarehouseID string
}

// ReserveForItem implements spec §4.2's warehouse-selection algorithm:
// enumerate candidate warehouses for productID in stable order, skip any
// with insufficient available stock, and for the first plausible candidate
// attempt Reserve with up to maxCandidateRetries retries on a version
// conflict before moving to the next candidate. Fails with
// InsufficientInventory if no warehouse succeeds.
func (e *Engine) ReserveForItem(ctx context.Context, productID string, qty int) (ReservationResult, error) {
	rows, err := e.Store.ListByProduct(ctx, productID)
	if err != nil {
		return ReservationResult{}, err
	}

	for _, candidate := range rows {
		if candidate.Available() < qty {
			continue
		}
		if e.tryReserveCandidate(ctx, productID, candidate.WarehouseID, qty) {
			return ReservationResult{WarehouseID: candidate.WarehouseID}, nil
		}
	}
	return ReservationResult{}, apperrors.New(apperrors.KindInsufficientInventory,
		"no warehouse has sufficient stock for product "+productID)
}

// tryReserveCandidate re-reads the candidate row for a fresh version, then
// attempts Reserve, retrying on ConcurrencyConflict up to
// maxCandidateRetries times with 100*n ms backoff before giving up on this
// candidate (spec §4.2 step 3).
func (e *Engine) tryReserveCandidate(ctx context.Context, productID, warehouseID string, qty int) bool {
	for attempt := 1; attempt <= maxCandidateRetries+1; attempt++ {
		fresh, err := e.Store.Get(ctx, productID, warehouseID)
		if err != nil || fresh.Available() < qty {
			return false
		}
		err = e.Store.Reserve(ctx, productID, warehouseID, qty, fresh.Version)
		if err == nil {
			return true
		}
		if !apperrors.Is(err, apperrors.KindConcurrencyConflict) {
			return false
		}
		if attempt <= maxCandidateRetries {
			e.backoff(attempt)
		}
	}
	return false
}

func (e *Engine) backoff(attempt int) {
	if e.sleep == nil {
		e.sleep = time.Sleep
	}
	e.sleep(time.Duration(100*attempt) * time.Millisecond)
}
