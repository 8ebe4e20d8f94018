// Package reaper implements the abandoned-cart sweep (spec §4.6): a
// ticker-driven polling worker pool, grounded on
// polkiloo-gophermart's internal/worker.OrderProcessor
// (dispatch-then-worker-pool shape), generalized from "poll accrual
// system" to "poll orders past the abandoned-cart timeout".
package reaper

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/order-fulfillment-saga/internal/domain"
	"github.com/ariefcatur/order-fulfillment-saga/internal/inventoryengine"
	"github.com/ariefcatur/order-fulfillment-saga/internal/notify"
	"github.com/ariefcatur/order-fulfillment-saga/internal/store"
)

type EventPublisher interface {
	Publish(orderID string, eventType string, payload any)
}

// OrderRows, IdemRows and SessionRows are the subsets of their respective
// store types the reaper depends on, extracted for substitutability in
// tests.
type OrderRows interface {
	Get(ctx context.Context, orderID string) (domain.Order, error)
	CancelWithMetadata(ctx context.Context, orderID string, metaPatch domain.Metadata) error
	MarkReminderSent(ctx context.Context, orderID string) error
	ListAbandonedCandidates(ctx context.Context, cutoff time.Time) ([]string, error)
	ListReminderCandidates(ctx context.Context, cutoff time.Time) ([]string, error)
}

type IdemRows interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type SessionRows interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

var (
	_ OrderRows   = (*store.OrderStore)(nil)
	_ IdemRows    = (*store.IdempotencyStore)(nil)
	_ SessionRows = (*store.SessionStore)(nil)
)

type Config struct {
	// TimeoutMinutes is the age (from createdAt) past which an
	// INVENTORY_RESERVED, payment-pending order is abandoned (spec §4.6
	// default: 30).
	TimeoutMinutes int
	// ReminderEnabled gates the abandoned-cart reminder email feature.
	ReminderEnabled bool
	// PollInterval is how often Tick fires (spec: "every 5-10 minutes").
	PollInterval time.Duration
	Workers      int
}

type Reaper struct {
	Orders    OrderRows
	Idem      IdemRows
	Sessions  SessionRows
	Inventory *inventoryengine.Engine
	Notify    notify.Adapter
	Events    EventPublisher
	Clock     domain.Clock
	Cfg       Config
	Log       zerolog.Logger

	jobs   chan string
	wg     sync.WaitGroup
	cancel context.CancelFunc
	mu     sync.Mutex
}

// Start launches the ticker-driven worker pool. Mirrors
// worker.OrderProcessor.Start's dispatch+worker-pool shape.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	workers := r.Cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	r.jobs = make(chan string, workers*4)

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker(runCtx)
	}
	r.wg.Add(1)
	go r.dispatch(runCtx)
}

func (r *Reaper) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Reaper) dispatch(ctx context.Context) {
	defer r.wg.Done()
	defer close(r.jobs)

	interval := r.Cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

func (r *Reaper) worker(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case orderID, ok := <-r.jobs:
			if !ok {
				return
			}
			r.cancelAbandoned(ctx, orderID)
		}
	}
}

// Tick runs one sweep: enumerate candidates, send reminders, dispatch
// cancellations, and purge expired idempotency/session rows (spec §3's TTL
// purge, since Postgres has no native per-row TTL).
func (r *Reaper) Tick(ctx context.Context) {
	now := r.Clock.Now()
	timeout := time.Duration(r.Cfg.TimeoutMinutes) * time.Minute
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}

	if r.Cfg.ReminderEnabled {
		r.sendReminders(ctx, now, timeout)
	}

	cutoff := now.Add(-timeout)
	ids, err := r.Orders.ListAbandonedCandidates(ctx, cutoff)
	if err != nil {
		r.Log.Error().Err(err).Msg("reaper: list abandoned candidates failed")
		return
	}
	for _, id := range ids {
		select {
		case r.jobs <- id:
		case <-ctx.Done():
			return
		}
	}

	if _, err := r.Idem.PurgeExpired(ctx, now); err != nil {
		r.Log.Error().Err(err).Msg("reaper: purge expired idempotency keys failed")
	}
	if r.Sessions != nil {
		if _, err := r.Sessions.PurgeExpired(ctx, now); err != nil {
			r.Log.Error().Err(err).Msg("reaper: purge expired sessions failed")
		}
	}
}

// sendReminders delivers the abandoned-cart reminder once per order, for
// orders older than (TIMEOUT - 5min) that haven't received one yet (spec
// §4.6). A reminder failure never blocks cancellation — it's a disjoint
// loop from cancelAbandoned.
func (r *Reaper) sendReminders(ctx context.Context, now time.Time, timeout time.Duration) {
	reminderCutoff := now.Add(-(timeout - 5*time.Minute))
	ids, err := r.Orders.ListReminderCandidates(ctx, reminderCutoff)
	if err != nil {
		r.Log.Error().Err(err).Msg("reaper: list reminder candidates failed")
		return
	}
	for _, id := range ids {
		order, err := r.Orders.Get(ctx, id)
		if err != nil {
			continue
		}
		if err := r.Notify.SendAbandonedCartReminder(ctx, order.CustomerID, id); err != nil {
			r.Log.Warn().Err(err).Str("order_id", id).Msg("abandoned-cart reminder send failed")
			continue
		}
		if err := r.Orders.MarkReminderSent(ctx, id); err != nil {
			r.Log.Error().Err(err).Str("order_id", id).Msg("failed to mark reminder sent")
		}
	}
}

// cancelAbandoned implements spec §4.6 steps 1-2 for a single order:
// release every item's reservation (errgroup fan-out, one goroutine per
// distinct inventory row, same pattern as CompensationHandler.releaseItems)
// then transition to CANCELLED with cancelReason=ABANDONED_CART. Per-item
// release failures are logged and the loop continues; the final CANCELLED
// transition is best-effort and simply retried on the next tick if it
// fails (spec: "the final CANCELLED transition is best-effort per order").
func (r *Reaper) cancelAbandoned(ctx context.Context, orderID string) {
	order, err := r.Orders.Get(ctx, orderID)
	if err != nil {
		r.Log.Error().Err(err).Str("order_id", orderID).Msg("reaper: failed to load order")
		return
	}
	if order.Status != domain.StatusInventoryReserved {
		return // raced with the saga or a prior tick; nothing to do
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, it := range order.Items {
		it := it
		g.Go(func() error {
			if it.WarehouseID == "" {
				return nil
			}
			if err := r.Inventory.ReleaseAt(gctx, it.ProductID, it.WarehouseID, it.Quantity); err != nil {
				r.Log.Error().Err(err).Str("order_id", orderID).Str("product_id", it.ProductID).
					Msg("reaper: failed to release item, skipping")
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := r.Orders.CancelWithMetadata(ctx, orderID, domain.Metadata{}.WithCancelReason(domain.CancelReasonAbandonedCart)); err != nil {
		r.Log.Error().Err(err).Str("order_id", orderID).Msg("reaper: final CANCELLED transition failed, will retry next tick")
		return
	}
	r.Events.Publish(orderID, domain.EventOrderCancelled, domain.OrderCancelledPayload{
		OrderID: orderID, Reason: domain.CancelReasonAbandonedCart,
	})
}
