package reaper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ariefcatur/order-fulfillment-saga/internal/apperrors"
	"github.com/ariefcatur/order-fulfillment-saga/internal/domain"
	"github.com/ariefcatur/order-fulfillment-saga/internal/inventoryengine"
)

type fakeOrders struct {
	mu          sync.Mutex
	orders      map[string]domain.Order
	abandoned   []string
	reminder    []string
	reminderErr error
	abandonedErr error
}

func newFakeOrders(orders ...domain.Order) *fakeOrders {
	f := &fakeOrders{orders: map[string]domain.Order{}}
	for _, o := range orders {
		f.orders[o.OrderID] = o
	}
	return f
}

func (f *fakeOrders) Get(_ context.Context, orderID string) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return domain.Order{}, apperrors.New(apperrors.KindNotFound, "order not found")
	}
	return o, nil
}

func (f *fakeOrders) CancelWithMetadata(_ context.Context, orderID string, metaPatch domain.Metadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return apperrors.New(apperrors.KindNotFound, "order not found")
	}
	merged := o.Metadata
	if merged == nil {
		merged = domain.Metadata{}
	}
	for k, v := range metaPatch {
		merged[k] = v
	}
	o.Metadata = merged
	o.Status = domain.StatusCancelled
	f.orders[orderID] = o
	return nil
}

func (f *fakeOrders) MarkReminderSent(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return apperrors.New(apperrors.KindNotFound, "order not found")
	}
	if o.Metadata == nil {
		o.Metadata = domain.Metadata{}
	}
	o.Metadata = o.Metadata.WithReminderEmailSent()
	f.orders[orderID] = o
	return nil
}

func (f *fakeOrders) ListAbandonedCandidates(context.Context, time.Time) ([]string, error) {
	if f.abandonedErr != nil {
		return nil, f.abandonedErr
	}
	return f.abandoned, nil
}

func (f *fakeOrders) ListReminderCandidates(context.Context, time.Time) ([]string, error) {
	if f.reminderErr != nil {
		return nil, f.reminderErr
	}
	return f.reminder, nil
}

type fakeIdemRows struct{ purged int }

func (f *fakeIdemRows) PurgeExpired(context.Context, time.Time) (int64, error) {
	f.purged++
	return 0, nil
}

type fakeSessionRows struct{ purged int }

func (f *fakeSessionRows) PurgeExpired(context.Context, time.Time) (int64, error) {
	f.purged++
	return 0, nil
}

type fakeInvRows struct {
	mu   sync.Mutex
	rows map[string]domain.Inventory
}

func newFakeInvRows(rows ...domain.Inventory) *fakeInvRows {
	f := &fakeInvRows{rows: map[string]domain.Inventory{}}
	for _, r := range rows {
		f.rows[r.ProductID+"|"+r.WarehouseID] = r
	}
	return f
}

func (f *fakeInvRows) Get(_ context.Context, productID, warehouseID string) (domain.Inventory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[productID+"|"+warehouseID]
	if !ok {
		return domain.Inventory{}, apperrors.New(apperrors.KindNotFound, "not found")
	}
	return r, nil
}

func (f *fakeInvRows) ListByProduct(context.Context, string) ([]domain.Inventory, error) { return nil, nil }

func (f *fakeInvRows) Reserve(context.Context, string, string, int, int64) error { return nil }

func (f *fakeInvRows) Release(_ context.Context, productID, warehouseID string, qty int, expectedVersion int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := productID + "|" + warehouseID
	r, ok := f.rows[key]
	if !ok || r.Version != expectedVersion || r.Reserved < qty {
		return apperrors.New(apperrors.KindConcurrencyConflict, "conflict")
	}
	r.Reserved -= qty
	r.Version++
	f.rows[key] = r
	return nil
}

func (f *fakeInvRows) ConfirmShipment(ctx context.Context, productID, warehouseID string, qty int, expectedVersion int64) error {
	return f.Release(ctx, productID, warehouseID, qty, expectedVersion)
}

func (f *fakeInvRows) Restock(context.Context, string, string, int, int64) error { return nil }

type fakeNotify struct {
	mu        sync.Mutex
	reminders []string
}

func (n *fakeNotify) SendOrderConfirmation(context.Context, string, string) error { return nil }

func (n *fakeNotify) SendAbandonedCartReminder(_ context.Context, _ string, orderID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reminders = append(n.reminders, orderID)
	return nil
}

type fakeEvents struct {
	mu        sync.Mutex
	published []string
}

func (e *fakeEvents) Publish(orderID string, eventType string, _ any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.published = append(e.published, orderID+":"+eventType)
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestCancelAbandonedReleasesInventoryAndCancelsOrder(t *testing.T) {
	orderID := "order-1"
	orders := newFakeOrders(domain.Order{
		OrderID: orderID, Status: domain.StatusInventoryReserved,
		Items: []domain.OrderItem{{ProductID: "p1", Quantity: 2, WarehouseID: "wh-a"}},
	})
	invRows := newFakeInvRows(domain.Inventory{ProductID: "p1", WarehouseID: "wh-a", Quantity: 10, Reserved: 2, Version: 1})
	events := &fakeEvents{}

	r := &Reaper{
		Orders:    orders,
		Idem:      &fakeIdemRows{},
		Sessions:  &fakeSessionRows{},
		Inventory: inventoryengine.New(invRows),
		Notify:    &fakeNotify{},
		Events:    events,
		Clock:     fixedClock{now: time.Unix(0, 0).UTC()},
		Cfg:       Config{TimeoutMinutes: 30},
		Log:       zerolog.Nop(),
	}

	r.cancelAbandoned(context.Background(), orderID)

	final, _ := orders.Get(context.Background(), orderID)
	if final.Status != domain.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", final.Status)
	}
	reason, _ := final.Metadata.CancelReason()
	if reason != domain.CancelReasonAbandonedCart {
		t.Fatalf("expected cancelReason=%s, got %q", domain.CancelReasonAbandonedCart, reason)
	}
	got, _ := invRows.Get(context.Background(), "p1", "wh-a")
	if got.Reserved != 0 {
		t.Fatalf("expected inventory released, reserved=%d", got.Reserved)
	}
	if len(events.published) != 1 || events.published[0] != orderID+":"+domain.EventOrderCancelled {
		t.Fatalf("expected one OrderCancelled event, got %v", events.published)
	}
}

func TestCancelAbandonedIsNoOpWhenOrderAlreadyProgressed(t *testing.T) {
	orderID := "order-1"
	orders := newFakeOrders(domain.Order{OrderID: orderID, Status: domain.StatusPaymentConfirmed})
	events := &fakeEvents{}

	r := &Reaper{
		Orders:    orders,
		Idem:      &fakeIdemRows{},
		Inventory: inventoryengine.New(newFakeInvRows()),
		Notify:    &fakeNotify{},
		Events:    events,
		Clock:     fixedClock{now: time.Unix(0, 0).UTC()},
		Cfg:       Config{TimeoutMinutes: 30},
		Log:       zerolog.Nop(),
	}

	r.cancelAbandoned(context.Background(), orderID)

	final, _ := orders.Get(context.Background(), orderID)
	if final.Status != domain.StatusPaymentConfirmed {
		t.Fatalf("expected status untouched, got %s", final.Status)
	}
	if len(events.published) != 0 {
		t.Fatalf("expected no event published, got %v", events.published)
	}
}

func TestTickSendsRemindersAndPurgesExpiredKeys(t *testing.T) {
	orders := newFakeOrders(domain.Order{OrderID: "order-1", CustomerID: "cust-1", Status: domain.StatusInventoryReserved})
	orders.reminder = []string{"order-1"}
	idem := &fakeIdemRows{}
	sessions := &fakeSessionRows{}
	notifier := &fakeNotify{}

	r := &Reaper{
		Orders:    orders,
		Idem:      idem,
		Sessions:  sessions,
		Inventory: inventoryengine.New(newFakeInvRows()),
		Notify:    notifier,
		Events:    &fakeEvents{},
		Clock:     fixedClock{now: time.Unix(0, 0).UTC()},
		Cfg:       Config{TimeoutMinutes: 30, ReminderEnabled: true, Workers: 2},
		Log:       zerolog.Nop(),
	}
	r.jobs = make(chan string, 4)

	r.Tick(context.Background())
	close(r.jobs)

	if len(notifier.reminders) != 1 || notifier.reminders[0] != "order-1" {
		t.Fatalf("expected a reminder sent for order-1, got %v", notifier.reminders)
	}
	final, _ := orders.Get(context.Background(), "order-1")
	if !final.Metadata.ReminderEmailSent() {
		t.Fatalf("expected reminderEmailSent metadata to be set")
	}
	if idem.purged != 1 {
		t.Fatalf("expected idempotency purge to run once")
	}
	if sessions.purged != 1 {
		t.Fatalf("expected session purge to run once")
	}
}
