package saga

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/order-fulfillment-saga/internal/apperrors"
	"github.com/ariefcatur/order-fulfillment-saga/internal/domain"
	"github.com/ariefcatur/order-fulfillment-saga/internal/idempotency"
	"github.com/ariefcatur/order-fulfillment-saga/internal/inventoryengine"
	"github.com/ariefcatur/order-fulfillment-saga/internal/payment"
	"github.com/rs/zerolog"
)

// fakeOrders is an in-memory stand-in for store.OrderStore, implementing
// exactly the saga.OrderRows subset.
type fakeOrders struct {
	mu     sync.Mutex
	orders map[string]domain.Order
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

func (f *fakeOrders) SetItemWarehouses(_ context.Context, orderID string, items []domain.OrderItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return apperrors.New(apperrors.KindNotFound, "order not found")
	}
	o.Items = items
	o.Status = domain.StatusInventoryReserved
	f.orders[orderID] = o
	return nil
}

func (f *fakeOrders) TransitionStatus(_ context.Context, orderID string, expectedFrom, to domain.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return apperrors.New(apperrors.KindNotFound, "order not found")
	}
	if o.Status != expectedFrom {
		return apperrors.New(apperrors.KindConcurrencyConflict, "status changed concurrently")
	}
	o.Status = to
	f.orders[orderID] = o
	return nil
}

func (f *fakeOrders) SetShippingAllocation(_ context.Context, orderID, tracking, carrier string, eta time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return apperrors.New(apperrors.KindNotFound, "order not found")
	}
	o.TrackingNumber = tracking
	o.Carrier = carrier
	o.EstimatedDelivery = &eta
	o.Status = domain.StatusShippingAllocated
	f.orders[orderID] = o
	return nil
}

func (f *fakeOrders) SetPaymentStatus(_ context.Context, orderID string, status domain.PaymentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return apperrors.New(apperrors.KindNotFound, "order not found")
	}
	o.PaymentStatus = status
	f.orders[orderID] = o
	return nil
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

// fakePayment is a scripted payment.Provider.
type fakePayment struct {
	intent payment.Intent
	getErr error
	refunds []string
}

func (p *fakePayment) CreatePaymentIntent(context.Context, string, int64, string, map[string]string) (payment.Intent, error) {
	return p.intent, nil
}

func (p *fakePayment) GetPaymentIntent(context.Context, string) (payment.Intent, error) {
	if p.getErr != nil {
		return payment.Intent{}, p.getErr
	}
	return p.intent, nil
}

func (p *fakePayment) Refund(_ context.Context, intentID, _ string) (payment.Refund, error) {
	p.refunds = append(p.refunds, intentID)
	return payment.Refund{ID: "re_1", Status: "succeeded"}, nil
}

func (p *fakePayment) VerifyWebhookSignature(context.Context, []byte, string) error { return nil }

// fakeNotify is a no-op notify.Adapter recording calls.
type fakeNotify struct {
	confirmations []string
}

func (n *fakeNotify) SendOrderConfirmation(_ context.Context, _ string, orderID string) error {
	n.confirmations = append(n.confirmations, orderID)
	return nil
}

func (n *fakeNotify) SendAbandonedCartReminder(context.Context, string, string) error { return nil }

// fakeEvents records published events.
type fakeEvents struct {
	mu        sync.Mutex
	published []string
}

func (e *fakeEvents) Publish(_ string, eventType string, _ any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.published = append(e.published, eventType)
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestOrchestrator(orders *fakeOrders, invRows *fakeRows, pay *fakePayment, notifier *fakeNotify, events *fakeEvents) *Orchestrator {
	inv := inventoryengine.New(invRows)
	comp := &CompensationHandler{Orders: orders, Inventory: inv, Payment: pay, Events: events, Log: zerolog.Nop()}
	idem := idempotency.New(newFakeIdemRows())
	return New(orders, inv, idem, pay, notifier, events, comp, fixedClock{now: time.Unix(0, 0).UTC()}, zerolog.Nop())
}

func TestOrchestratorRunHappyPath(t *testing.T) {
	orderID := "order-1"
	order := domain.Order{
		OrderID: orderID, CustomerID: "cust-1", Status: domain.StatusPending,
		TotalAmount: 1000, PaymentIntentID: "pi_1",
		Items: []domain.OrderItem{{ProductID: "p1", Quantity: 2, PricePerUnit: 500, TotalPrice: 1000}},
	}
	orders := newFakeOrders(order)
	invRows := newFakeRows(domain.Inventory{ProductID: "p1", WarehouseID: "wh-a", Quantity: 10, Version: 1})
	pay := &fakePayment{intent: payment.Intent{ID: "pi_1", Status: payment.IntentSucceeded, AmountCents: 1000}}
	notifier := &fakeNotify{}
	events := &fakeEvents{}

	orch := newTestOrchestrator(orders, invRows, pay, notifier, events)

	if err := orch.Run(context.Background(), orderID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	final, _ := orders.Get(context.Background(), orderID)
	if final.Status != domain.StatusShippingAllocated {
		t.Fatalf("expected SHIPPING_ALLOCATED, got %s", final.Status)
	}
	if final.TrackingNumber == "" {
		t.Fatalf("expected a tracking number to be assigned")
	}
	if len(notifier.confirmations) != 1 {
		t.Fatalf("expected exactly one order confirmation, got %d", len(notifier.confirmations))
	}
}

func TestOrchestratorRunIsIdempotentAcrossReplays(t *testing.T) {
	orderID := "order-1"
	order := domain.Order{
		OrderID: orderID, CustomerID: "cust-1", Status: domain.StatusPending,
		TotalAmount: 500, PaymentIntentID: "pi_1",
		Items: []domain.OrderItem{{ProductID: "p1", Quantity: 1, PricePerUnit: 500, TotalPrice: 500}},
	}
	orders := newFakeOrders(order)
	invRows := newFakeRows(domain.Inventory{ProductID: "p1", WarehouseID: "wh-a", Quantity: 10, Version: 1})
	pay := &fakePayment{intent: payment.Intent{ID: "pi_1", Status: payment.IntentSucceeded, AmountCents: 500}}
	notifier := &fakeNotify{}
	events := &fakeEvents{}

	orch := newTestOrchestrator(orders, invRows, pay, notifier, events)

	if err := orch.Run(context.Background(), orderID); err != nil {
		t.Fatalf("first run: unexpected error: %v", err)
	}
	// Replaying Run against a terminal order must be a safe no-op: no
	// double reservation, no second confirmation email.
	if err := orch.Run(context.Background(), orderID); err != nil {
		t.Fatalf("second run: unexpected error: %v", err)
	}

	got, _ := invRows.Get(context.Background(), "p1", "wh-a")
	if got.Reserved != 1 {
		t.Fatalf("expected exactly one reservation of qty 1 after replay, got reserved=%d", got.Reserved)
	}
	if len(notifier.confirmations) != 1 {
		t.Fatalf("expected exactly one confirmation despite Run being called twice, got %d", len(notifier.confirmations))
	}
}

func TestOrchestratorCompensatesOnInsufficientInventory(t *testing.T) {
	orderID := "order-1"
	order := domain.Order{
		OrderID: orderID, CustomerID: "cust-1", Status: domain.StatusPending,
		TotalAmount: 500, PaymentIntentID: "pi_1",
		Items: []domain.OrderItem{{ProductID: "p1", Quantity: 5, PricePerUnit: 100, TotalPrice: 500}},
	}
	orders := newFakeOrders(order)
	invRows := newFakeRows(domain.Inventory{ProductID: "p1", WarehouseID: "wh-a", Quantity: 1, Version: 1})
	pay := &fakePayment{intent: payment.Intent{ID: "pi_1", Status: payment.IntentSucceeded, AmountCents: 500}}
	notifier := &fakeNotify{}
	events := &fakeEvents{}

	orch := newTestOrchestrator(orders, invRows, pay, notifier, events)

	err := orch.Run(context.Background(), orderID)
	if !apperrors.Is(err, apperrors.KindInsufficientInventory) {
		t.Fatalf("expected InsufficientInventory, got %v", err)
	}

	final, _ := orders.Get(context.Background(), orderID)
	if final.Status != domain.StatusCancelled {
		t.Fatalf("expected order cancelled after failed reservation, got %s", final.Status)
	}
	reason, _ := final.Metadata.CancelReason()
	if reason != string(apperrors.KindInsufficientInventory) {
		t.Fatalf("expected cancelReason to reflect InsufficientInventory, got %q", reason)
	}
}

func TestOrchestratorCompensatesAndRefundsOnPaymentAmountMismatch(t *testing.T) {
	orderID := "order-1"
	order := domain.Order{
		OrderID: orderID, CustomerID: "cust-1", Status: domain.StatusInventoryReserved,
		TotalAmount: 500, PaymentIntentID: "pi_1",
		Items: []domain.OrderItem{{ProductID: "p1", Quantity: 1, PricePerUnit: 500, TotalPrice: 500, WarehouseID: "wh-a"}},
	}
	orders := newFakeOrders(order)
	invRows := newFakeRows(domain.Inventory{ProductID: "p1", WarehouseID: "wh-a", Quantity: 10, Reserved: 1, Version: 2})
	// intent amount doesn't match order total: 400 != 500
	pay := &fakePayment{intent: payment.Intent{ID: "pi_1", Status: payment.IntentSucceeded, AmountCents: 400}}
	notifier := &fakeNotify{}
	events := &fakeEvents{}

	orch := newTestOrchestrator(orders, invRows, pay, notifier, events)

	err := orch.Run(context.Background(), orderID)
	if !apperrors.Is(err, apperrors.KindPaymentVerificationFail) {
		t.Fatalf("expected PaymentVerificationFailed, got %v", err)
	}

	final, _ := orders.Get(context.Background(), orderID)
	if final.Status != domain.StatusCancelled {
		t.Fatalf("expected order cancelled, got %s", final.Status)
	}
	got, _ := invRows.Get(context.Background(), "p1", "wh-a")
	if got.Reserved != 0 {
		t.Fatalf("expected reservation released during compensation, reserved=%d", got.Reserved)
	}
}
