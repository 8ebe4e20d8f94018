// Package domain holds the core record types shared by every store and
// service: orders, inventory, products, idempotency keys and sessions.
package domain

import "time"

// Status is the lifecycle state of an Order.
type Status string

const (
	StatusPending            Status = "PENDING"
	StatusInventoryReserved  Status = "INVENTORY_RESERVED"
	StatusPaymentConfirmed   Status = "PAYMENT_CONFIRMED"
	StatusShippingAllocated  Status = "SHIPPING_ALLOCATED"
	StatusCancelled          Status = "CANCELLED"
	StatusFailed             Status = "FAILED" // reserved for fatal internal faults, never written by the saga's business path
)

// validNext encodes the only legal status transitions. FAILED is reachable
// from any non-terminal status (fatal internal fault), never from the
// business-failure path, which always routes through CANCELLED.
var validNext = map[Status]map[Status]bool{
	StatusPending: {
		StatusInventoryReserved: true,
		StatusCancelled:         true,
		StatusFailed:            true,
	},
	StatusInventoryReserved: {
		StatusPaymentConfirmed: true,
		StatusCancelled:        true,
		StatusFailed:           true,
	},
	StatusPaymentConfirmed: {
		StatusShippingAllocated: true,
		StatusCancelled:         true,
		StatusFailed:            true,
	},
	StatusShippingAllocated: {
		StatusCancelled: true,
	},
	StatusCancelled: {},
	StatusFailed:    {},
}

// CanTransition reports whether from -> to is a legal OrderStatus edge.
func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// PaymentStatus mirrors the payment provider's view of an order's payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
	PaymentCanceled  PaymentStatus = "canceled"
)

// Address is the shipping destination for an order.
type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// OrderItem is a priced line item. WarehouseID is populated once the
// reservation step of the saga completes.
type OrderItem struct {
	ProductID    string `json:"productId"`
	ProductName  string `json:"productName"`
	Quantity     int    `json:"quantity"`
	PricePerUnit int64  `json:"pricePerUnit"` // minor units
	TotalPrice   int64  `json:"totalPrice"`   // minor units, == Quantity * PricePerUnit
	WarehouseID  string `json:"warehouseId,omitempty"`
}

// Order is the durable record driven through the fulfillment saga.
type Order struct {
	OrderID         string        `json:"orderId"`
	CustomerID      string        `json:"customerId"`
	Items           []OrderItem   `json:"items"`
	TotalAmount     int64         `json:"totalAmount"` // minor units, == sum(item.TotalPrice)
	Status          Status        `json:"status"`
	ShippingAddress Address       `json:"shippingAddress"`
	PaymentIntentID string        `json:"paymentIntentId,omitempty"`
	PaymentStatus   PaymentStatus `json:"paymentStatus,omitempty"`
	TrackingNumber  string        `json:"trackingNumber,omitempty"`
	Carrier         string        `json:"carrier,omitempty"`
	EstimatedDelivery *time.Time  `json:"estimatedDelivery,omitempty"`
	Metadata        Metadata      `json:"metadata,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// ItemsTotal recomputes the sum of item TotalPrice, used to validate the
// Order.TotalAmount invariant before a write.
func ItemsTotal(items []OrderItem) int64 {
	var total int64
	for _, it := range items {
		total += it.TotalPrice
	}
	return total
}
