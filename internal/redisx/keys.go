package redisx

import "time"

const (
	// Cache of GET /orders/{orderId}: order_status:{orderId} -> JSON order body.
	KeyOrderStatus = "order_status:%s"

	// Key format for a GET /inventory/{productId} cache:
	// inventory_view:{productId}. No handler reads or writes it.
	KeyInventoryView = "inventory_view:%s"

	// Key format for a webhook dedup guard: dedup:webhook:{eventId}. The
	// webhook ingress does not use it; duplicate deliveries are caught only
	// by the store's status<>PENDING rule.
	KeyWebhookDedup = "dedup:webhook:%s"
)

var (
	TTLStatusCache    = 5 * time.Minute
	TTLInventoryView  = 10 * time.Second
	TTLWebhookDedup   = 48 * time.Hour
)
