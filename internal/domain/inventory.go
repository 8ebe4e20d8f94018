package domain

import "time"

// Inventory is a single (ProductID, WarehouseID) stock row, mutated only by
// the inventory engine under optimistic concurrency.
type Inventory struct {
	ProductID   string    `json:"productId"`
	WarehouseID string    `json:"warehouseId"`
	Quantity    int       `json:"quantity"` // physically on hand
	Reserved    int       `json:"reserved"` // allocated to open orders, <= Quantity
	Version     int64     `json:"version"`  // monotonic, increments on every successful write
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Available returns the quantity not yet allocated to any order.
func (i Inventory) Available() int {
	return i.Quantity - i.Reserved
}

// Product is the read-mostly catalog row the order-creation path consults.
type Product struct {
	ProductID   string `json:"productId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int64  `json:"price"` // minor units
	Category    string `json:"category"`
	ImageURL    string `json:"imageUrl,omitempty"`
	Active      bool   `json:"active"`
}
