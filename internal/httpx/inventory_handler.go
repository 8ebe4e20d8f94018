package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/order-fulfillment-saga/internal/apperrors"
	"github.com/ariefcatur/order-fulfillment-saga/internal/store"
)

// InventoryHandler exposes the per-product stock read spec §6 assigns to
// GET /inventory/{productId}, aggregating across every warehouse row.
type InventoryHandler struct {
	Products  *store.ProductStore
	Inventory *store.InventoryStore
}

type warehouseStockResp struct {
	WarehouseID string `json:"warehouseId"`
	Available   int    `json:"available"`
	Reserved    int    `json:"reserved"`
}

type productStockResp struct {
	ProductID      string                `json:"productId"`
	ProductName    string                `json:"productName"`
	TotalAvailable int                   `json:"totalAvailable"`
	TotalReserved  int                   `json:"totalReserved"`
	Warehouses     []warehouseStockResp  `json:"warehouses"`
	InStock        bool                  `json:"inStock"`
}

func (h *InventoryHandler) Register(r chi.Router) {
	r.Get("/inventory/{productId}", h.getStock)
}

func (h *InventoryHandler) getStock(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	product, err := h.Products.Get(ctx, productID)
	if err != nil {
		writeError(w, err)
		return
	}
	rows, err := h.Inventory.ListByProduct(ctx, productID)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(rows) == 0 {
		writeError(w, apperrors.New(apperrors.KindNotFound, "no inventory rows for product "+productID))
		return
	}

	resp := productStockResp{
		ProductID:   productID,
		ProductName: product.Name,
	}
	for _, row := range rows {
		resp.Warehouses = append(resp.Warehouses, warehouseStockResp{
			WarehouseID: row.WarehouseID,
			Available:   row.Available(),
			Reserved:    row.Reserved,
		})
		resp.TotalAvailable += row.Available()
		resp.TotalReserved += row.Reserved
	}
	resp.InStock = resp.TotalAvailable > 0

	writeJSON(w, http.StatusOK, resp)
}
