package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ariefcatur/order-fulfillment-saga/internal/apperrors"
	"github.com/ariefcatur/order-fulfillment-saga/internal/domain"
	"github.com/ariefcatur/order-fulfillment-saga/internal/inventoryengine"
	"github.com/ariefcatur/order-fulfillment-saga/internal/payment"
	"github.com/ariefcatur/order-fulfillment-saga/internal/redisx"
	"github.com/ariefcatur/order-fulfillment-saga/internal/store"
)

var titleCaser = cases.Title(language.English)

// OrdersHandler implements the order-creation and order-read endpoints.
// Order creation is an external collaborator per spec §1, but its HTTP
// contract is one of the core-relevant endpoints SPEC_FULL.md §6 assigns to
// this package: it's what seeds the PENDING order the saga later drives.
type OrdersHandler struct {
	Orders    *store.OrderStore
	Products  *store.ProductStore
	Inventory *inventoryengine.Engine
	Payment   payment.Provider
	Redis     *redis.Client
	Log       zerolog.Logger
}

type createOrderItemReq struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type createOrderReq struct {
	CustomerID      string              `json:"customerId"`
	Items           []createOrderItemReq `json:"items"`
	ShippingAddress domain.Address      `json:"shippingAddress"`
}

type createOrderResp struct {
	OrderID      string `json:"orderId"`
	ClientSecret string `json:"clientSecret"`
	TotalAmount  int64  `json:"totalAmount"`
	Status       string `json:"status"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{orderId}", h.getOrder)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Wrap(apperrors.KindValidationFailure, err, "invalid JSON body"))
		return
	}
	if req.CustomerID == "" || len(req.Items) == 0 {
		writeError(w, apperrors.New(apperrors.KindValidationFailure, "customerId and at least one item are required"))
		return
	}
	for _, it := range req.Items {
		if it.ProductID == "" || it.Quantity <= 0 {
			writeError(w, apperrors.New(apperrors.KindValidationFailure, "each item needs a productId and a positive quantity"))
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	productIDs := make([]string, len(req.Items))
	for i, it := range req.Items {
		productIDs[i] = it.ProductID
	}
	products, err := h.Products.GetMany(ctx, productIDs)
	if err != nil {
		writeError(w, err)
		return
	}

	order := domain.Order{
		OrderID:         uuid.NewString(),
		CustomerID:      req.CustomerID,
		ShippingAddress: normalizeAddress(req.ShippingAddress),
		Status:          domain.StatusPending,
		PaymentStatus:   domain.PaymentPending,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}

	for _, it := range req.Items {
		product, ok := products[it.ProductID]
		if !ok {
			writeError(w, apperrors.New(apperrors.KindValidationFailure, "unknown product: "+it.ProductID))
			return
		}
		if !product.Active {
			writeError(w, apperrors.New(apperrors.KindValidationFailure, "product is not available: "+it.ProductID))
			return
		}
		if err := h.checkStock(ctx, it.ProductID, it.Quantity); err != nil {
			writeError(w, err)
			return
		}
		totalPrice := int64(it.Quantity) * product.Price
		order.Items = append(order.Items, domain.OrderItem{
			ProductID:    it.ProductID,
			ProductName:  product.Name,
			Quantity:     it.Quantity,
			PricePerUnit: product.Price,
			TotalPrice:   totalPrice,
		})
		order.TotalAmount += totalPrice
	}

	if err := h.Orders.Create(ctx, order); err != nil {
		writeError(w, err)
		return
	}

	intent, err := h.Payment.CreatePaymentIntent(ctx, order.OrderID, order.TotalAmount, "usd", map[string]string{"orderId": order.OrderID})
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.Orders.SetPayment(ctx, order.OrderID, intent.ID, domain.PaymentPending); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createOrderResp{
		OrderID:      order.OrderID,
		ClientSecret: intent.ClientSecret,
		TotalAmount:  order.TotalAmount,
		Status:       string(domain.StatusPending),
	})
}

// checkStock is the order-creation collaborator's pre-check (spec §2:
// "pre-checks stock") — a best-effort read across every warehouse, not a
// reservation. The saga's ReserveInventory step is the actual, authoritative
// anti-oversell gate; this check only avoids accepting orders doomed to
// fail it.
func (h *OrdersHandler) checkStock(ctx context.Context, productID string, qty int) error {
	rows, err := h.Inventory.Store.ListByProduct(ctx, productID)
	if err != nil {
		return err
	}
	var total int
	for _, row := range rows {
		total += row.Available()
	}
	if total < qty {
		return apperrors.New(apperrors.KindInsufficientInventory, "insufficient stock for product "+productID)
	}
	return nil
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	cacheKey := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if cached, err := h.Redis.Get(ctx, cacheKey).Result(); err == nil && cached != "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(cached))
		return
	}

	order, err := h.Orders.Get(ctx, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	b, err := json.Marshal(order)
	if err != nil {
		writeError(w, err)
		return
	}
	_ = h.Redis.Set(ctx, cacheKey, b, redisx.TTLStatusCache).Err()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

// normalizeAddress applies the Title caser from golang.org/x/text/cases
// (pulled in for this domain use rather than hand-rolled strings.Title) to
// the free-text city/state/country fields a customer might submit in any
// casing.
func normalizeAddress(a domain.Address) domain.Address {
	a.City = titleCaser.String(a.City)
	a.State = titleCaser.String(a.State)
	a.Country = titleCaser.String(a.Country)
	return a
}
