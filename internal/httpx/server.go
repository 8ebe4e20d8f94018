package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Handlers bundles every registrable handler group this process exposes.
// cmd/api constructs one of these and passes it to NewRouter; the core
// component, per spec §1, is everything these handlers delegate to, not the
// HTTP shaping itself.
type Handlers struct {
	Orders    *OrdersHandler
	Inventory *InventoryHandler
	Webhook   *WebhookHandler
	Admin     *AdminHandler
}

func NewRouter(h Handlers) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if h.Orders != nil {
		h.Orders.Register(r)
	}
	if h.Inventory != nil {
		h.Inventory.Register(r)
	}
	if h.Webhook != nil {
		h.Webhook.Register(r)
	}
	if h.Admin != nil {
		h.Admin.Register(r)
	}
	return r
}
