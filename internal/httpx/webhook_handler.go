package httpx

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ariefcatur/order-fulfillment-saga/internal/webhook"
)

// WebhookHandler exposes POST /webhooks/payment, the payment provider's
// callback delivery per spec §4.5/§6.
type WebhookHandler struct {
	Ingress *webhook.Ingress
	Log     zerolog.Logger
}

const signatureHeaderName = "X-Webhook-Signature"

func (h *WebhookHandler) Register(r chi.Router) {
	r.Post("/webhooks/payment", h.handle)
}

func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "could not read body"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := h.Ingress.Handle(ctx, body, r.Header.Get(signatureHeaderName)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
