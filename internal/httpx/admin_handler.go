package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ariefcatur/order-fulfillment-saga/internal/apperrors"
	"github.com/ariefcatur/order-fulfillment-saga/internal/saga"
	"github.com/ariefcatur/order-fulfillment-saga/internal/store"
)

// AdminHandler exposes the operator-only cancellation endpoint (spec §6):
// POST /admin/orders/{orderId}/cancel, guarded by a bearer token looked up
// against the sessions table rather than full session issuance (spec §1
// Non-goals carve out auth mechanics, but the ambient bearer-token check
// itself is required by the endpoint's contract).
type AdminHandler struct {
	Sessions *store.SessionStore
	Compensate *saga.CompensationHandler
	Log      zerolog.Logger
}

type cancelOrderReq struct {
	Reason string `json:"reason"`
}

type cancelOrderResp struct {
	Success    bool     `json:"success"`
	Operations []string `json:"operations"`
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Post("/admin/orders/{orderId}/cancel", h.cancel)
}

func (h *AdminHandler) authorize(ctx context.Context, r *http.Request) error {
	authHeader := r.Header.Get("Authorization")
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" || token == authHeader {
		return apperrors.New(apperrors.KindValidationFailure, "missing bearer token")
	}
	if _, err := h.Sessions.Get(ctx, token); err != nil {
		return apperrors.New(apperrors.KindValidationFailure, "invalid or expired session")
	}
	return nil
}

func (h *AdminHandler) cancel(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	if err := h.authorize(ctx, r); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	orderID := chi.URLParam(r, "orderId")
	var req cancelOrderReq
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = "requested_by_admin"
	}

	result, err := h.Compensate.Compensate(ctx, orderID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelOrderResp{
		Success:    result.Success,
		Operations: result.CompensatedSteps,
	})
}
