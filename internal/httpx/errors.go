package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/ariefcatur/order-fulfillment-saga/internal/apperrors"
)

// writeJSON is the teacher's helper, unchanged.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps an apperrors.Kind to the HTTP status spec §7 assigns it.
func writeError(w http.ResponseWriter, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	status := http.StatusInternalServerError
	switch appErr.Kind {
	case apperrors.KindValidationFailure, apperrors.KindInsufficientInventory:
		status = http.StatusBadRequest
	case apperrors.KindNotFound:
		status = http.StatusNotFound
	case apperrors.KindDuplicateOperation, apperrors.KindConcurrentInProgress:
		status = http.StatusConflict
	case apperrors.KindSignatureFailure:
		status = http.StatusBadRequest
	case apperrors.KindPaymentVerificationFail:
		status = http.StatusBadRequest
	case apperrors.KindConcurrencyConflict, apperrors.KindExternalServiceError:
		status = http.StatusInternalServerError
	case apperrors.KindFatalInternal:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]string{"error": appErr.Message, "kind": string(appErr.Kind)})
}
