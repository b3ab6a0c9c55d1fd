package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/carepoint-rx/api/internal/domain"
	"github.com/carepoint-rx/api/internal/platform/auth"
	"github.com/carepoint-rx/api/internal/platform/httpx"
	"github.com/carepoint-rx/api/internal/platform/observability"
	"github.com/carepoint-rx/api/internal/services"
)

const (
	maxRequestBodySize = 16 * 1024
	retryAfterSeconds  = 1
)

// writeServiceError maps the service error taxonomy onto HTTP statuses.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrValidation):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "operation not permitted for caller", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_item_not_found", "order item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPrescriptionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("prescription_not_found", "prescription not found", http.StatusNotFound))
	case errors.Is(err, services.ErrStockItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("stock_item_not_found", "catalog item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInvoiceNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("invoice_not_found", "invoice not found", http.StatusNotFound))
	case errors.Is(err, services.ErrNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPrescriptionItemLocked):
		httpx.WriteError(ctx, w, httpx.NewError("prescription_item_locked", "prescription items can only be removed by a pharmacist", http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrStoreUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("unavailable", "store temporarily unavailable", http.StatusServiceUnavailable).WithRetryAfter(retryAfterSeconds))
	default:
		observability.FromContext(ctx).Error("unhandled service error", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process request", http.StatusInternalServerError))
	}
}

// actorFromRequest resolves the caller from the verified identity. It writes a 401 and returns false
// when no identity is present.
func actorFromRequest(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return domain.Actor{}, false
	}
	return domain.Actor{
		ID:   strings.TrimSpace(identity.UID),
		Role: domain.Role(identity.PrimaryRole()),
	}, true
}

// decodeRequest reads a bounded JSON body. It writes the error response and returns false on failure.
func decodeRequest(w http.ResponseWriter, r *http.Request, target any) bool {
	err := httpx.DecodeJSON(r, maxRequestBodySize, target)
	switch {
	case err == nil:
		return true
	case errors.Is(err, httpx.ErrBodyTooLarge):
		httpx.WriteError(r.Context(), w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
	}
	return false
}

// queryVersion reads the optional version query parameter used by DELETE requests.
func queryVersion(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("version"))
	if raw == "" {
		return 0, true
	}
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || version < 0 {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "version must be a non-negative integer", http.StatusBadRequest))
		return 0, false
	}
	return version, true
}

func urlParam(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	value := strings.TrimSpace(chi.URLParam(r, key))
	if value == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", key+" is required", http.StatusBadRequest))
		return "", false
	}
	return value, true
}
