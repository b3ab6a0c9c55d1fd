package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/carepoint-rx/api/internal/platform/httpx"
	"github.com/carepoint-rx/api/internal/services"
)

const defaultSweepLimit = 200

type lowStockSweepRequest struct {
	Limit int `json:"limit"`
}

type lowStockSweepResponse struct {
	Notified int `json:"notified"`
}

// InternalHandlers serves scheduler hooks. Authentication is applied by the /internal group middleware.
type InternalHandlers struct {
	ledger     services.StockLedgerService
	sweepLimit int
}

// NewInternalHandlers constructs a new InternalHandlers instance.
func NewInternalHandlers(ledger services.StockLedgerService, sweepLimit int) *InternalHandlers {
	if sweepLimit <= 0 {
		sweepLimit = defaultSweepLimit
	}
	return &InternalHandlers{ledger: ledger, sweepLimit: sweepLimit}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stock/low-stock-sweep", h.lowStockSweep)
}

func (h *InternalHandlers) lowStockSweep(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("inventory_service_unavailable", "inventory service unavailable", http.StatusServiceUnavailable))
		return
	}
	var req lowStockSweepRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	limit := h.sweepLimit
	if req.Limit > 0 && req.Limit < limit {
		limit = req.Limit
	}

	notified, err := h.ledger.SweepLowStock(r.Context(), limit)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, lowStockSweepResponse{Notified: notified})
}
