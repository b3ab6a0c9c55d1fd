package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/carepoint-rx/api/internal/platform/auth"
	"github.com/carepoint-rx/api/internal/platform/httpx"
	"github.com/carepoint-rx/api/internal/platform/pagination"
	"github.com/carepoint-rx/api/internal/services"
)

type restockRequest struct {
	Units int `json:"units"`
}

type raiseAlertRequest struct {
	Reason string `json:"reason"`
}

type markOutResponse struct {
	Item           catalogItemPayload `json:"item"`
	AffectedOrders []string           `json:"affected_orders"`
}

// InventoryHandlers exposes stock ledger maintenance to pharmacy staff.
type InventoryHandlers struct {
	authn  *auth.Authenticator
	ledger services.StockLedgerService
}

// NewInventoryHandlers constructs a new InventoryHandlers instance.
func NewInventoryHandlers(authn *auth.Authenticator, ledger services.StockLedgerService) *InventoryHandlers {
	return &InventoryHandlers{authn: authn, ledger: ledger}
}

// Routes registers the /inventory endpoints.
func (h *InventoryHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.RolePharmacist, auth.RoleAdmin))
	}
	r.Get("/low-stock", h.listLowStock)
	r.Put("/{itemID}/mark-out", h.markOut)
	r.Post("/{itemID}/restock", h.restock)
	r.Put("/{itemID}/alert", h.raiseAlert)
	r.Delete("/{itemID}/alert", h.clearAlert)
}

func (h *InventoryHandlers) ready(w http.ResponseWriter, r *http.Request) bool {
	if h.ledger == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("inventory_service_unavailable", "inventory service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func (h *InventoryHandlers) listLowStock(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	pager, err := pagination.FromRequest(r)
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	page, err := h.ledger.ListLowStock(r.Context(), actor, pager)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	items := make([]catalogItemPayload, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, buildCatalogItemPayload(item))
	}
	writeJSONResponse(w, http.StatusOK, catalogItemListResponse{Items: items, NextPageToken: page.NextPageToken})
}

func (h *InventoryHandlers) markOut(w http.ResponseWriter, r *http.Request) {
	cmd, ok := h.itemCommand(w, r)
	if !ok {
		return
	}
	result, err := h.ledger.MarkOut(r.Context(), cmd)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	affected := result.AffectedOrders
	if affected == nil {
		affected = []string{}
	}
	writeJSONResponse(w, http.StatusOK, markOutResponse{Item: buildCatalogItemPayload(result.Item), AffectedOrders: affected})
}

func (h *InventoryHandlers) restock(w http.ResponseWriter, r *http.Request) {
	cmd, ok := h.itemCommand(w, r)
	if !ok {
		return
	}
	var req restockRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	item, err := h.ledger.Restock(r.Context(), services.RestockCommand{Actor: cmd.Actor, ItemID: cmd.ItemID, Units: req.Units})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, catalogItemResponse{Item: buildCatalogItemPayload(item)})
}

func (h *InventoryHandlers) raiseAlert(w http.ResponseWriter, r *http.Request) {
	cmd, ok := h.itemCommand(w, r)
	if !ok {
		return
	}
	var req raiseAlertRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	item, err := h.ledger.RaiseAlert(r.Context(), services.RaiseAlertCommand{Actor: cmd.Actor, ItemID: cmd.ItemID, Reason: req.Reason})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, catalogItemResponse{Item: buildCatalogItemPayload(item)})
}

func (h *InventoryHandlers) clearAlert(w http.ResponseWriter, r *http.Request) {
	cmd, ok := h.itemCommand(w, r)
	if !ok {
		return
	}
	item, err := h.ledger.ClearAlert(r.Context(), cmd)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, catalogItemResponse{Item: buildCatalogItemPayload(item)})
}

func (h *InventoryHandlers) itemCommand(w http.ResponseWriter, r *http.Request) (services.StockItemCommand, bool) {
	if !h.ready(w, r) {
		return services.StockItemCommand{}, false
	}
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return services.StockItemCommand{}, false
	}
	itemID, ok := urlParam(w, r, "itemID")
	if !ok {
		return services.StockItemCommand{}, false
	}
	return services.StockItemCommand{Actor: actor, ItemID: itemID}, true
}
