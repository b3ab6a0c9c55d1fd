package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/carepoint-rx/api/internal/domain"
	"github.com/carepoint-rx/api/internal/platform/auth"
	"github.com/carepoint-rx/api/internal/platform/httpx"
	"github.com/carepoint-rx/api/internal/platform/pagination"
	"github.com/carepoint-rx/api/internal/services"
)

type createOrderRequest struct {
	Type            string `json:"type"`
	PrescriptionRef string `json:"prescription_ref"`
	DeliveryAddress string `json:"delivery_address"`
}

type addItemRequest struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
	Version  int64  `json:"version"`
}

type versionRequest struct {
	Version int64 `json:"version"`
}

type confirmOrderRequest struct {
	PaymentMethod   string `json:"payment_method"`
	DeliveryAddress string `json:"delivery_address"`
	Version         int64  `json:"version"`
}

type assignDeliveryRequest struct {
	AssigneeID string `json:"assignee_id"`
	Version    int64  `json:"version"`
}

type cancelOrderRequest struct {
	Reason  string `json:"reason"`
	Version int64  `json:"version"`
}

type orderStatusRequest struct {
	Status  string `json:"status"`
	Version int64  `json:"version"`
}

type orderPaymentRequest struct {
	Status  string `json:"status"`
	Version int64  `json:"version"`
}

// OrderHandlers exposes cart and order endpoints to authenticated callers. Role checks happen in the
// service policies so every role shares the same routes.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	idempotency func(http.Handler) http.Handler
}

// NewOrderHandlers constructs a new OrderHandlers instance. idempotency may be nil.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, idempotency func(http.Handler) http.Handler) *OrderHandlers {
	return &OrderHandlers{
		authn:       authn,
		orders:      orders,
		idempotency: idempotency,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	if h.idempotency != nil {
		r.Use(h.idempotency)
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/items", h.addItem)
	r.Delete("/{orderID}/items/{itemID}", h.removeItem)
	r.Post("/{orderID}/generate-bill", h.generateBill)
	r.Put("/{orderID}/confirm", h.confirmOrder)
	r.Put("/{orderID}/assign-delivery", h.assignDelivery)
	r.Put("/{orderID}/cancel", h.cancelOrder)
	r.Put("/{orderID}/status", h.updateStatus)
	r.Put("/{orderID}/payment", h.recordPayment)
	r.Get("/{orderID}/invoice", h.getInvoice)
}

func (h *OrderHandlers) ready(w http.ResponseWriter, r *http.Request) bool {
	if h.orders == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	var req createOrderRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	order, err := h.orders.CreateOrder(r.Context(), services.CreateOrderCommand{
		Actor:           actor,
		Type:            domain.OrderType(strings.ToLower(strings.TrimSpace(req.Type))),
		PrescriptionRef: strings.TrimSpace(req.PrescriptionRef),
		DeliveryAddress: req.DeliveryAddress,
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
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

	filter := domain.OrderListFilter{Pagination: pager}
	for _, raw := range r.URL.Query()["status"] {
		for _, value := range strings.Split(raw, ",") {
			if value = strings.ToLower(strings.TrimSpace(value)); value != "" {
				filter.Status = append(filter.Status, domain.OrderStatus(value))
			}
		}
	}

	page, err := h.orders.ListOrders(r.Context(), actor, filter)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{Items: items, NextPageToken: page.NextPageToken})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	orderID, ok := urlParam(w, r, "orderID")
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(r.Context(), actor, orderID)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	cmd, ok := h.orderCommand(w, r)
	if !ok {
		return
	}
	var req addItemRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	cmd.ExpectedVersion = req.Version

	order, err := h.orders.AddItem(r.Context(), services.AddItemCommand{
		OrderCommand: cmd,
		ItemID:       strings.TrimSpace(req.ItemID),
		Quantity:     req.Quantity,
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	cmd, ok := h.orderCommand(w, r)
	if !ok {
		return
	}
	lineID, ok := urlParam(w, r, "itemID")
	if !ok {
		return
	}
	version, ok := queryVersion(w, r)
	if !ok {
		return
	}
	cmd.ExpectedVersion = version

	order, err := h.orders.RemoveItem(r.Context(), services.RemoveItemCommand{OrderCommand: cmd, LineID: lineID})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) generateBill(w http.ResponseWriter, r *http.Request) {
	cmd, ok := h.orderCommand(w, r)
	if !ok {
		return
	}
	var req versionRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	cmd.ExpectedVersion = req.Version

	order, err := h.orders.GenerateBill(r.Context(), cmd)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) confirmOrder(w http.ResponseWriter, r *http.Request) {
	cmd, ok := h.orderCommand(w, r)
	if !ok {
		return
	}
	var req confirmOrderRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	cmd.ExpectedVersion = req.Version

	result, err := h.orders.Confirm(r.Context(), services.ConfirmOrderCommand{
		OrderCommand:    cmd,
		PaymentMethod:   domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		DeliveryAddress: req.DeliveryAddress,
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{
		Order:            buildOrderPayload(result.Order),
		AlreadyConfirmed: result.AlreadyConfirmed,
	})
}

func (h *OrderHandlers) assignDelivery(w http.ResponseWriter, r *http.Request) {
	cmd, ok := h.orderCommand(w, r)
	if !ok {
		return
	}
	var req assignDeliveryRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	cmd.ExpectedVersion = req.Version

	order, err := h.orders.AssignDelivery(r.Context(), services.AssignDeliveryCommand{
		OrderCommand: cmd,
		AssigneeID:   strings.TrimSpace(req.AssigneeID),
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	cmd, ok := h.orderCommand(w, r)
	if !ok {
		return
	}
	var req cancelOrderRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	cmd.ExpectedVersion = req.Version

	order, err := h.orders.Cancel(r.Context(), services.CancelOrderCommand{OrderCommand: cmd, Reason: req.Reason})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

// updateStatus drives the fulfilment transitions that take no extra input.
func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	cmd, ok := h.orderCommand(w, r)
	if !ok {
		return
	}
	var req orderStatusRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	cmd.ExpectedVersion = req.Version

	var (
		order services.Order
		err   error
	)
	switch domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status))) {
	case domain.OrderStatusProcessing:
		order, err = h.orders.StartProcessing(r.Context(), cmd)
	case domain.OrderStatusReady:
		order, err = h.orders.MarkReady(r.Context(), cmd)
	case domain.OrderStatusDelivered:
		order, err = h.orders.MarkDelivered(r.Context(), cmd)
	default:
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "status must be one of processing, ready, delivered", http.StatusBadRequest))
		return
	}
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) recordPayment(w http.ResponseWriter, r *http.Request) {
	cmd, ok := h.orderCommand(w, r)
	if !ok {
		return
	}
	var req orderPaymentRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	cmd.ExpectedVersion = req.Version

	order, err := h.orders.RecordPayment(r.Context(), services.RecordPaymentCommand{
		OrderCommand: cmd,
		Status:       domain.PaymentStatus(strings.ToLower(strings.TrimSpace(req.Status))),
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) getInvoice(w http.ResponseWriter, r *http.Request) {
	cmd, ok := h.orderCommand(w, r)
	if !ok {
		return
	}
	invoice, err := h.orders.GetInvoice(r.Context(), cmd.Actor, cmd.OrderID)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, invoiceResponse{Invoice: buildInvoicePayload(invoice)})
}

func (h *OrderHandlers) orderCommand(w http.ResponseWriter, r *http.Request) (services.OrderCommand, bool) {
	if !h.ready(w, r) {
		return services.OrderCommand{}, false
	}
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return services.OrderCommand{}, false
	}
	orderID, ok := urlParam(w, r, "orderID")
	if !ok {
		return services.OrderCommand{}, false
	}
	return services.OrderCommand{Actor: actor, OrderID: orderID}, true
}
