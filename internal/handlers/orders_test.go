package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/carepoint-rx/api/internal/domain"
	"github.com/carepoint-rx/api/internal/platform/auth"
	"github.com/carepoint-rx/api/internal/platform/idempotency"
	"github.com/carepoint-rx/api/internal/services"
)

type stubOrderService struct {
	mu    sync.Mutex
	calls []string

	createFn     func(services.CreateOrderCommand) (services.Order, error)
	listFn       func(services.Actor, services.OrderListFilter) (domain.CursorPage[services.Order], error)
	getFn        func(services.Actor, string) (services.Order, error)
	addItemFn    func(services.AddItemCommand) (services.Order, error)
	removeFn     func(services.RemoveItemCommand) (services.Order, error)
	billFn       func(services.OrderCommand) (services.Order, error)
	confirmFn    func(services.ConfirmOrderCommand) (services.ConfirmResult, error)
	transitionFn func(string, services.OrderCommand) (services.Order, error)
	assignFn     func(services.AssignDeliveryCommand) (services.Order, error)
	cancelFn     func(services.CancelOrderCommand) (services.Order, error)
	paymentFn    func(services.RecordPaymentCommand) (services.Order, error)
	invoiceFn    func(services.Actor, string) (services.Invoice, error)
}

func (s *stubOrderService) record(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, name)
}

func (s *stubOrderService) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, call := range s.calls {
		if call == name {
			n++
		}
	}
	return n
}

func (s *stubOrderService) CreateOrder(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	s.record("create")
	if s.createFn != nil {
		return s.createFn(cmd)
	}
	return services.Order{}, nil
}

func (s *stubOrderService) GetOrder(_ context.Context, actor services.Actor, id string) (services.Order, error) {
	s.record("get")
	if s.getFn != nil {
		return s.getFn(actor, id)
	}
	return services.Order{ID: id}, nil
}

func (s *stubOrderService) ListOrders(_ context.Context, actor services.Actor, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	s.record("list")
	if s.listFn != nil {
		return s.listFn(actor, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) AddItem(_ context.Context, cmd services.AddItemCommand) (services.Order, error) {
	s.record("addItem")
	if s.addItemFn != nil {
		return s.addItemFn(cmd)
	}
	return services.Order{ID: cmd.OrderID}, nil
}

func (s *stubOrderService) RemoveItem(_ context.Context, cmd services.RemoveItemCommand) (services.Order, error) {
	s.record("removeItem")
	if s.removeFn != nil {
		return s.removeFn(cmd)
	}
	return services.Order{ID: cmd.OrderID}, nil
}

func (s *stubOrderService) GenerateBill(_ context.Context, cmd services.OrderCommand) (services.Order, error) {
	s.record("generateBill")
	if s.billFn != nil {
		return s.billFn(cmd)
	}
	return services.Order{ID: cmd.OrderID}, nil
}

func (s *stubOrderService) Confirm(_ context.Context, cmd services.ConfirmOrderCommand) (services.ConfirmResult, error) {
	s.record("confirm")
	if s.confirmFn != nil {
		return s.confirmFn(cmd)
	}
	return services.ConfirmResult{Order: services.Order{ID: cmd.OrderID}}, nil
}

func (s *stubOrderService) transition(name string, cmd services.OrderCommand) (services.Order, error) {
	s.record(name)
	if s.transitionFn != nil {
		return s.transitionFn(name, cmd)
	}
	return services.Order{ID: cmd.OrderID}, nil
}

func (s *stubOrderService) StartProcessing(_ context.Context, cmd services.OrderCommand) (services.Order, error) {
	return s.transition("startProcessing", cmd)
}

func (s *stubOrderService) MarkReady(_ context.Context, cmd services.OrderCommand) (services.Order, error) {
	return s.transition("markReady", cmd)
}

func (s *stubOrderService) MarkDelivered(_ context.Context, cmd services.OrderCommand) (services.Order, error) {
	return s.transition("markDelivered", cmd)
}

func (s *stubOrderService) AssignDelivery(_ context.Context, cmd services.AssignDeliveryCommand) (services.Order, error) {
	s.record("assign")
	if s.assignFn != nil {
		return s.assignFn(cmd)
	}
	return services.Order{ID: cmd.OrderID}, nil
}

func (s *stubOrderService) Cancel(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	s.record("cancel")
	if s.cancelFn != nil {
		return s.cancelFn(cmd)
	}
	return services.Order{ID: cmd.OrderID}, nil
}

func (s *stubOrderService) RecordPayment(_ context.Context, cmd services.RecordPaymentCommand) (services.Order, error) {
	s.record("payment")
	if s.paymentFn != nil {
		return s.paymentFn(cmd)
	}
	return services.Order{ID: cmd.OrderID}, nil
}

func (s *stubOrderService) GetInvoice(_ context.Context, actor services.Actor, id string) (services.Invoice, error) {
	s.record("invoice")
	if s.invoiceFn != nil {
		return s.invoiceFn(actor, id)
	}
	return services.Invoice{OrderRef: id}, nil
}

var _ services.OrderService = (*stubOrderService)(nil)

// identityMiddleware stands in for the authenticator in handler tests.
func identityMiddleware(uid string, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if uid != "" {
				r = r.WithContext(auth.WithIdentity(r.Context(), &auth.Identity{UID: uid, Roles: roles}))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func newOrderTestRouter(svc services.OrderService, idem func(http.Handler) http.Handler, uid string, roles ...string) chi.Router {
	router := chi.NewRouter()
	router.Use(identityMiddleware(uid, roles...))
	router.Route("/orders", NewOrderHandlers(nil, svc, idem).Routes)
	return router
}

func doRequest(t *testing.T, router http.Handler, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestOrderHandlers_CreateOrderUsesCallerIdentity(t *testing.T) {
	var got services.CreateOrderCommand
	svc := &stubOrderService{
		createFn: func(cmd services.CreateOrderCommand) (services.Order, error) {
			got = cmd
			return services.Order{ID: "ord_1", OrderNumber: "RX-2025-000001", Status: domain.OrderStatusDraft, Type: cmd.Type, Version: 1}, nil
		},
	}
	router := newOrderTestRouter(svc, nil, "patient-1", auth.RolePatient)

	rr := doRequest(t, router, http.MethodPost, "/orders", `{"type":"Refill","prescription_ref":" rx_1 ","delivery_address":"12 Lake Road"}`)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.Actor.ID != "patient-1" || got.Actor.Role != domain.RolePatient {
		t.Fatalf("unexpected actor %+v", got.Actor)
	}
	if got.Type != domain.OrderTypeRefill || got.PrescriptionRef != "rx_1" {
		t.Fatalf("unexpected command %+v", got)
	}
	order := decodeBody(t, rr)["order"].(map[string]any)
	if order["order_number"] != "RX-2025-000001" || order["status"] != "draft" {
		t.Fatalf("unexpected order payload %v", order)
	}
	if order["final_amount"] != nil {
		t.Fatalf("expected null final amount before billing, got %v", order["final_amount"])
	}
}

func TestOrderHandlers_RequiresIdentity(t *testing.T) {
	svc := &stubOrderService{}
	router := newOrderTestRouter(svc, nil, "")

	rr := doRequest(t, router, http.MethodGet, "/orders/ord_1", "")

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if svc.count("get") != 0 {
		t.Fatalf("service should not be called without identity")
	}
}

func TestOrderHandlers_ConfirmPassesPaymentDetails(t *testing.T) {
	final := decimal.RequireFromString("1050")
	var got services.ConfirmOrderCommand
	svc := &stubOrderService{
		confirmFn: func(cmd services.ConfirmOrderCommand) (services.ConfirmResult, error) {
			got = cmd
			return services.ConfirmResult{
				Order: services.Order{
					ID:             cmd.OrderID,
					Status:         domain.OrderStatusConfirmed,
					FinalAmount:    &final,
					StockCommitted: true,
				},
				AlreadyConfirmed: true,
			}, nil
		},
	}
	router := newOrderTestRouter(svc, nil, "patient-1", auth.RolePatient)

	rr := doRequest(t, router, http.MethodPut, "/orders/ord_9/confirm", `{"payment_method":"COD","delivery_address":"12 Lake Road","version":4}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.OrderID != "ord_9" || got.PaymentMethod != domain.PaymentMethodCOD || got.ExpectedVersion != 4 || got.DeliveryAddress != "12 Lake Road" {
		t.Fatalf("unexpected command %+v", got)
	}
	body := decodeBody(t, rr)
	if body["already_confirmed"] != true {
		t.Fatalf("expected already_confirmed flag, got %v", body["already_confirmed"])
	}
	order := body["order"].(map[string]any)
	if order["final_amount"] != "1050" {
		t.Fatalf("expected final amount string, got %v", order["final_amount"])
	}
}

func TestOrderHandlers_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     int
		code       string
		retryAfter string
	}{
		{name: "validation", err: fmt.Errorf("%w: quantity must be positive", services.ErrValidation), status: http.StatusBadRequest, code: "invalid_request"},
		{name: "empty order", err: services.ErrEmptyOrder, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "forbidden", err: fmt.Errorf("%w: not owner", services.ErrForbidden), status: http.StatusForbidden, code: "forbidden"},
		{name: "order not found", err: services.ErrOrderNotFound, status: http.StatusNotFound, code: "order_not_found"},
		{name: "line not found", err: services.ErrOrderItemNotFound, status: http.StatusNotFound, code: "order_item_not_found"},
		{name: "insufficient", err: fmt.Errorf("%w: item-1", services.ErrInsufficientStock), status: http.StatusConflict, code: "insufficient_stock"},
		{name: "locked", err: services.ErrPrescriptionItemLocked, status: http.StatusConflict, code: "prescription_item_locked"},
		{name: "conflict", err: services.ErrOrderConflict, status: http.StatusConflict, code: "conflict"},
		{name: "invalid state", err: fmt.Errorf("%w: cannot bill", services.ErrOrderInvalidState), status: http.StatusConflict, code: "invalid_state"},
		{name: "unavailable", err: services.ErrStoreUnavailable, status: http.StatusServiceUnavailable, code: "unavailable", retryAfter: "1"},
		{name: "unknown", err: errors.New("boom"), status: http.StatusInternalServerError, code: "internal_error"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubOrderService{
				billFn: func(services.OrderCommand) (services.Order, error) { return services.Order{}, tc.err },
			}
			router := newOrderTestRouter(svc, nil, "patient-1", auth.RolePatient)

			rr := doRequest(t, router, http.MethodPost, "/orders/ord_1/generate-bill", "")

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if code := decodeBody(t, rr)["error"]; code != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, code)
			}
			if got := rr.Header().Get("Retry-After"); got != tc.retryAfter {
				t.Fatalf("expected Retry-After %q, got %q", tc.retryAfter, got)
			}
		})
	}
}

func TestOrderHandlers_StatusDispatch(t *testing.T) {
	var dispatched string
	var version int64
	svc := &stubOrderService{
		transitionFn: func(name string, cmd services.OrderCommand) (services.Order, error) {
			dispatched = name
			version = cmd.ExpectedVersion
			return services.Order{ID: cmd.OrderID}, nil
		},
	}
	router := newOrderTestRouter(svc, nil, "pharmacist-1", auth.RolePharmacist)

	cases := map[string]string{
		"processing": "startProcessing",
		"ready":      "markReady",
		"DELIVERED":  "markDelivered",
	}
	for status, want := range cases {
		dispatched = ""
		rr := doRequest(t, router, http.MethodPut, "/orders/ord_1/status", fmt.Sprintf(`{"status":%q,"version":7}`, status))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", status, rr.Code)
		}
		if dispatched != want || version != 7 {
			t.Fatalf("%s: expected %s with version 7, got %s/%d", status, want, dispatched, version)
		}
	}

	rr := doRequest(t, router, http.MethodPut, "/orders/ord_1/status", `{"status":"confirmed"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsupported status, got %d", rr.Code)
	}
}

func TestOrderHandlers_RemoveItemReadsVersionQuery(t *testing.T) {
	var got services.RemoveItemCommand
	svc := &stubOrderService{
		removeFn: func(cmd services.RemoveItemCommand) (services.Order, error) {
			got = cmd
			return services.Order{ID: cmd.OrderID}, nil
		},
	}
	router := newOrderTestRouter(svc, nil, "patient-1", auth.RolePatient)

	rr := doRequest(t, router, http.MethodDelete, "/orders/ord_1/items/line_2?version=3", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got.LineID != "line_2" || got.ExpectedVersion != 3 {
		t.Fatalf("unexpected command %+v", got)
	}

	rr = doRequest(t, router, http.MethodDelete, "/orders/ord_1/items/line_2?version=abc", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad version, got %d", rr.Code)
	}
}

func TestOrderHandlers_ListParsesFilters(t *testing.T) {
	var got services.OrderListFilter
	svc := &stubOrderService{
		listFn: func(_ services.Actor, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			got = filter
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{{ID: "ord_1"}, {ID: "ord_2"}},
				NextPageToken: "next",
			}, nil
		},
	}
	router := newOrderTestRouter(svc, nil, "patient-1", auth.RolePatient)

	rr := doRequest(t, router, http.MethodGet, "/orders?status=pending,confirmed&pageSize=5", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(got.Status) != 2 || got.Status[0] != domain.OrderStatusPending || got.Pagination.PageSize != 5 {
		t.Fatalf("unexpected filter %+v", got)
	}
	body := decodeBody(t, rr)
	if items := body["items"].([]any); len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if body["next_page_token"] != "next" {
		t.Fatalf("expected next token, got %v", body["next_page_token"])
	}

	rr = doRequest(t, router, http.MethodGet, "/orders?pageSize=-1", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid page size, got %d", rr.Code)
	}
}

func TestOrderHandlers_RejectsUnknownFields(t *testing.T) {
	svc := &stubOrderService{}
	router := newOrderTestRouter(svc, nil, "patient-1", auth.RolePatient)

	rr := doRequest(t, router, http.MethodPost, "/orders/ord_1/items", `{"item_id":"a","quantity":1,"price":"1"}`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if svc.count("addItem") != 0 {
		t.Fatalf("service should not be called")
	}
}

func TestOrderHandlers_IdempotencyKeyReplaysConfirm(t *testing.T) {
	svc := &stubOrderService{}
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	idem := idempotency.Middleware(idempotency.NewMemoryStore(), idempotency.WithClock(func() time.Time { return now }))
	router := newOrderTestRouter(svc, idem, "patient-1", auth.RolePatient)

	body := `{"payment_method":"cod","delivery_address":"12 Lake Road"}`
	first := doRequest(t, router, http.MethodPut, "/orders/ord_1/confirm", body, "Idempotency-Key", "confirm-1")
	second := doRequest(t, router, http.MethodPut, "/orders/ord_1/confirm", body, "Idempotency-Key", "confirm-1")

	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("expected 200s, got %d and %d", first.Code, second.Code)
	}
	if svc.count("confirm") != 1 {
		t.Fatalf("expected a single confirm call, got %d", svc.count("confirm"))
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("expected replay header on second response")
	}
}

func TestOrderHandlers_GetInvoice(t *testing.T) {
	svc := &stubOrderService{
		invoiceFn: func(_ services.Actor, id string) (services.Invoice, error) {
			return services.Invoice{
				ID:            "inv_1",
				InvoiceNumber: "INV-202503-000001",
				OrderRef:      id,
				FinalAmount:   decimal.RequireFromString("1050"),
				Currency:      "INR",
				Lines: []domain.InvoiceLine{{
					MedicineRef: "para",
					Name:        "Paracetamol",
					Quantity:    10,
					UnitPrice:   decimal.RequireFromString("85"),
					LineTotal:   decimal.RequireFromString("850"),
				}},
				Display: domain.InvoiceDisplay{Locale: "en-IN", FinalAmount: "₹ 1,050.00"},
			}, nil
		},
	}
	router := newOrderTestRouter(svc, nil, "patient-1", auth.RolePatient)

	rr := doRequest(t, router, http.MethodGet, "/orders/ord_1/invoice", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	invoice := decodeBody(t, rr)["invoice"].(map[string]any)
	if invoice["invoice_number"] != "INV-202503-000001" || invoice["order_ref"] != "ord_1" {
		t.Fatalf("unexpected invoice %v", invoice)
	}
	if lines := invoice["lines"].([]any); len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
}
