package handlers

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/carepoint-rx/api/internal/domain"
	"github.com/carepoint-rx/api/internal/platform/auth"
	"github.com/carepoint-rx/api/internal/repositories/memory"
	"github.com/carepoint-rx/api/internal/services"
)

// callerHeader selects the identity in flowRouter so one router can serve several actors.
const callerHeader = "X-Test-Caller"

var flowIdentities = map[string]*auth.Identity{
	"patient":    {UID: "patient-1", Roles: []string{auth.RolePatient}},
	"stranger":   {UID: "patient-2", Roles: []string{auth.RolePatient}},
	"pharmacist": {UID: "pharmacist-1", Roles: []string{auth.RolePharmacist}},
	"admin":      {UID: "admin-1", Roles: []string{auth.RoleAdmin}},
	"courier":    {UID: "courier-1", Roles: []string{auth.RoleDelivery}},
}

type flowEnv struct {
	router   chi.Router
	registry *memory.Registry
	ledger   services.StockLedgerService
}

func newFlowEnv(t *testing.T) *flowEnv {
	t.Helper()

	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	registry := memory.NewRegistry(memory.NewStore(), "test")
	billing := services.NewBillingCalculator(decimal.NewFromInt(1000), decimal.NewFromInt(200))

	counters, err := services.NewCounterService(services.CounterServiceDeps{Repository: registry.Counters(), Clock: clock})
	if err != nil {
		t.Fatalf("counters: %v", err)
	}
	invoices, err := services.NewInvoiceService(services.InvoiceServiceDeps{Repository: registry.Invoices(), Counters: counters, Clock: clock})
	if err != nil {
		t.Fatalf("invoices: %v", err)
	}
	ledger, err := services.NewStockLedgerService(services.StockLedgerServiceDeps{Registry: registry, Clock: clock})
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	prescriptions, err := services.NewPrescriptionService(services.PrescriptionServiceDeps{
		Registry: registry,
		Billing:  billing,
		Invoices: invoices,
		Counters: counters,
		Clock:    clock,
	})
	if err != nil {
		t.Fatalf("prescriptions: %v", err)
	}
	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Registry:      registry,
		Ledger:        ledger,
		Billing:       billing,
		Invoices:      invoices,
		Counters:      counters,
		Prescriptions: prescriptions,
		Directory:     auth.StaticDirectory{"courier-1": {auth.RoleDelivery}},
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("orders: %v", err)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if identity, ok := flowIdentities[r.Header.Get(callerHeader)]; ok {
				r = r.WithContext(auth.WithIdentity(r.Context(), identity))
			}
			next.ServeHTTP(w, r)
		})
	})
	router.Route("/orders", NewOrderHandlers(nil, orders, nil).Routes)
	router.Route("/prescriptions", NewPrescriptionHandlers(nil, prescriptions).Routes)
	router.Route("/inventory", NewInventoryHandlers(nil, ledger).Routes)
	router.Route("/internal", NewInternalHandlers(ledger, 0).Routes)

	return &flowEnv{router: router, registry: registry, ledger: ledger}
}

func (e *flowEnv) seed(t *testing.T, id string, units int, price string, rx bool) {
	t.Helper()
	item := domain.CatalogItem{
		ID:                   id,
		Name:                 "Item " + id,
		Kind:                 domain.CatalogKindMedicine,
		PricePerUnit:         decimal.RequireFromString(price),
		QtyPerPack:           10,
		Stock:                domain.StockLevel{Units: units, Packs: units / 10},
		MinStockUnits:        5,
		IsActive:             true,
		RequiresPrescription: rx,
	}
	if err := e.registry.Stock().Upsert(context.Background(), item); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func (e *flowEnv) call(t *testing.T, caller, method, target, body string, wantStatus int) map[string]any {
	t.Helper()
	rr := doRequest(t, e.router, method, target, body, callerHeader, caller)
	if rr.Code != wantStatus {
		t.Fatalf("%s %s as %s: expected %d, got %d: %s", method, target, caller, wantStatus, rr.Code, rr.Body.String())
	}
	return decodeBody(t, rr)
}

func (e *flowEnv) units(t *testing.T, id string) int {
	t.Helper()
	item, err := e.ledger.GetItem(context.Background(), id)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	return item.Stock.Units
}

func TestFlow_PrescriptionOrderThroughDelivery(t *testing.T) {
	env := newFlowEnv(t)
	env.seed(t, "amox", 50, "40", true)
	env.seed(t, "para", 100, "5", false)

	rx := env.call(t, "patient", http.MethodPost, "/prescriptions", `{"image_ref":"uploads/rx-1.jpg"}`, http.StatusCreated)["prescription"].(map[string]any)
	rxID := rx["id"].(string)

	added := env.call(t, "pharmacist", http.MethodPost, "/prescriptions/"+rxID+"/items",
		`{"medicine_ref":"amox","quantity":20,"dosage":"500mg","frequency":"tid"}`, http.StatusOK)
	order := added["order"].(map[string]any)
	orderID := order["id"].(string)
	if order["type"] != "prescription" || order["status"] != "draft" {
		t.Fatalf("unexpected linked order %v", order)
	}

	verified := env.call(t, "pharmacist", http.MethodPut, "/prescriptions/"+rxID+"/verify", "", http.StatusOK)
	order = verified["order"].(map[string]any)
	if order["status"] != "pending" || order["final_amount"] != "1000" {
		t.Fatalf("expected pending order billed at 1000, got %v / %v", order["status"], order["final_amount"])
	}

	lines := order["items"].([]any)
	lineID := lines[0].(map[string]any)["id"].(string)
	locked := doRequest(t, env.router, http.MethodDelete, "/orders/"+orderID+"/items/"+lineID, "", callerHeader, "patient")
	if locked.Code != http.StatusConflict || decodeBody(t, locked)["error"] != "prescription_item_locked" {
		t.Fatalf("expected locked prescription line, got %d: %s", locked.Code, locked.Body.String())
	}

	env.call(t, "stranger", http.MethodGet, "/orders/"+orderID, "", http.StatusForbidden)

	confirmed := env.call(t, "patient", http.MethodPut, "/orders/"+orderID+"/confirm",
		`{"payment_method":"cod","delivery_address":"12 Lake Road"}`, http.StatusOK)
	if confirmed["order"].(map[string]any)["status"] != "confirmed" {
		t.Fatalf("expected confirmed order, got %v", confirmed["order"])
	}
	if got := env.units(t, "amox"); got != 30 {
		t.Fatalf("expected 30 units left after commit, got %d", got)
	}

	again := env.call(t, "patient", http.MethodPut, "/orders/"+orderID+"/confirm",
		`{"payment_method":"cod","delivery_address":"12 Lake Road"}`, http.StatusOK)
	if again["already_confirmed"] != true {
		t.Fatalf("expected already_confirmed on retry")
	}
	if got := env.units(t, "amox"); got != 30 {
		t.Fatalf("retry must not decrement stock again, got %d", got)
	}

	env.call(t, "pharmacist", http.MethodPut, "/orders/"+orderID+"/status", `{"status":"processing"}`, http.StatusOK)
	env.call(t, "pharmacist", http.MethodPut, "/orders/"+orderID+"/status", `{"status":"ready"}`, http.StatusOK)
	env.call(t, "pharmacist", http.MethodPut, "/orders/"+orderID+"/assign-delivery", `{"assignee_id":"courier-1"}`, http.StatusOK)
	delivered := env.call(t, "courier", http.MethodPut, "/orders/"+orderID+"/status", `{"status":"delivered"}`, http.StatusOK)
	if delivered["order"].(map[string]any)["status"] != "delivered" {
		t.Fatalf("expected delivered, got %v", delivered["order"])
	}

	invoice := env.call(t, "patient", http.MethodGet, "/orders/"+orderID+"/invoice", "", http.StatusOK)["invoice"].(map[string]any)
	if invoice["final_amount"] != "1000" || invoice["invoice_number"] == "" {
		t.Fatalf("unexpected invoice %v", invoice)
	}
}

func TestFlow_OtcOrderBillingAndStockShortage(t *testing.T) {
	env := newFlowEnv(t)
	env.seed(t, "para", 12, "85", false)

	order := env.call(t, "patient", http.MethodPost, "/orders", `{"delivery_address":"12 Lake Road"}`, http.StatusCreated)["order"].(map[string]any)
	orderID := order["id"].(string)

	env.call(t, "patient", http.MethodPost, "/orders/"+orderID+"/items", `{"item_id":"para","quantity":6}`, http.StatusOK)
	merged := env.call(t, "patient", http.MethodPost, "/orders/"+orderID+"/items", `{"item_id":"para","quantity":4}`, http.StatusOK)["order"].(map[string]any)
	items := merged["items"].([]any)
	if len(items) != 1 || items[0].(map[string]any)["quantity"] != float64(10) {
		t.Fatalf("expected a single merged line of 10, got %v", items)
	}

	billed := env.call(t, "patient", http.MethodPost, "/orders/"+orderID+"/generate-bill", "", http.StatusOK)["order"].(map[string]any)
	if billed["total_amount"] != "850" || billed["delivery_fee"] != "200" || billed["final_amount"] != "1050" {
		t.Fatalf("unexpected totals %v %v %v", billed["total_amount"], billed["delivery_fee"], billed["final_amount"])
	}

	env.call(t, "admin", http.MethodPut, "/inventory/para/mark-out", "", http.StatusOK)
	env.call(t, "patient", http.MethodPut, "/orders/"+orderID+"/confirm",
		`{"payment_method":"cod","delivery_address":"12 Lake Road"}`, http.StatusConflict)

	env.call(t, "pharmacist", http.MethodPost, "/inventory/para/restock", `{"units":40}`, http.StatusOK)
	env.call(t, "patient", http.MethodPut, "/orders/"+orderID+"/confirm",
		`{"payment_method":"cod","delivery_address":"12 Lake Road"}`, http.StatusOK)
	if got := env.units(t, "para"); got != 30 {
		t.Fatalf("expected 30 units after restock and commit, got %d", got)
	}
}

func TestFlow_RejectKeepsOrderAndRequiresReason(t *testing.T) {
	env := newFlowEnv(t)
	env.seed(t, "amox", 50, "40", true)

	rxID := env.call(t, "patient", http.MethodPost, "/prescriptions", `{"image_ref":"uploads/rx-2.jpg"}`, http.StatusCreated)["prescription"].(map[string]any)["id"].(string)
	orderID := env.call(t, "pharmacist", http.MethodPost, "/prescriptions/"+rxID+"/items", `{"medicine_ref":"amox","quantity":5}`, http.StatusOK)["order"].(map[string]any)["id"].(string)

	env.call(t, "pharmacist", http.MethodPut, "/prescriptions/"+rxID+"/reject", `{"reason":""}`, http.StatusBadRequest)
	rejected := env.call(t, "pharmacist", http.MethodPut, "/prescriptions/"+rxID+"/reject", `{"reason":"illegible"}`, http.StatusOK)
	if rejected["prescription"].(map[string]any)["status"] != "rejected" {
		t.Fatalf("expected rejected prescription, got %v", rejected["prescription"])
	}

	order := env.call(t, "patient", http.MethodGet, "/orders/"+orderID, "", http.StatusOK)["order"].(map[string]any)
	if order["status"] != "draft" || len(order["items"].([]any)) != 1 {
		t.Fatalf("reject must leave the order untouched, got %v", order)
	}

	env.call(t, "patient", http.MethodPut, "/prescriptions/"+rxID+"/verify", "", http.StatusForbidden)
}

func TestFlow_InventoryAlertsAndLowStock(t *testing.T) {
	env := newFlowEnv(t)
	for i := 0; i < 3; i++ {
		env.seed(t, fmt.Sprintf("low-%d", i), 2, "10", false)
	}
	env.seed(t, "plenty", 500, "10", false)

	alerted := env.call(t, "pharmacist", http.MethodPut, "/inventory/plenty/alert", `{"reason":"damaged <b>batch</b>"}`, http.StatusOK)["item"].(map[string]any)
	alert := alerted["alert"].(map[string]any)
	if alert["reason"] != "damaged batch" || alert["alerted_by"] != "pharmacist-1" {
		t.Fatalf("unexpected alert %v", alert)
	}
	env.call(t, "pharmacist", http.MethodDelete, "/inventory/plenty/alert", "", http.StatusForbidden)
	cleared := env.call(t, "admin", http.MethodDelete, "/inventory/plenty/alert", "", http.StatusOK)["item"].(map[string]any)
	if cleared["alert"] != nil {
		t.Fatalf("expected alert cleared, got %v", cleared["alert"])
	}

	page := env.call(t, "pharmacist", http.MethodGet, "/inventory/low-stock?pageSize=2", "", http.StatusOK)
	if len(page["items"].([]any)) != 2 || page["next_page_token"] == nil {
		t.Fatalf("expected a first page of 2 with a token, got %v", page)
	}

	swept := env.call(t, "system", http.MethodPost, "/internal/stock/low-stock-sweep", "", http.StatusOK)
	if swept["notified"] != float64(3) {
		t.Fatalf("expected 3 low stock notifications, got %v", swept["notified"])
	}

	env.call(t, "patient", http.MethodGet, "/inventory/low-stock", "", http.StatusForbidden)
}
