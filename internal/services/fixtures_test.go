package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/carepoint-rx/api/internal/domain"
	"github.com/carepoint-rx/api/internal/repositories"
	"github.com/carepoint-rx/api/internal/repositories/memory"
)

var (
	patient    = Actor{ID: "patient-1", Role: domain.RolePatient}
	otherUser  = Actor{ID: "patient-2", Role: domain.RolePatient}
	pharmacist = Actor{ID: "pharmacist-1", Role: domain.RolePharmacist}
	admin      = Actor{ID: "admin-1", Role: domain.RoleAdmin}
	courier    = Actor{ID: "courier-1", Role: domain.RoleDelivery}
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, msg Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *recordingNotifier) kinds(kind string) []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Notification
	for _, msg := range n.sent {
		if msg.Kind == kind {
			out = append(out, msg)
		}
	}
	return out
}

type stubPaymentGateway struct {
	mu       sync.Mutex
	ref      string
	err      error
	requests []PaymentRequest
}

func (g *stubPaymentGateway) CreatePayment(_ context.Context, req PaymentRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	return g.ref, g.err
}

type stubDirectory map[string][]domain.Role

func (d stubDirectory) RolesOf(_ context.Context, uid string) ([]domain.Role, error) {
	return d[uid], nil
}

type commitRecord struct {
	outcome string
	units   int
}

type recordingMetrics struct {
	mu       sync.Mutex
	commits  []commitRecord
	confirms []string
}

func (m *recordingMetrics) RecordCommit(_ context.Context, outcome string, units int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits = append(m.commits, commitRecord{outcome: outcome, units: units})
}

func (m *recordingMetrics) RecordConfirm(_ context.Context, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirms = append(m.confirms, outcome)
}

// orderStoreRegistry swaps the order repository while keeping the memory transaction semantics.
type orderStoreRegistry struct {
	*memory.Registry
	orders repositories.OrderRepository
}

func (r orderStoreRegistry) Orders() repositories.OrderRepository { return r.orders }

type engineOption func(*memory.Registry) repositories.Registry

func withOrderRepository(wrap func(repositories.OrderRepository) repositories.OrderRepository) engineOption {
	return func(registry *memory.Registry) repositories.Registry {
		return orderStoreRegistry{Registry: registry, orders: wrap(registry.Orders())}
	}
}

type testEngine struct {
	registry      *memory.Registry
	ledger        StockLedgerService
	orders        OrderService
	prescriptions PrescriptionService
	invoices      InvoiceService
	notifier      *recordingNotifier
	payments      *stubPaymentGateway
	metrics       *recordingMetrics
}

func newTestEngine(t *testing.T, opts ...engineOption) *testEngine {
	t.Helper()

	registry := memory.NewRegistry(memory.NewStore(), "test")
	var backing repositories.Registry = registry
	for _, opt := range opts {
		backing = opt(registry)
	}
	metrics := &recordingMetrics{}
	clock := fixedClock(time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC))
	notifier := &recordingNotifier{}
	payments := &stubPaymentGateway{ref: "pi_test"}
	billing := NewBillingCalculator(decimal.NewFromInt(1000), decimal.NewFromInt(200))

	counters, err := NewCounterService(CounterServiceDeps{Repository: registry.Counters(), Clock: clock})
	if err != nil {
		t.Fatalf("counter service: %v", err)
	}
	invoices, err := NewInvoiceService(InvoiceServiceDeps{
		Repository: registry.Invoices(),
		UnitOfWork: registry,
		Counters:   counters,
		Currency:   "INR",
		Locale:     "en-IN",
		Clock:      clock,
	})
	if err != nil {
		t.Fatalf("invoice service: %v", err)
	}
	ledger, err := NewStockLedgerService(StockLedgerServiceDeps{Registry: backing, Notifier: notifier, Metrics: metrics, Clock: clock})
	if err != nil {
		t.Fatalf("stock ledger: %v", err)
	}
	prescriptions, err := NewPrescriptionService(PrescriptionServiceDeps{
		Registry: backing,
		Billing:  billing,
		Invoices: invoices,
		Counters: counters,
		Notifier: notifier,
		Clock:    clock,
	})
	if err != nil {
		t.Fatalf("prescription service: %v", err)
	}
	orders, err := NewOrderService(OrderServiceDeps{
		Registry:      backing,
		Ledger:        ledger,
		Billing:       billing,
		Invoices:      invoices,
		Counters:      counters,
		Prescriptions: prescriptions,
		Payments:      payments,
		Directory:     stubDirectory{courier.ID: {domain.RoleDelivery}, pharmacist.ID: {domain.RolePharmacist}},
		Notifier:      notifier,
		Metrics:       metrics,
		Currency:      "INR",
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("order service: %v", err)
	}

	return &testEngine{
		registry:      registry,
		ledger:        ledger,
		orders:        orders,
		prescriptions: prescriptions,
		invoices:      invoices,
		notifier:      notifier,
		payments:      payments,
		metrics:       metrics,
	}
}

func (e *testEngine) seedItem(t *testing.T, id string, units int, price string, opts ...func(*CatalogItem)) CatalogItem {
	t.Helper()
	item := CatalogItem{
		ID:            id,
		Name:          "Item " + id,
		Kind:          domain.CatalogKindMedicine,
		PricePerUnit:  mustDecimal(t, price),
		QtyPerPack:    10,
		Stock:         domain.StockLevel{Units: units},
		MinStockUnits: 5,
		IsActive:      true,
	}
	for _, opt := range opts {
		opt(&item)
	}
	if err := e.registry.Stock().Upsert(context.Background(), item); err != nil {
		t.Fatalf("seed item %s: %v", id, err)
	}
	return item
}

func requiresPrescription(item *CatalogItem) { item.RequiresPrescription = true }

func (e *testEngine) units(t *testing.T, id string) int {
	t.Helper()
	item, err := e.ledger.GetItem(context.Background(), id)
	if err != nil {
		t.Fatalf("get item %s: %v", id, err)
	}
	return item.Stock.Units
}

func (e *testEngine) draft(t *testing.T, lines map[string]int) Order {
	t.Helper()
	ctx := context.Background()
	order, err := e.orders.CreateOrder(ctx, CreateOrderCommand{Actor: patient, DeliveryAddress: "12 Lake Road"})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	for itemID, qty := range lines {
		order, err = e.orders.AddItem(ctx, AddItemCommand{
			OrderCommand: OrderCommand{Actor: patient, OrderID: order.ID},
			ItemID:       itemID,
			Quantity:     qty,
		})
		if err != nil {
			t.Fatalf("add item %s: %v", itemID, err)
		}
	}
	return order
}

func (e *testEngine) billed(t *testing.T, lines map[string]int) Order {
	t.Helper()
	order := e.draft(t, lines)
	billed, err := e.orders.GenerateBill(context.Background(), OrderCommand{Actor: patient, OrderID: order.ID})
	if err != nil {
		t.Fatalf("generate bill: %v", err)
	}
	return billed
}

func (e *testEngine) confirm(t *testing.T, orderID string) Order {
	t.Helper()
	result, err := e.orders.Confirm(context.Background(), ConfirmOrderCommand{
		OrderCommand:  OrderCommand{Actor: patient, OrderID: orderID},
		PaymentMethod: domain.PaymentMethodCOD,
	})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	return result.Order
}

func assertErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}
