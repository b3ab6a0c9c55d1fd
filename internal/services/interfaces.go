package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/carepoint-rx/api/internal/domain"
	"github.com/carepoint-rx/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Actor              = domain.Actor
	CatalogItem        = domain.CatalogItem
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderListFilter    = domain.OrderListFilter
	Prescription       = domain.Prescription
	Invoice            = domain.Invoice
	Bill               = domain.Bill
	SystemHealthReport = domain.SystemHealthReport
	StockLine          = repositories.StockCommitLine
)

// Logger receives structured service events. cmd/api adapts it to zap.
type Logger func(ctx context.Context, event string, fields map[string]any)

// StockLedgerService owns catalog stock. Commit is the only operation that decrements units.
type StockLedgerService interface {
	GetItem(ctx context.Context, itemID string) (CatalogItem, error)
	Reserve(ctx context.Context, itemID string, quantity int) error
	Commit(ctx context.Context, lines []StockLine) ([]CatalogItem, error)
	MarkOut(ctx context.Context, cmd StockItemCommand) (MarkOutResult, error)
	Restock(ctx context.Context, cmd RestockCommand) (CatalogItem, error)
	RaiseAlert(ctx context.Context, cmd RaiseAlertCommand) (CatalogItem, error)
	ClearAlert(ctx context.Context, cmd StockItemCommand) (CatalogItem, error)
	ListLowStock(ctx context.Context, actor Actor, pager Pagination) (domain.CursorPage[CatalogItem], error)
	SweepLowStock(ctx context.Context, limit int) (int, error)
}

// OrderService drives the cart/order aggregate through its state machine.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, actor Actor, orderID string) (Order, error)
	ListOrders(ctx context.Context, actor Actor, filter OrderListFilter) (domain.CursorPage[Order], error)
	AddItem(ctx context.Context, cmd AddItemCommand) (Order, error)
	RemoveItem(ctx context.Context, cmd RemoveItemCommand) (Order, error)
	GenerateBill(ctx context.Context, cmd OrderCommand) (Order, error)
	Confirm(ctx context.Context, cmd ConfirmOrderCommand) (ConfirmResult, error)
	StartProcessing(ctx context.Context, cmd OrderCommand) (Order, error)
	MarkReady(ctx context.Context, cmd OrderCommand) (Order, error)
	AssignDelivery(ctx context.Context, cmd AssignDeliveryCommand) (Order, error)
	MarkDelivered(ctx context.Context, cmd OrderCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	RecordPayment(ctx context.Context, cmd RecordPaymentCommand) (Order, error)
	GetInvoice(ctx context.Context, actor Actor, orderID string) (Invoice, error)
}

// PrescriptionService links prescriptions to orders and records pharmacist review.
type PrescriptionService interface {
	Upload(ctx context.Context, cmd UploadPrescriptionCommand) (Prescription, error)
	GetPrescription(ctx context.Context, actor Actor, prescriptionID string) (Prescription, error)
	AddVerifiedItem(ctx context.Context, cmd AddVerifiedItemCommand) (Prescription, Order, error)
	Verify(ctx context.Context, cmd PrescriptionCommand) (Prescription, Order, error)
	Reject(ctx context.Context, cmd RejectPrescriptionCommand) (Prescription, error)
	RemovePrescriptionItem(ctx context.Context, cmd RemoveItemCommand) (Order, error)
}

// InvoiceService materialises billing snapshots.
type InvoiceService interface {
	Generate(ctx context.Context, order Order) (Invoice, error)
	FindByOrder(ctx context.Context, orderID string) (Invoice, error)
}

// CounterService formats human readable sequence numbers.
type CounterService interface {
	NextOrderNumber(ctx context.Context) (string, error)
	NextInvoiceNumber(ctx context.Context) (string, error)
}

// SystemService exposes health reports.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// Notifier delivers notifications. Implementations must not block on delivery.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// PaymentGateway is the opaque online payment collaborator.
type PaymentGateway interface {
	CreatePayment(ctx context.Context, req PaymentRequest) (string, error)
}

// StaffDirectory resolves the roles held by another account.
type StaffDirectory interface {
	RolesOf(ctx context.Context, uid string) ([]domain.Role, error)
}

// LedgerMetrics records ledger outcomes. observability.LedgerMetrics satisfies it.
type LedgerMetrics interface {
	RecordCommit(ctx context.Context, outcome string, units int)
	RecordConfirm(ctx context.Context, outcome string)
}

// PaymentRequest describes a charge for a confirmed order.
type PaymentRequest struct {
	OrderID        string
	OrderNumber    string
	PatientRef     string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
}

// StockItemCommand targets one catalog item.
type StockItemCommand struct {
	Actor  Actor
	ItemID string
}

// RestockCommand adds units to a catalog item.
type RestockCommand struct {
	Actor  Actor
	ItemID string
	Units  int
}

// RaiseAlertCommand flags a catalog item for attention.
type RaiseAlertCommand struct {
	Actor  Actor
	ItemID string
	Reason string
}

// MarkOutResult reports the zeroed item and the open orders whose lines were flagged.
type MarkOutResult struct {
	Item           CatalogItem
	AffectedOrders []string
}

// CreateOrderCommand starts a draft order.
type CreateOrderCommand struct {
	Actor           Actor
	Type            domain.OrderType
	PrescriptionRef string
	DeliveryAddress string
}

// OrderCommand targets an order. ExpectedVersion is optional; zero means the stored version.
type OrderCommand struct {
	Actor           Actor
	OrderID         string
	ExpectedVersion int64
}

// AddItemCommand adds units of a catalog item to a draft order.
type AddItemCommand struct {
	OrderCommand
	ItemID   string
	Quantity int
}

// RemoveItemCommand removes one order line.
type RemoveItemCommand struct {
	OrderCommand
	LineID string
}

// ConfirmOrderCommand confirms a pending order.
type ConfirmOrderCommand struct {
	OrderCommand
	PaymentMethod   domain.PaymentMethod
	DeliveryAddress string
}

// ConfirmResult carries the confirmed order. AlreadyConfirmed is set on retries.
type ConfirmResult struct {
	Order            Order
	AlreadyConfirmed bool
}

// AssignDeliveryCommand hands an order to a delivery actor.
type AssignDeliveryCommand struct {
	OrderCommand
	AssigneeID string
}

// CancelOrderCommand cancels a non-terminal order.
type CancelOrderCommand struct {
	OrderCommand
	Reason string
}

// RecordPaymentCommand records the payment outcome of a confirmed order.
type RecordPaymentCommand struct {
	OrderCommand
	Status domain.PaymentStatus
}

// UploadPrescriptionCommand registers an uploaded prescription image.
type UploadPrescriptionCommand struct {
	Actor    Actor
	ImageRef string
}

// PrescriptionCommand targets a prescription.
type PrescriptionCommand struct {
	Actor          Actor
	PrescriptionID string
}

// AddVerifiedItemCommand attaches a medicine to a prescription and its order.
type AddVerifiedItemCommand struct {
	PrescriptionCommand
	MedicineRef  string
	Quantity     int
	Dosage       string
	Frequency    string
	Instructions string
}

// RejectPrescriptionCommand rejects a prescription with a reason.
type RejectPrescriptionCommand struct {
	PrescriptionCommand
	Reason string
}

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}
