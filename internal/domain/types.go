package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage represents a paginated result set.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Role identifies the capacity in which an actor calls the engine.
type Role string

const (
	// RolePatient owns carts and orders.
	RolePatient Role = "patient"
	// RolePharmacist verifies prescriptions and operates the fulfilment pipeline.
	RolePharmacist Role = "pharmacist"
	// RoleDelivery carries orders to patients.
	RoleDelivery Role = "delivery"
	// RoleAdmin manages stock alerts and may perform any pharmacist action.
	RoleAdmin Role = "admin"
	// RoleSystem is used by scheduled jobs.
	RoleSystem Role = "system"
)

// Actor is the authenticated caller of a service operation.
type Actor struct {
	ID   string
	Role Role
}

// CatalogKind distinguishes medicines from grocery items.
type CatalogKind string

const (
	CatalogKindMedicine CatalogKind = "medicine"
	CatalogKindGrocery  CatalogKind = "grocery"
)

// StockLevel is expressed in base units; packs are derived.
type StockLevel struct {
	Packs int
	Units int
}

// StockAlert is a manual flag raised by a pharmacist and cleared by an admin.
type StockAlert struct {
	Alerted   bool
	AlertedBy string
	Reason    string
	AlertedAt *time.Time
}

// CatalogItem is a sellable medicine or grocery item tracked by the stock ledger.
type CatalogItem struct {
	ID                   string
	Name                 string
	Kind                 CatalogKind
	PricePerUnit         decimal.Decimal
	QtyPerPack           int
	Stock                StockLevel
	MinStockUnits        int
	IsActive             bool
	RequiresPrescription bool
	Alert                StockAlert
	UpdatedAt            time.Time
}

// LowStock reports whether the item is at or below its alert threshold.
func (c CatalogItem) LowStock() bool {
	return c.Stock.Units <= c.MinStockUnits
}

// WithUnits returns a copy of the stock level holding units with packs recomputed.
func (c CatalogItem) WithUnits(units int) StockLevel {
	return StockLevel{Units: units, Packs: PacksFor(units, c.QtyPerPack)}
}

// PacksFor derives the whole pack count for a unit quantity.
func PacksFor(units, qtyPerPack int) int {
	if qtyPerPack <= 0 || units <= 0 {
		return 0
	}
	return units / qtyPerPack
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusDraft is a cart in progress that has not been billed.
	OrderStatusDraft OrderStatus = "draft"
	// OrderStatusPending indicates totals are frozen and the patient may confirm.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates stock has been committed for every line.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates the pharmacy is packing the order.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusReady indicates the order is packed and awaiting a courier.
	OrderStatusReady OrderStatus = "ready"
	// OrderStatusOutForDelivery indicates a delivery actor has the order.
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	// OrderStatusDelivered is terminal.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled is terminal.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// Open reports whether lines of an order in this status still track catalog availability.
func (s OrderStatus) Open() bool {
	switch s {
	case OrderStatusDraft, OrderStatusPending, OrderStatusConfirmed:
		return true
	default:
		return false
	}
}

// OrderType classifies the contents of an order.
type OrderType string

const (
	OrderTypeOTC          OrderType = "otc"
	OrderTypePrescription OrderType = "prescription"
	OrderTypeRefill       OrderType = "refill"
	OrderTypeMixed        OrderType = "mixed"
)

// PaymentMethod enumerates how the patient pays.
type PaymentMethod string

const (
	PaymentMethodOnline PaymentMethod = "online"
	PaymentMethodCOD    PaymentMethod = "cod"
)

// PaymentStatus enumerates payment progress.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// OrderItem is a line embedded in an order. Name and price are copied from the catalog when added.
type OrderItem struct {
	ID             string
	MedicineRef    string
	NameSnapshot   string
	Quantity       int
	PriceSnapshot  decimal.Decimal
	IsPrescription bool
	IsAvailable    bool
	Dosage         string
	Frequency      string
	Instructions   string
}

// LineTotal returns price times quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.PriceSnapshot.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// OrderStatusChange records a single state machine transition.
type OrderStatusChange struct {
	From     OrderStatus
	To       OrderStatus
	ActorRef string
	Role     Role
	At       time.Time
}

// Order is the cart/order aggregate.
type Order struct {
	ID              string
	OrderNumber     string
	PatientRef      string
	Type            OrderType
	PrescriptionRef string
	Items           []OrderItem
	Status          OrderStatus
	TotalAmount     *decimal.Decimal
	DeliveryFee     *decimal.Decimal
	FinalAmount     *decimal.Decimal
	PaymentMethod   PaymentMethod
	PaymentStatus   PaymentStatus
	PaymentRef      string
	DeliveryAddress string
	AssignedTo      string
	StockCommitted  bool
	CancelReason    string
	StatusHistory   []OrderStatusChange
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	BilledAt        *time.Time
	ConfirmedAt     *time.Time
	CancelledAt     *time.Time
	DeliveredAt     *time.Time
}

// Billed reports whether totals have been generated.
func (o Order) Billed() bool {
	return o.FinalAmount != nil
}

// FindItem returns the index of the line with the given id or -1.
func (o Order) FindItem(lineID string) int {
	for i := range o.Items {
		if o.Items[i].ID == lineID {
			return i
		}
	}
	return -1
}

// FindByMedicine returns the index of the line referencing the catalog item or -1.
func (o Order) FindByMedicine(medicineRef string) int {
	for i := range o.Items {
		if o.Items[i].MedicineRef == medicineRef {
			return i
		}
	}
	return -1
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	PatientRef string
	AssignedTo string
	Status     []OrderStatus
	Pagination Pagination
}

// PrescriptionStatus tracks pharmacist review.
type PrescriptionStatus string

const (
	PrescriptionStatusPending  PrescriptionStatus = "pending"
	PrescriptionStatusVerified PrescriptionStatus = "verified"
	PrescriptionStatusRejected PrescriptionStatus = "rejected"
)

// PrescriptionItem is a verified medicine line on a prescription.
type PrescriptionItem struct {
	MedicineRef  string
	Name         string
	Quantity     int
	Dosage       string
	Frequency    string
	Instructions string
}

// Prescription is an uploaded prescription and its review state.
type Prescription struct {
	ID              string
	PatientRef      string
	ImageRef        string
	Status          PrescriptionStatus
	OrderRef        string
	Items           []PrescriptionItem
	VerifiedByRef   string
	VerifiedAt      *time.Time
	RejectedByRef   string
	RejectedAt      *time.Time
	RejectionReason string
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// FindItem returns the index of the item referencing the catalog item or -1.
func (p Prescription) FindItem(medicineRef string) int {
	for i := range p.Items {
		if p.Items[i].MedicineRef == medicineRef {
			return i
		}
	}
	return -1
}

// Bill is the output of the billing calculator.
type Bill struct {
	Subtotal    decimal.Decimal
	DeliveryFee decimal.Decimal
	FinalAmount decimal.Decimal
}

// InvoiceLine is the per-item breakdown captured on an invoice.
type InvoiceLine struct {
	MedicineRef    string
	Name           string
	Quantity       int
	UnitPrice      decimal.Decimal
	LineTotal      decimal.Decimal
	IsPrescription bool
}

// Invoice is a billing snapshot keyed 1:1 to an order. Regeneration overwrites it.
type Invoice struct {
	ID            string
	InvoiceNumber string
	OrderRef      string
	OrderNumber   string
	PatientRef    string
	Lines         []InvoiceLine
	Subtotal      decimal.Decimal
	DeliveryFee   decimal.Decimal
	FinalAmount   decimal.Decimal
	Currency      string
	Display       InvoiceDisplay
	GeneratedAt   time.Time
}

// InvoiceDisplay carries locale formatted amounts for receipts.
type InvoiceDisplay struct {
	Locale      string
	Subtotal    string
	DeliveryFee string
	FinalAmount string
}

// Health statuses reported by readiness checks.
const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
