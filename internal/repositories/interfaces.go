package repositories

import (
	"context"
	"time"

	domain "github.com/carepoint-rx/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Stock() StockRepository
	Orders() OrderRepository
	Prescriptions() PrescriptionRepository
	Invoices() InvoiceRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in a transactional boundary. Repositories invoked with
// the context passed to fn join the transaction. Inside fn all reads must happen before the first
// write.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// StockCommitLine is a single decrement requested during order confirmation.
type StockCommitLine struct {
	ItemID   string
	Quantity int
}

// StockRepository is the persistence side of the stock ledger.
type StockRepository interface {
	Get(ctx context.Context, itemID string) (domain.CatalogItem, error)
	Upsert(ctx context.Context, item domain.CatalogItem) error
	// Commit decrements every line or none. Quantities of repeated item ids are summed.
	Commit(ctx context.Context, lines []StockCommitLine, now time.Time) ([]domain.CatalogItem, error)
	MarkOut(ctx context.Context, itemID string, now time.Time) (domain.CatalogItem, error)
	Restock(ctx context.Context, itemID string, units int, now time.Time) (domain.CatalogItem, error)
	SetAlert(ctx context.Context, itemID string, alert domain.StockAlert, now time.Time) (domain.CatalogItem, error)
	ListLowStock(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.CatalogItem], error)
}

// OrderRepository persists order aggregates. Update enforces the optimistic version: the stored
// document must still carry order.Version, and the returned order carries the incremented value.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter domain.OrderListFilter) (domain.CursorPage[domain.Order], error)
	ListOpenByMedicine(ctx context.Context, medicineRef string) ([]domain.Order, error)
}

// PrescriptionRepository persists prescriptions with the same versioning contract as orders.
type PrescriptionRepository interface {
	Insert(ctx context.Context, prescription domain.Prescription) error
	Update(ctx context.Context, prescription domain.Prescription) (domain.Prescription, error)
	FindByID(ctx context.Context, prescriptionID string) (domain.Prescription, error)
}

// InvoiceRepository stores one invoice per order; Save overwrites.
type InvoiceRepository interface {
	Save(ctx context.Context, invoice domain.Invoice) error
	FindByOrder(ctx context.Context, orderID string) (domain.Invoice, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
