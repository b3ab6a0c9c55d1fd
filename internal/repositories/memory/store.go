// Package memory is a process-local repository backend used for local runs and service tests.
// A single mutex serialises every operation; RunInTx holds it for the whole unit of work and
// restores a snapshot when the work fails.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/carepoint-rx/api/internal/domain"
	"github.com/carepoint-rx/api/internal/repositories"
)

type txKey struct{}

// Store holds all collections.
type Store struct {
	mu            sync.Mutex
	items         map[string]domain.CatalogItem
	orders        map[string]domain.Order
	prescriptions map[string]domain.Prescription
	invoices      map[string]domain.Invoice
	counters      map[string]int64
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		items:         make(map[string]domain.CatalogItem),
		orders:        make(map[string]domain.Order),
		prescriptions: make(map[string]domain.Prescription),
		invoices:      make(map[string]domain.Invoice),
		counters:      make(map[string]int64),
	}
}

// RunInTx implements repositories.UnitOfWork. Nested calls join the outer unit.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// lock acquires the mutex unless ctx already runs inside this store's unit of work.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

type snapshot struct {
	items         map[string]domain.CatalogItem
	orders        map[string]domain.Order
	prescriptions map[string]domain.Prescription
	invoices      map[string]domain.Invoice
	counters      map[string]int64
}

// Stored values are always cloned on the way in and out, so shallow map copies are sufficient.
func (s *Store) snapshot() snapshot {
	return snapshot{
		items:         copyMap(s.items),
		orders:        copyMap(s.orders),
		prescriptions: copyMap(s.prescriptions),
		invoices:      copyMap(s.invoices),
		counters:      copyMap(s.counters),
	}
}

func (s *Store) restore(snap snapshot) {
	s.items = snap.items
	s.orders = snap.orders
	s.prescriptions = snap.prescriptions
	s.invoices = snap.invoices
	s.counters = snap.counters
}

func copyMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// Registry adapts Store to repositories.Registry.
type Registry struct {
	store  *Store
	health repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wires the memory repositories around store.
func NewRegistry(store *Store, environment string) *Registry {
	health, _ := repositories.NewProbeHealthRepository(environment, time.Now, repositories.Probe{
		Name:     "store",
		Critical: true,
		Check:    func(context.Context) error { return nil },
	})
	return &Registry{store: store, health: health}
}

func (r *Registry) Close(context.Context) error { return nil }

func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.store.RunInTx(ctx, fn)
}

func (r *Registry) Stock() repositories.StockRepository { return stockRepository{r.store} }

func (r *Registry) Orders() repositories.OrderRepository { return orderRepository{r.store} }

func (r *Registry) Prescriptions() repositories.PrescriptionRepository {
	return prescriptionRepository{r.store}
}

func (r *Registry) Invoices() repositories.InvoiceRepository { return invoiceRepository{r.store} }

func (r *Registry) Counters() repositories.CounterRepository { return counterRepository{r.store} }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

type errorKind int

const (
	kindNotFound errorKind = iota + 1
	kindConflict
)

// Error implements repositories.RepositoryError.
type Error struct {
	op   string
	msg  string
	kind errorKind
}

func (e *Error) Error() string       { return fmt.Sprintf("memory %s: %s", e.op, e.msg) }
func (e *Error) IsNotFound() bool    { return e.kind == kindNotFound }
func (e *Error) IsConflict() bool    { return e.kind == kindConflict }
func (e *Error) IsUnavailable() bool { return false }

func notFound(op, id string) error {
	return &Error{op: op, msg: fmt.Sprintf("%s not found", id), kind: kindNotFound}
}

func conflict(op, msg string) error {
	return &Error{op: op, msg: msg, kind: kindConflict}
}
