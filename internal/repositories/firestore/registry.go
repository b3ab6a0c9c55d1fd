package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	pfirestore "github.com/carepoint-rx/api/internal/platform/firestore"
	"github.com/carepoint-rx/api/internal/repositories"
)

// Registry wires every Firestore repository around a single provider.
type Registry struct {
	provider      *pfirestore.Provider
	stock         *StockRepository
	orders        *OrderRepository
	prescriptions *PrescriptionRepository
	invoices      *InvoiceRepository
	counters      *CounterRepository
	health        repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds the repositories. Additional probes are appended to the firestore ping when
// the health repository is assembled.
func NewRegistry(provider *pfirestore.Provider, environment string, probes ...repositories.Probe) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	reg := &Registry{provider: provider}

	var err error
	if reg.stock, err = NewStockRepository(provider); err != nil {
		return nil, err
	}
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, err
	}
	if reg.prescriptions, err = NewPrescriptionRepository(provider); err != nil {
		return nil, err
	}
	if reg.invoices, err = NewInvoiceRepository(provider); err != nil {
		return nil, err
	}
	if reg.counters, err = NewCounterRepository(provider); err != nil {
		return nil, err
	}

	all := append([]repositories.Probe{{
		Name:     "firestore",
		Critical: true,
		Timeout:  1500 * time.Millisecond,
		Check:    provider.Ping,
	}}, probes...)
	reg.health, err = repositories.NewProbeHealthRepository(environment, time.Now, all...)
	if err != nil {
		return nil, fmt.Errorf("firestore registry: health: %w", err)
	}
	return reg, nil
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.provider.RunInTx(ctx, fn)
}

func (r *Registry) Stock() repositories.StockRepository { return r.stock }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Prescriptions() repositories.PrescriptionRepository { return r.prescriptions }

func (r *Registry) Invoices() repositories.InvoiceRepository { return r.invoices }

func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

func (r *Registry) Health() repositories.HealthRepository { return r.health }
