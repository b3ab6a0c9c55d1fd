package firestore

import (
	"context"
	"errors"
	"strings"

	"github.com/carepoint-rx/api/internal/domain"
	pfirestore "github.com/carepoint-rx/api/internal/platform/firestore"
)

const (
	prescriptionsCollection = "prescriptions"
	invoicesCollection      = "invoices"
)

// PrescriptionRepository persists prescriptions with the same version contract as orders.
type PrescriptionRepository struct {
	provider      *pfirestore.Provider
	prescriptions *pfirestore.Collection[prescriptionDocument]
}

// NewPrescriptionRepository constructs a Firestore-backed prescription repository.
func NewPrescriptionRepository(provider *pfirestore.Provider) (*PrescriptionRepository, error) {
	if provider == nil {
		return nil, errors.New("prescription repository requires firestore provider")
	}
	return &PrescriptionRepository{
		provider:      provider,
		prescriptions: pfirestore.NewCollection[prescriptionDocument](provider, prescriptionsCollection),
	}, nil
}

func (r *PrescriptionRepository) Insert(ctx context.Context, p domain.Prescription) error {
	if p.Version == 0 {
		p.Version = 1
	}
	return r.prescriptions.Create(ctx, p.ID, newPrescriptionDocument(p))
}

// Update follows OrderRepository.Update: blind write inside a caller's transaction, version check
// otherwise.
func (r *PrescriptionRepository) Update(ctx context.Context, p domain.Prescription) (domain.Prescription, error) {
	next := p
	next.Version = p.Version + 1

	if _, inTx := pfirestore.TransactionFrom(ctx); inTx {
		if err := r.prescriptions.Set(ctx, p.ID, newPrescriptionDocument(next)); err != nil {
			return domain.Prescription{}, err
		}
		return next, nil
	}

	err := r.provider.RunInTx(ctx, func(ctx context.Context) error {
		current, err := r.prescriptions.Get(ctx, p.ID)
		if err != nil {
			return err
		}
		if current.Data.Version != p.Version {
			return pfirestore.NewConflictError(r.prescriptions.Op("update"), "stale prescription version")
		}
		return r.prescriptions.Set(ctx, p.ID, newPrescriptionDocument(next))
	})
	if err != nil {
		return domain.Prescription{}, err
	}
	return next, nil
}

func (r *PrescriptionRepository) FindByID(ctx context.Context, prescriptionID string) (domain.Prescription, error) {
	doc, err := r.prescriptions.Get(ctx, strings.TrimSpace(prescriptionID))
	if err != nil {
		return domain.Prescription{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// InvoiceRepository stores invoices keyed by order id.
type InvoiceRepository struct {
	invoices *pfirestore.Collection[invoiceDocument]
}

// NewInvoiceRepository constructs a Firestore-backed invoice repository.
func NewInvoiceRepository(provider *pfirestore.Provider) (*InvoiceRepository, error) {
	if provider == nil {
		return nil, errors.New("invoice repository requires firestore provider")
	}
	return &InvoiceRepository{
		invoices: pfirestore.NewCollection[invoiceDocument](provider, invoicesCollection),
	}, nil
}

func (r *InvoiceRepository) Save(ctx context.Context, invoice domain.Invoice) error {
	return r.invoices.Set(ctx, invoice.OrderRef, newInvoiceDocument(invoice))
}

func (r *InvoiceRepository) FindByOrder(ctx context.Context, orderID string) (domain.Invoice, error) {
	doc, err := r.invoices.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Invoice{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}
