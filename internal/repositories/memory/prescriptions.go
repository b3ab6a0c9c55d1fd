package memory

import (
	"context"

	"github.com/carepoint-rx/api/internal/domain"
)

type prescriptionRepository struct{ s *Store }

func (r prescriptionRepository) Insert(ctx context.Context, p domain.Prescription) error {
	defer r.s.lock(ctx)()
	if _, exists := r.s.prescriptions[p.ID]; exists {
		return conflict("prescriptions.insert", "prescription "+p.ID+" already exists")
	}
	if p.Version == 0 {
		p.Version = 1
	}
	r.s.prescriptions[p.ID] = clonePrescription(p)
	return nil
}

func (r prescriptionRepository) Update(ctx context.Context, p domain.Prescription) (domain.Prescription, error) {
	defer r.s.lock(ctx)()
	stored, ok := r.s.prescriptions[p.ID]
	if !ok {
		return domain.Prescription{}, notFound("prescriptions.update", p.ID)
	}
	if stored.Version != p.Version {
		return domain.Prescription{}, conflict("prescriptions.update", "stale prescription version")
	}
	p.Version++
	r.s.prescriptions[p.ID] = clonePrescription(p)
	return clonePrescription(p), nil
}

func (r prescriptionRepository) FindByID(ctx context.Context, id string) (domain.Prescription, error) {
	defer r.s.lock(ctx)()
	p, ok := r.s.prescriptions[id]
	if !ok {
		return domain.Prescription{}, notFound("prescriptions.get", id)
	}
	return clonePrescription(p), nil
}

func clonePrescription(p domain.Prescription) domain.Prescription {
	p.Items = append([]domain.PrescriptionItem(nil), p.Items...)
	return p
}

type invoiceRepository struct{ s *Store }

func (r invoiceRepository) Save(ctx context.Context, invoice domain.Invoice) error {
	defer r.s.lock(ctx)()
	invoice.Lines = append([]domain.InvoiceLine(nil), invoice.Lines...)
	r.s.invoices[invoice.OrderRef] = invoice
	return nil
}

func (r invoiceRepository) FindByOrder(ctx context.Context, orderID string) (domain.Invoice, error) {
	defer r.s.lock(ctx)()
	invoice, ok := r.s.invoices[orderID]
	if !ok {
		return domain.Invoice{}, notFound("invoices.get", orderID)
	}
	invoice.Lines = append([]domain.InvoiceLine(nil), invoice.Lines...)
	return invoice, nil
}
