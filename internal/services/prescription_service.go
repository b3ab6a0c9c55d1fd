package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/carepoint-rx/api/internal/domain"
	"github.com/carepoint-rx/api/internal/repositories"
)

// PrescriptionServiceDeps bundles collaborators required to construct the prescription service.
type PrescriptionServiceDeps struct {
	Registry repositories.Registry
	Billing  BillingCalculator
	Invoices InvoiceService
	Counters CounterService
	Notifier Notifier
	Clock    func() time.Time
	Logger   Logger
}

type prescriptionService struct {
	uow           repositories.UnitOfWork
	prescriptions repositories.PrescriptionRepository
	orders        repositories.OrderRepository
	stock         repositories.StockRepository
	billing       BillingCalculator
	invoices      InvoiceService
	counters      CounterService
	notify        notifier
	clock         func() time.Time
	logger        Logger
}

var _ PrescriptionService = (*prescriptionService)(nil)

// NewPrescriptionService constructs the prescription linkage service.
func NewPrescriptionService(deps PrescriptionServiceDeps) (PrescriptionService, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.New("prescription service: registry is required")
	case deps.Invoices == nil:
		return nil, errors.New("prescription service: invoice service is required")
	case deps.Counters == nil:
		return nil, errors.New("prescription service: counter service is required")
	}
	clock := utcClock(deps.Clock)
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	billing := deps.Billing
	if billing.FreeDeliveryAbove.IsZero() || billing.DeliveryFee.IsZero() {
		billing = NewBillingCalculator(billing.FreeDeliveryAbove, billing.DeliveryFee)
	}
	return &prescriptionService{
		uow:           deps.Registry,
		prescriptions: deps.Registry.Prescriptions(),
		orders:        deps.Registry.Orders(),
		stock:         deps.Registry.Stock(),
		billing:       billing,
		invoices:      deps.Invoices,
		counters:      deps.Counters,
		notify:        newNotifier(deps.Notifier, logger, clock),
		clock:         clock,
		logger:        logger,
	}, nil
}

// Upload registers a prescription image for pharmacist review.
func (s *prescriptionService) Upload(ctx context.Context, cmd UploadPrescriptionCommand) (Prescription, error) {
	if !hasRole(cmd.Actor, domain.RolePatient) {
		return Prescription{}, fmt.Errorf("%w: only patients can upload prescriptions", ErrForbidden)
	}
	imageRef := strings.TrimSpace(cmd.ImageRef)
	if imageRef == "" {
		return Prescription{}, fmt.Errorf("%w: image reference is required", ErrValidation)
	}

	now := s.clock()
	rx := Prescription{
		ID:         newID(prescriptionIDPrefix),
		PatientRef: cmd.Actor.ID,
		ImageRef:   imageRef,
		Status:     domain.PrescriptionStatusPending,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.prescriptions.Insert(ctx, rx); err != nil {
		return Prescription{}, translateRepoError(err, ErrPrescriptionNotFound)
	}
	s.logger(ctx, "prescription.uploaded", map[string]any{
		"prescriptionId": rx.ID,
		"patientId":      rx.PatientRef,
	})
	return rx, nil
}

func (s *prescriptionService) GetPrescription(ctx context.Context, actor Actor, prescriptionID string) (Prescription, error) {
	rx, err := s.prescriptions.FindByID(ctx, strings.TrimSpace(prescriptionID))
	if err != nil {
		return Prescription{}, translateRepoError(err, ErrPrescriptionNotFound)
	}
	if hasRole(actor, domain.RolePharmacist, domain.RoleAdmin) {
		return rx, nil
	}
	if hasRole(actor, domain.RolePatient) && rx.PatientRef == actor.ID {
		return rx, nil
	}
	return Prescription{}, fmt.Errorf("%w: prescription %s", ErrForbidden, rx.ID)
}

// AddVerifiedItem attaches a medicine to the prescription and to its linked order, creating the
// order on first use.
func (s *prescriptionService) AddVerifiedItem(ctx context.Context, cmd AddVerifiedItemCommand) (Prescription, Order, error) {
	if err := requirePharmacist(cmd.Actor); err != nil {
		return Prescription{}, Order{}, err
	}
	medicineRef := strings.TrimSpace(cmd.MedicineRef)
	if medicineRef == "" {
		return Prescription{}, Order{}, fmt.Errorf("%w: medicine is required", ErrValidation)
	}
	if cmd.Quantity <= 0 {
		return Prescription{}, Order{}, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	dosage := sanitizeText(cmd.Dosage)
	frequency := sanitizeText(cmd.Frequency)
	instructions := sanitizeText(cmd.Instructions)

	var (
		savedRx    Prescription
		savedOrder Order
	)
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		rx, err := s.findPrescription(txCtx, cmd.PrescriptionID)
		if err != nil {
			return err
		}
		if rx.Status != domain.PrescriptionStatusPending && rx.Status != domain.PrescriptionStatusVerified {
			return fmt.Errorf("%w: prescription is %s", ErrPrescriptionInvalidState, rx.Status)
		}

		item, err := s.stock.Get(txCtx, medicineRef)
		if err != nil {
			return translateRepoError(err, ErrStockItemNotFound)
		}
		if err := checkAvailability(item, cmd.Quantity); err != nil {
			return err
		}

		order, isNew, err := s.linkedOrder(txCtx, rx)
		if err != nil {
			return err
		}
		now := s.clock()

		if idx := rx.FindItem(item.ID); idx >= 0 {
			existing := &rx.Items[idx]
			existing.Quantity += cmd.Quantity
			existing.Dosage = chooseFirstNonEmpty(dosage, existing.Dosage)
			existing.Frequency = chooseFirstNonEmpty(frequency, existing.Frequency)
			existing.Instructions = chooseFirstNonEmpty(instructions, existing.Instructions)
		} else {
			rx.Items = append(rx.Items, domain.PrescriptionItem{
				MedicineRef:  item.ID,
				Name:         item.Name,
				Quantity:     cmd.Quantity,
				Dosage:       dosage,
				Frequency:    frequency,
				Instructions: instructions,
			})
		}

		if idx := order.FindByMedicine(item.ID); idx >= 0 {
			line := &order.Items[idx]
			line.Quantity += cmd.Quantity
			line.PriceSnapshot = item.PricePerUnit
			line.IsPrescription = true
			line.IsAvailable = checkAvailability(item, line.Quantity) == nil
			line.Dosage = chooseFirstNonEmpty(dosage, line.Dosage)
			line.Frequency = chooseFirstNonEmpty(frequency, line.Frequency)
			line.Instructions = chooseFirstNonEmpty(instructions, line.Instructions)
		} else {
			line := newOrderLine(item, cmd.Quantity)
			line.IsPrescription = true
			line.Dosage = dosage
			line.Frequency = frequency
			line.Instructions = instructions
			order.Items = append(order.Items, line)
		}
		promoteType(&order)
		if order.Billed() {
			order = s.billing.RecomputeTotals(order)
		}
		order.UpdatedAt = now

		if isNew {
			if err := s.orders.Insert(txCtx, order); err != nil {
				return err
			}
			savedOrder = order
		} else if savedOrder, err = s.orders.Update(txCtx, order); err != nil {
			return err
		}

		rx.OrderRef = order.ID
		rx.UpdatedAt = now
		savedRx, err = s.prescriptions.Update(txCtx, rx)
		return err
	})
	if err != nil {
		return Prescription{}, Order{}, translateRepoError(err, ErrPrescriptionNotFound)
	}

	if savedOrder.Billed() {
		s.regenerateInvoice(ctx, savedOrder)
	}
	s.logger(ctx, "prescription.item_added", map[string]any{
		"prescriptionId": savedRx.ID,
		"orderId":        savedOrder.ID,
		"medicineId":     medicineRef,
		"quantity":       cmd.Quantity,
		"actorId":        cmd.Actor.ID,
	})
	return savedRx, savedOrder, nil
}

// Verify approves the prescription and moves its order to pending, even when the order has no
// lines yet.
func (s *prescriptionService) Verify(ctx context.Context, cmd PrescriptionCommand) (Prescription, Order, error) {
	if err := requirePharmacist(cmd.Actor); err != nil {
		return Prescription{}, Order{}, err
	}

	var (
		savedRx     Prescription
		savedOrder  Order
		beforeState domain.OrderStatus
	)
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		rx, err := s.findPrescription(txCtx, cmd.PrescriptionID)
		if err != nil {
			return err
		}
		if rx.Status != domain.PrescriptionStatusPending {
			return fmt.Errorf("%w: only pending prescriptions can be verified, prescription is %s", ErrPrescriptionInvalidState, rx.Status)
		}
		order, isNew, err := s.linkedOrder(txCtx, rx)
		if err != nil {
			return err
		}
		beforeState = order.Status

		now := s.clock()
		order = s.billing.RecomputeTotals(order)
		order.BilledAt = &now
		transition(&order, domain.OrderStatusPending, cmd.Actor, now)
		order.UpdatedAt = now
		if isNew {
			if err := s.orders.Insert(txCtx, order); err != nil {
				return err
			}
			savedOrder = order
		} else if savedOrder, err = s.orders.Update(txCtx, order); err != nil {
			return err
		}

		rx.Status = domain.PrescriptionStatusVerified
		rx.VerifiedByRef = cmd.Actor.ID
		rx.VerifiedAt = &now
		rx.OrderRef = order.ID
		rx.UpdatedAt = now
		savedRx, err = s.prescriptions.Update(txCtx, rx)
		return err
	})
	if err != nil {
		return Prescription{}, Order{}, translateRepoError(err, ErrPrescriptionNotFound)
	}

	s.regenerateInvoice(ctx, savedOrder)
	s.logger(ctx, "prescription.verified", map[string]any{
		"prescriptionId": savedRx.ID,
		"orderId":        savedOrder.ID,
		"items":          len(savedRx.Items),
		"actorId":        cmd.Actor.ID,
	})
	s.notify.send(ctx, Notification{
		Kind:           NotificationPrescriptionVerified,
		PrescriptionID: savedRx.ID,
		OrderID:        savedOrder.ID,
		Recipient:      savedRx.PatientRef,
		Message:        "Your prescription has been verified",
	})
	if beforeState != savedOrder.Status {
		s.notify.statusChanged(ctx, savedOrder)
	}
	return savedRx, savedOrder, nil
}

// Reject records the pharmacist's reason. The linked order is left as it is.
func (s *prescriptionService) Reject(ctx context.Context, cmd RejectPrescriptionCommand) (Prescription, error) {
	if err := requirePharmacist(cmd.Actor); err != nil {
		return Prescription{}, err
	}
	reason := sanitizeText(cmd.Reason)
	if reason == "" {
		return Prescription{}, fmt.Errorf("%w: rejection reason is required", ErrValidation)
	}

	var saved Prescription
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		rx, err := s.findPrescription(txCtx, cmd.PrescriptionID)
		if err != nil {
			return err
		}
		if rx.Status != domain.PrescriptionStatusPending {
			return fmt.Errorf("%w: only pending prescriptions can be rejected, prescription is %s", ErrPrescriptionInvalidState, rx.Status)
		}
		now := s.clock()
		rx.Status = domain.PrescriptionStatusRejected
		rx.RejectedByRef = cmd.Actor.ID
		rx.RejectedAt = &now
		rx.RejectionReason = reason
		rx.UpdatedAt = now
		saved, err = s.prescriptions.Update(txCtx, rx)
		return err
	})
	if err != nil {
		return Prescription{}, translateRepoError(err, ErrPrescriptionNotFound)
	}

	s.logger(ctx, "prescription.rejected", map[string]any{
		"prescriptionId": saved.ID,
		"actorId":        cmd.Actor.ID,
	})
	s.notify.send(ctx, Notification{
		Kind:           NotificationPrescriptionRejected,
		PrescriptionID: saved.ID,
		OrderID:        saved.OrderRef,
		Recipient:      saved.PatientRef,
		Message:        reason,
	})
	return saved, nil
}

// RemovePrescriptionItem removes a line from the order and the matching item from its
// prescription in one transaction.
func (s *prescriptionService) RemovePrescriptionItem(ctx context.Context, cmd RemoveItemCommand) (Order, error) {
	if err := requirePharmacist(cmd.Actor); err != nil {
		return Order{}, err
	}

	var saved Order
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, cmd.OrderID)
		if err != nil {
			return translateRepoError(err, ErrOrderNotFound)
		}
		if err := checkVersion(cmd.OrderCommand, order); err != nil {
			return err
		}
		if order.Status != domain.OrderStatusDraft && order.Status != domain.OrderStatusPending {
			return fmt.Errorf("%w: items can only be removed before confirmation, order is %s", ErrOrderInvalidState, order.Status)
		}
		idx := order.FindItem(cmd.LineID)
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrOrderItemNotFound, cmd.LineID)
		}
		medicineRef := order.Items[idx].MedicineRef

		var (
			rx       Prescription
			rxLinked bool
		)
		if order.PrescriptionRef != "" {
			rx, err = s.findPrescription(txCtx, order.PrescriptionRef)
			if err != nil {
				return err
			}
			rxLinked = true
		}

		now := s.clock()
		order.Items = append(order.Items[:idx], order.Items[idx+1:]...)
		if order.Billed() {
			order = s.billing.RecomputeTotals(order)
		}
		order.UpdatedAt = now
		if saved, err = s.orders.Update(txCtx, order); err != nil {
			return err
		}

		if rxLinked {
			if at := rx.FindItem(medicineRef); at >= 0 {
				rx.Items = append(rx.Items[:at], rx.Items[at+1:]...)
				rx.UpdatedAt = now
				if _, err := s.prescriptions.Update(txCtx, rx); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return Order{}, translateRepoError(err, ErrOrderNotFound)
	}

	if saved.Billed() {
		s.regenerateInvoice(ctx, saved)
	}
	s.logger(ctx, "prescription.item_removed", map[string]any{
		"orderId": saved.ID,
		"lineId":  cmd.LineID,
		"actorId": cmd.Actor.ID,
	})
	return saved, nil
}

func (s *prescriptionService) findPrescription(ctx context.Context, id string) (Prescription, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Prescription{}, fmt.Errorf("%w: prescription id is required", ErrValidation)
	}
	rx, err := s.prescriptions.FindByID(ctx, id)
	if err != nil {
		return Prescription{}, translateRepoError(err, ErrPrescriptionNotFound)
	}
	return rx, nil
}

// linkedOrder returns the prescription's editable order, or a new unsaved prescription order when
// none is linked yet. It must run before any write in the transaction.
func (s *prescriptionService) linkedOrder(ctx context.Context, rx Prescription) (Order, bool, error) {
	if rx.OrderRef != "" {
		order, err := s.orders.FindByID(ctx, rx.OrderRef)
		if err != nil {
			return Order{}, false, translateRepoError(err, ErrOrderNotFound)
		}
		if order.Status != domain.OrderStatusDraft && order.Status != domain.OrderStatusPending {
			return Order{}, false, fmt.Errorf("%w: linked order %s is %s", ErrOrderInvalidState, order.ID, order.Status)
		}
		return order, false, nil
	}

	number, err := s.counters.NextOrderNumber(ctx)
	if err != nil {
		return Order{}, false, err
	}
	now := s.clock()
	return Order{
		ID:              newID(orderIDPrefix),
		OrderNumber:     number,
		PatientRef:      rx.PatientRef,
		Type:            domain.OrderTypePrescription,
		PrescriptionRef: rx.ID,
		Status:          domain.OrderStatusDraft,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, true, nil
}

func (s *prescriptionService) regenerateInvoice(ctx context.Context, order Order) {
	if _, err := s.invoices.Generate(ctx, order); err != nil {
		s.logger(ctx, "invoice.generate_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

func requirePharmacist(actor Actor) error {
	if !hasRole(actor, domain.RolePharmacist, domain.RoleAdmin) {
		return fmt.Errorf("%w: pharmacist role required", ErrForbidden)
	}
	return nil
}
