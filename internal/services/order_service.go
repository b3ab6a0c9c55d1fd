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

// prescriptionLineRemover performs the symmetric removal of prescription lines.
type prescriptionLineRemover interface {
	RemovePrescriptionItem(ctx context.Context, cmd RemoveItemCommand) (Order, error)
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Registry      repositories.Registry
	Ledger        StockLedgerService
	Billing       BillingCalculator
	Invoices      InvoiceService
	Counters      CounterService
	Prescriptions prescriptionLineRemover
	Payments      PaymentGateway
	Directory     StaffDirectory
	Notifier      Notifier
	Metrics       LedgerMetrics
	Currency      string
	Clock         func() time.Time
	Logger        Logger
}

type orderService struct {
	uow           repositories.UnitOfWork
	orders        repositories.OrderRepository
	stock         repositories.StockRepository
	prescriptions repositories.PrescriptionRepository
	ledger        StockLedgerService
	billing       BillingCalculator
	invoices      InvoiceService
	counters      CounterService
	rxRemover     prescriptionLineRemover
	payments      PaymentGateway
	directory     StaffDirectory
	notify        notifier
	metrics       LedgerMetrics
	currency      string
	clock         func() time.Time
	logger        Logger
}

var _ OrderService = (*orderService)(nil)

// NewOrderService constructs the order aggregate service.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.New("order service: registry is required")
	case deps.Ledger == nil:
		return nil, errors.New("order service: stock ledger is required")
	case deps.Invoices == nil:
		return nil, errors.New("order service: invoice service is required")
	case deps.Counters == nil:
		return nil, errors.New("order service: counter service is required")
	case deps.Prescriptions == nil:
		return nil, errors.New("order service: prescription service is required")
	case deps.Directory == nil:
		return nil, errors.New("order service: staff directory is required")
	}

	clock := utcClock(deps.Clock)
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	billing := deps.Billing
	if billing.FreeDeliveryAbove.IsZero() || billing.DeliveryFee.IsZero() {
		billing = NewBillingCalculator(billing.FreeDeliveryAbove, billing.DeliveryFee)
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultInvoiceCurrency
	}

	return &orderService{
		uow:           deps.Registry,
		orders:        deps.Registry.Orders(),
		stock:         deps.Registry.Stock(),
		prescriptions: deps.Registry.Prescriptions(),
		ledger:        deps.Ledger,
		billing:       billing,
		invoices:      deps.Invoices,
		counters:      deps.Counters,
		rxRemover:     deps.Prescriptions,
		payments:      deps.Payments,
		directory:     deps.Directory,
		notify:        newNotifier(deps.Notifier, logger, clock),
		metrics:       metrics,
		currency:      currency,
		clock:         clock,
		logger:        logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if !hasRole(cmd.Actor, domain.RolePatient) {
		return Order{}, fmt.Errorf("%w: only patients can create orders", ErrForbidden)
	}

	orderType := cmd.Type
	if orderType == "" {
		orderType = domain.OrderTypeOTC
	}
	prescriptionRef := strings.TrimSpace(cmd.PrescriptionRef)
	switch orderType {
	case domain.OrderTypeOTC:
	case domain.OrderTypeRefill, domain.OrderTypePrescription:
		if prescriptionRef == "" {
			return Order{}, fmt.Errorf("%w: %s orders need a prescription reference", ErrValidation, orderType)
		}
	default:
		return Order{}, fmt.Errorf("%w: unsupported order type %q", ErrValidation, orderType)
	}

	var created Order
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		var (
			rx     Prescription
			linkRx bool
		)
		if prescriptionRef != "" {
			var err error
			rx, err = s.prescriptions.FindByID(txCtx, prescriptionRef)
			if err != nil {
				return translateRepoError(err, ErrPrescriptionNotFound)
			}
			if rx.PatientRef != cmd.Actor.ID {
				return fmt.Errorf("%w: prescription %s belongs to another patient", ErrForbidden, rx.ID)
			}
			if rx.Status == domain.PrescriptionStatusRejected {
				return fmt.Errorf("%w: prescription %s was rejected", ErrValidation, rx.ID)
			}
			// A prescription order becomes the one the pharmacist fills. Refills only cite the script.
			if orderType == domain.OrderTypePrescription {
				if rx.OrderRef != "" {
					return fmt.Errorf("%w: prescription %s is already linked to order %s", ErrValidation, rx.ID, rx.OrderRef)
				}
				linkRx = true
			}
		}

		number, err := s.counters.NextOrderNumber(txCtx)
		if err != nil {
			return err
		}
		now := s.clock()
		created = Order{
			ID:              newID(orderIDPrefix),
			OrderNumber:     number,
			PatientRef:      cmd.Actor.ID,
			Type:            orderType,
			PrescriptionRef: prescriptionRef,
			Status:          domain.OrderStatusDraft,
			DeliveryAddress: sanitizeText(cmd.DeliveryAddress),
			Version:         1,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.orders.Insert(txCtx, created); err != nil {
			return err
		}
		if !linkRx {
			return nil
		}
		rx.OrderRef = created.ID
		rx.UpdatedAt = now
		_, err = s.prescriptions.Update(txCtx, rx)
		return err
	})
	if err != nil {
		return Order{}, translateRepoError(err, ErrOrderNotFound)
	}

	s.logger(ctx, "order.created", map[string]any{
		"orderId":     created.ID,
		"orderNumber": created.OrderNumber,
		"patientId":   created.PatientRef,
		"type":        string(created.Type),
	})
	return created, nil
}

func (s *orderService) GetOrder(ctx context.Context, actor Actor, orderID string) (Order, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if err := authorize(eventView, actor, order); err != nil {
		return Order{}, err
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, actor Actor, filter OrderListFilter) (domain.CursorPage[Order], error) {
	scoped, err := policyFor(actor).scope(actor, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, err
	}
	page, err := s.orders.List(ctx, scoped)
	if err != nil {
		return domain.CursorPage[Order]{}, translateListError(err)
	}
	return page, nil
}

// AddItem adds quantity units of a catalog item to a draft order, merging with an existing line.
func (s *orderService) AddItem(ctx context.Context, cmd AddItemCommand) (Order, error) {
	if cmd.Quantity <= 0 {
		return Order{}, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	itemID := strings.TrimSpace(cmd.ItemID)
	if itemID == "" {
		return Order{}, fmt.Errorf("%w: item id is required", ErrValidation)
	}

	updated, _, err := s.mutate(ctx, cmd.OrderCommand, eventAddItem, func(txCtx context.Context, order *Order) error {
		if order.Status != domain.OrderStatusDraft {
			return fmt.Errorf("%w: items can only be added to draft orders, order is %s", ErrOrderInvalidState, order.Status)
		}

		item, err := s.stock.Get(txCtx, itemID)
		if err != nil {
			return translateRepoError(err, ErrStockItemNotFound)
		}
		if !item.IsActive {
			return fmt.Errorf("%w: %s is inactive", ErrStockItemNotFound, item.ID)
		}

		isPrescription := false
		if item.RequiresPrescription {
			if err := s.requireVerifiedPrescription(txCtx, *order, item.ID); err != nil {
				return err
			}
			isPrescription = true
		}

		if idx := order.FindByMedicine(item.ID); idx >= 0 {
			line := &order.Items[idx]
			line.Quantity += cmd.Quantity
			line.PriceSnapshot = item.PricePerUnit
			line.IsPrescription = line.IsPrescription || isPrescription
			line.IsAvailable = checkAvailability(item, line.Quantity) == nil
		} else {
			line := newOrderLine(item, cmd.Quantity)
			line.IsPrescription = isPrescription
			order.Items = append(order.Items, line)
		}
		promoteType(order)
		return nil
	})
	return updated, err
}

func (s *orderService) requireVerifiedPrescription(ctx context.Context, order Order, medicineRef string) error {
	if order.PrescriptionRef == "" {
		return fmt.Errorf("%w: %s requires a verified prescription", ErrValidation, medicineRef)
	}
	rx, err := s.prescriptions.FindByID(ctx, order.PrescriptionRef)
	if err != nil {
		return translateRepoError(err, ErrPrescriptionNotFound)
	}
	if rx.Status != domain.PrescriptionStatusVerified || rx.FindItem(medicineRef) < 0 {
		return fmt.Errorf("%w: %s is not on a verified prescription for this order", ErrValidation, medicineRef)
	}
	return nil
}

// RemoveItem drops one line. Stock is never released because it was never held.
func (s *orderService) RemoveItem(ctx context.Context, cmd RemoveItemCommand) (Order, error) {
	current, err := s.load(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	policy := policyFor(cmd.Actor)
	if !policy.allows(eventRemoveItem, cmd.Actor, current) {
		return Order{}, fmt.Errorf("%w: %s may not remove items from order %s", ErrForbidden, cmd.Actor.Role, current.ID)
	}
	if idx := current.FindItem(cmd.LineID); idx >= 0 {
		how, err := policy.removal(current.Items[idx], current)
		if err != nil {
			return Order{}, err
		}
		if how == removeThroughPrescription {
			return s.rxRemover.RemovePrescriptionItem(ctx, cmd)
		}
	}

	updated, _, err := s.mutate(ctx, cmd.OrderCommand, eventRemoveItem, func(_ context.Context, order *Order) error {
		if order.Status != domain.OrderStatusDraft && order.Status != domain.OrderStatusPending {
			return fmt.Errorf("%w: items can only be removed before confirmation, order is %s", ErrOrderInvalidState, order.Status)
		}
		idx := order.FindItem(cmd.LineID)
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrOrderItemNotFound, cmd.LineID)
		}
		how, err := policy.removal(order.Items[idx], *order)
		if err != nil {
			return err
		}
		if how != removeLine {
			return fmt.Errorf("%w: line %s changed concurrently", ErrOrderConflict, cmd.LineID)
		}
		order.Items = append(order.Items[:idx], order.Items[idx+1:]...)
		if order.Billed() {
			*order = s.billing.RecomputeTotals(*order)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	if updated.Billed() {
		s.regenerateInvoice(ctx, updated)
	}
	return updated, nil
}

// GenerateBill freezes totals and moves a draft order to pending.
func (s *orderService) GenerateBill(ctx context.Context, cmd OrderCommand) (Order, error) {
	updated, before, err := s.mutate(ctx, cmd, eventGenerateBill, func(_ context.Context, order *Order) error {
		if order.Status != domain.OrderStatusDraft {
			return fmt.Errorf("%w: bills are generated for draft orders, order is %s", ErrOrderInvalidState, order.Status)
		}
		if len(order.Items) == 0 {
			return fmt.Errorf("%w: %s", ErrEmptyOrder, order.ID)
		}
		now := s.clock()
		*order = s.billing.RecomputeTotals(*order)
		order.BilledAt = &now
		transition(order, domain.OrderStatusPending, cmd.Actor, now)
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.regenerateInvoice(ctx, updated)
	s.afterTransition(ctx, before, updated)
	return updated, nil
}

// Confirm commits stock for every line together with the order write. A repeated confirmation
// returns the stored order without touching stock.
func (s *orderService) Confirm(ctx context.Context, cmd ConfirmOrderCommand) (ConfirmResult, error) {
	method := cmd.PaymentMethod
	if method != domain.PaymentMethodOnline && method != domain.PaymentMethodCOD {
		return ConfirmResult{}, fmt.Errorf("%w: payment method must be online or cod", ErrValidation)
	}
	address := sanitizeText(cmd.DeliveryAddress)

	var (
		result      ConfirmResult
		before      Order
		commitUnits int
		committing  bool
	)
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		result = ConfirmResult{}
		committing = false

		order, err := s.orders.FindByID(txCtx, cmd.OrderID)
		if err != nil {
			return translateRepoError(err, ErrOrderNotFound)
		}
		before = order
		if err := authorize(eventConfirm, cmd.Actor, order); err != nil {
			return err
		}
		if order.StockCommitted && order.Status != domain.OrderStatusCancelled {
			result = ConfirmResult{Order: order, AlreadyConfirmed: true}
			return nil
		}
		if err := checkVersion(cmd.OrderCommand, order); err != nil {
			return err
		}
		if order.Status != domain.OrderStatusPending {
			return fmt.Errorf("%w: only pending orders can be confirmed, order is %s", ErrOrderInvalidState, order.Status)
		}
		if len(order.Items) == 0 {
			return fmt.Errorf("%w: %s", ErrEmptyOrder, order.ID)
		}
		if address == "" {
			address = order.DeliveryAddress
		}
		if address == "" {
			return ErrDeliveryAddressRequired
		}

		lines := make([]StockLine, 0, len(order.Items))
		for _, item := range order.Items {
			lines = append(lines, StockLine{ItemID: item.MedicineRef, Quantity: item.Quantity})
		}
		commitUnits, committing = stockUnits(lines), true
		if _, err := s.ledger.Commit(withCommitMetricsDeferred(txCtx), lines); err != nil {
			return err
		}

		now := s.clock()
		order.DeliveryAddress = address
		order.PaymentMethod = method
		order.PaymentStatus = domain.PaymentStatusPending
		order.StockCommitted = true
		order.ConfirmedAt = &now
		order.UpdatedAt = now
		transition(&order, domain.OrderStatusConfirmed, cmd.Actor, now)
		updated, err := s.orders.Update(txCtx, order)
		if err != nil {
			return err
		}
		result.Order = updated
		return nil
	})
	if err != nil {
		err = translateRepoError(err, ErrOrderNotFound)
	}
	if committing {
		recordCommit(ctx, s.metrics, err, commitUnits)
	}
	if err != nil {
		outcome := outcomeFailed
		if errors.Is(err, ErrInsufficientStock) {
			outcome = outcomeInsufficient
		}
		s.metrics.RecordConfirm(ctx, outcome)
		return ConfirmResult{}, err
	}
	if result.AlreadyConfirmed {
		s.metrics.RecordConfirm(ctx, "already_confirmed")
		return result, nil
	}
	s.metrics.RecordConfirm(ctx, outcomeCommitted)

	if method == domain.PaymentMethodOnline {
		result.Order = s.startPayment(ctx, result.Order)
	}
	s.afterTransition(ctx, before, result.Order)
	return result, nil
}

// startPayment asks the gateway for a payment reference. Failures mark the payment failed and
// leave the confirmation in place.
func (s *orderService) startPayment(ctx context.Context, order Order) Order {
	if s.payments == nil {
		s.logger(ctx, "order.payment_gateway_missing", map[string]any{"orderId": order.ID})
		return order
	}
	ref, payErr := s.payments.CreatePayment(ctx, PaymentRequest{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PatientRef:     order.PatientRef,
		Amount:         amountOrZero(order.FinalAmount),
		Currency:       s.currency,
		IdempotencyKey: order.ID + ":confirm",
	})
	if payErr != nil {
		s.logger(ctx, "order.payment_failed", map[string]any{
			"orderId": order.ID,
			"error":   payErr.Error(),
		})
	}

	updated, err := s.patch(ctx, order.ID, func(current *Order) {
		if payErr != nil {
			current.PaymentStatus = domain.PaymentStatusFailed
			return
		}
		current.PaymentRef = ref
	})
	if err != nil {
		s.logger(ctx, "order.payment_update_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return order
	}
	return updated
}

func (s *orderService) StartProcessing(ctx context.Context, cmd OrderCommand) (Order, error) {
	return s.advance(ctx, cmd, eventStartProcessing, domain.OrderStatusProcessing, nil, domain.OrderStatusConfirmed)
}

func (s *orderService) MarkReady(ctx context.Context, cmd OrderCommand) (Order, error) {
	return s.advance(ctx, cmd, eventMarkReady, domain.OrderStatusReady, nil, domain.OrderStatusProcessing)
}

// AssignDelivery hands the order to a delivery actor.
func (s *orderService) AssignDelivery(ctx context.Context, cmd AssignDeliveryCommand) (Order, error) {
	assignee := strings.TrimSpace(cmd.AssigneeID)
	if assignee == "" {
		return Order{}, fmt.Errorf("%w: assignee is required", ErrValidation)
	}
	roles, err := s.directory.RolesOf(ctx, assignee)
	if err != nil {
		return Order{}, translateRepoError(err, ErrNotFound)
	}
	isCourier := false
	for _, role := range roles {
		if role == domain.RoleDelivery {
			isCourier = true
			break
		}
	}
	if !isCourier {
		return Order{}, fmt.Errorf("%w: %s does not hold the delivery role", ErrValidation, assignee)
	}

	return s.advance(ctx, cmd.OrderCommand, eventAssignDelivery, domain.OrderStatusOutForDelivery, func(order *Order) {
		order.AssignedTo = assignee
	}, domain.OrderStatusConfirmed, domain.OrderStatusReady)
}

func (s *orderService) MarkDelivered(ctx context.Context, cmd OrderCommand) (Order, error) {
	return s.advance(ctx, cmd, eventMarkDelivered, domain.OrderStatusDelivered, func(order *Order) {
		now := s.clock()
		order.DeliveredAt = &now
	}, domain.OrderStatusOutForDelivery)
}

// Cancel ends a non-terminal order. Committed stock is not returned.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	reason := sanitizeText(cmd.Reason)
	updated, before, err := s.mutate(ctx, cmd.OrderCommand, eventCancel, func(_ context.Context, order *Order) error {
		if order.Status.Terminal() {
			return fmt.Errorf("%w: order is already %s", ErrOrderInvalidState, order.Status)
		}
		now := s.clock()
		order.CancelReason = reason
		order.CancelledAt = &now
		transition(order, domain.OrderStatusCancelled, cmd.Actor, now)
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.afterTransition(ctx, before, updated)
	return updated, nil
}

// RecordPayment stores the collected payment outcome of a confirmed order.
func (s *orderService) RecordPayment(ctx context.Context, cmd RecordPaymentCommand) (Order, error) {
	if cmd.Status != domain.PaymentStatusPaid && cmd.Status != domain.PaymentStatusFailed {
		return Order{}, fmt.Errorf("%w: payment status must be paid or failed", ErrValidation)
	}
	updated, _, err := s.mutate(ctx, cmd.OrderCommand, eventRecordPayment, func(_ context.Context, order *Order) error {
		if !order.StockCommitted || order.Status == domain.OrderStatusCancelled {
			return fmt.Errorf("%w: payments are recorded on confirmed orders, order is %s", ErrOrderInvalidState, order.Status)
		}
		order.PaymentStatus = cmd.Status
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.logger(ctx, "order.payment_recorded", map[string]any{
		"orderId": updated.ID,
		"status":  string(updated.PaymentStatus),
		"actorId": cmd.Actor.ID,
	})
	return updated, nil
}

// GetInvoice returns the order's invoice, generating it when a billed order has none yet.
func (s *orderService) GetInvoice(ctx context.Context, actor Actor, orderID string) (Invoice, error) {
	order, err := s.GetOrder(ctx, actor, orderID)
	if err != nil {
		return Invoice{}, err
	}
	invoice, err := s.invoices.FindByOrder(ctx, order.ID)
	if err == nil {
		return invoice, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Invoice{}, err
	}
	if !order.Billed() {
		return Invoice{}, fmt.Errorf("%w: order %s has not been billed", ErrInvoiceNotFound, order.ID)
	}
	return s.invoices.Generate(ctx, order)
}

// advance moves the order along one edge of the state machine.
func (s *orderService) advance(ctx context.Context, cmd OrderCommand, event orderEvent, to domain.OrderStatus, apply func(*Order), from ...domain.OrderStatus) (Order, error) {
	updated, before, err := s.mutate(ctx, cmd, event, func(_ context.Context, order *Order) error {
		allowed := false
		for _, status := range from {
			if order.Status == status {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: cannot %s an order in status %s", ErrOrderInvalidState, event, order.Status)
		}
		if apply != nil {
			apply(order)
		}
		transition(order, to, cmd.Actor, s.clock())
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.afterTransition(ctx, before, updated)
	return updated, nil
}

// mutate loads the order inside a transaction, checks the caller's version and role, applies fn and
// writes the result. It returns the written order and the order as read.
func (s *orderService) mutate(ctx context.Context, cmd OrderCommand, event orderEvent, fn func(ctx context.Context, order *Order) error) (Order, Order, error) {
	var updated, before Order
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, cmd.OrderID)
		if err != nil {
			return translateRepoError(err, ErrOrderNotFound)
		}
		before = order
		if err := authorize(event, cmd.Actor, order); err != nil {
			return err
		}
		if err := checkVersion(cmd, order); err != nil {
			return err
		}
		if err := fn(txCtx, &order); err != nil {
			return err
		}
		order.UpdatedAt = s.clock()
		updated, err = s.orders.Update(txCtx, order)
		return err
	})
	if err != nil {
		return Order{}, Order{}, translateRepoError(err, ErrOrderNotFound)
	}
	return updated, before, nil
}

// patch applies fn to the stored order outside any role check. It is used for follow-up writes the
// service itself initiates.
func (s *orderService) patch(ctx context.Context, orderID string, fn func(*Order)) (Order, error) {
	var updated Order
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return err
		}
		fn(&order)
		order.UpdatedAt = s.clock()
		updated, err = s.orders.Update(txCtx, order)
		return err
	})
	if err != nil {
		return Order{}, translateRepoError(err, ErrOrderNotFound)
	}
	return updated, nil
}

func (s *orderService) load(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, translateRepoError(err, ErrOrderNotFound)
	}
	return order, nil
}

func (s *orderService) regenerateInvoice(ctx context.Context, order Order) {
	if _, err := s.invoices.Generate(ctx, order); err != nil {
		s.logger(ctx, "invoice.generate_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) afterTransition(ctx context.Context, before, after Order) {
	if before.Status == after.Status {
		return
	}
	s.logger(ctx, "order.status_changed", map[string]any{
		"orderId": after.ID,
		"from":    string(before.Status),
		"to":      string(after.Status),
		"version": after.Version,
	})
	s.notify.statusChanged(ctx, after)
}

func checkVersion(cmd OrderCommand, order Order) error {
	if cmd.ExpectedVersion != 0 && cmd.ExpectedVersion != order.Version {
		return fmt.Errorf("%w: order %s is at version %d, caller expected %d", ErrOrderConflict, order.ID, order.Version, cmd.ExpectedVersion)
	}
	return nil
}

func transition(order *Order, to domain.OrderStatus, actor Actor, at time.Time) {
	if order.Status == to {
		return
	}
	order.StatusHistory = append(order.StatusHistory, domain.OrderStatusChange{
		From:     order.Status,
		To:       to,
		ActorRef: actor.ID,
		Role:     actor.Role,
		At:       at,
	})
	order.Status = to
}

func newOrderLine(item CatalogItem, quantity int) OrderItem {
	return OrderItem{
		ID:            newID(orderLineIDPrefix),
		MedicineRef:   item.ID,
		NameSnapshot:  item.Name,
		Quantity:      quantity,
		PriceSnapshot: item.PricePerUnit,
		IsAvailable:   checkAvailability(item, quantity) == nil,
	}
}

// promoteType turns an order into mixed once it holds both kinds of lines. It never demotes.
func promoteType(order *Order) {
	if order.Type == domain.OrderTypeMixed {
		return
	}
	hasPrescription, hasOTC := false, false
	for _, item := range order.Items {
		if item.IsPrescription {
			hasPrescription = true
		} else {
			hasOTC = true
		}
	}
	if hasPrescription && hasOTC {
		order.Type = domain.OrderTypeMixed
	}
}
