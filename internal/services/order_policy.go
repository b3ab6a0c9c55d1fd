package services

import (
	"fmt"

	domain "github.com/carepoint-rx/api/internal/domain"
)

type orderEvent string

const (
	eventView            orderEvent = "view"
	eventAddItem         orderEvent = "addItem"
	eventRemoveItem      orderEvent = "removeItem"
	eventGenerateBill    orderEvent = "generateBill"
	eventConfirm         orderEvent = "confirm"
	eventStartProcessing orderEvent = "startProcessing"
	eventMarkReady       orderEvent = "markReady"
	eventAssignDelivery  orderEvent = "assignDelivery"
	eventMarkDelivered   orderEvent = "markDelivered"
	eventCancel          orderEvent = "cancel"
	eventRecordPayment   orderEvent = "recordPayment"
)

type lineRemoval int

const (
	removeLine lineRemoval = iota + 1
	removeThroughPrescription
)

// orderActorPolicy decides what one role may do to an order.
type orderActorPolicy interface {
	allows(event orderEvent, actor Actor, order Order) bool
	removal(item OrderItem, order Order) (lineRemoval, error)
	scope(actor Actor, filter OrderListFilter) (OrderListFilter, error)
}

var orderPolicies = map[domain.Role]orderActorPolicy{
	domain.RolePatient:    patientPolicy{},
	domain.RolePharmacist: staffPolicy{},
	domain.RoleAdmin:      staffPolicy{},
	domain.RoleDelivery:   deliveryPolicy{},
}

func policyFor(actor Actor) orderActorPolicy {
	if policy, ok := orderPolicies[actor.Role]; ok && actor.ID != "" {
		return policy
	}
	return denyPolicy{}
}

// authorize returns ErrForbidden unless the actor's policy allows event.
func authorize(event orderEvent, actor Actor, order Order) error {
	if !policyFor(actor).allows(event, actor, order) {
		return fmt.Errorf("%w: %s may not %s order %s", ErrForbidden, actor.Role, event, order.ID)
	}
	return nil
}

type patientPolicy struct{}

func (patientPolicy) allows(event orderEvent, actor Actor, order Order) bool {
	if order.PatientRef != actor.ID {
		return false
	}
	switch event {
	case eventView, eventAddItem, eventRemoveItem, eventGenerateBill, eventConfirm:
		return true
	case eventCancel:
		return order.Status == domain.OrderStatusDraft || order.Status == domain.OrderStatusPending
	default:
		return false
	}
}

func (patientPolicy) removal(item OrderItem, _ Order) (lineRemoval, error) {
	if item.IsPrescription {
		return 0, fmt.Errorf("%w: line %s was added by a pharmacist", ErrPrescriptionItemLocked, item.ID)
	}
	return removeLine, nil
}

func (patientPolicy) scope(actor Actor, filter OrderListFilter) (OrderListFilter, error) {
	filter.PatientRef = actor.ID
	filter.AssignedTo = ""
	return filter, nil
}

// staffPolicy serves pharmacists and admins.
type staffPolicy struct{}

func (staffPolicy) allows(event orderEvent, _ Actor, _ Order) bool {
	switch event {
	case eventAddItem, eventConfirm:
		return false
	default:
		return true
	}
}

func (staffPolicy) removal(item OrderItem, order Order) (lineRemoval, error) {
	if item.IsPrescription && order.PrescriptionRef != "" {
		return removeThroughPrescription, nil
	}
	return removeLine, nil
}

func (staffPolicy) scope(_ Actor, filter OrderListFilter) (OrderListFilter, error) {
	return filter, nil
}

type deliveryPolicy struct{}

func (deliveryPolicy) allows(event orderEvent, actor Actor, order Order) bool {
	if order.AssignedTo != actor.ID {
		return false
	}
	switch event {
	case eventView, eventMarkDelivered, eventRecordPayment:
		return true
	default:
		return false
	}
}

func (deliveryPolicy) removal(item OrderItem, _ Order) (lineRemoval, error) {
	return 0, fmt.Errorf("%w: delivery staff cannot edit order lines", ErrForbidden)
}

func (deliveryPolicy) scope(actor Actor, filter OrderListFilter) (OrderListFilter, error) {
	filter.AssignedTo = actor.ID
	filter.PatientRef = ""
	return filter, nil
}

type denyPolicy struct{}

func (denyPolicy) allows(orderEvent, Actor, Order) bool { return false }

func (denyPolicy) removal(OrderItem, Order) (lineRemoval, error) {
	return 0, fmt.Errorf("%w: unknown role", ErrForbidden)
}

func (denyPolicy) scope(Actor, OrderListFilter) (OrderListFilter, error) {
	return OrderListFilter{}, fmt.Errorf("%w: unknown role", ErrForbidden)
}

func hasRole(actor Actor, roles ...domain.Role) bool {
	if actor.ID == "" {
		return false
	}
	for _, role := range roles {
		if actor.Role == role {
			return true
		}
	}
	return false
}
