package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/carepoint-rx/api/internal/repositories"
)

var (
	// ErrNotFound is the root of every missing-entity error.
	ErrNotFound = errors.New("not found")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = fmt.Errorf("order %w", ErrNotFound)
	// ErrOrderItemNotFound indicates the order has no line with the given id.
	ErrOrderItemNotFound = fmt.Errorf("order item %w", ErrNotFound)
	// ErrPrescriptionNotFound indicates the prescription could not be located.
	ErrPrescriptionNotFound = fmt.Errorf("prescription %w", ErrNotFound)
	// ErrStockItemNotFound indicates the catalog item is missing or inactive.
	ErrStockItemNotFound = fmt.Errorf("catalog item %w", ErrNotFound)
	// ErrInvoiceNotFound indicates no invoice exists for an unbilled order.
	ErrInvoiceNotFound = fmt.Errorf("invoice %w", ErrNotFound)

	// ErrInvalidState is the root of illegal state machine transitions.
	ErrInvalidState = errors.New("invalid state")
	// ErrOrderInvalidState reports a transition the order's current status forbids.
	ErrOrderInvalidState = fmt.Errorf("order: %w", ErrInvalidState)
	// ErrPrescriptionInvalidState reports an operation on a verified or rejected prescription.
	ErrPrescriptionInvalidState = fmt.Errorf("prescription: %w", ErrInvalidState)

	// ErrValidation is the root of caller input errors.
	ErrValidation = errors.New("validation failed")
	// ErrEmptyOrder reports bill generation or confirmation of an order without items.
	ErrEmptyOrder = fmt.Errorf("%w: order has no items", ErrValidation)
	// ErrDeliveryAddressRequired reports a confirmation without a delivery address.
	ErrDeliveryAddressRequired = fmt.Errorf("%w: delivery address is required", ErrValidation)

	// ErrInsufficientStock indicates requested units exceed the catalog item's stock.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrPrescriptionItemLocked indicates a patient tried to remove a prescription line.
	ErrPrescriptionItemLocked = errors.New("prescription item locked")
	// ErrForbidden indicates the actor's role does not permit the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrOrderConflict indicates a stale version or a concurrent write.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrStoreUnavailable indicates a transient store failure. Callers may retry.
	ErrStoreUnavailable = errors.New("store unavailable")
)

var serviceErrors = []error{
	ErrNotFound,
	ErrInvalidState,
	ErrValidation,
	ErrInsufficientStock,
	ErrPrescriptionItemLocked,
	ErrForbidden,
	ErrOrderConflict,
	ErrStoreUnavailable,
}

func isServiceError(err error) bool {
	for _, target := range serviceErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// translateRepoError maps repository failures onto the service taxonomy. notFound selects the
// sentinel used for missing documents.
func translateRepoError(err error, notFound error) error {
	if err == nil || isServiceError(err) {
		return err
	}

	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return fmt.Errorf("%w: item %s has %d units, %d requested", ErrInsufficientStock, stockErr.ItemID, stockErr.Available, stockErr.Requested)
		case repositories.StockErrorNotFound, repositories.StockErrorInactive:
			return fmt.Errorf("%w: %s", ErrStockItemNotFound, stockErr.ItemID)
		case repositories.StockErrorInvalidInput:
			return fmt.Errorf("%w: %s", ErrValidation, stockErr.Message)
		}
	}

	var counterErr *repositories.CounterError
	if errors.As(err, &counterErr) && counterErr.Code == repositories.CounterErrorInvalidInput {
		return fmt.Errorf("%w: %s", ErrValidation, counterErr.Message)
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", notFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}
