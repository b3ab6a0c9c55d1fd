package repositories

import "fmt"

// StockErrorCode enumerates repository error causes for stock ledger operations.
type StockErrorCode string

const (
	// StockErrorUnknown represents an unspecified failure.
	StockErrorUnknown StockErrorCode = "stock_unknown"
	// StockErrorInsufficient indicates requested quantity exceeds available units.
	StockErrorInsufficient StockErrorCode = "stock_insufficient"
	// StockErrorNotFound indicates the catalog item does not exist.
	StockErrorNotFound StockErrorCode = "stock_not_found"
	// StockErrorInactive indicates the catalog item exists but is not sellable.
	StockErrorInactive StockErrorCode = "stock_inactive"
	// StockErrorInvalidInput indicates the caller supplied invalid arguments.
	StockErrorInvalidInput StockErrorCode = "stock_invalid_input"
)

// StockError wraps stock-specific failures with machine readable codes.
type StockError struct {
	Op        string
	Code      StockErrorCode
	ItemID    string
	Requested int
	Available int
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewStockError constructs a typed stock error.
func NewStockError(code StockErrorCode, itemID, message string, err error) *StockError {
	if message == "" {
		message = string(code)
	}
	return &StockError{
		Code:    code,
		ItemID:  itemID,
		Message: message,
		Err:     err,
	}
}

// NewInsufficientStockError reports a shortfall for a single item.
func NewInsufficientStockError(itemID string, requested, available int) *StockError {
	err := NewStockError(StockErrorInsufficient, itemID,
		fmt.Sprintf("item %s has %d units, %d requested", itemID, available, requested), nil)
	err.Requested = requested
	err.Available = available
	return err
}
