package repositories

import "fmt"

// InventoryErrorCode enumerates repository error causes for inventory operations.
type InventoryErrorCode string

const (
	// InventoryErrorUnknown represents an unspecified failure.
	InventoryErrorUnknown InventoryErrorCode = "inventory_unknown"
	// InventoryErrorInsufficientStock indicates requested quantity exceeds availability.
	InventoryErrorInsufficientStock InventoryErrorCode = "inventory_insufficient_stock"
	// InventoryErrorStockNotFound indicates the product does not have a stock record.
	InventoryErrorStockNotFound InventoryErrorCode = "inventory_stock_not_found"
	// InventoryErrorReservationNotFound indicates no reservation exists for the order.
	InventoryErrorReservationNotFound InventoryErrorCode = "inventory_reservation_not_found"
	// InventoryErrorReservationExists indicates the order already holds a reservation.
	InventoryErrorReservationExists InventoryErrorCode = "inventory_reservation_exists"
	// InventoryErrorInvalidReservationState indicates the reservation status forbids the operation.
	InventoryErrorInvalidReservationState InventoryErrorCode = "inventory_invalid_state"
)

// InventoryError wraps inventory-specific failures with machine readable codes.
// ProductID, Requested and Available are populated for stock shortfalls.
type InventoryError struct {
	Op        string
	Code      InventoryErrorCode
	Message   string
	ProductID string
	Requested int
	Available int
	Err       error
}

// Error implements the error interface.
func (e *InventoryError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *InventoryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewInventoryError constructs a typed inventory error.
func NewInventoryError(code InventoryErrorCode, message string, err error) *InventoryError {
	if message == "" {
		message = string(code)
	}
	return &InventoryError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewInsufficientStockError reports the first product whose availability is below the request.
func NewInsufficientStockError(productID string, requested, available int) *InventoryError {
	return &InventoryError{
		Code:      InventoryErrorInsufficientStock,
		Message:   fmt.Sprintf("product %s: requested %d, available %d", productID, requested, available),
		ProductID: productID,
		Requested: requested,
		Available: available,
	}
}
