package services

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the order engine wraps exactly one of these so
// callers can branch with errors.Is without inspecting messages.
var (
	// ErrValidation marks malformed input: empty carts, bad quantities, bad amounts.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a missing client, product, order or promotion.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a request that is well formed but conflicts with current state.
	ErrConflict = errors.New("conflict")
	// ErrPromotionInvalidOrExpired marks a supplied promotion code that cannot be applied.
	ErrPromotionInvalidOrExpired = errors.New("promotion invalid or expired")
	// ErrUnavailable marks a transient backend failure the caller may retry.
	ErrUnavailable = errors.New("backend unavailable")
)

var (
	ErrEmptyCart       = fmt.Errorf("%w: cart is empty", ErrValidation)
	ErrInvalidQuantity = fmt.Errorf("%w: invalid quantity", ErrValidation)

	ErrClientNotFound    = fmt.Errorf("%w: client", ErrNotFound)
	ErrProductNotFound   = fmt.Errorf("%w: product", ErrNotFound)
	ErrOrderNotFound     = fmt.Errorf("%w: order", ErrNotFound)
	ErrPromotionNotFound = fmt.Errorf("%w: promotion", ErrNotFound)

	ErrInsufficientStock = fmt.Errorf("%w: insufficient stock", ErrConflict)
	ErrIllegalTransition = fmt.Errorf("%w: illegal transition", ErrConflict)
)

// InsufficientStockError names the product whose availability could not cover the request.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: product %s requested %d, available %d", ErrInsufficientStock, e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}
