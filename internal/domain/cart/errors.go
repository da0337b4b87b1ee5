package cart

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrFrozen is returned for any mutation while a payment is in flight.
	ErrFrozen = errors.New("cart is frozen")
	// ErrLineNotFound is returned when a line id does not exist in the cart.
	ErrLineNotFound = errors.New("cart line not found")
	// ErrInvalidProduct is returned when an item has no product reference.
	ErrInvalidProduct = errors.New("product id required")
)

// InvalidQuantityError indicates a non-positive quantity on add, a negative
// quantity on update/remove, or a line that would exceed Max units.
type InvalidQuantityError struct {
	Quantity int
	Max      int
}

func (e *InvalidQuantityError) Error() string {
	if e.Quantity > e.Max {
		return fmt.Sprintf("quantity %d exceeds line limit %d", e.Quantity, e.Max)
	}
	return fmt.Sprintf("invalid quantity %d", e.Quantity)
}

// InvalidPriceError indicates a negative unit price or one finer than the
// currency's minor unit.
type InvalidPriceError struct {
	Price decimal.Decimal
}

func (e *InvalidPriceError) Error() string {
	return fmt.Sprintf("invalid unit price %s", e.Price)
}

// InvalidSourceError indicates an unknown item source.
type InvalidSourceError struct {
	Source Source
}

func (e *InvalidSourceError) Error() string {
	return fmt.Sprintf("invalid item source %q", e.Source)
}

// InvalidDiscountError indicates a discount outside [0, subtotal].
type InvalidDiscountError struct {
	Amount   decimal.Decimal
	Subtotal decimal.Decimal
}

func (e *InvalidDiscountError) Error() string {
	return fmt.Sprintf("discount %s must be between 0 and subtotal %s", e.Amount, e.Subtotal)
}

// InvariantError indicates that the cart totals cannot be reconciled with
// its lines.
type InvariantError struct {
	Detail string
}

func (e *InvariantError) Error() string {
	return "cart invariant violated: " + e.Detail
}
