// Package stock decides whether a cart quantity is admissible against the
// stock a product reported when it was last seen.
package stock

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfStock is a hard rejection: there is nothing to clamp to.
	ErrOutOfStock = errors.New("product is out of stock")
	// ErrStockConflict means the requested quantity exceeds the known stock.
	ErrStockConflict = errors.New("requested quantity exceeds available stock")
)

// ConflictError carries the numbers behind ErrStockConflict so callers can
// tell the user how many units are left.
type ConflictError struct {
	ProductID string
	Requested int
	Available int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, only %d available", e.ProductID, e.Requested, e.Available)
}

func (e *ConflictError) Unwrap() error {
	return ErrStockConflict
}

// Decision is the outcome of CanAdd. Capped is the largest admissible
// quantity; it equals the requested total when the add is allowed.
type Decision struct {
	Allowed bool
	Capped  int
	// Unlimited is set when the product has no stock limit.
	Unlimited bool
}

// CanAdd checks existing+delta against stock. A nil stock is unconstrained,
// a zero stock never admits anything.
func CanAdd(existing, delta int, stock *int) Decision {
	requested := existing + delta
	if stock == nil {
		return Decision{Allowed: true, Capped: requested, Unlimited: true}
	}
	if *stock <= 0 {
		return Decision{Allowed: false, Capped: 0}
	}
	if requested <= *stock {
		return Decision{Allowed: true, Capped: requested}
	}
	return Decision{Allowed: false, Capped: *stock}
}

// Clamp is the outcome of CanSetQuantity.
type Clamp struct {
	Quantity int
	// Remove is set for requests <= 0: the line goes away instead.
	Remove bool
	// Clamped is set when Quantity differs from the request.
	Clamped bool
	// OutOfStock is set when the known stock is zero and no quantity fits.
	OutOfStock bool
}

// CanSetQuantity clamps a direct quantity edit to [1, stock], or [1, +inf)
// when the stock is unknown.
func CanSetQuantity(requested int, stock *int) Clamp {
	if requested <= 0 {
		return Clamp{Remove: true}
	}
	if stock == nil {
		return Clamp{Quantity: requested}
	}
	if *stock <= 0 {
		return Clamp{OutOfStock: true}
	}
	if requested > *stock {
		return Clamp{Quantity: *stock, Clamped: true}
	}
	return Clamp{Quantity: requested}
}
