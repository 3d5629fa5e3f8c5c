package order

import (
	"errors"
	"fmt"

	"github.com/example/watch-shop/internal/domain/catalog"
)

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrEmptyOrder     = errors.New("order must have at least one item")
	ErrInvalidRequest = errors.New("invalid order request")
)

// ServiceError is a failure reported by the order or catalog service. Message
// is shown to the user as-is.
type ServiceError struct {
	Message    string
	StatusCode int
	Err        error
}

func (e *ServiceError) Error() string {
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// AsServiceError returns err as a *ServiceError, wrapping it when needed
func AsServiceError(err error) *ServiceError {
	if err == nil {
		return nil
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return &ServiceError{Message: err.Error(), Err: err}
}

// InsufficientStockError is returned by Place when a product cannot cover
// the ordered quantity.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("Insufficient stock for product: %s", e.ProductName)
}

func (e *InsufficientStockError) Unwrap() error {
	return catalog.ErrInsufficientStock
}
