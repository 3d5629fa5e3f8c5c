// Package checkout turns a cart into a single order submission.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/example/watch-shop/internal/domain/cart"
	"github.com/example/watch-shop/internal/domain/order"
	"github.com/example/watch-shop/internal/domain/stock"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrEmptyCart            = fmt.Errorf("%w: cart is empty", ErrValidation)
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrConcurrentSubmission = cart.ErrCheckoutInProgress
)

// IneligibleError lists the cart lines that block checkout
type IneligibleError struct {
	Problems []cart.Problem
}

func (e *IneligibleError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.String())
	}
	return "cart cannot be checked out: " + strings.Join(parts, "; ")
}

func (e *IneligibleError) Unwrap() error {
	return stock.ErrStockConflict
}

// Is also matches stock.ErrOutOfStock when a line has nothing in stock
func (e *IneligibleError) Is(target error) bool {
	if target != stock.ErrOutOfStock {
		return false
	}
	for _, p := range e.Problems {
		if p.Reason == cart.ReasonOutOfStock {
			return true
		}
	}
	return false
}

// OrderService accepts checkout submissions
type OrderService interface {
	Checkout(ctx context.Context, req order.Request) (*order.Confirmation, error)
}

// Identity is the authenticated caller
type Identity struct {
	UserID string
	Email  string
}

func (i Identity) Authenticated() bool {
	return strings.TrimSpace(i.UserID) != ""
}

// Shipping holds the delivery fields the customer fills in
type Shipping struct {
	Address string `json:"shipping_address" validate:"required"`
	Phone   string `json:"phone_number" validate:"required"`
}

// Quote is the price breakdown shown before submitting
type Quote struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Shipping decimal.Decimal `json:"shipping"`
	Total    decimal.Decimal `json:"total"`
}

// Process runs checkout. At most one submission is in flight per cart, and
// the cart cannot change while it is.
type Process struct {
	orders                OrderService
	validate              *validator.Validate
	shippingFee           decimal.Decimal
	freeShippingThreshold decimal.Decimal
}

type Option func(*Process)

// WithShippingRates sets the flat fee charged when the subtotal does not
// exceed threshold.
func WithShippingRates(fee, threshold decimal.Decimal) Option {
	return func(p *Process) {
		p.shippingFee = fee
		p.freeShippingThreshold = threshold
	}
}

func NewProcess(orders OrderService, opts ...Option) *Process {
	p := &Process{
		orders:                orders,
		validate:              validator.New(),
		shippingFee:           decimal.NewFromInt(10),
		freeShippingThreshold: decimal.NewFromInt(100),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IsSubmitting reports whether a submission for c is waiting on the order
// service
func (p *Process) IsSubmitting(c *cart.Store) bool {
	return c.Submitting()
}

// Submit validates the cart and shipping details, sends the order and clears
// the cart once the order service confirms it. On any failure the cart is
// left as it was.
func (p *Process) Submit(ctx context.Context, c *cart.Store, id Identity, ship Shipping) (*order.Confirmation, error) {
	sub, err := c.BeginSubmission()
	if err != nil {
		return nil, ErrConcurrentSubmission
	}
	defer sub.End()

	if !id.Authenticated() {
		return nil, ErrNotAuthenticated
	}
	if c.IsEmpty() {
		return nil, ErrEmptyCart
	}

	ship.Address = strings.TrimSpace(ship.Address)
	ship.Phone = strings.TrimSpace(ship.Phone)
	if err := p.validate.Struct(ship); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, shippingMessage(err))
	}

	if problems := c.Problems(); len(problems) > 0 {
		return nil, &IneligibleError{Problems: problems}
	}

	req := order.Request{
		UserID:          id.UserID,
		Email:           id.Email,
		ShippingAddress: ship.Address,
		PhoneNumber:     ship.Phone,
		Items:           c.OrderItems(),
	}

	conf, err := p.orders.Checkout(ctx, req)
	if err != nil {
		log.Printf("[Checkout] Order service rejected checkout for user %s: %v", id.UserID, err)
		return nil, order.AsServiceError(err)
	}
	if conf == nil || (conf.OrderID == "" && conf.OrderNumber == "") {
		return nil, &order.ServiceError{Message: "order service returned no order identifier"}
	}

	if err := sub.Clear(ctx); err != nil {
		return conf, fmt.Errorf("order %s placed but the cart could not be cleared: %w", conf.OrderNumber, err)
	}

	log.Printf("[Checkout] Order %s placed for user %s", conf.OrderNumber, id.UserID)
	return conf, nil
}

// Quote prices the cart including shipping. An empty cart costs nothing.
func (p *Process) Quote(c *cart.Store) Quote {
	subtotal := c.Total()
	shipping := decimal.Zero
	if !c.IsEmpty() && !subtotal.GreaterThan(p.freeShippingThreshold) {
		shipping = p.shippingFee
	}
	return Quote{
		Subtotal: subtotal,
		Shipping: shipping,
		Total:    subtotal.Add(shipping),
	}
}

func shippingMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Field() {
		case "Address":
			fields = append(fields, "shipping address is required")
		case "Phone":
			fields = append(fields, "phone number is required")
		default:
			fields = append(fields, strings.ToLower(fe.Field())+" is invalid")
		}
	}
	return strings.Join(fields, ", ")
}
