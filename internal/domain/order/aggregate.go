package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/example/watch-shop/internal/domain/aggregate"
	"github.com/example/watch-shop/internal/domain/catalog"
	"github.com/example/watch-shop/internal/infrastructure/store"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const AggregateType = "Order"

// Request is a checkout submission. It is a copy of the cart taken at
// submission time.
type Request struct {
	UserID          string `json:"user_id" validate:"required"`
	Email           string `json:"email,omitempty" validate:"omitempty,email"`
	ShippingAddress string `json:"shipping_address" validate:"required"`
	PhoneNumber     string `json:"phone_number" validate:"required"`
	Items           []Item `json:"items" validate:"required,min=1,dive"`
}

// Confirmation is what the order service returns for an accepted request
type Confirmation struct {
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	Status      Status          `json:"status"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type Order struct {
	ID              string          `json:"id"`
	OrderNumber     string          `json:"order_number"`
	UserID          string          `json:"user_id"`
	Email           string          `json:"email,omitempty"`
	Items           []Item          `json:"items"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Status          Status          `json:"status"`
	ShippingAddress string          `json:"shipping_address"`
	PhoneNumber     string          `json:"phone_number"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Version         int             `json:"version"` // Current event version
}

// Aggregate interface implementation
func (o *Order) GetID() string    { return o.ID }
func (o *Order) GetVersion() int  { return o.Version }
func (o *Order) SetVersion(v int) { o.Version = v }

// Confirmation returns the confirmation for a placed order
func (o *Order) Confirmation() *Confirmation {
	return &Confirmation{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		Status:      o.Status,
		TotalAmount: o.TotalAmount,
	}
}

// ApplyEvent applies a single event to the order state (implements aggregate.Aggregate)
func (o *Order) ApplyEvent(event store.Event) error {
	switch event.EventType {
	case EventOrderPlaced:
		var data OrderPlaced
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.ID = data.OrderID
		o.OrderNumber = data.OrderNumber
		o.UserID = data.UserID
		o.Email = data.Email
		o.Items = data.Items
		o.TotalAmount = data.TotalAmount
		o.ShippingAddress = data.ShippingAddress
		o.PhoneNumber = data.PhoneNumber
		o.Status = StatusPending
		o.CreatedAt = data.PlacedAt
		o.UpdatedAt = data.PlacedAt
	case EventOrderStatusChanged:
		var data OrderStatusChanged
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.Status = data.To
		o.UpdatedAt = data.ChangedAt
	}
	o.Version = event.Version
	return nil
}

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	UserID string
	Status Status
}

type Service struct {
	eventStore store.EventStoreInterface
	snapshots  store.SnapshotStore
	catalog    catalog.Catalog
	validate   *validator.Validate
	now        func() time.Time
}

// NewService wires the order service. snapshots may be nil.
func NewService(es store.EventStoreInterface, snapshots store.SnapshotStore, cat catalog.Catalog) *Service {
	return &Service{
		eventStore: es,
		snapshots:  snapshots,
		catalog:    cat,
		validate:   validator.New(),
		now:        time.Now,
	}
}

// loadOrder loads an order by replaying events, using snapshot if available
func (s *Service) loadOrder(ctx context.Context, orderID string) (*Order, error) {
	order, found, err := aggregate.LoadAggregate(ctx, s.eventStore, s.snapshots, orderID, func() *Order {
		return &Order{}
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// Place validates req, prices it from the catalog, deducts stock and records
// the order in PENDING.
func (s *Service) Place(ctx context.Context, req Request) (*Order, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyOrder
	}
	req.ShippingAddress = strings.TrimSpace(req.ShippingAddress)
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, validationMessage(err))
	}

	// Check every line before touching stock
	items := make([]Item, 0, len(req.Items))
	for _, item := range req.Items {
		product, err := s.catalog.GetByID(ctx, item.ProductID)
		if err != nil {
			if errors.Is(err, catalog.ErrProductNotFound) {
				return nil, fmt.Errorf("%w: %s", catalog.ErrProductNotFound, item.ProductID)
			}
			return nil, err
		}
		if product.Stock != nil && *product.Stock < item.Quantity {
			return nil, &InsufficientStockError{ProductID: product.ID, ProductName: product.Name}
		}
		items = append(items, Item{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    item.Quantity,
			Price:       product.Price,
		})
	}

	if err := s.deductStock(ctx, items); err != nil {
		return nil, err
	}

	now := s.now()
	orderID := uuid.New().String()
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}

	event := OrderPlaced{
		OrderID:         orderID,
		OrderNumber:     fmt.Sprintf("ORD%d", now.UnixMilli()),
		UserID:          req.UserID,
		Email:           req.Email,
		Items:           items,
		TotalAmount:     total,
		ShippingAddress: req.ShippingAddress,
		PhoneNumber:     req.PhoneNumber,
		PlacedAt:        now,
	}

	// Event stores fail an append only when nothing was stored; publishing
	// problems after the write are theirs to log.
	storedEvent, err := s.eventStore.Append(ctx, orderID, AggregateType, EventOrderPlaced, event)
	if err != nil {
		s.restoreStock(ctx, items)
		return nil, err
	}

	version := 0
	if storedEvent != nil {
		version = storedEvent.Version
	}

	order := &Order{
		ID:              orderID,
		OrderNumber:     event.OrderNumber,
		UserID:          req.UserID,
		Email:           req.Email,
		Items:           items,
		TotalAmount:     total,
		Status:          StatusPending,
		ShippingAddress: req.ShippingAddress,
		PhoneNumber:     req.PhoneNumber,
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         version,
	}

	log.Printf("[Order] Placed order %s (%s) for user %s, total %s", order.ID, order.OrderNumber, order.UserID, total.StringFixed(2))
	return order, nil
}

// deductStock takes each line out of stock, putting back what was already
// taken when a later line fails.
func (s *Service) deductStock(ctx context.Context, items []Item) error {
	for i, item := range items {
		if err := s.catalog.AdjustStock(ctx, item.ProductID, -item.Quantity); err != nil {
			s.restoreStock(ctx, items[:i])
			if errors.Is(err, catalog.ErrInsufficientStock) {
				return &InsufficientStockError{ProductID: item.ProductID, ProductName: item.ProductName}
			}
			return err
		}
	}
	return nil
}

func (s *Service) restoreStock(ctx context.Context, items []Item) {
	for _, item := range items {
		if err := s.catalog.AdjustStock(ctx, item.ProductID, item.Quantity); err != nil {
			log.Printf("[Order] Failed to restore %d units of %s: %v", item.Quantity, item.ProductID, err)
		}
	}
}

// UpdateStatus sets the order status. Any of the four statuses may follow any
// other; graph checks belong to the caller.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, status Status) (*Order, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, status)
	}

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == status {
		return order, nil
	}

	now := s.now()
	event := OrderStatusChanged{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Email:       order.Email,
		From:        order.Status,
		To:          status,
		ChangedAt:   now,
	}

	storedEvent, err := s.eventStore.Append(ctx, orderID, AggregateType, EventOrderStatusChanged, event)
	if err != nil {
		return nil, err
	}

	// Update order for snapshot check
	order.Status = status
	order.UpdatedAt = now
	if storedEvent != nil {
		order.Version = storedEvent.Version
	}

	// Check if we need to create a snapshot
	if err := aggregate.MaybeCreateSnapshot(ctx, s.snapshots, order, AggregateType); err != nil {
		log.Printf("[Order] Failed to create snapshot for order %s: %v", order.ID, err)
	}

	log.Printf("[Order] Order %s moved %s -> %s", order.ID, event.From, event.To)
	return order, nil
}

func (s *Service) Get(ctx context.Context, orderID string) (*Order, error) {
	return s.loadOrder(ctx, orderID)
}

// List replays every order and returns those matching filter, newest first
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Order, error) {
	events, err := s.eventStore.GetAllEvents(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[string][]store.Event)
	for _, event := range events {
		if event.AggregateType != AggregateType {
			continue
		}
		byID[event.AggregateID] = append(byID[event.AggregateID], event)
	}

	orders := make([]*Order, 0, len(byID))
	for _, stream := range byID {
		sort.SliceStable(stream, func(i, j int) bool { return stream[i].Version < stream[j].Version })
		order := &Order{}
		for _, event := range stream {
			if err := order.ApplyEvent(event); err != nil {
				return nil, fmt.Errorf("failed to apply event: %w", err)
			}
		}
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		orders = append(orders, order)
	}

	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}

// validationMessage turns validator errors into one readable line
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "email":
			msgs = append(msgs, fe.Field()+" must be a valid email")
		case "gte", "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fe.Field()+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}
