package order

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/example/watch-shop/internal/domain/catalog"
	"github.com/example/watch-shop/internal/infrastructure/store"
	"github.com/example/watch-shop/internal/infrastructure/store/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrderService(products ...catalog.Product) (*Service, *mocks.MockEventStore, *catalog.MemoryCatalog) {
	eventStore := mocks.NewMockEventStore()
	cat := catalog.NewMemoryCatalog(products...)
	service := NewService(eventStore, mocks.NewMockSnapshotStore(), cat)
	return service, eventStore, cat
}

func seiko() catalog.Product {
	return catalog.Product{ID: "seiko-1", Name: "Seiko Presage", Price: decimal.NewFromInt(500000), Stock: catalog.StockOf(5)}
}

func casio() catalog.Product {
	return catalog.Product{ID: "casio-1", Name: "Casio G-Shock", Price: decimal.NewFromInt(100), Stock: catalog.StockOf(1)}
}

func validRequest(items ...Item) Request {
	return Request{
		UserID:          "user-123",
		Email:           "buyer@example.com",
		ShippingAddress: "12 Hang Bai, Ha Noi",
		PhoneNumber:     "0901234567",
		Items:           items,
	}
}

func stockOf(t *testing.T, cat *catalog.MemoryCatalog, id string) int {
	t.Helper()
	p, err := cat.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, p.Stock)
	return *p.Stock
}

// ============================================
// Place Order Tests
// ============================================

func TestService_Place_Success(t *testing.T) {
	service, eventStore, cat := newTestOrderService(seiko())
	ctx := context.Background()

	order, err := service.Place(ctx, validRequest(Item{ProductID: "seiko-1", Quantity: 2, Price: decimal.NewFromInt(500000)}))

	require.NoError(t, err)
	assert.NotEmpty(t, order.ID)
	assert.True(t, strings.HasPrefix(order.OrderNumber, "ORD"))
	assert.Equal(t, StatusPending, order.Status)
	assert.True(t, decimal.NewFromInt(1000000).Equal(order.TotalAmount))
	assert.Equal(t, "Seiko Presage", order.Items[0].ProductName)
	assert.Equal(t, 3, stockOf(t, cat, "seiko-1"))

	require.Len(t, eventStore.AppendCalls, 1)
	assert.Equal(t, EventOrderPlaced, eventStore.AppendCalls[0].EventType)
	assert.Equal(t, AggregateType, eventStore.AppendCalls[0].AggregateType)
}

func TestService_Place_PricesFromCatalog(t *testing.T) {
	service, _, _ := newTestOrderService(seiko())

	order, err := service.Place(context.Background(), validRequest(Item{ProductID: "seiko-1", Quantity: 1, Price: decimal.NewFromInt(1)}))

	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(500000).Equal(order.Items[0].Price))
	assert.True(t, decimal.NewFromInt(500000).Equal(order.TotalAmount))
}

func TestService_Place_OrderNumberFromClock(t *testing.T) {
	service, _, _ := newTestOrderService(seiko())
	service.now = func() time.Time { return time.UnixMilli(1700000000123) }

	order, err := service.Place(context.Background(), validRequest(Item{ProductID: "seiko-1", Quantity: 1}))

	require.NoError(t, err)
	assert.Equal(t, "ORD1700000000123", order.OrderNumber)
}

func TestService_Place_EmptyItems(t *testing.T) {
	service, eventStore, _ := newTestOrderService()

	order, err := service.Place(context.Background(), validRequest())

	assert.ErrorIs(t, err, ErrEmptyOrder)
	assert.Nil(t, order)
	assert.Empty(t, eventStore.AppendCalls)
}

func TestService_Place_MissingShippingFields(t *testing.T) {
	service, eventStore, _ := newTestOrderService(seiko())

	req := validRequest(Item{ProductID: "seiko-1", Quantity: 1})
	req.ShippingAddress = "   "
	req.PhoneNumber = ""

	_, err := service.Place(context.Background(), req)

	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Contains(t, err.Error(), "ShippingAddress is required")
	assert.Contains(t, err.Error(), "PhoneNumber is required")
	assert.Empty(t, eventStore.AppendCalls)
}

func TestService_Place_InvalidQuantity(t *testing.T) {
	service, _, _ := newTestOrderService(seiko())

	_, err := service.Place(context.Background(), validRequest(Item{ProductID: "seiko-1", Quantity: 0}))

	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestService_Place_ProductNotFound(t *testing.T) {
	service, eventStore, _ := newTestOrderService()

	_, err := service.Place(context.Background(), validRequest(Item{ProductID: "ghost", Quantity: 1}))

	assert.ErrorIs(t, err, catalog.ErrProductNotFound)
	assert.Empty(t, eventStore.AppendCalls)
}

func TestService_Place_InsufficientStock(t *testing.T) {
	service, eventStore, cat := newTestOrderService(seiko(), casio())

	_, err := service.Place(context.Background(), validRequest(
		Item{ProductID: "seiko-1", Quantity: 1},
		Item{ProductID: "casio-1", Quantity: 3},
	))

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "Insufficient stock for product: Casio G-Shock", err.Error())
	assert.ErrorIs(t, err, catalog.ErrInsufficientStock)
	assert.Empty(t, eventStore.AppendCalls)
	assert.Equal(t, 5, stockOf(t, cat, "seiko-1"))
	assert.Equal(t, 1, stockOf(t, cat, "casio-1"))
}

func TestService_Place_AppendFailureRestoresStock(t *testing.T) {
	service, eventStore, cat := newTestOrderService(seiko())
	eventStore.AppendErr = errors.New("database unavailable")

	_, err := service.Place(context.Background(), validRequest(Item{ProductID: "seiko-1", Quantity: 2}))

	assert.EqualError(t, err, "database unavailable")
	assert.Equal(t, 5, stockOf(t, cat, "seiko-1"))
}

type failingPublisher struct{ calls int }

func (p *failingPublisher) Publish(ctx context.Context, key string, event any) error {
	p.calls++
	return errors.New("kafka: broker unavailable")
}

func TestService_Place_BrokerFailureKeepsOrderAndStock(t *testing.T) {
	ctx := context.Background()
	pub := &failingPublisher{}
	cat := catalog.NewMemoryCatalog(casio())
	service := NewService(store.NewEventStore(pub), nil, cat)

	order, err := service.Place(ctx, validRequest(Item{ProductID: "casio-1", Quantity: 1}))
	require.NoError(t, err)
	assert.Equal(t, 1, pub.calls)
	assert.Equal(t, 0, stockOf(t, cat, "casio-1"))

	_, err = service.Place(ctx, validRequest(Item{ProductID: "casio-1", Quantity: 1}))
	var insufficient *InsufficientStockError
	assert.ErrorAs(t, err, &insufficient)

	orders, err := service.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, order.ID, orders[0].ID)
}

type racingCatalog struct {
	*catalog.MemoryCatalog
	failOn string
}

func (c *racingCatalog) AdjustStock(ctx context.Context, id string, delta int) error {
	if id == c.failOn && delta < 0 {
		return catalog.ErrInsufficientStock
	}
	return c.MemoryCatalog.AdjustStock(ctx, id, delta)
}

func TestService_Place_CompensatesWhenLaterDeductionFails(t *testing.T) {
	mem := catalog.NewMemoryCatalog(seiko(), casio())
	cat := &racingCatalog{MemoryCatalog: mem, failOn: "casio-1"}
	service := NewService(mocks.NewMockEventStore(), nil, cat)

	_, err := service.Place(context.Background(), validRequest(
		Item{ProductID: "seiko-1", Quantity: 2},
		Item{ProductID: "casio-1", Quantity: 1},
	))

	assert.EqualError(t, err, "Insufficient stock for product: Casio G-Shock")
	assert.Equal(t, 5, stockOf(t, mem, "seiko-1"))
}

func TestService_Place_UnlimitedStock(t *testing.T) {
	p := seiko()
	p.Stock = nil
	service, _, _ := newTestOrderService(p)

	order, err := service.Place(context.Background(), validRequest(Item{ProductID: "seiko-1", Quantity: 50}))

	require.NoError(t, err)
	assert.Equal(t, 50, order.Items[0].Quantity)
}

// ============================================
// UpdateStatus Tests
// ============================================

func placeOrder(t *testing.T, service *Service) *Order {
	t.Helper()
	order, err := service.Place(context.Background(), validRequest(Item{ProductID: "seiko-1", Quantity: 1}))
	require.NoError(t, err)
	return order
}

func TestService_UpdateStatus_Forward(t *testing.T) {
	service, eventStore, _ := newTestOrderService(seiko())
	ctx := context.Background()
	placed := placeOrder(t, service)

	updated, err := service.UpdateStatus(ctx, placed.ID, StatusProcessing)

	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, updated.Status)
	assert.Equal(t, 2, updated.Version)
	require.Len(t, eventStore.AppendCalls, 2)
	data := eventStore.AppendCalls[1].Data.(OrderStatusChanged)
	assert.Equal(t, StatusPending, data.From)
	assert.Equal(t, StatusProcessing, data.To)
}

func TestService_UpdateStatus_AllowsRegression(t *testing.T) {
	service, _, _ := newTestOrderService(seiko())
	ctx := context.Background()
	placed := placeOrder(t, service)

	_, err := service.UpdateStatus(ctx, placed.ID, StatusDelivered)
	require.NoError(t, err)
	updated, err := service.UpdateStatus(ctx, placed.ID, StatusPending)

	require.NoError(t, err)
	assert.Equal(t, StatusPending, updated.Status)

	reloaded, err := service.Get(ctx, placed.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, reloaded.Status)
}

func TestService_UpdateStatus_SameStatusIsNoop(t *testing.T) {
	service, eventStore, _ := newTestOrderService(seiko())
	placed := placeOrder(t, service)

	updated, err := service.UpdateStatus(context.Background(), placed.ID, StatusPending)

	require.NoError(t, err)
	assert.Equal(t, StatusPending, updated.Status)
	assert.Len(t, eventStore.AppendCalls, 1)
}

func TestService_UpdateStatus_UnknownStatus(t *testing.T) {
	service, eventStore, _ := newTestOrderService(seiko())
	placed := placeOrder(t, service)

	_, err := service.UpdateStatus(context.Background(), placed.ID, Status("SHIPPED"))

	assert.ErrorIs(t, err, ErrUnknownStatus)
	assert.Len(t, eventStore.AppendCalls, 1)
}

func TestService_UpdateStatus_NotFound(t *testing.T) {
	service, _, _ := newTestOrderService()

	_, err := service.UpdateStatus(context.Background(), "missing", StatusProcessing)

	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestService_UpdateStatus_AppendError(t *testing.T) {
	service, eventStore, _ := newTestOrderService(seiko())
	placed := placeOrder(t, service)
	eventStore.AppendErr = errors.New("write failed")

	_, err := service.UpdateStatus(context.Background(), placed.ID, StatusCancelled)

	assert.EqualError(t, err, "write failed")
}

func TestService_UpdateStatus_SnapshotsAtThreshold(t *testing.T) {
	eventStore := mocks.NewMockEventStore()
	snapshots := mocks.NewMockSnapshotStore()
	service := NewService(eventStore, snapshots, catalog.NewMemoryCatalog(seiko()))
	ctx := context.Background()
	placed := placeOrder(t, service)

	statuses := []Status{StatusProcessing, StatusPending}
	for i := 0; i < 9; i++ {
		_, err := service.UpdateStatus(ctx, placed.ID, statuses[i%2])
		require.NoError(t, err)
	}

	require.Len(t, snapshots.SaveCalls, 1)
	assert.Equal(t, 10, snapshots.SaveCalls[0].Version)

	reloaded, err := service.Get(ctx, placed.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, reloaded.Status)
	assert.Equal(t, 10, reloaded.Version)
}

// ============================================
// Query Tests
// ============================================

func TestService_Get_ReplaysEvents(t *testing.T) {
	service, eventStore, _ := newTestOrderService()
	orderID := "order-123"
	_ = eventStore.AddEvent(orderID, AggregateType, EventOrderPlaced, OrderPlaced{
		OrderID:     orderID,
		OrderNumber: "ORD1",
		UserID:      "user-123",
		TotalAmount: decimal.NewFromInt(200),
	})
	_ = eventStore.AddEvent(orderID, AggregateType, EventOrderStatusChanged, OrderStatusChanged{
		OrderID: orderID,
		From:    StatusPending,
		To:      StatusCancelled,
	})

	order, err := service.Get(context.Background(), orderID)

	require.NoError(t, err)
	assert.Equal(t, "ORD1", order.OrderNumber)
	assert.Equal(t, StatusCancelled, order.Status)
	assert.Equal(t, 2, order.Version)
}

func TestService_Get_NotFound(t *testing.T) {
	service, _, _ := newTestOrderService()

	_, err := service.Get(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestService_List_FiltersAndSorts(t *testing.T) {
	service, eventStore, _ := newTestOrderService()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	add := func(id, user string, placed time.Time) {
		_ = eventStore.AddEvent(id, AggregateType, EventOrderPlaced, OrderPlaced{OrderID: id, UserID: user, PlacedAt: placed})
	}
	add("o1", "alice", base)
	add("o2", "bob", base.Add(time.Hour))
	add("o3", "alice", base.Add(2*time.Hour))
	_ = eventStore.AddEvent("o3", AggregateType, EventOrderStatusChanged, OrderStatusChanged{OrderID: "o3", To: StatusDelivered})
	_ = eventStore.AddEvent("cart-alice", "Cart", "Ignored", struct{}{})

	all, err := service.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "o3", all[0].ID)
	assert.Equal(t, "o1", all[2].ID)

	alice, err := service.List(context.Background(), ListFilter{UserID: "alice"})
	require.NoError(t, err)
	assert.Len(t, alice, 2)

	delivered, err := service.List(context.Background(), ListFilter{Status: StatusDelivered})
	require.NoError(t, err)
	require.Len(t, delivered, 1)
	assert.Equal(t, "o3", delivered[0].ID)
}

func TestOrder_ApplyEvent_IgnoresUnknownType(t *testing.T) {
	o := &Order{Status: StatusProcessing}

	err := o.ApplyEvent(store.Event{EventType: "SomethingElse", Version: 4})

	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, o.Status)
	assert.Equal(t, 4, o.Version)
}
