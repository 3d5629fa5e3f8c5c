package cart

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/example/watch-shop/internal/domain/catalog"
	"github.com/example/watch-shop/internal/domain/stock"
	"github.com/example/watch-shop/internal/infrastructure/store"
	"github.com/example/watch-shop/internal/infrastructure/store/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCart(t *testing.T) (*Store, *mocks.MockSnapshotStore) {
	t.Helper()
	snapshots := mocks.NewMockSnapshotStore()
	s, err := Open(context.Background(), snapshots, "user-123")
	require.NoError(t, err)
	return s, snapshots
}

func watch(id string, price int64, stockCount *int) catalog.Product {
	return catalog.Product{ID: id, Name: "Watch " + id, Price: decimal.NewFromInt(price), Stock: stockCount}
}

func addN(t *testing.T, s *Store, p catalog.Product, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, s.Add(context.Background(), p))
	}
}

// ============================================
// GetCartID Tests
// ============================================

func TestGetCartID(t *testing.T) {
	tests := []struct {
		name       string
		userID     string
		expectedID string
	}{
		{"normal user ID", "user-123", "cart-user-123"},
		{"UUID user ID", "550e8400-e29b-41d4-a716-446655440000", "cart-550e8400-e29b-41d4-a716-446655440000"},
		{"user with special chars", "user@example.com", "cart-user@example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedID, GetCartID(tt.userID))
		})
	}
}

// ============================================
// Add Tests
// ============================================

func TestStore_Add_NewLine(t *testing.T) {
	s, snapshots := newTestCart(t)

	err := s.Add(context.Background(), watch("w1", 1000, catalog.StockOf(3)))

	require.NoError(t, err)
	lines := s.Snapshot()
	require.Len(t, lines, 1)
	assert.Equal(t, 1, lines[0].Quantity)
	assert.Len(t, snapshots.SaveCalls, 1)
	assert.Equal(t, "cart-user-123", snapshots.SaveCalls[0].AggregateID)
	assert.Equal(t, AggregateType, snapshots.SaveCalls[0].AggregateType)
}

func TestStore_Add_IncrementsExistingLine(t *testing.T) {
	s, _ := newTestCart(t)
	p := watch("w1", 1000, catalog.StockOf(3))

	addN(t, s, p, 3)

	lines := s.Snapshot()
	require.Len(t, lines, 1)
	assert.Equal(t, 3, lines[0].Quantity)
}

func TestStore_Add_ZeroStockIsRejected(t *testing.T) {
	s, snapshots := newTestCart(t)

	err := s.Add(context.Background(), watch("w1", 1000, catalog.StockOf(0)))

	assert.ErrorIs(t, err, stock.ErrOutOfStock)
	assert.Empty(t, s.Snapshot())
	assert.Empty(t, snapshots.SaveCalls)
}

func TestStore_Add_ZeroStockNeverIncrements(t *testing.T) {
	s, _ := newTestCart(t)
	addN(t, s, watch("w1", 1000, catalog.StockOf(2)), 1)

	err := s.Add(context.Background(), watch("w1", 1000, catalog.StockOf(0)))

	assert.ErrorIs(t, err, stock.ErrOutOfStock)
	assert.Equal(t, 1, s.Snapshot()[0].Quantity)
}

func TestStore_Add_BeyondStockReportsConflict(t *testing.T) {
	s, snapshots := newTestCart(t)
	p := watch("w1", 1000, catalog.StockOf(2))
	addN(t, s, p, 2)

	err := s.Add(context.Background(), p)

	var conflict *stock.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.ErrorIs(t, err, stock.ErrStockConflict)
	assert.Equal(t, 3, conflict.Requested)
	assert.Equal(t, 2, conflict.Available)
	assert.Equal(t, 2, s.Snapshot()[0].Quantity)
	// the rejection still records the stock it was checked against
	assert.Len(t, snapshots.SaveCalls, 3)
}

func TestStore_Add_RejectionRecordsFreshStock(t *testing.T) {
	tests := []struct {
		name     string
		fresh    *int
		wantErr  error
		wantStock int
	}{
		{"stock dropped below the line", catalog.StockOf(1), stock.ErrStockConflict, 1},
		{"sold out", catalog.StockOf(0), stock.ErrOutOfStock, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, snapshots := newTestCart(t)
			addN(t, s, watch("w1", 1000, catalog.StockOf(5)), 2)
			require.True(t, s.IsCheckoutEligible())

			err := s.Add(context.Background(), watch("w1", 1000, tt.fresh))

			assert.ErrorIs(t, err, tt.wantErr)
			line := s.Snapshot()[0]
			assert.Equal(t, 2, line.Quantity)
			require.NotNil(t, line.Product.Stock)
			assert.Equal(t, tt.wantStock, *line.Product.Stock)
			assert.False(t, s.IsCheckoutEligible())
			require.Len(t, s.Problems(), 1)

			var st state
			require.NoError(t, json.Unmarshal(snapshots.SaveCalls[len(snapshots.SaveCalls)-1].State, &st))
			require.NotNil(t, st.Lines[0].Product.Stock)
			assert.Equal(t, tt.wantStock, *st.Lines[0].Product.Stock)
		})
	}
}

func TestStore_Add_RejectionPersistFailure(t *testing.T) {
	s, snapshots := newTestCart(t)
	addN(t, s, watch("w1", 1000, catalog.StockOf(5)), 2)
	snapshots.SaveErr = errors.New("disk full")

	err := s.Add(context.Background(), watch("w1", 1000, catalog.StockOf(1)))

	assert.EqualError(t, err, "failed to save cart: disk full")
	assert.Equal(t, 5, *s.Snapshot()[0].Product.Stock)
}

func TestStore_Add_UnlimitedStock(t *testing.T) {
	s, _ := newTestCart(t)

	addN(t, s, watch("w1", 10, nil), 25)

	assert.Equal(t, 25, s.Snapshot()[0].Quantity)
}

func TestStore_Add_EmptyProductID(t *testing.T) {
	s, snapshots := newTestCart(t)

	err := s.Add(context.Background(), catalog.Product{})

	assert.ErrorIs(t, err, ErrInvalidProduct)
	assert.Empty(t, snapshots.SaveCalls)
}

func TestStore_Add_KeepsInsertionOrder(t *testing.T) {
	s, _ := newTestCart(t)
	addN(t, s, watch("b", 1, nil), 1)
	addN(t, s, watch("a", 1, nil), 1)
	addN(t, s, watch("b", 1, nil), 1)

	lines := s.Snapshot()
	require.Len(t, lines, 2)
	assert.Equal(t, "b", lines[0].Product.ID)
	assert.Equal(t, "a", lines[1].Product.ID)
}

// ============================================
// SetQuantity Tests
// ============================================

func TestStore_SetQuantity_WithinStock(t *testing.T) {
	s, _ := newTestCart(t)
	addN(t, s, watch("w1", 1000, catalog.StockOf(5)), 1)

	adj, err := s.SetQuantity(context.Background(), "w1", 4)

	require.NoError(t, err)
	assert.Equal(t, 4, adj.Quantity)
	assert.False(t, adj.Clamped)
	assert.Empty(t, adj.Warning)
	assert.Equal(t, 4, s.Snapshot()[0].Quantity)
}

func TestStore_SetQuantity_ClampsToStock(t *testing.T) {
	s, _ := newTestCart(t)
	addN(t, s, watch("w1", 1000, catalog.StockOf(5)), 1)

	adj, err := s.SetQuantity(context.Background(), "w1", 9)

	require.NoError(t, err)
	assert.True(t, adj.Clamped)
	assert.Equal(t, 9, adj.Requested)
	assert.Equal(t, 5, adj.Quantity)
	assert.NotEmpty(t, adj.Warning)
	assert.Equal(t, 5, s.Snapshot()[0].Quantity)
}

func TestStore_SetQuantity_NonPositiveRemoves(t *testing.T) {
	for _, q := range []int{0, -1} {
		s, _ := newTestCart(t)
		addN(t, s, watch("w1", 1000, catalog.StockOf(5)), 2)

		adj, err := s.SetQuantity(context.Background(), "w1", q)

		require.NoError(t, err)
		assert.True(t, adj.Removed)
		assert.Empty(t, s.Snapshot())
	}
}

func TestStore_SetQuantity_ZeroOnAbsentLine(t *testing.T) {
	s, snapshots := newTestCart(t)

	adj, err := s.SetQuantity(context.Background(), "ghost", 0)

	require.NoError(t, err)
	assert.True(t, adj.Removed)
	assert.Empty(t, snapshots.SaveCalls)
}

func TestStore_SetQuantity_AbsentLine(t *testing.T) {
	s, _ := newTestCart(t)

	_, err := s.SetQuantity(context.Background(), "ghost", 2)

	assert.ErrorIs(t, err, ErrLineNotFound)
}

func TestStore_SetQuantity_OutOfStockLeavesLine(t *testing.T) {
	s, _ := newTestCart(t)
	addN(t, s, watch("w1", 1000, catalog.StockOf(2)), 2)
	require.NoError(t, s.RefreshStock(context.Background(), catalog.NewMemoryCatalog(watch("w1", 1000, catalog.StockOf(0)))))

	adj, err := s.SetQuantity(context.Background(), "w1", 1)

	assert.ErrorIs(t, err, stock.ErrOutOfStock)
	assert.Equal(t, 2, adj.Quantity)
	assert.Equal(t, 2, s.Snapshot()[0].Quantity)
}

func TestStore_QuantityAlwaysWithinStock(t *testing.T) {
	s, _ := newTestCart(t)
	const limit = 3
	p := watch("w1", 100, catalog.StockOf(limit))
	ctx := context.Background()

	ops := []func(){
		func() { _ = s.Add(ctx, p) },
		func() { _, _ = s.SetQuantity(ctx, "w1", 10) },
		func() { _ = s.Add(ctx, p) },
		func() { _, _ = s.SetQuantity(ctx, "w1", 2) },
		func() { _ = s.Add(ctx, p) },
		func() { _ = s.Add(ctx, p) },
		func() { _, _ = s.SetQuantity(ctx, "w1", 1) },
	}
	for _, op := range ops {
		op()
		for _, l := range s.Snapshot() {
			assert.GreaterOrEqual(t, l.Quantity, 1)
			assert.LessOrEqual(t, l.Quantity, limit)
		}
	}
}

// ============================================
// Remove / Clear Tests
// ============================================

func TestStore_Remove(t *testing.T) {
	s, _ := newTestCart(t)
	addN(t, s, watch("w1", 1, nil), 1)
	addN(t, s, watch("w2", 1, nil), 1)

	require.NoError(t, s.Remove(context.Background(), "w1"))

	lines := s.Snapshot()
	require.Len(t, lines, 1)
	assert.Equal(t, "w2", lines[0].Product.ID)
}

func TestStore_Remove_AbsentIsNoop(t *testing.T) {
	s, _ := newTestCart(t)

	assert.NoError(t, s.Remove(context.Background(), "ghost"))
}

func TestStore_Clear(t *testing.T) {
	s, snapshots := newTestCart(t)
	addN(t, s, watch("w1", 1, nil), 2)

	require.NoError(t, s.Clear(context.Background()))

	assert.Empty(t, s.Snapshot())
	assert.True(t, s.IsEmpty())
	stored := snapshots.Stored("cart-user-123")
	require.NotNil(t, stored)
	assert.JSONEq(t, `{"user_id":"user-123","lines":[]}`, string(stored.State))
}

// ============================================
// Totals Tests
// ============================================

func TestStore_Total(t *testing.T) {
	s, _ := newTestCart(t)
	addN(t, s, watch("w1", 500000, catalog.StockOf(5)), 2)
	addN(t, s, catalog.Product{ID: "w2", Name: "Strap", Price: decimal.RequireFromString("19.99")}, 3)

	assert.True(t, decimal.RequireFromString("1000059.97").Equal(s.Total()))
	assert.Equal(t, 5, s.Count())
}

func TestStore_Total_Empty(t *testing.T) {
	s, _ := newTestCart(t)

	assert.True(t, s.Total().IsZero())
}

// ============================================
// Persistence Tests
// ============================================

func TestStore_PersistFailureRollsBack(t *testing.T) {
	s, snapshots := newTestCart(t)
	addN(t, s, watch("w1", 1000, catalog.StockOf(5)), 1)
	snapshots.SaveErr = errors.New("disk full")
	ctx := context.Background()

	err := s.Add(ctx, watch("w1", 1000, catalog.StockOf(5)))
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, 1, s.Snapshot()[0].Quantity)

	_, err = s.SetQuantity(ctx, "w1", 3)
	assert.Error(t, err)
	assert.Equal(t, 1, s.Snapshot()[0].Quantity)

	assert.Error(t, s.Clear(ctx))
	assert.Len(t, s.Snapshot(), 1)
}

func TestStore_ReopenRestoresLines(t *testing.T) {
	ctx := context.Background()
	snapshots := mocks.NewMockSnapshotStore()
	s, err := Open(ctx, snapshots, "user-123")
	require.NoError(t, err)
	addN(t, s, watch("w1", 1000, catalog.StockOf(5)), 2)
	addN(t, s, watch("w2", 50, nil), 1)

	reopened, err := Open(ctx, snapshots, "user-123")

	require.NoError(t, err)
	lines := reopened.Snapshot()
	require.Len(t, lines, 2)
	assert.Equal(t, "w1", lines[0].Product.ID)
	assert.Equal(t, 2, lines[0].Quantity)
	assert.Equal(t, 5, *lines[0].Product.Stock)
	assert.Nil(t, lines[1].Product.Stock)
	assert.True(t, s.Total().Equal(reopened.Total()))
}

func TestOpen_SnapshotError(t *testing.T) {
	snapshots := mocks.NewMockSnapshotStore()
	snapshots.GetErr = errors.New("timeout")

	_, err := Open(context.Background(), snapshots, "user-123")

	assert.ErrorContains(t, err, "timeout")
}

func TestOpen_DropsNonPositiveLines(t *testing.T) {
	ctx := context.Background()
	snapshots := mocks.NewMockSnapshotStore()
	raw, err := json.Marshal(state{UserID: "user-123", Lines: []Line{
		{Product: watch("w1", 1, nil), Quantity: 0},
		{Product: watch("w2", 1, nil), Quantity: 2},
	}})
	require.NoError(t, err)
	require.NoError(t, snapshots.SaveSnapshot(ctx, &store.Snapshot{AggregateID: "cart-user-123", Version: 4, State: raw}))

	s, err := Open(ctx, snapshots, "user-123")

	require.NoError(t, err)
	lines := s.Snapshot()
	require.Len(t, lines, 1)
	assert.Equal(t, "w2", lines[0].Product.ID)
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	s, _ := newTestCart(t)
	addN(t, s, watch("w1", 1, catalog.StockOf(5)), 1)

	lines := s.Snapshot()
	lines[0].Quantity = 99
	*lines[0].Product.Stock = 0

	fresh := s.Snapshot()
	assert.Equal(t, 1, fresh[0].Quantity)
	assert.Equal(t, 5, *fresh[0].Product.Stock)
}

// ============================================
// Eligibility Tests
// ============================================

func TestStore_IsCheckoutEligible(t *testing.T) {
	s, _ := newTestCart(t)
	addN(t, s, watch("w1", 500000, catalog.StockOf(5)), 2)

	assert.True(t, s.IsCheckoutEligible())
	assert.Empty(t, s.Problems())
}

func TestStore_RefreshStock_FlagsProblems(t *testing.T) {
	s, _ := newTestCart(t)
	addN(t, s, watch("w1", 100, catalog.StockOf(5)), 3)
	addN(t, s, watch("w2", 100, catalog.StockOf(5)), 1)
	addN(t, s, watch("w3", 100, catalog.StockOf(5)), 1)
	addN(t, s, watch("w4", 100, catalog.StockOf(5)), 1)

	cat := catalog.NewMemoryCatalog(
		watch("w1", 100, catalog.StockOf(1)),
		watch("w2", 100, catalog.StockOf(0)),
		watch("w4", 100, nil),
	)
	require.NoError(t, s.RefreshStock(context.Background(), cat))

	assert.False(t, s.IsCheckoutEligible())
	problems := s.Problems()
	require.Len(t, problems, 3)
	assert.Equal(t, Problem{ProductID: "w1", Name: "Watch w1", Quantity: 3, Stock: 1, Reason: ReasonExceedsStock}, problems[0])
	assert.Equal(t, ReasonOutOfStock, problems[1].Reason)
	assert.Equal(t, "w3", problems[2].ProductID)
	assert.Equal(t, ReasonOutOfStock, problems[2].Reason)
	assert.Equal(t, 3, s.Snapshot()[0].Quantity)
}

type failingSource struct{}

func (failingSource) GetByID(ctx context.Context, id string) (*catalog.Product, error) {
	return nil, errors.New("catalog unreachable")
}

func TestStore_RefreshStock_CatalogError(t *testing.T) {
	s, snapshots := newTestCart(t)
	addN(t, s, watch("w1", 100, catalog.StockOf(5)), 1)

	err := s.RefreshStock(context.Background(), failingSource{})

	assert.ErrorContains(t, err, "catalog unreachable")
	assert.Equal(t, 5, *s.Snapshot()[0].Product.Stock)
	assert.Len(t, snapshots.SaveCalls, 1)
}

func TestProblem_String(t *testing.T) {
	assert.Equal(t, "Casio is out of stock", Problem{Name: "Casio", Reason: ReasonOutOfStock}.String())
	assert.Equal(t, "Casio: 3 in cart, only 1 in stock", Problem{Name: "Casio", Quantity: 3, Stock: 1, Reason: ReasonExceedsStock}.String())
}

func TestStore_OrderItems(t *testing.T) {
	s, _ := newTestCart(t)
	addN(t, s, watch("w1", 500000, catalog.StockOf(5)), 2)

	items := s.OrderItems()

	require.Len(t, items, 1)
	assert.Equal(t, "w1", items[0].ProductID)
	assert.Equal(t, 2, items[0].Quantity)
	assert.True(t, decimal.NewFromInt(500000).Equal(items[0].Price))
}

// ============================================
// Registry Tests
// ============================================

// ============================================
// Submission Tests
// ============================================

func TestSubmission_FreezesCart(t *testing.T) {
	s, _ := newTestCart(t)
	ctx := context.Background()
	p := watch("w1", 1000, catalog.StockOf(5))
	addN(t, s, p, 1)

	sub, err := s.BeginSubmission()
	require.NoError(t, err)
	assert.True(t, s.Submitting())

	_, err = s.BeginSubmission()
	assert.ErrorIs(t, err, ErrCheckoutInProgress)

	assert.ErrorIs(t, s.Add(ctx, p), ErrCheckoutInProgress)
	assert.ErrorIs(t, s.Add(ctx, watch("w2", 40, nil)), ErrCheckoutInProgress)
	assert.ErrorIs(t, s.Remove(ctx, "w1"), ErrCheckoutInProgress)
	assert.ErrorIs(t, s.Clear(ctx), ErrCheckoutInProgress)
	adj, err := s.SetQuantity(ctx, "w1", 3)
	assert.ErrorIs(t, err, ErrCheckoutInProgress)
	assert.Equal(t, 1, adj.Quantity)
	assert.ErrorIs(t, s.RefreshStock(ctx, catalog.NewMemoryCatalog(p)), ErrCheckoutInProgress)

	require.Len(t, s.Snapshot(), 1)
	assert.Equal(t, 1, s.Snapshot()[0].Quantity)

	sub.End()
	assert.False(t, s.Submitting())
	assert.NoError(t, s.Add(ctx, p))
}

func TestSubmission_ClearWhileFrozen(t *testing.T) {
	s, snapshots := newTestCart(t)
	addN(t, s, watch("w1", 1000, nil), 2)

	sub, err := s.BeginSubmission()
	require.NoError(t, err)
	require.NoError(t, sub.Clear(context.Background()))
	sub.End()

	assert.Empty(t, s.Snapshot())
	assert.Len(t, snapshots.SaveCalls, 3)
}

func TestRegistry_ReturnsSameStore(t *testing.T) {
	r := NewRegistry(mocks.NewMockSnapshotStore())
	ctx := context.Background()

	a, err := r.Get(ctx, "user-1")
	require.NoError(t, err)
	b, err := r.Get(ctx, "user-1")
	require.NoError(t, err)
	c, err := r.Get(ctx, "user-2")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}
