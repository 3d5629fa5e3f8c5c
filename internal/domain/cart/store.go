package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/example/watch-shop/internal/domain/catalog"
	"github.com/example/watch-shop/internal/domain/order"
	"github.com/example/watch-shop/internal/domain/stock"
	"github.com/example/watch-shop/internal/infrastructure/store"
	"github.com/shopspring/decimal"
)

const AggregateType = "Cart"

var (
	ErrInvalidProduct = errors.New("product_id is required")
	ErrLineNotFound   = errors.New("product is not in the cart")
	// ErrCheckoutInProgress rejects changes while the cart is being ordered
	ErrCheckoutInProgress = errors.New("a checkout is already in progress for this cart")
)

// Problem reasons reported by Problems
const (
	ReasonOutOfStock   = "out_of_stock"
	ReasonExceedsStock = "exceeds_stock"
)

// Line is one product in the cart. Product is the catalog data seen when the
// line was added or last refreshed.
type Line struct {
	Product  catalog.Product `json:"product"`
	Quantity int             `json:"quantity"`
}

func (l Line) Subtotal() decimal.Decimal {
	return l.Product.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Problem is a line that blocks checkout
type Problem struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	Stock     int    `json:"stock"`
	Reason    string `json:"reason"`
}

func (p Problem) String() string {
	if p.Reason == ReasonOutOfStock {
		return fmt.Sprintf("%s is out of stock", p.Name)
	}
	return fmt.Sprintf("%s: %d in cart, only %d in stock", p.Name, p.Quantity, p.Stock)
}

// Adjustment reports what SetQuantity did with the requested value
type Adjustment struct {
	ProductID string `json:"product_id"`
	Requested int    `json:"requested"`
	Quantity  int    `json:"quantity"`
	Removed   bool   `json:"removed"`
	Clamped   bool   `json:"clamped"`
	Warning   string `json:"warning,omitempty"`
}

// ProductSource is the catalog lookup RefreshStock needs
type ProductSource interface {
	GetByID(ctx context.Context, id string) (*catalog.Product, error)
}

type state struct {
	UserID string `json:"user_id"`
	Lines  []Line `json:"lines"`
}

// Store owns one user's cart. Every mutation is written through snapshots
// before it returns; a failed write leaves the cart as it was.
type Store struct {
	mu        sync.Mutex
	id        string
	userID    string
	lines     []Line
	version   int
	snapshots store.SnapshotStore
	// submitting freezes the lines while an order for them is pending
	submitting bool
}

// GetCartID returns the cart ID for a user
func GetCartID(userID string) string {
	return "cart-" + userID
}

// Open loads the user's persisted cart, or starts an empty one
func Open(ctx context.Context, snapshots store.SnapshotStore, userID string) (*Store, error) {
	s := &Store{
		id:        GetCartID(userID),
		userID:    userID,
		snapshots: snapshots,
	}

	snapshot, err := snapshots.GetSnapshot(ctx, s.id)
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	if snapshot == nil {
		return s, nil
	}

	var st state
	if err := json.Unmarshal(snapshot.State, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	for _, l := range st.Lines {
		if l.Quantity > 0 {
			s.lines = append(s.lines, l)
		}
	}
	s.version = snapshot.Version
	return s, nil
}

func (s *Store) ID() string     { return s.id }
func (s *Store) UserID() string { return s.userID }

func (s *Store) indexOf(productID string) int {
	for i, l := range s.lines {
		if l.Product.ID == productID {
			return i
		}
	}
	return -1
}

// mutate runs fn against the lines and persists the result, restoring the
// previous lines if either step fails.
func (s *Store) mutate(ctx context.Context, fn func() error) error {
	prev := cloneLines(s.lines)
	if err := fn(); err != nil {
		s.lines = prev
		return err
	}
	if err := s.persist(ctx); err != nil {
		s.lines = prev
		log.Printf("[Cart] Failed to persist cart %s: %v", s.id, err)
		return err
	}
	return nil
}

func (s *Store) persist(ctx context.Context) error {
	lines := s.lines
	if lines == nil {
		lines = []Line{}
	}
	data, err := json.Marshal(state{UserID: s.userID, Lines: lines})
	if err != nil {
		return fmt.Errorf("failed to marshal cart state: %w", err)
	}

	snapshot := &store.Snapshot{
		AggregateID:   s.id,
		AggregateType: AggregateType,
		Version:       s.version + 1,
		State:         data,
		CreatedAt:     time.Now(),
	}
	if err := s.snapshots.SaveSnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to save cart: %w", err)
	}
	s.version = snapshot.Version
	return nil
}

// Add puts one unit of product in the cart. A new line starts at 1; an
// existing line grows by 1 only while the stock allows it. A rejected add
// still records product's stock on the existing line, so the checkout gate
// sees it.
func (s *Store) Add(ctx context.Context, product catalog.Product) error {
	if product.ID == "" {
		return ErrInvalidProduct
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitting {
		return ErrCheckoutInProgress
	}

	idx := s.indexOf(product.ID)
	existing := 0
	if idx >= 0 {
		existing = s.lines[idx].Quantity
	}

	decision := stock.CanAdd(existing, 1, product.Stock)
	if !decision.Allowed {
		var rejection error = &stock.ConflictError{ProductID: product.ID, Requested: existing + 1, Available: decision.Capped}
		if decision.Capped == 0 {
			rejection = fmt.Errorf("%w: %s", stock.ErrOutOfStock, product.Name)
		}
		if idx >= 0 {
			if err := s.mutate(ctx, func() error {
				s.lines[idx].Product = product
				return nil
			}); err != nil {
				return err
			}
		}
		return rejection
	}

	return s.mutate(ctx, func() error {
		if idx < 0 {
			s.lines = append(s.lines, Line{Product: product, Quantity: 1})
			return nil
		}
		s.lines[idx] = Line{Product: product, Quantity: decision.Capped}
		return nil
	})
}

// Remove deletes the line for productID. Removing an absent product is not
// an error.
func (s *Store) Remove(ctx context.Context, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitting {
		return ErrCheckoutInProgress
	}
	return s.remove(ctx, productID)
}

func (s *Store) remove(ctx context.Context, productID string) error {
	idx := s.indexOf(productID)
	if idx < 0 {
		return nil
	}
	return s.mutate(ctx, func() error {
		s.lines = append(s.lines[:idx:idx], s.lines[idx+1:]...)
		return nil
	})
}

// SetQuantity sets a line to requested, clamped to the known stock. A
// requested value <= 0 removes the line.
func (s *Store) SetQuantity(ctx context.Context, productID string, requested int) (Adjustment, error) {
	adj := Adjustment{ProductID: productID, Requested: requested}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitting {
		adj.Quantity = s.quantityOf(productID)
		return adj, ErrCheckoutInProgress
	}

	idx := s.indexOf(productID)
	if requested <= 0 {
		if err := s.remove(ctx, productID); err != nil {
			return adj, err
		}
		adj.Removed = true
		return adj, nil
	}
	if idx < 0 {
		return adj, fmt.Errorf("%w: %s", ErrLineNotFound, productID)
	}

	line := s.lines[idx]
	clamp := stock.CanSetQuantity(requested, line.Product.Stock)
	if clamp.OutOfStock {
		adj.Quantity = line.Quantity
		return adj, fmt.Errorf("%w: %s", stock.ErrOutOfStock, line.Product.Name)
	}

	if err := s.mutate(ctx, func() error {
		s.lines[idx].Quantity = clamp.Quantity
		return nil
	}); err != nil {
		adj.Quantity = line.Quantity
		return adj, err
	}

	adj.Quantity = clamp.Quantity
	if clamp.Clamped {
		adj.Clamped = true
		adj.Warning = fmt.Sprintf("only %d of %s in stock, quantity set to %d", clamp.Quantity, line.Product.Name, clamp.Quantity)
	}
	return adj, nil
}

// Clear empties the cart
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitting {
		return ErrCheckoutInProgress
	}
	return s.clear(ctx)
}

func (s *Store) clear(ctx context.Context) error {
	return s.mutate(ctx, func() error {
		s.lines = nil
		return nil
	})
}

func (s *Store) quantityOf(productID string) int {
	if idx := s.indexOf(productID); idx >= 0 {
		return s.lines[idx].Quantity
	}
	return 0
}

// Submission holds a cart frozen while its lines are being ordered. Every
// other change to the cart fails with ErrCheckoutInProgress until End.
type Submission struct {
	s *Store
}

// BeginSubmission freezes the cart. Only one submission may be open.
func (s *Store) BeginSubmission() (*Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitting {
		return nil, ErrCheckoutInProgress
	}
	s.submitting = true
	return &Submission{s: s}, nil
}

// Submitting reports whether a submission holds the cart
func (s *Store) Submitting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitting
}

// Clear empties the cart after its order was confirmed. The lines are the
// ones that were ordered, since nothing could change them meanwhile.
func (sub *Submission) Clear(ctx context.Context) error {
	sub.s.mu.Lock()
	defer sub.s.mu.Unlock()
	return sub.s.clear(ctx)
}

// End unfreezes the cart
func (sub *Submission) End() {
	sub.s.mu.Lock()
	defer sub.s.mu.Unlock()
	sub.s.submitting = false
}

// RefreshStock replaces each line's stock with the catalog's current value.
// A product the catalog no longer knows is treated as out of stock.
func (s *Store) RefreshStock(ctx context.Context, products ProductSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitting {
		return ErrCheckoutInProgress
	}

	if len(s.lines) == 0 {
		return nil
	}

	fresh := make([]*int, len(s.lines))
	for i, l := range s.lines {
		p, err := products.GetByID(ctx, l.Product.ID)
		switch {
		case errors.Is(err, catalog.ErrProductNotFound):
			fresh[i] = catalog.StockOf(0)
		case err != nil:
			return fmt.Errorf("failed to refresh %s: %w", l.Product.ID, err)
		default:
			fresh[i] = p.Stock
		}
	}

	return s.mutate(ctx, func() error {
		for i := range s.lines {
			s.lines[i].Product.Stock = fresh[i]
		}
		return nil
	})
}

// Snapshot returns a copy of the lines in insertion order
func (s *Store) Snapshot() []Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneLines(s.lines)
}

// Total sums price * quantity over the current lines
func (s *Store) Total() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := decimal.Zero
	for _, l := range s.lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// Count returns the number of units across all lines
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, l := range s.lines {
		n += l.Quantity
	}
	return n
}

func (s *Store) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines) == 0
}

// Problems lists the lines that exceed or have no known stock
func (s *Store) Problems() []Problem {
	s.mu.Lock()
	defer s.mu.Unlock()

	var problems []Problem
	for _, l := range s.lines {
		if l.Product.Stock == nil {
			continue
		}
		available := *l.Product.Stock
		switch {
		case available <= 0:
			problems = append(problems, Problem{
				ProductID: l.Product.ID,
				Name:      l.Product.Name,
				Quantity:  l.Quantity,
				Stock:     0,
				Reason:    ReasonOutOfStock,
			})
		case l.Quantity > available:
			problems = append(problems, Problem{
				ProductID: l.Product.ID,
				Name:      l.Product.Name,
				Quantity:  l.Quantity,
				Stock:     available,
				Reason:    ReasonExceedsStock,
			})
		}
	}
	return problems
}

func (s *Store) IsCheckoutEligible() bool {
	return len(s.Problems()) == 0
}

// OrderItems builds order lines from the cart, priced from the cart
func (s *Store) OrderItems() []order.Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]order.Item, 0, len(s.lines))
	for _, l := range s.lines {
		items = append(items, order.Item{
			ProductID:   l.Product.ID,
			ProductName: l.Product.Name,
			Quantity:    l.Quantity,
			Price:       l.Product.Price,
		})
	}
	return items
}

func cloneLines(lines []Line) []Line {
	if lines == nil {
		return nil
	}
	out := make([]Line, len(lines))
	for i, l := range lines {
		if l.Product.Stock != nil {
			l.Product.Stock = catalog.StockOf(*l.Product.Stock)
		}
		out[i] = l
	}
	return out
}
