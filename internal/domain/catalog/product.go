package catalog

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Product is the catalog view of a watch. A nil Stock means the catalog does
// not track inventory for the product.
type Product struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Stock    *int            `json:"stock,omitempty"`
	ImageURL string          `json:"image_url,omitempty"`
}

// HasStockLimit reports whether the product carries a known stock count.
func (p Product) HasStockLimit() bool {
	return p.Stock != nil
}

// StockOf returns a pointer to n for building products with a known stock.
func StockOf(n int) *int {
	return &n
}

// Catalog is the read side of the product service plus the stock
// adjustment the order service needs when an order is placed.
type Catalog interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	// AdjustStock adds delta to the stock of a product. A negative delta that
	// would take the stock below zero fails with ErrInsufficientStock.
	// Products without a stock limit are left untouched.
	AdjustStock(ctx context.Context, id string, delta int) error
}

// MemoryCatalog is an in-process Catalog used for local runs and tests.
type MemoryCatalog struct {
	mu       sync.RWMutex
	products map[string]Product
}

func NewMemoryCatalog(products ...Product) *MemoryCatalog {
	c := &MemoryCatalog{products: make(map[string]Product)}
	for _, p := range products {
		c.products[p.ID] = clone(p)
	}
	return c
}

// Put inserts or replaces a product.
func (c *MemoryCatalog) Put(p Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = clone(p)
}

func (c *MemoryCatalog) GetByID(ctx context.Context, id string) (*Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	out := clone(p)
	return &out, nil
}

func (c *MemoryCatalog) AdjustStock(ctx context.Context, id string, delta int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.products[id]
	if !ok {
		return ErrProductNotFound
	}
	if p.Stock == nil {
		return nil
	}
	next := *p.Stock + delta
	if next < 0 {
		return ErrInsufficientStock
	}
	p.Stock = StockOf(next)
	c.products[id] = p
	return nil
}

// clone copies the stock pointer so callers never share it with the catalog.
func clone(p Product) Product {
	if p.Stock != nil {
		p.Stock = StockOf(*p.Stock)
	}
	return p
}
