package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/example/watch-shop/internal/domain/catalog"
)

// PostgresCatalog reads products and adjusts their stock in PostgreSQL
type PostgresCatalog struct {
	db *sql.DB
}

func NewPostgresCatalog(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

// GetByID returns a product or catalog.ErrProductNotFound
func (c *PostgresCatalog) GetByID(ctx context.Context, id string) (*catalog.Product, error) {
	var p catalog.Product
	var stock sql.NullInt64
	var imageURL sql.NullString
	err := c.db.QueryRowContext(ctx,
		`SELECT id, name, price, stock, image_url FROM products WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Name, &p.Price, &stock, &imageURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product %s: %w", id, err)
	}
	if stock.Valid {
		p.Stock = catalog.StockOf(int(stock.Int64))
	}
	p.ImageURL = imageURL.String
	return &p, nil
}

// AdjustStock applies delta in one conditional UPDATE so stock never drops
// below zero. NULL stock stays NULL.
func (c *PostgresCatalog) AdjustStock(ctx context.Context, id string, delta int) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE products
		 SET stock = stock + $2, updated_at = NOW()
		 WHERE id = $1 AND (stock IS NULL OR stock + $2 >= 0)`,
		id, delta,
	)
	if err != nil {
		return fmt.Errorf("failed to adjust stock for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := c.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return catalog.ErrProductNotFound
	}
	return catalog.ErrInsufficientStock
}
