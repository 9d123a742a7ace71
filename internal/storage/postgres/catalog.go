package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/catalog-importer/internal/pipeline"
)

// The xmax system column is zero only for a freshly inserted tuple, which
// tells inserts apart from conflict updates in one round trip.
const upsertProductSQL = `
INSERT INTO products (name, sku, sku_normalized, description, active)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (sku_normalized) DO UPDATE
SET name = EXCLUDED.name,
	sku = EXCLUDED.sku,
	description = EXCLUDED.description,
	updated_at = now()
RETURNING id, name, sku, sku_normalized, description, active, created_at, updated_at, (xmax = 0) AS inserted`

const deleteProductsSQL = `DELETE FROM products`

// Catalog upserts products keyed by normalized SKU.
type Catalog struct {
	db DB
}

// NewCatalog wraps a pool.
func NewCatalog(db DB) (*Catalog, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Catalog{db: db}, nil
}

// UpsertProducts writes rows in one transaction, in order. A repeated SKU
// within rows updates the product the earlier row created.
func (c *Catalog) UpsertProducts(ctx context.Context, rows []pipeline.ProductInput) ([]pipeline.UpsertResult, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	tx, err := c.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin upsert: %w", err)
	}

	out := make([]pipeline.UpsertResult, 0, len(rows))
	for _, row := range rows {
		var (
			res pipeline.UpsertResult
			p   = &res.Product
		)
		err := tx.QueryRow(ctx, upsertProductSQL,
			row.Name, row.SKU, row.SKUNormalized, row.Description, row.Active,
		).Scan(&p.ID, &p.Name, &p.SKU, &p.SKUNormalized, &p.Description, &p.Active, &p.CreatedAt, &p.UpdatedAt, &res.Created)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("upsert product %q: %w", row.SKU, err), tx.Rollback(ctx))
		}
		out = append(out, res)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit upsert: %w", err)
	}
	return out, nil
}

// DeleteAllProducts removes every product and reports how many rows went.
func (c *Catalog) DeleteAllProducts(ctx context.Context) (int64, error) {
	tag, err := c.db.Exec(ctx, deleteProductsSQL)
	if err != nil {
		return 0, fmt.Errorf("delete products: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ pipeline.CatalogSink = (*Catalog)(nil)
