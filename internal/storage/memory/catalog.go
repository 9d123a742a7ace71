package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/catalog-importer/internal/pipeline"
)

// Catalog is an in-memory product sink keyed by normalized SKU.
type Catalog struct {
	mu       sync.Mutex
	products map[string]pipeline.Product
	nextID   int64
	now      func() time.Time
	failWith error
}

// NewCatalog constructs an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		products: make(map[string]pipeline.Product),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// UpsertProducts inserts or updates each row by SKUNormalized.
func (c *Catalog) UpsertProducts(_ context.Context, rows []pipeline.ProductInput) ([]pipeline.UpsertResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return nil, c.failWith
	}
	now := c.now()
	out := make([]pipeline.UpsertResult, 0, len(rows))
	for _, row := range rows {
		existing, found := c.products[row.SKUNormalized]
		if !found {
			c.nextID++
			existing = pipeline.Product{ID: c.nextID, CreatedAt: now, Active: row.Active}
		}
		existing.Name = row.Name
		existing.SKU = row.SKU
		existing.SKUNormalized = row.SKUNormalized
		existing.Description = row.Description
		existing.UpdatedAt = now
		c.products[row.SKUNormalized] = existing
		out = append(out, pipeline.UpsertResult{Product: existing, Created: !found})
	}
	return out, nil
}

// DeleteAllProducts empties the catalog and reports how many rows went.
func (c *Catalog) DeleteAllProducts(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return 0, c.failWith
	}
	n := int64(len(c.products))
	c.products = make(map[string]pipeline.Product)
	return n, nil
}

// Product looks up one product by normalized SKU.
func (c *Catalog) Product(skuNormalized string) (pipeline.Product, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[skuNormalized]
	return p, ok
}

// Len reports the number of stored products.
func (c *Catalog) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.products)
}

// FailWith makes every later call return err; nil restores normal behavior.
func (c *Catalog) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failWith = err
}
