// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"
	"fmt"

	"github.com/mobiletoly/go-offlinepos/localstore"
	"github.com/mobiletoly/go-offlinepos/posdata"
	"github.com/mobiletoly/go-offlinepos/possync"
)

type Products struct {
	table[posdata.Product]
}

// ProductUpdate lists the product fields to change. Nil fields are kept.
type ProductUpdate struct {
	Name              *string        `json:"name,omitempty"`
	Description       *string        `json:"description,omitempty"`
	Barcode           *string        `json:"barcode,omitempty"`
	RetailPrice       *posdata.Money `json:"retail_price,omitempty"`
	CostPrice         *posdata.Money `json:"cost_price,omitempty"`
	StockQuantity     *int64         `json:"stock_quantity,omitempty"`
	LowStockThreshold *int64         `json:"low_stock_threshold,omitempty"`
	CategoryID        *string        `json:"category_id,omitempty"`
	// ClearCategory detaches the product from its category.
	ClearCategory bool `json:"-"`
}

// ProductWithCategory is a product joined with the name and color of its
// category, both empty for uncategorized products.
type ProductWithCategory struct {
	posdata.Product
	CategoryName  string
	CategoryColor string
}

// Create inserts p, assigning an id when p has none.
func (r *Products) Create(ctx context.Context, p *posdata.Product) error {
	ensureID(&p.Envelope)
	return r.insert(ctx, p)
}

// CreateMany inserts all products in one transaction.
func (r *Products) CreateMany(ctx context.Context, ps []*posdata.Product) error {
	muts := make([]possync.Mutation, len(ps))
	for i, p := range ps {
		ensureID(&p.Envelope)
		muts[i] = possync.Mutation{Kind: r.kind, Op: possync.OpInsert, Payload: p}
	}
	_, err := r.queue.EnqueueAll(ctx, muts...)
	return err
}

// Update applies u to product id and returns the updated product.
func (r *Products) Update(ctx context.Context, id string, u ProductUpdate) (*posdata.Product, error) {
	m, err := r.updateMutation(id, u)
	if err != nil {
		return nil, err
	}
	if u.ClearCategory {
		m.Payload.(map[string]any)["category_id"] = nil
	}
	return r.apply(ctx, id, m)
}

func (r *Products) Delete(ctx context.Context, id string) error { return r.delete(ctx, id) }

func (r *Products) Get(ctx context.Context, id string) (*posdata.Product, error) {
	return r.get(ctx, id)
}

// List returns all products sorted by name.
func (r *Products) List(ctx context.Context) ([]posdata.Product, error) {
	return r.list(ctx, localstore.Query{OrderBy: "name"})
}

// ListByCategory returns the products of one category sorted by name. An
// empty categoryID selects uncategorized products.
func (r *Products) ListByCategory(ctx context.Context, categoryID string) ([]posdata.Product, error) {
	var cond localstore.Cond
	if categoryID == "" {
		cond = localstore.Eq("category_id", nil)
	} else {
		cond = localstore.Eq("category_id", categoryID)
	}
	return r.list(ctx, localstore.Query{Where: []localstore.Cond{cond}, OrderBy: "name"})
}

// LowStock returns the products at or below their low stock threshold.
func (r *Products) LowStock(ctx context.Context) ([]posdata.Product, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []posdata.Product
	for i := range all {
		if all[i].LowStock() {
			out = append(out, all[i])
		}
	}
	return out, nil
}

// Watch follows the product list sorted by name.
func (r *Products) Watch() (*Watch[posdata.Product], error) {
	return r.watch(localstore.Query{OrderBy: "name"})
}

// WithCategory returns all products sorted by name, joined with their category.
func (r *Products) WithCategory(ctx context.Context) ([]ProductWithCategory, error) {
	products, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	cats := table[posdata.Category]{r.env, posdata.KindCategory}
	categories, err := cats.list(ctx, localstore.Query{})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*posdata.Category, len(categories))
	for i := range categories {
		byID[categories[i].ID] = &categories[i]
	}

	out := make([]ProductWithCategory, len(products))
	for i, p := range products {
		out[i].Product = p
		if p.CategoryID == nil {
			continue
		}
		if c, ok := byID[*p.CategoryID]; ok {
			out[i].CategoryName = c.Name
			out[i].CategoryColor = c.Color
		}
	}
	return out, nil
}

// AdjustStock adds delta (which may be negative) to the stock of product id.
func (r *Products) AdjustStock(ctx context.Context, id string, delta int64) error {
	p, err := r.get(ctx, id)
	if err != nil {
		return err
	}
	stock := p.StockQuantity + delta
	if _, err := r.update(ctx, id, ProductUpdate{StockQuantity: &stock}); err != nil {
		return fmt.Errorf("failed to adjust stock of %s: %w", p.Name, err)
	}
	return nil
}
