// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"

	"github.com/mobiletoly/go-offlinepos/localstore"
	"github.com/mobiletoly/go-offlinepos/posdata"
)

// Variants never hard-deletes: sold variants stay referenced by sale items.
type Variants struct {
	table[posdata.ProductVariant]
}

type VariantUpdate struct {
	VariantName     *string        `json:"variant_name,omitempty"`
	SKU             *string        `json:"sku,omitempty"`
	PriceAdjustment *posdata.Money `json:"price_adjustment,omitempty"`
	StockQuantity   *int64         `json:"stock_quantity,omitempty"`
	IsActive        *bool          `json:"is_active,omitempty"`
}

// Create inserts an active variant. The parent product must exist locally.
func (r *Variants) Create(ctx context.Context, v *posdata.ProductVariant) error {
	if _, err := r.store().Get(ctx, posdata.KindProduct.LocalTable(), v.ProductID); err != nil {
		return notFound(err, posdata.KindProduct, v.ProductID)
	}
	ensureID(&v.Envelope)
	v.IsActive = true
	return r.insert(ctx, v)
}

func (r *Variants) Update(ctx context.Context, id string, u VariantUpdate) (*posdata.ProductVariant, error) {
	return r.update(ctx, id, u)
}

// Delete deactivates the variant.
func (r *Variants) Delete(ctx context.Context, id string) error {
	inactive := false
	_, err := r.update(ctx, id, VariantUpdate{IsActive: &inactive})
	return err
}

func (r *Variants) Get(ctx context.Context, id string) (*posdata.ProductVariant, error) {
	return r.get(ctx, id)
}

// ListForProduct returns the active variants of a product sorted by name.
func (r *Variants) ListForProduct(ctx context.Context, productID string) ([]posdata.ProductVariant, error) {
	return r.list(ctx, activeVariants(productID))
}

// Watch follows the active variants of a product.
func (r *Variants) Watch(productID string) (*Watch[posdata.ProductVariant], error) {
	return r.watch(activeVariants(productID))
}

func activeVariants(productID string) localstore.Query {
	return localstore.Query{
		Where:   []localstore.Cond{localstore.Eq("product_id", productID), localstore.Eq("is_active", true)},
		OrderBy: "variant_name",
	}
}
