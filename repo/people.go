// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"

	"github.com/mobiletoly/go-offlinepos/localstore"
	"github.com/mobiletoly/go-offlinepos/posdata"
)

// defaultCategoryColor is used for categories created without a color.
const defaultCategoryColor = "#3b82f6"

type Categories struct {
	table[posdata.Category]
}

type CategoryUpdate struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Color       *string `json:"color,omitempty"`
}

func (r *Categories) Create(ctx context.Context, c *posdata.Category) error {
	ensureID(&c.Envelope)
	if c.Color == "" {
		c.Color = defaultCategoryColor
	}
	return r.insert(ctx, c)
}

func (r *Categories) Update(ctx context.Context, id string, u CategoryUpdate) (*posdata.Category, error) {
	return r.update(ctx, id, u)
}

func (r *Categories) Delete(ctx context.Context, id string) error { return r.delete(ctx, id) }

func (r *Categories) Get(ctx context.Context, id string) (*posdata.Category, error) {
	return r.get(ctx, id)
}

func (r *Categories) List(ctx context.Context) ([]posdata.Category, error) {
	return r.list(ctx, localstore.Query{OrderBy: "name"})
}

func (r *Categories) Watch() (*Watch[posdata.Category], error) {
	return r.watch(localstore.Query{OrderBy: "name"})
}

type Customers struct {
	table[posdata.Customer]
}

type CustomerUpdate struct {
	Name    *string `json:"name,omitempty"`
	Email   *string `json:"email,omitempty"`
	Phone   *string `json:"phone,omitempty"`
	Address *string `json:"address,omitempty"`
	Notes   *string `json:"notes,omitempty"`
}

func (r *Customers) Create(ctx context.Context, c *posdata.Customer) error {
	ensureID(&c.Envelope)
	return r.insert(ctx, c)
}

func (r *Customers) Update(ctx context.Context, id string, u CustomerUpdate) (*posdata.Customer, error) {
	return r.update(ctx, id, u)
}

func (r *Customers) Delete(ctx context.Context, id string) error { return r.delete(ctx, id) }

func (r *Customers) Get(ctx context.Context, id string) (*posdata.Customer, error) {
	return r.get(ctx, id)
}

// List returns all customers sorted by name.
func (r *Customers) List(ctx context.Context) ([]posdata.Customer, error) {
	return r.list(ctx, localstore.Query{OrderBy: "name"})
}

func (r *Customers) Watch() (*Watch[posdata.Customer], error) {
	return r.watch(localstore.Query{OrderBy: "name"})
}
