// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package repo provides typed accessors over the Local Store for every
// synchronized entity. Reads come from the Local Store; every write goes
// through the operation queue so it is applied locally and pushed later.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mobiletoly/go-offlinepos/localstore"
	"github.com/mobiletoly/go-offlinepos/posdata"
	"github.com/mobiletoly/go-offlinepos/possync"
)

// ErrNotFound is returned when the requested row is not in the Local Store.
var ErrNotFound = errors.New("not found")

// Repos groups the repositories of all entity kinds.
type Repos struct {
	Products   *Products
	Variants   *Variants
	Categories *Categories
	Customers  *Customers
	Loans      *Loans
	Sales      *Sales
	Settings   *Settings
	HeldCarts  *HeldCarts
}

// New creates all repositories over queue and its Local Store.
func New(queue *possync.Queue) *Repos {
	env := &env{queue: queue, clock: possync.SystemClock}
	return &Repos{
		Products:   &Products{table: table[posdata.Product]{env, posdata.KindProduct}},
		Variants:   &Variants{table: table[posdata.ProductVariant]{env, posdata.KindVariant}},
		Categories: &Categories{table: table[posdata.Category]{env, posdata.KindCategory}},
		Customers:  &Customers{table: table[posdata.Customer]{env, posdata.KindCustomer}},
		Loans:      &Loans{table: table[posdata.Loan]{env, posdata.KindLoan}},
		Sales: &Sales{
			table:    table[posdata.Sale]{env, posdata.KindSale},
			items:    table[posdata.SaleItem]{env, posdata.KindSaleItem},
			products: table[posdata.Product]{env, posdata.KindProduct},
			variants: table[posdata.ProductVariant]{env, posdata.KindVariant},
		},
		Settings:  &Settings{table: table[posdata.Settings]{env, posdata.KindSettings}},
		HeldCarts: &HeldCarts{table: table[posdata.HeldCart]{env, posdata.KindHeldCart}},
	}
}

// SetClock replaces the clock used for created_at, receipt numbers and the
// loan overdue rule. It does not affect lastModified, which the queue stamps.
func (r *Repos) SetClock(c possync.Clock) { r.Products.env.clock = c }

type env struct {
	queue *possync.Queue
	clock possync.Clock
}

// table implements the reads and writes shared by every repository.
type table[T any] struct {
	*env
	kind posdata.Kind
}

func (t table[T]) store() *localstore.Store { return t.queue.Store() }

func (t table[T]) get(ctx context.Context, id string) (*T, error) {
	rec, err := t.store().Get(ctx, t.kind.LocalTable(), id)
	if errors.Is(err, localstore.ErrNotFound) {
		return nil, fmt.Errorf("%s %s: %w", t.kind, id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var v T
	if err := rec.Decode(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (t table[T]) list(ctx context.Context, q localstore.Query) ([]T, error) {
	recs, err := t.store().Query(ctx, t.kind.LocalTable(), q)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](recs)
}

func (t table[T]) watch(q localstore.Query) (*Watch[T], error) {
	sub, err := t.store().Subscribe(t.kind.LocalTable(), q)
	if err != nil {
		return nil, err
	}
	return newWatch[T](sub, t.store().Logger()).start(), nil
}

func (t table[T]) insert(ctx context.Context, v any) error {
	_, err := t.queue.Enqueue(ctx, t.kind, possync.OpInsert, v)
	return err
}

// update merges the non-empty fields of patch into row id and returns the
// updated row.
func (t table[T]) update(ctx context.Context, id string, patch any) (*T, error) {
	m, err := t.updateMutation(id, patch)
	if err != nil {
		return nil, err
	}
	return t.apply(ctx, id, m)
}

// apply enqueues an update mutation for id and reads the row back.
func (t table[T]) apply(ctx context.Context, id string, m possync.Mutation) (*T, error) {
	if _, err := t.queue.EnqueueAll(ctx, m); err != nil {
		return nil, notFound(err, t.kind, id)
	}
	return t.get(ctx, id)
}

func (t table[T]) updateMutation(id string, patch any) (possync.Mutation, error) {
	fields, err := patchFields(id, patch)
	if err != nil {
		return possync.Mutation{}, err
	}
	return possync.Mutation{Kind: t.kind, Op: possync.OpUpdate, Payload: fields}, nil
}

func (t table[T]) delete(ctx context.Context, id string) error {
	if _, err := t.store().Get(ctx, t.kind.LocalTable(), id); err != nil {
		return notFound(err, t.kind, id)
	}
	_, err := t.queue.Enqueue(ctx, t.kind, possync.OpDelete, map[string]string{"id": id})
	return err
}

func notFound(err error, kind posdata.Kind, id string) error {
	if errors.Is(err, localstore.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return err
}

// patchFields encodes patch (a struct with omitempty pointer fields or a
// map) into the field set of an update payload for id.
func patchFields(id string, patch any) (map[string]any, error) {
	raw, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("failed to encode update: %w", err)
	}
	fields, err := posdata.DecodeDocument(raw)
	if err != nil {
		return nil, err
	}
	delete(fields, "synced")
	delete(fields, "lastModified")
	fields["id"] = id
	return fields, nil
}

func decodeAll[T any](recs []localstore.Record) ([]T, error) {
	out := make([]T, 0, len(recs))
	for _, r := range recs {
		var v T
		if err := r.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func ensureID(e *posdata.Envelope) {
	if e.ID == "" {
		e.ID = posdata.NewID()
	}
}
