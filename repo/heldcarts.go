// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"
	"errors"

	"github.com/mobiletoly/go-offlinepos/localstore"
	"github.com/mobiletoly/go-offlinepos/posdata"
)

// HeldCarts parks carts for later. A resumed cart is removed.
type HeldCarts struct {
	table[posdata.HeldCart]
}

func (r *HeldCarts) Hold(ctx context.Context, userID, name string, cart posdata.CartSnapshot) (*posdata.HeldCart, error) {
	if len(cart.Items) == 0 {
		return nil, ErrEmptyCart
	}
	if name == "" {
		return nil, errors.New("held cart needs a name")
	}
	hc := &posdata.HeldCart{
		Envelope:  posdata.Envelope{ID: posdata.NewID()},
		UserID:    userID,
		CartName:  name,
		CartData:  cart,
		CreatedAt: posdata.NowISO(r.clock.Now()),
	}
	if err := r.insert(ctx, hc); err != nil {
		return nil, err
	}
	return hc, nil
}

// List returns the carts held by userID, newest first.
func (r *HeldCarts) List(ctx context.Context, userID string) ([]posdata.HeldCart, error) {
	return r.list(ctx, localstore.Query{
		Where:   []localstore.Cond{localstore.Eq("user_id", userID)},
		OrderBy: "created_at",
		Desc:    true,
	})
}

// Resume returns the content of a held cart and deletes it.
func (r *HeldCarts) Resume(ctx context.Context, id string) (*posdata.CartSnapshot, error) {
	hc, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.delete(ctx, id); err != nil {
		return nil, err
	}
	return &hc.CartData, nil
}

func (r *HeldCarts) Delete(ctx context.Context, id string) error { return r.delete(ctx, id) }
