// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/mobiletoly/go-offlinepos/localstore"
	"github.com/mobiletoly/go-offlinepos/posdata"
	"github.com/mobiletoly/go-offlinepos/possync"
)

var (
	ErrEmptyCart           = errors.New("cart is empty")
	ErrInsufficientPayment = errors.New("amount paid is less than total")
	ErrNotReturnable       = errors.New("sale cannot be returned")
)

// Sales records checkouts and returns. A sale is written together with its
// items and stock changes in one queue transaction.
type Sales struct {
	table    table[posdata.Sale]
	items    table[posdata.SaleItem]
	products table[posdata.Product]
	variants table[posdata.ProductVariant]
}

// CheckoutLine is one cart line. VariantID selects a variant of ProductID.
type CheckoutLine struct {
	ProductID string
	VariantID string
	Quantity  int64
}

type CheckoutRequest struct {
	UserID        string
	CustomerID    *string
	Lines         []CheckoutLine
	Discount      posdata.Money
	TaxRate       posdata.Money // percent
	PaymentMethod string
	// AmountPaid of zero means the exact total was paid.
	AmountPaid posdata.Money
	Notes      *string
}

// Receipt is a recorded sale with its items.
type Receipt struct {
	Sale  posdata.Sale
	Items []posdata.SaleItem
}

// stockTarget is the row whose stock a sold line moves.
type stockTarget struct {
	kind posdata.Kind
	id   string
}

type pricedLine struct {
	product *posdata.Product
	variant *posdata.ProductVariant
	qty     int64
	price   posdata.Money
}

func (l *pricedLine) target() stockTarget {
	if l.variant != nil {
		return stockTarget{posdata.KindVariant, l.variant.ID}
	}
	return stockTarget{posdata.KindProduct, l.product.ID}
}

// Checkout records a sale. Tax applies to the subtotal after discount.
func (r *Sales) Checkout(ctx context.Context, req CheckoutRequest) (*Receipt, error) {
	if len(req.Lines) == 0 {
		return nil, ErrEmptyCart
	}
	lines := make([]pricedLine, len(req.Lines))
	for i, cl := range req.Lines {
		if cl.Quantity <= 0 {
			return nil, fmt.Errorf("line %d: quantity must be positive", i+1)
		}
		pl, err := r.resolveLine(ctx, cl)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		lines[i] = *pl
	}

	now := r.table.clock.Now()
	sale := posdata.Sale{
		Envelope:      posdata.Envelope{ID: posdata.NewID()},
		UserID:        req.UserID,
		CustomerID:    req.CustomerID,
		PaymentMethod: req.PaymentMethod,
		ReceiptNumber: fmt.Sprintf("RCP-%d", now.UnixMilli()),
		Notes:         req.Notes,
		CreatedAt:     posdata.NowISO(now),
	}
	if sale.PaymentMethod == "" {
		sale.PaymentMethod = "cash"
	}

	items := make([]posdata.SaleItem, len(lines))
	subtotal := posdata.MoneyFromInt(0)
	for i := range lines {
		l := &lines[i]
		item := posdata.SaleItem{
			Envelope:    posdata.Envelope{ID: posdata.NewID()},
			SaleID:      sale.ID,
			ProductID:   l.product.ID,
			ProductName: l.product.Name,
			Quantity:    l.qty,
			UnitPrice:   l.price,
			Subtotal:    l.price.MulInt(l.qty),
		}
		if l.variant != nil {
			item.VariantID = &l.variant.ID
			item.VariantName = &l.variant.VariantName
		}
		items[i] = item
		subtotal = subtotal.Add(item.Subtotal)
	}

	taxable := subtotal.Sub(req.Discount)
	sale.Subtotal = subtotal
	sale.DiscountAmount = req.Discount
	sale.TaxAmount = taxable.Percent(req.TaxRate)
	sale.TotalAmount = taxable.Add(sale.TaxAmount)
	sale.AmountPaid = req.AmountPaid
	if sale.AmountPaid.IsZero() {
		sale.AmountPaid = sale.TotalAmount
	}
	if sale.AmountPaid.LessThan(sale.TotalAmount) {
		return nil, ErrInsufficientPayment
	}
	sale.ChangeAmount = sale.AmountPaid.Sub(sale.TotalAmount)

	deltas, order := map[stockTarget]int64{}, []stockTarget{}
	stock := map[stockTarget]int64{}
	for i := range lines {
		t := lines[i].target()
		if _, seen := deltas[t]; !seen {
			order = append(order, t)
			if lines[i].variant != nil {
				stock[t] = lines[i].variant.StockQuantity
			} else {
				stock[t] = lines[i].product.StockQuantity
			}
		}
		deltas[t] -= lines[i].qty
	}

	muts := []possync.Mutation{{Kind: posdata.KindSale, Op: possync.OpInsert, Payload: &sale}}
	for i := range items {
		muts = append(muts, possync.Mutation{Kind: posdata.KindSaleItem, Op: possync.OpInsert, Payload: &items[i]})
	}
	for _, t := range order {
		muts = append(muts, stockMutation(t, stock[t]+deltas[t]))
	}
	if _, err := r.table.queue.EnqueueAll(ctx, muts...); err != nil {
		return nil, fmt.Errorf("failed to record sale: %w", err)
	}
	return &Receipt{Sale: sale, Items: items}, nil
}

// resolveLine loads the product and variant of a cart line. A product id
// that turns out to name a variant is resolved to that variant's parent, so
// sale items always reference a product.
func (r *Sales) resolveLine(ctx context.Context, cl CheckoutLine) (*pricedLine, error) {
	variantID := cl.VariantID
	product, err := r.products.get(ctx, cl.ProductID)
	if errors.Is(err, ErrNotFound) && variantID == "" {
		if _, verr := r.variants.get(ctx, cl.ProductID); verr == nil {
			variantID = cl.ProductID
			product = nil
			err = nil
		}
	}
	if err != nil {
		return nil, err
	}

	pl := &pricedLine{product: product, qty: cl.Quantity}
	if variantID == "" {
		pl.price = product.RetailPrice
		return pl, nil
	}
	v, err := r.variants.get(ctx, variantID)
	if err != nil {
		return nil, err
	}
	if product == nil || product.ID != v.ProductID {
		if product, err = r.products.get(ctx, v.ProductID); err != nil {
			return nil, err
		}
	}
	pl.product = product
	pl.variant = v
	pl.price = v.Price(product)
	return pl, nil
}

func stockMutation(t stockTarget, qty int64) possync.Mutation {
	return possync.Mutation{
		Kind:    t.kind,
		Op:      possync.OpUpdate,
		Payload: map[string]any{"id": t.id, "stock_quantity": qty},
	}
}

// Return records the refund of a whole sale as a new sale with negated
// amounts and quantities and puts the sold stock back.
func (r *Sales) Return(ctx context.Context, saleID string) (*Receipt, error) {
	orig, err := r.table.get(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if orig.IsReturn() {
		return nil, fmt.Errorf("%s is a return: %w", orig.ReceiptNumber, ErrNotReturnable)
	}
	receipt := "RTN-" + orig.ReceiptNumber
	existing, err := r.table.list(ctx, localstore.Query{
		Where: []localstore.Cond{localstore.Eq("receipt_number", receipt)},
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("%s was already returned: %w", orig.ReceiptNumber, ErrNotReturnable)
	}
	origItems, err := r.Items(ctx, saleID)
	if err != nil {
		return nil, err
	}

	now := r.table.clock.Now()
	notes := "Return for " + orig.ReceiptNumber
	ret := posdata.Sale{
		Envelope:       posdata.Envelope{ID: posdata.NewID()},
		UserID:         orig.UserID,
		CustomerID:     orig.CustomerID,
		TotalAmount:    orig.TotalAmount.Neg(),
		Subtotal:       orig.Subtotal.Neg(),
		TaxAmount:      orig.TaxAmount.Neg(),
		DiscountAmount: orig.DiscountAmount.Neg(),
		AmountPaid:     orig.TotalAmount.Neg(),
		ChangeAmount:   posdata.MoneyFromInt(0),
		PaymentMethod:  orig.PaymentMethod,
		ReceiptNumber:  receipt,
		Notes:          &notes,
		CreatedAt:      posdata.NowISO(now),
	}

	muts := []possync.Mutation{{Kind: posdata.KindSale, Op: possync.OpInsert, Payload: &ret}}
	items := make([]posdata.SaleItem, len(origItems))
	restock := map[stockTarget]int64{}
	var order []stockTarget
	for i, it := range origItems {
		items[i] = posdata.SaleItem{
			Envelope:    posdata.Envelope{ID: posdata.NewID()},
			SaleID:      ret.ID,
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    -it.Quantity,
			UnitPrice:   it.UnitPrice,
			Subtotal:    it.Subtotal.Neg(),
			VariantID:   it.VariantID,
			VariantName: it.VariantName,
		}
		muts = append(muts, possync.Mutation{Kind: posdata.KindSaleItem, Op: possync.OpInsert, Payload: &items[i]})

		t := stockTarget{posdata.KindProduct, it.ProductID}
		if it.VariantID != nil {
			t = stockTarget{posdata.KindVariant, *it.VariantID}
		}
		if _, seen := restock[t]; !seen {
			order = append(order, t)
		}
		restock[t] += abs(it.Quantity)
	}

	for _, t := range order {
		rec, err := r.table.store().Get(ctx, t.kind.LocalTable(), t.id)
		if errors.Is(err, localstore.ErrNotFound) {
			// Sold row no longer exists locally; nothing to restock.
			continue
		}
		if err != nil {
			return nil, err
		}
		var row struct {
			StockQuantity int64 `json:"stock_quantity"`
		}
		if err := rec.Decode(&row); err != nil {
			return nil, err
		}
		muts = append(muts, stockMutation(t, row.StockQuantity+restock[t]))
	}

	if _, err := r.table.queue.EnqueueAll(ctx, muts...); err != nil {
		return nil, fmt.Errorf("failed to record return: %w", err)
	}
	return &Receipt{Sale: ret, Items: items}, nil
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

func (r *Sales) Get(ctx context.Context, id string) (*posdata.Sale, error) {
	return r.table.get(ctx, id)
}

// Items returns the lines of a sale in the order they were recorded.
func (r *Sales) Items(ctx context.Context, saleID string) ([]posdata.SaleItem, error) {
	return r.items.list(ctx, localstore.Query{Where: []localstore.Cond{localstore.Eq("sale_id", saleID)}})
}

// List returns the locally kept sales, newest first.
func (r *Sales) List(ctx context.Context) ([]posdata.Sale, error) {
	return r.table.list(ctx, localstore.Query{OrderBy: "created_at", Desc: true})
}

func (r *Sales) Watch() (*Watch[posdata.Sale], error) {
	return r.table.watch(localstore.Query{OrderBy: "created_at", Desc: true})
}
