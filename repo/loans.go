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

// ErrInvalidPayment is returned for a loan payment that is not positive.
var ErrInvalidPayment = errors.New("payment must be positive")

// Loans keeps remaining_balance and status derived from the amounts on every
// write; callers cannot set them.
type Loans struct {
	table[posdata.Loan]
}

type LoanUpdate struct {
	LoanAmount *posdata.Money
	AmountPaid *posdata.Money
	DueDate    *string
	ProductID  *string
	VariantID  *string
	Notes      *string
}

// LoanFilter narrows List. Empty fields match every loan.
type LoanFilter struct {
	CustomerID string
	Status     string
}

// loanFields is the field set written by every loan update.
type loanFields struct {
	LoanAmount       posdata.Money `json:"loan_amount"`
	AmountPaid       posdata.Money `json:"amount_paid"`
	RemainingBalance posdata.Money `json:"remaining_balance"`
	Status           string        `json:"status"`
	DueDate          *string       `json:"due_date,omitempty"`
	ProductID        *string       `json:"product_id,omitempty"`
	VariantID        *string       `json:"variant_id,omitempty"`
	Notes            *string       `json:"notes,omitempty"`
}

func (r *Loans) Create(ctx context.Context, l *posdata.Loan) error {
	if l.CustomerID == "" {
		return errors.New("loan requires a customer")
	}
	ensureID(&l.Envelope)
	now := r.clock.Now()
	if l.LoanDate == "" {
		l.LoanDate = posdata.NowISO(now)
	}
	posdata.ApplyLoanRule(l, now)
	return r.insert(ctx, l)
}

// Update applies u, recomputes balance and status and returns the loan.
func (r *Loans) Update(ctx context.Context, id string, u LoanUpdate) (*posdata.Loan, error) {
	l, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.LoanAmount != nil {
		l.LoanAmount = *u.LoanAmount
	}
	if u.AmountPaid != nil {
		l.AmountPaid = *u.AmountPaid
	}
	if u.DueDate != nil {
		l.DueDate = u.DueDate
	}
	if u.ProductID != nil {
		l.ProductID = u.ProductID
	}
	if u.VariantID != nil {
		l.VariantID = u.VariantID
	}
	if u.Notes != nil {
		l.Notes = u.Notes
	}
	return r.save(ctx, l)
}

// RecordPayment adds amount to what the customer has paid.
func (r *Loans) RecordPayment(ctx context.Context, id string, amount posdata.Money) (*posdata.Loan, error) {
	if amount.LessOrEqualZero() {
		return nil, ErrInvalidPayment
	}
	l, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	l.AmountPaid = l.AmountPaid.Add(amount)
	return r.save(ctx, l)
}

// MarkOverdue moves active loans past their due date to overdue and
// returns how many changed.
func (r *Loans) MarkOverdue(ctx context.Context) (int, error) {
	active, err := r.list(ctx, localstore.Query{Where: []localstore.Cond{localstore.Eq("status", posdata.LoanActive)}})
	if err != nil {
		return 0, err
	}
	now := r.clock.Now()
	var muts []possync.Mutation
	for i := range active {
		l := &active[i]
		posdata.ApplyLoanRule(l, now)
		if l.Status == posdata.LoanActive {
			continue
		}
		m, err := r.updateMutation(l.ID, fieldsOf(l))
		if err != nil {
			return 0, err
		}
		muts = append(muts, m)
	}
	if _, err := r.queue.EnqueueAll(ctx, muts...); err != nil {
		return 0, fmt.Errorf("failed to mark overdue loans: %w", err)
	}
	return len(muts), nil
}

func (r *Loans) save(ctx context.Context, l *posdata.Loan) (*posdata.Loan, error) {
	posdata.ApplyLoanRule(l, r.clock.Now())
	return r.update(ctx, l.ID, fieldsOf(l))
}

func fieldsOf(l *posdata.Loan) loanFields {
	return loanFields{
		LoanAmount:       l.LoanAmount,
		AmountPaid:       l.AmountPaid,
		RemainingBalance: l.RemainingBalance,
		Status:           l.Status,
		DueDate:          l.DueDate,
		ProductID:        l.ProductID,
		VariantID:        l.VariantID,
		Notes:            l.Notes,
	}
}

func (r *Loans) Delete(ctx context.Context, id string) error { return r.delete(ctx, id) }

func (r *Loans) Get(ctx context.Context, id string) (*posdata.Loan, error) {
	return r.get(ctx, id)
}

// List returns the matching loans, most recent loan_date first.
func (r *Loans) List(ctx context.Context, f LoanFilter) ([]posdata.Loan, error) {
	return r.list(ctx, loanQuery(f))
}

func (r *Loans) Watch(f LoanFilter) (*Watch[posdata.Loan], error) {
	return r.watch(loanQuery(f))
}

func loanQuery(f LoanFilter) localstore.Query {
	q := localstore.Query{OrderBy: "loan_date", Desc: true}
	if f.CustomerID != "" {
		q.Where = append(q.Where, localstore.Eq("customer_id", f.CustomerID))
	}
	if f.Status != "" {
		q.Where = append(q.Where, localstore.Eq("status", f.Status))
	}
	return q
}
