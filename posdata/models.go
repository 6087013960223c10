// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package posdata

import (
	"time"

	"github.com/google/uuid"
)

// Envelope carries the local sync bookkeeping every cached entity has.
// LastModified is stamped by the operation queue (local writes) or derived
// from the remote updated_at (pulled rows), never by callers.
type Envelope struct {
	ID           string `json:"id"`
	Synced       bool   `json:"synced"`
	LastModified int64  `json:"lastModified"`
	UpdatedAt    string `json:"updated_at,omitempty"`
}

// NewID returns a fresh client-generated entity id.
func NewID() string { return uuid.NewString() }

// NowISO formats t the way entity timestamps are stored.
func NowISO(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

type Product struct {
	Envelope
	Name              string  `json:"name"`
	Description       *string `json:"description,omitempty"`
	Barcode           *string `json:"barcode,omitempty"`
	RetailPrice       Money   `json:"retail_price"`
	CostPrice         Money   `json:"cost_price"`
	StockQuantity     int64   `json:"stock_quantity"`
	LowStockThreshold int64   `json:"low_stock_threshold"`
	CategoryID        *string `json:"category_id"`
	UserID            string  `json:"user_id"`
}

// LowStock reports whether the product is at or below its threshold.
func (p *Product) LowStock() bool { return p.StockQuantity <= p.LowStockThreshold }

type ProductVariant struct {
	Envelope
	ProductID       string  `json:"product_id"`
	VariantName     string  `json:"variant_name"`
	SKU             *string `json:"sku,omitempty"`
	PriceAdjustment Money   `json:"price_adjustment"`
	StockQuantity   int64   `json:"stock_quantity"`
	IsActive        bool    `json:"is_active"`
	UserID          string  `json:"user_id"`
}

// Price is the selling price of the variant given its parent product.
func (v *ProductVariant) Price(parent *Product) Money {
	return parent.RetailPrice.Add(v.PriceAdjustment)
}

type Category struct {
	Envelope
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Color       string  `json:"color"`
	UserID      string  `json:"user_id"`
}

type Customer struct {
	Envelope
	Name    string  `json:"name"`
	Email   *string `json:"email,omitempty"`
	Phone   *string `json:"phone,omitempty"`
	Address *string `json:"address,omitempty"`
	Notes   *string `json:"notes,omitempty"`
	UserID  string  `json:"user_id"`
}

type Sale struct {
	Envelope
	UserID         string  `json:"user_id"`
	CustomerID     *string `json:"customer_id"`
	TotalAmount    Money   `json:"total_amount"`
	Subtotal       Money   `json:"subtotal"`
	TaxAmount      Money   `json:"tax_amount"`
	DiscountAmount Money   `json:"discount_amount"`
	AmountPaid     Money   `json:"amount_paid"`
	ChangeAmount   Money   `json:"change_amount"`
	PaymentMethod  string  `json:"payment_method"`
	ReceiptNumber  string  `json:"receipt_number"`
	Notes          *string `json:"notes,omitempty"`
	CreatedAt      string  `json:"created_at"`
}

// IsReturn reports whether the sale records a refund.
func (s *Sale) IsReturn() bool { return s.TotalAmount.IsNegative() }

// SaleItem is one line of a sale. ProductID always names the parent product;
// the sold variant, if any, is carried separately.
type SaleItem struct {
	Envelope
	SaleID      string  `json:"sale_id"`
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	Quantity    int64   `json:"quantity"`
	UnitPrice   Money   `json:"unit_price"`
	Subtotal    Money   `json:"subtotal"`
	VariantID   *string `json:"variant_id,omitempty"`
	VariantName *string `json:"variant_name,omitempty"`
}

// Loan statuses.
const (
	LoanActive  = "active"
	LoanPaid    = "paid"
	LoanOverdue = "overdue"
)

type Loan struct {
	Envelope
	CustomerID       string  `json:"customer_id"`
	ProductID        *string `json:"product_id,omitempty"`
	VariantID        *string `json:"variant_id,omitempty"`
	LoanAmount       Money   `json:"loan_amount"`
	AmountPaid       Money   `json:"amount_paid"`
	RemainingBalance Money   `json:"remaining_balance"`
	LoanDate         string  `json:"loan_date"`
	DueDate          *string `json:"due_date,omitempty"`
	Status           string  `json:"status"`
	Notes            *string `json:"notes,omitempty"`
	UserID           string  `json:"user_id"`
}

// Settings is the per-user store configuration. Its id equals the user id.
type Settings struct {
	Envelope
	UserID         string `json:"user_id"`
	BusinessName   string `json:"business_name"`
	LogoURL        string `json:"logo_url"`
	TaxRate        Money  `json:"tax_rate"`
	CurrencySymbol string `json:"currency_symbol"`
	ReceiptFooter  string `json:"receipt_footer"`
}

// DefaultSettings is the configuration used until the user saves their own.
func DefaultSettings(userID string) *Settings {
	return &Settings{
		Envelope:       Envelope{ID: userID},
		UserID:         userID,
		BusinessName:   "My Store",
		LogoURL:        "",
		TaxRate:        MoneyFromInt(0),
		CurrencySymbol: "$",
		ReceiptFooter:  "Thank you for your business!",
	}
}

// CartLine is one line of a held cart.
type CartLine struct {
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	VariantID   *string `json:"variant_id,omitempty"`
	VariantName *string `json:"variant_name,omitempty"`
	Quantity    int64   `json:"quantity"`
	UnitPrice   Money   `json:"unit_price"`
}

// CartSnapshot is the serialized content of a held cart.
type CartSnapshot struct {
	Items    []CartLine `json:"items"`
	Discount Money      `json:"discount"`
}

type HeldCart struct {
	Envelope
	UserID    string       `json:"user_id"`
	CartName  string       `json:"cart_name"`
	CartData  CartSnapshot `json:"cart_data"`
	CreatedAt string       `json:"created_at"`
}

// UserProfile is the locally cached identity of the signed-in user.
type UserProfile struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Identity is the authenticated user every sync cycle is scoped to.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}
