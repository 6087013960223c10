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

// Settings stores one configuration row per user, keyed by the user id.
type Settings struct {
	table[posdata.Settings]
}

type SettingsUpdate struct {
	BusinessName   *string        `json:"business_name,omitempty"`
	LogoURL        *string        `json:"logo_url,omitempty"`
	TaxRate        *posdata.Money `json:"tax_rate,omitempty"`
	CurrencySymbol *string        `json:"currency_symbol,omitempty"`
	ReceiptFooter  *string        `json:"receipt_footer,omitempty"`
}

// Get returns the settings of userID, or the defaults when none are stored.
func (r *Settings) Get(ctx context.Context, userID string) (*posdata.Settings, error) {
	s, err := r.get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return posdata.DefaultSettings(userID), nil
	}
	return s, err
}

// Save applies u to the settings of userID. Settings that exist only as
// local defaults are inserted in full so the remote store gets a complete row.
func (r *Settings) Save(ctx context.Context, userID string, u SettingsUpdate) (*posdata.Settings, error) {
	if userID == "" {
		return nil, errors.New("settings require a user id")
	}
	cur, err := r.get(ctx, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if cur != nil && (cur.Synced || cur.LastModified != 0) {
		return r.update(ctx, userID, u)
	}

	s := posdata.DefaultSettings(userID)
	if cur != nil {
		s = cur
	}
	apply(s, u)
	if _, err := r.queue.Enqueue(ctx, r.kind, possync.OpInsert, s); err != nil {
		return nil, fmt.Errorf("failed to save settings: %w", err)
	}
	return r.get(ctx, userID)
}

func apply(s *posdata.Settings, u SettingsUpdate) {
	if u.BusinessName != nil {
		s.BusinessName = *u.BusinessName
	}
	if u.LogoURL != nil {
		s.LogoURL = *u.LogoURL
	}
	if u.TaxRate != nil {
		s.TaxRate = *u.TaxRate
	}
	if u.CurrencySymbol != nil {
		s.CurrencySymbol = *u.CurrencySymbol
	}
	if u.ReceiptFooter != nil {
		s.ReceiptFooter = *u.ReceiptFooter
	}
}

// Watch follows the settings row of userID.
func (r *Settings) Watch(userID string) (*Watch[posdata.Settings], error) {
	return r.watch(localstore.Query{Where: []localstore.Cond{localstore.Eq("id", userID)}})
}
