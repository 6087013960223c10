// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package posdata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// localOnlyFields never leave the device. updated_at is owned by the remote
// store and remaining_balance is derived there from the loan amounts.
var localOnlyFields = []string{"synced", "lastModified", "updated_at", "errorMessage", "remaining_balance"}

// DecodeDocument decodes a JSON object keeping numbers exact.
func DecodeDocument(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("document is not a JSON object")
	}
	return doc, nil
}

// ToRemote converts a queued payload into the row sent to the remote store.
func ToRemote(kind Kind, data json.RawMessage) (map[string]any, error) {
	row, err := DecodeDocument(data)
	if err != nil {
		return nil, err
	}
	for _, f := range localOnlyFields {
		delete(row, f)
	}
	if kind == KindSaleItem {
		if v, ok := row["subtotal"]; ok {
			row["total_price"] = v
			delete(row, "subtotal")
		}
	}
	return row, nil
}

// FromRemote converts a pulled remote row into a local document marked as
// synced, with lastModified taken from the row's updated_at.
func FromRemote(kind Kind, row map[string]any) (json.RawMessage, int64, error) {
	doc := make(map[string]any, len(row)+2)
	for k, v := range row {
		doc[k] = v
	}
	switch kind {
	case KindSaleItem:
		if v, ok := doc["total_price"]; ok {
			doc["subtotal"] = v
			delete(doc, "total_price")
		}
	case KindSettings:
		if uid, ok := doc["user_id"]; ok {
			doc["id"] = uid
		}
	case KindLoan:
		amount, err := moneyOf(doc["loan_amount"])
		if err != nil {
			return nil, 0, err
		}
		paid, err := moneyOf(doc["amount_paid"])
		if err != nil {
			return nil, 0, err
		}
		doc["remaining_balance"] = amount.Sub(paid)
	}

	var lastModified int64
	for _, field := range []string{"updated_at", "created_at"} {
		s, ok := doc[field].(string)
		if !ok || s == "" {
			continue
		}
		t, err := ParseTimestamp(s)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid %s %q: %w", field, s, err)
		}
		lastModified = t.UnixMilli()
		break
	}
	doc["lastModified"] = lastModified
	doc["synced"] = true

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to encode %s row: %w", kind, err)
	}
	return out, lastModified, nil
}

// Stamp marks a payload as a local, not yet synced mutation made at now.
func Stamp(data json.RawMessage, now time.Time) (json.RawMessage, error) {
	doc, err := DecodeDocument(data)
	if err != nil {
		return nil, err
	}
	doc["lastModified"] = now.UnixMilli()
	doc["synced"] = false
	return json.Marshal(doc)
}

// StringField returns doc[field] when it holds a non-empty string.
func StringField(doc map[string]any, field string) (string, bool) {
	s, ok := doc[field].(string)
	return s, ok && s != ""
}

func moneyOf(v any) (Money, error) {
	switch n := v.(type) {
	case nil:
		return MoneyFromInt(0), nil
	case json.Number:
		return ParseMoney(n.String())
	case string:
		return ParseMoney(n)
	case float64:
		return NewMoney(n), nil
	case int:
		return MoneyFromInt(int64(n)), nil
	case int64:
		return MoneyFromInt(n), nil
	case Money:
		return n, nil
	default:
		return ParseMoney(fmt.Sprint(n))
	}
}
