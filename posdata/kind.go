// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package posdata holds the entity model shared by the local store, the
// repositories and the sync engine: entity kinds, their push tiers, the
// cached entity documents and the mapping to remote rows.
package posdata

import "fmt"

// Kind identifies a synchronized entity type. Its string value is the local
// table name and is what the operation queue persists.
type Kind string

const (
	KindProduct  Kind = "products"
	KindVariant  Kind = "product_variants"
	KindCategory Kind = "categories"
	KindCustomer Kind = "customers"
	KindSale     Kind = "sales"
	KindSaleItem Kind = "sale_items"
	KindLoan     Kind = "loans"
	KindSettings Kind = "settings"
	KindHeldCart Kind = "held_carts"
)

// TierUnknown is assigned to kinds the engine does not recognize so they push last.
const TierUnknown = 99

// Kinds lists every known kind in declaration order.
var Kinds = []Kind{
	KindProduct, KindVariant, KindCategory, KindCustomer, KindSale,
	KindSaleItem, KindLoan, KindSettings, KindHeldCart,
}

// ParseKind converts a persisted tag back into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return k, fmt.Errorf("unknown entity kind %q", s)
	}
	return k, nil
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindProduct, KindVariant, KindCategory, KindCustomer, KindSale,
		KindSaleItem, KindLoan, KindSettings, KindHeldCart:
		return true
	}
	return false
}

// Tier is the push priority of a kind. Lower tiers push first.
func (k Kind) Tier() int {
	switch k {
	case KindProduct, KindCustomer, KindCategory, KindSettings, KindHeldCart:
		return 1
	case KindVariant:
		return 2
	case KindSale:
		return 3
	case KindSaleItem, KindLoan:
		return 4
	default:
		return TierUnknown
	}
}

// LocalTable is the Local Store table backing the kind.
func (k Kind) LocalTable() string { return string(k) }

// RemoteTable is the table name used by the remote data store.
func (k Kind) RemoteTable() string {
	switch k {
	case KindLoan:
		return "customer_loans"
	default:
		return string(k)
	}
}

// KindForRemoteTable resolves a remote table name to its kind.
func KindForRemoteTable(table string) (Kind, bool) {
	for _, k := range Kinds {
		if k.RemoteTable() == table {
			return k, true
		}
	}
	return "", false
}

// Parents lists the reference fields of k together with the kind each one
// points at. Only references the remote store enforces are listed.
func (k Kind) Parents() []ParentRef {
	switch k {
	case KindVariant:
		return []ParentRef{{Field: "product_id", Kind: KindProduct}}
	case KindSale:
		return []ParentRef{{Field: "customer_id", Kind: KindCustomer}}
	case KindSaleItem:
		return []ParentRef{{Field: "product_id", Kind: KindProduct}, {Field: "sale_id", Kind: KindSale}}
	case KindLoan:
		return []ParentRef{{Field: "customer_id", Kind: KindCustomer}}
	case KindProduct:
		return []ParentRef{{Field: "category_id", Kind: KindCategory}}
	default:
		return nil
	}
}

// ParentRef names a reference field and the kind it refers to.
type ParentRef struct {
	Field string
	Kind  Kind
}

// Pulled reports whether remote rows of k are pulled into the local store.
// The other kinds are push-only.
func (k Kind) Pulled() bool {
	switch k {
	case KindProduct, KindCategory, KindCustomer, KindSettings, KindVariant, KindLoan:
		return true
	default:
		return false
	}
}

// PulledKinds lists the kinds refreshed by the pull phase.
func PulledKinds() []Kind {
	var out []Kind
	for _, k := range Kinds {
		if k.Pulled() {
			out = append(out, k)
		}
	}
	return out
}

func (k Kind) String() string { return string(k) }
