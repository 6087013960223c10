// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package possync

import "sort"

// SortByDependency orders entries for push: parent tiers first, unknown
// kinds last, enqueue order kept within a tier. The input is not modified.
func SortByDependency(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Kind.Tier() < out[j].Kind.Tier()
	})
	return out
}
