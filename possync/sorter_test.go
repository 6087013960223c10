package possync

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mobiletoly/go-offlinepos/posdata"
)

func TestSortPlacesProductBeforeSaleItem(t *testing.T) {
	entries := []Entry{
		{ID: 1, Kind: posdata.KindSaleItem, RecordID: "si-1"},
		{ID: 2, Kind: posdata.KindProduct, RecordID: "p2"},
	}
	sorted := SortByDependency(entries)
	require.Equal(t, "p2", sorted[0].RecordID)
	require.Equal(t, "si-1", sorted[1].RecordID)
	require.Equal(t, posdata.KindSaleItem, entries[0].Kind, "input must not be reordered")
}

func TestSortIsStableWithinTierAndUnknownLast(t *testing.T) {
	entries := []Entry{
		{ID: 1, Kind: posdata.Kind("mystery")},
		{ID: 2, Kind: posdata.KindLoan},
		{ID: 3, Kind: posdata.KindSale},
		{ID: 4, Kind: posdata.KindCustomer},
		{ID: 5, Kind: posdata.KindVariant},
		{ID: 6, Kind: posdata.KindProduct},
		{ID: 7, Kind: posdata.KindSaleItem},
	}
	var ids []int64
	for _, e := range SortByDependency(entries) {
		ids = append(ids, e.ID)
	}
	require.Equal(t, []int64{4, 6, 5, 3, 2, 7, 1}, ids)
}

func TestSortDependenciesAlwaysPrecedeDependents(t *testing.T) {
	kinds := []posdata.Kind{
		posdata.KindSaleItem, posdata.KindLoan, posdata.KindSale, posdata.KindVariant,
		posdata.KindProduct, posdata.KindCustomer, posdata.KindCategory, posdata.KindSettings,
	}
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		n := 2 + rng.Intn(12)
		entries := make([]Entry, n)
		for i := range entries {
			entries[i] = Entry{ID: int64(i + 1), Kind: kinds[rng.Intn(len(kinds))]}
		}
		sorted := SortByDependency(entries)
		require.Len(t, sorted, n)
		for i := 1; i < len(sorted); i++ {
			prev, cur := sorted[i-1], sorted[i]
			require.LessOrEqual(t, prev.Kind.Tier(), cur.Kind.Tier())
			if prev.Kind.Tier() == cur.Kind.Tier() {
				require.Less(t, prev.ID, cur.ID, "enqueue order within a tier")
			}
		}
		// every dependent comes after each of its parents
		pos := map[posdata.Kind]int{}
		for i, e := range sorted {
			if _, ok := pos[e.Kind]; !ok {
				pos[e.Kind] = i
			}
		}
		for i, e := range sorted {
			for _, ref := range e.Kind.Parents() {
				if p, ok := pos[ref.Kind]; ok && ref.Kind.Tier() < e.Kind.Tier() {
					require.Less(t, p, i)
				}
			}
		}
	}
}
