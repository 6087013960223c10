package posdata

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindTiers(t *testing.T) {
	require.Equal(t, 1, KindProduct.Tier())
	require.Equal(t, 1, KindCustomer.Tier())
	require.Equal(t, 1, KindCategory.Tier())
	require.Equal(t, 1, KindSettings.Tier())
	require.Equal(t, 2, KindVariant.Tier())
	require.Equal(t, 3, KindSale.Tier())
	require.Equal(t, 4, KindSaleItem.Tier())
	require.Equal(t, 4, KindLoan.Tier())
	require.Equal(t, TierUnknown, Kind("heldCartsV0").Tier())
}

func TestEveryKindHasTierAndTables(t *testing.T) {
	for _, k := range Kinds {
		require.True(t, k.Valid(), k)
		require.Less(t, k.Tier(), TierUnknown, "kind %s has no tier", k)
		require.NotEmpty(t, k.LocalTable())
		require.NotEmpty(t, k.RemoteTable())
	}
}

func TestParentsHaveLowerOrEqualTier(t *testing.T) {
	for _, k := range Kinds {
		for _, p := range k.Parents() {
			require.LessOrEqual(t, p.Kind.Tier(), k.Tier(), "%s references %s", k, p.Kind)
		}
	}
}

func TestRemoteTableMapping(t *testing.T) {
	require.Equal(t, "customer_loans", KindLoan.RemoteTable())
	require.Equal(t, "loans", KindLoan.LocalTable())
	require.Equal(t, "sale_items", KindSaleItem.RemoteTable())

	k, ok := KindForRemoteTable("customer_loans")
	require.True(t, ok)
	require.Equal(t, KindLoan, k)

	_, ok = KindForRemoteTable("loans")
	require.False(t, ok)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("product_variants")
	require.NoError(t, err)
	require.Equal(t, KindVariant, k)

	_, err = ParseKind("productVariants")
	require.Error(t, err)
}
