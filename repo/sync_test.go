package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mobiletoly/go-offlinepos/localstore"
	"github.com/mobiletoly/go-offlinepos/posdata"
	"github.com/mobiletoly/go-offlinepos/possync"
	"github.com/mobiletoly/go-offlinepos/remote"
)

func TestOfflineCheckoutReachesRemoteStore(t *testing.T) {
	ctx := context.Background()
	store, err := localstore.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	rs := remote.NewMemoryStore()
	q := possync.NewQueue(store, nil)
	r := New(q)
	orch := possync.NewOrchestrator(store, q, rs,
		possync.StaticIdentity{Identity: &posdata.Identity{ID: testUser}}, possync.DefaultConfig(), nil)

	seedProduct(t, r, "shirt", "Shirt", 20, 10)
	large := &posdata.ProductVariant{ProductID: "shirt", VariantName: "L", StockQuantity: 3, UserID: testUser}
	require.NoError(t, r.Variants.Create(ctx, large))
	customer := &posdata.Customer{Name: "Ann", UserID: testUser}
	require.NoError(t, r.Customers.Create(ctx, customer))

	receipt, err := r.Sales.Checkout(ctx, CheckoutRequest{
		UserID:     testUser,
		CustomerID: &customer.ID,
		Lines:      []CheckoutLine{{ProductID: large.ID, Quantity: 1}, {ProductID: "shirt", Quantity: 2}},
	})
	require.NoError(t, err)

	report, err := orch.SyncNow(ctx, false)
	require.NoError(t, err)
	require.Zero(t, report.Failed)
	require.Empty(t, queued(t, q))

	items := rs.Rows(posdata.KindSaleItem.RemoteTable())
	require.Len(t, items, 2)
	for _, it := range items {
		require.Equal(t, "shirt", it["product_id"])
		require.Equal(t, receipt.Sale.ID, it["sale_id"])
	}
	require.Len(t, rs.Rows(posdata.KindSale.RemoteTable()), 1)

	shirt, err := r.Products.Get(ctx, "shirt")
	require.NoError(t, err)
	require.EqualValues(t, 8, shirt.StockQuantity)
	require.True(t, shirt.Synced)

	sale, err := r.Sales.Get(ctx, receipt.Sale.ID)
	require.NoError(t, err)
	require.True(t, sale.Synced)
}
