package localstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mobiletoly/go-offlinepos/posdata"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func doc(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestInitializeDatabaseCreatesTables(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"products", "product_variants", "sale_items", "loans", QueueTable, "_session_profile"} {
		var n int
		err := s.DB().QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n)
		require.NoError(t, err)
		require.Equal(t, 1, n, "table %s should exist", name)
	}
	var n int
	err := s.DB().QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name='idx_sale_items_sale_id'`).Scan(&n)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestPutGetPatchDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	table := posdata.KindProduct.LocalTable()

	p := posdata.Product{Envelope: posdata.Envelope{ID: "p-1", LastModified: 10}, Name: "Tea", StockQuantity: 10}
	require.NoError(t, s.Put(ctx, table, doc(t, p)))

	rec, err := s.Get(ctx, table, "p-1")
	require.NoError(t, err)
	require.Equal(t, int64(10), rec.LastModified)
	require.False(t, rec.Synced)

	rec, err = s.Patch(ctx, table, "p-1", json.RawMessage(`{"stock_quantity":7,"synced":true,"lastModified":20}`))
	require.NoError(t, err)
	require.True(t, rec.Synced)
	require.Equal(t, int64(20), rec.LastModified)

	var got posdata.Product
	require.NoError(t, rec.Decode(&got))
	require.Equal(t, int64(7), got.StockQuantity)
	require.Equal(t, "Tea", got.Name)

	_, err = s.Patch(ctx, table, "missing", json.RawMessage(`{"name":"x"}`))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Delete(ctx, table, "p-1"))
	_, err = s.Get(ctx, table, "p-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPutRejectsUnknownTableAndMissingID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.Error(t, s.Put(ctx, "products; DROP TABLE x", json.RawMessage(`{"id":"a"}`)))
	require.Error(t, s.Put(ctx, "products", json.RawMessage(`{"name":"no id"}`)))
}

func TestQueryFiltersOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	table := posdata.KindVariant.LocalTable()

	docs := []json.RawMessage{
		doc(t, posdata.ProductVariant{Envelope: posdata.Envelope{ID: "v1"}, ProductID: "p1", VariantName: "Large", IsActive: true}),
		doc(t, posdata.ProductVariant{Envelope: posdata.Envelope{ID: "v2"}, ProductID: "p1", VariantName: "Small", IsActive: false}),
		doc(t, posdata.ProductVariant{Envelope: posdata.Envelope{ID: "v3"}, ProductID: "p1", VariantName: "Medium", IsActive: true}),
		doc(t, posdata.ProductVariant{Envelope: posdata.Envelope{ID: "v4"}, ProductID: "p2", VariantName: "Any", IsActive: true}),
	}
	require.NoError(t, s.BulkPut(ctx, table, docs))

	recs, err := s.Query(ctx, table, Query{
		Where:   []Cond{Eq("product_id", "p1"), Eq("is_active", true)},
		OrderBy: "variant_name",
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "v1", recs[0].ID)
	require.Equal(t, "v3", recs[1].ID)

	recs, err = s.Query(ctx, table, Query{OrderBy: "variant_name", Desc: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "v2", recs[0].ID)

	recs, err = s.Query(ctx, table, Query{
		Match: func(r Record) bool { return r.ID != "v1" },
		Limit: 2,
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "v2", recs[0].ID)

	_, err = s.Query(ctx, table, Query{Where: []Cond{Eq("x') OR 1=1 --", 1)}})
	require.Error(t, err)
}

func TestQueryNullCondition(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	table := posdata.KindProduct.LocalTable()
	cat := "c-1"
	require.NoError(t, s.Put(ctx, table, doc(t, posdata.Product{Envelope: posdata.Envelope{ID: "a"}, CategoryID: &cat})))
	require.NoError(t, s.Put(ctx, table, doc(t, posdata.Product{Envelope: posdata.Envelope{ID: "b"}})))

	recs, err := s.Query(ctx, table, Query{Where: []Cond{Eq("category_id", nil)}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "b", recs[0].ID)
}

func TestMaxLastModifiedAndDeleteWhere(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	table := posdata.KindSale.LocalTable()

	mark, err := s.MaxLastModified(ctx, table)
	require.NoError(t, err)
	require.Zero(t, mark)

	require.NoError(t, s.BulkPut(ctx, table, []json.RawMessage{
		doc(t, posdata.Sale{Envelope: posdata.Envelope{ID: "old", LastModified: 100, Synced: true}}),
		doc(t, posdata.Sale{Envelope: posdata.Envelope{ID: "old-unsynced", LastModified: 100}}),
		doc(t, posdata.Sale{Envelope: posdata.Envelope{ID: "new", LastModified: 500, Synced: true}}),
	}))

	mark, err = s.MaxLastModified(ctx, table)
	require.NoError(t, err)
	require.Equal(t, int64(500), mark)

	ids, err := s.DeleteWhere(ctx, table, Cond{Field: "lastModified", Op: OpLt, Value: 200}, Eq("synced", true))
	require.NoError(t, err)
	require.Equal(t, []string{"old"}, ids)

	n, err := s.Count(ctx, table)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestWithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	table := posdata.KindCustomer.LocalTable()

	err := s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.Put(ctx, table, json.RawMessage(`{"id":"c-1","name":"Ann"}`)); err != nil {
			return err
		}
		_, err := tx.AppendQueue(ctx, &QueueRow{Table: table, RecordID: "c-1", Operation: "bogus", Data: json.RawMessage(`{}`), Status: "pending"})
		return err
	})
	require.Error(t, err)

	_, err = s.Get(ctx, table, "c-1")
	require.ErrorIs(t, err, ErrNotFound)
	rows, err := s.QueueRows(ctx)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestQueueRows(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i, status := range []string{"pending", "failed", "syncing"} {
		_, err := s.AppendQueue(ctx, &QueueRow{
			Table: "products", RecordID: "p", Operation: "insert",
			Data: json.RawMessage(`{"id":"p"}`), Timestamp: int64(i), Status: status,
		})
		require.NoError(t, err)
	}

	rows, err := s.QueueRows(ctx, "pending", "syncing")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Less(t, rows[0].ID, rows[1].ID)

	n, err := s.ResetQueueStatus(ctx, "failed")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	counts, err := s.QueueCounts(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, counts["pending"])
	require.Equal(t, 1, counts["syncing"])

	rows[0].Status = "failed"
	rows[0].RetryCount = 3
	rows[0].ErrorMessage = "boom"
	require.NoError(t, s.UpdateQueueRow(ctx, &rows[0]))
	got, err := s.QueueRow(ctx, rows[0].ID)
	require.NoError(t, err)
	require.Equal(t, 3, got.RetryCount)
	require.Equal(t, "boom", got.ErrorMessage)

	require.NoError(t, s.DeleteQueueRow(ctx, rows[0].ID))
	_, err = s.QueueRow(ctx, rows[0].ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestClearAllAndStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Put(ctx, "products", json.RawMessage(`{"id":"p-1","synced":false}`)))
	require.NoError(t, s.Put(ctx, "customers", json.RawMessage(`{"id":"c-1","synced":true}`)))
	_, err := s.AppendQueue(ctx, &QueueRow{Table: "products", RecordID: "p-1", Operation: "insert", Data: json.RawMessage(`{}`), Status: "pending"})
	require.NoError(t, err)
	require.NoError(t, s.SaveProfile(ctx, &posdata.UserProfile{ID: "u-1", Role: "admin"}))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, st.Rows[posdata.KindProduct])
	require.Equal(t, 1, st.Unsynced[posdata.KindProduct])
	require.Equal(t, 0, st.Unsynced[posdata.KindCustomer])
	require.Equal(t, 1, st.Queue["pending"])

	p, err := s.LoadProfile(ctx)
	require.NoError(t, err)
	require.Equal(t, "admin", p.Role)

	require.NoError(t, s.ClearAll(ctx))
	st, err = s.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, st.Rows[posdata.KindProduct])
	require.Empty(t, st.Queue)
	_, err = s.LoadProfile(ctx)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSubscriptionEmitsOnChange(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	table := posdata.KindCategory.LocalTable()

	sub, err := s.Subscribe(table, Query{OrderBy: "name"})
	require.NoError(t, err)
	defer sub.Close()

	first := receive(t, sub)
	require.Empty(t, first)

	require.NoError(t, s.Put(ctx, table, json.RawMessage(`{"id":"c-1","name":"Drinks"}`)))
	require.Eventually(t, func() bool {
		select {
		case recs := <-sub.C():
			return len(recs) == 1 && recs[0].ID == "c-1"
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubscriptionCloseEndsChannel(t *testing.T) {
	s := newTestStore(t)
	sub, err := s.Subscribe("products", Query{})
	require.NoError(t, err)
	sub.Close()
	for range sub.C() {
	}
	sub.Close()
}

func receive(t *testing.T, sub *Subscription) []Record {
	t.Helper()
	select {
	case recs := <-sub.C():
		return recs
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot received")
		return nil
	}
}

func TestMaxSyncedLastModifiedIgnoresLocalStamps(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.BulkPut(ctx, "products", []json.RawMessage{
		json.RawMessage(`{"id":"a","synced":true,"lastModified":100}`),
		json.RawMessage(`{"id":"b","synced":false,"lastModified":900}`),
	}))
	mark, err := s.MaxSyncedLastModified(ctx, "products")
	require.NoError(t, err)
	require.Equal(t, int64(100), mark)
}
