package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mobiletoly/go-offlinepos/localstore"
	"github.com/mobiletoly/go-offlinepos/posdata"
	"github.com/mobiletoly/go-offlinepos/possync"
)

const testUser = "user-1"

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func newTestRepos(t *testing.T) (*Repos, *possync.Queue) {
	t.Helper()
	store, err := localstore.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	q := possync.NewQueue(store, nil)
	q.SetClock(fixedClock{testNow})
	r := New(q)
	r.SetClock(fixedClock{testNow})
	return r, q
}

func requireMoney(t *testing.T, want string, got posdata.Money) {
	t.Helper()
	w, err := posdata.ParseMoney(want)
	require.NoError(t, err)
	require.Truef(t, w.Equal(got), "want %s, got %s", want, got)
}

func queued(t *testing.T, q *possync.Queue) []possync.Entry {
	t.Helper()
	all, err := q.Entries(context.Background())
	require.NoError(t, err)
	return all
}

func seedProduct(t *testing.T, r *Repos, id, name string, price, stock int64) {
	t.Helper()
	require.NoError(t, r.Products.Create(context.Background(), &posdata.Product{
		Envelope:      posdata.Envelope{ID: id},
		Name:          name,
		RetailPrice:   posdata.MoneyFromInt(price),
		StockQuantity: stock,
		UserID:        testUser,
	}))
}

func TestUpdateMissingRowFailsWithNotFound(t *testing.T) {
	ctx := context.Background()
	r, q := newTestRepos(t)

	name := "Ghost"
	updated, err := r.Products.Update(ctx, "nope", ProductUpdate{Name: &name})
	require.ErrorIs(t, err, ErrNotFound)
	require.Nil(t, updated)
	err = r.Customers.Delete(ctx, "nope")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = r.Categories.Get(ctx, "nope")
	require.ErrorIs(t, err, ErrNotFound)
	require.Empty(t, queued(t, q))
}

func TestUpdateReturnsStoredRow(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepos(t)

	require.NoError(t, r.Categories.Create(ctx, &posdata.Category{Envelope: posdata.Envelope{ID: "c1"}, Name: "Drinks", UserID: testUser}))
	name := "Hot drinks"
	cat, err := r.Categories.Update(ctx, "c1", CategoryUpdate{Name: &name})
	require.NoError(t, err)
	require.Equal(t, "Hot drinks", cat.Name)
	require.Equal(t, "#3b82f6", cat.Color)

	require.NoError(t, r.Customers.Create(ctx, &posdata.Customer{Envelope: posdata.Envelope{ID: "u1"}, Name: "Ann", UserID: testUser}))
	phone := "555"
	cust, err := r.Customers.Update(ctx, "u1", CustomerUpdate{Phone: &phone})
	require.NoError(t, err)
	require.Equal(t, "Ann", cust.Name)
	require.NotNil(t, cust.Phone)
	require.Equal(t, "555", *cust.Phone)

	seedProduct(t, r, "p1", "Shirt", 10, 5)
	v := &posdata.ProductVariant{ProductID: "p1", VariantName: "M", UserID: testUser}
	require.NoError(t, r.Variants.Create(ctx, v))
	stock := int64(3)
	got, err := r.Variants.Update(ctx, v.ID, VariantUpdate{StockQuantity: &stock})
	require.NoError(t, err)
	require.EqualValues(t, 3, got.StockQuantity)
	require.Equal(t, "M", got.VariantName)
	require.True(t, got.IsActive)
}

func TestProductCreateUpdateAndStock(t *testing.T) {
	ctx := context.Background()
	r, q := newTestRepos(t)

	p := &posdata.Product{Name: "Tea", RetailPrice: posdata.MoneyFromInt(4), StockQuantity: 10, UserID: testUser}
	require.NoError(t, r.Products.Create(ctx, p))
	require.NotEmpty(t, p.ID)

	price := posdata.NewMoney(4.5)
	updated, err := r.Products.Update(ctx, p.ID, ProductUpdate{RetailPrice: &price})
	require.NoError(t, err)
	requireMoney(t, "4.5", updated.RetailPrice)
	require.Equal(t, "Tea", updated.Name)
	require.False(t, updated.Synced)
	require.NoError(t, r.Products.AdjustStock(ctx, p.ID, -3))

	got, err := r.Products.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "Tea", got.Name)
	requireMoney(t, "4.5", got.RetailPrice)
	require.EqualValues(t, 7, got.StockQuantity)
	require.False(t, got.Synced)

	entries := queued(t, q)
	require.Len(t, entries, 3)
	require.Equal(t, possync.OpInsert, entries[0].Op)
	require.Equal(t, possync.OpUpdate, entries[1].Op)
	require.Equal(t, possync.OpUpdate, entries[2].Op)
}

func TestProductsByCategoryAndJoin(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepos(t)

	drinks := &posdata.Category{Envelope: posdata.Envelope{ID: "c1"}, Name: "Drinks", Color: "#ff0000", UserID: testUser}
	require.NoError(t, r.Categories.Create(ctx, drinks))
	cat := "c1"
	require.NoError(t, r.Products.Create(ctx, &posdata.Product{Envelope: posdata.Envelope{ID: "p1"}, Name: "Tea", CategoryID: &cat, UserID: testUser}))
	require.NoError(t, r.Products.Create(ctx, &posdata.Product{Envelope: posdata.Envelope{ID: "p2"}, Name: "Bag", UserID: testUser}))

	inCat, err := r.Products.ListByCategory(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, inCat, 1)
	require.Equal(t, "p1", inCat[0].ID)

	none, err := r.Products.ListByCategory(ctx, "")
	require.NoError(t, err)
	require.Len(t, none, 1)
	require.Equal(t, "p2", none[0].ID)

	joined, err := r.Products.WithCategory(ctx)
	require.NoError(t, err)
	require.Len(t, joined, 2)
	require.Equal(t, "Bag", joined[0].Name)
	require.Empty(t, joined[0].CategoryName)
	require.Equal(t, "Drinks", joined[1].CategoryName)
	require.Equal(t, "#ff0000", joined[1].CategoryColor)

	cleared, err := r.Products.Update(ctx, "p1", ProductUpdate{ClearCategory: true})
	require.NoError(t, err)
	require.Nil(t, cleared.CategoryID)
	none, err = r.Products.ListByCategory(ctx, "")
	require.NoError(t, err)
	require.Len(t, none, 2)
}

func TestLowStock(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepos(t)
	seedProduct(t, r, "p1", "Tea", 1, 2)
	seedProduct(t, r, "p2", "Rice", 1, 50)
	threshold := int64(5)
	for _, id := range []string{"p1", "p2"} {
		_, err := r.Products.Update(ctx, id, ProductUpdate{LowStockThreshold: &threshold})
		require.NoError(t, err)
	}

	low, err := r.Products.LowStock(ctx)
	require.NoError(t, err)
	require.Len(t, low, 1)
	require.Equal(t, "p1", low[0].ID)
}

func TestVariantDeleteIsSoft(t *testing.T) {
	ctx := context.Background()
	r, q := newTestRepos(t)
	seedProduct(t, r, "p1", "Shirt", 20, 0)

	small := &posdata.ProductVariant{ProductID: "p1", VariantName: "S", UserID: testUser}
	large := &posdata.ProductVariant{ProductID: "p1", VariantName: "L", UserID: testUser}
	require.NoError(t, r.Variants.Create(ctx, small))
	require.NoError(t, r.Variants.Create(ctx, large))

	list, err := r.Variants.ListForProduct(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "L", list[0].VariantName)

	require.NoError(t, r.Variants.Delete(ctx, small.ID))
	list, err = r.Variants.ListForProduct(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	v, err := r.Variants.Get(ctx, small.ID)
	require.NoError(t, err)
	require.False(t, v.IsActive)
	for _, e := range queued(t, q) {
		require.NotEqual(t, possync.OpDelete, e.Op)
	}

	err = r.Variants.Create(ctx, &posdata.ProductVariant{ProductID: "missing", VariantName: "M"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLoanPaymentSettlesBalance(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepos(t)
	require.NoError(t, r.Customers.Create(ctx, &posdata.Customer{Envelope: posdata.Envelope{ID: "c1"}, Name: "Ann", UserID: testUser}))

	loan := &posdata.Loan{
		CustomerID: "c1",
		LoanAmount: posdata.MoneyFromInt(1000),
		AmountPaid: posdata.MoneyFromInt(200),
		UserID:     testUser,
	}
	require.NoError(t, r.Loans.Create(ctx, loan))
	got, err := r.Loans.Get(ctx, loan.ID)
	require.NoError(t, err)
	requireMoney(t, "800", got.RemainingBalance)
	require.Equal(t, posdata.LoanActive, got.Status)

	paid, err := r.Loans.RecordPayment(ctx, loan.ID, posdata.MoneyFromInt(800))
	require.NoError(t, err)
	requireMoney(t, "0", paid.RemainingBalance)
	require.Equal(t, posdata.LoanPaid, paid.Status)
	got, err = r.Loans.Get(ctx, loan.ID)
	require.NoError(t, err)
	require.Equal(t, posdata.LoanPaid, got.Status)

	_, err = r.Loans.RecordPayment(ctx, loan.ID, posdata.MoneyFromInt(0))
	require.ErrorIs(t, err, ErrInvalidPayment)
}

func TestLoanUpdateKeepsBalanceDerived(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepos(t)

	loan := &posdata.Loan{CustomerID: "c1", LoanAmount: posdata.MoneyFromInt(500), AmountPaid: posdata.MoneyFromInt(100), UserID: testUser}
	require.NoError(t, r.Loans.Create(ctx, loan))

	for _, amount := range []int64{300, 100, 50} {
		a := posdata.MoneyFromInt(amount)
		got, err := r.Loans.Update(ctx, loan.ID, LoanUpdate{LoanAmount: &a})
		require.NoError(t, err)
		requireMoney(t, a.String(), got.LoanAmount)
		require.True(t, got.RemainingBalance.Equal(got.LoanAmount.Sub(got.AmountPaid)))
		require.Equal(t, got.RemainingBalance.LessOrEqualZero(), got.Status == posdata.LoanPaid)
	}
}

func TestMarkOverdueAndFilter(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepos(t)

	past := "2025-05-01"
	future := "2025-07-01"
	older := &posdata.Loan{CustomerID: "c1", LoanAmount: posdata.MoneyFromInt(10), DueDate: &future, LoanDate: "2025-04-01", UserID: testUser}
	newer := &posdata.Loan{CustomerID: "c2", LoanAmount: posdata.MoneyFromInt(10), DueDate: &future, LoanDate: "2025-04-15", UserID: testUser}
	require.NoError(t, r.Loans.Create(ctx, older))
	require.NoError(t, r.Loans.Create(ctx, newer))

	all, err := r.Loans.List(ctx, LoanFilter{})
	require.NoError(t, err)
	require.Equal(t, newer.ID, all[0].ID)

	got, err := r.Loans.Update(ctx, older.ID, LoanUpdate{DueDate: &past})
	require.NoError(t, err)
	require.Equal(t, posdata.LoanOverdue, got.Status)

	n, err := r.Loans.MarkOverdue(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	r.SetClock(fixedClock{time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)})
	n, err = r.Loans.MarkOverdue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	overdue, err := r.Loans.List(ctx, LoanFilter{Status: posdata.LoanOverdue})
	require.NoError(t, err)
	require.Len(t, overdue, 2)
	mine, err := r.Loans.List(ctx, LoanFilter{CustomerID: "c2"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, newer.ID, mine[0].ID)
}

func TestSettingsDefaultsThenSave(t *testing.T) {
	ctx := context.Background()
	r, q := newTestRepos(t)

	s, err := r.Settings.Get(ctx, testUser)
	require.NoError(t, err)
	require.Equal(t, "My Store", s.BusinessName)
	require.Empty(t, queued(t, q))

	name := "Corner Shop"
	s, err = r.Settings.Save(ctx, testUser, SettingsUpdate{BusinessName: &name})
	require.NoError(t, err)
	require.Equal(t, "Corner Shop", s.BusinessName)
	require.Equal(t, "$", s.CurrencySymbol)

	rate := posdata.MoneyFromInt(11)
	s, err = r.Settings.Save(ctx, testUser, SettingsUpdate{TaxRate: &rate})
	require.NoError(t, err)
	requireMoney(t, "11", s.TaxRate)
	require.Equal(t, "Corner Shop", s.BusinessName)

	entries := queued(t, q)
	require.Len(t, entries, 2)
	require.Equal(t, possync.OpInsert, entries[0].Op)
	require.Equal(t, possync.OpUpdate, entries[1].Op)
	require.Equal(t, testUser, entries[0].RecordID)
}

func TestHeldCartResumeRemovesIt(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepos(t)

	_, err := r.HeldCarts.Hold(ctx, testUser, "empty", posdata.CartSnapshot{})
	require.ErrorIs(t, err, ErrEmptyCart)

	cart := posdata.CartSnapshot{
		Items:    []posdata.CartLine{{ProductID: "p1", ProductName: "Tea", Quantity: 2, UnitPrice: posdata.MoneyFromInt(3)}},
		Discount: posdata.MoneyFromInt(1),
	}
	hc, err := r.HeldCarts.Hold(ctx, testUser, "Table 4", cart)
	require.NoError(t, err)

	list, err := r.HeldCarts.List(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "Table 4", list[0].CartName)

	snap, err := r.HeldCarts.Resume(ctx, hc.ID)
	require.NoError(t, err)
	require.Len(t, snap.Items, 1)
	require.EqualValues(t, 2, snap.Items[0].Quantity)
	requireMoney(t, "1", snap.Discount)

	list, err = r.HeldCarts.List(ctx, testUser)
	require.NoError(t, err)
	require.Empty(t, list)
	_, err = r.HeldCarts.Resume(ctx, hc.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestWatchDeliversChanges(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepos(t)

	w, err := r.Products.Watch()
	require.NoError(t, err)
	defer w.Close()

	first := <-w.C()
	require.Empty(t, first)

	seedProduct(t, r, "p1", "Tea", 1, 1)
	require.Eventually(t, func() bool {
		select {
		case list := <-w.C():
			return len(list) == 1 && list[0].Name == "Tea"
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, r.Products.Delete(ctx, "p1"))
	require.Eventually(t, func() bool {
		select {
		case list := <-w.C():
			return len(list) == 0
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatchLogsUndecodableRows(t *testing.T) {
	ctx := context.Background()
	var logs lockedBuffer
	store, err := localstore.Open(":memory:", slog.New(slog.NewTextHandler(&logs, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	r := New(possync.NewQueue(store, nil))

	w, err := r.Products.Watch()
	require.NoError(t, err)
	defer w.Close()
	require.Empty(t, <-w.C())

	require.NoError(t, store.Put(ctx, "products", json.RawMessage(`{"id":"bad","name":"Tea","stock_quantity":"lots"}`)))
	require.Eventually(t, func() bool {
		out := logs.String()
		return strings.Contains(out, "undecodable row") && strings.Contains(out, "table=products")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, store.Delete(ctx, "products", "bad"))
	require.Eventually(t, func() bool {
		select {
		case list := <-w.C():
			return len(list) == 0
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}
