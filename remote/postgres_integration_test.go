package remote

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newPostgresStore starts a disposable Postgres and returns a store with
// the POS schema applied.
func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Postgres integration test in short mode")
	}
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		postgres.WithDatabase("pos_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store := NewPostgresStore(pool, logger)
	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.EnsureSchema(ctx), "schema bootstrap must be idempotent")
	return store
}

func TestPostgresStoreCRUDAndErrorCodes(t *testing.T) {
	ctx := context.Background()
	store := newPostgresStore(t)
	u := store.ForUser("user-1")

	require.NoError(t, u.Insert(ctx, "categories", Row{"id": "cat-1", "name": "Drinks", "color": "#fff", "unknown": "ignored"}))
	require.NoError(t, u.Insert(ctx, "products", Row{
		"id": "p-1", "name": "Tea", "retail_price": json.Number("2.50"), "stock_quantity": 10, "category_id": "cat-1",
	}))

	err := u.Insert(ctx, "products", Row{"id": "p-1", "name": "Tea", "retail_price": 1})
	require.True(t, IsUniqueViolation(err), "got %v", err)

	require.NoError(t, u.Insert(ctx, "sales", Row{
		"id": "s-1", "total_amount": 5, "subtotal": 5, "payment_method": "cash", "receipt_number": "RCP-1",
	}))
	err = u.Insert(ctx, "sale_items", Row{
		"id": "si-1", "sale_id": "s-1", "product_id": "missing", "product_name": "Ghost",
		"quantity": 1, "unit_price": 5, "total_price": 5,
	})
	require.True(t, IsForeignKeyViolation(err), "got %v", err)

	rows, err := u.Select(ctx, "products", Eq("id", "p-1"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "user-1", rows[0]["user_id"])
	first := rows[0]["updated_at"].(string)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, u.Update(ctx, "products", "p-1", Row{"stock_quantity": 7}))

	rows, err = u.Select(ctx, "products", Gt("updated_at", first))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, json.Number("7"), rows[0]["stock_quantity"])

	rows, err = store.ForUser("user-2").Select(ctx, "products")
	require.NoError(t, err)
	require.Empty(t, rows)

	require.NoError(t, u.Delete(ctx, "products", "p-1"))
	rows, err = u.Select(ctx, "products")
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestPostgresStoreLoanBalanceIsGenerated(t *testing.T) {
	ctx := context.Background()
	store := newPostgresStore(t)
	u := store.ForUser("user-1")

	require.NoError(t, u.Insert(ctx, "customers", Row{"id": "c-1", "name": "Ann"}))
	require.NoError(t, u.Insert(ctx, "customer_loans", Row{
		"id": "l-1", "customer_id": "c-1", "loan_amount": 1000, "amount_paid": 200,
		"remaining_balance": 1, "status": "active", "loan_date": "2025-01-01T00:00:00Z",
	}))

	rows, err := u.Select(ctx, "customer_loans")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	bal, err := rows[0]["remaining_balance"].(json.Number).Float64()
	require.NoError(t, err)
	require.Equal(t, 800.0, bal)
}
