package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T) (*MemoryStore, *JWTAuth, *httptest.Server) {
	t.Helper()
	mem := NewMemoryStore()
	j := NewJWTAuth("test-secret")
	srv := httptest.NewServer(NewRouter(NewHTTPHandlers(mem, nil), j, RouterOptions{}))
	t.Cleanup(srv.Close)
	return mem, j, srv
}

func clientFor(t *testing.T, j *JWTAuth, baseURL, userID string) *HTTPStore {
	t.Helper()
	tok, err := j.GenerateToken(userID, "", time.Hour)
	require.NoError(t, err)
	return NewHTTPStore(baseURL, StaticToken(tok))
}

func TestHTTPStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	mem, j, srv := newTestAPI(t)
	c := clientFor(t, j, srv.URL, "u1")

	require.NoError(t, c.Insert(ctx, "categories", Row{"id": "cat-1", "name": "Drinks"}))
	require.NoError(t, c.Insert(ctx, "products", Row{"id": "p-1", "name": "Tea", "category_id": "cat-1", "retail_price": 2.5}))
	require.NoError(t, c.Update(ctx, "products", "p-1", Row{"stock_quantity": 7}))

	rows, err := c.Select(ctx, "products", Eq("id", "p-1"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "u1", rows[0]["user_id"])
	require.Equal(t, json.Number("7"), rows[0]["stock_quantity"])

	stamp := rows[0]["updated_at"].(string)
	rows, err = c.Select(ctx, "products", Gt("updated_at", stamp))
	require.NoError(t, err)
	require.Empty(t, rows)

	other := clientFor(t, j, srv.URL, "u2")
	rows, err = other.Select(ctx, "products")
	require.NoError(t, err)
	require.Empty(t, rows)

	require.NoError(t, c.Delete(ctx, "products", "p-1"))
	require.Empty(t, mem.Rows("products"))
}

func TestHTTPStoreErrorCodes(t *testing.T) {
	ctx := context.Background()
	_, j, srv := newTestAPI(t)
	c := clientFor(t, j, srv.URL, "u1")

	require.NoError(t, c.Insert(ctx, "customers", Row{"id": "c-1", "name": "Ann"}))
	err := c.Insert(ctx, "customers", Row{"id": "c-1", "name": "Ann"})
	require.True(t, IsUniqueViolation(err), "got %v", err)

	err = c.Insert(ctx, "customer_loans", Row{"id": "l-1", "customer_id": "missing"})
	require.True(t, IsForeignKeyViolation(err), "got %v", err)

	_, err = c.Select(ctx, "no_such_table")
	require.Equal(t, CodeUndefinedTable, ErrorCode(err))

	anon := NewHTTPStore(srv.URL, nil)
	_, err = anon.Select(ctx, "customers")
	require.True(t, errors.Is(err, ErrUnauthorized))
}

func TestHealthEndpoint(t *testing.T) {
	_, _, srv := newTestAPI(t)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
