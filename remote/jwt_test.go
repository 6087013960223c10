package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mobiletoly/go-offlinepos/internal/auth"
)

func TestJWTGenerateAndValidate(t *testing.T) {
	j := NewJWTAuth("secret")
	tok, err := j.GenerateToken("user-1", "cashier@example.com", time.Hour)
	require.NoError(t, err)

	claims, err := j.ValidateToken(tok)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "cashier@example.com", claims.Email)

	_, err = NewJWTAuth("other").ValidateToken(tok)
	require.Error(t, err)

	empty, err := j.GenerateToken("", "", time.Hour)
	require.NoError(t, err)
	_, err = j.ValidateToken(empty)
	require.Error(t, err)
}

func TestJWTMiddleware(t *testing.T) {
	j := NewJWTAuth("secret")
	var seen string
	h := j.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.GetUserID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	tok, err := j.GenerateToken("user-1", "", time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "user-1", seen)
}

func TestTokenIdentity(t *testing.T) {
	ctx := context.Background()
	j := NewJWTAuth("secret")

	id, err := (&TokenIdentity{Auth: j, Token: StaticToken("")}).CurrentIdentity(ctx)
	require.NoError(t, err)
	require.Nil(t, id)

	tok, err := j.GenerateToken("user-1", "a@b.c", time.Hour)
	require.NoError(t, err)
	id, err = (&TokenIdentity{Auth: j, Token: StaticToken(tok)}).CurrentIdentity(ctx)
	require.NoError(t, err)
	require.Equal(t, "user-1", id.ID)
	require.Equal(t, "a@b.c", id.Email)

	expired, err := j.GenerateToken("user-1", "", -time.Minute)
	require.NoError(t, err)
	_, err = (&TokenIdentity{Auth: j, Token: StaticToken(expired)}).CurrentIdentity(ctx)
	require.True(t, errors.Is(err, ErrUnauthorized))
}
