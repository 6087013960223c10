// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mobiletoly/go-offlinepos/internal/auth"
	"github.com/mobiletoly/go-offlinepos/posdata"
)

// JWTAuth issues and validates HS256 tokens identifying a POS user.
type JWTAuth struct {
	secret []byte
}

// NewJWTAuth creates a new JWT authenticator
func NewJWTAuth(secret string) *JWTAuth {
	return &JWTAuth{
		secret: []byte(secret),
	}
}

// JWTClaims carries the user id in the standard sub claim and the email
type JWTClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken generates a JWT token for userID
func (j *JWTAuth) GenerateToken(userID, email string, expiration time.Duration) (string, error) {
	now := time.Now()
	claims := &JWTClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "go-offlinepos",
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// ValidateToken validates a JWT token and returns the claims
func (j *JWTAuth) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		if claims.Subject == "" {
			return nil, fmt.Errorf("missing sub (user ID) in token")
		}
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}

// Middleware returns an HTTP middleware for JWT authentication
func (j *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeJSONError(w, http.StatusUnauthorized, &Error{Code: "authentication_failed", Message: "Authorization header required"})
			return
		}

		bearerToken := strings.Split(authHeader, " ")
		if len(bearerToken) != 2 || bearerToken[0] != "Bearer" {
			writeJSONError(w, http.StatusUnauthorized, &Error{Code: "authentication_failed", Message: "Invalid authorization header format"})
			return
		}

		claims, err := j.ValidateToken(bearerToken[1])
		if err != nil {
			// Safely log token prefix (max 20 chars)
			tokenPrefix := bearerToken[1]
			if len(tokenPrefix) > 20 {
				tokenPrefix = tokenPrefix[:20]
			}
			slog.Error("JWT validation failed", "error", err, "token_prefix", tokenPrefix)
			writeJSONError(w, http.StatusUnauthorized, &Error{Code: "authentication_failed", Message: "Invalid token"})
			return
		}

		ctx := auth.SetAuthContext(r.Context(), claims.Subject, claims.Email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TokenIdentity resolves the current identity from a bearer token source.
// No token means no identity; an invalid or expired token is reported as
// ErrUnauthorized.
type TokenIdentity struct {
	Auth  *JWTAuth
	Token func(context.Context) (string, error)
}

// CurrentIdentity implements the sync engine's identity provider.
func (t *TokenIdentity) CurrentIdentity(ctx context.Context) (*posdata.Identity, error) {
	if t.Token == nil {
		return nil, nil
	}
	tok, err := t.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain token: %w", err)
	}
	if tok == "" {
		return nil, nil
	}
	claims, err := t.Auth.ValidateToken(tok)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", ErrUnauthorized)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return &posdata.Identity{ID: claims.Subject, Email: claims.Email}, nil
}

// StaticToken returns a token source that always yields tok.
func StaticToken(tok string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return tok, nil }
}
