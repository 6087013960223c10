// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mobiletoly/go-offlinepos/internal/auth"
)

const maxBodyBytes = 1 << 20

// HTTPHandlers exposes a UserScoper as a small REST API. Every request is
// scoped to the authenticated user.
//
//	GET    /rest/{table}?col=eq.value&updated_at=gt.value
//	POST   /rest/{table}
//	PATCH  /rest/{table}/{id}
//	DELETE /rest/{table}/{id}
type HTTPHandlers struct {
	store  UserScoper
	logger *slog.Logger
}

// NewHTTPHandlers creates a new instance of REST handlers
func NewHTTPHandlers(store UserScoper, logger *slog.Logger) *HTTPHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandlers{store: store, logger: logger}
}

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter mounts the REST API behind JWT authentication.
func NewRouter(h *HTTPHandlers, jwtAuth *JWTAuth, opts RouterOptions) http.Handler {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})

	r.Route("/rest", func(r chi.Router) {
		r.Use(jwtAuth.Middleware)
		r.Get("/{table}", h.HandleSelect)
		r.Post("/{table}", h.HandleInsert)
		r.Patch("/{table}/{id}", h.HandleUpdate)
		r.Delete("/{table}/{id}", h.HandleDelete)
	})
	return r
}

func (h *HTTPHandlers) scoped(w http.ResponseWriter, r *http.Request) (DataStore, bool) {
	userID, ok := auth.GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, &Error{Code: "authentication_failed", Message: "missing user"})
		return nil, false
	}
	return h.store.ForUser(userID), true
}

// HandleSelect lists rows matching the query-string filters.
func (h *HTTPHandlers) HandleSelect(w http.ResponseWriter, r *http.Request) {
	store, ok := h.scoped(w, r)
	if !ok {
		return
	}
	table := chi.URLParam(r, "table")

	var filters []Filter
	for col, values := range r.URL.Query() {
		for _, v := range values {
			op, val, found := strings.Cut(v, ".")
			if !found || (FilterOp(op) != OpEq && FilterOp(op) != OpGt) {
				h.writeError(w, http.StatusBadRequest, &Error{Code: CodeInvalidRequest, Message: "filter must be eq.<value> or gt.<value>"})
				return
			}
			filters = append(filters, Filter{Column: col, Op: FilterOp(op), Value: val})
		}
	}

	rows, err := store.Select(r.Context(), table, filters...)
	if err != nil {
		h.writeStoreError(w, err, table)
		return
	}
	if rows == nil {
		rows = []Row{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rows); err != nil {
		h.logger.Error("Failed to encode select response", "error", err, "table", table)
	}
}

// HandleInsert inserts the JSON row in the request body.
func (h *HTTPHandlers) HandleInsert(w http.ResponseWriter, r *http.Request) {
	store, ok := h.scoped(w, r)
	if !ok {
		return
	}
	table := chi.URLParam(r, "table")
	row, ok := h.decodeRow(w, r)
	if !ok {
		return
	}
	if err := store.Insert(r.Context(), table, row); err != nil {
		h.writeStoreError(w, err, table)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// HandleUpdate applies the JSON row in the request body to row {id}.
func (h *HTTPHandlers) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	store, ok := h.scoped(w, r)
	if !ok {
		return
	}
	table := chi.URLParam(r, "table")
	row, ok := h.decodeRow(w, r)
	if !ok {
		return
	}
	if err := store.Update(r.Context(), table, chi.URLParam(r, "id"), row); err != nil {
		h.writeStoreError(w, err, table)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDelete removes row {id}.
func (h *HTTPHandlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	store, ok := h.scoped(w, r)
	if !ok {
		return
	}
	table := chi.URLParam(r, "table")
	if err := store.Delete(r.Context(), table, chi.URLParam(r, "id")); err != nil {
		h.writeStoreError(w, err, table)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandlers) decodeRow(w http.ResponseWriter, r *http.Request) (Row, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, &Error{Code: CodeInvalidRequest, Message: "failed to read body"})
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var row Row
	if err := dec.Decode(&row); err != nil || row == nil {
		h.writeError(w, http.StatusBadRequest, &Error{Code: CodeInvalidRequest, Message: "body must be a JSON object"})
		return nil, false
	}
	return row, true
}

func (h *HTTPHandlers) writeStoreError(w http.ResponseWriter, err error, table string) {
	var re *Error
	if errors.As(err, &re) {
		status := http.StatusBadRequest
		switch re.Code {
		case CodeUniqueViolation, CodeForeignKeyViolation:
			status = http.StatusConflict
		case CodeUndefinedTable:
			status = http.StatusNotFound
		}
		h.writeError(w, status, re)
		return
	}
	h.logger.Error("Remote store operation failed", "error", err, "table", table)
	h.writeError(w, http.StatusInternalServerError, &Error{Code: "internal_error", Message: "operation failed"})
}

// writeError writes a standardized error response
func (h *HTTPHandlers) writeError(w http.ResponseWriter, statusCode int, e *Error) {
	writeJSONError(w, statusCode, e)
	h.logger.Debug("HTTP error response",
		"status_code", statusCode,
		"error_code", e.Code,
		"message", e.Message)
}

func writeJSONError(w http.ResponseWriter, statusCode int, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(e)
}
