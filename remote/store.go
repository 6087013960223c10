// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package remote defines the contract of the remote data store the sync
// engine pushes to and pulls from, together with a Postgres implementation,
// a REST server and client for it, and an in-memory implementation.
package remote

import (
	"context"
	"errors"
	"fmt"
)

// Row is a remote table row keyed by column name.
type Row = map[string]any

// FilterOp is a comparison supported by Select.
type FilterOp string

const (
	OpEq FilterOp = "eq"
	OpGt FilterOp = "gt"
)

// Filter restricts Select to rows where Column Op Value holds.
type Filter struct {
	Column string
	Op     FilterOp
	Value  any
}

// Eq builds an equality filter.
func Eq(column string, value any) Filter { return Filter{Column: column, Op: OpEq, Value: value} }

// Gt builds a strictly-greater-than filter.
func Gt(column string, value any) Filter { return Filter{Column: column, Op: OpGt, Value: value} }

// DataStore is a generic table store keyed by row id. Update and Delete of
// a missing id are not errors.
type DataStore interface {
	Select(ctx context.Context, table string, filters ...Filter) ([]Row, error)
	Insert(ctx context.Context, table string, row Row) error
	Update(ctx context.Context, table, id string, row Row) error
	Delete(ctx context.Context, table, id string) error
}

// UserScoper hands out a DataStore restricted to one user's rows.
type UserScoper interface {
	ForUser(userID string) DataStore
}

// Machine-readable error codes (Postgres SQLSTATE values).
const (
	CodeUniqueViolation     = "23505"
	CodeForeignKeyViolation = "23503"
	CodeInvalidRequest      = "22023"
	CodeUndefinedTable      = "42P01"
)

// ErrUnauthorized is returned when the store rejects the caller's credentials.
var ErrUnauthorized = errors.New("unauthorized")

// Error is a rejection reported by the remote store.
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Constraint string `json:"constraint,omitempty"`
}

func (e *Error) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("remote error %s: %s (constraint %s)", e.Code, e.Message, e.Constraint)
	}
	return fmt.Sprintf("remote error %s: %s", e.Code, e.Message)
}

// ErrorCode returns the code of a remote *Error in err's chain, or "".
func ErrorCode(err error) string {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsUniqueViolation reports whether err is a duplicate-key rejection.
func IsUniqueViolation(err error) bool { return ErrorCode(err) == CodeUniqueViolation }

// IsForeignKeyViolation reports whether err is a missing-reference rejection.
func IsForeignKeyViolation(err error) bool { return ErrorCode(err) == CodeForeignKeyViolation }
