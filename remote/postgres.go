// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mobiletoly/go-offlinepos/posdata"
)

// PostgresStore implements DataStore over the POS tables in Postgres. Rows
// are written through jsonb_populate_record so column types come from the
// table definition; unknown and generated columns are ignored.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	userID string

	colsMu sync.RWMutex
	cols   map[string]map[string]column
}

// NewPostgresStore creates a store over pool. Call EnsureSchema (or
// Refresh when the schema is managed elsewhere) before use.
func NewPostgresStore(pool *pgxpool.Pool, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{pool: pool, logger: logger}
}

// Refresh reloads table columns without running DDL.
func (s *PostgresStore) Refresh(ctx context.Context) error { return s.discoverColumns(ctx) }

// Pool returns the underlying connection pool.
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

// ForUser returns a store whose reads and writes are restricted to rows
// owned by userID. Inserted rows are stamped with that user.
func (s *PostgresStore) ForUser(userID string) DataStore {
	return &PostgresStore{pool: s.pool, logger: s.logger, userID: userID, cols: s.columnsSnapshot()}
}

func (s *PostgresStore) columnsSnapshot() map[string]map[string]column {
	s.colsMu.RLock()
	defer s.colsMu.RUnlock()
	return s.cols
}

func (s *PostgresStore) tableColumns(table string) (map[string]column, error) {
	if _, ok := posdata.KindForRemoteTable(table); !ok {
		return nil, &Error{Code: CodeUndefinedTable, Message: fmt.Sprintf("relation %q does not exist", table)}
	}
	cols := s.columnsSnapshot()[table]
	if len(cols) == 0 {
		return nil, &Error{Code: CodeUndefinedTable, Message: fmt.Sprintf("relation %q has no discovered columns", table)}
	}
	return cols, nil
}

func (s *PostgresStore) Select(ctx context.Context, table string, filters ...Filter) ([]Row, error) {
	cols, err := s.tableColumns(table)
	if err != nil {
		return nil, err
	}
	if s.userID != "" {
		filters = append(filters, Eq("user_id", s.userID))
	}

	ident := pgx.Identifier{table}.Sanitize()
	var where []string
	var args []any
	for _, f := range filters {
		c, ok := cols[f.Column]
		if !ok {
			return nil, &Error{Code: CodeInvalidRequest, Message: fmt.Sprintf("unknown column %q on %s", f.Column, table)}
		}
		var op string
		switch f.Op {
		case OpEq:
			op = "="
		case OpGt:
			op = ">"
		default:
			return nil, &Error{Code: CodeInvalidRequest, Message: fmt.Sprintf("unsupported filter operator %q", f.Op)}
		}
		args = append(args, fmt.Sprint(f.Value))
		where = append(where, fmt.Sprintf("t.%s %s $%d::text::%s",
			pgx.Identifier{f.Column}.Sanitize(), op, len(args), castType(c.dataType)))
	}

	q := `SELECT row_to_json(t)::text FROM ` + ident + ` t`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY t.updated_at, t.id`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
		dec.UseNumber()
		var r Row
		if err := dec.Decode(&r); err != nil {
			return nil, fmt.Errorf("failed to decode %s row: %w", table, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err)
	}
	return out, nil
}

func (s *PostgresStore) Insert(ctx context.Context, table string, row Row) error {
	cols, err := s.tableColumns(table)
	if err != nil {
		return err
	}
	r := copyRow(row)
	if s.userID != "" {
		r["user_id"] = s.userID
	}
	names := writableColumns(cols, r)
	if len(names) == 0 {
		return &Error{Code: CodeInvalidRequest, Message: "row has no known columns"}
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode %s row: %w", table, err)
	}

	ident := pgx.Identifier{table}.Sanitize()
	list := strings.Join(names, ", ")
	q := `INSERT INTO ` + ident + ` (` + list + `) SELECT ` + list +
		` FROM jsonb_populate_record(NULL::` + ident + `, $1::text::jsonb)`
	if _, err := s.pool.Exec(ctx, q, string(payload)); err != nil {
		return mapPgError(err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, table, id string, row Row) error {
	cols, err := s.tableColumns(table)
	if err != nil {
		return err
	}
	r := copyRow(row)
	delete(r, "id")
	if s.userID != "" {
		delete(r, "user_id")
	}
	names := writableColumns(cols, r)
	if len(names) == 0 {
		return nil
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode %s row: %w", table, err)
	}

	ident := pgx.Identifier{table}.Sanitize()
	list := strings.Join(names, ", ")
	q := `UPDATE ` + ident + ` SET (` + list + `) = (SELECT ` + list +
		` FROM jsonb_populate_record(NULL::` + ident + `, $1::text::jsonb)) WHERE id = $2`
	args := []any{string(payload), id}
	if s.userID != "" {
		q += ` AND user_id = $3`
		args = append(args, s.userID)
	}
	if _, err := s.pool.Exec(ctx, q, args...); err != nil {
		return mapPgError(err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, table, id string) error {
	if _, err := s.tableColumns(table); err != nil {
		return err
	}
	q := `DELETE FROM ` + pgx.Identifier{table}.Sanitize() + ` WHERE id = $1`
	args := []any{id}
	if s.userID != "" {
		q += ` AND user_id = $2`
		args = append(args, s.userID)
	}
	if _, err := s.pool.Exec(ctx, q, args...); err != nil {
		return mapPgError(err)
	}
	return nil
}

// writableColumns returns the sanitized names of the row keys that are
// real, non-generated, client-writable columns.
func writableColumns(cols map[string]column, r Row) []string {
	var names []string
	for _, k := range sortedColumns(r) {
		c, ok := cols[k]
		if !ok || c.generated || k == "updated_at" {
			continue
		}
		names = append(names, pgx.Identifier{k}.Sanitize())
	}
	return names
}

// castType maps an information_schema data_type to a cast target.
func castType(dataType string) string {
	switch dataType {
	case "timestamp with time zone":
		return "timestamptz"
	case "timestamp without time zone":
		return "timestamp"
	case "integer", "bigint", "smallint", "numeric", "boolean", "text", "uuid", "date", "jsonb", "json":
		return dataType
	default:
		return "text"
	}
}

// mapPgError converts constraint violations into *Error so callers can
// react to the SQLSTATE without depending on pgx.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &Error{Code: pgErr.SQLState(), Message: pgErr.Message, Constraint: pgErr.ConstraintName}
	}
	return err
}
