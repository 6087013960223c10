// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/mobiletoly/go-offlinepos/posdata"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ops implements record access over either the database or a transaction.
type ops struct {
	q     querier
	touch func(table string)
}

// CondOp is a comparison used in a Query condition.
type CondOp string

const (
	OpEq CondOp = "="
	OpNe CondOp = "!="
	OpLt CondOp = "<"
	OpGt CondOp = ">"
)

// Cond compares a top-level document field with a value. A nil Value with
// OpEq matches missing or null fields.
type Cond struct {
	Field string
	Op    CondOp
	Value any
}

// Eq is shorthand for an equality condition.
func Eq(field string, value any) Cond { return Cond{Field: field, Op: OpEq, Value: value} }

// Query selects records from one table.
type Query struct {
	Where   []Cond
	Match   func(Record) bool // applied after Where, before Limit
	OrderBy string            // document field, or "lastModified"
	Desc    bool
	Limit   int
}

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func fieldExpr(field string) (string, error) {
	switch field {
	case "id":
		return "id", nil
	case "lastModified":
		return "last_modified", nil
	case "synced":
		return "synced", nil
	}
	if !fieldName.MatchString(field) {
		return "", fmt.Errorf("invalid field name %q", field)
	}
	return "json_extract(data, '$." + field + "')", nil
}

type envelopeFields struct {
	ID           string `json:"id"`
	Synced       bool   `json:"synced"`
	LastModified int64  `json:"lastModified"`
}

func recordFromDoc(doc json.RawMessage) (Record, error) {
	var env envelopeFields
	if err := json.Unmarshal(doc, &env); err != nil {
		return Record{}, fmt.Errorf("failed to decode document envelope: %w", err)
	}
	if env.ID == "" {
		return Record{}, fmt.Errorf("document has no id")
	}
	return Record{ID: env.ID, LastModified: env.LastModified, Synced: env.Synced, Data: doc}, nil
}

// Get returns the record with the given id or ErrNotFound.
func (o ops) Get(ctx context.Context, table, id string) (*Record, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	var rec Record
	var data string
	err := o.q.QueryRowContext(ctx,
		`SELECT id, last_modified, synced, data FROM `+table+` WHERE id = ?`, id).
		Scan(&rec.ID, &rec.LastModified, &rec.Synced, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", table, id, err)
	}
	rec.Data = json.RawMessage(data)
	return &rec, nil
}

// Put inserts or replaces a document keyed by its id.
func (o ops) Put(ctx context.Context, table string, doc json.RawMessage) error {
	if err := checkTable(table); err != nil {
		return err
	}
	rec, err := recordFromDoc(doc)
	if err != nil {
		return err
	}
	if err := o.put(ctx, table, rec); err != nil {
		return err
	}
	o.touch(table)
	return nil
}

func (o ops) put(ctx context.Context, table string, rec Record) error {
	_, err := o.q.ExecContext(ctx,
		`INSERT INTO `+table+` (id, last_modified, synced, data) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET last_modified = excluded.last_modified,
		   synced = excluded.synced, data = excluded.data`,
		rec.ID, rec.LastModified, rec.Synced, string(rec.Data))
	if err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", table, rec.ID, err)
	}
	return nil
}

// BulkPut upserts every document. Outside a transaction use Store.BulkPut.
func (o ops) BulkPut(ctx context.Context, table string, docs []json.RawMessage) error {
	if err := checkTable(table); err != nil {
		return err
	}
	for _, doc := range docs {
		rec, err := recordFromDoc(doc)
		if err != nil {
			return err
		}
		if err := o.put(ctx, table, rec); err != nil {
			return err
		}
	}
	if len(docs) > 0 {
		o.touch(table)
	}
	return nil
}

// Patch merges the top-level fields of a JSON object into the stored document.
// The id of an existing row cannot be changed.
func (o ops) Patch(ctx context.Context, table, id string, fields json.RawMessage) (*Record, error) {
	cur, err := o.Get(ctx, table, id)
	if err != nil {
		return nil, err
	}
	doc, err := posdata.DecodeDocument(cur.Data)
	if err != nil {
		return nil, err
	}
	patch, err := posdata.DecodeDocument(fields)
	if err != nil {
		return nil, err
	}
	for k, v := range patch {
		doc[k] = v
	}
	doc["id"] = id
	merged, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode patched %s/%s: %w", table, id, err)
	}
	rec, err := recordFromDoc(merged)
	if err != nil {
		return nil, err
	}
	if err := o.put(ctx, table, rec); err != nil {
		return nil, err
	}
	o.touch(table)
	return &rec, nil
}

// Delete removes a record. Deleting a missing record is not an error.
func (o ops) Delete(ctx context.Context, table, id string) error {
	if err := checkTable(table); err != nil {
		return err
	}
	if _, err := o.q.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", table, id, err)
	}
	o.touch(table)
	return nil
}

// Query returns a snapshot of the records matching q.
func (o ops) Query(ctx context.Context, table string, q Query) ([]Record, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	where, args, err := buildWhere(q.Where)
	if err != nil {
		return nil, err
	}
	stmt := `SELECT id, last_modified, synced, data FROM ` + table + where
	if q.OrderBy != "" {
		expr, err := fieldExpr(q.OrderBy)
		if err != nil {
			return nil, err
		}
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		stmt += " ORDER BY " + expr + " " + dir + ", rowid ASC"
	} else {
		stmt += " ORDER BY rowid ASC"
	}
	if q.Limit > 0 && q.Match == nil {
		stmt += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := o.q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var data string
		if err := rows.Scan(&rec.ID, &rec.LastModified, &rec.Synced, &data); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		rec.Data = json.RawMessage(data)
		if q.Match != nil && !q.Match(rec) {
			continue
		}
		out = append(out, rec)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s rows: %w", table, err)
	}
	return out, nil
}

// GetMany returns the records with the given ids that exist, keyed by id.
func (o ops) GetMany(ctx context.Context, table string, ids []string) (map[string]Record, error) {
	out := make(map[string]Record, len(ids))
	for _, id := range ids {
		rec, err := o.Get(ctx, table, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = *rec
	}
	return out, nil
}

// Count returns the number of rows in table.
func (o ops) Count(ctx context.Context, table string) (int, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}
	var n int
	if err := o.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

// MaxLastModified returns the high-water mark of table, zero when empty.
func (o ops) MaxLastModified(ctx context.Context, table string) (int64, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}
	var mark int64
	err := o.q.QueryRowContext(ctx, `SELECT COALESCE(MAX(last_modified), 0) FROM `+table).Scan(&mark)
	if err != nil {
		return 0, fmt.Errorf("failed to read high-water mark of %s: %w", table, err)
	}
	return mark, nil
}

// MaxSyncedLastModified is the high-water mark over rows confirmed by the
// remote store. Local unsynced stamps are ignored since they come from the
// device clock.
func (o ops) MaxSyncedLastModified(ctx context.Context, table string) (int64, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}
	var mark int64
	err := o.q.QueryRowContext(ctx, `SELECT COALESCE(MAX(last_modified), 0) FROM `+table+` WHERE synced = 1`).Scan(&mark)
	if err != nil {
		return 0, fmt.Errorf("failed to read high-water mark of %s: %w", table, err)
	}
	return mark, nil
}

// DeleteWhere removes the records matching conds and returns their ids.
func (o ops) DeleteWhere(ctx context.Context, table string, conds ...Cond) ([]string, error) {
	recs, err := o.Query(ctx, table, Query{Where: conds})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	sort.Strings(ids)
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := o.q.ExecContext(ctx, `DELETE FROM `+table+` WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return nil, fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	o.touch(table)
	return ids, nil
}

func buildWhere(conds []Cond) (string, []any, error) {
	if len(conds) == 0 {
		return "", nil, nil
	}
	parts := make([]string, 0, len(conds))
	args := make([]any, 0, len(conds))
	for _, c := range conds {
		expr, err := fieldExpr(c.Field)
		if err != nil {
			return "", nil, err
		}
		op := c.Op
		if op == "" {
			op = OpEq
		}
		switch op {
		case OpEq, OpNe, OpLt, OpGt:
		default:
			return "", nil, fmt.Errorf("unsupported operator %q", op)
		}
		if c.Value == nil {
			switch op {
			case OpEq:
				parts = append(parts, expr+" IS NULL")
				continue
			case OpNe:
				parts = append(parts, expr+" IS NOT NULL")
				continue
			}
		}
		parts = append(parts, expr+" "+string(op)+" ?")
		args = append(args, c.Value)
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}
