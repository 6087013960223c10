// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mobiletoly/go-offlinepos/posdata"
)

// MemoryStore is an in-process DataStore enforcing primary keys and the
// references between POS tables. It stamps updated_at on every write.
// FailWith lets callers inject rejections.
type MemoryStore struct {
	mu     sync.Mutex
	tables map[string]map[string]Row
	order  map[string][]string
	clock  func() time.Time
	last   time.Time
	userID string
	root   *MemoryStore

	// FailWith, when set, is consulted before every operation; a non-nil
	// error is returned without touching the data.
	FailWith func(op, table string, row Row) error

	calls []string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: make(map[string]map[string]Row),
		order:  make(map[string][]string),
		clock:  time.Now,
	}
}

// SetClock replaces the time source used for updated_at.
func (m *MemoryStore) SetClock(clock func() time.Time) {
	m.base().mu.Lock()
	defer m.base().mu.Unlock()
	m.base().clock = clock
}

// ForUser returns a view of the store restricted to one user's rows.
func (m *MemoryStore) ForUser(userID string) DataStore {
	return &MemoryStore{root: m.base(), userID: userID}
}

func (m *MemoryStore) base() *MemoryStore {
	if m.root != nil {
		return m.root
	}
	return m
}

// Calls returns the operations performed so far as "op table/id" strings.
func (m *MemoryStore) Calls() []string {
	b := m.base()
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// Rows returns a copy of every row of table in insertion order.
func (m *MemoryStore) Rows(table string) []Row {
	b := m.base()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Row
	for _, id := range b.order[table] {
		if r, ok := b.tables[table][id]; ok {
			out = append(out, copyRow(r))
		}
	}
	return out
}

// Seed stores a row directly, bypassing checks and failure injection.
func (m *MemoryStore) Seed(table string, row Row) {
	b := m.base()
	b.mu.Lock()
	defer b.mu.Unlock()
	r := copyRow(row)
	if _, ok := r["updated_at"]; !ok {
		r["updated_at"] = b.nextStamp()
	}
	b.put(table, r)
}

func (m *MemoryStore) Select(_ context.Context, table string, filters ...Filter) ([]Row, error) {
	b := m.base()
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := checkRemoteTable(table); err != nil {
		return nil, err
	}
	if m.userID != "" {
		filters = append(filters, Eq("user_id", m.userID))
	}
	b.calls = append(b.calls, "select "+table)
	if b.FailWith != nil {
		if err := b.FailWith("select", table, nil); err != nil {
			return nil, err
		}
	}

	var out []Row
	for _, id := range b.order[table] {
		r, ok := b.tables[table][id]
		if !ok {
			continue
		}
		match, err := matches(r, filters)
		if err != nil {
			return nil, err
		}
		if match {
			out = append(out, copyRow(r))
		}
	}
	return out, nil
}

func (m *MemoryStore) Insert(_ context.Context, table string, row Row) error {
	b := m.base()
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := checkRemoteTable(table); err != nil {
		return err
	}
	r := copyRow(row)
	if m.userID != "" {
		r["user_id"] = m.userID
	}
	id, _ := r["id"].(string)
	b.calls = append(b.calls, "insert "+table+"/"+id)
	if b.FailWith != nil {
		if err := b.FailWith("insert", table, r); err != nil {
			return err
		}
	}
	if id == "" {
		return &Error{Code: CodeInvalidRequest, Message: "row has no id"}
	}
	if _, exists := b.tables[table][id]; exists {
		return &Error{
			Code:       CodeUniqueViolation,
			Message:    fmt.Sprintf("duplicate key value violates unique constraint on %s", table),
			Constraint: table + "_pkey",
		}
	}
	if err := b.checkRefs(table, r); err != nil {
		return err
	}
	r["updated_at"] = b.nextStamp()
	b.put(table, r)
	return nil
}

func (m *MemoryStore) Update(_ context.Context, table, id string, row Row) error {
	b := m.base()
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := checkRemoteTable(table); err != nil {
		return err
	}
	b.calls = append(b.calls, "update "+table+"/"+id)
	if b.FailWith != nil {
		if err := b.FailWith("update", table, row); err != nil {
			return err
		}
	}
	cur, ok := b.tables[table][id]
	if !ok || (m.userID != "" && cur["user_id"] != m.userID) {
		return nil
	}
	merged := copyRow(cur)
	for k, v := range row {
		if k == "id" || k == "updated_at" {
			continue
		}
		merged[k] = v
	}
	if m.userID != "" {
		merged["user_id"] = m.userID
	}
	if err := b.checkRefs(table, merged); err != nil {
		return err
	}
	merged["updated_at"] = b.nextStamp()
	b.tables[table][id] = merged
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, table, id string) error {
	b := m.base()
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := checkRemoteTable(table); err != nil {
		return err
	}
	b.calls = append(b.calls, "delete "+table+"/"+id)
	if b.FailWith != nil {
		if err := b.FailWith("delete", table, Row{"id": id}); err != nil {
			return err
		}
	}
	cur, ok := b.tables[table][id]
	if !ok || (m.userID != "" && cur["user_id"] != m.userID) {
		return nil
	}
	if kind, ok := posdata.KindForRemoteTable(table); ok {
		for _, child := range posdata.Kinds {
			for _, ref := range child.Parents() {
				if ref.Kind != kind {
					continue
				}
				for _, r := range b.tables[child.RemoteTable()] {
					if r[ref.Field] == id {
						return &Error{
							Code:       CodeForeignKeyViolation,
							Message:    fmt.Sprintf("%s is still referenced from %s", id, child.RemoteTable()),
							Constraint: child.RemoteTable() + "_" + ref.Field + "_fkey",
						}
					}
				}
			}
		}
	}
	delete(b.tables[table], id)
	ids := b.order[table]
	for i, v := range ids {
		if v == id {
			b.order[table] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryStore) checkRefs(table string, r Row) error {
	kind, ok := posdata.KindForRemoteTable(table)
	if !ok {
		return nil
	}
	for _, ref := range kind.Parents() {
		v, ok := r[ref.Field].(string)
		if !ok || v == "" {
			continue
		}
		if _, exists := m.tables[ref.Kind.RemoteTable()][v]; !exists {
			return &Error{
				Code:       CodeForeignKeyViolation,
				Message:    fmt.Sprintf("insert or update on table %q violates foreign key on %s", table, ref.Field),
				Constraint: table + "_" + ref.Field + "_fkey",
			}
		}
	}
	return nil
}

func (m *MemoryStore) put(table string, r Row) {
	if m.tables[table] == nil {
		m.tables[table] = make(map[string]Row)
	}
	id, _ := r["id"].(string)
	if _, exists := m.tables[table][id]; !exists {
		m.order[table] = append(m.order[table], id)
	}
	m.tables[table][id] = r
}

// nextStamp returns a strictly increasing updated_at.
func (m *MemoryStore) nextStamp() string {
	now := m.clock().UTC().Truncate(time.Millisecond)
	if !now.After(m.last) {
		now = m.last.Add(time.Millisecond)
	}
	m.last = now
	return now.Format(time.RFC3339Nano)
}

func checkRemoteTable(table string) error {
	if _, ok := posdata.KindForRemoteTable(table); !ok {
		return &Error{Code: CodeUndefinedTable, Message: fmt.Sprintf("relation %q does not exist", table)}
	}
	return nil
}

func matches(r Row, filters []Filter) (bool, error) {
	for _, f := range filters {
		v, ok := r[f.Column]
		switch f.Op {
		case OpEq:
			if !ok || fmt.Sprint(v) != fmt.Sprint(f.Value) {
				return false, nil
			}
		case OpGt:
			if !ok || v == nil {
				return false, nil
			}
			gt, err := greater(v, f.Value)
			if err != nil {
				return false, err
			}
			if !gt {
				return false, nil
			}
		default:
			return false, &Error{Code: CodeInvalidRequest, Message: fmt.Sprintf("unsupported filter operator %q", f.Op)}
		}
	}
	return true, nil
}

// greater compares timestamps chronologically and everything else as numbers
// or strings.
func greater(a, b any) (bool, error) {
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	ta, errA := posdata.ParseTimestamp(as)
	tb, errB := posdata.ParseTimestamp(bs)
	if errA == nil && errB == nil {
		return ta.After(tb), nil
	}
	var na, nb json.Number = json.Number(as), json.Number(bs)
	fa, errA := na.Float64()
	fb, errB := nb.Float64()
	if errA == nil && errB == nil {
		return fa > fb, nil
	}
	return strings.Compare(as, bs) > 0, nil
}

func copyRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// sortedColumns returns the keys of r in a stable order.
func sortedColumns(r Row) []string {
	cols := make([]string, 0, len(r))
	for k := range r {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}
