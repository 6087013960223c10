// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package localstore is the durable on-device cache: one SQLite table per
// entity kind holding JSON documents, the operation queue table, the session
// profile, and live query subscriptions over the entity tables.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mobiletoly/go-offlinepos/posdata"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("record not found")

// QueueTable is the name of the operation queue table.
const QueueTable = "_sync_queue"

// Record is one cached entity document with its sync bookkeeping lifted out
// of the JSON for indexing.
type Record struct {
	ID           string
	LastModified int64
	Synced       bool
	Data         json.RawMessage
}

// Decode unmarshals the record document into v.
func (r Record) Decode(v any) error {
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("failed to decode record %s: %w", r.ID, err)
	}
	return nil
}

// Store is the Local Store. Reads go straight to the database; writes made
// through Store or a Tx notify subscriptions of the affected tables once
// they are durable.
type Store struct {
	ops
	db     *sql.DB
	logger *slog.Logger

	subsMu sync.Mutex
	subs   map[string]map[*Subscription]struct{}
}

// Open opens (or creates) the SQLite database at path and initializes it.
// Use ":memory:" for an ephemeral store.
func Open(path string, logger *slog.Logger) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps every reader on the same database, including :memory:.
	db.SetMaxOpenConns(1)
	s, err := New(db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already opened database and creates the schema if needed.
func New(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := initializeDatabase(db); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	s := &Store{
		db:     db,
		logger: logger,
		subs:   make(map[string]map[*Subscription]struct{}),
	}
	s.ops = ops{q: db, touch: s.notify}
	return s, nil
}

// DB exposes the underlying database handle.
func (s *Store) DB() *sql.DB { return s.db }

// Logger returns the logger the store reports to.
func (s *Store) Logger() *slog.Logger { return s.logger }

// Close stops all subscriptions and closes the database.
func (s *Store) Close() error {
	s.subsMu.Lock()
	var all []*Subscription
	for _, set := range s.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	s.subsMu.Unlock()
	for _, sub := range all {
		sub.Close()
	}
	return s.db.Close()
}

// Tx is a Local Store transaction. Notifications for the tables it touched
// are delivered after a successful commit.
type Tx struct {
	ops
	tx      *sql.Tx
	touched map[string]struct{}
}

// WithTx runs fn inside a transaction, committing when fn returns nil.
// fn must only use the Tx it is given.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	tx := &Tx{tx: sqlTx, touched: make(map[string]struct{})}
	tx.ops = ops{q: sqlTx, touch: func(table string) { tx.touched[table] = struct{}{} }}

	if err := fn(tx); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	for table := range tx.touched {
		s.notify(table)
	}
	return nil
}

// Patch merges fields into the stored document of id.
func (s *Store) Patch(ctx context.Context, table, id string, fields json.RawMessage) (*Record, error) {
	var out *Record
	err := s.WithTx(ctx, func(tx *Tx) error {
		rec, err := tx.Patch(ctx, table, id, fields)
		out = rec
		return err
	})
	return out, err
}

// BulkPut upserts all documents atomically with a single notification.
func (s *Store) BulkPut(ctx context.Context, table string, docs []json.RawMessage) error {
	if len(docs) == 0 {
		return nil
	}
	return s.WithTx(ctx, func(tx *Tx) error {
		return tx.BulkPut(ctx, table, docs)
	})
}

// ClearAll wipes every entity table, the operation queue and the session
// profile. Used on logout or when the user switches.
func (s *Store) ClearAll(ctx context.Context) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		for _, k := range posdata.Kinds {
			if _, err := tx.tx.ExecContext(ctx, `DELETE FROM `+k.LocalTable()); err != nil {
				return fmt.Errorf("failed to clear %s: %w", k.LocalTable(), err)
			}
			tx.touch(k.LocalTable())
		}
		if _, err := tx.tx.ExecContext(ctx, `DELETE FROM `+QueueTable); err != nil {
			return fmt.Errorf("failed to clear queue: %w", err)
		}
		tx.touch(QueueTable)
		if _, err := tx.tx.ExecContext(ctx, `DELETE FROM _session_profile`); err != nil {
			return fmt.Errorf("failed to clear session profile: %w", err)
		}
		return nil
	})
}

// initializeDatabase creates the entity tables, their indexes and the local
// control tables.
func initializeDatabase(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	_, _ = db.Exec(`PRAGMA busy_timeout = 5000`)

	var stmts []string
	for _, k := range posdata.Kinds {
		t := k.LocalTable()
		stmts = append(stmts,
			`CREATE TABLE IF NOT EXISTS `+t+` (
				id            TEXT PRIMARY KEY,
				last_modified INTEGER NOT NULL DEFAULT 0,
				synced        INTEGER NOT NULL DEFAULT 0,
				data          TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_`+t+`_last_modified ON `+t+`(last_modified)`,
			`CREATE INDEX IF NOT EXISTS idx_`+t+`_synced ON `+t+`(synced)`,
		)
	}
	for table, fields := range indexedFields {
		for _, f := range fields {
			stmts = append(stmts, fmt.Sprintf(
				`CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(json_extract(data, '$.%s'))`, table, f, table, f))
		}
	}
	stmts = append(stmts,
		`CREATE TABLE IF NOT EXISTS `+QueueTable+` (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			table_name    TEXT NOT NULL,
			record_id     TEXT NOT NULL DEFAULT '',
			operation     TEXT NOT NULL CHECK (operation IN ('insert','update','delete')),
			data          TEXT NOT NULL,
			timestamp     INTEGER NOT NULL,
			retry_count   INTEGER NOT NULL DEFAULT 0,
			status        TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','syncing','failed')),
			error_message TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON `+QueueTable+`(status)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_record ON `+QueueTable+`(table_name, record_id)`,
		`CREATE TABLE IF NOT EXISTS _session_profile (
			id   TEXT PRIMARY KEY,
			data TEXT NOT NULL
		)`,
	)

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// indexedFields are the document fields used by filtered queries.
var indexedFields = map[string][]string{
	posdata.KindProduct.LocalTable():  {"category_id", "user_id", "name"},
	posdata.KindVariant.LocalTable():  {"product_id"},
	posdata.KindCategory.LocalTable(): {"user_id"},
	posdata.KindCustomer.LocalTable(): {"user_id"},
	posdata.KindSale.LocalTable():     {"customer_id", "user_id", "created_at"},
	posdata.KindSaleItem.LocalTable(): {"sale_id", "product_id"},
	posdata.KindLoan.LocalTable():     {"customer_id", "status", "due_date"},
	posdata.KindSettings.LocalTable(): {"user_id"},
	posdata.KindHeldCart.LocalTable(): {"user_id"},
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

func checkTable(table string) error {
	if _, err := posdata.ParseKind(table); err != nil {
		return fmt.Errorf("unknown local table %q", table)
	}
	return nil
}
