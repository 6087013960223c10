// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package possync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mobiletoly/go-offlinepos/localstore"
	"github.com/mobiletoly/go-offlinepos/posdata"
)

// Op is the mutation an entry replays on the remote store.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Status is the lifecycle state of a queue entry.
type Status string

const (
	StatusPending Status = "pending"
	StatusSyncing Status = "syncing"
	StatusFailed  Status = "failed"
)

// Entry is one pending local mutation awaiting remote confirmation.
type Entry struct {
	ID           int64
	Kind         posdata.Kind
	RecordID     string
	Op           Op
	Data         json.RawMessage
	Timestamp    int64
	RetryCount   int
	Status       Status
	ErrorMessage string
}

func entryFromRow(r localstore.QueueRow) Entry {
	return Entry{
		ID:           r.ID,
		Kind:         posdata.Kind(r.Table),
		RecordID:     r.RecordID,
		Op:           Op(r.Operation),
		Data:         r.Data,
		Timestamp:    r.Timestamp,
		RetryCount:   r.RetryCount,
		Status:       Status(r.Status),
		ErrorMessage: r.ErrorMessage,
	}
}

func (e *Entry) row() *localstore.QueueRow {
	return &localstore.QueueRow{
		ID:           e.ID,
		Table:        string(e.Kind),
		RecordID:     e.RecordID,
		Operation:    string(e.Op),
		Data:         e.Data,
		Timestamp:    e.Timestamp,
		RetryCount:   e.RetryCount,
		Status:       string(e.Status),
		ErrorMessage: e.ErrorMessage,
	}
}

// Queue is the Operation Queue Manager. Enqueue is the single write path of
// the application: it applies a mutation to the Local Store and records it
// for push in one transaction.
type Queue struct {
	store  *localstore.Store
	clock  Clock
	logger *slog.Logger

	onEnqueue func()
}

// NewQueue creates a queue over store.
func NewQueue(store *localstore.Store, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{store: store, clock: SystemClock, logger: logger}
}

// SetClock replaces the clock used to stamp mutations.
func (q *Queue) SetClock(c Clock) { q.clock = c }

// Store returns the Local Store the queue writes to.
func (q *Queue) Store() *localstore.Store { return q.store }

// OnEnqueue registers a hook called (without blocking) after each enqueue.
func (q *Queue) OnEnqueue(fn func()) { q.onEnqueue = fn }

// Mutation is one local change submitted to EnqueueAll.
type Mutation struct {
	Kind    posdata.Kind
	Op      Op
	Payload any // must encode to a JSON object with an "id"
}

// Enqueue stamps payload with lastModified=now and synced=false, applies it
// locally (insert puts the full row, update merges fields into the existing
// row, delete removes it) and appends a pending entry. When it returns, local
// reads reflect the mutation whatever the network state.
func (q *Queue) Enqueue(ctx context.Context, kind posdata.Kind, op Op, payload any) (*Entry, error) {
	entries, err := q.EnqueueAll(ctx, Mutation{Kind: kind, Op: op, Payload: payload})
	if err != nil {
		return nil, err
	}
	return entries[0], nil
}

// EnqueueAll applies several mutations in one transaction: either all of
// them are applied and queued, in order, or none is.
func (q *Queue) EnqueueAll(ctx context.Context, muts ...Mutation) ([]*Entry, error) {
	if len(muts) == 0 {
		return nil, nil
	}
	now := q.clock.Now()
	entries := make([]*Entry, len(muts))
	for i, m := range muts {
		e, err := prepareEntry(m, now)
		if err != nil {
			return nil, err
		}
		entries[i] = e
	}

	err := q.store.WithTx(ctx, func(tx *localstore.Tx) error {
		for _, e := range entries {
			if err := applyLocal(ctx, tx, e); err != nil {
				return err
			}
			if err := appendEntry(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		q.logger.Debug("Queued local mutation", "table", e.Kind, "op", e.Op, "id", e.RecordID)
	}
	if q.onEnqueue != nil {
		q.onEnqueue()
	}
	return entries, nil
}

func prepareEntry(m Mutation, now time.Time) (*Entry, error) {
	if !m.Kind.Valid() {
		return nil, fmt.Errorf("cannot enqueue unknown kind %q", m.Kind)
	}
	switch m.Op {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return nil, fmt.Errorf("unknown operation %q", m.Op)
	}
	raw, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", m.Kind, err)
	}
	stamped, err := posdata.Stamp(raw, now)
	if err != nil {
		return nil, err
	}
	doc, err := posdata.DecodeDocument(stamped)
	if err != nil {
		return nil, err
	}
	id, ok := posdata.StringField(doc, "id")
	if !ok {
		return nil, fmt.Errorf("%s payload has no id", m.Kind)
	}
	e := &Entry{
		Kind:      m.Kind,
		RecordID:  id,
		Op:        m.Op,
		Data:      stamped,
		Timestamp: now.UnixMilli(),
		Status:    StatusPending,
	}
	if m.Op == OpDelete {
		e.Data = json.RawMessage(fmt.Sprintf(`{"id":%q}`, id))
	}
	return e, nil
}

func applyLocal(ctx context.Context, tx *localstore.Tx, e *Entry) error {
	table := e.Kind.LocalTable()
	switch e.Op {
	case OpInsert:
		return tx.Put(ctx, table, e.Data)
	case OpUpdate:
		_, err := tx.Patch(ctx, table, e.RecordID, e.Data)
		return err
	default:
		return tx.Delete(ctx, table, e.RecordID)
	}
}

// Append adds an entry without touching entity tables.
func (q *Queue) Append(ctx context.Context, e *Entry) error {
	return q.store.WithTx(ctx, func(tx *localstore.Tx) error {
		return appendEntry(ctx, tx, e)
	})
}

func appendEntry(ctx context.Context, tx *localstore.Tx, e *Entry) error {
	id, err := tx.AppendQueue(ctx, e.row())
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

// Entries lists entries in enqueue order, optionally filtered by status.
func (q *Queue) Entries(ctx context.Context, statuses ...Status) ([]Entry, error) {
	ss := make([]string, len(statuses))
	for i, s := range statuses {
		ss[i] = string(s)
	}
	rows, err := q.store.QueueRows(ctx, ss...)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, len(rows))
	for i, r := range rows {
		out[i] = entryFromRow(r)
	}
	return out, nil
}

// Eligible lists the entries the push phase may attempt: pending ones and
// syncing ones left over from an interrupted cycle. Failed entries are
// excluded until re-armed.
func (q *Queue) Eligible(ctx context.Context) ([]Entry, error) {
	return q.Entries(ctx, StatusPending, StatusSyncing)
}

// Get returns one entry.
func (q *Queue) Get(ctx context.Context, id int64) (*Entry, error) {
	row, err := q.store.QueueRow(ctx, id)
	if err != nil {
		return nil, err
	}
	e := entryFromRow(*row)
	return &e, nil
}

// EntriesFor lists the entries targeting one record.
func (q *Queue) EntriesFor(ctx context.Context, kind posdata.Kind, recordID string) ([]Entry, error) {
	rows, err := q.store.QueueRowsFor(ctx, string(kind), recordID)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, len(rows))
	for i, r := range rows {
		out[i] = entryFromRow(r)
	}
	return out, nil
}

// MarkSyncing moves an entry to syncing before its push is attempted.
func (q *Queue) MarkSyncing(ctx context.Context, e *Entry) error {
	if err := q.store.SetQueueStatus(ctx, e.ID, string(StatusSyncing)); err != nil {
		return err
	}
	e.Status = StatusSyncing
	return nil
}

// Complete removes a successfully pushed entry.
func (q *Queue) Complete(ctx context.Context, e *Entry) error {
	return q.store.DeleteQueueRow(ctx, e.ID)
}

// Fail records a failed attempt: the retry count grows by one and the entry
// goes back to pending, or to failed once maxRetries attempts have failed.
func (q *Queue) Fail(ctx context.Context, e *Entry, cause error, maxRetries int) error {
	e.RetryCount++
	e.ErrorMessage = cause.Error()
	if e.RetryCount >= maxRetries {
		e.Status = StatusFailed
	} else {
		e.Status = StatusPending
	}
	err := q.store.UpdateQueueRow(ctx, e.row())
	if errors.Is(err, localstore.ErrNotFound) {
		// Removed concurrently (local data cleared); nothing to record.
		return nil
	}
	return err
}

// Update persists every field of e.
func (q *Queue) Update(ctx context.Context, e *Entry) error {
	return q.store.UpdateQueueRow(ctx, e.row())
}

// ResetFailed re-arms every failed entry as pending with a zero retry count.
func (q *Queue) ResetFailed(ctx context.Context) (int64, error) {
	return q.store.ResetQueueStatus(ctx, string(StatusFailed))
}

// Retry re-arms a single entry.
func (q *Queue) Retry(ctx context.Context, id int64) error {
	e, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	e.Status = StatusPending
	e.RetryCount = 0
	e.ErrorMessage = ""
	return q.Update(ctx, e)
}

// Counts returns the number of entries per status.
func (q *Queue) Counts(ctx context.Context) (map[Status]int, error) {
	raw, err := q.store.QueueCounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[Status]int, len(raw))
	for k, v := range raw {
		out[Status(k)] = v
	}
	return out, nil
}
