// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// QueueRow is the persisted form of an operation queue entry.
type QueueRow struct {
	ID           int64
	Table        string
	RecordID     string
	Operation    string
	Data         json.RawMessage
	Timestamp    int64
	RetryCount   int
	Status       string
	ErrorMessage string
}

const queueColumns = `id, table_name, record_id, operation, data, timestamp, retry_count, status, error_message`

// AppendQueue adds a queue row and returns its id.
func (o ops) AppendQueue(ctx context.Context, row *QueueRow) (int64, error) {
	res, err := o.q.ExecContext(ctx,
		`INSERT INTO `+QueueTable+` (table_name, record_id, operation, data, timestamp, retry_count, status, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		row.Table, row.RecordID, row.Operation, string(row.Data), row.Timestamp, row.RetryCount, row.Status, row.ErrorMessage)
	if err != nil {
		return 0, fmt.Errorf("failed to append queue entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue entry id: %w", err)
	}
	row.ID = id
	o.touch(QueueTable)
	return id, nil
}

// QueueRows lists queue rows in enqueue order, optionally restricted to the
// given statuses.
func (o ops) QueueRows(ctx context.Context, statuses ...string) ([]QueueRow, error) {
	stmt := `SELECT ` + queueColumns + ` FROM ` + QueueTable
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		stmt += ` WHERE status IN (` + strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",") + `)`
		for _, s := range statuses {
			args = append(args, s)
		}
	}
	stmt += ` ORDER BY id ASC`
	return o.queryQueue(ctx, stmt, args...)
}

// QueueRowsFor lists the queue rows targeting one record.
func (o ops) QueueRowsFor(ctx context.Context, table, recordID string) ([]QueueRow, error) {
	return o.queryQueue(ctx,
		`SELECT `+queueColumns+` FROM `+QueueTable+` WHERE table_name = ? AND record_id = ? ORDER BY id ASC`,
		table, recordID)
}

// QueueRow returns a single queue row or ErrNotFound.
func (o ops) QueueRow(ctx context.Context, id int64) (*QueueRow, error) {
	rows, err := o.queryQueue(ctx, `SELECT `+queueColumns+` FROM `+QueueTable+` WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

func (o ops) queryQueue(ctx context.Context, stmt string, args ...any) ([]QueueRow, error) {
	rows, err := o.q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue: %w", err)
	}
	defer rows.Close()

	var out []QueueRow
	for rows.Next() {
		var r QueueRow
		var data string
		if err := rows.Scan(&r.ID, &r.Table, &r.RecordID, &r.Operation, &data,
			&r.Timestamp, &r.RetryCount, &r.Status, &r.ErrorMessage); err != nil {
			return nil, fmt.Errorf("failed to scan queue row: %w", err)
		}
		r.Data = json.RawMessage(data)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue rows: %w", err)
	}
	return out, nil
}

// UpdateQueueRow rewrites every mutable column of an existing queue row.
func (o ops) UpdateQueueRow(ctx context.Context, row *QueueRow) error {
	res, err := o.q.ExecContext(ctx,
		`UPDATE `+QueueTable+` SET table_name = ?, record_id = ?, operation = ?, data = ?,
		   retry_count = ?, status = ?, error_message = ? WHERE id = ?`,
		row.Table, row.RecordID, row.Operation, string(row.Data), row.RetryCount, row.Status, row.ErrorMessage, row.ID)
	if err != nil {
		return fmt.Errorf("failed to update queue entry %d: %w", row.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	o.touch(QueueTable)
	return nil
}

// SetQueueStatus changes only the status of a queue row.
func (o ops) SetQueueStatus(ctx context.Context, id int64, status string) error {
	res, err := o.q.ExecContext(ctx, `UPDATE `+QueueTable+` SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to set status of queue entry %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	o.touch(QueueTable)
	return nil
}

// DeleteQueueRow removes a queue row.
func (o ops) DeleteQueueRow(ctx context.Context, id int64) error {
	if _, err := o.q.ExecContext(ctx, `DELETE FROM `+QueueTable+` WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete queue entry %d: %w", id, err)
	}
	o.touch(QueueTable)
	return nil
}

// ResetQueueStatus moves every row in status from to pending with a zero
// retry count and returns how many rows changed.
func (o ops) ResetQueueStatus(ctx context.Context, from string) (int64, error) {
	res, err := o.q.ExecContext(ctx,
		`UPDATE `+QueueTable+` SET status = 'pending', retry_count = 0, error_message = '' WHERE status = ?`, from)
	if err != nil {
		return 0, fmt.Errorf("failed to reset %s queue entries: %w", from, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		o.touch(QueueTable)
	}
	return n, nil
}

// QueueCounts returns the number of queue rows per status.
func (o ops) QueueCounts(ctx context.Context) (map[string]int, error) {
	rows, err := o.q.QueryContext(ctx, `SELECT status, COUNT(*) FROM `+QueueTable+` GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count queue entries: %w", err)
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan queue count: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

// SaveProfile stores the session profile, replacing any previous one.
func (o ops) SaveProfile(ctx context.Context, id string, data json.RawMessage) error {
	if _, err := o.q.ExecContext(ctx, `DELETE FROM _session_profile`); err != nil {
		return fmt.Errorf("failed to replace session profile: %w", err)
	}
	if _, err := o.q.ExecContext(ctx, `INSERT INTO _session_profile (id, data) VALUES (?, ?)`, id, string(data)); err != nil {
		return fmt.Errorf("failed to save session profile: %w", err)
	}
	return nil
}

// Profile returns the stored session profile or ErrNotFound.
func (o ops) Profile(ctx context.Context) (json.RawMessage, error) {
	var data string
	err := o.q.QueryRowContext(ctx, `SELECT data FROM _session_profile LIMIT 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session profile: %w", err)
	}
	return json.RawMessage(data), nil
}
