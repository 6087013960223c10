// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package possync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mobiletoly/go-offlinepos/localstore"
	"github.com/mobiletoly/go-offlinepos/posdata"
	"github.com/mobiletoly/go-offlinepos/remote"
)

// pushPhase pushes every eligible entry once, in dependency order. A failed
// entry never stops the phase.
func (o *Orchestrator) pushPhase(ctx context.Context, rs remote.DataStore, report *CycleReport) error {
	eligible, err := o.queue.Eligible(ctx)
	if err != nil {
		return fmt.Errorf("failed to load queue: %w", err)
	}
	if len(eligible) == 0 {
		return nil
	}
	sortStart := o.stageStart()
	ordered := SortByDependency(eligible)
	o.observeStage(ctx, MetricsOpPush, MetricsStagePushSort, "", sortStart, len(ordered), false)
	o.logger.Debug("Push phase", "entries", len(ordered))

	// Entries rewritten by healing during this phase; their sorted copies are stale.
	healedIDs := make(map[int64]bool)
	for i := range ordered {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e := &ordered[i]
		if healedIDs[e.ID] {
			fresh, err := o.queue.Get(ctx, e.ID)
			if errors.Is(err, localstore.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			e = fresh
		}
		if err := o.queue.MarkSyncing(ctx, e); err != nil {
			if errors.Is(err, localstore.ErrNotFound) {
				continue
			}
			return err
		}

		pushErr := o.pushEntry(ctx, rs, e)
		if pushErr == nil {
			if err := o.queue.Complete(ctx, e); err != nil {
				return err
			}
			report.Pushed++
			if err := o.markPushed(ctx, e); err != nil {
				o.logger.Warn("Failed to mark record synced", "table", e.Kind, "id", e.RecordID, "error", err)
			}
			continue
		}

		if remote.IsForeignKeyViolation(pushErr) {
			healStart := o.stageStart()
			n, err := o.healParents(ctx, rs, e, report, healedIDs)
			o.observeStage(ctx, MetricsOpPush, MetricsStagePushHeal, string(e.Kind), healStart, n, err != nil)
			if err != nil {
				o.logger.Error("Self-healing failed", "table", e.Kind, "id", e.RecordID, "error", err)
			}
			report.Repaired += n
		}
		if err := o.queue.Fail(ctx, e, pushErr, o.cfg.MaxRetries); err != nil {
			return err
		}
		report.Failed++
		o.logger.Error("Failed to push entry",
			"table", e.Kind, "op", e.Op, "id", e.RecordID, "retry_count", e.RetryCount,
			"status", e.Status, "error", pushErr)
	}
	return nil
}

// pushEntry replays one entry against the remote store. An insert hitting a
// uniqueness conflict is retried as an update of the same id, so replaying
// an already applied insert converges instead of failing.
func (o *Orchestrator) pushEntry(ctx context.Context, rs remote.DataStore, e *Entry) error {
	if !e.Kind.Valid() {
		return fmt.Errorf("unknown table %q", e.Kind)
	}
	table := e.Kind.RemoteTable()
	ctx, cancel := o.requestContext(ctx)
	defer cancel()

	switch e.Op {
	case OpDelete:
		return rs.Delete(ctx, table, e.RecordID)
	case OpInsert, OpUpdate:
		row, err := posdata.ToRemote(e.Kind, e.Data)
		if err != nil {
			return err
		}
		if e.Op == OpUpdate {
			delete(row, "id")
			return rs.Update(ctx, table, e.RecordID, row)
		}
		err = rs.Insert(ctx, table, row)
		if remote.IsUniqueViolation(err) {
			o.logger.Warn("Insert conflicted with existing row, updating instead", "table", e.Kind, "id", e.RecordID)
			delete(row, "id")
			return rs.Update(ctx, table, e.RecordID, row)
		}
		return err
	default:
		return fmt.Errorf("unknown operation %q", e.Op)
	}
}

// markPushed flags push-only records as synced once nothing else is queued
// for them. Pulled kinds are confirmed by the pull phase instead.
func (o *Orchestrator) markPushed(ctx context.Context, e *Entry) error {
	if e.Op == OpDelete || e.Kind.Pulled() {
		return nil
	}
	rest, err := o.queue.EntriesFor(ctx, e.Kind, e.RecordID)
	if err != nil || len(rest) > 0 {
		return err
	}
	_, err = o.store.Patch(ctx, e.Kind.LocalTable(), e.RecordID, json.RawMessage(`{"synced":true}`))
	if errors.Is(err, localstore.ErrNotFound) {
		return nil
	}
	return err
}

func (o *Orchestrator) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.cfg.RequestTimeout)
}
