// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package possync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mobiletoly/go-offlinepos/localstore"
	"github.com/mobiletoly/go-offlinepos/posdata"
	"github.com/mobiletoly/go-offlinepos/remote"
)

// pullPhase refreshes every pulled kind concurrently. A failing kind is
// recorded in the report and does not affect the others.
func (o *Orchestrator) pullPhase(ctx context.Context, rs remote.DataStore, userID string, force bool, report *CycleReport) {
	var mu sync.Mutex
	var g errgroup.Group
	for _, kind := range o.cfg.PullKinds {
		g.Go(func() error {
			n, err := o.pullKind(ctx, rs, kind, userID, force)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.PullErrors[kind] = err.Error()
				o.logger.Error("Failed to pull table", "table", kind, "error", err)
				return nil
			}
			report.Pulled[kind] = n
			return nil
		})
	}
	_ = g.Wait()
}

// pullKind fetches the rows of one kind changed since the local high-water
// mark and merges them into the Local Store. Returns the number of rows
// written locally.
func (o *Orchestrator) pullKind(ctx context.Context, rs remote.DataStore, kind posdata.Kind, userID string, force bool) (int, error) {
	table := kind.LocalTable()
	var mark int64
	if !force {
		var err error
		mark, err = o.store.MaxSyncedLastModified(ctx, table)
		if err != nil {
			return 0, err
		}
	}

	filters := []remote.Filter{remote.Eq("user_id", userID)}
	if mark > 0 {
		filters = append(filters, remote.Gt("updated_at", posdata.NowISO(time.UnixMilli(mark))))
	}
	selectStart := o.stageStart()
	rctx, cancel := o.requestContext(ctx)
	rows, err := rs.Select(rctx, kind.RemoteTable(), filters...)
	cancel()
	o.observeStage(ctx, MetricsOpPull, MetricsStagePullSelect, string(kind), selectStart, len(rows), err != nil)
	if err != nil {
		return 0, fmt.Errorf("failed to select %s: %w", kind.RemoteTable(), err)
	}

	written := 0
	mergeStart := o.stageStart()
	err = o.store.WithTx(ctx, func(tx *localstore.Tx) error {
		for _, row := range rows {
			doc, lm, err := posdata.FromRemote(kind, row)
			if err != nil {
				return err
			}
			id, _ := row["id"].(string)
			if kind == posdata.KindSettings {
				id = userID
			}
			if id == "" {
				continue
			}
			keep, err := keepLocal(ctx, tx, kind, id, lm)
			if err != nil {
				return err
			}
			if keep {
				continue
			}
			if err := tx.Put(ctx, table, doc); err != nil {
				return err
			}
			written++
		}
		if kind == posdata.KindSettings && len(rows) == 0 {
			return seedDefaultSettings(ctx, tx, userID)
		}
		return nil
	})
	o.observeStage(ctx, MetricsOpPull, MetricsStagePullMerge, string(kind), mergeStart, written, err != nil)
	if err != nil {
		return 0, err
	}
	if written > 0 {
		o.logger.Debug("Pulled rows", "table", kind, "rows", written, "since", mark)
	}
	return written, nil
}

// keepLocal decides whether the local row wins over a remote row stamped
// remoteLM. A synced row already at that stamp is unchanged. An unsynced row
// that is newer and still has queued changes wins (last write wins).
func keepLocal(ctx context.Context, tx *localstore.Tx, kind posdata.Kind, id string, remoteLM int64) (bool, error) {
	local, err := tx.Get(ctx, kind.LocalTable(), id)
	if errors.Is(err, localstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if local.Synced {
		return local.LastModified == remoteLM, nil
	}
	if local.LastModified <= remoteLM {
		return false, nil
	}
	queued, err := tx.QueueRowsFor(ctx, string(kind), id)
	if err != nil {
		return false, err
	}
	return len(queued) > 0, nil
}

// seedDefaultSettings stores the default settings when the user has none,
// locally unsynced and not queued; saving them later inserts the row.
func seedDefaultSettings(ctx context.Context, tx *localstore.Tx, userID string) error {
	_, err := tx.Get(ctx, posdata.KindSettings.LocalTable(), userID)
	if err == nil || !errors.Is(err, localstore.ErrNotFound) {
		return err
	}
	doc, err := json.Marshal(posdata.DefaultSettings(userID))
	if err != nil {
		return fmt.Errorf("failed to encode default settings: %w", err)
	}
	return tx.Put(ctx, posdata.KindSettings.LocalTable(), doc)
}
