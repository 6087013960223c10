// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package possync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mobiletoly/go-offlinepos/localstore"
	"github.com/mobiletoly/go-offlinepos/posdata"
	"github.com/mobiletoly/go-offlinepos/remote"
)

// healParents runs after e was rejected for a missing referenced row. Every
// parent that exists locally but not remotely gets a full-row insert queued:
// an existing insert or update entry for it is promoted, otherwise a new
// insert is appended. A parent of a lower tier pushes ahead of e on the next
// cycle; a parent of the same tier is pushed right away, since the sort
// keeps enqueue order within a tier. The ids of the parent entries are added
// to touched. Returns the number of parents whose queue entry changed.
func (o *Orchestrator) healParents(ctx context.Context, rs remote.DataStore, e *Entry, report *CycleReport, touched map[int64]bool) (int, error) {
	refs := e.Kind.Parents()
	if len(refs) == 0 || e.Op == OpDelete {
		return 0, nil
	}
	doc, err := posdata.DecodeDocument(e.Data)
	if err != nil {
		return 0, err
	}
	if e.Op == OpUpdate {
		// Partial payloads may not carry the references; use the local row.
		if rec, err := o.store.Get(ctx, e.Kind.LocalTable(), e.RecordID); err == nil {
			if full, err := posdata.DecodeDocument(rec.Data); err == nil {
				doc = full
			}
		}
	}

	healed := 0
	for _, ref := range refs {
		parentID, ok := posdata.StringField(doc, ref.Field)
		if !ok {
			continue
		}
		if o.existsRemotely(ctx, rs, ref.Kind, parentID) {
			continue
		}
		entryID, changed, err := o.requeueParent(ctx, ref.Kind, parentID)
		if err != nil {
			return healed, err
		}
		if entryID == 0 {
			continue
		}
		touched[entryID] = true
		if changed {
			healed++
		}
		if ref.Kind.Tier() < e.Kind.Tier() {
			continue
		}
		pushed, err := o.pushHealed(ctx, rs, entryID)
		if err != nil {
			return healed, err
		}
		if pushed {
			report.Pushed++
		}
	}
	return healed, nil
}

// pushHealed pushes a healed parent entry outside the sorted order. A failed
// attempt leaves the entry pending without counting a retry.
func (o *Orchestrator) pushHealed(ctx context.Context, rs remote.DataStore, id int64) (bool, error) {
	pe, err := o.queue.Get(ctx, id)
	if errors.Is(err, localstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := o.queue.MarkSyncing(ctx, pe); err != nil {
		return false, err
	}
	if pushErr := o.pushEntry(ctx, rs, pe); pushErr != nil {
		o.logger.Warn("Healed parent push failed, left for the next cycle",
			"table", pe.Kind, "id", pe.RecordID, "error", pushErr)
		pe.Status = StatusPending
		return false, o.queue.Update(ctx, pe)
	}
	if err := o.queue.Complete(ctx, pe); err != nil {
		return false, err
	}
	if err := o.markPushed(ctx, pe); err != nil {
		o.logger.Warn("Failed to mark record synced", "table", pe.Kind, "id", pe.RecordID, "error", err)
	}
	return true, nil
}

func (o *Orchestrator) existsRemotely(ctx context.Context, rs remote.DataStore, kind posdata.Kind, id string) bool {
	ctx, cancel := o.requestContext(ctx)
	defer cancel()
	rows, err := rs.Select(ctx, kind.RemoteTable(), remote.Eq("id", id))
	return err == nil && len(rows) > 0
}

// requeueParent makes sure a pending insert carrying the full local row of
// the parent is queued. It returns the id of that entry, zero when the parent
// is unknown locally or is queued for deletion, and whether the queue had to
// change. A notice is sent only for a change.
func (o *Orchestrator) requeueParent(ctx context.Context, kind posdata.Kind, id string) (int64, bool, error) {
	rec, err := o.store.Get(ctx, kind.LocalTable(), id)
	if errors.Is(err, localstore.ErrNotFound) {
		o.logger.Warn("Referenced row missing locally, cannot heal", "table", kind, "id", id)
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	var (
		entryID int64
		changed bool
	)
	err = o.store.WithTx(ctx, func(tx *localstore.Tx) error {
		rows, err := tx.QueueRowsFor(ctx, string(kind), id)
		if err != nil {
			return err
		}
		for _, r := range rows {
			if r.Operation == string(OpDelete) {
				return errSkipHeal
			}
		}
		if len(rows) > 0 {
			// Promote the oldest entry so it keeps its place in enqueue order.
			first := rows[0]
			entryID = first.ID
			if first.Operation == string(OpInsert) && first.Status == string(StatusPending) &&
				first.RetryCount == 0 && first.ErrorMessage == "" && bytes.Equal(first.Data, rec.Data) {
				return nil
			}
			first.Operation = string(OpInsert)
			first.Data = rec.Data
			first.Status = string(StatusPending)
			first.RetryCount = 0
			first.ErrorMessage = ""
			changed = true
			return tx.UpdateQueueRow(ctx, &first)
		}
		entryID, err = tx.AppendQueue(ctx, &localstore.QueueRow{
			Table:     string(kind),
			RecordID:  id,
			Operation: string(OpInsert),
			Data:      rec.Data,
			Timestamp: o.clock.Now().UnixMilli(),
			Status:    string(StatusPending),
		})
		changed = err == nil
		return err
	})
	if errors.Is(err, errSkipHeal) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to requeue %s/%s: %w", kind, id, err)
	}
	if !changed {
		return entryID, false, nil
	}

	var name string
	if doc, err := posdata.DecodeDocument(rec.Data); err == nil {
		name, _ = posdata.StringField(doc, displayField(kind))
	}
	if name == "" {
		name = id
	}
	o.logger.Info("Queued missing parent for push", "table", kind, "id", id)
	o.notify(Notice{Kind: kind, RecordID: id, Message: fmt.Sprintf("Repaired sync for %s: %s", kind, name)})
	return entryID, true, nil
}

var errSkipHeal = errors.New("parent is queued for deletion")

func displayField(kind posdata.Kind) string {
	switch kind {
	case posdata.KindSale:
		return "receipt_number"
	case posdata.KindVariant:
		return "variant_name"
	default:
		return "name"
	}
}

// RepairHistoricalEntries fixes queued sale items whose product_id holds a
// variant id. Each is pointed at the variant's parent product (keeping the
// variant in variant_id) and re-armed as pending. The local sale item row is
// corrected too. Returns the number of entries rewritten.
func (o *Orchestrator) RepairHistoricalEntries(ctx context.Context) (int, error) {
	entries, err := o.queue.Entries(ctx, StatusPending, StatusFailed)
	if err != nil {
		return 0, err
	}
	repaired := 0
	for i := range entries {
		e := &entries[i]
		if e.Kind != posdata.KindSaleItem || e.Op == OpDelete {
			continue
		}
		doc, err := posdata.DecodeDocument(e.Data)
		if err != nil {
			o.logger.Warn("Skipping undecodable queue entry", "entry", e.ID, "error", err)
			continue
		}
		productID, ok := posdata.StringField(doc, "product_id")
		if !ok {
			continue
		}
		vrec, err := o.store.Get(ctx, posdata.KindVariant.LocalTable(), productID)
		if errors.Is(err, localstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return repaired, err
		}
		var variant posdata.ProductVariant
		if err := vrec.Decode(&variant); err != nil {
			return repaired, err
		}
		if variant.ProductID == "" {
			continue
		}

		fix := map[string]any{"product_id": variant.ProductID}
		if _, ok := posdata.StringField(doc, "variant_id"); !ok {
			fix["variant_id"] = variant.ID
		}
		if _, ok := posdata.StringField(doc, "variant_name"); !ok && variant.VariantName != "" {
			fix["variant_name"] = variant.VariantName
		}
		for k, v := range fix {
			doc[k] = v
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return repaired, fmt.Errorf("failed to encode repaired entry %d: %w", e.ID, err)
		}
		patch, err := json.Marshal(fix)
		if err != nil {
			return repaired, err
		}

		e.Data = data
		e.Status = StatusPending
		e.RetryCount = 0
		e.ErrorMessage = ""
		err = o.store.WithTx(ctx, func(tx *localstore.Tx) error {
			if err := tx.UpdateQueueRow(ctx, e.row()); err != nil {
				return err
			}
			_, err := tx.Patch(ctx, posdata.KindSaleItem.LocalTable(), e.RecordID, patch)
			if errors.Is(err, localstore.ErrNotFound) {
				return nil
			}
			return err
		})
		if err != nil {
			return repaired, fmt.Errorf("failed to repair queue entry %d: %w", e.ID, err)
		}
		repaired++
		o.logger.Info("Repaired sale item pointing at a variant",
			"entry", e.ID, "id", e.RecordID, "variant_id", variant.ID, "product_id", variant.ProductID)
	}
	return repaired, nil
}
