// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package possync

import (
	"context"
	"time"

	"github.com/mobiletoly/go-offlinepos/localstore"
	"github.com/mobiletoly/go-offlinepos/posdata"
)

// SweepRetention purges synced sales older than RetentionDays from the Local
// Store together with their items. Sales or items that still have queued
// entries are left alone. Nothing is queued; the remote copy is kept.
// Returns the number of sales removed.
func (o *Orchestrator) SweepRetention(ctx context.Context) (int, error) {
	if o.cfg.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := o.clock.Now().Add(-time.Duration(o.cfg.RetentionDays) * 24 * time.Hour).UnixMilli()
	removed := 0
	start := o.stageStart()
	err := o.store.WithTx(ctx, func(tx *localstore.Tx) error {
		old, err := tx.Query(ctx, posdata.KindSale.LocalTable(), localstore.Query{
			Where: []localstore.Cond{
				localstore.Eq("synced", true),
				{Field: "lastModified", Op: localstore.OpLt, Value: cutoff},
			},
		})
		if err != nil {
			return err
		}
	sales:
		for _, sale := range old {
			queued, err := tx.QueueRowsFor(ctx, string(posdata.KindSale), sale.ID)
			if err != nil {
				return err
			}
			if len(queued) > 0 {
				continue
			}
			items, err := tx.Query(ctx, posdata.KindSaleItem.LocalTable(), localstore.Query{
				Where: []localstore.Cond{localstore.Eq("sale_id", sale.ID)},
			})
			if err != nil {
				return err
			}
			for _, it := range items {
				queued, err := tx.QueueRowsFor(ctx, string(posdata.KindSaleItem), it.ID)
				if err != nil {
					return err
				}
				if len(queued) > 0 {
					continue sales
				}
			}
			if _, err := tx.DeleteWhere(ctx, posdata.KindSaleItem.LocalTable(), localstore.Eq("sale_id", sale.ID)); err != nil {
				return err
			}
			if err := tx.Delete(ctx, posdata.KindSale.LocalTable(), sale.ID); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	o.observeStage(ctx, MetricsOpRetention, MetricsStageTotal, posdata.KindSale.LocalTable(), start, removed, err != nil)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		o.logger.Info("Retention sweep removed old sales", "sales", removed, "older_than_days", o.cfg.RetentionDays)
	}
	return removed, nil
}
