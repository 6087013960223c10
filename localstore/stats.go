// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mobiletoly/go-offlinepos/posdata"
)

// Stats summarizes the size of the local cache.
type Stats struct {
	Rows         map[posdata.Kind]int `json:"rows"`
	Unsynced     map[posdata.Kind]int `json:"unsynced"`
	Queue        map[string]int       `json:"queue"`
	EstimatedKiB int64                `json:"estimated_kib"`
}

// Stats reports per-table row counts, queue counts and an estimate of the
// space taken by cached documents.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		Rows:     make(map[posdata.Kind]int, len(posdata.Kinds)),
		Unsynced: make(map[posdata.Kind]int, len(posdata.Kinds)),
	}
	var bytes int64
	for _, k := range posdata.Kinds {
		var rows, unsynced int
		var size int64
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*), COALESCE(SUM(CASE WHEN synced = 0 THEN 1 ELSE 0 END), 0), COALESCE(SUM(length(data)), 0) FROM `+k.LocalTable()).
			Scan(&rows, &unsynced, &size)
		if err != nil {
			return nil, fmt.Errorf("failed to collect stats for %s: %w", k, err)
		}
		st.Rows[k] = rows
		st.Unsynced[k] = unsynced
		bytes += size
	}
	queue, err := s.QueueCounts(ctx)
	if err != nil {
		return nil, err
	}
	st.Queue = queue
	st.EstimatedKiB = bytes / 1024
	return st, nil
}

// SaveProfile atomically replaces the session profile.
func (s *Store) SaveProfile(ctx context.Context, profile *posdata.UserProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode session profile: %w", err)
	}
	return s.WithTx(ctx, func(tx *Tx) error {
		return tx.SaveProfile(ctx, profile.ID, data)
	})
}

// LoadProfile returns the cached session profile or ErrNotFound.
func (s *Store) LoadProfile(ctx context.Context) (*posdata.UserProfile, error) {
	data, err := s.Profile(ctx)
	if err != nil {
		return nil, err
	}
	var p posdata.UserProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode session profile: %w", err)
	}
	return &p, nil
}
