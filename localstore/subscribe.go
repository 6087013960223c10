// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"sync"
)

// Subscription is a live query. It emits the current result set right away
// and again after every committed change to its table. Only the newest
// result is buffered, so a slow reader skips intermediate snapshots.
type Subscription struct {
	store  *Store
	table  string
	query  Query
	out    chan []Record
	dirty  chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Subscribe starts a live query over table.
func (s *Store) Subscribe(table string, q Query) (*Subscription, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		store:  s,
		table:  table,
		query:  q,
		out:    make(chan []Record, 1),
		dirty:  make(chan struct{}, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.subsMu.Lock()
	if s.subs[table] == nil {
		s.subs[table] = make(map[*Subscription]struct{})
	}
	s.subs[table][sub] = struct{}{}
	s.subsMu.Unlock()

	sub.dirty <- struct{}{}
	go sub.run(ctx)
	return sub, nil
}

// Table names the table the subscription follows.
func (sub *Subscription) Table() string { return sub.table }

// C delivers result snapshots. It is closed when the subscription ends.
func (sub *Subscription) C() <-chan []Record { return sub.out }

// Close stops the subscription and waits for its goroutine to exit.
func (sub *Subscription) Close() {
	sub.once.Do(func() {
		sub.store.subsMu.Lock()
		delete(sub.store.subs[sub.table], sub)
		sub.store.subsMu.Unlock()
		sub.cancel()
		<-sub.done
	})
}

func (sub *Subscription) run(ctx context.Context) {
	defer close(sub.done)
	defer close(sub.out)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.dirty:
		}
		recs, err := sub.store.ops.Query(ctx, sub.table, sub.query)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			sub.store.logger.Error("Live query failed", "table", sub.table, "error", err)
			continue
		}
		if recs == nil {
			recs = []Record{}
		}
		select {
		case sub.out <- recs:
		default:
			// Replace the unread snapshot with the newer one.
			select {
			case <-sub.out:
			default:
			}
			sub.out <- recs
		}
	}
}

// notify marks every subscription of table as stale.
func (s *Store) notify(table string) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for sub := range s.subs[table] {
		select {
		case sub.dirty <- struct{}{}:
		default:
		}
	}
}
