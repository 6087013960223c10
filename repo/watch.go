// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"log/slog"

	"github.com/mobiletoly/go-offlinepos/localstore"
)

// Watch is a typed live query. C delivers the current result right away and
// again after every change; only the newest result is kept for a slow reader.
type Watch[T any] struct {
	sub    *localstore.Subscription
	logger *slog.Logger
	out    chan []T
	done   chan struct{}
}

func newWatch[T any](sub *localstore.Subscription, logger *slog.Logger) *Watch[T] {
	return &Watch[T]{sub: sub, logger: logger, out: make(chan []T, 1), done: make(chan struct{})}
}

func (w *Watch[T]) start() *Watch[T] {
	go w.run()
	return w
}

func (w *Watch[T]) run() {
	defer close(w.done)
	defer close(w.out)
	for recs := range w.sub.C() {
		items, err := decodeAll[T](recs)
		if err != nil {
			w.logger.Error("Live query returned an undecodable row", "table", w.sub.Table(), "error", err)
			continue
		}
		select {
		case w.out <- items:
		default:
			select {
			case <-w.out:
			default:
			}
			w.out <- items
		}
	}
}

// C delivers snapshots until the watch is closed.
func (w *Watch[T]) C() <-chan []T { return w.out }

// Close ends the watch.
func (w *Watch[T]) Close() {
	w.sub.Close()
	<-w.done
}
