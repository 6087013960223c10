// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package possync

import (
	"context"
	"time"
)

const (
	MetricsOpCycle     = "cycle"
	MetricsOpPush      = "push"
	MetricsOpPull      = "pull"
	MetricsOpRetention = "retention"

	MetricsStageTotal = "total"

	// Push stages.
	MetricsStagePushSort = "sort"
	MetricsStagePushHeal = "heal"

	// Pull stages, reported per kind.
	MetricsStagePullSelect = "select"
	MetricsStagePullMerge  = "merge"
)

// StageTiming is one observed stage of a sync operation. Table is empty for
// stages that span every kind.
type StageTiming struct {
	Operation string
	Stage     string
	Table     string
	Duration  time.Duration
	Count     int
	Error     bool
}

// StageMetricsRecorder receives stage timings, e.g. to feed a metrics
// backend.
type StageMetricsRecorder interface {
	ObserveStage(ctx context.Context, timing StageTiming)
}

type StageMetricsRecorderFunc func(ctx context.Context, timing StageTiming)

func (f StageMetricsRecorderFunc) ObserveStage(ctx context.Context, timing StageTiming) {
	f(ctx, timing)
}

func (o *Orchestrator) stageTimingEnabled() bool {
	return o.cfg.StageMetrics != nil || o.cfg.LogStageTimings
}

// stageStart returns the zero time when nobody listens, which turns the
// matching observeStage into a no-op.
func (o *Orchestrator) stageStart() time.Time {
	if !o.stageTimingEnabled() {
		return time.Time{}
	}
	return time.Now()
}

func (o *Orchestrator) observeStage(ctx context.Context, op, stage, table string, start time.Time, count int, hadError bool) {
	if start.IsZero() {
		return
	}
	timing := StageTiming{
		Operation: op,
		Stage:     stage,
		Table:     table,
		Duration:  time.Since(start),
		Count:     count,
		Error:     hadError,
	}
	if o.cfg.StageMetrics != nil {
		o.cfg.StageMetrics.ObserveStage(ctx, timing)
	}
	if o.cfg.LogStageTimings {
		o.logger.Debug("Stage timing",
			"op", timing.Operation,
			"stage", timing.Stage,
			"table", timing.Table,
			"duration", timing.Duration,
			"count", timing.Count,
			"error", timing.Error,
		)
	}
}
