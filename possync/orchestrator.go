// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package possync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mobiletoly/go-offlinepos/localstore"
	"github.com/mobiletoly/go-offlinepos/posdata"
	"github.com/mobiletoly/go-offlinepos/remote"
)

// ErrNotStarted is returned by StopAutoSync when no loop is running.
var ErrNotStarted = errors.New("auto sync is not running")

// CycleReport summarizes one sync cycle.
type CycleReport struct {
	Skipped    bool // another cycle was already running
	Offline    bool // no identity; nothing was attempted
	Pushed     int
	Failed     int
	Repaired   int
	Pulled     map[posdata.Kind]int
	PullErrors map[posdata.Kind]string
	StartedAt  time.Time
	Duration   time.Duration
}

func (r *CycleReport) pulledTotal() int {
	n := 0
	for _, c := range r.Pulled {
		n += c
	}
	return n
}

// EngineStatus is a snapshot of the engine state.
type EngineStatus struct {
	Running    bool
	AutoSync   bool
	Queue      map[Status]int
	LastReport *CycleReport
}

// Orchestrator drives sync cycles: push the queue in dependency order, then
// pull remote changes. At most one cycle runs at a time.
type Orchestrator struct {
	store    *localstore.Store
	queue    *Queue
	remote   remote.DataStore
	identity IdentityProvider
	cfg      *Config
	logger   *slog.Logger
	clock    Clock
	notifier Notifier

	running      atomic.Bool
	pushPaused   atomic.Bool
	pullPaused   atomic.Bool
	wake         chan struct{}
	mu           sync.Mutex
	cancel       context.CancelFunc
	loops        sync.WaitGroup
	lastReport   *CycleReport
	startedLoops bool
}

// NewOrchestrator wires the engine. When rs also implements
// remote.UserScoper, each cycle works on the view of the signed-in user.
// The queue's enqueue hook is set to Trigger.
func NewOrchestrator(store *localstore.Store, queue *Queue, rs remote.DataStore, identity IdentityProvider, cfg *Config, logger *slog.Logger) *Orchestrator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if len(cfg.PullKinds) == 0 {
		cfg.PullKinds = posdata.PulledKinds()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		store:    store,
		queue:    queue,
		remote:   rs,
		identity: identity,
		cfg:      cfg,
		logger:   logger,
		clock:    SystemClock,
		wake:     make(chan struct{}, 1),
	}
	queue.OnEnqueue(o.Trigger)
	return o
}

// SetClock replaces the clock used by the orchestrator and its queue.
func (o *Orchestrator) SetClock(c Clock) {
	o.clock = c
	o.queue.SetClock(c)
}

// SetNotifier registers the receiver of informational notices.
func (o *Orchestrator) SetNotifier(n Notifier) { o.notifier = n }

// Queue returns the operation queue the orchestrator drains.
func (o *Orchestrator) Queue() *Queue { return o.queue }

// PausePush suspends the push phase of subsequent cycles.
func (o *Orchestrator) PausePush() { o.pushPaused.Store(true) }

// ResumePush re-enables the push phase.
func (o *Orchestrator) ResumePush() { o.pushPaused.Store(false) }

// PausePull suspends the pull phase of subsequent cycles.
func (o *Orchestrator) PausePull() { o.pullPaused.Store(true) }

// ResumePull re-enables the pull phase.
func (o *Orchestrator) ResumePull() { o.pullPaused.Store(false) }

func (o *Orchestrator) notify(n Notice) {
	if o.notifier != nil {
		o.notifier.Notify(n)
	}
}

// SyncNow runs one cycle. If a cycle is already in progress it returns
// immediately with Skipped set. A missing identity aborts the cycle quietly
// with Offline set. force ignores the high-water marks and pulls every row.
// Item failures are recorded in the queue and the report; the returned
// error is reserved for Local Store failures.
func (o *Orchestrator) SyncNow(ctx context.Context, force bool) (*CycleReport, error) {
	if !o.running.CompareAndSwap(false, true) {
		o.logger.Debug("Sync already in progress, skipping")
		return &CycleReport{Skipped: true}, nil
	}
	defer o.running.Store(false)

	report := &CycleReport{
		Pulled:     make(map[posdata.Kind]int),
		PullErrors: make(map[posdata.Kind]string),
		StartedAt:  o.clock.Now(),
	}
	start := time.Now()
	defer func() {
		report.Duration = time.Since(start)
		o.mu.Lock()
		o.lastReport = report
		o.mu.Unlock()
	}()

	ident, err := o.identity.CurrentIdentity(ctx)
	if err != nil || ident == nil || ident.ID == "" {
		if err != nil {
			o.logger.Debug("No identity available, skipping sync", "error", err)
		}
		report.Offline = true
		return report, nil
	}

	rs := o.remote
	if scoper, ok := rs.(remote.UserScoper); ok {
		rs = scoper.ForUser(ident.ID)
	}

	cycleStart := o.stageStart()
	if !o.pushPaused.Load() {
		pushStart := o.stageStart()
		err := o.pushPhase(ctx, rs, report)
		o.observeStage(ctx, MetricsOpPush, MetricsStageTotal, "", pushStart, report.Pushed, err != nil || report.Failed > 0)
		if err != nil {
			o.observeStage(ctx, MetricsOpCycle, MetricsStageTotal, "", cycleStart, report.Pushed, true)
			return report, err
		}
	}
	if !o.pullPaused.Load() {
		o.pullPhase(ctx, rs, ident.ID, force, report)
	}
	o.observeStage(ctx, MetricsOpCycle, MetricsStageTotal, "", cycleStart,
		report.Pushed+report.pulledTotal(), report.Failed > 0 || len(report.PullErrors) > 0)

	o.logger.Info("Sync cycle finished",
		"pushed", report.Pushed, "failed", report.Failed, "repaired", report.Repaired,
		"pull_errors", len(report.PullErrors), "duration", time.Since(start))
	return report, nil
}

// StartAutoSync prepares the queue and starts the background loops: all
// failed entries are re-armed, historical sale item entries are repaired,
// then a cycle runs immediately and every interval (or on Trigger), and the
// retention sweep runs on its own period. The loops stop when ctx is done
// or StopAutoSync is called.
func (o *Orchestrator) StartAutoSync(ctx context.Context, interval time.Duration) error {
	o.mu.Lock()
	if o.startedLoops {
		o.mu.Unlock()
		return fmt.Errorf("auto sync already started")
	}
	o.startedLoops = true
	o.mu.Unlock()

	if n, err := o.queue.ResetFailed(ctx); err != nil {
		o.resetStarted()
		return err
	} else if n > 0 {
		o.logger.Info("Re-armed failed queue entries", "count", n)
	}
	if _, err := o.RepairHistoricalEntries(ctx); err != nil {
		o.resetStarted()
		return err
	}

	if interval <= 0 {
		interval = o.cfg.SyncInterval
	}
	loopCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()

	o.loops.Add(2)
	go o.syncLoop(loopCtx, interval)
	go o.retentionLoop(loopCtx)
	o.logger.Info("Auto sync started", "interval", interval)
	return nil
}

func (o *Orchestrator) resetStarted() {
	o.mu.Lock()
	o.startedLoops = false
	o.mu.Unlock()
}

// StopAutoSync stops the background loops and waits for a running cycle to
// finish.
func (o *Orchestrator) StopAutoSync() error {
	o.mu.Lock()
	cancel := o.cancel
	o.cancel = nil
	started := o.startedLoops
	o.startedLoops = false
	o.mu.Unlock()
	if !started || cancel == nil {
		return ErrNotStarted
	}
	cancel()
	o.loops.Wait()
	o.logger.Info("Auto sync stopped")
	return nil
}

// Trigger asks the sync loop for a cycle as soon as possible. It never
// blocks; requests made while one is pending are coalesced.
func (o *Orchestrator) Trigger() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// OnReconnect is called when connectivity returns.
func (o *Orchestrator) OnReconnect() {
	o.logger.Debug("Connectivity restored")
	o.Trigger()
}

func (o *Orchestrator) syncLoop(ctx context.Context, interval time.Duration) {
	defer o.loops.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-o.wake:
		}
		o.runCycle(ctx)
	}
}

func (o *Orchestrator) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	// A cycle in flight finishes even if the loop is being stopped.
	if _, err := o.SyncNow(context.WithoutCancel(ctx), false); err != nil {
		o.logger.Error("Sync cycle failed", "error", err)
	}
}

func (o *Orchestrator) retentionLoop(ctx context.Context) {
	defer o.loops.Done()
	period := o.cfg.RetentionInterval
	if period <= 0 {
		period = time.Hour
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.SweepRetention(ctx); err != nil && ctx.Err() == nil {
				o.logger.Error("Retention sweep failed", "error", err)
			}
		}
	}
}

// RetryFailed re-arms every failed entry and triggers a cycle.
func (o *Orchestrator) RetryFailed(ctx context.Context) (int64, error) {
	n, err := o.queue.ResetFailed(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		o.Trigger()
	}
	return n, nil
}

// ClearAllLocalData wipes the Local Store, including the queue. Used on
// logout or when another user signs in.
func (o *Orchestrator) ClearAllLocalData(ctx context.Context) error {
	if err := o.store.ClearAll(ctx); err != nil {
		return err
	}
	o.logger.Info("Cleared all local data")
	return nil
}

// Status reports whether a cycle is running, the queue counts per status
// and the last cycle report.
func (o *Orchestrator) Status(ctx context.Context) (*EngineStatus, error) {
	counts, err := o.queue.Counts(ctx)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return &EngineStatus{
		Running:    o.running.Load(),
		AutoSync:   o.startedLoops,
		Queue:      counts,
		LastReport: o.lastReport,
	}, nil
}
