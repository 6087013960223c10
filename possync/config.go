// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package possync is the offline-first sync engine: the operation queue every
// local mutation goes through, the dependency-aware push of queued entries to
// the remote store, the delta pull of remote rows, self-healing of missing
// parents and the retention sweep.
package possync

import (
	"context"
	"time"

	"github.com/mobiletoly/go-offlinepos/posdata"
)

// Config holds the orchestrator settings.
type Config struct {
	SyncInterval      time.Duration // periodic cycle; 30s
	MaxRetries        int           // failed attempts before an entry is parked; 3
	RetentionDays     int           // age after which synced sales are purged locally; 30
	RetentionInterval time.Duration // how often the retention sweep runs; 1h
	RequestTimeout    time.Duration // per remote call; 30s
	PullKinds         []posdata.Kind

	// StageMetrics, when set, receives per-stage timings of every cycle.
	StageMetrics StageMetricsRecorder
	// LogStageTimings logs the same timings at debug level.
	LogStageTimings bool
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:      30 * time.Second,
		MaxRetries:        3,
		RetentionDays:     30,
		RetentionInterval: time.Hour,
		RequestTimeout:    30 * time.Second,
		PullKinds:         posdata.PulledKinds(),
	}
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// IdentityProvider returns the signed-in user, or nil when nobody is signed
// in. Any error is treated like an absent identity by the orchestrator.
type IdentityProvider interface {
	CurrentIdentity(ctx context.Context) (*posdata.Identity, error)
}

// StaticIdentity always reports the same identity (nil for signed out).
type StaticIdentity struct {
	Identity *posdata.Identity
}

func (s StaticIdentity) CurrentIdentity(context.Context) (*posdata.Identity, error) {
	return s.Identity, nil
}

// Notice is an informational message for the user, such as a completed
// repair. It never signals a failure.
type Notice struct {
	Kind     posdata.Kind
	RecordID string
	Message  string
}

// Notifier receives notices.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }
