// Package prefetch implements the deduplicating, concurrency-limited scheduler
// that drives cache warm-up for discovered links. One Scheduler owns the dedup
// set, the work queue and the in-flight counter for the whole session.
package prefetch

import (
	"context"
	"time"
)

// DefaultMaxConcurrent caps background warm-up fetches when no value is configured.
const DefaultMaxConcurrent = 4

// OutcomeKind classifies how a warm-up task finished.
type OutcomeKind string

// Outcome kinds reported by executors.
const (
	OutcomeStored  OutcomeKind = "stored"
	OutcomeCached  OutcomeKind = "cached"
	OutcomeSkipped OutcomeKind = "skipped"
	OutcomeFailed  OutcomeKind = "failed"
)

// Outcome is the result value of a single warm-up task. Failure is an ordinary
// outcome: the scheduler frees the slot and moves on regardless of Kind.
type Outcome struct {
	URL        string
	Kind       OutcomeKind
	StatusCode int
	Bytes      int64
	Duration   time.Duration
	Err        error
}

// Failed reports whether the task did not warm the cache.
func (o Outcome) Failed() bool {
	return o.Kind == OutcomeFailed
}

// Executor performs the side-effecting warm-up for one identifier. It must
// always return; errors are reported through the Outcome.
type Executor interface {
	Run(ctx context.Context, id string) Outcome
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, id string) Outcome

// Run calls f.
func (f ExecutorFunc) Run(ctx context.Context, id string) Outcome {
	return f(ctx, id)
}

// Listener receives scheduler lifecycle notifications. Calls happen outside the
// scheduler lock and may arrive from multiple goroutines.
type Listener interface {
	Enqueued(id string)
	Completed(outcome Outcome)
}

// Stats is a point-in-time snapshot of scheduler state.
type Stats struct {
	MaxConcurrent int   `json:"max_concurrent"`
	Enqueued      int   `json:"enqueued"`
	Claimed       int   `json:"claimed"`
	Pending       int   `json:"pending"`
	InFlight      int   `json:"in_flight"`
	PeakInFlight  int   `json:"peak_in_flight"`
	Completed     int64 `json:"completed"`
	Stored        int64 `json:"stored"`
	Cached        int64 `json:"cached"`
	Skipped       int64 `json:"skipped"`
	Failed        int64 `json:"failed"`
	Duplicates    int64 `json:"duplicates"`
}
