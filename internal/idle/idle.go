// Package idle runs low-priority callbacks when foreground work has quiesced.
package idle

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Scheduler defers fn until the process is idle or timeout elapses,
// whichever comes first. fn never runs after ctx is done.
type Scheduler interface {
	ScheduleWhenIdle(ctx context.Context, fn func(), timeout time.Duration)
}

// New returns an activity-aware scheduler backed by tracker, or a plain timer
// scheduler when tracker is nil.
func New(tracker *Tracker) Scheduler {
	if tracker == nil {
		return TimerScheduler{}
	}
	return &ActivityScheduler{tracker: tracker}
}

// Tracker counts in-flight foreground requests.
type Tracker struct {
	mu     sync.Mutex
	active int
	idle   chan struct{}
}

// NewTracker returns a Tracker that starts idle.
func NewTracker() *Tracker {
	idle := make(chan struct{})
	close(idle)
	return &Tracker{idle: idle}
}

// Begin marks the start of a foreground request.
func (t *Tracker) Begin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == 0 {
		t.idle = make(chan struct{})
	}
	t.active++
}

// End marks the end of a foreground request started with Begin.
func (t *Tracker) End() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == 0 {
		return
	}
	t.active--
	if t.active == 0 {
		close(t.idle)
	}
}

// Active returns the number of in-flight foreground requests.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Idle returns a channel closed once no foreground request is in flight.
func (t *Tracker) Idle() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.idle
}

// Middleware counts every request passing through next as foreground work.
func (t *Tracker) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Begin()
		defer t.End()
		next.ServeHTTP(w, r)
	})
}

// ActivityScheduler runs callbacks once the Tracker reports no foreground work.
type ActivityScheduler struct {
	tracker *Tracker
}

// ScheduleWhenIdle implements Scheduler. The callback always yields at least
// once to the runtime so that it never runs on the caller's stack.
func (s *ActivityScheduler) ScheduleWhenIdle(ctx context.Context, fn func(), timeout time.Duration) {
	go func() {
		var deadline <-chan time.Time
		if timeout > 0 {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			deadline = timer.C
		}
		select {
		case <-ctx.Done():
			return
		case <-s.tracker.Idle():
		case <-deadline:
		}
		if ctx.Err() != nil {
			return
		}
		fn()
	}()
}

// TimerScheduler is the fallback used when no activity signal exists: fn
// runs after timeout.
type TimerScheduler struct{}

// ScheduleWhenIdle implements Scheduler.
func (TimerScheduler) ScheduleWhenIdle(ctx context.Context, fn func(), timeout time.Duration) {
	var (
		mu   sync.Mutex
		stop func() bool
	)
	mu.Lock()
	defer mu.Unlock()
	timer := time.AfterFunc(timeout, func() {
		mu.Lock()
		release := stop
		mu.Unlock()
		release()
		if ctx.Err() != nil {
			return
		}
		fn()
	})
	stop = context.AfterFunc(ctx, func() { timer.Stop() })
}
