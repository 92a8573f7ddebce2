package prefetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkwarmer/internal/metrics"
)

// Config controls Scheduler behavior.
//   - MaxConcurrent: ceiling on admitted, not-yet-completed tasks (default 4).
//   - TaskTimeout: optional per-task deadline; zero leaves tasks unbounded.
//   - BaseContext: parent context handed to executors (defaults to context.Background()).
type Config struct {
	MaxConcurrent int
	TaskTimeout   time.Duration
	BaseContext   context.Context
}

// Scheduler admits enqueued identifiers to the executor while fewer than
// MaxConcurrent tasks are in flight. Enqueue order is claim order.
type Scheduler struct {
	cfg      Config
	exec     Executor
	listener Listener
	logger   *zap.Logger

	mu       sync.Mutex
	seen     *dedupSet
	queue    *workQueue
	inFlight int
	peak     int
	counts   outcomeCounts
	dupes    int64
	drained  chan struct{}
}

type outcomeCounts struct {
	stored, cached, skipped, failed int64
}

func (c outcomeCounts) total() int64 {
	return c.stored + c.cached + c.skipped + c.failed
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithListener registers a lifecycle listener.
func WithListener(l Listener) Option {
	return func(s *Scheduler) {
		s.listener = l
	}
}

// New constructs a Scheduler bound to exec.
func New(cfg Config, exec Executor, logger *zap.Logger, opts ...Option) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	drained := make(chan struct{})
	close(drained)
	s := &Scheduler{
		cfg:     cfg,
		exec:    exec,
		logger:  logger,
		seen:    newDedupSet(),
		queue:   newWorkQueue(),
		drained: drained,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue submits id for warm-up. It returns false when id was seen before, in
// which case nothing happens. Accepted ids are admitted immediately if a slot
// is free.
func (s *Scheduler) Enqueue(id string) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	if !s.seen.markIfNew(id) {
		s.dupes++
		s.mu.Unlock()
		metrics.ObserveEnqueue(false)
		return false
	}
	s.queue.push(id)
	s.markBusyLocked()
	admitted := s.admitLocked()
	s.publishStateLocked()
	s.mu.Unlock()

	metrics.ObserveEnqueue(true)
	if s.listener != nil {
		s.listener.Enqueued(id)
	}
	s.launch(admitted)
	return true
}

// admitLocked claims pending items while capacity remains. The caller must
// hold s.mu so that the check and the claim happen as one step.
func (s *Scheduler) admitLocked() []string {
	var admitted []string
	for s.inFlight < s.cfg.MaxConcurrent {
		id, ok := s.queue.claim()
		if !ok {
			break
		}
		s.inFlight++
		if s.inFlight > s.peak {
			s.peak = s.inFlight
		}
		admitted = append(admitted, id)
	}
	return admitted
}

func (s *Scheduler) launch(ids []string) {
	for _, id := range ids {
		go s.run(id)
	}
}

func (s *Scheduler) run(id string) {
	outcome := s.execute(id)
	s.complete(outcome)
}

func (s *Scheduler) execute(id string) (outcome Outcome) {
	ctx := s.cfg.BaseContext
	if s.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.TaskTimeout)
		defer cancel()
	}
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			outcome = Outcome{
				URL:      id,
				Kind:     OutcomeFailed,
				Duration: time.Since(start),
				Err:      fmt.Errorf("executor panic: %v", rec),
			}
		}
	}()
	outcome = s.exec.Run(ctx, id)
	if outcome.URL == "" {
		outcome.URL = id
	}
	if outcome.Kind == "" {
		outcome.Kind = OutcomeStored
		if outcome.Err != nil {
			outcome.Kind = OutcomeFailed
		}
	}
	return outcome
}

// complete releases the slot held by a finished task and refills it.
func (s *Scheduler) complete(outcome Outcome) {
	s.mu.Lock()
	s.inFlight--
	switch outcome.Kind {
	case OutcomeCached:
		s.counts.cached++
	case OutcomeSkipped:
		s.counts.skipped++
	case OutcomeFailed:
		s.counts.failed++
	default:
		s.counts.stored++
	}
	admitted := s.admitLocked()
	if s.inFlight == 0 && s.queue.pending() == 0 {
		s.markDrainedLocked()
	}
	s.publishStateLocked()
	s.mu.Unlock()

	if outcome.Failed() {
		s.logger.Debug("prefetch failed",
			zap.String("url", outcome.URL),
			zap.Int("status_code", outcome.StatusCode),
			zap.Error(outcome.Err),
		)
	}
	metrics.ObserveOutcome(outcome.URL, string(outcome.Kind), outcome.Bytes)
	if s.listener != nil {
		s.listener.Completed(outcome)
	}
	s.launch(admitted)
}

// markBusyLocked re-arms the drained channel when new work arrives.
func (s *Scheduler) markBusyLocked() {
	select {
	case <-s.drained:
		s.drained = make(chan struct{})
	default:
	}
}

func (s *Scheduler) markDrainedLocked() {
	select {
	case <-s.drained:
	default:
		close(s.drained)
	}
}

func (s *Scheduler) publishStateLocked() {
	metrics.SetQueueState(s.inFlight, s.queue.pending())
}

// Wait blocks until every queued identifier has been claimed and completed,
// or ctx ends. Items enqueued while waiting extend the wait.
func (s *Scheduler) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		ch := s.drained
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return fmt.Errorf("scheduler wait: %w", ctx.Err())
		case <-ch:
		}
		s.mu.Lock()
		idle := s.inFlight == 0 && s.queue.pending() == 0
		s.mu.Unlock()
		if idle {
			return nil
		}
	}
}

// Seen reports whether id has ever been enqueued.
func (s *Scheduler) Seen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen.has(id)
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		MaxConcurrent: s.cfg.MaxConcurrent,
		Enqueued:      s.queue.len(),
		Claimed:       s.queue.claimed(),
		Pending:       s.queue.pending(),
		InFlight:      s.inFlight,
		PeakInFlight:  s.peak,
		Completed:     s.counts.total(),
		Stored:        s.counts.stored,
		Cached:        s.counts.cached,
		Skipped:       s.counts.skipped,
		Failed:        s.counts.failed,
		Duplicates:    s.dupes,
	}
}
