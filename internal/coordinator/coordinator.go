// Package coordinator decides when discovery runs. It scans once at start,
// coalesces document mutations into low-priority batch scans and runs one
// final sweep after the page settles.
package coordinator

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkwarmer/internal/discovery"
	"github.com/JakeFAU/linkwarmer/internal/document"
	"github.com/JakeFAU/linkwarmer/internal/idle"
)

// Default scheduling hints.
const (
	DefaultBatchTimeout      = 100 * time.Millisecond
	DefaultFinalSweepTimeout = 2 * time.Second
)

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("coordinator: already started")

// Trigger names what caused a scan.
type Trigger string

// Scan triggers.
const (
	TriggerInitial Trigger = "initial"
	TriggerBatch   Trigger = "batch"
	TriggerFinal   Trigger = "final"
)

// Source is the live document being watched.
type Source interface {
	Read(fn func(root *goquery.Selection, base, origin *url.URL))
	Observe(fn func(document.Mutation)) (cancel func())
}

// Scanner runs discovery over a scope.
type Scanner interface {
	Scan(scope *goquery.Selection, base, origin *url.URL) discovery.ScanResult
}

// ScanReporter is notified after every scan.
type ScanReporter interface {
	Scanned(trigger string, enqueued int, dur time.Duration)
}

// Config holds the idle-scheduling hints.
type Config struct {
	BatchTimeout      time.Duration
	FinalSweepTimeout time.Duration
}

// Stats is a snapshot of coordinator activity.
type Stats struct {
	Started     bool                 `json:"started"`
	FinalDone   bool                 `json:"final_sweep_done"`
	Scans       map[Trigger]int      `json:"scans"`
	Signals     int64                `json:"signals"`
	Coalesced   int64                `json:"coalesced"`
	LastTrigger Trigger              `json:"last_trigger,omitempty"`
	LastScan    discovery.ScanResult `json:"last_scan"`
	LastScanAt  time.Time            `json:"last_scan_at"`
}

// Coordinator wires a document, a scanner and an idle scheduler together.
type Coordinator struct {
	cfg      Config
	source   Source
	scanner  Scanner
	idle     idle.Scheduler
	reporter ScanReporter
	logger   *zap.Logger

	debouncer *Debouncer

	startOnce sync.Once
	ctxMu     sync.RWMutex
	ctx       context.Context
	done      chan struct{}
	doneOnce  sync.Once

	scanMu   sync.Mutex
	mu       sync.Mutex
	scans    map[Trigger]int
	signals  int64
	last     discovery.ScanResult
	lastTrig Trigger
	lastAt   time.Time
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithReporter registers a ScanReporter.
func WithReporter(r ScanReporter) Option {
	return func(c *Coordinator) {
		c.reporter = r
	}
}

// New builds a Coordinator. A nil scheduler falls back to the timer scheduler.
func New(cfg Config, source Source, scanner Scanner, sched idle.Scheduler, logger *zap.Logger, opts ...Option) *Coordinator {
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}
	if cfg.FinalSweepTimeout <= 0 {
		cfg.FinalSweepTimeout = DefaultFinalSweepTimeout
	}
	if sched == nil {
		sched = idle.TimerScheduler{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		cfg:     cfg,
		source:  source,
		scanner: scanner,
		idle:    sched,
		logger:  logger,
		done:    make(chan struct{}),
		scans:   make(map[Trigger]int),
	}
	c.debouncer = NewDebouncer(c.scheduleBatch, func() { c.scan(TriggerBatch) })
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start runs the initial scan, subscribes to document mutations and schedules
// the final sweep. Cancelling ctx unsubscribes and turns pending callbacks
// into no-ops.
func (c *Coordinator) Start(ctx context.Context) error {
	err := ErrAlreadyStarted
	c.startOnce.Do(func() {
		err = nil
		c.ctxMu.Lock()
		c.ctx = ctx
		c.ctxMu.Unlock()

		c.scan(TriggerInitial)
		unsubscribe := c.source.Observe(func(document.Mutation) { c.Notify() })
		context.AfterFunc(ctx, unsubscribe)
		c.idle.ScheduleWhenIdle(ctx, c.finalSweep, c.cfg.FinalSweepTimeout)
		c.logger.Info("coordinator started",
			zap.Duration("batch_timeout", c.cfg.BatchTimeout),
			zap.Duration("final_sweep_timeout", c.cfg.FinalSweepTimeout),
		)
	})
	return err
}

// Notify signals that the document changed. It returns true when the signal
// scheduled a new batch scan and false when it was coalesced into a pending
// one or the coordinator is not running.
func (c *Coordinator) Notify() bool {
	ctx := c.runContext()
	if ctx == nil || ctx.Err() != nil {
		return false
	}
	c.mu.Lock()
	c.signals++
	c.mu.Unlock()
	return c.debouncer.Trigger()
}

// Done is closed once the final sweep has run.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Stats returns a snapshot of coordinator activity.
func (c *Coordinator) Stats() Stats {
	_, coalesced := c.debouncer.Counts()
	c.mu.Lock()
	defer c.mu.Unlock()
	scans := make(map[Trigger]int, len(c.scans))
	for k, v := range c.scans {
		scans[k] = v
	}
	final := false
	select {
	case <-c.done:
		final = true
	default:
	}
	return Stats{
		Started:     c.runContext() != nil,
		FinalDone:   final,
		Scans:       scans,
		Signals:     c.signals,
		Coalesced:   coalesced,
		LastTrigger: c.lastTrig,
		LastScan:    c.last,
		LastScanAt:  c.lastAt,
	}
}

func (c *Coordinator) runContext() context.Context {
	c.ctxMu.RLock()
	defer c.ctxMu.RUnlock()
	return c.ctx
}

func (c *Coordinator) scheduleBatch(fire func()) {
	c.idle.ScheduleWhenIdle(c.runContext(), fire, c.cfg.BatchTimeout)
}

func (c *Coordinator) finalSweep() {
	c.scan(TriggerFinal)
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Coordinator) scan(trigger Trigger) {
	c.scanMu.Lock()
	defer c.scanMu.Unlock()

	start := time.Now()
	var result discovery.ScanResult
	c.source.Read(func(root *goquery.Selection, base, origin *url.URL) {
		result = c.scanner.Scan(root, base, origin)
	})
	dur := time.Since(start)

	c.mu.Lock()
	c.scans[trigger]++
	c.last = result
	c.lastTrig = trigger
	c.lastAt = start
	c.mu.Unlock()

	c.logger.Debug("scan finished",
		zap.String("trigger", string(trigger)),
		zap.Int("candidates", result.Candidates),
		zap.Int("enqueued", result.Enqueued),
		zap.Duration("dur", dur),
	)
	if c.reporter != nil {
		c.reporter.Scanned(string(trigger), result.Enqueued, dur)
	}
}
