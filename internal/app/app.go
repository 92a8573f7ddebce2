// Package app builds the long-lived services of a linkwarmer process and runs
// them either as a server or as a one-shot warm-up.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkwarmer/internal/api"
	"github.com/JakeFAU/linkwarmer/internal/cache"
	"github.com/JakeFAU/linkwarmer/internal/cache/local"
	"github.com/JakeFAU/linkwarmer/internal/cache/memory"
	"github.com/JakeFAU/linkwarmer/internal/clock/system"
	"github.com/JakeFAU/linkwarmer/internal/config"
	"github.com/JakeFAU/linkwarmer/internal/coordinator"
	"github.com/JakeFAU/linkwarmer/internal/discovery"
	"github.com/JakeFAU/linkwarmer/internal/document"
	"github.com/JakeFAU/linkwarmer/internal/document/filewatch"
	"github.com/JakeFAU/linkwarmer/internal/document/headless"
	collyfetcher "github.com/JakeFAU/linkwarmer/internal/fetcher/colly"
	"github.com/JakeFAU/linkwarmer/internal/hash/sha256"
	"github.com/JakeFAU/linkwarmer/internal/id/uuid"
	"github.com/JakeFAU/linkwarmer/internal/idle"
	"github.com/JakeFAU/linkwarmer/internal/logging"
	"github.com/JakeFAU/linkwarmer/internal/policy/ratelimit"
	"github.com/JakeFAU/linkwarmer/internal/prefetch"
	"github.com/JakeFAU/linkwarmer/internal/progress"
	progresssinks "github.com/JakeFAU/linkwarmer/internal/progress/sinks"
	"github.com/JakeFAU/linkwarmer/internal/robots"
	"github.com/JakeFAU/linkwarmer/internal/warm"
)

// App contains the application's dependencies.
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	session [16]byte

	doc         *document.Document
	cache       cache.Store
	scheduler   *prefetch.Scheduler
	coordinator *coordinator.Coordinator
	tracker     *idle.Tracker
	reporter    *progress.Reporter
	progressHub *progress.Hub
	sites       *progresssinks.SiteSink
	watcher     *filewatch.Watcher
	browser     *headless.Source
	apiServer   *api.Server
}

// Summary is the result of a run, printed by the warm command.
type Summary struct {
	Session      string            `json:"session"`
	Prefetch     prefetch.Stats    `json:"prefetch"`
	Coordinator  coordinator.Stats `json:"coordinator"`
	CacheEntries int               `json:"cache_entries"`
	Duration     time.Duration     `json:"duration"`
}

type buildOptions struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
}

// Option customizes Build.
type Option func(*buildOptions)

// WithLogger supplies a logger instead of building one from config.
func WithLogger(l *zap.Logger) Option {
	return func(o *buildOptions) { o.logger = l }
}

// WithRegisterer registers progress collectors somewhere other than the
// default Prometheus registry.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *buildOptions) { o.registerer = r }
}

// Build creates the application's dependencies. ctx bounds every background
// fetch the scheduler starts.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development, logging.WithLevel(cfg.Logging.Level))
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}

	session, err := uuid.New().NewSession()
	if err != nil {
		return nil, err
	}
	app := &App{cfg: cfg, logger: logger, session: session}
	app.logger.Info("building application dependencies",
		zap.String("session", uuid.FormatSession(session)),
		zap.String("document_source", cfg.Document.Source),
		zap.String("cache_backend", cfg.Cache.Backend),
	)

	emitter, err := app.setupProgress(ctx, o.registerer)
	if err != nil {
		return nil, err
	}
	app.reporter = progress.NewReporter(emitter, session)

	if err := app.setupCache(); err != nil {
		return nil, err
	}
	exec, err := app.setupExecutor()
	if err != nil {
		return nil, err
	}
	app.scheduler = prefetch.New(prefetch.Config{
		MaxConcurrent: cfg.Prefetch.MaxConcurrent,
		TaskTimeout:   cfg.Prefetch.TaskTimeout,
		BaseContext:   ctx,
	}, exec, logger.Named("prefetch"), prefetch.WithListener(app.reporter))

	if err := app.setupDocument(); err != nil {
		return nil, err
	}

	scanner := discovery.New(discovery.Config{
		ExcludedPrefixes: cfg.Prefetch.ExcludedPrefixes,
		StaticExtensions: cfg.Prefetch.StaticExtensions,
	}, app.scheduler, logger.Named("discovery"))
	app.tracker = idle.NewTracker()
	app.coordinator = coordinator.New(coordinator.Config{
		BatchTimeout:      cfg.Prefetch.BatchTimeout,
		FinalSweepTimeout: cfg.Prefetch.FinalSweepTimeout,
	}, app.doc, scanner, idle.New(app.tracker), logger.Named("coordinator"),
		coordinator.WithReporter(app.reporter))

	deps := api.Deps{
		Document:    app.doc,
		Scheduler:   app.scheduler,
		Coordinator: app.coordinator,
		Cache:       app.cache,
		Tracker:     app.tracker,
		Logger:      logger.Named("api"),
	}
	if app.sites != nil {
		deps.Sites = app.sites
	}
	app.apiServer = api.NewServer(deps)
	return app, nil
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) (progress.Emitter, error) {
	if !a.cfg.Progress.Enabled {
		a.logger.Info("progress tracking disabled")
		return nil, nil
	}
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("progress prometheus sink: %w", err)
	}
	a.sites = progresssinks.NewSiteSink()
	sinkList := []progress.Sink{promSink, a.sites}
	if a.cfg.Progress.LogEvents {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
		a.logger.Debug("added progress log sink")
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Progress.MaxBatchWait,
		SinkTimeout:    a.cfg.Progress.SinkTimeout,
		BaseContext:    ctx,
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Int("sinks", len(sinkList)),
	)
	return a.progressHub, nil
}

func (a *App) setupCache() error {
	switch a.cfg.Cache.Backend {
	case config.CacheLocal:
		store, err := local.New(local.Config{BaseDir: a.cfg.Cache.Dir})
		if err != nil {
			return fmt.Errorf("local cache init failed: %w", err)
		}
		a.cache = store
		a.logger.Info("using local cache", zap.String("dir", a.cfg.Cache.Dir), zap.Int("entries", store.Len()))
	default:
		a.cache = memory.New()
		a.logger.Info("using in-memory cache")
	}
	return nil
}

func (a *App) setupExecutor() (*warm.Executor, error) {
	fc := a.cfg.Fetch
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   fc.UserAgent,
		Timeout:     fc.Timeout,
		MaxBodySize: fc.MaxBodyBytes,
	})
	exec, err := warm.New(warm.Config{UserAgent: fc.UserAgent}, warm.Deps{
		Fetcher: fetcher,
		Cache:   a.cache,
		Robots:  robots.New(fc.RespectRobots, fc.UserAgent, a.logger.Named("robots")),
		Limiter: ratelimit.New(ratelimit.Config{DefaultRPS: fc.RPS, DefaultBurst: fc.Burst, Backoff: fc.Backoff}),
		Hasher:  sha256.New(),
		Clock:   system.New(),
		Logger:  a.logger.Named("warm"),
	})
	if err != nil {
		return nil, fmt.Errorf("warm executor init failed: %w", err)
	}
	a.logger.Info("warm-up fetcher configured",
		zap.String("user_agent", fc.UserAgent),
		zap.Duration("timeout", fc.Timeout),
		zap.Float64("rps", fc.RPS),
		zap.Bool("respect_robots", fc.RespectRobots),
	)
	return exec, nil
}

func (a *App) setupDocument() error {
	switch a.cfg.Document.Source {
	case config.SourceHeadless:
		base, err := (config.DocumentConfig{BaseURL: a.cfg.Headless.URL}).Base()
		if err != nil {
			return err
		}
		a.doc = document.New(base)
		a.browser, err = headless.New(headless.Config{
			URL:               a.cfg.Headless.URL,
			UserAgent:         a.cfg.Fetch.UserAgent,
			NavigationTimeout: a.cfg.Headless.NavigationTimeout,
			PollInterval:      a.cfg.Headless.PollInterval,
			ExecPath:          a.cfg.Headless.ExecPath,
		}, a.doc, a.logger.Named("headless"))
		if err != nil {
			return fmt.Errorf("headless source init failed: %w", err)
		}
	default:
		base, err := a.cfg.Document.Base()
		if err != nil {
			return err
		}
		a.doc = document.New(base)
		if a.cfg.Document.Source == config.SourceFile {
			a.watcher = filewatch.New(a.cfg.Document.Path, a.doc, a.cfg.Document.Settle, a.logger.Named("filewatch"))
		}
	}
	return nil
}

// Handler exposes the API for tests and embedding.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// startSources loads the initial document and starts live updates. A failed
// initial file load is fatal; a failed watch or browser only disables live
// updates.
func (a *App) startSources(ctx context.Context, watch bool) error {
	if a.watcher != nil {
		if _, err := a.watcher.Load(); err != nil {
			return fmt.Errorf("load document: %w", err)
		}
		if watch {
			go func() {
				if err := a.watcher.Run(ctx); err != nil {
					a.logger.Warn("document watch stopped; live reload disabled", zap.Error(err))
				}
			}()
		}
	}
	if a.browser != nil {
		go func() {
			err := a.browser.Run(ctx)
			switch {
			case errors.Is(err, headless.ErrUnavailable):
				a.logger.Warn("chrome unavailable; headless document source disabled", zap.Error(err))
			case err != nil:
				a.logger.Warn("headless document source stopped", zap.Error(err))
			}
		}()
	}
	return nil
}

// Run serves the API and keeps warming until ctx is canceled or the process
// is signalled.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	a.reporter.SessionStarted("serve")
	if err := a.startSources(ctx, a.cfg.Document.Watch); err != nil {
		return err
	}
	if err := a.coordinator.Start(ctx); err != nil {
		return fmt.Errorf("start coordinator: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.reporter.SessionDone(time.Since(start), "serve")
	return a.Close(shutdownCtx)
}

// Warm loads the document once, lets the coordinator run its initial scan and
// final sweep, and waits for every enqueued fetch to finish.
func (a *App) Warm(ctx context.Context) (Summary, error) {
	start := time.Now()
	a.reporter.SessionStarted("warm")

	var firstSnapshot chan struct{}
	if a.browser != nil {
		firstSnapshot = make(chan struct{})
		var once sync.Once
		cancel := a.doc.Observe(func(document.Mutation) {
			once.Do(func() { close(firstSnapshot) })
		})
		defer cancel()
	}
	if err := a.startSources(ctx, false); err != nil {
		return Summary{}, err
	}
	if firstSnapshot != nil {
		wait := time.NewTimer(a.cfg.Headless.NavigationTimeout)
		select {
		case <-firstSnapshot:
		case <-wait.C:
			a.logger.Warn("no headless snapshot before navigation timeout; warming the empty document")
		case <-ctx.Done():
		}
		wait.Stop()
	}

	if err := a.coordinator.Start(ctx); err != nil {
		return Summary{}, fmt.Errorf("start coordinator: %w", err)
	}
	select {
	case <-a.coordinator.Done():
	case <-ctx.Done():
		return a.Summary(time.Since(start)), fmt.Errorf("wait for final sweep: %w", ctx.Err())
	}
	if err := a.scheduler.Wait(ctx); err != nil {
		return a.Summary(time.Since(start)), fmt.Errorf("drain prefetch queue: %w", err)
	}
	dur := time.Since(start)
	a.reporter.SessionDone(dur, "warm")
	a.logger.Info("warm-up finished",
		zap.Int("enqueued", a.scheduler.Stats().Enqueued),
		zap.Int("cache_entries", a.cache.Len()),
		zap.Duration("dur", dur),
	)
	return a.Summary(dur), nil
}

// Summary snapshots the run.
func (a *App) Summary(dur time.Duration) Summary {
	return Summary{
		Session:      uuid.FormatSession(a.session),
		Prefetch:     a.scheduler.Stats(),
		Coordinator:  a.coordinator.Stats(),
		CacheEntries: a.cache.Len(),
		Duration:     dur,
	}
}

// Close flushes progress events and the logger.
func (a *App) Close(ctx context.Context) error {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return nil
}
