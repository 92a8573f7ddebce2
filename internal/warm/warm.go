// Package warm performs the background fetch behind each admitted prefetch
// task and writes the response into the cache store.
package warm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkwarmer/internal/cache"
	"github.com/JakeFAU/linkwarmer/internal/prefetch"
)

// Request headers that mark a fetch as a low-priority same-origin prefetch.
const (
	HeaderPriority     = "Priority"
	HeaderSecPurpose   = "Sec-Purpose"
	HeaderSecFetchSite = "Sec-Fetch-Site"

	PriorityLowest  = "u=7, i"
	PurposePrefetch = "prefetch"
	FetchSiteSame   = "same-origin"
)

// ErrDisallowed marks a URL that robots.txt forbids.
var ErrDisallowed = errors.New("warm: disallowed by robots.txt")

// Request is one outgoing warm-up fetch.
type Request struct {
	URL     string
	Headers http.Header
}

// Response is what a Fetcher returns for any completed exchange, 2xx or not.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Fetcher performs a single GET.
type Fetcher interface {
	Fetch(ctx context.Context, request Request) (Response, error)
}

// RobotsPolicy reports whether a URL may be fetched.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// RateLimiter throttles fetches per host and learns from responses.
type RateLimiter interface {
	Wait(ctx context.Context, rawURL string) error
	ReportResult(rawURL string, status int, retryAfter time.Duration)
}

// Hasher computes digests for stored bodies.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Config controls request decoration.
type Config struct {
	UserAgent string
}

// Deps bundles the collaborators an Executor needs. Robots and Limiter are
// optional.
type Deps struct {
	Fetcher Fetcher
	Cache   cache.Store
	Robots  RobotsPolicy
	Limiter RateLimiter
	Hasher  Hasher
	Clock   Clock
	Logger  *zap.Logger
}

// Executor implements prefetch.Executor.
type Executor struct {
	cfg  Config
	deps Deps
}

// New validates deps and returns an Executor.
func New(cfg Config, deps Deps) (*Executor, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, fmt.Errorf("warm: fetcher is required")
	case deps.Cache == nil:
		return nil, fmt.Errorf("warm: cache store is required")
	case deps.Hasher == nil:
		return nil, fmt.Errorf("warm: hasher is required")
	case deps.Clock == nil:
		return nil, fmt.Errorf("warm: clock is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Executor{cfg: cfg, deps: deps}, nil
}

// Run warms the cache for id. It never returns an error directly: every
// failure is folded into the Outcome.
func (e *Executor) Run(ctx context.Context, id string) prefetch.Outcome {
	start := time.Now()
	out := e.run(ctx, id)
	out.URL = id
	out.Duration = time.Since(start)
	return out
}

func (e *Executor) run(ctx context.Context, id string) prefetch.Outcome {
	hit, err := e.deps.Cache.Has(ctx, id)
	if err != nil {
		return failed(fmt.Errorf("check cache: %w", err))
	}
	if hit {
		return prefetch.Outcome{Kind: prefetch.OutcomeCached}
	}

	if e.deps.Robots != nil && !e.deps.Robots.Allowed(ctx, id) {
		return prefetch.Outcome{Kind: prefetch.OutcomeSkipped, Err: ErrDisallowed}
	}
	if e.deps.Limiter != nil {
		if err := e.deps.Limiter.Wait(ctx, id); err != nil {
			return failed(err)
		}
	}

	resp, err := e.deps.Fetcher.Fetch(ctx, Request{URL: id, Headers: e.headers()})
	if err != nil {
		return failed(fmt.Errorf("fetch %s: %w", id, err))
	}
	if e.deps.Limiter != nil {
		e.deps.Limiter.ReportResult(id, resp.StatusCode, retryAfter(resp.Headers))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return prefetch.Outcome{
			Kind:       prefetch.OutcomeFailed,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("fetch %s: unexpected status %d", id, resp.StatusCode),
		}
	}

	digest, err := e.deps.Hasher.Hash(resp.Body)
	if err != nil {
		return failed(fmt.Errorf("hash body: %w", err))
	}
	entry := cache.Entry{
		URL:         id,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Headers.Get("Content-Type"),
		Header:      resp.Headers.Clone(),
		Hash:        digest,
		Size:        int64(len(resp.Body)),
		FetchedAt:   e.deps.Clock.Now(),
		Body:        resp.Body,
	}
	if err := e.deps.Cache.Put(ctx, entry); err != nil {
		return prefetch.Outcome{
			Kind:       prefetch.OutcomeFailed,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("store %s: %w", id, err),
		}
	}
	e.deps.Logger.Debug("warmed",
		zap.String("url", id),
		zap.Int("status_code", resp.StatusCode),
		zap.Int64("bytes", entry.Size),
		zap.Duration("fetch_dur", resp.Duration),
	)
	return prefetch.Outcome{
		Kind:       prefetch.OutcomeStored,
		StatusCode: resp.StatusCode,
		Bytes:      entry.Size,
	}
}

func (e *Executor) headers() http.Header {
	h := http.Header{}
	h.Set(HeaderPriority, PriorityLowest)
	h.Set(HeaderSecPurpose, PurposePrefetch)
	h.Set(HeaderSecFetchSite, FetchSiteSame)
	if e.cfg.UserAgent != "" {
		h.Set("User-Agent", e.cfg.UserAgent)
	}
	return h
}

func failed(err error) prefetch.Outcome {
	return prefetch.Outcome{Kind: prefetch.OutcomeFailed, Err: err}
}

// retryAfter understands the delta-seconds form of Retry-After only.
func retryAfter(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
