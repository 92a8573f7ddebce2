// Package ratelimit implements a token bucket rate limiter for per-host warm-up fetches.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/linkwarmer/internal/metrics"
)

// DefaultBackoff is how long a host is paused after it answers 429 or 503
// without a usable Retry-After.
const DefaultBackoff = 5 * time.Second

// Limiter manages per-host rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	pausedUntil  map[string]time.Time
	defaultRate  rate.Limit
	defaultBurst int
	backoff      time.Duration
	now          func() time.Time
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	// Backoff overrides DefaultBackoff.
	Backoff time.Duration
}

// New creates a new Limiter. A non-positive DefaultRPS disables throttling.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		pausedUntil:  make(map[string]time.Time),
		defaultRate:  r,
		defaultBurst: burst,
		backoff:      backoff,
		now:          time.Now,
	}
}

// Wait blocks until a token is available for the host of rawURL and any
// backoff recorded for that host has elapsed.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	l.mu.Lock()
	limiter, exists := l.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[host] = limiter
	}
	pause := l.pausedUntil[host].Sub(l.now())
	l.mu.Unlock()

	start := time.Now()
	if pause > 0 {
		t := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("rate limit backoff: %w", ctx.Err())
		case <-t.C:
		}
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Tokens that were available immediately are not a delay worth recording.
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, d)
	}
	return nil
}

// ReportResult feeds a response status back into the limiter. A 429 or 503
// pauses the host for retryAfter, or the configured backoff when retryAfter
// is zero.
func (l *Limiter) ReportResult(rawURL string, status int, retryAfter time.Duration) {
	if status != http.StatusTooManyRequests && status != http.StatusServiceUnavailable {
		return
	}
	if retryAfter <= 0 {
		retryAfter = l.backoff
	}
	host := hostOf(rawURL)
	until := l.now().Add(retryAfter)
	l.mu.Lock()
	defer l.mu.Unlock()
	if until.After(l.pausedUntil[host]) {
		l.pausedUntil[host] = until
	}
}

// PausedUntil returns the end of the backoff window for the host of rawURL.
func (l *Limiter) PausedUntil(rawURL string) time.Time {
	host := hostOf(rawURL)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pausedUntil[host]
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}
