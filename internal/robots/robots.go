// Package robots decides whether a warm-up fetch may touch a URL according to
// the origin's robots.txt.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// maxRobotsBytes bounds how much of a robots.txt body is read.
const maxRobotsBytes = 1 << 20

// Policy answers robots.txt questions for warm-up fetches.
type Policy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// Option customizes an Enforcer.
type Option func(*Enforcer)

// WithClient replaces the HTTP client used to load robots.txt.
func WithClient(c *http.Client) Option {
	return func(e *Enforcer) {
		if c != nil {
			e.client = c
		}
	}
}

// Enforcer caches one robots.txt per host.
type Enforcer struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger

	mu    sync.Mutex
	hosts map[string]*robotstxt.RobotsData
	loads int
}

// New returns a Policy. When respect is false every URL is allowed and no
// robots.txt is ever fetched.
func New(respect bool, userAgent string, logger *zap.Logger, opts ...Option) Policy {
	if !respect {
		return AllowAll{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Enforcer{
		client:    &http.Client{Timeout: 10 * time.Second},
		userAgent: userAgent,
		logger:    logger,
		hosts:     make(map[string]*robotstxt.RobotsData),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Allowed reports whether rawURL may be fetched. A robots.txt that cannot be
// loaded allows access; a URL that cannot be parsed does not.
func (e *Enforcer) Allowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	data, err := e.load(ctx, parsed)
	if err != nil {
		e.logger.Warn("robots fetch failed; allowing access", zap.String("host", parsed.Host), zap.Error(err))
		return true
	}
	group := data.FindGroup(e.userAgent)
	if group == nil {
		return true
	}
	target := parsed.EscapedPath()
	if target == "" {
		target = "/"
	}
	return group.Test(target)
}

// Loads returns how many robots.txt bodies were fetched.
func (e *Enforcer) Loads() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loads
}

func (e *Enforcer) load(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	hostKey := strings.ToLower(parsed.Scheme + "://" + parsed.Host)
	e.mu.Lock()
	data, ok := e.hosts[hostKey]
	e.mu.Unlock()
	if ok {
		return data, nil
	}

	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", e.userAgent)
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			e.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err = robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if cached, ok := e.hosts[hostKey]; ok {
		return cached, nil
	}
	e.hosts[hostKey] = data
	e.loads++
	return data, nil
}

// AllowAll permits every URL.
type AllowAll struct{}

// Allowed always returns true.
func (AllowAll) Allowed(context.Context, string) bool { return true }
