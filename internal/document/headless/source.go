// Package headless mirrors a page rendered by headless Chrome into a document.
// DOM mutation events from the browser trigger fresh snapshots so that links
// inserted by client-side scripts become visible to discovery.
package headless

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkwarmer/internal/hash/sha256"
)

// ErrUnavailable reports that no Chrome binary could be started.
var ErrUnavailable = errors.New("headless: chrome unavailable")

// Replacer receives rendered HTML snapshots.
type Replacer interface {
	Replace(r io.Reader) error
}

// Config controls the headless document source.
type Config struct {
	URL               string
	UserAgent         string
	Headers           http.Header
	NavigationTimeout time.Duration
	PollInterval      time.Duration
	ExecPath          string
}

// Source keeps a Replacer in sync with a live browser tab.
type Source struct {
	cfg    Config
	target Replacer
	logger *zap.Logger

	mu        sync.Mutex
	lastHash  string
	snapshots int

	dirty chan struct{}
}

// New creates a Source. Run does the browser work.
func New(cfg Config, target Replacer, logger *zap.Logger) (*Source, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("headless source url is required")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{
		cfg:    cfg,
		target: target,
		logger: logger,
		dirty:  make(chan struct{}, 1),
	}, nil
}

// Run launches Chrome, loads the page and pushes snapshots until ctx ends.
// It returns ErrUnavailable when the browser cannot be started.
func (s *Source) Run(ctx context.Context) error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if s.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(s.cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	defer tabCancel()

	chromedp.ListenTarget(tabCtx, s.onEvent)

	navCtx, navCancel := context.WithTimeout(tabCtx, s.cfg.NavigationTimeout)
	err := chromedp.Run(navCtx,
		s.setupAction(),
		chromedp.Navigate(s.cfg.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		s.subscribeAction(),
	)
	navCancel()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return fmt.Errorf("load %s: %w", s.cfg.URL, err)
	}
	s.logger.Info("headless document loaded", zap.String("url", s.cfg.URL))
	if err := s.snapshot(tabCtx); err != nil {
		s.logger.Warn("initial headless snapshot failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.dirty:
		case <-ticker.C:
		}
		if err := s.snapshot(tabCtx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("headless snapshot failed", zap.Error(err))
		}
	}
}

// Snapshots reports how many snapshots changed the document.
func (s *Source) Snapshots() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshots
}

func (s *Source) snapshot(ctx context.Context) error {
	var html string
	if err := chromedp.Run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("read outer html: %w", err)
	}
	_, err := s.apply(html)
	return err
}

// apply pushes html to the target unless it matches the previous snapshot.
func (s *Source) apply(html string) (bool, error) {
	digest := sha256.SumString(html)
	s.mu.Lock()
	same := digest == s.lastHash
	s.mu.Unlock()
	if same {
		return false, nil
	}
	if err := s.target.Replace(strings.NewReader(html)); err != nil {
		return false, fmt.Errorf("replace document: %w", err)
	}
	s.mu.Lock()
	s.lastHash = digest
	s.snapshots++
	s.mu.Unlock()
	return true, nil
}

func (s *Source) onEvent(ev any) {
	if isDOMMutation(ev) {
		s.markDirty()
	}
}

// markDirty records that the page changed. Bursts collapse into one pending signal.
func (s *Source) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func isDOMMutation(ev any) bool {
	switch ev.(type) {
	case *dom.EventDocumentUpdated,
		*dom.EventChildNodeInserted,
		*dom.EventChildNodeRemoved,
		*dom.EventAttributeModified,
		*dom.EventAttributeRemoved,
		*dom.EventSetChildNodes:
		return true
	default:
		return false
	}
}

func (s *Source) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(s.cfg.Headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(s.cfg.Headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// subscribeAction requests the full tree; Chrome only reports mutations for
// nodes the client has already seen.
func (s *Source) subscribeAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := dom.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable dom domain: %w", err)
		}
		if _, err := dom.GetDocument().WithDepth(-1).Do(ctx); err != nil {
			return fmt.Errorf("get document: %w", err)
		}
		return nil
	})
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			headers[key] = values[0]
		default:
			headers[key] = strings.Join(values, ", ")
		}
	}
	return headers
}
