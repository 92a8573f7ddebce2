// Package discovery finds warm-up candidates in an HTML document. It walks the
// anchors of a subtree, resolves their targets and keeps only same-origin,
// non-admin, non-asset pages.
package discovery

import (
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkwarmer/internal/metrics"
)

// Reason explains why a candidate was not enqueued.
type Reason string

// Rejection reasons.
const (
	ReasonCrossOrigin  Reason = "cross_origin"
	ReasonExcludedPath Reason = "excluded_path"
	ReasonStaticAsset  Reason = "static_asset"
	ReasonScheme       Reason = "scheme"
)

// DefaultExcludedPrefixes lists path prefixes never warmed.
var DefaultExcludedPrefixes = []string{"/admin/"}

// DefaultStaticExtensions lists file extensions treated as static assets.
var DefaultStaticExtensions = []string{"js", "css", "png", "jpg", "jpeg", "svg", "webp", "woff", "woff2"}

const anchorSelector = "a[href]"

// Enqueuer accepts eligible identifiers. It returns false for identifiers it
// has already seen.
type Enqueuer interface {
	Enqueue(id string) bool
}

// Config tunes the eligibility filter. Empty slices fall back to the defaults.
type Config struct {
	ExcludedPrefixes []string
	StaticExtensions []string
}

// ScanResult summarizes a single pass over a scope.
type ScanResult struct {
	Candidates int            `json:"candidates"`
	Enqueued   int            `json:"enqueued"`
	Duplicates int            `json:"duplicates"`
	Rejected   map[Reason]int `json:"rejected,omitempty"`
	Malformed  int            `json:"malformed"`
}

// Scanner applies the eligibility filter to anchors and hands survivors to an Enqueuer.
type Scanner struct {
	prefixes   []string
	extensions map[string]struct{}
	sink       Enqueuer
	logger     *zap.Logger
}

// New builds a Scanner feeding sink.
func New(cfg Config, sink Enqueuer, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefixes := cfg.ExcludedPrefixes
	if len(prefixes) == 0 {
		prefixes = DefaultExcludedPrefixes
	}
	exts := cfg.StaticExtensions
	if len(exts) == 0 {
		exts = DefaultStaticExtensions
	}
	extSet := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			extSet[ext] = struct{}{}
		}
	}
	return &Scanner{
		prefixes:   append([]string(nil), prefixes...),
		extensions: extSet,
		sink:       sink,
		logger:     logger,
	}
}

// Scan enumerates every anchor with an href inside scope, the scope root
// included, and enqueues the eligible ones. Links resolve against base; the
// same-origin check uses origin, the page's own URL. Scan never modifies the
// document.
func (s *Scanner) Scan(scope *goquery.Selection, base, origin *url.URL) ScanResult {
	result := ScanResult{Rejected: make(map[Reason]int)}
	if scope == nil {
		return result
	}
	anchors := scope.Filter(anchorSelector).AddSelection(scope.Find(anchorSelector))
	anchors.Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		result.Candidates++
		id, reason, ok := s.Evaluate(base, origin, href)
		switch {
		case !ok && reason == "":
			result.Malformed++
		case !ok:
			result.Rejected[reason]++
		case s.sink != nil && s.sink.Enqueue(id):
			result.Enqueued++
		default:
			result.Duplicates++
		}
	})

	metrics.ObserveScanVerdict("enqueued", result.Enqueued)
	metrics.ObserveScanVerdict("duplicate", result.Duplicates)
	metrics.ObserveScanVerdict("malformed", result.Malformed)
	for reason, n := range result.Rejected {
		metrics.ObserveScanVerdict(string(reason), n)
	}
	s.logger.Debug("scan complete",
		zap.Int("candidates", result.Candidates),
		zap.Int("enqueued", result.Enqueued),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("malformed", result.Malformed),
	)
	return result
}

// Evaluate resolves href against base and applies the eligibility filter,
// comparing origins against origin (base when nil). Path filters see the path
// as written, percent-encoding included. It returns the canonical identifier
// when eligible. A malformed href yields ok=false with an empty reason.
func (s *Scanner) Evaluate(base, origin *url.URL, href string) (id string, reason Reason, ok bool) {
	if origin == nil {
		origin = base
	}
	target, err := Canonicalize(base, href)
	if err != nil {
		return "", "", false
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return "", ReasonScheme, false
	}
	if target.Host == "" {
		return "", "", false
	}
	if !SameOrigin(origin, target) {
		return "", ReasonCrossOrigin, false
	}
	p := target.EscapedPath()
	for _, prefix := range s.prefixes {
		if strings.HasPrefix(p, prefix) {
			return "", ReasonExcludedPath, false
		}
	}
	if s.isStaticAsset(p) {
		return "", ReasonStaticAsset, false
	}
	return target.String(), "", true
}

func (s *Scanner) isStaticAsset(p string) bool {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
	if ext == "" {
		return false
	}
	_, ok := s.extensions[ext]
	return ok
}
