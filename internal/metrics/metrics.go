// Package metrics exposes Prometheus collectors for the prefetch service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	prefetchEnqueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkwarmer_enqueued_total",
		Help: "Total number of distinct URLs accepted into the prefetch queue.",
	})
	prefetchDuplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkwarmer_duplicates_total",
		Help: "Total number of enqueue calls absorbed by the dedup set.",
	})
	prefetchOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linkwarmer_outcomes_total",
		Help: "Completed warm-up tasks, labeled by site and outcome.",
	}, []string{"site", "outcome"})
	prefetchBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linkwarmer_bytes_total",
		Help: "Total number of bytes written into the cache, labeled by site.",
	}, []string{"site"})
	prefetchInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "linkwarmer_in_flight",
		Help: "Number of warm-up tasks currently admitted and not yet completed.",
	})
	prefetchPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "linkwarmer_pending",
		Help: "Number of queued URLs waiting for a concurrency slot.",
	})
	scanCandidatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linkwarmer_scan_candidates_total",
		Help: "Link candidates seen by discovery, labeled by verdict.",
	}, []string{"verdict"})
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests, labeled by method and code.",
	}, []string{"method", "code"})
	httpRequestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Histogram of HTTP request latencies, labeled by method and route.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"method", "route"})
	rateLimitDelaysSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "linkwarmer_rate_limit_delays_seconds",
		Help:    "Histogram of rate limit wait durations before a warm-up fetch.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"domain"})
)

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveEnqueue records the result of a single enqueue attempt.
func ObserveEnqueue(accepted bool) {
	if accepted {
		prefetchEnqueuedTotal.Inc()
		return
	}
	prefetchDuplicatesTotal.Inc()
}

// ObserveOutcome records a finished warm-up task.
func ObserveOutcome(rawURL, outcome string, bytesStored int64) {
	site := SanitizeSite(rawURL)
	prefetchOutcomesTotal.WithLabelValues(site, outcome).Inc()
	if bytesStored > 0 {
		prefetchBytesTotal.WithLabelValues(site).Add(float64(bytesStored))
	}
}

// SetQueueState publishes the current in-flight and pending counts.
func SetQueueState(inFlight, pending int) {
	prefetchInFlight.Set(float64(inFlight))
	prefetchPending.Set(float64(pending))
}

// ObserveScanVerdict adds n candidates for the given discovery verdict.
func ObserveScanVerdict(verdict string, n int) {
	if n <= 0 {
		return
	}
	scanCandidatesTotal.WithLabelValues(verdict).Add(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
