package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/linkwarmer/internal/progress"
)

// PrometheusSink exports session-level progress as Prometheus collectors. The
// scheduler's own gauges live in internal/metrics; this sink covers what only
// the event stream knows, such as scan triggers and fetch latency.
type PrometheusSink struct {
	sessions      prometheus.Counter
	scans         *prometheus.CounterVec
	scanEnqueued  *prometheus.CounterVec
	scanDuration  *prometheus.HistogramVec
	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linkwarmer_sessions_started_total",
			Help: "Total prefetch sessions started.",
		}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkwarmer_scans_total",
			Help: "Discovery passes partitioned by trigger.",
		}, []string{"trigger"}),
		scanEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkwarmer_scan_enqueued_total",
			Help: "Links newly enqueued by discovery, partitioned by trigger.",
		}, []string{"trigger"}),
		scanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "linkwarmer_scan_duration_seconds",
			Help:    "Wall time per discovery pass.",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"trigger"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkwarmer_fetch_events_total",
			Help: "Warm-up completions partitioned by site, outcome and status class.",
		}, []string{"site", "outcome", "status_class"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "linkwarmer_fetch_duration_seconds",
			Help:    "Warm-up task duration partitioned by outcome.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"outcome"}),
	}
	for _, collector := range []prometheus.Collector{
		s.sessions,
		s.scans,
		s.scanEnqueued,
		s.scanDuration,
		s.fetches,
		s.fetchDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageSessionStart:
			s.sessions.Inc()
		case progress.StageScan:
			s.scans.WithLabelValues(evt.Trigger).Inc()
			if evt.Count > 0 {
				s.scanEnqueued.WithLabelValues(evt.Trigger).Add(float64(evt.Count))
			}
			if evt.Dur > 0 {
				s.scanDuration.WithLabelValues(evt.Trigger).Observe(evt.Dur.Seconds())
			}
		case progress.StageFetchDone:
			s.observeFetch(evt)
		}
	}
	return nil
}

func (s *PrometheusSink) observeFetch(evt progress.Event) {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	class := string(evt.StatusClass)
	if class == "" {
		class = string(progress.StatusOther)
	}
	s.fetches.WithLabelValues(site, evt.Outcome, class).Inc()
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(evt.Outcome).Observe(evt.Dur.Seconds())
	}
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
