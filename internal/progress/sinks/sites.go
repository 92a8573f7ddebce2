package sinks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/linkwarmer/internal/progress"
)

// SiteSummary aggregates warm-up results for one host.
type SiteSummary struct {
	Site     string           `json:"site"`
	Enqueued int64            `json:"enqueued"`
	Outcomes map[string]int64 `json:"outcomes"`
	Bytes    int64            `json:"bytes"`
	LastSeen time.Time        `json:"last_seen"`
}

// SiteSink keeps running per-site totals in memory for the stats API.
type SiteSink struct {
	mu    sync.RWMutex
	sites map[string]*SiteSummary
}

// NewSiteSink returns an empty SiteSink.
func NewSiteSink() *SiteSink {
	return &SiteSink{sites: make(map[string]*SiteSummary)}
}

// Consume folds enqueue and fetch events into the per-site totals.
func (s *SiteSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		if evt.Site == "" {
			continue
		}
		switch evt.Stage {
		case progress.StageEnqueue:
			s.entry(evt.Site, evt.TS).Enqueued++
		case progress.StageFetchDone:
			e := s.entry(evt.Site, evt.TS)
			e.Outcomes[evt.Outcome]++
			e.Bytes += evt.Bytes
		}
	}
	return nil
}

func (s *SiteSink) entry(site string, at time.Time) *SiteSummary {
	e, ok := s.sites[site]
	if !ok {
		e = &SiteSummary{Site: site, Outcomes: make(map[string]int64)}
		s.sites[site] = e
	}
	if at.After(e.LastSeen) {
		e.LastSeen = at
	}
	return e
}

// Sites returns up to limit summaries ordered by site name, skipping offset.
// limit <= 0 returns everything after offset.
func (s *SiteSink) Sites(limit, offset int) []SiteSummary {
	s.mu.RLock()
	out := make([]SiteSummary, 0, len(s.sites))
	for _, e := range s.sites {
		c := *e
		c.Outcomes = make(map[string]int64, len(e.Outcomes))
		for k, v := range e.Outcomes {
			c.Outcomes[k] = v
		}
		out = append(out, c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Site < out[j].Site })
	if offset >= len(out) {
		return []SiteSummary{}
	}
	if offset > 0 {
		out = out[offset:]
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// Close implements progress.Sink.
func (s *SiteSink) Close(context.Context) error {
	return nil
}
