package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkwarmer/internal/progress/sinks"
)

const (
	defaultSitesLimit = 100
	maxSitesLimit     = 1000
)

// SiteLister returns per-site warm-up totals ordered by site.
type SiteLister interface {
	Sites(limit, offset int) []sinks.SiteSummary
}

// SitesHandler exposes read-only per-site progress.
type SitesHandler struct {
	sites  SiteLister
	logger *zap.Logger
}

// NewSitesHandler wires the lister and logger.
func NewSitesHandler(sites SiteLister, logger *zap.Logger) *SitesHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SitesHandler{sites: sites, logger: logger}
}

// ListSites handles GET /v1/sites?limit=&offset=. It returns {"sites": [...]}
// on success, 400 for invalid query parameters, or 503 when progress
// reporting is disabled.
func (h *SitesHandler) ListSites(w http.ResponseWriter, r *http.Request) {
	if h.sites == nil {
		writeError(w, http.StatusServiceUnavailable, "progress reporting disabled")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultSitesLimit, maxSitesLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sites": toSiteDTOs(h.sites.Sites(limit, offset)),
	})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func toSiteDTOs(in []sinks.SiteSummary) []siteDTO {
	out := make([]siteDTO, 0, len(in))
	for _, s := range in {
		out = append(out, siteDTO{
			Site:     s.Site,
			LastSeen: s.LastSeen,
			Enqueued: s.Enqueued,
			Bytes:    s.Bytes,
			Stored:   s.Outcomes["stored"],
			Cached:   s.Outcomes["cached"],
			Skipped:  s.Outcomes["skipped"],
			Failed:   s.Outcomes["failed"],
		})
	}
	return out
}

type siteDTO struct {
	Site     string    `json:"site"`
	LastSeen time.Time `json:"last_seen"`
	Enqueued int64     `json:"enqueued"`
	Bytes    int64     `json:"bytes_total"`
	Stored   int64     `json:"stored"`
	Cached   int64     `json:"cached"`
	Skipped  int64     `json:"skipped"`
	Failed   int64     `json:"failed"`
}
