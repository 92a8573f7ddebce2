package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkwarmer/internal/coordinator"
	"github.com/JakeFAU/linkwarmer/internal/document"
	"github.com/JakeFAU/linkwarmer/internal/idle"
	"github.com/JakeFAU/linkwarmer/internal/metrics"
	"github.com/JakeFAU/linkwarmer/internal/prefetch"
)

const (
	requestTimeout  = 60 * time.Second
	maxDocumentBody = 10 << 20
)

// Document is the live page the API mutates.
type Document interface {
	Replace(r io.Reader) error
	Append(selector, fragment string) (int, error)
	Remove(selector string) (int, error)
	Version() uint64
}

// SchedulerStats reports prefetch scheduler counters.
type SchedulerStats interface {
	Stats() prefetch.Stats
}

// Coordinator receives manual scan signals and reports scan activity.
type Coordinator interface {
	Notify() bool
	Stats() coordinator.Stats
}

// CacheCounter reports how many responses are cached.
type CacheCounter interface {
	Len() int
}

// Deps bundles what the server reads and mutates. Sites and Tracker are optional.
type Deps struct {
	Document    Document
	Scheduler   SchedulerStats
	Coordinator Coordinator
	Cache       CacheCounter
	Sites       SiteLister
	Tracker     *idle.Tracker
	Logger      *zap.Logger
}

// Server wires HTTP handlers to the document and the warm-up pipeline.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		// Operator and generator traffic counts as foreground work so that
		// background scans wait for it to settle.
		if deps.Tracker != nil {
			r.Use(deps.Tracker.Middleware)
		}
		r.Get("/stats", s.stats)
		r.Get("/sites", NewSitesHandler(deps.Sites, logger).ListSites)
		r.Put("/document", s.replaceDocument)
		r.Post("/document/fragments", s.appendFragment)
		r.Delete("/document/nodes", s.removeNodes)
		r.Post("/scan", s.scan)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports ready once the coordinator has run its initial scan.
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Coordinator == nil || !s.deps.Coordinator.Stats().Started {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statsResponse struct {
	Prefetch        *prefetch.Stats    `json:"prefetch,omitempty"`
	Coordinator     *coordinator.Stats `json:"coordinator,omitempty"`
	DocumentVersion uint64             `json:"document_version"`
	CacheEntries    int                `json:"cache_entries"`
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	var resp statsResponse
	if s.deps.Scheduler != nil {
		st := s.deps.Scheduler.Stats()
		resp.Prefetch = &st
	}
	if s.deps.Coordinator != nil {
		st := s.deps.Coordinator.Stats()
		resp.Coordinator = &st
	}
	if s.deps.Document != nil {
		resp.DocumentVersion = s.deps.Document.Version()
	}
	if s.deps.Cache != nil {
		resp.CacheEntries = s.deps.Cache.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) replaceDocument(w http.ResponseWriter, r *http.Request) {
	if s.deps.Document == nil {
		writeError(w, http.StatusServiceUnavailable, "document unavailable")
		return
	}
	body := http.MaxBytesReader(w, r.Body, maxDocumentBody)
	if err := s.deps.Document.Replace(body); err != nil {
		s.writeDocumentError(w, "replace document", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"version": s.deps.Document.Version()})
}

type fragmentRequest struct {
	Selector string `json:"selector"`
	HTML     string `json:"html"`
}

func (s *Server) appendFragment(w http.ResponseWriter, r *http.Request) {
	if s.deps.Document == nil {
		writeError(w, http.StatusServiceUnavailable, "document unavailable")
		return
	}
	var req fragmentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDocumentBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Selector == "" {
		writeError(w, http.StatusBadRequest, "selector required")
		return
	}
	n, err := s.deps.Document.Append(req.Selector, req.HTML)
	if err != nil {
		s.writeDocumentError(w, "append fragment", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"targets": n,
		"version": s.deps.Document.Version(),
	})
}

func (s *Server) removeNodes(w http.ResponseWriter, r *http.Request) {
	if s.deps.Document == nil {
		writeError(w, http.StatusServiceUnavailable, "document unavailable")
		return
	}
	selector := r.URL.Query().Get("selector")
	if selector == "" {
		writeError(w, http.StatusBadRequest, "selector required")
		return
	}
	n, err := s.deps.Document.Remove(selector)
	if err != nil {
		s.writeDocumentError(w, "remove nodes", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"removed": n,
		"version": s.deps.Document.Version(),
	})
}

func (s *Server) scan(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Coordinator == nil {
		writeError(w, http.StatusServiceUnavailable, "coordinator unavailable")
		return
	}
	scheduled := s.deps.Coordinator.Notify()
	writeJSON(w, http.StatusAccepted, map[string]bool{"scheduled": scheduled})
}

func (s *Server) writeDocumentError(w http.ResponseWriter, op string, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, document.ErrEmptyDocument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, document.ErrNoMatch):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "document too large")
	default:
		s.logger.Error(op+" failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the request ID stored by the server middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("dur", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", RequestID(r.Context())),
						zap.Any("error", rec),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
