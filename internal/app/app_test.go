package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkwarmer/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Prefetch.FinalSweepTimeout = 20 * time.Millisecond
	cfg.Prefetch.BatchTimeout = 10 * time.Millisecond
	cfg.Progress.MaxBatchWait = 10 * time.Millisecond
	cfg.Fetch.Timeout = 5 * time.Second
	return cfg
}

func build(t *testing.T, cfg config.Config) *App {
	t.Helper()
	a, err := Build(context.Background(), &cfg, WithLogger(zap.NewNop()), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func TestWarmFromFileFetchesEligibleLinks(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, "<p>%s</p>", r.URL.Path)
	}))
	t.Cleanup(srv.Close)

	path := filepath.Join(t.TempDir(), "page.html")
	html := `<a href="/a">a</a><a href="/b">b</a><a href="/a#top">again</a>` +
		`<a href="/admin/users">admin</a><a href="/logo.png">logo</a><a href="mailto:x@y">mail</a>`
	require.NoError(t, os.WriteFile(path, []byte(html), 0o600))

	cfg := testConfig(t)
	cfg.Document.Source = config.SourceFile
	cfg.Document.Path = path
	cfg.Document.BaseURL = srv.URL + "/"
	a := build(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sum, err := a.Warm(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Prefetch.Enqueued)
	assert.Equal(t, int64(2), sum.Prefetch.Stored)
	assert.Equal(t, 2, sum.CacheEntries)
	assert.Equal(t, int64(2), hits.Load())
	assert.True(t, sum.Coordinator.FinalDone)
	assert.NotEmpty(t, sum.Session)
}

func TestWarmMissingFileFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.Document.Source = config.SourceFile
	cfg.Document.Path = filepath.Join(t.TempDir(), "missing.html")
	a := build(t, cfg)

	_, err := a.Warm(context.Background())
	require.Error(t, err)
}

func TestHandlerBeforeStart(t *testing.T) {
	a := build(t, testConfig(t))
	h := a.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sites", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProgressDisabledHasNoSites(t *testing.T) {
	cfg := testConfig(t)
	cfg.Progress.Enabled = false
	a := build(t, cfg)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sites", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBuildLocalCacheOnFileFails(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	cfg := testConfig(t)
	cfg.Cache.Backend = config.CacheLocal
	cfg.Cache.Dir = file
	_, err := Build(context.Background(), &cfg, WithLogger(zap.NewNop()), WithRegisterer(prometheus.NewRegistry()))
	require.Error(t, err)
}

func TestBuildRejectsSecondRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := testConfig(t)
	first, err := Build(context.Background(), &cfg, WithLogger(zap.NewNop()), WithRegisterer(reg))
	require.NoError(t, err)
	defer func() { _ = first.Close(context.Background()) }()

	_, err = Build(context.Background(), &cfg, WithLogger(zap.NewNop()), WithRegisterer(reg))
	require.Error(t, err)
}
