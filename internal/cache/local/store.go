// Package local persists warmed responses on the local filesystem so that a
// restarted process keeps its cache.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JakeFAU/linkwarmer/internal/cache"
	"github.com/JakeFAU/linkwarmer/internal/hash/sha256"
)

// Config captures the parameters for the filesystem store.
type Config struct {
	// BaseDir is the root directory for cache files.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

const (
	metaSuffix = ".json"
	bodySuffix = ".body"
)

// Store writes one metadata file and one body file per URL, named after the
// SHA-256 of the URL and fanned out by the first two hex characters.
type Store struct {
	baseDir string

	mu    sync.RWMutex
	count int
}

// New creates the store, creating BaseDir if needed and checking that it is writable.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	probe := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}

	s := &Store{baseDir: cfg.BaseDir}
	if err := s.recount(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) recount() error {
	n := 0
	err := filepath.WalkDir(s.baseDir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), metaSuffix) {
			n++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan cache directory: %w", err)
	}
	s.mu.Lock()
	s.count = n
	s.mu.Unlock()
	return nil
}

func (s *Store) paths(url string) (meta, body string) {
	key := sha256.SumString(url)
	dir := filepath.Join(s.baseDir, key[:2])
	return filepath.Join(dir, key+metaSuffix), filepath.Join(dir, key+bodySuffix)
}

// Has reports whether url has a metadata file.
func (s *Store) Has(_ context.Context, url string) (bool, error) {
	meta, _ := s.paths(url)
	_, err := os.Stat(meta)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat cache entry: %w", err)
	}
}

// Get loads the entry for url.
func (s *Store) Get(_ context.Context, url string) (cache.Entry, error) {
	metaPath, bodyPath := s.paths(url)
	// #nosec G304 -- paths are derived from a hash under baseDir.
	raw, err := os.ReadFile(metaPath)
	if errors.Is(err, fs.ErrNotExist) {
		return cache.Entry{}, fmt.Errorf("get %s: %w", url, cache.ErrNotFound)
	}
	if err != nil {
		return cache.Entry{}, fmt.Errorf("read cache metadata: %w", err)
	}
	var entry cache.Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return cache.Entry{}, fmt.Errorf("decode cache metadata: %w", err)
	}
	// #nosec G304 -- paths are derived from a hash under baseDir.
	body, err := os.ReadFile(bodyPath)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("read cache body: %w", err)
	}
	entry.Body = body
	return entry, nil
}

// Put writes the body first and the metadata last, each through a rename, so
// a reader that sees metadata always finds a complete body.
func (s *Store) Put(_ context.Context, entry cache.Entry) error {
	if entry.URL == "" {
		return fmt.Errorf("put: url is required")
	}
	metaPath, bodyPath := s.paths(entry.URL)
	if err := os.MkdirAll(filepath.Dir(metaPath), 0o750); err != nil {
		return fmt.Errorf("create cache shard: %w", err)
	}
	meta, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache metadata: %w", err)
	}
	existed, err := s.Has(context.Background(), entry.URL)
	if err != nil {
		return err
	}
	if err := writeAtomic(bodyPath, entry.Body); err != nil {
		return fmt.Errorf("write cache body: %w", err)
	}
	if err := writeAtomic(metaPath, meta); err != nil {
		return fmt.Errorf("write cache metadata: %w", err)
	}
	if !existed {
		s.mu.Lock()
		s.count++
		s.mu.Unlock()
	}
	return nil
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return err
	}
	return nil
}
