// Package memory keeps warmed responses in process memory.
package memory

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/JakeFAU/linkwarmer/internal/cache"
)

// Store is a map-backed cache.Store. Bodies are copied on the way in and out.
type Store struct {
	mu      sync.RWMutex
	entries map[string]cache.Entry
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{entries: make(map[string]cache.Entry)}
}

// Has reports whether url has an entry.
func (s *Store) Has(_ context.Context, url string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[url]
	return ok, nil
}

// Get returns a copy of the entry for url.
func (s *Store) Get(_ context.Context, url string) (cache.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[url]
	if !ok {
		return cache.Entry{}, fmt.Errorf("get %s: %w", url, cache.ErrNotFound)
	}
	return clone(e), nil
}

// Put stores a copy of entry, replacing any previous one.
func (s *Store) Put(_ context.Context, entry cache.Entry) error {
	if entry.URL == "" {
		return fmt.Errorf("put: url is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.URL] = clone(entry)
	return nil
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func clone(e cache.Entry) cache.Entry {
	e.Body = append([]byte(nil), e.Body...)
	if e.Header != nil {
		e.Header = e.Header.Clone()
	} else {
		e.Header = http.Header{}
	}
	return e
}
