// Package cache defines the response cache that warm-up fills.
package cache

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ErrNotFound is returned by Get when no entry exists for a URL.
var ErrNotFound = errors.New("cache: entry not found")

// Entry is one stored response. Entries never expire on their own: an entry of
// any age counts as a hit for warm-up purposes.
type Entry struct {
	URL         string      `json:"url"`
	StatusCode  int         `json:"status_code"`
	ContentType string      `json:"content_type,omitempty"`
	Header      http.Header `json:"header,omitempty"`
	Hash        string      `json:"hash"`
	Size        int64       `json:"size"`
	FetchedAt   time.Time   `json:"fetched_at"`
	Body        []byte      `json:"-"`
}

// Store persists warmed responses keyed by canonical URL.
type Store interface {
	Has(ctx context.Context, url string) (bool, error)
	Get(ctx context.Context, url string) (Entry, error)
	Put(ctx context.Context, entry Entry) error
	Len() int
}
