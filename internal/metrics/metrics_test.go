package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveEnqueueSplitsAcceptedAndDuplicates(t *testing.T) {
	acceptedBefore := testutil.ToFloat64(prefetchEnqueuedTotal)
	dupBefore := testutil.ToFloat64(prefetchDuplicatesTotal)

	ObserveEnqueue(true)
	ObserveEnqueue(false)
	ObserveEnqueue(false)

	if got := testutil.ToFloat64(prefetchEnqueuedTotal) - acceptedBefore; got != 1 {
		t.Errorf("accepted delta = %v; want 1", got)
	}
	if got := testutil.ToFloat64(prefetchDuplicatesTotal) - dupBefore; got != 2 {
		t.Errorf("duplicate delta = %v; want 2", got)
	}
}

func TestObserveOutcomeCountsBytes(t *testing.T) {
	ObserveOutcome("https://metrics-test.example/a", "stored", 512)
	ObserveOutcome("https://metrics-test.example/b", "failed", 0)

	if got := testutil.ToFloat64(prefetchOutcomesTotal.WithLabelValues("metrics-test.example", "stored")); got != 1 {
		t.Errorf("stored outcomes = %v; want 1", got)
	}
	if got := testutil.ToFloat64(prefetchBytesTotal.WithLabelValues("metrics-test.example")); got != 512 {
		t.Errorf("bytes = %v; want 512", got)
	}
}

func TestSetQueueState(t *testing.T) {
	SetQueueState(3, 7)
	if got := testutil.ToFloat64(prefetchInFlight); got != 3 {
		t.Errorf("in flight = %v; want 3", got)
	}
	if got := testutil.ToFloat64(prefetchPending); got != 7 {
		t.Errorf("pending = %v; want 7", got)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned empty string", orig)
		}
	})
}
