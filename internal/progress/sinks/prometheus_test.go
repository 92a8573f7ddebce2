package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/linkwarmer/internal/progress"
)

var testSession = [16]byte{1}

// TestPrometheusSinkRecordsMetrics ensures counters and histograms move with events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{Session: testSession, TS: now, Stage: progress.StageSessionStart},
		{Session: testSession, TS: now, Stage: progress.StageScan, Trigger: "initial", Count: 3, Dur: time.Millisecond},
		{Session: testSession, TS: now, Stage: progress.StageScan, Trigger: "final"},
		{
			Session:     testSession,
			TS:          now,
			Stage:       progress.StageFetchDone,
			Site:        "site",
			Outcome:     "stored",
			StatusClass: progress.Status2xx,
			Bytes:       512,
			Dur:         20 * time.Millisecond,
		},
		{Session: testSession, TS: now, Stage: progress.StageFetchDone, Site: "site", Outcome: "cached"},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.sessions))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.scans.WithLabelValues("initial")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.scans.WithLabelValues("final")))
	require.Equal(t, 3.0, testutil.ToFloat64(sink.scanEnqueued.WithLabelValues("initial")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.fetches.WithLabelValues("site", "stored", "2xx")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.fetches.WithLabelValues("site", "cached", "other")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.fetchDuration, "linkwarmer_fetch_duration_seconds"))
}

func TestNewPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
