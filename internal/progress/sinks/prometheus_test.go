package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireworks/jobsift/internal/progress"
)

func newPromSink(t *testing.T) *PrometheusSink {
	t.Helper()
	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)
	return sink
}

func TestPrometheusSinkRunLifecycle(t *testing.T) {
	sink := newPromSink(t)
	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now().UTC()

	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	assert.Equal(t, float64(1), testutil.ToFloat64(sink.runsStarted))
	assert.Equal(t, float64(1), testutil.ToFloat64(sink.runsRunning))

	batch = []progress.Event{{
		RunID:    runID,
		TS:       now.Add(time.Minute),
		Stage:    progress.StageRunDone,
		Postings: 42,
		Dur:      time.Minute,
	}}
	require.NoError(t, sink.Consume(context.Background(), batch))

	assert.Equal(t, float64(0), testutil.ToFloat64(sink.runsRunning))
	assert.Equal(t, float64(1), testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	assert.Equal(t, float64(42), testutil.ToFloat64(sink.postings))
	assert.Equal(t, 1, testutil.CollectAndCount(sink.runDuration))
}

func TestPrometheusSinkDuplicateStartCountsOnce(t *testing.T) {
	sink := newPromSink(t)
	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now().UTC()

	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart},
		{RunID: runID, TS: now, Stage: progress.StageRunStart},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	assert.Equal(t, float64(2), testutil.ToFloat64(sink.runsStarted))
	assert.Equal(t, float64(1), testutil.ToFloat64(sink.runsRunning))

	// Completing a run the tracker never saw must not drive the gauge
	// negative.
	other := progress.UUIDToBytes(uuid.New())
	batch = []progress.Event{{RunID: other, TS: now, Stage: progress.StageRunError}}
	require.NoError(t, sink.Consume(context.Background(), batch))
	assert.Equal(t, float64(1), testutil.ToFloat64(sink.runsRunning))
	assert.Equal(t, float64(1), testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
}

func TestPrometheusSinkFetchOutcomes(t *testing.T) {
	sink := newPromSink(t)
	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now().UTC()

	batch := []progress.Event{
		{
			RunID: runID, TS: now, Stage: progress.StageFetchDone,
			Company: "acme", Provider: "greenhouse",
			Outcome: progress.OutcomeOK, Dur: 200 * time.Millisecond,
		},
		{
			RunID: runID, TS: now, Stage: progress.StageFetchDone,
			Company: "globex", Provider: "lever",
			Outcome: progress.OutcomeError,
		},
		{
			RunID: runID, TS: now, Stage: progress.StageFetchDone,
			Company: "initech", Outcome: progress.OutcomeSkipped,
		},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	assert.Equal(t, float64(1), testutil.ToFloat64(sink.fetches.WithLabelValues("greenhouse", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(sink.fetches.WithLabelValues("lever", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(sink.fetches.WithLabelValues("unknown", "skipped")))
	assert.Equal(t, 1, testutil.CollectAndCount(sink.fetchDuration))
}

func TestPrometheusSinkBlockReasons(t *testing.T) {
	sink := newPromSink(t)
	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now().UTC()

	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageBlocked, Reason: "http_403"},
		{RunID: runID, TS: now, Stage: progress.StageBlocked, Reason: "http_403"},
		{RunID: runID, TS: now, Stage: progress.StageBlocked, Reason: "captcha"},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	assert.Equal(t, float64(2), testutil.ToFloat64(sink.blocks.WithLabelValues("http_403")))
	assert.Equal(t, float64(1), testutil.ToFloat64(sink.blocks.WithLabelValues("captcha")))
}

func TestPrometheusSinkDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
