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
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/catalog-harvester/internal/progress"
)

func runBatch(runID [16]byte, pass string, final progress.Stage) []progress.Event {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return []progress.Event{
		{RunID: runID, TS: start, Pass: pass, Stage: progress.StageRunStart},
		{RunID: runID, TS: start.Add(time.Second), Pass: pass, Stage: progress.StageItemDone, CategoryID: "7", Sequence: 1, Outcome: "downloaded", Bytes: 100},
		{RunID: runID, TS: start.Add(2 * time.Second), Pass: pass, Stage: progress.StageItemDone, CategoryID: "8", Sequence: 1, Outcome: "downloaded", Bytes: 50},
		{RunID: runID, TS: start.Add(3 * time.Second), Pass: pass, Stage: progress.StageItemDone, CategoryID: "8", Sequence: 2, Outcome: "failed"},
		{RunID: runID, TS: start.Add(10 * time.Second), Pass: pass, Stage: final, Dur: 10 * time.Second, Note: "note"},
	}
}

// TestPrometheusSinkRecordsMetrics ensures run collectors follow the event stream.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	batch := runBatch(runID, "ingest", progress.StageRunDone)

	require.NoError(t, sink.Consume(context.Background(), batch[:1]))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsRunning))

	require.NoError(t, sink.Consume(context.Background(), batch[1:]))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted.WithLabelValues("ingest")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("ingest", "success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("ingest", "error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 1, testutil.CollectAndCount(sink.runDuration, "harvester_run_duration_seconds"))

	// A second completion for the same run does not drive the gauge negative.
	require.NoError(t, sink.Consume(context.Background(), batch[4:]))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
	require.NoError(t, sink.Close(context.Background()))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestTrackerAggregatesRuns(t *testing.T) {
	t.Parallel()

	tracker := NewTracker()
	first := uuid.New()
	second := uuid.New()

	require.NoError(t, tracker.Consume(context.Background(), runBatch(progress.UUIDToBytes(first), "ingest", progress.StageRunDone)))
	later := runBatch(progress.UUIDToBytes(second), "reconcile", progress.StageRunError)
	for i := range later {
		later[i].TS = later[i].TS.Add(time.Hour)
	}
	require.NoError(t, tracker.Consume(context.Background(), later[:2]))

	run, ok := tracker.Run(first)
	require.True(t, ok)
	assert.Equal(t, "ingest", run.Pass)
	assert.Equal(t, RunSuccess, run.Status)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, int64(2), run.Outcomes["downloaded"])
	assert.Equal(t, int64(1), run.Outcomes["failed"])
	assert.Equal(t, int64(150), run.BytesTotal)
	assert.Equal(t, "8", run.LastCategory)

	running, ok := tracker.Run(second)
	require.True(t, ok)
	assert.Equal(t, RunRunning, running.Status)
	assert.Nil(t, running.FinishedAt)

	require.NoError(t, tracker.Consume(context.Background(), later[2:]))
	failed, _ := tracker.Run(second)
	assert.Equal(t, RunError, failed.Status)
	assert.Equal(t, "note", failed.Error)

	runs := tracker.Runs()
	require.Len(t, runs, 2)
	assert.Equal(t, second, runs[0].RunID, "most recent first")

	// Returned runs are copies.
	runs[1].Outcomes["downloaded"] = 99
	again, _ := tracker.Run(first)
	assert.Equal(t, int64(2), again.Outcomes["downloaded"])

	_, ok = tracker.Run(uuid.New())
	assert.False(t, ok)
	require.NoError(t, tracker.Close(context.Background()))
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.Consume(context.Background(), runBatch(progress.UUIDToBytes(uuid.New()), "discover", progress.StageRunDone)))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.FilterMessage("progress event").All()
	require.Len(t, entries, 5)
	assert.Equal(t, "discover", entries[0].ContextMap()["pass"])
	assert.Equal(t, "downloaded", entries[1].ContextMap()["outcome"])
	assert.Equal(t, "note", entries[4].ContextMap()["note"])

	require.NoError(t, NewLogSink(nil).Consume(context.Background(), nil))
}
