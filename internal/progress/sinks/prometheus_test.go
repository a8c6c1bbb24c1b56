package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/grail/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	id := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{ActionID: id, TS: now, Stage: progress.StageActionStart, Op: "render"},
		{ActionID: id, TS: now, Stage: progress.StageAttemptFail, Op: "render", Attempt: 1},
		{
			ActionID: id,
			TS:       now.Add(time.Second),
			Stage:    progress.StageArtifact,
			Op:       "render",
			Artifact: "final.html",
			Bytes:    1024,
		},
		{ActionID: id, TS: now.Add(2 * time.Second), Stage: progress.StageActionDone, Op: "render", Dur: 2 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.actionsStarted.WithLabelValues("render")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.actionsCompleted.WithLabelValues("render", "success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.actionsCompleted.WithLabelValues("render", "error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.actionsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.attemptFailures.WithLabelValues("render")))
	require.InDelta(t, 1024.0, testutil.ToFloat64(sink.artifactBytes.WithLabelValues("final.html")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.actionRuntime, "grail_action_runtime_seconds"))
}

// TestPrometheusSinkDuplicateRegistration surfaces registry conflicts.
func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
