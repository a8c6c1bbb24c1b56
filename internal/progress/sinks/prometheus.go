package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/grail/internal/progress"
)

// PrometheusSink exports action progress metrics via Prometheus. It owns the
// collectors for actions started/completed/running and per-artifact output.
type PrometheusSink struct {
	actionsStarted   *prometheus.CounterVec
	actionsCompleted *prometheus.CounterVec
	actionsRunning   prometheus.Gauge
	actionRuntime    *prometheus.HistogramVec
	attemptFailures  *prometheus.CounterVec

	artifactsWritten *prometheus.CounterVec
	artifactBytes    *prometheus.CounterVec

	tracker *actionTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		actionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grail_actions_started_total",
			Help: "Total actions that have started.",
		}, []string{"op"}),
		actionsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grail_actions_completed_total",
			Help: "Total actions completed partitioned by op and result.",
		}, []string{"op", "result"}),
		actionsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grail_actions_running",
			Help: "Current number of running actions.",
		}),
		actionRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grail_action_runtime_seconds",
			Help:    "Wall time per completed action.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"op", "result"}),
		attemptFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grail_attempt_failures_total",
			Help: "Failed attempts reported by actions.",
		}, []string{"op"}),
		artifactsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grail_artifacts_written_total",
			Help: "Artifacts written partitioned by file name.",
		}, []string{"artifact"}),
		artifactBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grail_artifact_bytes_total",
			Help: "Bytes written per artifact name.",
		}, []string{"artifact"}),
		tracker: newActionTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.actionsStarted,
		s.actionsCompleted,
		s.actionsRunning,
		s.actionRuntime,
		s.attemptFailures,
		s.artifactsWritten,
		s.artifactBytes,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageActionStart:
		s.actionsStarted.WithLabelValues(evt.Op).Inc()
		if s.tracker.start(evt.ActionID) {
			s.actionsRunning.Inc()
		}
	case progress.StageActionDone:
		s.finish(evt, "success")
	case progress.StageActionError:
		s.finish(evt, "error")
	case progress.StageAttemptFail:
		s.attemptFailures.WithLabelValues(evt.Op).Inc()
	case progress.StageArtifact:
		s.artifactsWritten.WithLabelValues(evt.Artifact).Inc()
		if evt.Bytes > 0 {
			s.artifactBytes.WithLabelValues(evt.Artifact).Add(float64(evt.Bytes))
		}
	}
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.actionsCompleted.WithLabelValues(evt.Op, result).Inc()
	if evt.Dur > 0 {
		s.actionRuntime.WithLabelValues(evt.Op, result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.ActionID) {
		s.actionsRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type actionTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newActionTracker() *actionTracker {
	return &actionTracker{running: make(map[[16]byte]struct{})}
}

func (t *actionTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *actionTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
