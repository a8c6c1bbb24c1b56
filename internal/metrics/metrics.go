// Package metrics exposes Prometheus collectors for the render/extract engine.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	inFlightActions            prometheus.Gauge
	admissionWaiting           prometheus.Gauge
	admissionWaitSeconds       prometheus.Histogram
	rateLimitDelaySeconds      *prometheus.HistogramVec
	actionAttemptsTotal        *prometheus.CounterVec
	jobsTotal                  *prometheus.CounterVec
	cachePrunedTotal           prometheus.Counter
	cachePruneErrorsTotal      prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		inFlightActions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "grail_inflight_actions",
				Help: "Number of heavy actions currently holding an admission slot.",
			},
		)

		admissionWaiting = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "grail_admission_waiting",
				Help: "Number of callers queued for an admission slot.",
			},
		)

		admissionWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "grail_admission_wait_seconds",
				Help:    "Histogram of time spent waiting for an admission slot.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "grail_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations, labeled by scope.",
				Buckets: []float64{0.01, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"scope"},
		)

		actionAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grail_action_attempts_total",
				Help: "Total render/extract attempts, labeled by operation and outcome.",
			},
			[]string{"op", "outcome"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grail_jobs_total",
				Help: "Total jobs completed, labeled by operation and result.",
			},
			[]string{"op", "result"},
		)

		cachePrunedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "grail_cache_pruned_runs_total",
				Help: "Total run directories removed by cache pruning.",
			},
		)

		cachePruneErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "grail_cache_prune_errors_total",
				Help: "Total run directories that could not be removed during pruning.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetInFlight records the current number of held admission slots.
func SetInFlight(n int) {
	Init()
	inFlightActions.Set(float64(n))
}

// SetWaiting records the current admission queue length.
func SetWaiting(n int) {
	Init()
	admissionWaiting.Set(float64(n))
}

// ObserveAdmissionWait records how long a caller waited for a slot.
func ObserveAdmissionWait(duration time.Duration) {
	Init()
	admissionWaitSeconds.Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(scope string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(scope).Observe(duration.Seconds())
}

// ObserveAttempt counts a single action attempt.
func ObserveAttempt(op, outcome string) {
	Init()
	actionAttemptsTotal.WithLabelValues(op, outcome).Inc()
}

// ObserveJob counts a completed job; result is "success" or an error kind.
func ObserveJob(op, result string) {
	Init()
	jobsTotal.WithLabelValues(op, result).Inc()
}

// ObservePrune records the outcome of one prune pass.
func ObservePrune(removed, failed int) {
	Init()
	if removed > 0 {
		cachePrunedTotal.Add(float64(removed))
	}
	if failed > 0 {
		cachePruneErrorsTotal.Add(float64(failed))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
