// Package metrics exposes Prometheus collectors for the report archiver.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/JakeFAU/csr-report-archiver/internal/csr"
)

var (
	outcomesTotal              *prometheus.CounterVec
	retriesTotal               *prometheus.CounterVec
	stageDurationSeconds       *prometheus.HistogramVec
	archivedBytesTotal         prometheus.Counter
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	publishFailuresTotal       prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		outcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "csr_pipeline_outcomes_total",
				Help: "Work items that reached a terminal state, labeled by state and reason.",
			},
			[]string{"state", "reason"},
		)

		retriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "csr_pipeline_retries_total",
				Help: "Stage attempts that failed and were retried, labeled by stage and failure kind.",
			},
			[]string{"stage", "kind"},
		)

		stageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "csr_pipeline_stage_duration_seconds",
				Help:    "Wall time spent in each pipeline stage including retries.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"stage"},
		)

		archivedBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "csr_archived_bytes_total",
				Help: "Bytes of report documents written to the object store.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "csr_active_workers",
				Help: "Number of workers currently processing a work item.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "csr_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		publishFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "csr_publish_failures_total",
				Help: "Archived-report notifications that could not be published.",
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// ObserveOutcome counts a terminal outcome and the bytes it archived.
func ObserveOutcome(o csr.Outcome) {
	reason := string(o.Reason)
	if reason == "" {
		reason = "none"
	}
	outcomesTotal.WithLabelValues(string(o.State), reason).Inc()
	if o.State == csr.StateRecorded && o.Bytes > 0 {
		archivedBytesTotal.Add(float64(o.Bytes))
	}
}

// ObserveRetry counts a retried attempt.
func ObserveRetry(stage string, kind csr.Kind) {
	retriesTotal.WithLabelValues(stage, kind.String()).Inc()
}

// ObserveStage records how long a stage took.
func ObserveStage(stage string, d time.Duration) {
	stageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, d time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObservePublishFailure counts a failed notification.
func ObservePublishFailure() {
	publishFailuresTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Recorder adapts the package-level collectors to the pipeline's observer hooks.
type Recorder struct{}

// NewRecorder initializes the collectors and returns a Recorder.
func NewRecorder() Recorder {
	Init()
	return Recorder{}
}

// Outcome implements pipeline.Observer.
func (Recorder) Outcome(o csr.Outcome) { ObserveOutcome(o) }

// Retry implements pipeline.Observer.
func (Recorder) Retry(stage string, kind csr.Kind) { ObserveRetry(stage, kind) }

// Stage implements pipeline.Observer.
func (Recorder) Stage(stage string, d time.Duration) { ObserveStage(stage, d) }

// PublishFailed implements pipeline.Observer.
func (Recorder) PublishFailed() { ObservePublishFailure() }

// WorkerStarted implements dispatcher.Observer.
func (Recorder) WorkerStarted() { IncActiveWorkers() }

// WorkerFinished implements dispatcher.Observer.
func (Recorder) WorkerFinished() { DecActiveWorkers() }
