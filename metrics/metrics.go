// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/irsalhamdi/coursestream/stream/progress"
)

var (
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coursestream_active_sessions",
			Help: "Number of live viewing sessions",
		},
	)

	ProgressEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursestream_progress_events_total",
			Help: "Progress events emitted by viewing sessions",
		},
		[]string{"type"},
	)

	SyncOperations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coursestream_sync_operations",
			Help:    "Number of store writes per progress sync drain",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		},
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coursestream_sync_duration_seconds",
			Help:    "Duration of successful progress sync drains",
			Buckets: prometheus.DefBuckets,
		},
	)

	CompletedCourses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coursestream_courses_completed_total",
			Help: "Courses crossing 100% completion",
		},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coursestream_rate_limited_requests_total",
			Help: "Requests rejected by the rate limiter",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // success, failure, rejected
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)
)

// ObserveProgress records one progress event.
func ObserveProgress(ev progress.Event) {
	ProgressEvents.WithLabelValues(string(ev.Type)).Inc()

	switch p := ev.Payload.(type) {
	case progress.CourseCompleted:
		CompletedCourses.Inc()
	case progress.SyncCompleted:
		SyncOperations.Observe(float64(p.Operations))
		SyncDuration.Observe(p.Duration.Seconds())
	case progress.SyncFailed:
		SyncOperations.Observe(float64(p.Operations))
	}
}
