package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce           sync.Once
	checksDispatchedTotal  *prometheus.CounterVec
	checkAttemptsTotal     *prometheus.CounterVec
	checkDurationSeconds   *prometheus.HistogramVec
	checksSupersededTotal  prometheus.Counter
	stateTransitionsTotal  *prometheus.CounterVec
	eventsPublishedTotal   *prometheus.CounterVec
	eventSubscribersActive prometheus.Gauge
	httpRequestsTotal      *prometheus.CounterVec
	httpLatencySeconds     *prometheus.HistogramVec
)

// RegisterMetrics initialises the Prometheus collectors used by the submission core.
func RegisterMetrics() {
	registerOnce.Do(func() {
		checksDispatchedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "submission_checks_dispatched_total",
			Help: "Total number of evaluator checks dispatched per check type.",
		}, []string{"check_type"})

		checkAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "submission_check_attempts_total",
			Help: "Evaluator attempts by check type and outcome.",
		}, []string{"check_type", "outcome"})

		checkDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "submission_check_duration_seconds",
			Help:    "Duration distribution of evaluator calls.",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
		}, []string{"check_type"})

		checksSupersededTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "submission_checks_superseded_total",
			Help: "In-flight checks cancelled because a newer version was created.",
		})

		stateTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "submission_state_transitions_total",
			Help: "Submission state machine transitions by source and target state.",
		}, []string{"from", "to"})

		eventsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "submission_events_published_total",
			Help: "Lifecycle events published per event type.",
		}, []string{"type"})

		eventSubscribersActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "submission_event_subscribers_active",
			Help: "Currently connected event stream subscribers.",
		})

		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "submission_http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "submission_http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		prometheus.MustRegister(
			checksDispatchedTotal,
			checkAttemptsTotal,
			checkDurationSeconds,
			checksSupersededTotal,
			stateTransitionsTotal,
			eventsPublishedTotal,
			eventSubscribersActive,
			httpRequestsTotal,
			httpLatencySeconds,
		)
	})
}

// HTTPRequests exposes the counter for served requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for served requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// ChecksDispatched exposes the counter for dispatched checks.
func ChecksDispatched() *prometheus.CounterVec {
	RegisterMetrics()
	return checksDispatchedTotal
}

// CheckAttempts exposes the attempt outcome counter.
func CheckAttempts() *prometheus.CounterVec {
	RegisterMetrics()
	return checkAttemptsTotal
}

// CheckDuration exposes the evaluator latency histogram.
func CheckDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return checkDurationSeconds
}

// ChecksSuperseded exposes the supersession counter.
func ChecksSuperseded() prometheus.Counter {
	RegisterMetrics()
	return checksSupersededTotal
}

// StateTransitions exposes the state machine transition counter.
func StateTransitions() *prometheus.CounterVec {
	RegisterMetrics()
	return stateTransitionsTotal
}

// EventsPublished exposes the lifecycle event counter.
func EventsPublished() *prometheus.CounterVec {
	RegisterMetrics()
	return eventsPublishedTotal
}

// EventSubscribersActive exposes the live subscriber gauge.
func EventSubscribersActive() prometheus.Gauge {
	RegisterMetrics()
	return eventSubscribersActive
}
