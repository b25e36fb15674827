package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ai_actions"

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP Metrics
	HTTPRequestsTotal *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec

	// Queue Metrics
	QueueTransitions       *prometheus.CounterVec
	QueueDepth             *prometheus.GaugeVec
	QueueInFlight          prometheus.Gauge
	QueueProcessDuration   *prometheus.HistogramVec
	QueueStaleReclaimed    prometheus.Counter
	QueueStaleResultsTotal prometheus.Counter

	// Scheduler Metrics
	SchedulerTicksTotal   *prometheus.CounterVec
	SchedulerTickDuration prometheus.Histogram
	SchedulerFiredTotal   *prometheus.CounterVec

	// Engine Metrics
	EngineOutcomesTotal   *prometheus.CounterVec
	EngineExecuteDuration *prometheus.HistogramVec
	BreakerState          *prometheus.GaugeVec

	// Database Metrics
	DBQueryErrors *prometheus.CounterVec

	// Authentication Metrics
	AuthFailuresTotal *prometheus.CounterVec
}

// New creates and registers all metrics on the default registry
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics registered on reg
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		QueueTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "transitions_total",
				Help:      "Queue item transitions by event type and action",
			},
			[]string{"event", "action"},
		),
		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "depth",
				Help:      "Number of queue items by status",
			},
			[]string{"status"},
		),
		QueueInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "in_flight",
				Help:      "Processor calls currently running",
			},
		),
		QueueProcessDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "process_duration_seconds",
				Help:      "Processor call duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
			[]string{"action", "result"},
		),
		QueueStaleReclaimed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "stale_reclaimed_total",
				Help:      "Processing items returned to pending after the stale timeout",
			},
		),
		QueueStaleResultsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "stale_results_total",
				Help:      "Processor results discarded because the claim was no longer valid",
			},
		),

		SchedulerTicksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "ticks_total",
				Help:      "Scheduler ticks by result",
			},
			[]string{"result"},
		),
		SchedulerTickDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "tick_duration_seconds",
				Help:      "Scheduler tick duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
			},
		),
		SchedulerFiredTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "fired_total",
				Help:      "Scheduled actions handed to the queue",
			},
			[]string{"action"},
		),

		EngineOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "outcomes_total",
				Help:      "Execution outcomes by action and status",
			},
			[]string{"action", "status"},
		),
		EngineExecuteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "execute_duration_seconds",
				Help:      "Executor backend call duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"action"},
		),
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "breaker_state",
				Help:      "Circuit breaker state per action (0 closed, 1 half-open, 2 open)",
			},
			[]string{"action"},
		),

		DBQueryErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_query_errors_total",
				Help:      "Total number of database query errors",
			},
			[]string{"repository", "operation"},
		),

		AuthFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Total number of authentication failures",
			},
			[]string{"reason"},
		),
	}
}

// RecordHTTPRequest records a completed HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// RecordQueueEvent counts a queue item transition
func (m *Metrics) RecordQueueEvent(event, action string) {
	if m == nil {
		return
	}
	m.QueueTransitions.WithLabelValues(event, action).Inc()
}

// SetQueueDepth publishes the current item count for a status
func (m *Metrics) SetQueueDepth(status string, n int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(status).Set(float64(n))
}

// AddInFlight adjusts the in-flight processor gauge
func (m *Metrics) AddInFlight(delta float64) {
	if m == nil {
		return
	}
	m.QueueInFlight.Add(delta)
}

// ObserveProcess records a processor call
func (m *Metrics) ObserveProcess(action, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.QueueProcessDuration.WithLabelValues(action, result).Observe(d.Seconds())
}

// AddStaleReclaimed counts reclaimed stale items
func (m *Metrics) AddStaleReclaimed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.QueueStaleReclaimed.Add(float64(n))
}

// IncStaleResult counts a discarded late result
func (m *Metrics) IncStaleResult() {
	if m == nil {
		return
	}
	m.QueueStaleResultsTotal.Inc()
}

// RecordTick records one scheduler tick
func (m *Metrics) RecordTick(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.SchedulerTicksTotal.WithLabelValues(result).Inc()
	if d > 0 {
		m.SchedulerTickDuration.Observe(d.Seconds())
	}
}

// IncFired counts a scheduled action handed to the queue
func (m *Metrics) IncFired(action string) {
	if m == nil {
		return
	}
	m.SchedulerFiredTotal.WithLabelValues(action).Inc()
}

// RecordOutcome counts an execution outcome
func (m *Metrics) RecordOutcome(action, status string) {
	if m == nil {
		return
	}
	m.EngineOutcomesTotal.WithLabelValues(action, status).Inc()
}

// ObserveExecute records an executor backend call
func (m *Metrics) ObserveExecute(action string, d time.Duration) {
	if m == nil {
		return
	}
	m.EngineExecuteDuration.WithLabelValues(action).Observe(d.Seconds())
}

// SetBreakerState publishes a circuit breaker state
func (m *Metrics) SetBreakerState(action string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(action).Set(float64(state))
}

// IncDBError counts a failed repository call
func (m *Metrics) IncDBError(repository, operation string) {
	if m == nil {
		return
	}
	m.DBQueryErrors.WithLabelValues(repository, operation).Inc()
}

// IncAuthFailure counts a rejected request
func (m *Metrics) IncAuthFailure(reason string) {
	if m == nil {
		return
	}
	m.AuthFailuresTotal.WithLabelValues(reason).Inc()
}
