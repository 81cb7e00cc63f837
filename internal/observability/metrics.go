// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Intake / risk metrics
	SignalsProcessed *prometheus.CounterVec
	RiskChecks       *prometheus.CounterVec
	CircuitBreakers  prometheus.Counter

	// Scheduler metrics
	MonitorsActive  prometheus.Gauge
	MonitorOutcomes *prometheus.CounterVec

	// Execution metrics
	ExecutionsTotal *prometheus.CounterVec
	BatchesTotal    *prometheus.CounterVec
	BatchDuration   prometheus.Histogram

	// Routing metrics
	RouteAttempts *prometheus.CounterVec
	RouteLatency  *prometheus.HistogramVec

	// Latency metrics
	RPCCallLatency *prometheus.HistogramVec

	// Health metrics
	LastSignalPoll prometheus.Gauge
	EventsDropped  prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "dex_copy_engine"
	}

	return &Metrics{
		SignalsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "signals_processed_total",
			Help:      "Total number of signals processed by outcome",
		}, []string{"outcome"}),
		RiskChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "checks_total",
			Help:      "Total number of risk checks by result and blocking code",
		}, []string{"result", "code"}),
		CircuitBreakers: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "circuit_breakers_total",
			Help:      "Total number of strategies paused by the daily loss breaker",
		}),

		MonitorsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "monitors_active",
			Help:      "Current number of entry price monitors",
		}),
		MonitorOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "monitor_outcomes_total",
			Help:      "Total number of finished monitors by outcome",
		}, []string{"outcome"}),

		ExecutionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "executions_total",
			Help:      "Total number of per-account executions by final status",
		}, []string{"status"}),
		BatchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "batches_total",
			Help:      "Total number of batch runs by status",
		}, []string{"status"}),
		BatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "batch_duration_seconds",
			Help:      "Batch run duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),

		RouteAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "venue_attempts_total",
			Help:      "Total number of venue attempts by outcome",
		}, []string{"chain", "venue", "outcome"}),
		RouteLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "build_latency_seconds",
			Help:      "Swap transaction build latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"chain"}),

		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "rpc_call_latency_seconds",
			Help:      "EVM JSON-RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		LastSignalPoll: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_signal_poll_timestamp",
			Help:      "Unix timestamp of last successful signal poll",
		}),
		EventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "events_dropped_total",
			Help:      "Total number of lifecycle events that failed to publish",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordSignal records a processed signal.
func RecordSignal(outcome string) {
	DefaultMetrics.SignalsProcessed.WithLabelValues(outcome).Inc()
}

// RecordRiskCheck records a risk verdict. code is empty when passed.
func RecordRiskCheck(passed bool, code string) {
	result := "passed"
	if !passed {
		result = "rejected"
	}
	DefaultMetrics.RiskChecks.WithLabelValues(result, code).Inc()
}

// RecordCircuitBreaker records a daily loss pause.
func RecordCircuitBreaker() {
	DefaultMetrics.CircuitBreakers.Inc()
}

// SetActiveMonitors updates the active monitor gauge.
func SetActiveMonitors(n int) {
	DefaultMetrics.MonitorsActive.Set(float64(n))
}

// RecordMonitorOutcome records how a monitor finished.
func RecordMonitorOutcome(outcome string) {
	DefaultMetrics.MonitorOutcomes.WithLabelValues(outcome).Inc()
}

// RecordExecution records the final status of one account execution.
func RecordExecution(status string) {
	DefaultMetrics.ExecutionsTotal.WithLabelValues(status).Inc()
}

// RecordBatch records a batch run.
func RecordBatch(status string, durationSeconds float64) {
	DefaultMetrics.BatchesTotal.WithLabelValues(status).Inc()
	DefaultMetrics.BatchDuration.Observe(durationSeconds)
}

// RecordRouteAttempt records one venue attempt.
func RecordRouteAttempt(chain, venue, outcome string) {
	DefaultMetrics.RouteAttempts.WithLabelValues(chain, venue, outcome).Inc()
}

// RecordRouteLatency records swap build latency.
func RecordRouteLatency(chain string, seconds float64) {
	DefaultMetrics.RouteLatency.WithLabelValues(chain).Observe(seconds)
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordSignalPoll records a successful intake poll at unix seconds.
func RecordSignalPoll(unix int64) {
	DefaultMetrics.LastSignalPoll.Set(float64(unix))
}

// RecordEventDropped records a lifecycle event that could not be published.
func RecordEventDropped() {
	DefaultMetrics.EventsDropped.Inc()
}
