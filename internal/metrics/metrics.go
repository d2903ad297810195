// Package metrics registers the Prometheus collectors for the ask
// pipeline. Observation sites go through the helper functions so label
// sets stay consistent across callers.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	askTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askmetrics_ask_total",
			Help: "Total ask invocations by final status and intent.",
		},
		[]string{"status", "intent"},
	)

	askDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askmetrics_ask_stage_duration_seconds",
			Help:    "Latency of each ask pipeline stage.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	cacheEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askmetrics_cache_events_total",
			Help: "Answer cache events by kind (hit, miss, store, error).",
		},
		[]string{"event"},
	)

	repairAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askmetrics_repair_attempts",
			Help:    "Generation rounds spent per repair loop run.",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	llmCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askmetrics_llm_calls_total",
			Help: "LLM capability calls by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	llmCallDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askmetrics_llm_call_duration_seconds",
			Help:    "LLM capability call latency by operation.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"operation"},
	)

	executorQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askmetrics_executor_queries_total",
			Help: "Executed queries by outcome (ok, truncated, error).",
		},
		[]string{"outcome"},
	)

	executorRows = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askmetrics_executor_rows",
			Help:    "Rows returned per executed query.",
			Buckets: []float64{1, 10, 50, 100, 500, 1000},
		},
	)

	schemaRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askmetrics_schema_refresh_total",
			Help: "Schema snapshot refreshes by outcome (ok, stale, error).",
		},
		[]string{"outcome"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askmetrics_http_requests_total",
			Help: "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askmetrics_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		askTotal,
		askDurationSeconds,
		cacheEventsTotal,
		repairAttempts,
		llmCallsTotal,
		llmCallDurationSeconds,
		executorQueriesTotal,
		executorRows,
		schemaRefreshTotal,
		httpRequestsTotal,
		httpRequestDurationSeconds,
	)
}

// RecordAsk counts one completed ask invocation
func RecordAsk(status, intent string) {
	askTotal.WithLabelValues(status, intent).Inc()
}

// ObserveStage records one pipeline stage's duration
func ObserveStage(stage string, duration time.Duration) {
	askDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordCacheEvent counts a cache hit, miss, store, or error
func RecordCacheEvent(event string) {
	cacheEventsTotal.WithLabelValues(event).Inc()
}

// ObserveRepairAttempts records the rounds one repair loop run consumed
func ObserveRepairAttempts(attempts int) {
	repairAttempts.Observe(float64(attempts))
}

// RecordLLMCall counts one capability call and its latency
func RecordLLMCall(operation, outcome string, duration time.Duration) {
	llmCallsTotal.WithLabelValues(operation, outcome).Inc()
	llmCallDurationSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordExecution counts one executed query and its row volume
func RecordExecution(outcome string, rows int) {
	executorQueriesTotal.WithLabelValues(outcome).Inc()

	if outcome != "error" {
		executorRows.Observe(float64(rows))
	}
}

// RecordSchemaRefresh counts one snapshot refresh outcome
func RecordSchemaRefresh(outcome string) {
	schemaRefreshTotal.WithLabelValues(outcome).Inc()
}

// RecordHTTPRequest counts one served HTTP request
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
