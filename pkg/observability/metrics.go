// Package observability exposes Prometheus metrics for the query pipeline.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline stage labels used with ObserveStageDuration.
const (
	StageSchema     = "schema"
	StageGeneration = "generation"
	StageValidation = "validation"
	StageExecution  = "execution"
	StageParsing    = "parsing"
)

var (
	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryglass_queries_total",
			Help: "Total number of natural-language query requests by final status.",
		},
		[]string{"status"},
	)

	queryDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "queryglass_query_duration_seconds",
			Help:    "End-to-end pipeline latency per request.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queryglass_stage_duration_seconds",
			Help:    "Pipeline stage latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	generationRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryglass_generation_requests_total",
			Help: "Total number of model generation calls by outcome.",
		},
		[]string{"outcome"},
	)

	generationTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryglass_generation_tokens_total",
			Help: "Total tokens consumed by generation calls.",
		},
		[]string{"direction"},
	)

	validationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryglass_validation_failures_total",
			Help: "Total validation failures by pass.",
		},
		[]string{"pass"},
	)

	retriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queryglass_retries_total",
			Help: "Total generation retries after a failed attempt.",
		},
	)

	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryglass_executions_total",
			Help: "Total SQL executions by status.",
		},
		[]string{"status"},
	)

	executionRows = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "queryglass_execution_rows",
			Help:    "Rows returned per successful execution.",
			Buckets: []float64{0, 1, 10, 50, 100, 500, 1000},
		},
	)

	catalogRefreshesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queryglass_catalog_refreshes_total",
			Help: "Total schema catalog refreshes from the database.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		queriesTotal,
		queryDurationSeconds,
		stageDurationSeconds,
		generationRequestsTotal,
		generationTokensTotal,
		validationFailuresTotal,
		retriesTotal,
		executionsTotal,
		executionRows,
		catalogRefreshesTotal,
	)
}

func ObserveQuery(status string, elapsed time.Duration) {
	queriesTotal.WithLabelValues(status).Inc()
	queryDurationSeconds.Observe(elapsed.Seconds())
}

func ObserveStageDuration(stage string, elapsed time.Duration) {
	stageDurationSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func ObserveGeneration(outcome string, promptTokens, completionTokens int, elapsed time.Duration) {
	generationRequestsTotal.WithLabelValues(outcome).Inc()
	if promptTokens > 0 {
		generationTokensTotal.WithLabelValues("prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		generationTokensTotal.WithLabelValues("completion").Add(float64(completionTokens))
	}
	ObserveStageDuration(StageGeneration, elapsed)
}

func IncrementValidationFailure(pass string) {
	validationFailuresTotal.WithLabelValues(pass).Inc()
}

func IncrementRetry() {
	retriesTotal.Inc()
}

func ObserveExecution(status string, rows int, elapsed time.Duration) {
	executionsTotal.WithLabelValues(status).Inc()
	if rows >= 0 {
		executionRows.Observe(float64(rows))
	}
	ObserveStageDuration(StageExecution, elapsed)
}

func IncrementCatalogRefresh() {
	catalogRefreshesTotal.Inc()
}
