// Package metrics exposes Prometheus instrumentation for the RLM query
// engine: query outcomes, iteration counts, sub-call volume, token
// consumption, verification results, and executor pool occupancy.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is a centralized interface for collecting engine metrics.
//
// Usage:
//
//	m := metrics.New(nil)
//	start := time.Now()
//	...
//	m.RecordQuery("success", time.Since(start), iterations)
type Metrics struct {
	// QueryTotal counts completed queries by terminal status
	// (success|max_iterations|interrupted|executor_died|error).
	QueryTotal *prometheus.CounterVec

	// QueryDuration measures end-to-end query wall time in seconds.
	// Labels: status
	QueryDuration *prometheus.HistogramVec

	// QueryIterations measures the number of planner iterations a query
	// consumed before reaching a terminal status.
	// Labels: status
	QueryIterations *prometheus.HistogramVec

	// PlannerCallTotal counts planner LLM completions.
	// Labels: status (success|error)
	PlannerCallTotal *prometheus.CounterVec

	// PlannerCallDuration measures planner LLM completion latency.
	PlannerCallDuration prometheus.Histogram

	// SubcallTotal counts sub-LLM callback invocations issued from
	// within sandboxed code.
	// Labels: outcome (success|error|content_error)
	SubcallTotal *prometheus.CounterVec

	// SubcallDuration measures sub-LLM callback latency in seconds.
	SubcallDuration prometheus.Histogram

	// TokensTotal tracks accumulated token usage.
	// Labels: source (planner|subcall), kind (input|output)
	TokensTotal *prometheus.CounterVec

	// ExecutionDuration measures sandboxed code execution latency.
	// Labels: outcome (success|error|timeout)
	ExecutionDuration *prometheus.HistogramVec

	// VerificationTotal counts verification pass outcomes.
	// Labels: kind (citations|semantic), outcome (pass|fail|error|skipped)
	VerificationTotal *prometheus.CounterVec

	// PoolSize is the configured size of the executor pool.
	PoolSize prometheus.Gauge

	// PoolInUse is the number of executors currently checked out.
	PoolInUse prometheus.Gauge

	// PoolAcquireWait measures how long callers wait to acquire an
	// executor from the pool.
	PoolAcquireWait prometheus.Histogram

	// ExecutorDiscarded counts executors discarded as unusable, by
	// reason (died|protocol_error|reset_failed).
	ExecutorDiscarded *prometheus.CounterVec

	// TraceWriteFailures counts failed trace step/finalize writes.
	TraceWriteFailures *prometheus.CounterVec
}

// New creates and registers the engine's metrics. If reg is nil, metrics
// are registered against a fresh private registry so concurrent tests
// (and multiple engine instances) never collide on Prometheus's global
// DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		QueryTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rlm_queries_total",
				Help: "Total number of queries processed by terminal status",
			},
			[]string{"status"},
		),

		QueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rlm_query_duration_seconds",
				Help:    "End-to-end query duration in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),

		QueryIterations: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rlm_query_iterations",
				Help:    "Number of planner iterations consumed per query",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 20, 30},
			},
			[]string{"status"},
		),

		PlannerCallTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rlm_planner_calls_total",
				Help: "Total number of planner LLM completions by status",
			},
			[]string{"status"},
		),

		PlannerCallDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rlm_planner_call_duration_seconds",
				Help:    "Duration of planner LLM completions in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),

		SubcallTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rlm_subcalls_total",
				Help: "Total number of sub-LLM callback invocations by outcome",
			},
			[]string{"outcome"},
		),

		SubcallDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rlm_subcall_duration_seconds",
				Help:    "Duration of sub-LLM callback invocations in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),

		TokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rlm_tokens_total",
				Help: "Total tokens consumed by source and kind",
			},
			[]string{"source", "kind"},
		),

		ExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rlm_execution_duration_seconds",
				Help:    "Duration of sandboxed code execution in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"outcome"},
		),

		VerificationTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rlm_verification_total",
				Help: "Total verification pass outcomes by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		PoolSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rlm_pool_size",
				Help: "Configured executor pool size",
			},
		),

		PoolInUse: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rlm_pool_in_use",
				Help: "Number of executors currently checked out of the pool",
			},
		),

		PoolAcquireWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rlm_pool_acquire_wait_seconds",
				Help:    "Time spent waiting to acquire an executor from the pool",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
		),

		ExecutorDiscarded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rlm_executor_discarded_total",
				Help: "Total number of executors discarded by reason",
			},
			[]string{"reason"},
		),

		TraceWriteFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rlm_trace_write_failures_total",
				Help: "Total number of failed trace writes by phase",
			},
			[]string{"phase"},
		),
	}
}

// RecordQuery records a completed query's terminal status, duration, and
// iteration count in one call.
func (m *Metrics) RecordQuery(status string, d time.Duration, iterations int) {
	m.QueryTotal.WithLabelValues(status).Inc()
	m.QueryDuration.WithLabelValues(status).Observe(d.Seconds())
	m.QueryIterations.WithLabelValues(status).Observe(float64(iterations))
}

// RecordPlannerCall records one planner LLM completion.
func (m *Metrics) RecordPlannerCall(status string, d time.Duration) {
	m.PlannerCallTotal.WithLabelValues(status).Inc()
	m.PlannerCallDuration.Observe(d.Seconds())
}

// RecordSubcall records one sub-LLM callback invocation.
func (m *Metrics) RecordSubcall(outcome string, d time.Duration) {
	m.SubcallTotal.WithLabelValues(outcome).Inc()
	m.SubcallDuration.Observe(d.Seconds())
}

// RecordTokens accumulates input/output token counts for one completion
// from the given source ("planner" or "subcall").
func (m *Metrics) RecordTokens(source string, inputTokens, outputTokens int) {
	m.TokensTotal.WithLabelValues(source, "input").Add(float64(inputTokens))
	m.TokensTotal.WithLabelValues(source, "output").Add(float64(outputTokens))
}

// RecordExecution records one sandboxed code execution.
func (m *Metrics) RecordExecution(outcome string, d time.Duration) {
	m.ExecutionDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordVerification records one verification pass outcome.
func (m *Metrics) RecordVerification(kind, outcome string) {
	m.VerificationTotal.WithLabelValues(kind, outcome).Inc()
}

// SetPoolSize reports the executor pool's configured capacity.
func (m *Metrics) SetPoolSize(n int) {
	m.PoolSize.Set(float64(n))
}

// SetPoolInUse reports the executor pool's current checkout count.
func (m *Metrics) SetPoolInUse(n int) {
	m.PoolInUse.Set(float64(n))
}

// RecordPoolAcquireWait records how long a caller waited to acquire an
// executor from the pool.
func (m *Metrics) RecordPoolAcquireWait(d time.Duration) {
	m.PoolAcquireWait.Observe(d.Seconds())
}

// RecordExecutorDiscarded records one executor removed from rotation.
func (m *Metrics) RecordExecutorDiscarded(reason string) {
	m.ExecutorDiscarded.WithLabelValues(reason).Inc()
}

// RecordTraceWriteFailure records one failed trace write in the given
// phase ("step" or "finalize").
func (m *Metrics) RecordTraceWriteFailure(phase string) {
	m.TraceWriteFailures.WithLabelValues(phase).Inc()
}
