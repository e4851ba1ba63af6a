// Package observability provides the prometheus-backed implementation of
// the per-module metrics interfaces.
package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OperationMetrics counts and times service operations for one module.
// It satisfies the Metrics interfaces of the game and matchmaking
// services, which share the same contract.
type OperationMetrics struct {
	attempts  *prometheus.CounterVec
	successes *prometheus.CounterVec
	failures  *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

// NewOperationMetrics registers the operation metric families for the
// given module under the arena namespace.
func NewOperationMetrics(reg prometheus.Registerer, module string) *OperationMetrics {
	m := &OperationMetrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arena",
			Subsystem: module,
			Name:      "operation_attempts_total",
			Help:      "Operations attempted, by operation name.",
		}, []string{"operation"}),
		successes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arena",
			Subsystem: module,
			Name:      "operation_successes_total",
			Help:      "Operations completed successfully, by operation name.",
		}, []string{"operation"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arena",
			Subsystem: module,
			Name:      "operation_failures_total",
			Help:      "Operations that returned an error, by operation name.",
		}, []string{"operation"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "arena",
			Subsystem: module,
			Name:      "operation_duration_seconds",
			Help:      "Operation latency, by operation name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	reg.MustRegister(m.attempts, m.successes, m.failures, m.durations)
	return m
}

func (m *OperationMetrics) RecordOperationAttempt(ctx context.Context, operation string) {
	m.attempts.WithLabelValues(operation).Inc()
}

func (m *OperationMetrics) RecordOperationSuccess(ctx context.Context, operation string) {
	m.successes.WithLabelValues(operation).Inc()
}

func (m *OperationMetrics) RecordOperationFailure(ctx context.Context, operation string) {
	m.failures.WithLabelValues(operation).Inc()
}

func (m *OperationMetrics) RecordOperationDuration(ctx context.Context, operation string, duration time.Duration) {
	m.durations.WithLabelValues(operation).Observe(duration.Seconds())
}
