package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

// Domain-specific metric collectors.
//
// These complement the generic controller-runtime metrics (reconcile counts,
// durations, work queue depth, etc.) with operator-specific state that the
// framework cannot know about.
var (
	stackInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stack_operator_stack_info",
			Help: "Info-style metric for TenantStack discovery and phase tracking. Always 1.",
		},
		[]string{"name", "namespace", "phase"},
	)

	stackSchemas = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stack_operator_stack_schemas",
			Help: "Number of schemas provisioned for a TenantStack.",
		},
		[]string{"stack", "namespace"},
	)

	podOperationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stack_operator_pod_operation_total",
			Help: "Total number of pod lifecycle operations by result.",
		},
		[]string{"operation", "result"},
	)

	podOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stack_operator_pod_operation_duration_seconds",
			Help:    "Latency of pod lifecycle operations in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"operation"},
	)

	secretsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stack_operator_secrets_created_total",
			Help: "Total number of credential secrets created.",
		},
		[]string{"namespace"},
	)
)

func init() {
	metrics.Registry.MustRegister(
		stackInfo,
		stackSchemas,
		podOperationTotal,
		podOperationDuration,
		secretsCreatedTotal,
	)
}

// Collectors returns all registered metric collectors. This is useful for
// testing that metrics are properly registered.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		stackInfo,
		stackSchemas,
		podOperationTotal,
		podOperationDuration,
		secretsCreatedTotal,
	}
}
