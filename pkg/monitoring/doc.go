// Package monitoring provides Prometheus metrics, tracing and recording
// helpers for the stack operator. It exposes domain-specific gauges and
// counters that complement the generic controller-runtime metrics already
// registered by the framework.
//
// All metrics follow the naming convention stack_operator_<metric>_<unit>
// and are registered against controller-runtime's default Prometheus registry
// on import.
//
// Usage in the pod lifecycle controller:
//
//	ctx, span := monitoring.StartPodSpan(ctx, "RunToCompletion", namespace, selector)
//	defer span.End()
//	monitoring.RecordPodOperation("run_to_completion", monitoring.ResultSuccess, elapsed)
//
// Usage in the reconciler:
//
//	monitoring.SetStackInfo(stack.Name, stack.Namespace, string(stack.Status.Phase))
package monitoring
