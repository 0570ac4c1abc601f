package monitoring

import "time"

// Results of pod lifecycle operations.
const (
	ResultSuccess   = "success"
	ResultTimeout   = "timeout"
	ResultCancelled = "cancelled"
	ResultFailed    = "failed"
	ResultError     = "error"
)

// SetStackInfo sets the info-style gauge for a TenantStack.
// Old phase labels are automatically cleaned up via DeletePartialMatch.
func SetStackInfo(name, namespace, phase string) {
	stackInfo.DeletePartialMatch(map[string]string{
		"name":      name,
		"namespace": namespace,
	})
	stackInfo.WithLabelValues(name, namespace, phase).Set(1)
}

// DeleteStackInfo removes every series of a deleted TenantStack.
func DeleteStackInfo(name, namespace string) {
	stackInfo.DeletePartialMatch(map[string]string{
		"name":      name,
		"namespace": namespace,
	})
	stackSchemas.DeleteLabelValues(name, namespace)
}

// SetStackSchemas sets the schema count gauge for a stack.
func SetStackSchemas(stack, namespace string, schemas int) {
	stackSchemas.WithLabelValues(stack, namespace).Set(float64(schemas))
}

// RecordPodOperation records a pod lifecycle operation's result and duration.
func RecordPodOperation(operation, result string, duration time.Duration) {
	podOperationTotal.WithLabelValues(operation, result).Inc()
	podOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordSecretCreated counts a credential secret created in namespace.
func RecordSecretCreated(namespace string) {
	secretsCreatedTotal.WithLabelValues(namespace).Inc()
}
