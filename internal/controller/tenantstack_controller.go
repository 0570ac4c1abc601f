package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/log"

	stackv1alpha1 "github.com/numtide/stack-operator/api/v1alpha1"
	"github.com/numtide/stack-operator/pkg/dbprep"
	"github.com/numtide/stack-operator/pkg/monitoring"
	"github.com/numtide/stack-operator/pkg/podsync"
	"github.com/numtide/stack-operator/pkg/schema"
)

// DefaultRetryDelay is how long a timed out preparation waits before it is
// tried again.
const DefaultRetryDelay = 30 * time.Second

// Condition reasons of ConditionDatabasePrepared.
const (
	ReasonPreparing      = "Preparing"
	ReasonCompleted      = "Completed"
	ReasonTimedOut       = "TimedOut"
	ReasonJobFailed      = "JobFailed"
	ReasonNamingConflict = "NamingConflict"
)

// TenantStackReconciler prepares the database schemas of TenantStacks.
type TenantStackReconciler struct {
	client.Client
	Scheme   *runtime.Scheme
	Recorder record.EventRecorder
	Runner   *dbprep.Runner
	// RetryDelay defaults to DefaultRetryDelay.
	RetryDelay time.Duration
}

// +kubebuilder:rbac:groups=stack.numtide.com,resources=tenantstacks,verbs=get;list;watch
// +kubebuilder:rbac:groups=stack.numtide.com,resources=tenantstacks/status,verbs=get;update;patch
// +kubebuilder:rbac:groups="",resources=pods,verbs=get;list;watch;create;delete;deletecollection
// +kubebuilder:rbac:groups="",resources=pods/log,verbs=get
// +kubebuilder:rbac:groups="",resources=secrets,verbs=get;list;watch;create
// +kubebuilder:rbac:groups="",resources=events,verbs=create;patch

// Reconcile runs the database preparation job of a TenantStack once per
// generation. Timeouts are retried after RetryDelay; failed jobs and naming
// conflicts mark the stack Failed until its spec changes.
func (r *TenantStackReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	start := time.Now()
	ctx, span := monitoring.StartReconcileSpan(ctx, "TenantStack.Reconcile", req.Name, req.Namespace, "TenantStack")
	defer span.End()
	ctx = monitoring.EnrichLoggerWithTrace(ctx)
	logger := log.FromContext(ctx)
	logger.V(1).Info("reconcile started")

	stack := &stackv1alpha1.TenantStack{}
	if err := r.Get(ctx, req.NamespacedName, stack); err != nil {
		if apierrors.IsNotFound(err) {
			monitoring.DeleteStackInfo(req.Name, req.Namespace)
			return ctrl.Result{}, nil
		}
		monitoring.RecordSpanError(span, err)
		return ctrl.Result{}, fmt.Errorf("failed to get TenantStack: %w", err)
	}

	if monitoring.LinkAnnotatedTrace(span, stack.Annotations) {
		logger.V(1).Info("Linked trace from annotations")
	}

	if !stack.DeletionTimestamp.IsZero() {
		return ctrl.Result{}, nil
	}

	if isSettled(stack) {
		logger.V(1).Info("Generation already handled", "phase", stack.Status.Phase)
		return ctrl.Result{}, nil
	}

	if stack.Status.Phase != stackv1alpha1.PhasePreparing {
		r.setPhase(stack, stackv1alpha1.PhasePreparing, metav1.ConditionUnknown, ReasonPreparing, "")
		if err := r.Status().Update(ctx, stack); err != nil {
			monitoring.RecordSpanError(span, err)
			return ctrl.Result{}, fmt.Errorf("failed to update status: %w", err)
		}
	}
	monitoring.SetStackInfo(stack.Name, stack.Namespace, string(stack.Status.Phase))

	result, runErr := r.Runner.Run(ctx, stack)
	if result != nil && result.Pod != nil {
		stack.Status.JobPod = result.Pod.Name
	}

	res, err := r.handleResult(ctx, stack, result, runErr)
	if err != nil {
		monitoring.RecordSpanError(span, err)
	}
	logger.V(1).Info("reconcile complete", "duration", time.Since(start).String())
	return res, err
}

func (r *TenantStackReconciler) handleResult(
	ctx context.Context,
	stack *stackv1alpha1.TenantStack,
	result *dbprep.Result,
	runErr error,
) (ctrl.Result, error) {
	logger := log.FromContext(ctx)

	var (
		timeout   *podsync.TimeoutError
		cancelled *podsync.CancellationError
		podFailed *podsync.PodFailedError
		conflict  *schema.NamingConflictError
	)
	switch {
	case runErr == nil:
		stack.Status.Schemas = dbprep.SchemaStatuses(result.Schemas)
		stack.Status.Components = result.Components
		r.setPhase(stack, stackv1alpha1.PhaseReady, metav1.ConditionTrue, ReasonCompleted, "")
		monitoring.SetStackSchemas(stack.Name, stack.Namespace, len(stack.Status.Schemas))
		r.Recorder.Eventf(stack, corev1.EventTypeNormal, "DatabasePrepared",
			"Prepared %d schemas", len(stack.Status.Schemas))
		logger.Info("Database prepared", "schemas", len(stack.Status.Schemas))

	case errors.As(runErr, &timeout):
		r.Recorder.Eventf(stack, corev1.EventTypeWarning, ReasonTimedOut,
			"Database preparation timed out, retrying: %v", runErr)
		logger.Info("Database preparation timed out, retrying", "after", r.retryDelay(), "error", runErr.Error())
		meta.SetStatusCondition(&stack.Status.Conditions, metav1.Condition{
			Type:               stackv1alpha1.ConditionDatabasePrepared,
			Status:             metav1.ConditionUnknown,
			Reason:             ReasonTimedOut,
			Message:            runErr.Error(),
			ObservedGeneration: stack.Generation,
		})
		if err := r.Status().Update(ctx, stack); err != nil {
			return ctrl.Result{}, fmt.Errorf("failed to update status: %w", err)
		}
		return ctrl.Result{RequeueAfter: r.retryDelay()}, nil

	case errors.As(runErr, &cancelled):
		return ctrl.Result{}, runErr

	case errors.As(runErr, &podFailed):
		r.setPhase(stack, stackv1alpha1.PhaseFailed, metav1.ConditionFalse, ReasonJobFailed, runErr.Error())
		r.Recorder.Eventf(stack, corev1.EventTypeWarning, ReasonJobFailed,
			"Database preparation failed: %s", podFailed.Result.String())
		logger.Info("Database preparation failed", "error", runErr.Error())

	case errors.As(runErr, &conflict):
		r.setPhase(stack, stackv1alpha1.PhaseFailed, metav1.ConditionFalse, ReasonNamingConflict, runErr.Error())
		r.Recorder.Event(stack, corev1.EventTypeWarning, ReasonNamingConflict, runErr.Error())
		logger.Info("Schema naming conflict", "error", runErr.Error())

	default:
		r.Recorder.Eventf(stack, corev1.EventTypeWarning, "PreparationError",
			"Failed to prepare database: %v", runErr)
		logger.Error(runErr, "Failed to prepare database")
		return ctrl.Result{}, runErr
	}

	stack.Status.ObservedGeneration = stack.Generation
	if err := r.Status().Update(ctx, stack); err != nil {
		return ctrl.Result{}, fmt.Errorf("failed to update status: %w", err)
	}
	monitoring.SetStackInfo(stack.Name, stack.Namespace, string(stack.Status.Phase))
	return ctrl.Result{}, nil
}

func (r *TenantStackReconciler) setPhase(
	stack *stackv1alpha1.TenantStack,
	phase stackv1alpha1.Phase,
	status metav1.ConditionStatus,
	reason, message string,
) {
	stack.Status.Phase = phase
	stack.Status.Message = message
	meta.SetStatusCondition(&stack.Status.Conditions, metav1.Condition{
		Type:               stackv1alpha1.ConditionDatabasePrepared,
		Status:             status,
		Reason:             reason,
		Message:            message,
		ObservedGeneration: stack.Generation,
	})
}

func (r *TenantStackReconciler) retryDelay() time.Duration {
	if r.RetryDelay <= 0 {
		return DefaultRetryDelay
	}
	return r.RetryDelay
}

// isSettled reports whether the current generation already reached a final
// phase.
func isSettled(stack *stackv1alpha1.TenantStack) bool {
	if stack.Status.ObservedGeneration != stack.Generation {
		return false
	}
	return stack.Status.Phase == stackv1alpha1.PhaseReady || stack.Status.Phase == stackv1alpha1.PhaseFailed
}

// SetupWithManager sets up the controller with the Manager.
func (r *TenantStackReconciler) SetupWithManager(mgr ctrl.Manager, opts ...controller.Options) error {
	controllerOpts := controller.Options{}
	if len(opts) > 0 {
		controllerOpts = opts[0]
	}

	return ctrl.NewControllerManagedBy(mgr).
		For(&stackv1alpha1.TenantStack{}).
		Named("tenantstack").
		WithOptions(controllerOpts).
		Complete(r)
}
