/*
Copyright 2026 Numtide.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package podlifecycle runs pods through the lifecycle the operator depends
// on: ABSENT, SUBMITTED, WAITING and then READY, COMPLETED or FAILED.
//
// Every operation blocks the calling goroutine until the pods reach the
// expected state, its timeout expires or its context ends. Operations never
// retry; callers decide what to do with a *podsync.TimeoutError.
package podlifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/trace"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/labels"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/numtide/stack-operator/pkg/monitoring"
	"github.com/numtide/stack-operator/pkg/podsync"
	"github.com/numtide/stack-operator/pkg/util/status"
)

// Operation names used in spans and metrics.
const (
	OpRemoveAndWait   = "remove_and_wait"
	OpStart           = "start"
	OpWaitForPod      = "wait_for_pod"
	OpLoadPod         = "load_pod"
	OpRunToCompletion = "run_to_completion"
	OpExecute         = "execute"
)

// Timeouts bound the waits of each operation.
type Timeouts struct {
	// Removal bounds RemoveAndWait.
	Removal time.Duration
	// Ready bounds WaitForPod.
	Ready time.Duration
	// Completion bounds the wait of RunToCompletion once the pod is created.
	Completion time.Duration
}

// DefaultTimeouts returns the timeouts used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Removal:    2 * time.Minute,
		Ready:      10 * time.Minute,
		Completion: 10 * time.Minute,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Removal <= 0 {
		t.Removal = d.Removal
	}
	if t.Ready <= 0 {
		t.Ready = d.Ready
	}
	if t.Completion <= 0 {
		t.Completion = d.Completion
	}
	return t
}

// Controller drives pods through their lifecycle.
type Controller struct {
	Client client.WithWatch
	// Exec runs scripts in containers. ExecuteOnPod fails without it.
	Exec *podsync.ExecSession
	// Logs, when set, attaches the log tail of the failing container to
	// pod failures.
	Logs LogReader
	// LogTailLines defaults to DefaultLogTailLines.
	LogTailLines int64
	// Timeouts that are zero take their DefaultTimeouts value.
	Timeouts Timeouts
}

func (c *Controller) waiter() *podsync.Waiter {
	return &podsync.Waiter{Client: c.Client}
}

// RemoveAndWait deletes the pods matching podLabels in namespace and waits
// until none is left. The watch is opened before the deletion.
func (c *Controller) RemoveAndWait(ctx context.Context, namespace string, podLabels map[string]string) (err error) {
	selector := labels.SelectorFromSet(podLabels)
	ctx, span := monitoring.StartPodSpan(ctx, OpRemoveAndWait, namespace, selector.String())
	defer finish(span, OpRemoveAndWait, time.Now(), &err)
	logger := log.FromContext(ctx).WithValues("namespace", namespace, "selector", selector.String())

	if len(podLabels) == 0 {
		return fmt.Errorf("refusing to remove every pod in namespace %s", namespace)
	}

	sub, err := c.waiter().Watch(ctx, namespace, selector)
	if err != nil {
		return err
	}
	if n := len(sub.Pods()); n > 0 {
		logger.Info("Removing pods", "count", n)
	}

	if err := c.Client.DeleteAllOf(ctx, &corev1.Pod{},
		client.InNamespace(namespace),
		client.MatchingLabels(podLabels),
	); err != nil {
		sub.Stop()
		return fmt.Errorf("failed to delete pods: %w", err)
	}

	if _, err := sub.Wait(ctx, podsync.Absent(), c.Timeouts.withDefaults().Removal); err != nil {
		return err
	}
	logger.V(1).Info("Pods removed")
	return nil
}

// Start submits pod and returns the object accepted by the API server.
func (c *Controller) Start(ctx context.Context, pod *corev1.Pod) (_ *corev1.Pod, err error) {
	ctx, span := monitoring.StartPodSpan(ctx, OpStart, pod.Namespace, pod.Name)
	defer finish(span, OpStart, time.Now(), &err)

	if err := c.Client.Create(ctx, pod); err != nil {
		return nil, fmt.Errorf("failed to create pod %s/%s: %w", pod.Namespace, pod.Name, err)
	}
	log.FromContext(ctx).V(1).Info("Pod submitted", "pod", pod.Namespace+"/"+pod.Name)
	return pod, nil
}

// WaitForPod waits until a pod matching podLabels in namespace is ready. A
// failed pod yields a *podsync.PodFailedError.
func (c *Controller) WaitForPod(
	ctx context.Context,
	namespace string,
	podLabels map[string]string,
) (_ *corev1.Pod, err error) {
	selector := labels.SelectorFromSet(podLabels)
	ctx, span := monitoring.StartPodSpan(ctx, OpWaitForPod, namespace, selector.String())
	defer finish(span, OpWaitForPod, time.Now(), &err)

	pod, err := c.waiter().WaitFor(ctx, namespace, selector, podsync.Ready(), c.Timeouts.withDefaults().Ready)
	if err != nil {
		var failed *podsync.PodFailedError
		if errors.As(err, &failed) {
			c.attachLogs(ctx, failed)
		}
		return nil, err
	}
	return pod, nil
}

// LoadPod returns the pod matching podLabels in namespace, or nil when there
// is none. With several matches the first by name is returned.
func (c *Controller) LoadPod(
	ctx context.Context,
	namespace string,
	podLabels map[string]string,
) (_ *corev1.Pod, err error) {
	ctx, span := monitoring.StartPodSpan(ctx, OpLoadPod, namespace, labels.SelectorFromSet(podLabels).String())
	defer finish(span, OpLoadPod, time.Now(), &err)

	list := &corev1.PodList{}
	if err := c.Client.List(ctx, list,
		client.InNamespace(namespace),
		client.MatchingLabels(podLabels),
	); err != nil {
		return nil, fmt.Errorf("failed to list pods: %w", err)
	}
	if len(list.Items) == 0 {
		return nil, nil
	}
	sort.Slice(list.Items, func(i, j int) bool { return list.Items[i].Name < list.Items[j].Name })
	return &list.Items[0], nil
}

// RunToCompletion removes earlier pods with the labels of pod, creates pod
// and waits until it has completed. A failed pod yields a
// *podsync.PodFailedError naming the failing container.
func (c *Controller) RunToCompletion(ctx context.Context, pod *corev1.Pod) (_ *corev1.Pod, err error) {
	selector := labels.SelectorFromSet(pod.Labels)
	ctx, span := monitoring.StartPodSpan(ctx, OpRunToCompletion, pod.Namespace, selector.String())
	defer finish(span, OpRunToCompletion, time.Now(), &err)
	logger := log.FromContext(ctx).WithValues("pod", pod.Namespace+"/"+pod.Name)

	if len(pod.Labels) == 0 {
		return nil, fmt.Errorf("pod %s/%s has no labels to select it by", pod.Namespace, pod.Name)
	}

	if err := c.RemoveAndWait(ctx, pod.Namespace, pod.Labels); err != nil {
		return nil, err
	}

	sub, err := c.waiter().Watch(ctx, pod.Namespace, selector)
	if err != nil {
		return nil, err
	}
	if _, err := c.Start(ctx, pod); err != nil {
		sub.Stop()
		return nil, err
	}

	done, err := sub.Wait(ctx, podsync.Terminal(), c.Timeouts.withDefaults().Completion)
	if err != nil {
		return nil, err
	}

	result := status.ClassifyPod(done)
	if result.HasFailed() {
		failed := &podsync.PodFailedError{
			Namespace: done.Namespace,
			Pod:       done.Name,
			Result:    result,
		}
		c.attachLogs(ctx, failed)
		return done, failed
	}
	logger.Info("Pod completed")
	return done, nil
}

// ExecuteOnPod runs script in container of pod. See podsync.ExecSession.
func (c *Controller) ExecuteOnPod(
	ctx context.Context,
	pod *corev1.Pod,
	container string,
	timeout time.Duration,
	script ...string,
) (_ *podsync.ExecOutput, err error) {
	ctx, span := monitoring.StartPodSpan(ctx, OpExecute, pod.Namespace, pod.Name+"/"+container)
	defer finish(span, OpExecute, time.Now(), &err)

	if c.Exec == nil {
		return nil, fmt.Errorf("exec is not configured")
	}
	return c.Exec.Execute(ctx, pod, container, timeout, script...)
}

// attachLogs adds the log tail of the failing container to failed. Log
// errors are logged and otherwise ignored.
func (c *Controller) attachLogs(ctx context.Context, failed *podsync.PodFailedError) {
	if c.Logs == nil || failed.Result.Container == "" {
		return
	}
	lines := c.LogTailLines
	if lines <= 0 {
		lines = DefaultLogTailLines
	}
	tail, err := c.Logs.TailLogs(ctx, failed.Namespace, failed.Pod, failed.Result.Container, lines)
	if err != nil {
		log.FromContext(ctx).V(1).Info("Could not read logs of failed container",
			"pod", failed.Pod, "container", failed.Result.Container, "error", err.Error())
		return
	}
	failed.Logs = tail
}

// finish records the outcome of an operation on its span and metrics.
func finish(span trace.Span, operation string, start time.Time, err *error) {
	monitoring.RecordPodOperation(operation, Result(*err), time.Since(start))
	monitoring.RecordSpanError(span, *err)
	span.End()
}

// Result classifies err for metrics.
func Result(err error) string {
	var (
		timeout    *podsync.TimeoutError
		cancelled  *podsync.CancellationError
		podFailed  *podsync.PodFailedError
		execFailed *podsync.ExecFailureError
	)
	switch {
	case err == nil:
		return monitoring.ResultSuccess
	case errors.As(err, &timeout):
		return monitoring.ResultTimeout
	case errors.As(err, &cancelled):
		return monitoring.ResultCancelled
	case errors.As(err, &podFailed), errors.As(err, &execFailed):
		return monitoring.ResultFailed
	default:
		return monitoring.ResultError
	}
}
