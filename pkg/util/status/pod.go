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

// Package status derives the lifecycle state of job pods from their observed
// status.
//
// The state is recomputed from the pod on every call and never cached, so the
// same pod object always classifies the same way.
package status

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"
)

// PodState is the coarse lifecycle state of a pod as seen by the operator.
type PodState string

const (
	// PodScheduled means the pod exists but no container has been created yet.
	PodScheduled PodState = "SCHEDULED"
	// PodWaiting means containers exist but the pod is neither ready nor done.
	PodWaiting PodState = "WAITING"
	// PodReady means the pod is running and its Ready condition is true.
	PodReady PodState = "READY"
	// PodCompleted means every container exited successfully.
	PodCompleted PodState = "COMPLETED"
	// PodFailed means the pod, or one of its containers, failed for good.
	PodFailed PodState = "FAILED"
)

// IsTerminal reports whether no further transitions are expected.
func (s PodState) IsTerminal() bool {
	return s == PodCompleted || s == PodFailed
}

// nonRecoverableWaitingReasons are container waiting reasons the kubelet will
// not get out of without a change to the pod.
var nonRecoverableWaitingReasons = map[string]bool{
	"CrashLoopBackOff":           true,
	"CreateContainerConfigError": true,
	"InvalidImageName":           true,
	"ErrImageNeverPull":          true,
}

// PodResult is the classification of one observed pod.
type PodResult struct {
	State PodState
	// Container is the failing container when State is PodFailed and a
	// container could be blamed.
	Container string
	// Reason is a short machine readable cause.
	Reason string
	// Message is a human readable detail.
	Message string
}

// HasFailed reports whether the pod failed.
func (r PodResult) HasFailed() bool {
	return r.State == PodFailed
}

// String renders the failure detail, or the state for healthy pods.
func (r PodResult) String() string {
	if !r.HasFailed() {
		return string(r.State)
	}
	s := "pod failed"
	if r.Container != "" {
		s = fmt.Sprintf("container %q failed", r.Container)
	}
	if r.Reason != "" {
		s += ": " + r.Reason
	}
	if r.Message != "" {
		s += ": " + r.Message
	}
	return s
}

// ClassifyPod derives the PodResult of pod.
func ClassifyPod(pod *corev1.Pod) PodResult {
	if pod == nil {
		return PodResult{State: PodScheduled}
	}

	if pod.Status.Phase == corev1.PodSucceeded {
		return PodResult{State: PodCompleted}
	}

	if failure, ok := failedContainer(pod); ok {
		return failure
	}

	if pod.Status.Phase == corev1.PodFailed {
		return PodResult{
			State:   PodFailed,
			Reason:  pod.Status.Reason,
			Message: pod.Status.Message,
		}
	}

	if pod.Status.Phase == corev1.PodRunning && isPodReady(pod) {
		return PodResult{State: PodReady}
	}

	if len(pod.Status.InitContainerStatuses) > 0 || len(pod.Status.ContainerStatuses) > 0 {
		return PodResult{State: PodWaiting}
	}

	return PodResult{State: PodScheduled}
}

func failedContainer(pod *corev1.Pod) (PodResult, bool) {
	statuses := make([]corev1.ContainerStatus, 0,
		len(pod.Status.InitContainerStatuses)+len(pod.Status.ContainerStatuses))
	statuses = append(statuses, pod.Status.InitContainerStatuses...)
	statuses = append(statuses, pod.Status.ContainerStatuses...)

	for _, cs := range statuses {
		if t := cs.State.Terminated; t != nil && t.ExitCode != 0 {
			reason := t.Reason
			if reason == "" {
				reason = "Error"
			}
			return PodResult{
				State:     PodFailed,
				Container: cs.Name,
				Reason:    reason,
				Message:   fmt.Sprintf("exit code %d%s", t.ExitCode, withDetail(t.Message)),
			}, true
		}
		if w := cs.State.Waiting; w != nil && nonRecoverableWaitingReasons[w.Reason] {
			return PodResult{
				State:     PodFailed,
				Container: cs.Name,
				Reason:    w.Reason,
				Message:   w.Message,
			}, true
		}
	}
	return PodResult{}, false
}

func withDetail(msg string) string {
	if msg == "" {
		return ""
	}
	return ", " + msg
}

func isPodReady(pod *corev1.Pod) bool {
	for _, c := range pod.Status.Conditions {
		if c.Type == corev1.PodReady {
			return c.Status == corev1.ConditionTrue
		}
	}
	return false
}
