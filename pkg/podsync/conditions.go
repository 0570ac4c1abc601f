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

package podsync

import (
	corev1 "k8s.io/api/core/v1"

	"github.com/numtide/stack-operator/pkg/util/status"
)

// Condition decides whether a wait is over, given every pod currently
// matching the subscription's selector, sorted by name.
type Condition struct {
	// Name identifies the condition in errors and logs.
	Name string
	// Check returns done once the wait should release. It may return the pod
	// that satisfied the condition and an error to release with.
	Check func(pods []*corev1.Pod) (pod *corev1.Pod, done bool, err error)
}

// Ready is met once a matching pod is READY. A FAILED pod ends the wait with
// a PodFailedError.
func Ready() Condition {
	return Condition{
		Name: "ready",
		Check: func(pods []*corev1.Pod) (*corev1.Pod, bool, error) {
			for _, pod := range pods {
				if result := status.ClassifyPod(pod); result.HasFailed() {
					return pod, true, &PodFailedError{
						Namespace: pod.Namespace,
						Pod:       pod.Name,
						Result:    result,
					}
				}
			}
			for _, pod := range pods {
				if status.ClassifyPod(pod).State == status.PodReady {
					return pod, true, nil
				}
			}
			return nil, false, nil
		},
	}
}

// Terminal is met once a matching pod is COMPLETED or FAILED. The pod is
// returned without judging the outcome.
func Terminal() Condition {
	return Condition{
		Name: "completion",
		Check: func(pods []*corev1.Pod) (*corev1.Pod, bool, error) {
			for _, pod := range pods {
				if status.ClassifyPod(pod).State.IsTerminal() {
					return pod, true, nil
				}
			}
			return nil, false, nil
		},
	}
}

// Absent is met once no pod matches.
func Absent() Condition {
	return Condition{
		Name: "removal",
		Check: func(pods []*corev1.Pod) (*corev1.Pod, bool, error) {
			return nil, len(pods) == 0, nil
		},
	}
}
