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
	"fmt"
	"time"

	"github.com/numtide/stack-operator/pkg/util/status"
)

// TimeoutError reports that a wait or exec did not reach its condition
// before its deadline. Callers may retry on it.
type TimeoutError struct {
	// Operation is the condition or command that was waited for.
	Operation string
	Namespace string
	// Selector is the label selector of the waited for pods, or the pod and
	// container of an exec.
	Selector string
	Elapsed  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %s of %s in namespace %s",
		e.Elapsed.Round(time.Millisecond), e.Operation, e.Selector, e.Namespace)
}

// CancellationError reports that the caller's context ended before the
// operation completed. It is never reported for an expired operation
// timeout, which yields a TimeoutError instead.
type CancellationError struct {
	Operation string
	Err       error
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("%s cancelled: %v", e.Operation, e.Err)
}

func (e *CancellationError) Unwrap() error {
	return e.Err
}

// ExecFailureError reports that a script run in a container failed.
type ExecFailureError struct {
	Pod       string
	Container string
	// ExitCode is the exit status of the shell, or -1 when the remote side
	// did not report one.
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExecFailureError) Error() string {
	msg := fmt.Sprintf("exec in %s/%s failed", e.Pod, e.Container)
	if e.ExitCode >= 0 {
		msg += fmt.Sprintf(" with exit code %d", e.ExitCode)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	if e.Stderr != "" {
		msg += fmt.Sprintf(": %s", e.Stderr)
	}
	return msg
}

func (e *ExecFailureError) Unwrap() error {
	return e.Err
}

// PodFailedError reports that a pod reached the FAILED state.
type PodFailedError struct {
	Namespace string
	Pod       string
	Result    status.PodResult
	// Logs is the tail of the failing container's log, when it was collected.
	Logs string
}

func (e *PodFailedError) Error() string {
	msg := fmt.Sprintf("pod %s/%s failed: %s", e.Namespace, e.Pod, e.Result)
	if e.Logs != "" {
		msg += "\n" + e.Logs
	}
	return msg
}
