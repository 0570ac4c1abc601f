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
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/tools/remotecommand"
	utilexec "k8s.io/utils/exec"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Shell is the interpreter scripts are streamed into.
const Shell = "/bin/sh"

// DefaultPollInterval is how often a running exec is checked for completion.
const DefaultPollInterval = time.Second

// ExecOutput is what a script wrote.
type ExecOutput struct {
	Stdout string
	Stderr string
}

// Lines returns stdout split into lines without the trailing empty line.
func (o *ExecOutput) Lines() []string {
	out := strings.TrimRight(o.Stdout, "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

// ExecSession runs scripts in containers. It holds no state between calls.
type ExecSession struct {
	// Streamers opens the remote stream of an exec.
	Streamers StreamerFactory
	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration
}

// Script renders lines as a shell script that ends with "exit 0", so the
// shell terminates once every line has run.
func Script(lines ...string) string {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("exit 0\n")
	return b.String()
}

// Execute streams script into a shell in container of pod and waits up to
// timeout for it to finish. The stream is cancelled and joined before
// Execute returns. Execute never retries.
func (e *ExecSession) Execute(
	ctx context.Context,
	pod *corev1.Pod,
	container string,
	timeout time.Duration,
	script ...string,
) (*ExecOutput, error) {
	logger := log.FromContext(ctx).WithValues("pod", pod.Namespace+"/"+pod.Name, "container", container)

	executor, err := e.Streamers(pod, container, []string{Shell})
	if err != nil {
		return nil, fmt.Errorf("failed to open exec stream to %s/%s: %w", pod.Name, container, err)
	}

	interval := e.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	start := time.Now()
	listener := NewExecListener(timeout)
	var stdout, stderr bytes.Buffer

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		err := executor.StreamWithContext(streamCtx, remotecommand.StreamOptions{
			Stdin:  strings.NewReader(Script(script...)),
			Stdout: &stdout,
			Stderr: &stderr,
		})
		if err != nil {
			listener.OnFailure(err)
			return err
		}
		listener.OnSuccess()
		return nil
	})

	pollErr := wait.PollUntilContextTimeout(ctx, interval, timeout, true,
		func(context.Context) (bool, error) {
			return !listener.ShouldStillWait(), nil
		})
	if pollErr != nil && ctx.Err() == nil {
		listener.OnTimeout()
	}
	cancel()
	_ = g.Wait()

	if ctx.Err() != nil && listener.State() != ExecSucceeded {
		return nil, &CancellationError{Operation: "exec in " + pod.Name + "/" + container, Err: ctx.Err()}
	}

	output := &ExecOutput{Stdout: stdout.String(), Stderr: stderr.String()}
	switch listener.State() {
	case ExecSucceeded:
		logger.V(1).Info("Exec succeeded", "elapsed", time.Since(start))
		return output, nil
	case ExecFailed:
		err := listener.Err()
		return output, &ExecFailureError{
			Pod:       pod.Name,
			Container: container,
			ExitCode:  exitCode(err),
			Stderr:    strings.TrimSpace(output.Stderr),
			Err:       err,
		}
	default:
		return output, &TimeoutError{
			Operation: "exec",
			Namespace: pod.Namespace,
			Selector:  pod.Name + "/" + container,
			Elapsed:   time.Since(start),
		}
	}
}

func exitCode(err error) int {
	var exitErr utilexec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus()
	}
	return -1
}
