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

package podlifecycle

import (
	"bytes"
	"context"
	"fmt"
	"io"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/ptr"
)

// DefaultLogTailLines is the number of log lines attached to pod failures.
const DefaultLogTailLines = 50

// maxLogBytes caps what is read of a log tail.
const maxLogBytes = 64 * 1024

// LogReader reads the end of a container log.
type LogReader interface {
	TailLogs(ctx context.Context, namespace, pod, container string, lines int64) (string, error)
}

// ClientsetLogReader reads logs through the pods/log subresource.
type ClientsetLogReader struct {
	Clientset kubernetes.Interface
}

// TailLogs implements LogReader.
func (r *ClientsetLogReader) TailLogs(
	ctx context.Context,
	namespace, pod, container string,
	lines int64,
) (string, error) {
	req := r.Clientset.CoreV1().Pods(namespace).GetLogs(pod, &corev1.PodLogOptions{
		Container: container,
		TailLines: ptr.To(lines),
	})
	stream, err := req.Stream(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to stream logs of %s/%s: %w", pod, container, err)
	}
	defer func() { _ = stream.Close() }()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, io.LimitReader(stream, maxLogBytes)); err != nil {
		return "", fmt.Errorf("failed to read logs of %s/%s: %w", pod, container, err)
	}
	return buf.String(), nil
}
