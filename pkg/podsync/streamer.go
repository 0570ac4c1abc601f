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

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/httpstream"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"
)

// StreamerFactory opens the remote stream of an exec of command in container
// of pod.
type StreamerFactory func(pod *corev1.Pod, container string, command []string) (remotecommand.Executor, error)

// NewStreamerFactory returns a StreamerFactory that talks to the API server
// over websockets and falls back to SPDY when the server cannot upgrade.
func NewStreamerFactory(config *rest.Config, clientset kubernetes.Interface) StreamerFactory {
	return func(pod *corev1.Pod, container string, command []string) (remotecommand.Executor, error) {
		req := clientset.CoreV1().RESTClient().
			Post().
			Namespace(pod.Namespace).
			Resource("pods").
			Name(pod.Name).
			SubResource("exec").
			VersionedParams(&corev1.PodExecOptions{
				Container: container,
				Command:   command,
				Stdin:     true,
				Stdout:    true,
				Stderr:    true,
			}, scheme.ParameterCodec)

		websocketExec, err := remotecommand.NewWebSocketExecutor(config, "GET", req.URL().String())
		if err != nil {
			return nil, fmt.Errorf("failed to create websocket executor: %w", err)
		}
		spdyExec, err := remotecommand.NewSPDYExecutor(config, "POST", req.URL())
		if err != nil {
			return nil, fmt.Errorf("failed to create SPDY executor: %w", err)
		}
		return remotecommand.NewFallbackExecutor(websocketExec, spdyExec, func(err error) bool {
			return httpstream.IsUpgradeFailure(err) || httpstream.IsHTTPSProxyError(err)
		})
	}
}
