/*
Copyright 2026.

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

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/avast/retry-go"
	"github.com/spf13/cobra"
	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/yaml"

	"github.com/numtide/stack-operator/pkg/podlifecycle"
	"github.com/numtide/stack-operator/pkg/podsync"
)

func newRunCmd(o *options, factory controllerFactory) *cobra.Command {
	var (
		filename   string
		attempts   uint
		retryDelay time.Duration
	)

	cmd := &cobra.Command{
		Use:     "run -f pod.yaml",
		Short:   "Replace the pods labelled like the manifest and run it to completion",
		Example: `  stackctl run -n tenants -f job.yaml --attempts 3`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if filename == "" {
				return fmt.Errorf("--filename is required")
			}
			data, err := os.ReadFile(filename)
			if err != nil {
				return fmt.Errorf("failed to read manifest: %w", err)
			}
			pod, err := decodePod(data, o.namespace)
			if err != nil {
				return err
			}

			lc, err := factory(o)
			if err != nil {
				return err
			}
			done, err := runPod(cmd.Context(), lc, pod, attempts, retryDelay)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pod %s/%s %s\n", done.Namespace, done.Name, done.Status.Phase)
			return nil
		},
	}

	cmd.Flags().StringVarP(&filename, "filename", "f", "", "Pod manifest, YAML or JSON.")
	cmd.Flags().UintVar(&attempts, "attempts", 1, "Runs tried before giving up on timeouts.")
	cmd.Flags().DurationVar(&retryDelay, "retry-delay", 10*time.Second, "Delay between timed out runs.")
	return cmd
}

// decodePod reads a pod manifest. The namespace defaults to namespace and
// the pod must carry labels to be selected by.
func decodePod(data []byte, namespace string) (*corev1.Pod, error) {
	pod := &corev1.Pod{}
	if err := yaml.UnmarshalStrict(data, pod); err != nil {
		return nil, fmt.Errorf("failed to decode pod manifest: %w", err)
	}
	if pod.Kind != "" && pod.Kind != "Pod" {
		return nil, fmt.Errorf("manifest is a %s, not a Pod", pod.Kind)
	}
	if pod.Name == "" {
		return nil, fmt.Errorf("pod manifest has no name")
	}
	if len(pod.Labels) == 0 {
		return nil, fmt.Errorf("pod %s has no labels to select it by", pod.Name)
	}
	if pod.Namespace == "" {
		pod.Namespace = namespace
	}
	pod.ResourceVersion = ""
	pod.Status = corev1.PodStatus{}
	return pod, nil
}

// runPod runs pod to completion, trying again after timeouts only. A failed
// pod is final.
func runPod(
	ctx context.Context,
	lc *podlifecycle.Controller,
	pod *corev1.Pod,
	attempts uint,
	delay time.Duration,
) (*corev1.Pod, error) {
	if attempts == 0 {
		return nil, fmt.Errorf("--attempts must be at least 1")
	}
	logger := log.FromContext(ctx)

	var done *corev1.Pod
	err := retry.Do(
		func() error {
			var err error
			done, err = lc.RunToCompletion(ctx, pod.DeepCopy())
			return err
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var timeout *podsync.TimeoutError
			return errors.As(err, &timeout)
		}),
		retry.OnRetry(func(n uint, err error) {
			logger.Info("Run timed out, trying again", "attempt", n+1, "error", err.Error())
		}),
	)
	if err != nil {
		return nil, err
	}
	return done, nil
}
