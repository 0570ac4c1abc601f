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
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newExecCmd(o *options, factory controllerFactory) *cobra.Command {
	var (
		selector  string
		container string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "exec -l key=value -c container -- LINE...",
		Short: "Run shell lines in a container of the pod matching the selector",
		Example: `  stackctl exec -n tenants -l app=portal -c main -- 'cd /data' 'ls'
  Every argument is one line of the script. The script exits once the last line has run.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			podLabels, err := parseLabels(selector)
			if err != nil {
				return err
			}
			lc, err := factory(o)
			if err != nil {
				return err
			}
			pod, err := lc.LoadPod(cmd.Context(), o.namespace, podLabels)
			if err != nil {
				return err
			}
			if pod == nil {
				return fmt.Errorf("no pod matches %s in namespace %s", selector, o.namespace)
			}
			if container == "" {
				if len(pod.Spec.Containers) == 0 {
					return fmt.Errorf("pod %s/%s has no containers", pod.Namespace, pod.Name)
				}
				container = pod.Spec.Containers[0].Name
			}

			out, err := lc.ExecuteOnPod(cmd.Context(), pod, container, timeout, args...)
			if err != nil {
				return err
			}
			for _, line := range out.Lines() {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&selector, "selector", "l", "", "Label selector of the pod, as key=value pairs.")
	cmd.Flags().StringVarP(&container, "container", "c", "", "Container to run in. Defaults to the first container.")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "How long the script may run.")
	return cmd
}
