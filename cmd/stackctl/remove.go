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

	"github.com/spf13/cobra"
)

func newRemoveCmd(o *options, factory controllerFactory) *cobra.Command {
	var selector string

	cmd := &cobra.Command{
		Use:     "remove -l key=value",
		Short:   "Delete the pods matching the selector and wait until they are gone",
		Example: `  stackctl remove -n tenants -l app.kubernetes.io/instance=shop`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			podLabels, err := parseLabels(selector)
			if err != nil {
				return err
			}
			lc, err := factory(o)
			if err != nil {
				return err
			}
			if err := lc.RemoveAndWait(cmd.Context(), o.namespace, podLabels); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pods matching %s removed\n", selector)
			return nil
		},
	}

	cmd.Flags().StringVarP(&selector, "selector", "l", "", "Label selector of the pods, as key=value pairs.")
	return cmd
}
