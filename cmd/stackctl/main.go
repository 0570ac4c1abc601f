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

// Command stackctl drives single pods through the lifecycle used by the
// stack operator, for debugging job images outside of a TenantStack.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/client-go/kubernetes"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/numtide/stack-operator/pkg/podlifecycle"
	"github.com/numtide/stack-operator/pkg/podsync"
)

// options are the flags shared by every command.
type options struct {
	masterURL    string
	kubeconfig   string
	namespace    string
	timeouts     podlifecycle.Timeouts
	logTailLines int64
	verbose      bool
}

// controllerFactory builds the lifecycle controller the commands run on.
type controllerFactory func(o *options) (*podlifecycle.Controller, error)

func newRootCmd(factory controllerFactory) *cobra.Command {
	o := &options{timeouts: podlifecycle.DefaultTimeouts()}

	rootCmd := &cobra.Command{
		Use:           "stackctl",
		Short:         "Run, wait for, exec into and remove pods the way the stack operator does",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			logger := zap.New(zap.UseDevMode(o.verbose), zap.WriteTo(cmd.ErrOrStderr()))
			cmd.SetContext(log.IntoContext(cmd.Context(), logger))
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&o.masterURL, "master", "", "The address of the Kubernetes API server.")
	flags.StringVar(&o.kubeconfig, "kubeconfig", os.Getenv("KUBECONFIG"), "Path to a kubeconfig file.")
	flags.StringVarP(&o.namespace, "namespace", "n", "default", "Namespace of the pods.")
	flags.DurationVar(&o.timeouts.Removal, "removal-timeout", o.timeouts.Removal, "How long to wait for pods to go away.")
	flags.DurationVar(&o.timeouts.Ready, "ready-timeout", o.timeouts.Ready, "How long to wait for a pod to become ready.")
	flags.DurationVar(&o.timeouts.Completion, "completion-timeout", o.timeouts.Completion, "How long to wait for a pod to complete.")
	flags.Int64Var(&o.logTailLines, "log-tail-lines", podlifecycle.DefaultLogTailLines, "Log lines printed for failed pods.")
	flags.BoolVarP(&o.verbose, "verbose", "v", false, "Log in development mode.")

	rootCmd.AddCommand(
		newRunCmd(o, factory),
		newWaitCmd(o, factory),
		newExecCmd(o, factory),
		newRemoveCmd(o, factory),
	)
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(newController).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// newController talks to the cluster selected by the kubeconfig flags.
func newController(o *options) (*podlifecycle.Controller, error) {
	config, err := clientcmd.BuildConfigFromFlags(o.masterURL, o.kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("error building kubeconfig: %w", err)
	}

	scheme := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))

	c, err := client.NewWithWatch(config, client.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("error building client: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("error building kubernetes client: %w", err)
	}

	return &podlifecycle.Controller{
		Client:       c,
		Exec:         &podsync.ExecSession{Streamers: podsync.NewStreamerFactory(config, clientset)},
		Logs:         &podlifecycle.ClientsetLogReader{Clientset: clientset},
		LogTailLines: o.logTailLines,
		Timeouts:     o.timeouts,
	}, nil
}

// parseLabels parses a "k=v,k2=v2" selector. An empty selector is rejected
// because every command acts on a labelled set of pods.
func parseLabels(selector string) (map[string]string, error) {
	if selector == "" {
		return nil, fmt.Errorf("--selector is required")
	}
	set, err := labels.ConvertSelectorToLabelsMap(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	return set, nil
}
