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
	"crypto/tls"
	"flag"
	"os"
	"time"

	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/client-go/kubernetes"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/metrics/filters"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	stackv1alpha1 "github.com/numtide/stack-operator/api/v1alpha1"
	tenantstackcontroller "github.com/numtide/stack-operator/internal/controller"
	"github.com/numtide/stack-operator/pkg/dbprep"
	"github.com/numtide/stack-operator/pkg/images"
	"github.com/numtide/stack-operator/pkg/jobcomposer"
	"github.com/numtide/stack-operator/pkg/monitoring"
	"github.com/numtide/stack-operator/pkg/podlifecycle"
	"github.com/numtide/stack-operator/pkg/podsync"
	"github.com/numtide/stack-operator/pkg/util/random"
)

// version is set at build time.
var version = "dev"

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(stackv1alpha1.AddToScheme(scheme))
	// +kubebuilder:scaffold:scheme
}

func main() {
	var metricsAddr string
	var enableLeaderElection bool
	var probeAddr string
	var secureMetrics bool
	var enableHTTP2 bool
	var tlsOpts []func(*tls.Config)

	// Job Flags
	jobOpts := jobOptions{timeouts: podlifecycle.DefaultTimeouts()}
	var maxConcurrentReconciles int
	var retryDelay time.Duration

	// General Flags
	flag.StringVar(&metricsAddr, "metrics-bind-address", "0", "The address the metrics endpoint binds to.")
	flag.StringVar(&probeAddr, "health-probe-bind-address", ":8081", "The address the probe endpoint binds to.")
	flag.BoolVar(&enableLeaderElection, "leader-elect", false, "Enable leader election for controller manager.")
	flag.BoolVar(&secureMetrics, "metrics-secure", true, "If set, the metrics endpoint is served securely via HTTPS.")
	flag.BoolVar(&enableHTTP2, "enable-http2", false, "If set, HTTP/2 will be enabled for the metrics server")

	flag.StringVar(&jobOpts.imageRegistry, "image-registry", os.Getenv("IMAGE_REGISTRY"), "Registry hosting the job images")
	flag.StringVar(&jobOpts.imageTag, "image-tag", images.DefaultTag, "Tag of the job images under --image-registry")
	flag.StringVar(&jobOpts.dbJobImage, "db-job-image", "", "Full reference of the schema creation image, overriding the registry")
	flag.StringVar(&jobOpts.qualifier, "job-qualifier", jobcomposer.DefaultQualifier, "Qualifier of the database preparation job pod")
	flag.StringVar(&jobOpts.forcePasswordReset, "force-db-password-reset", os.Getenv("FORCE_DB_PASSWORD_RESET"),
		"Value of FORCE_PASSWORD_RESET in schema creation containers; unset leaves the variable out")
	flag.IntVar(&maxConcurrentReconciles, "max-concurrent-reconciles", 1, "Number of TenantStacks prepared in parallel")

	flag.DurationVar(&jobOpts.timeouts.Removal, "pod-removal-timeout", jobOpts.timeouts.Removal, "How long to wait for stale job pods to go away")
	flag.DurationVar(&jobOpts.timeouts.Ready, "pod-ready-timeout", jobOpts.timeouts.Ready, "How long to wait for a pod to become ready")
	flag.DurationVar(&jobOpts.timeouts.Completion, "job-completion-timeout", jobOpts.timeouts.Completion, "How long to wait for a job pod to complete")
	flag.DurationVar(&retryDelay, "retry-delay", tenantstackcontroller.DefaultRetryDelay, "Delay before a timed out preparation is retried")
	flag.Int64Var(&jobOpts.logTailLines, "log-tail-lines", podlifecycle.DefaultLogTailLines, "Log lines attached to failed job reports")

	opts := zap.Options{Development: true}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	disableHTTP2 := func(c *tls.Config) {
		setupLog.Info("disabling http/2")
		c.NextProtos = []string{"http/1.1"}
	}
	if !enableHTTP2 {
		tlsOpts = append(tlsOpts, disableHTTP2)
	}

	metricsServerOptions := metricsserver.Options{
		BindAddress:   metricsAddr,
		SecureServing: secureMetrics,
		TLSOpts:       tlsOpts,
	}

	if secureMetrics {
		metricsServerOptions.FilterProvider = filters.WithAuthenticationAndAuthorization
	}

	shutdownTracing, err := monitoring.InitTracing(context.Background(), "stack-operator", version)
	if err != nil {
		setupLog.Error(err, "unable to set up tracing")
		os.Exit(1)
	}

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsServerOptions,
		HealthProbeBindAddress: probeAddr,
		LeaderElection:         enableLeaderElection,
		LeaderElectionID:       "stack-operator.stack.numtide.com",
	})
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		os.Exit(1)
	}

	// 1. Uncached clients
	// Pod waits watch the API server directly so that no event between the
	// watch and the seeding list is lost to cache lag.
	watchClient, err := client.NewWithWatch(mgr.GetConfig(), client.Options{Scheme: scheme})
	if err != nil {
		setupLog.Error(err, "failed to create watch client")
		os.Exit(1)
	}
	clientset, err := kubernetes.NewForConfig(mgr.GetConfig())
	if err != nil {
		setupLog.Error(err, "failed to create clientset")
		os.Exit(1)
	}

	// 2. Job machinery
	runner := newRunner(mgr.GetConfig(), watchClient, clientset, mgr.GetScheme(), jobOpts)

	// 3. Controllers
	if err = (&tenantstackcontroller.TenantStackReconciler{
		Client:     mgr.GetClient(),
		Scheme:     mgr.GetScheme(),
		Recorder:   mgr.GetEventRecorderFor("stack-operator"),
		Runner:     runner,
		RetryDelay: retryDelay,
	}).SetupWithManager(mgr, controller.Options{MaxConcurrentReconciles: maxConcurrentReconciles}); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "TenantStack")
		os.Exit(1)
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		os.Exit(1)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		os.Exit(1)
	}

	setupLog.Info("starting manager", "version", version)
	runErr := mgr.Start(ctrl.SetupSignalHandler())
	if err := shutdownTracing(context.Background()); err != nil {
		setupLog.Error(err, "problem flushing traces")
	}
	if runErr != nil {
		setupLog.Error(runErr, "problem running manager")
		os.Exit(1)
	}
}

// jobOptions configure the database preparation jobs.
type jobOptions struct {
	imageRegistry      string
	imageTag           string
	dbJobImage         string
	qualifier          string
	forcePasswordReset string
	timeouts           podlifecycle.Timeouts
	logTailLines       int64
}

func newRunner(
	config *rest.Config,
	c client.WithWatch,
	clientset kubernetes.Interface,
	scheme *runtime.Scheme,
	o jobOptions,
) *dbprep.Runner {
	resolver := &images.RegistryResolver{Registry: o.imageRegistry, Tag: o.imageTag}
	if o.dbJobImage != "" {
		resolver.Overrides = map[string]string{images.DBJob: o.dbJobImage}
	}

	return &dbprep.Runner{
		Lifecycle: &podlifecycle.Controller{
			Client:       c,
			Exec:         &podsync.ExecSession{Streamers: podsync.NewStreamerFactory(config, clientset)},
			Logs:         &podlifecycle.ClientsetLogReader{Clientset: clientset},
			LogTailLines: o.logTailLines,
			Timeouts:     o.timeouts,
		},
		Composer: &jobcomposer.Composer{
			Client:             c,
			Scheme:             scheme,
			Images:             resolver,
			Random:             random.Default,
			Qualifier:          o.qualifier,
			ForcePasswordReset: o.forcePasswordReset,
		},
	}
}
