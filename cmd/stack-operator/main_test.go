package main

import (
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8sfake "k8s.io/client-go/kubernetes/fake"
	"k8s.io/client-go/rest"

	stackv1alpha1 "github.com/numtide/stack-operator/api/v1alpha1"
	"github.com/numtide/stack-operator/pkg/jobcomposer"
	"github.com/numtide/stack-operator/pkg/podlifecycle"
	"github.com/numtide/stack-operator/pkg/testutil"
)

func TestNewRunnerForcePasswordReset(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		flag    string
		want    string
		present bool
	}{
		"unset leaves the variable out": {flag: "", present: false},
		"value is passed as is":         {flag: "true", want: "true", present: true},
		"non boolean value":             {flag: "ONCE", want: "ONCE", present: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := testutil.NewScheme()
			c := testutil.NewFakeClient(s, nil)
			runner := newRunner(&rest.Config{Host: "https://127.0.0.1:6443"}, c, k8sfake.NewClientset(), s, jobOptions{
				dbJobImage:         "registry.local/dbjob:1.0",
				qualifier:          jobcomposer.DefaultQualifier,
				forcePasswordReset: tc.flag,
				timeouts:           podlifecycle.DefaultTimeouts(),
			})

			owner := &stackv1alpha1.TenantStack{
				ObjectMeta: metav1.ObjectMeta{Name: "shop", Namespace: "tenants", UID: "stack-uid"},
			}
			database := stackv1alpha1.DatabaseServiceSpec{
				Host:            "pg.tenants.svc",
				DatabaseName:    "stack",
				Vendor:          stackv1alpha1.VendorPostgreSQL,
				AdminSecretName: "pg-admin",
			}
			job, err := runner.Composer.Compose(t.Context(), owner, database, jobcomposer.Component{
				Qualifier:        "server",
				Capabilities:     []jobcomposer.Capability{jobcomposer.DeclaresSchemas},
				SchemaQualifiers: []string{"portdb"},
			})
			if err != nil {
				t.Fatalf("Compose: %v", err)
			}

			creation := job.Pod.Spec.InitContainers[0]
			if creation.Image != "registry.local/dbjob:1.0" {
				t.Errorf("image = %q, want the --db-job-image override", creation.Image)
			}
			var found *corev1.EnvVar
			for i := range creation.Env {
				if creation.Env[i].Name == jobcomposer.EnvForcePasswordReset {
					found = &creation.Env[i]
				}
			}
			if (found != nil) != tc.present {
				t.Fatalf("%s present = %v, want %v", jobcomposer.EnvForcePasswordReset, found != nil, tc.present)
			}
			if found != nil && found.Value != tc.want {
				t.Errorf("%s = %q, want %q", jobcomposer.EnvForcePasswordReset, found.Value, tc.want)
			}
		})
	}
}
