package controller

import (
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	stackv1alpha1 "github.com/numtide/stack-operator/api/v1alpha1"
	"github.com/numtide/stack-operator/pkg/dbprep"
	"github.com/numtide/stack-operator/pkg/jobcomposer"
	"github.com/numtide/stack-operator/pkg/podlifecycle"
	"github.com/numtide/stack-operator/pkg/testutil"
)

func newStack() *stackv1alpha1.TenantStack {
	return &stackv1alpha1.TenantStack{
		ObjectMeta: metav1.ObjectMeta{
			Name:       "shop",
			Namespace:  "tenants",
			UID:        "shop-uid",
			Generation: 1,
		},
		Spec: stackv1alpha1.TenantStackSpec{
			Database: stackv1alpha1.DatabaseServiceSpec{
				Host:            "pg.tenants.svc",
				Port:            5432,
				DatabaseName:    "stack",
				Vendor:          stackv1alpha1.VendorPostgreSQL,
				AdminSecretName: "pg-admin",
			},
			Components: []stackv1alpha1.ComponentSpec{
				{Name: "server", Schemas: []string{"portdb"}, HealthCheckPath: "/health"},
			},
		},
	}
}

func newReconciler(c client.WithWatch, recorder record.EventRecorder, completion time.Duration) *TenantStackReconciler {
	scheme := testutil.NewScheme()
	return &TenantStackReconciler{
		Client:   c,
		Scheme:   scheme,
		Recorder: recorder,
		Runner: &dbprep.Runner{
			Lifecycle: &podlifecycle.Controller{
				Client: c,
				Timeouts: podlifecycle.Timeouts{
					Removal:    5 * time.Second,
					Completion: completion,
				},
			},
			Composer: &jobcomposer.Composer{
				Client: c,
				Scheme: scheme,
				Random: rand.New(rand.NewPCG(1, 2)),
			},
		},
		RetryDelay: time.Minute,
	}
}

func request() ctrl.Request {
	return ctrl.Request{NamespacedName: types.NamespacedName{Name: "shop", Namespace: "tenants"}}
}

func getStack(t *testing.T, c client.Client) *stackv1alpha1.TenantStack {
	t.Helper()
	stack := &stackv1alpha1.TenantStack{}
	if err := c.Get(t.Context(), request().NamespacedName, stack); err != nil {
		t.Fatalf("Get TenantStack: %v", err)
	}
	return stack
}

func drainEvents(recorder *record.FakeRecorder) []string {
	var events []string
	for {
		select {
		case e := <-recorder.Events:
			events = append(events, e)
		default:
			return events
		}
	}
}

func TestReconcile(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		outcomes       []testutil.PodOutcome
		completion     time.Duration
		mutate         func(*stackv1alpha1.TenantStack)
		wantPhase      stackv1alpha1.Phase
		wantReason     string
		wantRequeue    time.Duration
		wantEvent      string
		wantSchemas    []stackv1alpha1.SchemaStatus
		wantComponents []stackv1alpha1.ComponentStatus
		wantMessageHas string
	}{
		"job completes": {
			outcomes:   []testutil.PodOutcome{testutil.StartRunning, testutil.Succeed},
			completion: 5 * time.Second,
			wantPhase:  stackv1alpha1.PhaseReady,
			wantReason: ReasonCompleted,
			wantEvent:  "Normal DatabasePrepared",
			wantSchemas: []stackv1alpha1.SchemaStatus{{
				Component:  "server",
				Qualifier:  "portdb",
				SchemaName: "shop_portdb",
				SecretName: "shop-portdb-secret",
			}},
			wantComponents: []stackv1alpha1.ComponentStatus{{Name: "server", HealthCheckPath: "/health"}},
		},
		"job fails": {
			outcomes:       []testutil.PodOutcome{testutil.Fail("shop-portdb-schema-creation-job", 2)},
			completion:     5 * time.Second,
			wantPhase:      stackv1alpha1.PhaseFailed,
			wantReason:     ReasonJobFailed,
			wantEvent:      "Warning JobFailed",
			wantMessageHas: "exit code 2",
		},
		"job times out": {
			completion:  50 * time.Millisecond,
			wantPhase:   stackv1alpha1.PhasePreparing,
			wantReason:  ReasonTimedOut,
			wantRequeue: time.Minute,
			wantEvent:   "Warning TimedOut",
		},
		"naming conflict": {
			completion: 5 * time.Second,
			mutate: func(s *stackv1alpha1.TenantStack) {
				s.Spec.Components = append(s.Spec.Components,
					stackv1alpha1.ComponentSpec{Name: "web", Schemas: []string{"portdb"}})
			},
			wantPhase:      stackv1alpha1.PhaseFailed,
			wantReason:     ReasonNamingConflict,
			wantEvent:      "Warning NamingConflict",
			wantMessageHas: "declared by both",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			stack := newStack()
			if tc.mutate != nil {
				tc.mutate(stack)
			}
			c := testutil.NewFakeClient(testutil.NewScheme(), &testutil.FailureConfig{
				AfterCreate: testutil.RunPods(tc.outcomes...),
			}, stack)
			recorder := record.NewFakeRecorder(10)
			r := newReconciler(c, recorder, tc.completion)

			res, err := r.Reconcile(t.Context(), request())
			if err != nil {
				t.Fatalf("Reconcile() error: %v", err)
			}
			if res.RequeueAfter != tc.wantRequeue {
				t.Errorf("RequeueAfter = %v, want %v", res.RequeueAfter, tc.wantRequeue)
			}

			got := getStack(t, c)
			if got.Status.Phase != tc.wantPhase {
				t.Errorf("phase = %q, want %q", got.Status.Phase, tc.wantPhase)
			}
			cond := meta.FindStatusCondition(got.Status.Conditions, stackv1alpha1.ConditionDatabasePrepared)
			if cond == nil || cond.Reason != tc.wantReason {
				t.Errorf("condition = %+v, want reason %q", cond, tc.wantReason)
			}
			if diff := cmp.Diff(tc.wantSchemas, got.Status.Schemas); diff != "" {
				t.Errorf("schemas mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tc.wantComponents, got.Status.Components); diff != "" {
				t.Errorf("components mismatch (-want +got):\n%s", diff)
			}
			if tc.wantMessageHas != "" && !strings.Contains(got.Status.Message, tc.wantMessageHas) {
				t.Errorf("message %q does not contain %q", got.Status.Message, tc.wantMessageHas)
			}

			events := drainEvents(recorder)
			found := false
			for _, e := range events {
				if strings.HasPrefix(e, tc.wantEvent) {
					found = true
				}
			}
			if !found {
				t.Errorf("expected event %q, got %v", tc.wantEvent, events)
			}
		})
	}
}

func TestReconcileSkipsSettledGeneration(t *testing.T) {
	t.Parallel()

	stack := newStack()
	stack.Status.Phase = stackv1alpha1.PhaseReady
	stack.Status.ObservedGeneration = 1
	c := testutil.NewFakeClient(testutil.NewScheme(), nil, stack)
	r := newReconciler(c, record.NewFakeRecorder(10), time.Second)

	if _, err := r.Reconcile(t.Context(), request()); err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}

	pods := &corev1.PodList{}
	if err := c.List(t.Context(), pods); err != nil {
		t.Fatalf("List pods: %v", err)
	}
	if len(pods.Items) != 0 {
		t.Errorf("a settled stack should not start a job, got %d pods", len(pods.Items))
	}
}

func TestReconcileNotFound(t *testing.T) {
	t.Parallel()

	c := testutil.NewFakeClient(testutil.NewScheme(), nil)
	r := newReconciler(c, record.NewFakeRecorder(10), time.Second)

	res, err := r.Reconcile(t.Context(), request())
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if res != (ctrl.Result{}) {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestReconcileGetError(t *testing.T) {
	t.Parallel()

	c := testutil.NewFakeClient(testutil.NewScheme(), &testutil.FailureConfig{
		OnGet: testutil.FailOnKeyName("shop", testutil.ErrInjected),
	}, newStack())
	r := newReconciler(c, record.NewFakeRecorder(10), time.Second)

	if _, err := r.Reconcile(t.Context(), request()); err == nil {
		t.Fatal("expected an error")
	}
}

func TestReconcileStatusUpdateError(t *testing.T) {
	t.Parallel()

	c := testutil.NewFakeClient(testutil.NewScheme(), &testutil.FailureConfig{
		OnStatusUpdate: testutil.FailOnObjectName("shop", testutil.ErrInjected),
	}, newStack())
	r := newReconciler(c, record.NewFakeRecorder(10), time.Second)

	if _, err := r.Reconcile(t.Context(), request()); err == nil {
		t.Fatal("expected an error")
	}
}
