package podlifecycle_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	k8sfake "k8s.io/client-go/kubernetes/fake"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/numtide/stack-operator/pkg/monitoring"
	"github.com/numtide/stack-operator/pkg/podlifecycle"
	"github.com/numtide/stack-operator/pkg/podsync"
	"github.com/numtide/stack-operator/pkg/testutil"
	"github.com/numtide/stack-operator/pkg/util/status"
)

const testNamespace = "tenants"

var jobLabels = map[string]string{
	"stack.numtide.com/job-kind":  "db-preparation",
	"stack.numtide.com/qualifier": "db",
}

// stubLogs returns canned logs and records what was asked for.
type stubLogs struct {
	logs      string
	err       error
	container string
	lines     int64
}

func (s *stubLogs) TailLogs(_ context.Context, _, _, container string, lines int64) (string, error) {
	s.container = container
	s.lines = lines
	return s.logs, s.err
}

func shortTimeouts() podlifecycle.Timeouts {
	return podlifecycle.Timeouts{
		Removal:    5 * time.Second,
		Ready:      5 * time.Second,
		Completion: 5 * time.Second,
	}
}

func listPods(t *testing.T, c client.Client) []corev1.Pod {
	t.Helper()
	list := &corev1.PodList{}
	if err := c.List(context.Background(), list, client.InNamespace(testNamespace)); err != nil {
		t.Fatalf("List pods: %v", err)
	}
	return list.Items
}

func TestRemoveAndWait(t *testing.T) {
	t.Parallel()

	stale := testutil.NewPod(testNamespace, "stale-job", jobLabels)
	other := testutil.NewPod(testNamespace, "web", map[string]string{"app": "web"})
	c := testutil.NewFakeClient(testutil.NewScheme(), nil, stale, other)
	ctrl := &podlifecycle.Controller{Client: c, Timeouts: shortTimeouts()}

	if err := ctrl.RemoveAndWait(t.Context(), testNamespace, jobLabels); err != nil {
		t.Fatalf("RemoveAndWait() error: %v", err)
	}

	pods := listPods(t, c)
	if len(pods) != 1 || pods[0].Name != "web" {
		t.Errorf("expected only the unrelated pod to remain, got %v", pods)
	}
}

func TestRemoveAndWaitWithoutPods(t *testing.T) {
	t.Parallel()

	c := testutil.NewFakeClient(testutil.NewScheme(), nil)
	ctrl := &podlifecycle.Controller{Client: c, Timeouts: shortTimeouts()}

	if err := ctrl.RemoveAndWait(t.Context(), testNamespace, jobLabels); err != nil {
		t.Fatalf("RemoveAndWait() error: %v", err)
	}
}

func TestRemoveAndWaitRejectsEmptyLabels(t *testing.T) {
	t.Parallel()

	pod := testutil.NewPod(testNamespace, "web", nil)
	c := testutil.NewFakeClient(testutil.NewScheme(), nil, pod)
	ctrl := &podlifecycle.Controller{Client: c}

	if err := ctrl.RemoveAndWait(t.Context(), testNamespace, nil); err == nil {
		t.Fatal("expected an error for an empty selector")
	}
	if got := len(listPods(t, c)); got != 1 {
		t.Errorf("pods were deleted: %d left", got)
	}
}

func TestRemoveAndWaitDeleteError(t *testing.T) {
	t.Parallel()

	c := testutil.NewFakeClient(testutil.NewScheme(), &testutil.FailureConfig{
		OnDeleteAllOf: func(client.Object) error { return testutil.ErrPermissionError },
	})
	ctrl := &podlifecycle.Controller{Client: c}

	err := ctrl.RemoveAndWait(t.Context(), testNamespace, jobLabels)
	if !errors.Is(err, testutil.ErrPermissionError) {
		t.Fatalf("expected permission error, got %v", err)
	}
}

func TestRunToCompletion(t *testing.T) {
	t.Parallel()

	stale := testutil.NewPod(testNamespace, "old-run", jobLabels)
	c := testutil.NewFakeClient(testutil.NewScheme(), &testutil.FailureConfig{
		AfterCreate: testutil.RunPods(testutil.StartRunning, testutil.Succeed),
	}, stale)
	ctrl := &podlifecycle.Controller{Client: c, Timeouts: shortTimeouts()}

	pod, err := ctrl.RunToCompletion(t.Context(), testutil.NewPod(testNamespace, "new-run", jobLabels))
	if err != nil {
		t.Fatalf("RunToCompletion() error: %v", err)
	}
	if pod.Name != "new-run" {
		t.Errorf("returned pod %q, want new-run", pod.Name)
	}
	if got := status.ClassifyPod(pod).State; got != status.PodCompleted {
		t.Errorf("pod state = %s, want %s", got, status.PodCompleted)
	}

	pods := listPods(t, c)
	if len(pods) != 1 || pods[0].Name != "new-run" {
		t.Errorf("expected only the new run to exist, got %d pods", len(pods))
	}
}

func TestStartAfterRemoveIgnoresStalePod(t *testing.T) {
	t.Parallel()

	stale := testutil.NewPod(testNamespace, "old-run", jobLabels)
	testutil.BecomeReady(stale)
	c := testutil.NewFakeClient(testutil.NewScheme(), nil, stale)
	timeouts := shortTimeouts()
	timeouts.Ready = 300 * time.Millisecond
	ctrl := &podlifecycle.Controller{Client: c, Timeouts: timeouts}

	if err := ctrl.RemoveAndWait(t.Context(), testNamespace, jobLabels); err != nil {
		t.Fatalf("RemoveAndWait() error: %v", err)
	}
	if _, err := ctrl.Start(t.Context(), testutil.NewPod(testNamespace, "new-run", jobLabels)); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// The new pod never becomes ready, so only the removed pod could
	// satisfy the wait.
	pod, err := ctrl.WaitForPod(t.Context(), testNamespace, jobLabels)
	var timeout *podsync.TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected TimeoutError, got pod %v and error %v", pod, err)
	}
	pods := listPods(t, c)
	if len(pods) != 1 || pods[0].Name != "new-run" {
		t.Errorf("expected only the new run to exist, got %d pods", len(pods))
	}
}

func TestRunToCompletionFailure(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		logs          *stubLogs
		wantLogs      string
		wantTailLines int64
	}{
		"without log reader": {},
		"with log tail": {
			logs:          &stubLogs{logs: "ERROR: permission denied for schema"},
			wantLogs:      "ERROR: permission denied for schema",
			wantTailLines: podlifecycle.DefaultLogTailLines,
		},
		"log read error is ignored": {
			logs:          &stubLogs{err: errors.New("logs gone")},
			wantTailLines: podlifecycle.DefaultLogTailLines,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			c := testutil.NewFakeClient(testutil.NewScheme(), &testutil.FailureConfig{
				AfterCreate: testutil.RunPods(testutil.StartRunning, testutil.Fail("main", 3)),
			})
			ctrl := &podlifecycle.Controller{Client: c, Timeouts: shortTimeouts()}
			if tc.logs != nil {
				ctrl.Logs = tc.logs
			}

			_, err := ctrl.RunToCompletion(t.Context(), testutil.NewPod(testNamespace, "job", jobLabels))
			var failed *podsync.PodFailedError
			if !errors.As(err, &failed) {
				t.Fatalf("expected PodFailedError, got %v", err)
			}
			if failed.Result.Container != "main" {
				t.Errorf("failing container = %q, want main", failed.Result.Container)
			}
			if !strings.Contains(failed.Error(), "exit code 3") {
				t.Errorf("error %q does not carry the exit code", failed.Error())
			}
			if failed.Logs != tc.wantLogs {
				t.Errorf("logs = %q, want %q", failed.Logs, tc.wantLogs)
			}
			if tc.logs != nil {
				if tc.logs.container != "main" || tc.logs.lines != tc.wantTailLines {
					t.Errorf("read %d lines of %q", tc.logs.lines, tc.logs.container)
				}
			}
		})
	}
}

func TestRunToCompletionTimeout(t *testing.T) {
	t.Parallel()

	c := testutil.NewFakeClient(testutil.NewScheme(), nil)
	ctrl := &podlifecycle.Controller{
		Client:   c,
		Timeouts: podlifecycle.Timeouts{Completion: 50 * time.Millisecond},
	}

	_, err := ctrl.RunToCompletion(t.Context(), testutil.NewPod(testNamespace, "job", jobLabels))
	var timeout *podsync.TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if timeout.Operation != "completion" || timeout.Namespace != testNamespace {
		t.Errorf("unexpected timeout error: %+v", timeout)
	}
}

func TestRunToCompletionCancelled(t *testing.T) {
	t.Parallel()

	c := testutil.NewFakeClient(testutil.NewScheme(), nil)
	ctrl := &podlifecycle.Controller{Client: c}

	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := ctrl.RunToCompletion(ctx, testutil.NewPod(testNamespace, "job", jobLabels))
	var cancelled *podsync.CancellationError
	if !errors.As(err, &cancelled) {
		t.Fatalf("expected CancellationError, got %v", err)
	}
	var timeout *podsync.TimeoutError
	if errors.As(err, &timeout) {
		t.Error("cancellation must not be reported as a timeout")
	}
}

func TestRunToCompletionCreateError(t *testing.T) {
	t.Parallel()

	c := testutil.NewFakeClient(testutil.NewScheme(), &testutil.FailureConfig{
		OnCreate: testutil.FailOnObjectName("job", testutil.ErrInjected),
	})
	ctrl := &podlifecycle.Controller{Client: c, Timeouts: shortTimeouts()}

	_, err := ctrl.RunToCompletion(t.Context(), testutil.NewPod(testNamespace, "job", jobLabels))
	if !errors.Is(err, testutil.ErrInjected) {
		t.Fatalf("expected injected error, got %v", err)
	}
}

func TestRunToCompletionRequiresLabels(t *testing.T) {
	t.Parallel()

	c := testutil.NewFakeClient(testutil.NewScheme(), nil)
	ctrl := &podlifecycle.Controller{Client: c}

	if _, err := ctrl.RunToCompletion(t.Context(), testutil.NewPod(testNamespace, "job", nil)); err == nil {
		t.Fatal("expected an error for a pod without labels")
	}
}

func TestWaitForPod(t *testing.T) {
	t.Parallel()

	ready := testutil.NewPod(testNamespace, "server", jobLabels)
	testutil.BecomeReady(ready)
	c := testutil.NewFakeClient(testutil.NewScheme(), nil, ready)
	ctrl := &podlifecycle.Controller{Client: c, Timeouts: shortTimeouts()}

	pod, err := ctrl.WaitForPod(t.Context(), testNamespace, jobLabels)
	if err != nil {
		t.Fatalf("WaitForPod() error: %v", err)
	}
	if pod.Name != "server" {
		t.Errorf("returned pod %q, want server", pod.Name)
	}
}

func TestWaitForPodFailed(t *testing.T) {
	t.Parallel()

	failing := testutil.NewPod(testNamespace, "server", jobLabels)
	testutil.Fail("main", 1)(failing)
	c := testutil.NewFakeClient(testutil.NewScheme(), nil, failing)
	logs := &stubLogs{logs: "panic: boom"}
	ctrl := &podlifecycle.Controller{Client: c, Logs: logs, LogTailLines: 10, Timeouts: shortTimeouts()}

	_, err := ctrl.WaitForPod(t.Context(), testNamespace, jobLabels)
	var failed *podsync.PodFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected PodFailedError, got %v", err)
	}
	if failed.Logs != "panic: boom" {
		t.Errorf("logs = %q", failed.Logs)
	}
	if logs.lines != 10 {
		t.Errorf("read %d lines, want 10", logs.lines)
	}
}

func TestLoadPod(t *testing.T) {
	t.Parallel()

	c := testutil.NewFakeClient(testutil.NewScheme(), nil,
		testutil.NewPod(testNamespace, "job-b", jobLabels),
		testutil.NewPod(testNamespace, "job-a", jobLabels),
		testutil.NewPod("elsewhere", "job-0", jobLabels),
	)
	ctrl := &podlifecycle.Controller{Client: c}

	pod, err := ctrl.LoadPod(t.Context(), testNamespace, jobLabels)
	if err != nil {
		t.Fatalf("LoadPod() error: %v", err)
	}
	if pod == nil || pod.Name != "job-a" {
		t.Fatalf("LoadPod() = %v, want job-a", pod)
	}

	missing, err := ctrl.LoadPod(t.Context(), testNamespace, map[string]string{"app": "none"})
	if err != nil {
		t.Fatalf("LoadPod() error: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for no match, got %s", missing.Name)
	}
}

func TestExecuteOnPod(t *testing.T) {
	t.Parallel()

	exec := &testutil.FakeExecutor{Stdout: "schema ready\n"}
	ctrl := &podlifecycle.Controller{
		Client: testutil.NewFakeClient(testutil.NewScheme(), nil),
		Exec:   &podsync.ExecSession{Streamers: exec.Factory(), PollInterval: 10 * time.Millisecond},
	}
	pod := testutil.NewPod(testNamespace, "server", jobLabels)

	out, err := ctrl.ExecuteOnPod(t.Context(), pod, "main", 5*time.Second, "echo schema ready")
	if err != nil {
		t.Fatalf("ExecuteOnPod() error: %v", err)
	}
	if out.Stdout != "schema ready\n" {
		t.Errorf("stdout = %q", out.Stdout)
	}
	if got := exec.Script(); got != podsync.Script("echo schema ready") {
		t.Errorf("script = %q", got)
	}
}

func TestExecuteOnPodWithoutExec(t *testing.T) {
	t.Parallel()

	ctrl := &podlifecycle.Controller{Client: testutil.NewFakeClient(testutil.NewScheme(), nil)}
	pod := testutil.NewPod(testNamespace, "server", jobLabels)

	if _, err := ctrl.ExecuteOnPod(t.Context(), pod, "main", time.Second, "true"); err == nil {
		t.Fatal("expected an error without an exec session")
	}
}

func TestClientsetLogReader(t *testing.T) {
	t.Parallel()

	clientset := k8sfake.NewClientset(testutil.NewPod(testNamespace, "job", jobLabels))
	reader := &podlifecycle.ClientsetLogReader{Clientset: clientset}

	logs, err := reader.TailLogs(t.Context(), testNamespace, "job", "main", 20)
	if err != nil {
		t.Fatalf("TailLogs() error: %v", err)
	}
	// The fake clientset serves a fixed body for every log request.
	if logs != "fake logs" {
		t.Errorf("logs = %q", logs)
	}
}

func TestResult(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		err  error
		want string
	}{
		"success":   {err: nil, want: monitoring.ResultSuccess},
		"timeout":   {err: &podsync.TimeoutError{}, want: monitoring.ResultTimeout},
		"cancelled": {err: &podsync.CancellationError{Err: context.Canceled}, want: monitoring.ResultCancelled},
		"pod failed": {
			err:  &podsync.PodFailedError{Result: status.PodResult{State: status.PodFailed}},
			want: monitoring.ResultFailed,
		},
		"exec failed": {err: &podsync.ExecFailureError{ExitCode: 2}, want: monitoring.ResultFailed},
		"wrapped":     {err: errors.Join(errors.New("ctx"), &podsync.TimeoutError{}), want: monitoring.ResultTimeout},
		"other":       {err: testutil.ErrInjected, want: monitoring.ResultError},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if got := podlifecycle.Result(tc.err); got != tc.want {
				t.Errorf("Result() = %q, want %q", got, tc.want)
			}
		})
	}
}
