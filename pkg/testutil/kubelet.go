package testutil

import (
	"context"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// PodOutcome mutates the status of a pod the way a kubelet would.
type PodOutcome func(pod *corev1.Pod)

// NewPod returns a pending pod with one container.
func NewPod(namespace, name string, labels map[string]string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    labels,
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{{
				Name:  "main",
				Image: "busybox",
			}},
		},
	}
}

// Succeed completes every container of the pod.
func Succeed(pod *corev1.Pod) {
	pod.Status.Phase = corev1.PodSucceeded
	pod.Status.InitContainerStatuses = terminated(pod.Spec.InitContainers, "", 0)
	pod.Status.ContainerStatuses = terminated(pod.Spec.Containers, "", 0)
}

// BecomeReady runs the pod and marks it ready.
func BecomeReady(pod *corev1.Pod) {
	pod.Status.Phase = corev1.PodRunning
	pod.Status.InitContainerStatuses = terminated(pod.Spec.InitContainers, "", 0)
	pod.Status.ContainerStatuses = nil
	for _, c := range pod.Spec.Containers {
		pod.Status.ContainerStatuses = append(pod.Status.ContainerStatuses, corev1.ContainerStatus{
			Name:  c.Name,
			Ready: true,
			State: corev1.ContainerState{Running: &corev1.ContainerStateRunning{}},
		})
	}
	pod.Status.Conditions = []corev1.PodCondition{{
		Type:   corev1.PodReady,
		Status: corev1.ConditionTrue,
	}}
}

// StartRunning runs the pod without it becoming ready.
func StartRunning(pod *corev1.Pod) {
	pod.Status.Phase = corev1.PodRunning
	pod.Status.ContainerStatuses = nil
	for _, c := range pod.Spec.Containers {
		pod.Status.ContainerStatuses = append(pod.Status.ContainerStatuses, corev1.ContainerStatus{
			Name:  c.Name,
			State: corev1.ContainerState{Running: &corev1.ContainerStateRunning{}},
		})
	}
}

// Fail makes the named container exit with exitCode and fails the pod.
// Init containers before it complete successfully.
func Fail(container string, exitCode int32) PodOutcome {
	return func(pod *corev1.Pod) {
		pod.Status.Phase = corev1.PodFailed
		pod.Status.InitContainerStatuses = terminated(pod.Spec.InitContainers, container, exitCode)
		pod.Status.ContainerStatuses = terminated(pod.Spec.Containers, container, exitCode)
	}
}

// terminated reports every container as exited, with exitCode for failing
// and 0 for the others.
func terminated(containers []corev1.Container, failing string, exitCode int32) []corev1.ContainerStatus {
	var statuses []corev1.ContainerStatus
	for _, c := range containers {
		state := &corev1.ContainerStateTerminated{ExitCode: 0, Reason: "Completed"}
		if c.Name == failing {
			state = &corev1.ContainerStateTerminated{ExitCode: exitCode, Reason: "Error"}
		}
		statuses = append(statuses, corev1.ContainerStatus{
			Name:  c.Name,
			State: corev1.ContainerState{Terminated: state},
		})
	}
	return statuses
}

// SetPodStatus applies outcome to the stored pod.
func SetPodStatus(ctx context.Context, c client.Client, pod *corev1.Pod, outcome PodOutcome) error {
	current := &corev1.Pod{}
	if err := c.Get(ctx, client.ObjectKeyFromObject(pod), current); err != nil {
		return err
	}
	outcome(current)
	return c.Status().Update(ctx, current)
}

// RunPods returns an AfterCreate hook that applies outcomes, in order, to
// every pod created through the client. Other objects are ignored.
func RunPods(outcomes ...PodOutcome) func(c client.WithWatch, obj client.Object) {
	return func(c client.WithWatch, obj client.Object) {
		pod, ok := obj.(*corev1.Pod)
		if !ok {
			return
		}
		key := client.ObjectKeyFromObject(pod)
		go func() {
			ctx := context.Background()
			for _, outcome := range outcomes {
				current := &corev1.Pod{}
				if err := c.Get(ctx, key, current); err != nil {
					return
				}
				outcome(current)
				if err := c.Status().Update(ctx, current); err != nil {
					return
				}
			}
		}()
	}
}
