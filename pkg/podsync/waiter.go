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

// Package podsync turns the asynchronous pod API into bounded synchronous
// operations: waiting for pods to reach a condition and running scripts in
// containers.
//
// A wait is always set up before the action it observes. Watch opens the
// watch first and then lists the current pods to seed its state, so an event
// caused by the action cannot be missed:
//
//	sub, err := waiter.Watch(ctx, namespace, selector)
//	if err != nil {
//		return err
//	}
//	if err := c.Create(ctx, pod); err != nil {
//		sub.Stop()
//		return err
//	}
//	pod, err = sub.Wait(ctx, podsync.Terminal(), timeout)
//
// Label selectors are also applied to every received event, so a watch
// backend that ignores them still yields correct results.
package podsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/apimachinery/pkg/watch"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// DefaultReopenBackoff spaces out the re-opening of closed or failed watches.
var DefaultReopenBackoff = wait.Backoff{
	Duration: 100 * time.Millisecond,
	Factor:   2,
	Jitter:   0.1,
	Steps:    10,
	Cap:      2 * time.Second,
}

// Waiter opens pod subscriptions. It holds no state between calls, so
// concurrent waits never contend.
type Waiter struct {
	Client client.WithWatch
	// ReopenBackoff delays each re-open of a watch within one wait.
	// Defaults to DefaultReopenBackoff.
	ReopenBackoff *wait.Backoff
}

// Subscription is an open watch on the pods matching a selector in one
// namespace. It is released by Wait or Stop and must not be used afterwards.
type Subscription struct {
	client    client.WithWatch
	namespace string
	selector  labels.Selector

	watcher watch.Interface
	pods    map[string]*corev1.Pod
	backoff wait.Backoff

	stopOnce sync.Once
}

// Watch opens a watch on the pods matching selector in namespace and seeds
// the subscription with the pods that currently match.
func (w *Waiter) Watch(
	ctx context.Context,
	namespace string,
	selector labels.Selector,
) (*Subscription, error) {
	if selector == nil {
		selector = labels.Everything()
	}
	s := &Subscription{
		client:    w.Client,
		namespace: namespace,
		selector:  selector,
		backoff:   DefaultReopenBackoff,
	}
	if w.ReopenBackoff != nil {
		s.backoff = *w.ReopenBackoff
	}
	if err := s.open(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// WaitFor watches the pods matching selector and waits for cond.
func (w *Waiter) WaitFor(
	ctx context.Context,
	namespace string,
	selector labels.Selector,
	cond Condition,
	timeout time.Duration,
) (*corev1.Pod, error) {
	s, err := w.Watch(ctx, namespace, selector)
	if err != nil {
		return nil, err
	}
	return s.Wait(ctx, cond, timeout)
}

// Pods returns the pods the subscription currently knows of, sorted by name.
func (s *Subscription) Pods() []*corev1.Pod {
	pods := make([]*corev1.Pod, 0, len(s.pods))
	for _, pod := range s.pods {
		pods = append(pods, pod)
	}
	sort.Slice(pods, func(i, j int) bool { return pods[i].Name < pods[j].Name })
	return pods
}

// Stop releases the watch. It is safe to call more than once.
func (s *Subscription) Stop() {
	s.stopOnce.Do(func() {
		if s.watcher != nil {
			s.watcher.Stop()
		}
	})
}

// Wait blocks until cond is met, timeout expires or ctx ends, and releases
// the subscription in every case. The condition is checked against the
// seeded state first and then after every event.
//
// An expired timeout yields a *TimeoutError and an ended ctx yields a
// *CancellationError. A watch closed by the server or ending in an error
// event is re-opened within the same deadline, after a growing delay.
func (s *Subscription) Wait(
	ctx context.Context,
	cond Condition,
	timeout time.Duration,
) (*corev1.Pod, error) {
	defer s.Stop()

	logger := log.FromContext(ctx).WithValues(
		"namespace", s.namespace,
		"selector", s.selector.String(),
		"condition", cond.Name,
	)
	start := time.Now()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if pod, done, err := cond.Check(s.Pods()); done {
		return pod, err
	}

	for {
		select {
		case <-waitCtx.Done():
			return nil, s.expired(ctx, cond, start)

		case event, ok := <-s.watcher.ResultChan():
			if !ok || event.Type == watch.Error {
				delay := s.backoff.Step()
				logger.V(1).Info("Pod watch closed, re-opening", "delay", delay)
				if !sleep(waitCtx, delay) {
					return nil, s.expired(ctx, cond, start)
				}
				if err := s.reopen(waitCtx); err != nil {
					if waitCtx.Err() != nil {
						return nil, s.expired(ctx, cond, start)
					}
					return nil, err
				}
			} else if !s.apply(event) {
				continue
			}

			if pod, done, err := cond.Check(s.Pods()); done {
				logger.V(1).Info("Pod condition met", "elapsed", time.Since(start))
				return pod, err
			}
		}
	}
}

// expired builds the error for a wait whose context ended.
func (s *Subscription) expired(parent context.Context, cond Condition, start time.Time) error {
	if parent.Err() != nil {
		return &CancellationError{Operation: "wait for " + cond.Name, Err: parent.Err()}
	}
	return &TimeoutError{
		Operation: cond.Name,
		Namespace: s.namespace,
		Selector:  s.selector.String(),
		Elapsed:   time.Since(start),
	}
}

// open starts the watch and then lists to seed the pod state.
func (s *Subscription) open(ctx context.Context) error {
	opts := []client.ListOption{
		client.InNamespace(s.namespace),
		client.MatchingLabelsSelector{Selector: s.selector},
	}

	watcher, err := s.client.Watch(ctx, &corev1.PodList{}, opts...)
	if err != nil {
		return fmt.Errorf("failed to watch pods in %s: %w", s.namespace, err)
	}

	list := &corev1.PodList{}
	if err := s.client.List(ctx, list, opts...); err != nil {
		watcher.Stop()
		return fmt.Errorf("failed to list pods in %s: %w", s.namespace, err)
	}

	s.watcher = watcher
	s.pods = make(map[string]*corev1.Pod, len(list.Items))
	for i := range list.Items {
		pod := &list.Items[i]
		if s.matches(pod) {
			s.pods[pod.Name] = pod
		}
	}
	return nil
}

// sleep waits for d and reports false when ctx ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *Subscription) reopen(ctx context.Context) error {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	return s.open(ctx)
}

// apply folds event into the pod state and reports whether it changed.
func (s *Subscription) apply(event watch.Event) bool {
	pod, err := toPod(event.Object)
	if err != nil || pod == nil {
		return false
	}

	switch event.Type {
	case watch.Added, watch.Modified:
		if !s.matches(pod) {
			if _, known := s.pods[pod.Name]; !known {
				return false
			}
			delete(s.pods, pod.Name)
			return true
		}
		s.pods[pod.Name] = pod
		return true
	case watch.Deleted:
		if _, known := s.pods[pod.Name]; !known {
			return false
		}
		delete(s.pods, pod.Name)
		return true
	default:
		return false
	}
}

func (s *Subscription) matches(pod *corev1.Pod) bool {
	if s.namespace != "" && pod.Namespace != s.namespace {
		return false
	}
	return s.selector.Matches(labels.Set(pod.Labels))
}

var errNotAPod = errors.New("watch event object is not a pod")

func toPod(obj runtime.Object) (*corev1.Pod, error) {
	switch o := obj.(type) {
	case *corev1.Pod:
		return o.DeepCopy(), nil
	case *unstructured.Unstructured:
		pod := &corev1.Pod{}
		if err := runtime.DefaultUnstructuredConverter.FromUnstructured(o.Object, pod); err != nil {
			return nil, fmt.Errorf("failed to convert watch event object: %w", err)
		}
		return pod, nil
	default:
		return nil, errNotAPod
	}
}
