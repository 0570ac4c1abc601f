// Package testutil provides fakes for tests of code that drives pods: a fake
// controller-runtime client with failure injection, a fake kubelet that moves
// created pods through their lifecycle, and a fake exec stream.
//
// Example:
//
//	c := testutil.NewFakeClient(testutil.NewScheme(), &testutil.FailureConfig{
//	    AfterCreate: testutil.RunPods(testutil.Succeed),
//	})
//	pod, err := controller.RunToCompletion(ctx, pod)
//
// Every status transition is written through the client, so code under test
// observes it through its watch exactly like it would on a cluster, without
// any sleep logic in the tests.
package testutil
