package testutil

import (
	"context"
	"io"
	"sync"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/tools/remotecommand"
)

// FakeExecutor is a remotecommand.Executor that records the script it is
// sent and replays canned output.
type FakeExecutor struct {
	Stdout string
	Stderr string
	// Err is returned once the output has been written.
	Err error
	// Block makes the stream run until its context ends.
	Block bool

	mu     sync.Mutex
	script string
	calls  int
}

var _ remotecommand.Executor = &FakeExecutor{}

// Stream implements remotecommand.Executor.
func (f *FakeExecutor) Stream(options remotecommand.StreamOptions) error {
	return f.StreamWithContext(context.Background(), options)
}

// StreamWithContext implements remotecommand.Executor.
func (f *FakeExecutor) StreamWithContext(ctx context.Context, options remotecommand.StreamOptions) error {
	var script []byte
	if options.Stdin != nil {
		script, _ = io.ReadAll(options.Stdin)
	}
	f.mu.Lock()
	f.script = string(script)
	f.calls++
	f.mu.Unlock()

	if options.Stdout != nil && f.Stdout != "" {
		_, _ = io.WriteString(options.Stdout, f.Stdout)
	}
	if options.Stderr != nil && f.Stderr != "" {
		_, _ = io.WriteString(options.Stderr, f.Stderr)
	}
	if f.Block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.Err
}

// Script returns the stdin of the last stream.
func (f *FakeExecutor) Script() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.script
}

// Calls returns the number of streams opened.
func (f *FakeExecutor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Factory returns a stream factory that always hands out f.
func (f *FakeExecutor) Factory() func(pod *corev1.Pod, container string, command []string) (remotecommand.Executor, error) {
	return func(*corev1.Pod, string, []string) (remotecommand.Executor, error) {
		return f, nil
	}
}
