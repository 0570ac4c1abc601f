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

package podsync

import (
	"sync"
	"time"
)

// ExecState is the state of a running exec.
type ExecState string

const (
	ExecWaiting   ExecState = "WAITING"
	ExecSucceeded ExecState = "SUCCEEDED"
	ExecFailed    ExecState = "FAILED"
	ExecTimedOut  ExecState = "TIMED_OUT"
)

// ExecListener records the outcome of one exec. It moves out of ExecWaiting
// at most once; later transitions are ignored.
type ExecListener struct {
	mu       sync.Mutex
	state    ExecState
	err      error
	deadline time.Time
	now      func() time.Time
}

// NewExecListener returns a listener that times out after timeout.
func NewExecListener(timeout time.Duration) *ExecListener {
	return &ExecListener{
		state:    ExecWaiting,
		deadline: time.Now().Add(timeout),
		now:      time.Now,
	}
}

// OnSuccess records that the stream ended cleanly.
func (l *ExecListener) OnSuccess() {
	l.transition(ExecSucceeded, nil)
}

// OnFailure records that the stream ended with err.
func (l *ExecListener) OnFailure(err error) {
	l.transition(ExecFailed, err)
}

// OnTimeout records that the exec did not finish in time.
func (l *ExecListener) OnTimeout() {
	l.transition(ExecTimedOut, nil)
}

// State returns the current state.
func (l *ExecListener) State() ExecState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Err returns the error recorded with ExecFailed.
func (l *ExecListener) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// ShouldStillWait reports whether the exec is still running within its
// deadline. Passing the deadline while waiting moves to ExecTimedOut.
func (l *ExecListener) ShouldStillWait() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == ExecWaiting && !l.now().Before(l.deadline) {
		l.state = ExecTimedOut
	}
	return l.state == ExecWaiting
}

// HasFailed reports whether the exec failed or timed out.
func (l *ExecListener) HasFailed() bool {
	s := l.State()
	return s == ExecFailed || s == ExecTimedOut
}

func (l *ExecListener) transition(to ExecState, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != ExecWaiting {
		return
	}
	l.state = to
	l.err = err
}
