// Package mocks provides hand-written test doubles for launchpad interfaces
package mocks

import (
	"sync"
	"time"
)

// TargetCall records one call a mock received for a target
type TargetCall struct {
	Method   string
	TargetID string
	Stage    string
	Err      error
	At       time.Time
}

// callLog is a concurrency-safe, append-only list of calls
type callLog[T any] struct {
	mu    sync.Mutex
	calls []T
}

func (l *callLog[T]) record(call T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

// snapshot returns a copy of the calls matching keep, or all of them when keep is nil
func (l *callLog[T]) snapshot(keep func(T) bool) []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]T, 0, len(l.calls))
	for _, call := range l.calls {
		if keep == nil || keep(call) {
			out = append(out, call)
		}
	}
	return out
}

func (l *callLog[T]) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

func targetCall(method, targetID, stage string, err error) TargetCall {
	return TargetCall{Method: method, TargetID: targetID, Stage: stage, Err: err, At: time.Now()}
}
