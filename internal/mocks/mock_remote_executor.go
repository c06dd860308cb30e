package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lattiam/launchpad/internal/interfaces"
)

// MockRemoteExecutor implements interfaces.RemoteExecutor without a network.
// Every operation of a stage succeeds unless a failure was configured for
// the target and stage.
type MockRemoteExecutor struct {
	calls      callLog[TargetCall]
	shouldFail map[string]error
	delay      time.Duration
	mutex      sync.RWMutex
}

// NewMockRemoteExecutor creates a new mock executor
func NewMockRemoteExecutor() *MockRemoteExecutor {
	return &MockRemoteExecutor{
		shouldFail: make(map[string]error),
	}
}

func failureKey(targetID string, stage interfaces.StageName) string {
	return targetID + "/" + string(stage)
}

// SetShouldFail makes every execution of stage on targetID return err
func (m *MockRemoteExecutor) SetShouldFail(targetID string, stage interfaces.StageName, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.shouldFail[failureKey(targetID, stage)] = err
}

// SetDelay makes every execution block for d or until its context ends
func (m *MockRemoteExecutor) SetDelay(d time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.delay = d
}

// Execute implements interfaces.RemoteExecutor
func (m *MockRemoteExecutor) Execute(ctx context.Context, target interfaces.Target, stage interfaces.Stage) ([]interfaces.StageResult, error) {
	m.mutex.RLock()
	err := m.shouldFail[failureKey(target.ID, stage.Name)]
	delay := m.delay
	m.mutex.RUnlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.calls.record(targetCall("Execute", target.ID, string(stage.Name), ctx.Err()))
			return nil, fmt.Errorf("execute %s: %w", stage.Name, ctx.Err())
		case <-timer.C:
		}
	}
	m.calls.record(targetCall("Execute", target.ID, string(stage.Name), err))

	results := make([]interfaces.StageResult, 0, len(stage.Operations))
	for i, op := range stage.Operations {
		result := interfaces.StageResult{
			Target:    target.ID,
			Stage:     stage.Name,
			Operation: op.Name,
			At:        time.Now().UTC(),
		}
		if err != nil && i == len(stage.Operations)-1 {
			result.ExitCode = 1
			result.Stderr = err.Error()
		}
		results = append(results, result)
	}
	return results, err
}

// Calls returns the recorded executions
func (m *MockRemoteExecutor) Calls() []TargetCall {
	return m.calls.snapshot(nil)
}

// StagesFor returns the stages executed on targetID, in order
func (m *MockRemoteExecutor) StagesFor(targetID string) []string {
	var stages []string
	for _, call := range m.calls.snapshot(func(c TargetCall) bool { return c.TargetID == targetID }) {
		stages = append(stages, call.Stage)
	}
	return stages
}

// MockHealthVerifier implements interfaces.HealthVerifier
type MockHealthVerifier struct {
	calls      callLog[TargetCall]
	shouldFail map[string]error
	mutex      sync.RWMutex
}

// NewMockHealthVerifier creates a verifier that passes every target
func NewMockHealthVerifier() *MockHealthVerifier {
	return &MockHealthVerifier{
		shouldFail: make(map[string]error),
	}
}

// SetShouldFail makes verification of targetID return err
func (m *MockHealthVerifier) SetShouldFail(targetID string, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.shouldFail[targetID] = err
}

// Verify implements interfaces.HealthVerifier
func (m *MockHealthVerifier) Verify(_ context.Context, target interfaces.Target) error {
	m.mutex.RLock()
	err := m.shouldFail[target.ID]
	m.mutex.RUnlock()
	m.calls.record(targetCall("Verify", target.ID, string(interfaces.StageVerify), err))
	return err
}

// CallCount returns how many verifications ran
func (m *MockHealthVerifier) CallCount() int {
	return m.calls.len()
}
