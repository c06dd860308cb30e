// Package events provides event handling for deployment run lifecycle events.
package events

import (
	"sync"
	"time"

	"github.com/lattiam/launchpad/internal/interfaces"
)

// EventType represents the type of run event
type EventType string

const (
	// EventRunSubmitted is emitted when a run is accepted
	EventRunSubmitted EventType = "run_submitted"
	// EventPhaseChanged is emitted when a target moves to another phase
	EventPhaseChanged EventType = "phase_changed"
	// EventRetryScheduled is emitted before a stage is attempted again
	EventRetryScheduled EventType = "retry_scheduled"
	// EventRunFinished is emitted when a run reaches a terminal status
	EventRunFinished EventType = "run_finished"
	// EventError is emitted when an error occurs outside any target
	EventError EventType = "error"
)

// RunEvent represents an event in the run lifecycle
type RunEvent struct {
	Type      EventType
	RunID     string
	TargetID  string
	Timestamp time.Time

	// Event-specific data
	From    interfaces.Phase
	Phase   interfaces.Phase
	Stage   interfaces.StageName
	Attempt int
	Delay   time.Duration
	Run     *interfaces.DeploymentRun
	Error   error
}

// EventHandler is a function that handles run events
type EventHandler func(event RunEvent)

// EventBus manages run event subscriptions and dispatching
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[EventType][]EventHandler
	synchronous bool // When true, handlers are called synchronously (for testing)
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]EventHandler),
	}
}

// NewSynchronousEventBus creates a new event bus that calls handlers synchronously
func NewSynchronousEventBus() *EventBus {
	return &EventBus{
		handlers:    make(map[EventType][]EventHandler),
		synchronous: true,
	}
}

// Subscribe registers a handler for specific event types
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// Publish sends an event to all registered handlers
func (eb *EventBus) Publish(event RunEvent) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	handlers := eb.handlers[event.Type]
	synchronous := eb.synchronous
	eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if synchronous {
		for _, handler := range handlers {
			handler(event)
		}
		return
	}
	// Call handlers asynchronously to avoid blocking the pipeline
	for _, handler := range handlers {
		go handler(event)
	}
}

// PublishSubmitted is a convenience method for submitted runs
func (eb *EventBus) PublishSubmitted(run *interfaces.DeploymentRun) {
	eb.Publish(RunEvent{Type: EventRunSubmitted, RunID: run.ID, Run: run})
}

// PublishPhaseChange is a convenience method for phase transitions
func (eb *EventBus) PublishPhaseChange(runID, targetID string, from, to interfaces.Phase) {
	eb.Publish(RunEvent{
		Type:     EventPhaseChanged,
		RunID:    runID,
		TargetID: targetID,
		From:     from,
		Phase:    to,
	})
}

// PublishRetry is a convenience method for scheduled retries
func (eb *EventBus) PublishRetry(runID, targetID string, stage interfaces.StageName, attempt int, delay time.Duration, err error) {
	eb.Publish(RunEvent{
		Type:     EventRetryScheduled,
		RunID:    runID,
		TargetID: targetID,
		Stage:    stage,
		Attempt:  attempt,
		Delay:    delay,
		Error:    err,
	})
}

// PublishFinished is a convenience method for finished runs
func (eb *EventBus) PublishFinished(run *interfaces.DeploymentRun) {
	eb.Publish(RunEvent{Type: EventRunFinished, RunID: run.ID, Run: run})
}

// PublishError is a convenience method for error events
func (eb *EventBus) PublishError(runID string, err error) {
	eb.Publish(RunEvent{Type: EventError, RunID: runID, Error: err})
}
