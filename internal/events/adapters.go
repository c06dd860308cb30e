package events

import (
	"github.com/lattiam/launchpad/internal/interfaces"
	"github.com/lattiam/launchpad/pkg/logging"
)

// MetricsRecorder receives run counters
type MetricsRecorder interface {
	RecordRunSubmitted()
	RecordRetry()
	RecordRunFinished(run *interfaces.DeploymentRun)
}

// ConnectMetrics feeds run events into a metrics recorder
func ConnectMetrics(bus *EventBus, recorder MetricsRecorder) {
	bus.Subscribe(EventRunSubmitted, func(RunEvent) {
		recorder.RecordRunSubmitted()
	})
	bus.Subscribe(EventRetryScheduled, func(RunEvent) {
		recorder.RecordRetry()
	})
	bus.Subscribe(EventRunFinished, func(event RunEvent) {
		if event.Run != nil {
			recorder.RecordRunFinished(event.Run)
		}
	})
}

// ConnectLogging writes phase changes, retries and run outcomes to the component loggers
func ConnectLogging(bus *EventBus) {
	bus.Subscribe(EventPhaseChanged, func(event RunEvent) {
		logging.PhaseChange(event.RunID, event.TargetID, string(event.From), string(event.Phase))
	})
	bus.Subscribe(EventRetryScheduled, func(event RunEvent) {
		logging.RetryScheduled(event.TargetID, string(event.Stage), event.Attempt, event.Delay, event.Error)
	})
	bus.Subscribe(EventRunFinished, func(event RunEvent) {
		if event.Run == nil {
			return
		}
		succeeded := 0
		for _, o := range event.Run.Outcomes {
			if o.Phase == interfaces.PhaseRunning {
				succeeded++
			}
		}
		logging.RunFinished(event.RunID, string(event.Run.Status), succeeded, len(event.Run.Targets))
	})
	bus.Subscribe(EventError, func(event RunEvent) {
		logging.Orchestrator.Error("run=%s error=%v", event.RunID, event.Error)
	})
}
