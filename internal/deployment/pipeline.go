package deployment

import (
	"context"
	"fmt"
	"time"

	"github.com/gammazero/workerpool"

	"github.com/lattiam/launchpad/internal/interfaces"
	"github.com/lattiam/launchpad/internal/remote"
	"github.com/lattiam/launchpad/pkg/logging"
)

// step is one remote stage of the forward path
type step struct {
	phase     interfaces.Phase
	lifecycle interfaces.Lifecycle
	stage     interfaces.Stage
}

// execute runs every target of the run and records the aggregated outcome
func (o *Orchestrator) execute(st *runState) {
	defer o.wg.Done()

	run := st.snapshot()
	ctx := logging.WithCorrelationID(o.ctx, run.ID)
	if run.Options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, run.Options.Timeout)
		defer cancel()
	}

	started := time.Now().UTC()
	st.mu.Lock()
	st.run.Status = interfaces.RunStatusInProgress
	st.run.StartedAt = &started
	st.mu.Unlock()
	o.persist(ctx, st)

	pool := workerpool.New(run.Options.Parallelism)
	for _, id := range run.Targets {
		id := id
		pool.Submit(func() {
			o.deployTarget(ctx, st, id)
		})
	}
	pool.StopWait()

	completed := time.Now().UTC()
	st.mu.Lock()
	st.run.Status = Aggregate(st.run)
	st.run.CompletedAt = &completed
	st.mu.Unlock()
	o.persist(ctx, st)

	if o.config.Stager != nil && run.Artifact.BundlePath != "" {
		if err := o.config.Stager.Release(&run.Artifact); err != nil {
			o.logger.Warn("Failed to release artifact %s: %v", run.Artifact.Fingerprint, err)
		}
	}

	final := st.snapshot()
	o.config.Events.PublishFinished(final)

	o.mu.Lock()
	delete(o.active, final.ID)
	o.mu.Unlock()
	close(st.done)
}

// deployTarget walks one target through its phases. It never returns an
// error: the outcome is recorded on the run.
func (o *Orchestrator) deployTarget(ctx context.Context, st *runState, id string) {
	run := st.snapshot()
	defer func() {
		if err := o.config.Registry.Release(context.WithoutCancel(ctx), id, run.ID); err != nil {
			o.logger.Error("Failed to release target %s from run %s: %v", id, run.ID, err)
		}
	}()

	rec, err := o.config.Registry.Get(ctx, id)
	if err != nil {
		o.fail(ctx, st, id, interfaces.PhaseFailed, err)
		return
	}
	target := rec.Target
	artifact := run.Artifact
	release := artifact.ReleaseName()
	stages := remote.Stages{Target: target, Application: run.Options.Application}
	isRollback := run.Options.RollbackOf != ""
	knownGood := !isRollback && rec.HasKnownGood(artifact.Fingerprint)
	prior := rec.CurrentArtifact
	startLifecycle := rec.Lifecycle

	var steps []step
	if !isRollback {
		steps = append(steps, step{interfaces.PhaseUploading, interfaces.LifecycleStaging, stages.Upload(&artifact)})
	}
	steps = append(steps,
		step{interfaces.PhaseInstalling, interfaces.LifecycleInstalling, stages.Install(release)},
		step{interfaces.PhaseStarting, interfaces.LifecycleInstalling, stages.Start(release)},
	)

	for _, s := range steps {
		if st.canceled.Load() {
			o.setPhase(ctx, st, id, interfaces.PhaseCanceled)
			o.mark(ctx, run.ID, id, func(r *interfaces.TargetRecord) { r.Lifecycle = startLifecycle })
			return
		}
		o.setPhase(ctx, st, id, s.phase)
		o.mark(ctx, run.ID, id, func(r *interfaces.TargetRecord) { r.Lifecycle = s.lifecycle })

		if err := o.runStage(ctx, st, target, s.stage, false); err != nil {
			o.recover(ctx, st, stages, id, knownGood, prior, startLifecycle, err)
			return
		}
	}

	o.setPhase(ctx, st, id, interfaces.PhaseVerifying)
	if err := o.config.Verifier.Verify(ctx, target); err != nil {
		o.recover(ctx, st, stages, id, knownGood, prior, startLifecycle, err)
		return
	}

	o.mark(ctx, run.ID, id, func(r *interfaces.TargetRecord) {
		if r.CurrentArtifact != artifact.Fingerprint {
			r.PreviousArtifact = r.CurrentArtifact
			r.CurrentArtifact = artifact.Fingerprint
		}
		r.Lifecycle = interfaces.LifecycleRunning
		if isRollback {
			r.Lifecycle = interfaces.LifecycleRolledBack
		}
	})
	o.setPhase(ctx, st, id, interfaces.PhaseRunning)
}

// recover handles a failed forward path: the target is rolled back to its
// known-good artifact when it has one, and marked unhealthy otherwise. A
// path cut short by shutdown or the run timeout is only recorded as
// interrupted; its registry lifecycle goes back to startLifecycle.
func (o *Orchestrator) recover(ctx context.Context, st *runState, stages remote.Stages, id string, knownGood bool, prior string, startLifecycle interfaces.Lifecycle, cause error) {
	runID := st.run.ID
	if ctx.Err() != nil {
		interrupted := interfaces.WrapError(interfaces.KindInternal, cause, "deployment interrupted").WithTarget(id, "")
		o.fail(ctx, st, id, interfaces.PhaseFailed, interrupted)
		o.mark(ctx, runID, id, func(r *interfaces.TargetRecord) { r.Lifecycle = startLifecycle })
		return
	}
	o.fail(ctx, st, id, interfaces.PhaseFailed, cause)

	if !knownGood {
		o.mark(ctx, runID, id, func(r *interfaces.TargetRecord) { r.Lifecycle = interfaces.LifecycleUnhealthy })
		return
	}

	o.setPhase(ctx, st, id, interfaces.PhaseRollingBack)
	if err := o.rollbackTarget(ctx, st, stages, prior); err != nil {
		fatal := interfaces.WrapError(interfaces.KindFatalFailure, err,
			"rollback to %s failed after %v", prior, cause).WithTarget(id, "")
		o.fail(ctx, st, id, interfaces.PhaseFatalFailure, fatal)
		o.mark(ctx, runID, id, func(r *interfaces.TargetRecord) { r.Lifecycle = interfaces.LifecycleUnhealthy })
		return
	}

	st.mu.Lock()
	st.run.Outcomes[id].RolledBack = prior
	st.mu.Unlock()
	o.mark(ctx, runID, id, func(r *interfaces.TargetRecord) { r.Lifecycle = interfaces.LifecycleRolledBack })
	o.setPhase(ctx, st, id, interfaces.PhaseRolledBack)
}

// rollbackTarget re-installs and restarts the prior release, then verifies it
func (o *Orchestrator) rollbackTarget(ctx context.Context, st *runState, stages remote.Stages, prior string) error {
	release := interfaces.ReleaseName(prior)
	for _, stage := range []interfaces.Stage{stages.Install(release), stages.Start(release)} {
		if err := o.runStage(ctx, st, stages.Target, stage, true); err != nil {
			return err
		}
	}
	return o.config.Verifier.Verify(ctx, stages.Target)
}

// runStage executes a stage, retrying connectivity failures with backoff
func (o *Orchestrator) runStage(ctx context.Context, st *runState, target interfaces.Target, stage interfaces.Stage, rollback bool) error {
	maxRetries := st.run.Options.MaxRetries
	for attempt := 1; ; attempt++ {
		results, err := o.config.Executor.Execute(ctx, target, stage)
		o.record(ctx, st, target.ID, attempt, rollback, results)
		if err == nil {
			return nil
		}
		if !interfaces.IsRetryable(err) || attempt > maxRetries {
			return err
		}

		delay := NextBackoffDelay(o.config.Backoff, attempt)
		o.config.Events.PublishRetry(st.run.ID, target.ID, stage.Name, attempt, delay, err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry of %s on %s aborted after %v: %w", stage.Name, target.ID, err, ctx.Err())
		case <-timer.C:
		}
	}
}

func (o *Orchestrator) record(ctx context.Context, st *runState, id string, attempt int, rollback bool, results []interfaces.StageResult) {
	st.mu.Lock()
	outcome := st.run.Outcomes[id]
	outcome.Attempts++
	for _, r := range results {
		r.Attempt = attempt
		r.Rollback = rollback
		outcome.Results = append(outcome.Results, r)
	}
	outcome.UpdatedAt = time.Now().UTC()
	st.mu.Unlock()
	o.persist(ctx, st)
}

func (o *Orchestrator) setPhase(ctx context.Context, st *runState, id string, phase interfaces.Phase) {
	st.mu.Lock()
	outcome := st.run.Outcomes[id]
	from := outcome.Phase
	outcome.Phase = phase
	outcome.UpdatedAt = time.Now().UTC()
	runID := st.run.ID
	st.mu.Unlock()

	o.config.Events.PublishPhaseChange(runID, id, from, phase)
	o.persist(ctx, st)
}

// fail records err as the failure reason and moves the target to phase
func (o *Orchestrator) fail(ctx context.Context, st *runState, id string, phase interfaces.Phase, err error) {
	st.mu.Lock()
	outcome := st.run.Outcomes[id]
	outcome.Error = err.Error()
	outcome.ErrorKind = interfaces.KindOf(err)
	st.mu.Unlock()

	o.logger.WithContext(ctx, logging.WARN, "run=%s target=%s failed: %v", st.run.ID, id, err)
	o.setPhase(ctx, st, id, phase)
}

// mark updates the registry record held by the run
func (o *Orchestrator) mark(ctx context.Context, runID, id string, mutate func(*interfaces.TargetRecord)) {
	_, err := o.config.Registry.Transition(context.WithoutCancel(ctx), id, runID, func(r *interfaces.TargetRecord) {
		mutate(r)
		r.UpdatedAt = time.Now().UTC()
	})
	if err != nil {
		o.logger.Error("Failed to update target %s for run %s: %v", id, runID, err)
	}
}

// Aggregate derives the run status from its targets' phases. Any failure
// fails the run; otherwise cancellation wins over rollback, and a run in
// which every target is Running succeeded.
func Aggregate(run *interfaces.DeploymentRun) interfaces.RunStatus {
	var failed, canceled, rolledBack bool
	for _, id := range run.Targets {
		outcome, ok := run.Outcomes[id]
		if !ok {
			failed = true
			continue
		}
		switch outcome.Phase {
		case interfaces.PhaseRunning:
		case interfaces.PhaseCanceled:
			canceled = true
		case interfaces.PhaseRolledBack:
			rolledBack = true
		default:
			failed = true
		}
	}

	switch {
	case failed:
		return interfaces.RunStatusFailed
	case canceled:
		return interfaces.RunStatusCanceled
	case rolledBack:
		return interfaces.RunStatusRolledBack
	default:
		return interfaces.RunStatusSucceeded
	}
}
