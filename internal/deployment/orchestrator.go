// Package deployment drives deployment runs across targets
package deployment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-uuid"

	"github.com/lattiam/launchpad/internal/events"
	"github.com/lattiam/launchpad/internal/interfaces"
	"github.com/lattiam/launchpad/pkg/logging"
)

// Default tuning used when Config leaves a field empty
const (
	DefaultMaxRetries  = 2
	DefaultParallelism = 4
)

// Config holds all dependencies needed by the orchestrator
type Config struct {
	Registry interfaces.TargetRegistry
	Runs     interfaces.RunStore
	Executor interfaces.RemoteExecutor
	Verifier interfaces.HealthVerifier
	// Stager is optional; when set, a run releases its artifact once finished
	Stager interfaces.ArtifactStager
	// Events is optional; a bus logging phase changes is created when nil
	Events *events.EventBus

	Backoff     BackoffConfig
	MaxRetries  int
	Parallelism int
}

// Orchestrator implements interfaces.Orchestrator
type Orchestrator struct {
	config Config
	logger *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	active map[string]*runState
}

// runState is the in-memory side of a run that is still executing
type runState struct {
	mu       sync.Mutex
	saveMu   sync.Mutex
	run      *interfaces.DeploymentRun
	canceled atomic.Bool
	done     chan struct{}
}

// New creates an orchestrator
func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Registry == nil:
		return nil, errors.New("target registry is required")
	case cfg.Runs == nil:
		return nil, errors.New("run store is required")
	case cfg.Executor == nil:
		return nil, errors.New("remote executor is required")
	case cfg.Verifier == nil:
		return nil, errors.New("health verifier is required")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries cannot be negative: %d", cfg.MaxRetries)
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	if cfg.Backoff == (BackoffConfig{}) {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.Events == nil {
		cfg.Events = events.NewEventBus()
		events.ConnectLogging(cfg.Events)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		config: cfg,
		logger: logging.Orchestrator,
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]*runState),
	}, nil
}

// DefaultOptions returns run options carrying the configured retry and parallelism limits
func (o *Orchestrator) DefaultOptions(app interfaces.Application) interfaces.RunOptions {
	return interfaces.RunOptions{
		Application: app,
		MaxRetries:  o.config.MaxRetries,
		Parallelism: o.config.Parallelism,
	}
}

// NewRunID generates a run identifier
func NewRunID() string {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return fmt.Sprintf("run-%d", time.Now().UnixNano())
	}
	return "run-" + id
}

// Submit acquires every target for a new run and starts it in the
// background. It fails with TargetBusy, holding nothing, if any target is
// already part of an in-flight run.
func (o *Orchestrator) Submit(ctx context.Context, artifact *interfaces.Artifact, targets []string, opts interfaces.RunOptions) (*interfaces.DeploymentRun, error) {
	if err := o.validate(artifact, targets, opts); err != nil {
		return nil, err
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = o.config.Parallelism
	}
	opts.Application = opts.Application.WithDefaults()

	ids := dedupe(targets)
	now := time.Now().UTC()
	run := &interfaces.DeploymentRun{
		ID:        NewRunID(),
		Artifact:  *artifact,
		Targets:   ids,
		Outcomes:  make(map[string]*interfaces.TargetOutcome, len(ids)),
		Status:    interfaces.RunStatusPending,
		Options:   opts,
		CreatedAt: now,
	}
	for _, id := range ids {
		run.Outcomes[id] = &interfaces.TargetOutcome{TargetID: id, Phase: interfaces.PhaseStaged, UpdatedAt: now}
	}

	tx := NewTransaction(run.ID)
	for _, id := range ids {
		id := id
		tx.AddOperation(
			Operation{Name: "acquire " + id, Func: func(ctx context.Context) error {
				_, err := o.config.Registry.Acquire(ctx, id, run.ID)
				return err
			}},
			Compensation{Name: "release " + id, Func: func(ctx context.Context) error {
				return o.config.Registry.Release(ctx, id, run.ID)
			}},
		)
	}
	tx.AddOperation(
		Operation{Name: "save run", Func: func(ctx context.Context) error {
			return o.config.Runs.Save(ctx, run)
		}},
		Compensation{Name: "delete run", Func: func(ctx context.Context) error {
			return o.config.Runs.Delete(ctx, run.ID)
		}},
	)
	if err := tx.Execute(ctx); err != nil {
		o.logger.Warn("Run %s rejected: %v", run.ID, err)
		return nil, fmt.Errorf("submit run: %w", err)
	}

	st := &runState{run: run, done: make(chan struct{})}
	o.mu.Lock()
	o.active[run.ID] = st
	o.mu.Unlock()

	snap := run.Copy()
	o.config.Events.PublishSubmitted(run.Copy())
	o.logger.Info("Run %s submitted: artifact=%s targets=%v", run.ID, artifact.Fingerprint, ids)

	// run belongs to execute from here on; only st.mu guards it
	o.wg.Add(1)
	go o.execute(st)

	return snap, nil
}

func (o *Orchestrator) validate(artifact *interfaces.Artifact, targets []string, opts interfaces.RunOptions) error {
	if artifact == nil || artifact.Fingerprint == "" {
		return interfaces.NewError(interfaces.KindInvalidInput, "artifact with a fingerprint is required")
	}
	if opts.RollbackOf == "" && artifact.BundlePath == "" {
		return interfaces.NewError(interfaces.KindInvalidInput, "artifact %s has no bundle to upload", artifact.Fingerprint)
	}
	if len(targets) == 0 {
		return interfaces.NewError(interfaces.KindInvalidInput, "at least one target is required")
	}
	for _, id := range targets {
		if id == "" {
			return interfaces.NewError(interfaces.KindInvalidInput, "target id cannot be empty")
		}
	}
	if opts.MaxRetries < 0 {
		return interfaces.NewError(interfaces.KindInvalidInput, "max retries cannot be negative")
	}
	if opts.Application.WithDefaults().Service == "" {
		return interfaces.NewError(interfaces.KindInvalidInput, "application name or service is required")
	}
	return nil
}

// Status returns the latest snapshot of a run
func (o *Orchestrator) Status(ctx context.Context, runID string) (*interfaces.DeploymentRun, error) {
	if st := o.lookup(runID); st != nil {
		return st.snapshot(), nil
	}
	run, err := o.config.Runs.Get(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return run, nil
}

// Wait blocks until the run finishes or ctx ends
func (o *Orchestrator) Wait(ctx context.Context, runID string) (*interfaces.DeploymentRun, error) {
	if st := o.lookup(runID); st != nil {
		select {
		case <-st.done:
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for run %s: %w", runID, ctx.Err())
		}
	}
	return o.Status(ctx, runID)
}

// Cancel asks a run to stop. Targets that already reached Starting or a
// later phase run to completion; the others stop before their next stage.
func (o *Orchestrator) Cancel(ctx context.Context, runID string) error {
	st := o.lookup(runID)
	if st == nil {
		run, err := o.config.Runs.Get(ctx, runID)
		if err != nil {
			return fmt.Errorf("cancel run %s: %w", runID, err)
		}
		if run.Status.IsTerminal() {
			return interfaces.NewError(interfaces.KindInvalidInput, "run %s already finished with status %s", runID, run.Status)
		}
		return interfaces.NewError(interfaces.KindNotFound, "run %s is not executing in this process", runID)
	}

	if st.canceled.Swap(true) {
		return nil
	}
	st.mu.Lock()
	st.run.CancelAsked = true
	st.mu.Unlock()
	o.persist(ctx, st)
	o.logger.Info("Run %s cancel requested", runID)
	return nil
}

// Rollback starts a run that puts every target of runID still on runID's
// artifact back on the artifact it replaced. The prior release is already
// on the targets, so nothing is uploaded.
func (o *Orchestrator) Rollback(ctx context.Context, runID string) (*interfaces.DeploymentRun, error) {
	prev, err := o.Status(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !prev.Status.IsTerminal() {
		return nil, interfaces.NewError(interfaces.KindInvalidInput, "run %s is still %s", runID, prev.Status)
	}

	var (
		eligible []string
		prior    string
	)
	for _, id := range prev.Targets {
		rec, err := o.config.Registry.Get(ctx, id)
		if err != nil {
			if interfaces.IsKind(err, interfaces.KindNotFound) {
				continue
			}
			return nil, err
		}
		if rec.CurrentArtifact != prev.Artifact.Fingerprint || rec.PreviousArtifact == "" {
			continue
		}
		if prior != "" && rec.PreviousArtifact != prior {
			return nil, interfaces.NewError(interfaces.KindInvalidInput,
				"targets of run %s have different previous artifacts (%s, %s); roll them back separately",
				runID, prior, rec.PreviousArtifact)
		}
		prior = rec.PreviousArtifact
		eligible = append(eligible, id)
	}
	if len(eligible) == 0 {
		return nil, interfaces.NewError(interfaces.KindInvalidInput, "no target of run %s is on %s with a previous artifact", runID, prev.Artifact.Fingerprint)
	}

	opts := prev.Options
	opts.RollbackOf = runID
	opts.RequestID = ""
	artifact := &interfaces.Artifact{
		Fingerprint: prior,
		CreatedAt:   time.Now().UTC(),
		Source:      "rollback:" + runID,
	}
	return o.Submit(ctx, artifact, eligible, opts)
}

// List returns stored runs matching filter
func (o *Orchestrator) List(ctx context.Context, filter interfaces.RunFilter) ([]*interfaces.DeploymentRun, error) {
	runs, err := o.config.Runs.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	for i, run := range runs {
		if st := o.lookup(run.ID); st != nil {
			runs[i] = st.snapshot()
		}
	}
	return runs, nil
}

// ActiveRuns returns the number of runs executing in this process
func (o *Orchestrator) ActiveRuns() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.active)
}

// IsActive reports whether runID is executing in this process
func (o *Orchestrator) IsActive(runID string) bool {
	return o.lookup(runID) != nil
}

// Shutdown waits for executing runs. When ctx ends first, the runs are
// interrupted and Shutdown waits for them to record their outcome.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.cancel()
		return nil
	case <-ctx.Done():
		o.logger.Warn("Shutdown deadline reached, interrupting %d runs", o.ActiveRuns())
		o.cancel()
		<-done
		return fmt.Errorf("orchestrator shutdown: %w", ctx.Err())
	}
}

func (o *Orchestrator) lookup(runID string) *runState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.active[runID]
}

// persist saves a snapshot of the run. Snapshots are taken under saveMu so
// a later save never writes an older state.
func (o *Orchestrator) persist(ctx context.Context, st *runState) {
	st.saveMu.Lock()
	defer st.saveMu.Unlock()

	snap := st.snapshot()
	if err := o.config.Runs.Save(context.WithoutCancel(ctx), snap); err != nil {
		o.logger.Error("Failed to save run %s: %v", snap.ID, err)
		o.config.Events.PublishError(snap.ID, err)
	}
}

func (st *runState) snapshot() *interfaces.DeploymentRun {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.run.Copy()
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

var _ interfaces.Orchestrator = (*Orchestrator)(nil)
