package trigger

import (
	"context"
	"fmt"

	"github.com/lattiam/launchpad/internal/interfaces"
	"github.com/lattiam/launchpad/internal/registry"
	"github.com/lattiam/launchpad/pkg/logging"
)

// Fetcher checks out a revision of an application's repository
type Fetcher interface {
	Fetch(ctx context.Context, app interfaces.Application, revision string) (dir, commit string, unlock func(), err error)
}

// Stager turns a source tree into an artifact
type Stager interface {
	Stage(ctx context.Context, sourceDir, revision string) (*interfaces.Artifact, error)
	Release(artifact *interfaces.Artifact) error
}

// ConsumerConfig wires a Consumer
type ConsumerConfig struct {
	Apps         func() Applications
	Fetcher      Fetcher
	Stager       Stager
	Targets      interfaces.TargetStore
	Orchestrator interfaces.Orchestrator
	// Options supplies retry and parallelism defaults; Application and
	// RequestID are filled per request.
	Options interfaces.RunOptions
}

// Consumer is the TriggerHandler that fetches, stages, and deploys each
// dequeued request, waiting for the run to finish.
type Consumer struct {
	config ConsumerConfig
	logger *logging.Logger
}

// NewConsumer creates a consumer
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	switch {
	case cfg.Apps == nil:
		return nil, fmt.Errorf("applications are required")
	case cfg.Stager == nil:
		return nil, fmt.Errorf("stager is required")
	case cfg.Targets == nil:
		return nil, fmt.Errorf("target store is required")
	case cfg.Orchestrator == nil:
		return nil, fmt.Errorf("orchestrator is required")
	}
	return &Consumer{config: cfg, logger: logging.Trigger}, nil
}

var _ interfaces.TriggerHandler = (*Consumer)(nil)

// Handle implements interfaces.TriggerHandler. A run that finishes Failed is
// not an error here: the outcome is on the run, and redelivery would only
// repeat it.
func (c *Consumer) Handle(ctx context.Context, req *interfaces.TriggerRequest) error {
	apps := c.config.Apps()
	app, ok := apps.Application(req.Application)
	if !ok {
		app, ok = apps.ApplicationForRepository(req.Repository)
	}
	if !ok {
		return interfaces.NewError(interfaces.KindNotFound, "no application for %q", req.Repository)
	}

	artifact, err := c.stage(ctx, app, req)
	if err != nil {
		return err
	}

	selector := req.Targets
	if selector == "" {
		selector = app.WithDefaults().Targets
	}
	targets, err := registry.Resolve(ctx, c.config.Targets, selector)
	if err != nil {
		c.release(artifact)
		return err
	}

	opts := c.config.Options
	opts.Application = app
	opts.RequestID = req.ID
	run, err := c.config.Orchestrator.Submit(ctx, artifact, targets, opts)
	if err != nil {
		c.release(artifact)
		return fmt.Errorf("submit %s: %w", req.ID, err)
	}

	c.logger.WithContext(ctx, logging.INFO, "Trigger %s started run %s on %d targets", req.ID, run.ID, len(targets))
	final, err := c.config.Orchestrator.Wait(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("wait for run %s: %w", run.ID, err)
	}
	c.logger.WithContext(ctx, logging.INFO, "Run %s for trigger %s finished %s", final.ID, req.ID, final.Status)
	return nil
}

func (c *Consumer) stage(ctx context.Context, app interfaces.Application, req *interfaces.TriggerRequest) (*interfaces.Artifact, error) {
	if req.Source != "" {
		return c.config.Stager.Stage(ctx, req.Source, req.Revision)
	}
	if c.config.Fetcher == nil {
		return nil, interfaces.NewError(interfaces.KindStaging, "no source tree and no fetcher for %s", app.Name)
	}

	dir, commit, unlock, err := c.config.Fetcher.Fetch(ctx, app, req.Revision)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return c.config.Stager.Stage(ctx, dir, commit)
}

func (c *Consumer) release(artifact *interfaces.Artifact) {
	if err := c.config.Stager.Release(artifact); err != nil {
		c.logger.Warn("Failed to release %s: %v", artifact.Fingerprint, err)
	}
}
