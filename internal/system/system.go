// Package system assembles launchpad's components from configuration
package system

import (
	"context"
	"fmt"
	"sync"

	"github.com/lattiam/launchpad/internal/artifact"
	"github.com/lattiam/launchpad/internal/config"
	"github.com/lattiam/launchpad/internal/deployment"
	"github.com/lattiam/launchpad/internal/events"
	"github.com/lattiam/launchpad/internal/interfaces"
	"github.com/lattiam/launchpad/internal/metrics"
	"github.com/lattiam/launchpad/internal/registry"
	"github.com/lattiam/launchpad/internal/trigger"
	"github.com/lattiam/launchpad/pkg/logging"
)

// System is a fully wired launchpad: registry, run store, stager and
// orchestrator, plus the inventory the registry is synced from.
type System struct {
	Config       *config.ServerConfig
	Registry     *registry.Registry
	Runs         interfaces.RunStore
	Stager       *artifact.Stager
	Orchestrator *deployment.Orchestrator
	Events       *events.EventBus
	Metrics      *metrics.Collector

	factory   *ComponentFactory
	discovery *registry.EC2Discovery
	logger    *logging.Logger

	mu        sync.RWMutex
	inventory *registry.Inventory
}

// Option overrides a component built by New
type Option func(*options)

type options struct {
	executor interfaces.RemoteExecutor
	verifier interfaces.HealthVerifier
}

// WithExecutor replaces the SSH executor
func WithExecutor(e interfaces.RemoteExecutor) Option {
	return func(o *options) { o.executor = e }
}

// WithVerifier replaces the HTTP/TCP health verifier
func WithVerifier(v interfaces.HealthVerifier) Option {
	return func(o *options) { o.verifier = v }
}

// New builds a system from cfg and loads the inventory into the registry
func New(ctx context.Context, cfg *config.ServerConfig, opts ...Option) (*System, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := &System{
		Config:    cfg,
		factory:   NewComponentFactory(cfg),
		logger:    logging.NewLogger("system"),
		inventory: &registry.Inventory{},
	}
	if err := s.build(ctx, o); err != nil {
		_ = s.factory.Close()
		return nil, err
	}
	return s, nil
}

func (s *System) build(ctx context.Context, o options) error {
	store, err := s.factory.CreateTargetStore(ctx)
	if err != nil {
		return err
	}
	s.Registry = registry.New(store)

	if s.Runs, err = s.factory.CreateRunStore(ctx); err != nil {
		return err
	}
	if s.Stager, err = s.factory.CreateStager(ctx); err != nil {
		return err
	}
	if s.discovery, err = s.factory.CreateDiscovery(ctx); err != nil {
		return err
	}

	executor := o.executor
	if executor == nil {
		if executor, err = s.factory.CreateExecutor(ctx); err != nil {
			return err
		}
	}
	verifier := o.verifier
	if verifier == nil {
		verifier = s.factory.CreateVerifier()
	}

	s.Events = events.NewEventBus()
	events.ConnectLogging(s.Events)
	s.Metrics = metrics.NewCollector()
	events.ConnectMetrics(s.Events, s.Metrics)

	deploy := s.Config.Deploy
	s.Orchestrator, err = deployment.New(deployment.Config{
		Registry: s.Registry,
		Runs:     s.Runs,
		Executor: executor,
		Verifier: verifier,
		Stager:   s.Stager,
		Events:   s.Events,
		Backoff: deployment.BackoffConfig{
			InitialDelay: deploy.BackoffInitial,
			Multiplier:   DefaultBackoffMultiplier,
			MaxDelay:     deploy.BackoffMax,
			Jitter:       true,
		},
		MaxRetries:  deploy.MaxRetries,
		Parallelism: deploy.Parallelism,
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	if _, err := s.Reload(ctx); err != nil {
		return err
	}
	return nil
}

// Reload re-reads the inventory file and EC2 discovery and syncs the
// registry with the result. Without either source the registry is left as is.
func (s *System) Reload(ctx context.Context) (*registry.SyncResult, error) {
	inv := &registry.Inventory{}
	if path := s.Config.Inventory.Path; path != "" {
		loaded, err := registry.LoadInventory(path)
		if err != nil {
			return nil, err
		}
		inv = loaded
	}

	if s.Config.Inventory.Path == "" && s.discovery == nil {
		s.logger.Debug("No inventory configured; keeping registered targets")
		return &registry.SyncResult{}, nil
	}

	targets := inv.Targets
	if s.discovery != nil {
		discovered, err := s.discovery.Discover(ctx)
		if err != nil {
			return nil, fmt.Errorf("EC2 discovery: %w", err)
		}
		targets = registry.MergeTargets(inv.Targets, discovered)
	}

	result, err := s.Registry.Sync(ctx, targets)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.inventory = inv
	s.mu.Unlock()

	s.logger.Info("Inventory synced: %d added, %d updated, %d removed, %d retained",
		len(result.Added), len(result.Updated), len(result.Removed), len(result.Retained))
	return result, nil
}

// Applications returns the applications of the current inventory
func (s *System) Applications() trigger.Applications {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inventory
}

// Application looks up a configured application by name
func (s *System) Application(name string) (interfaces.Application, bool) {
	return s.Applications().Application(name)
}

// NewTriggerConsumer builds the handler that turns queued triggers into runs
func (s *System) NewTriggerConsumer() (*trigger.Consumer, error) {
	fetcher, err := artifact.NewGitFetcher(s.Config.Artifacts.Sources)
	if err != nil {
		return nil, err
	}
	return trigger.NewConsumer(trigger.ConsumerConfig{
		Apps:         s.Applications,
		Fetcher:      fetcher,
		Stager:       s.Stager,
		Targets:      s.Registry,
		Orchestrator: s.Orchestrator,
		Options: interfaces.RunOptions{
			MaxRetries:  s.Config.Deploy.MaxRetries,
			Parallelism: s.Config.Deploy.Parallelism,
		},
	})
}

// Close waits for active runs, interrupting them if ctx expires first, and
// closes the stores.
func (s *System) Close(ctx context.Context) error {
	var firstErr error
	if s.Orchestrator != nil {
		if err := s.Orchestrator.Shutdown(ctx); err != nil {
			firstErr = fmt.Errorf("failed to stop orchestrator: %w", err)
		}
	}
	if err := s.factory.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close stores: %w", err)
	}
	return firstErr
}
