package system

import (
	"context"
	"fmt"
	"sort"

	"github.com/lattiam/launchpad/internal/interfaces"
	"github.com/lattiam/launchpad/internal/registry"
)

// DeployRequest describes a run submitted from a local source tree
type DeployRequest struct {
	Source      string `json:"source"`
	Revision    string `json:"revision,omitempty"`
	Application string `json:"application,omitempty"`
	Targets     string `json:"targets,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
}

// Deploy stages req.Source, resolves the target selector, and submits a run.
// Without an application name the inventory's only application is used.
func (s *System) Deploy(ctx context.Context, req DeployRequest) (*interfaces.DeploymentRun, error) {
	if req.Source == "" {
		return nil, interfaces.NewError(interfaces.KindInvalidInput, "a source path is required")
	}

	app, err := s.resolveApplication(req.Application)
	if err != nil {
		return nil, err
	}
	selector := req.Targets
	if selector == "" {
		selector = app.WithDefaults().Targets
	}
	targets, err := registry.Resolve(ctx, s.Registry, selector)
	if err != nil {
		return nil, err
	}

	artifact, err := s.Stager.Stage(ctx, req.Source, req.Revision)
	if err != nil {
		return nil, err
	}

	opts := s.Orchestrator.DefaultOptions(app)
	opts.RequestID = req.RequestID
	run, err := s.Orchestrator.Submit(ctx, artifact, targets, opts)
	if err != nil {
		if relErr := s.Stager.Release(artifact); relErr != nil {
			s.logger.Warn("Failed to release %s: %v", artifact.Fingerprint, relErr)
		}
		return nil, err
	}
	return run, nil
}

func (s *System) resolveApplication(name string) (interfaces.Application, error) {
	s.mu.RLock()
	inv := s.inventory
	s.mu.RUnlock()

	if name != "" {
		app, ok := inv.Application(name)
		if !ok {
			return interfaces.Application{}, interfaces.NewError(interfaces.KindNotFound, "application %q is not configured", name)
		}
		return app, nil
	}

	switch len(inv.Applications) {
	case 1:
		return inv.Applications[0].WithDefaults(), nil
	case 0:
		return interfaces.Application{}, interfaces.NewError(interfaces.KindInvalidInput, "no applications are configured")
	default:
		names := make([]string, 0, len(inv.Applications))
		for _, a := range inv.Applications {
			names = append(names, a.Name)
		}
		sort.Strings(names)
		return interfaces.Application{}, interfaces.NewError(interfaces.KindInvalidInput,
			"an application is required; configured: %v", names)
	}
}

// Targets lists registered targets matching selector, "all" when empty
func (s *System) Targets(ctx context.Context, selector string) ([]*interfaces.TargetRecord, error) {
	if selector == "" {
		selector = "all"
	}
	sel, err := registry.ParseSelector(selector)
	if err != nil {
		return nil, err
	}
	records, err := s.Registry.List(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Target.ID < records[j].Target.ID })
	return records, nil
}
