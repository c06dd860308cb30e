package registry

import (
	"context"
	"fmt"
	"sort"

	"github.com/lattiam/launchpad/internal/interfaces"
)

// SyncResult summarizes an inventory reload
type SyncResult struct {
	Added    []string `json:"added"`
	Updated  []string `json:"updated"`
	Removed  []string `json:"removed"`
	Retained []string `json:"retained"` // gone from the inventory but held by a run
}

// MergeTargets overlays discovered targets with inventory entries; inventory wins on id clashes
func MergeTargets(inventory, discovered []interfaces.Target) []interfaces.Target {
	byID := make(map[string]interfaces.Target, len(inventory)+len(discovered))
	for _, t := range discovered {
		byID[t.ID] = t
	}
	for _, t := range inventory {
		byID[t.ID] = t
	}
	out := make([]interfaces.Target, 0, len(byID))
	for _, t := range byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Sync makes the registry contain exactly targets. Surviving targets keep
// lifecycle and artifact state; removed targets are deregistered unless a run holds them.
func (r *Registry) Sync(ctx context.Context, targets []interfaces.Target) (*SyncResult, error) {
	existing, err := r.List(ctx, interfaces.Selector{All: true})
	if err != nil {
		return nil, fmt.Errorf("list registry: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, rec := range existing {
		known[rec.Target.ID] = true
	}

	result := &SyncResult{}
	wanted := make(map[string]bool, len(targets))
	for _, t := range targets {
		if err := ValidateTarget(t); err != nil {
			return nil, err
		}
		wanted[t.ID] = true
		if _, err := r.Put(ctx, t); err != nil {
			return nil, fmt.Errorf("register target %q: %w", t.ID, err)
		}
		if known[t.ID] {
			result.Updated = append(result.Updated, t.ID)
		} else {
			result.Added = append(result.Added, t.ID)
		}
	}

	for _, rec := range existing {
		id := rec.Target.ID
		if wanted[id] {
			continue
		}
		current, err := r.Get(ctx, id)
		if interfaces.IsKind(err, interfaces.KindNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if current.ActiveRun != "" {
			r.logger.Warn("target=%s removed from inventory but held by run=%s; keeping it", id, current.ActiveRun)
			result.Retained = append(result.Retained, id)
			continue
		}
		if err := r.Delete(ctx, id); err != nil && !interfaces.IsKind(err, interfaces.KindNotFound) {
			return nil, fmt.Errorf("deregister target %q: %w", id, err)
		}
		result.Removed = append(result.Removed, id)
	}

	r.logger.Info("Registry synced: added=%d updated=%d removed=%d retained=%d",
		len(result.Added), len(result.Updated), len(result.Removed), len(result.Retained))
	return result, nil
}
