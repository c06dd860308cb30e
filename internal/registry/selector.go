package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lattiam/launchpad/internal/interfaces"
)

// ParseSelector parses "all", a comma-separated id list, or comma-separated
// key=value label terms that must all match.
func ParseSelector(s string) (interfaces.Selector, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return interfaces.Selector{}, interfaces.NewError(interfaces.KindInvalidInput, "empty target selector")
	}
	if s == "all" {
		return interfaces.Selector{All: true}, nil
	}

	terms := strings.Split(s, ",")
	if strings.Contains(s, "=") {
		labels := make(map[string]string, len(terms))
		for _, term := range terms {
			k, v, ok := strings.Cut(strings.TrimSpace(term), "=")
			k, v = strings.TrimSpace(k), strings.TrimSpace(v)
			if !ok || k == "" || v == "" {
				return interfaces.Selector{}, interfaces.NewError(interfaces.KindInvalidInput,
					"invalid selector term %q: label selectors must be key=value", term)
			}
			labels[k] = v
		}
		return interfaces.Selector{Labels: labels}, nil
	}

	seen := make(map[string]bool, len(terms))
	ids := make([]string, 0, len(terms))
	for _, term := range terms {
		id := strings.TrimSpace(term)
		if id == "" {
			return interfaces.Selector{}, interfaces.NewError(interfaces.KindInvalidInput, "empty target id in selector %q", s)
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return interfaces.Selector{IDs: ids}, nil
}

// Resolve returns the ids of the registered targets matched by selector.
// Every id named explicitly must exist, and a selector matching nothing is
// NotFound.
func Resolve(ctx context.Context, store interfaces.TargetStore, selector string) ([]string, error) {
	sel, err := ParseSelector(selector)
	if err != nil {
		return nil, err
	}
	records, err := store.List(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}

	ids := make([]string, 0, len(records))
	found := make(map[string]bool, len(records))
	for _, rec := range records {
		ids = append(ids, rec.Target.ID)
		found[rec.Target.ID] = true
	}
	for _, id := range sel.IDs {
		if !found[id] {
			return nil, interfaces.NewError(interfaces.KindNotFound, "target %q is not registered", id)
		}
	}
	if len(ids) == 0 {
		return nil, interfaces.NewError(interfaces.KindNotFound, "no targets match %q", sel.String())
	}
	sort.Strings(ids)
	return ids, nil
}
