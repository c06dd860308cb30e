package registry

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/lattiam/launchpad/internal/interfaces"
)

// TargetDefaults fills fields left empty on individual targets
type TargetDefaults struct {
	User    string `yaml:"user" toml:"user"`
	AuthRef string `yaml:"auth_ref" toml:"auth_ref"`
	AppDir  string `yaml:"app_dir" toml:"app_dir"`
}

// Inventory is the parsed target inventory file
type Inventory struct {
	Defaults     TargetDefaults           `yaml:"defaults" toml:"defaults"`
	Targets      []interfaces.Target      `yaml:"targets" toml:"targets"`
	Applications []interfaces.Application `yaml:"applications" toml:"applications"`
}

// LoadInventory reads a YAML (.yaml, .yml) or TOML (.toml) inventory.
// Unknown fields are rejected in both formats.
func LoadInventory(file string) (*Inventory, error) {
	data, err := os.ReadFile(file) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}

	var inv Inventory
	switch strings.ToLower(filepath.Ext(file)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&inv); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse inventory %s: %w", file, err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), &inv)
		if err != nil {
			return nil, fmt.Errorf("parse inventory %s: %w", file, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("parse inventory %s: unknown fields %s", file, strings.Join(keys, ", "))
		}
	default:
		return nil, fmt.Errorf("unsupported inventory format %q (want .yaml, .yml or .toml)", filepath.Ext(file))
	}

	inv.applyDefaults()
	if err := inv.Validate(); err != nil {
		return nil, fmt.Errorf("invalid inventory %s: %w", file, err)
	}
	return &inv, nil
}

func (inv *Inventory) applyDefaults() {
	for i := range inv.Targets {
		t := &inv.Targets[i]
		if t.User == "" {
			t.User = inv.Defaults.User
		}
		if t.AuthRef == "" {
			t.AuthRef = inv.Defaults.AuthRef
		}
		if t.AppDir == "" {
			t.AppDir = inv.Defaults.AppDir
		}
	}
	for i := range inv.Applications {
		inv.Applications[i] = inv.Applications[i].WithDefaults()
	}
}

// Validate checks identifiers, addresses and selectors
func (inv *Inventory) Validate() error {
	ids := make(map[string]bool, len(inv.Targets))
	for _, t := range inv.Targets {
		if err := ValidateTarget(t); err != nil {
			return err
		}
		if ids[t.ID] {
			return fmt.Errorf("duplicate target id %q", t.ID)
		}
		ids[t.ID] = true
	}

	names := make(map[string]bool, len(inv.Applications))
	for _, app := range inv.Applications {
		if app.Name == "" {
			return fmt.Errorf("application without a name")
		}
		if names[app.Name] {
			return fmt.Errorf("duplicate application %q", app.Name)
		}
		names[app.Name] = true
		if app.Repository == "" {
			return fmt.Errorf("application %q: repository is required", app.Name)
		}
		if _, err := ParseSelector(app.Targets); err != nil {
			return fmt.Errorf("application %q: %w", app.Name, err)
		}
	}
	return nil
}

// ValidateTarget checks a single target definition
func ValidateTarget(t interfaces.Target) error {
	if t.ID == "" {
		return fmt.Errorf("target without an id")
	}
	if t.Address == "" {
		return fmt.Errorf("target %q: address is required", t.ID)
	}
	if t.AppDir == "" || !path.IsAbs(t.AppDir) {
		return fmt.Errorf("target %q: app_dir must be an absolute path, got %q", t.ID, t.AppDir)
	}
	if h := t.Health; h != nil {
		if h.URL == "" {
			return fmt.Errorf("target %q: health probe without url", t.ID)
		}
		if h.ExpectMin != 0 && h.ExpectMax != 0 && h.ExpectMin > h.ExpectMax {
			return fmt.Errorf("target %q: health expect_min %d > expect_max %d", t.ID, h.ExpectMin, h.ExpectMax)
		}
	}
	return nil
}

// Application returns the application with the given name
func (inv *Inventory) Application(name string) (interfaces.Application, bool) {
	for _, app := range inv.Applications {
		if app.Name == name {
			return app, true
		}
	}
	return interfaces.Application{}, false
}

// ApplicationForRepository returns the application mapped to a repository,
// matching "owner/name" case-insensitively.
func (inv *Inventory) ApplicationForRepository(repo string) (interfaces.Application, bool) {
	want := normalizeRepository(repo)
	for _, app := range inv.Applications {
		if normalizeRepository(app.Repository) == want {
			return app, true
		}
	}
	return interfaces.Application{}, false
}

// ApplicationNames lists configured applications in order
func (inv *Inventory) ApplicationNames() []string {
	names := make([]string, 0, len(inv.Applications))
	for _, app := range inv.Applications {
		names = append(names, app.Name)
	}
	sort.Strings(names)
	return names
}

func normalizeRepository(repo string) string {
	repo = strings.ToLower(strings.TrimSpace(repo))
	repo = strings.TrimSuffix(repo, ".git")
	repo = strings.TrimPrefix(repo, "https://github.com/")
	repo = strings.TrimPrefix(repo, "git@github.com:")
	return strings.Trim(repo, "/")
}
