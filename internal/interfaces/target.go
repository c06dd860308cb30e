// Package interfaces defines the domain types and contracts shared by launchpad components
package interfaces

import (
	"sort"
	"strings"
	"time"
)

// Target is a remote host that an application is deployed to
type Target struct {
	ID      string            `json:"id" yaml:"id" toml:"id"`
	Address string            `json:"address" yaml:"address" toml:"address"` // host[:port]
	User    string            `json:"user,omitempty" yaml:"user" toml:"user"`
	AuthRef string            `json:"auth_ref,omitempty" yaml:"auth_ref" toml:"auth_ref"`
	AppDir  string            `json:"app_dir" yaml:"app_dir" toml:"app_dir"`
	Labels  map[string]string `json:"labels,omitempty" yaml:"labels" toml:"labels"`
	Health  *HealthProbe      `json:"health,omitempty" yaml:"health" toml:"health"`
}

// HealthProbe describes how a target's application proves it is ready.
// URL is either an http(s) URL or tcp://host:port.
type HealthProbe struct {
	URL       string        `json:"url" yaml:"url" toml:"url"`
	ExpectMin int           `json:"expect_min,omitempty" yaml:"expect_min" toml:"expect_min"`
	ExpectMax int           `json:"expect_max,omitempty" yaml:"expect_max" toml:"expect_max"`
	Interval  time.Duration `json:"interval,omitempty" yaml:"interval" toml:"interval"`
	Timeout   time.Duration `json:"timeout,omitempty" yaml:"timeout" toml:"timeout"`
}

// Host returns the address without its port
func (t Target) Host() string {
	host := t.Address
	if i := strings.LastIndex(host, ":"); i > 0 && !strings.HasSuffix(host, "]") {
		host = host[:i]
	}
	return strings.Trim(host, "[]")
}

// Lifecycle is the registry-level state of a target
type Lifecycle string

// Lifecycle constants
const (
	LifecycleUnknown    Lifecycle = "unknown"
	LifecycleStaging    Lifecycle = "staging"
	LifecycleInstalling Lifecycle = "installing"
	LifecycleRunning    Lifecycle = "running"
	LifecycleUnhealthy  Lifecycle = "unhealthy"
	LifecycleRolledBack Lifecycle = "rolled_back"
)

// TargetRecord is the registry entry for a target. Revision is the
// compare-and-set token and is bumped by every successful write.
type TargetRecord struct {
	Target           Target    `json:"target"`
	Lifecycle        Lifecycle `json:"lifecycle"`
	CurrentArtifact  string    `json:"current_artifact,omitempty"`
	PreviousArtifact string    `json:"previous_artifact,omitempty"`
	ActiveRun        string    `json:"active_run,omitempty"`
	Revision         int64     `json:"revision"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Copy returns a deep copy of the record
func (r *TargetRecord) Copy() *TargetRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.Target.Labels != nil {
		c.Target.Labels = make(map[string]string, len(r.Target.Labels))
		for k, v := range r.Target.Labels {
			c.Target.Labels[k] = v
		}
	}
	if r.Target.Health != nil {
		h := *r.Target.Health
		c.Target.Health = &h
	}
	return &c
}

// HasKnownGood reports whether the target has a prior artifact that can be
// rolled back to when deploying fingerprint.
func (r *TargetRecord) HasKnownGood(fingerprint string) bool {
	if r.CurrentArtifact == "" || r.CurrentArtifact == fingerprint {
		return false
	}
	return r.Lifecycle == LifecycleRunning || r.Lifecycle == LifecycleRolledBack
}

// Selector picks targets from the registry. The zero value matches nothing.
type Selector struct {
	All    bool
	IDs    []string
	Labels map[string]string
}

// Matches reports whether the target is selected
func (s Selector) Matches(t Target) bool {
	if s.All {
		return true
	}
	if len(s.IDs) > 0 {
		for _, id := range s.IDs {
			if id == t.ID {
				return true
			}
		}
		return false
	}
	if len(s.Labels) == 0 {
		return false
	}
	for k, v := range s.Labels {
		if t.Labels[k] != v {
			return false
		}
	}
	return true
}

// String renders the selector in the syntax accepted by ParseSelector
func (s Selector) String() string {
	switch {
	case s.All:
		return "all"
	case len(s.IDs) > 0:
		return strings.Join(s.IDs, ",")
	default:
		keys := make([]string, 0, len(s.Labels))
		for k := range s.Labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		terms := make([]string, 0, len(keys))
		for _, k := range keys {
			terms = append(terms, k+"="+s.Labels[k])
		}
		return strings.Join(terms, ",")
	}
}
