package interfaces

import (
	"strings"
	"time"
)

// FingerprintPrefix is prepended to the hex digest of a staged tree
const FingerprintPrefix = "sha256:"

// Artifact is an immutable, fingerprinted bundle of an application source tree
type Artifact struct {
	Fingerprint string    `json:"fingerprint"`
	Revision    string    `json:"revision,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	BundlePath  string    `json:"bundle_path,omitempty"`
	Source      string    `json:"source,omitempty"`
}

// ReleaseName returns the directory name used for this artifact on a target
func (a *Artifact) ReleaseName() string {
	return ReleaseName(a.Fingerprint)
}

// ReleaseName strips the digest prefix from a fingerprint
func ReleaseName(fingerprint string) string {
	return strings.TrimPrefix(fingerprint, FingerprintPrefix)
}

// Application maps a source repository to the targets it is deployed to and
// the way it is installed and supervised there.
type Application struct {
	Name         string            `json:"name" yaml:"name" toml:"name"`
	Repository   string            `json:"repository" yaml:"repository" toml:"repository"`
	CloneURL     string            `json:"clone_url,omitempty" yaml:"clone_url" toml:"clone_url"`
	Targets      string            `json:"targets" yaml:"targets" toml:"targets"`
	Service      string            `json:"service" yaml:"service" toml:"service"`
	Python       string            `json:"python,omitempty" yaml:"python" toml:"python"`
	Requirements string            `json:"requirements,omitempty" yaml:"requirements" toml:"requirements"`
	Command      string            `json:"command" yaml:"command" toml:"command"`
	Env          map[string]string `json:"env,omitempty" yaml:"env" toml:"env"`
}

// Default values for application fields left empty in the inventory
const (
	DefaultPython       = "python3"
	DefaultRequirements = "requirements.txt"
	DefaultCommand      = "python app.py"
)

// WithDefaults returns a copy with empty optional fields filled in
func (a Application) WithDefaults() Application {
	if a.Python == "" {
		a.Python = DefaultPython
	}
	if a.Requirements == "" {
		a.Requirements = DefaultRequirements
	}
	if a.Command == "" {
		a.Command = DefaultCommand
	}
	if a.Service == "" {
		a.Service = a.Name
	}
	if a.Targets == "" {
		a.Targets = "all"
	}
	return a
}
