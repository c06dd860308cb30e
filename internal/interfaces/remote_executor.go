package interfaces

import (
	"context"
)

// Operation is a declarative, idempotent unit of remote work. Command is the
// shell rendering of the desired state; Input names a local file streamed to stdin.
type Operation struct {
	Name    string `json:"name"`
	Command string `json:"command"`
	Input   string `json:"input,omitempty"`
}

// Stage is an ordered list of operations run over one connection
type Stage struct {
	Name       StageName   `json:"name"`
	Operations []Operation `json:"operations"`
}

// RemoteExecutor runs stages on targets
type RemoteExecutor interface {
	// Execute runs the stage's operations in order and stops at the first failure.
	// The results of every attempted operation are returned alongside the error.
	Execute(ctx context.Context, target Target, stage Stage) ([]StageResult, error)
}

// HealthVerifier decides whether a target's application is ready
type HealthVerifier interface {
	Verify(ctx context.Context, target Target) error
}

// ArtifactStager turns a source tree into a fingerprinted bundle
type ArtifactStager interface {
	Stage(ctx context.Context, sourceDir, revision string) (*Artifact, error)
	Release(artifact *Artifact) error
}
