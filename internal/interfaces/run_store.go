package interfaces

import "context"

// RunStore persists deployment run snapshots
type RunStore interface {
	Save(ctx context.Context, run *DeploymentRun) error
	Get(ctx context.Context, id string) (*DeploymentRun, error)
	List(ctx context.Context, filter RunFilter) ([]*DeploymentRun, error)
	Delete(ctx context.Context, id string) error
}

// Orchestrator is the public contract of the deployment orchestrator
type Orchestrator interface {
	Submit(ctx context.Context, artifact *Artifact, targets []string, opts RunOptions) (*DeploymentRun, error)
	Status(ctx context.Context, runID string) (*DeploymentRun, error)
	Cancel(ctx context.Context, runID string) error
	Wait(ctx context.Context, runID string) (*DeploymentRun, error)
	Rollback(ctx context.Context, runID string) (*DeploymentRun, error)
	List(ctx context.Context, filter RunFilter) ([]*DeploymentRun, error)
}
