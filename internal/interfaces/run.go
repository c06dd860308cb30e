package interfaces

import (
	"time"
)

// RunStatus is the aggregated status of a deployment run
type RunStatus string

// RunStatus constants
const (
	RunStatusPending    RunStatus = "pending"
	RunStatusInProgress RunStatus = "in_progress"
	RunStatusSucceeded  RunStatus = "succeeded"
	RunStatusFailed     RunStatus = "failed"
	RunStatusRolledBack RunStatus = "rolled_back"
	RunStatusCanceled   RunStatus = "canceled"
)

// IsTerminal reports whether the run has finished
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusRolledBack, RunStatusCanceled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status
func (s RunStatus) Valid() bool {
	return s == RunStatusPending || s == RunStatusInProgress || s.IsTerminal()
}

// Phase is the per-target position inside a run
type Phase string

// Phase constants
const (
	PhaseStaged       Phase = "staged"
	PhaseUploading    Phase = "uploading"
	PhaseInstalling   Phase = "installing"
	PhaseStarting     Phase = "starting"
	PhaseVerifying    Phase = "verifying"
	PhaseRunning      Phase = "running"
	PhaseFailed       Phase = "failed"
	PhaseRollingBack  Phase = "rolling_back"
	PhaseRolledBack   Phase = "rolled_back"
	PhaseFatalFailure Phase = "fatal_failure"
	PhaseCanceled     Phase = "canceled"
)

// IsTerminal reports whether no further transitions can happen for the target
func (p Phase) IsTerminal() bool {
	switch p {
	case PhaseRunning, PhaseFailed, PhaseRolledBack, PhaseFatalFailure, PhaseCanceled:
		return true
	default:
		return false
	}
}

// StageName names a group of remote operations executed over one connection
type StageName string

// StageName constants
const (
	StageUpload  StageName = "upload"
	StageInstall StageName = "install"
	StageStart   StageName = "start"
	StageVerify  StageName = "verify"
)

// StageResult records one executed operation. Results are append-only.
type StageResult struct {
	Target    string        `json:"target"`
	Stage     StageName     `json:"stage"`
	Operation string        `json:"operation"`
	Attempt   int           `json:"attempt"`
	ExitCode  int           `json:"exit_code"`
	Duration  time.Duration `json:"duration"`
	Stdout    string        `json:"stdout,omitempty"`
	Stderr    string        `json:"stderr,omitempty"`
	Rollback  bool          `json:"rollback,omitempty"`
	At        time.Time     `json:"at"`
}

// TargetOutcome is the per-target part of a run
type TargetOutcome struct {
	TargetID   string        `json:"target_id"`
	Phase      Phase         `json:"phase"`
	Attempts   int           `json:"attempts"`
	Results    []StageResult `json:"results,omitempty"`
	Error      string        `json:"error,omitempty"`
	ErrorKind  ErrorKind     `json:"error_kind,omitempty"`
	RolledBack string        `json:"rolled_back_to,omitempty"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// LastResult returns the most recent stage result, if any
func (o *TargetOutcome) LastResult() *StageResult {
	if len(o.Results) == 0 {
		return nil
	}
	r := o.Results[len(o.Results)-1]
	return &r
}

// RunOptions tunes a single run
type RunOptions struct {
	Application Application   `json:"application"`
	MaxRetries  int           `json:"max_retries"`
	Parallelism int           `json:"parallelism"`
	Timeout     time.Duration `json:"timeout,omitempty"`
	RequestID   string        `json:"request_id,omitempty"`
	// RollbackOf is set on runs created by Rollback
	RollbackOf string `json:"rollback_of,omitempty"`
}

// DeploymentRun is one attempt to put an artifact on a set of targets
type DeploymentRun struct {
	ID          string                    `json:"id"`
	Artifact    Artifact                  `json:"artifact"`
	Targets     []string                  `json:"targets"`
	Outcomes    map[string]*TargetOutcome `json:"outcomes"`
	Status      RunStatus                 `json:"status"`
	Options     RunOptions                `json:"options"`
	CancelAsked bool                      `json:"cancel_requested,omitempty"`
	CreatedAt   time.Time                 `json:"created_at"`
	StartedAt   *time.Time                `json:"started_at,omitempty"`
	CompletedAt *time.Time                `json:"completed_at,omitempty"`
}

// Copy returns a deep copy suitable for handing to callers
func (r *DeploymentRun) Copy() *DeploymentRun {
	if r == nil {
		return nil
	}
	c := *r
	c.Targets = append([]string(nil), r.Targets...)
	c.Outcomes = make(map[string]*TargetOutcome, len(r.Outcomes))
	for id, o := range r.Outcomes {
		oc := *o
		oc.Results = append([]StageResult(nil), o.Results...)
		c.Outcomes[id] = &oc
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	if r.Options.Application.Env != nil {
		env := make(map[string]string, len(r.Options.Application.Env))
		for k, v := range r.Options.Application.Env {
			env[k] = v
		}
		c.Options.Application.Env = env
	}
	return &c
}

// RunFilter narrows run listings
type RunFilter struct {
	Status        []RunStatus
	Target        string
	CreatedAfter  time.Time
	CreatedBefore time.Time
	Limit         int
}

// Matches reports whether the run passes the filter
func (f RunFilter) Matches(run *DeploymentRun) bool {
	if len(f.Status) > 0 {
		found := false
		for _, s := range f.Status {
			if run.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Target != "" {
		found := false
		for _, id := range run.Targets {
			if id == f.Target {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.CreatedAfter.IsZero() && run.CreatedAt.Before(f.CreatedAfter) {
		return false
	}
	if !f.CreatedBefore.IsZero() && run.CreatedAt.After(f.CreatedBefore) {
		return false
	}
	return true
}
