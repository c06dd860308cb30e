package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/lattiam/launchpad/internal/interfaces"
)

// maxErrorWidth truncates per-target errors in the run table
const maxErrorWidth = 60

// renderRun writes a human-readable summary of a run
func renderRun(w io.Writer, run *interfaces.DeploymentRun) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintf(tw, "Run:\t%s\n", run.ID)
	_, _ = fmt.Fprintf(tw, "Status:\t%s\n", run.Status)
	if app := run.Options.Application.Name; app != "" {
		_, _ = fmt.Fprintf(tw, "Application:\t%s\n", app)
	}
	artifact := run.Artifact.Fingerprint
	if run.Artifact.Revision != "" {
		artifact = fmt.Sprintf("%s (revision %s)", artifact, run.Artifact.Revision)
	}
	_, _ = fmt.Fprintf(tw, "Artifact:\t%s\n", artifact)
	if run.Options.RollbackOf != "" {
		_, _ = fmt.Fprintf(tw, "Rollback of:\t%s\n", run.Options.RollbackOf)
	}
	if run.Options.RequestID != "" {
		_, _ = fmt.Fprintf(tw, "Request:\t%s\n", run.Options.RequestID)
	}
	_, _ = fmt.Fprintf(tw, "Created:\t%s\n", run.CreatedAt.UTC().Format(time.RFC3339))
	if run.CompletedAt != nil {
		completed := run.CompletedAt.UTC().Format(time.RFC3339)
		if run.StartedAt != nil {
			completed = fmt.Sprintf("%s (took %s)", completed, run.CompletedAt.Sub(*run.StartedAt).Round(time.Millisecond))
		}
		_, _ = fmt.Fprintf(tw, "Completed:\t%s\n", completed)
	}
	if run.CancelAsked && run.Status != interfaces.RunStatusCanceled {
		_, _ = fmt.Fprintf(tw, "Cancel:\trequested\n")
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to render run: %w", err)
	}

	_, _ = fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TARGET\tPHASE\tATTEMPTS\tLAST OPERATION\tERROR")
	for _, id := range run.Targets {
		outcome, ok := run.Outcomes[id]
		if !ok {
			_, _ = fmt.Fprintf(tw, "%s\t-\t0\t-\t-\n", id)
			continue
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			id, outcome.Phase, outcome.Attempts, lastOperation(outcome), outcomeError(outcome))
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to render run: %w", err)
	}
	return nil
}

func lastOperation(outcome *interfaces.TargetOutcome) string {
	last := outcome.LastResult()
	if last == nil {
		return "-"
	}
	op := fmt.Sprintf("%s/%s", last.Stage, last.Operation)
	if last.Rollback {
		op += " (rollback)"
	}
	if last.ExitCode != 0 {
		op += fmt.Sprintf(" exit %d", last.ExitCode)
	}
	return op
}

func outcomeError(outcome *interfaces.TargetOutcome) string {
	if outcome.Error == "" {
		if outcome.RolledBack != "" {
			return "rolled back to " + interfaces.ReleaseName(outcome.RolledBack)
		}
		return "-"
	}
	msg := strings.Join(strings.Fields(outcome.Error), " ")
	if len(msg) > maxErrorWidth {
		msg = msg[:maxErrorWidth-3] + "..."
	}
	if outcome.ErrorKind != "" {
		msg = fmt.Sprintf("[%s] %s", outcome.ErrorKind, msg)
	}
	return msg
}
