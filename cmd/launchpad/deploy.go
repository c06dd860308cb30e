package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lattiam/launchpad/internal/interfaces"
	"github.com/lattiam/launchpad/internal/logging"
	"github.com/lattiam/launchpad/internal/system"
)

// closeTimeout bounds how long a command waits for the system to shut down
const closeTimeout = 30 * time.Second

// openSystem builds an in-process system from the configuration
func (a *app) openSystem(ctx context.Context) (*system.System, func(), error) {
	cfg, err := a.config()
	if err != nil {
		return nil, nil, err
	}
	sys, err := system.New(ctx, cfg, a.options...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize: %w", err)
	}
	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := sys.Close(ctx); err != nil {
			_, _ = fmt.Fprintf(a.stderr, "Warning: %v\n", err)
		}
	}
	return sys, closeFn, nil
}

func (a *app) newDeployCommand() *cobra.Command {
	var req system.DeployRequest
	var output string

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy a source tree to a set of targets",
		Long: `Stage the source tree at --artifact, push it to the targets picked by
--targets, install and start it, and verify its health. Targets that fail
are rolled back to their previous release when they have one.

Selectors are "all", a list of ids ("web-1,web-2") or label terms
("role=web,env=prod", all of which must match).`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if req.Source == "" {
				return usageError("--artifact is required")
			}
			if req.Targets == "" {
				return usageError("--targets is required")
			}
			if err := validateOutput(output); err != nil {
				return err
			}
			return a.runDeploy(cmd.Context(), req, output)
		},
	}

	cmd.Flags().StringVar(&req.Source, "artifact", "", "Path of the source tree to deploy")
	cmd.Flags().StringVar(&req.Targets, "targets", "", "Target selector")
	cmd.Flags().StringVar(&req.Application, "app", "", "Application name (defaults to the only configured application)")
	cmd.Flags().StringVar(&req.Revision, "revision", "", "Revision recorded with the artifact")
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "Output format (text, json)")
	return cmd
}

func (a *app) runDeploy(ctx context.Context, req system.DeployRequest, output string) error {
	sys, closeFn, err := a.openSystem(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	run, err := sys.Deploy(ctx, req)
	if err != nil {
		return commandError(err, exitFailure)
	}
	logging.NewLogger("cli").Infof("Run %s started on %d targets", run.ID, len(run.Targets))

	return a.waitAndReport(sys, run.ID, output)
}

func (a *app) newRollbackCommand() *cobra.Command {
	var runID, output string

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Return the targets of a run to their previous release",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if runID == "" {
				return usageError("--run is required")
			}
			if err := validateOutput(output); err != nil {
				return err
			}

			sys, closeFn, err := a.openSystem(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			run, err := sys.Orchestrator.Rollback(cmd.Context(), runID)
			if err != nil {
				return &exitError{code: exitFailure, err: err}
			}
			return a.waitAndReport(sys, run.ID, output)
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Run whose targets are rolled back")
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "Output format (text, json)")
	return cmd
}

func (a *app) newStatusCommand() *cobra.Command {
	var runID, output string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a run",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if runID == "" {
				return usageError("--run is required")
			}
			if err := validateOutput(output); err != nil {
				return err
			}

			sys, closeFn, err := a.openSystem(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			run, err := sys.Orchestrator.Status(cmd.Context(), runID)
			if err != nil {
				return commandError(err, exitNotFound)
			}
			return a.printRun(run, output)
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Run id")
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "Output format (text, json)")
	return cmd
}

// waitAndReport waits for the run, printing its final state. The first
// interrupt asks the run to stop between stages; the command keeps waiting
// so the targets are left in a recorded state.
func (a *app) waitAndReport(sys *system.System, runID, output string) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sigChan:
			if err := sys.Orchestrator.Cancel(context.Background(), runID); err == nil {
				_, _ = fmt.Fprintf(a.stderr, "Cancel requested for run %s\n", runID)
			}
		case <-done:
		}
	}()

	run, err := sys.Orchestrator.Wait(context.Background(), runID)
	if err != nil {
		return err
	}

	succeeded := 0
	for _, outcome := range run.Outcomes {
		if outcome.Phase == interfaces.PhaseRunning {
			succeeded++
		}
	}
	logging.NewLogger("cli").RunSummary(run.ID, string(run.Status), succeeded, len(run.Targets))

	if err := a.printRun(run, output); err != nil {
		return err
	}
	if run.Status != interfaces.RunStatusSucceeded {
		return &exitError{code: exitFailure}
	}
	return nil
}

const (
	outputText = "text"
	outputJSON = "json"
)

func validateOutput(output string) error {
	if output != outputText && output != outputJSON {
		return usageError("unknown output format %q: use text or json", output)
	}
	return nil
}

func (a *app) printRun(run *interfaces.DeploymentRun, output string) error {
	if output == outputJSON {
		encoder := json.NewEncoder(a.stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(run); err != nil {
			return fmt.Errorf("failed to encode run: %w", err)
		}
		return nil
	}
	return renderRun(a.stdout, run)
}
