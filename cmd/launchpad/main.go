package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lattiam/launchpad/internal/config"
	"github.com/lattiam/launchpad/internal/interfaces"
	"github.com/lattiam/launchpad/internal/system"
	"github.com/lattiam/launchpad/pkg/logging"
)

// Exit codes
const (
	exitOK       = 0
	exitFailure  = 1
	exitUsage    = 2
	exitNotFound = 3
)

var (
	version = "dev"
	commit  = "none"    //nolint:gochecknoglobals // Build-time commit info
	date    = "unknown" //nolint:gochecknoglobals // Build-time date info
)

// exitError carries the process exit code for an error
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func usageError(format string, args ...interface{}) error {
	return &exitError{code: exitUsage, err: fmt.Errorf(format, args...)}
}

// exitCode maps an error returned by a command to the process exit code
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitFailure
}

// app carries what commands need from their environment, so tests can run
// them against fixtures
type app struct {
	stdout     io.Writer
	stderr     io.Writer
	debug      bool
	loadConfig func() (*config.ServerConfig, error)
	options    []system.Option
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{stdout: stdout, stderr: stderr, loadConfig: loadStandardConfig}
}

// loadStandardConfig creates a new config, loads from environment, and expands paths.
// This is the standard pattern used by most commands.
func loadStandardConfig() (*config.ServerConfig, error) {
	cfg := config.NewServerConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := cfg.ExpandPaths(); err != nil {
		return nil, fmt.Errorf("failed to expand paths: %w", err)
	}
	return cfg, nil
}

// config loads and validates the configuration, applying the global flags
func (a *app) config() (*config.ServerConfig, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	if a.debug {
		cfg.Debug = true
	}
	if cfg.Debug {
		logging.SetLevel(logging.DEBUG)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func main() {
	a := newApp(os.Stdout, os.Stderr)
	os.Exit(a.run(os.Args[1:]))
}

// run executes the command line and returns the exit code
func (a *app) run(args []string) int {
	root := a.newRootCommand()
	root.SetArgs(args)
	err := root.Execute()
	if err != nil && strings.HasPrefix(err.Error(), "unknown command") {
		err = &exitError{code: exitUsage, err: err}
	}
	if err != nil {
		var ee *exitError
		if !errors.As(err, &ee) || ee.err != nil {
			_, _ = fmt.Fprintf(a.stderr, "Error: %v\n", err)
		}
	}
	return exitCode(err)
}

func (a *app) newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "launchpad",
		Short: "Deploy applications to fleets of hosts over SSH",
		Long: `Launchpad stages a source tree, pushes it to registered targets over SSH,
installs and starts it, verifies its health, and rolls back on failure.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if a.debug {
				logging.SetLevel(logging.DEBUG)
			}
		},
	}
	rootCmd.SetOut(a.stdout)
	rootCmd.SetErr(a.stderr)
	rootCmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		_, _ = fmt.Fprintln(a.stderr, c.UsageString())
		return &exitError{code: exitUsage, err: err}
	})

	rootCmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		a.newDeployCommand(),
		a.newRollbackCommand(),
		a.newStatusCommand(),
		a.newServerCommand(),
		a.newTargetsCommand(),
		a.newConfigCommand(),
	)

	return rootCmd
}

// noArgs rejects positional arguments as a usage error
func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return usageError("unknown argument %q for %q", args[0], cmd.CommandPath())
	}
	return nil
}

// commandError maps a domain error to an exit code. Bad input is a usage
// error, a missing run or target is NotFound, everything else a failure.
func commandError(err error, notFound int) error {
	switch interfaces.KindOf(err) {
	case interfaces.KindInvalidInput:
		return &exitError{code: exitUsage, err: err}
	case interfaces.KindNotFound:
		return &exitError{code: notFound, err: err}
	default:
		return &exitError{code: exitFailure, err: err}
	}
}
