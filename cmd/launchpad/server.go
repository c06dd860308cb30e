package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lattiam/launchpad/internal/apiserver"
	"github.com/lattiam/launchpad/internal/config"
	"github.com/lattiam/launchpad/internal/infra/distributed"
	"github.com/lattiam/launchpad/internal/logging"
	"github.com/lattiam/launchpad/internal/monitor"
	"github.com/lattiam/launchpad/internal/monitoring"
	"github.com/lattiam/launchpad/internal/system"
)

// Static errors for err113 compliance
var (
	ErrServerAlreadyRunning = errors.New("server is already running")
	ErrServerFailedToStart  = errors.New("server failed to start, check logs")
	ErrServerNotRunning     = errors.New("server is not running")
)

// serverShutdownTimeout bounds the graceful shutdown, including active runs
const serverShutdownTimeout = 2 * time.Minute

func (a *app) newServerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Manage the launchpad API server",
		Long:  "Start, stop, and inspect the API server that receives push webhooks and serves run state",
	}

	cmd.AddCommand(
		a.newServerStartCommand(),
		a.newServerStopCommand(),
		a.newServerStatusCommand(),
	)

	return cmd
}

func (a *app) newServerStartCommand() *cobra.Command {
	var port int
	var daemon bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the API server and trigger workers",
		Args:  noArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if daemon {
				return a.runServerDaemon(port)
			}
			return a.runServerForeground(port)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (default from LAUNCHPAD_PORT or 8084)")
	cmd.Flags().BoolVarP(&daemon, "daemon", "d", false, "Run server in background")
	return cmd
}

func (a *app) newServerStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the API server",
		Args:  noArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if err := stopServer(cfg.PIDFile); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(a.stdout, "Server stopped")
			return nil
		},
	}
}

func (a *app) newServerStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check API server status",
		Args:  noArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			return checkServerStatus(a.stdout, cfg.PIDFile, cfg.Port)
		},
	}
}

func (a *app) runServerForeground(port int) error { //nolint:funlen,gocyclo // Server initialization function with comprehensive setup
	config.AppVersion = version
	logger := logging.NewLogger("server")

	cfg, err := a.config()
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Port = port
	}

	// Log configuration on startup (without sensitive paths)
	logger.Infof("Starting launchpad server v%s", version)
	logger.Infof("  Port: %d", cfg.Port)
	logger.Infof("  Registry: %s", cfg.Registry.Type)
	logger.Infof("  Run Store: %s", cfg.Runs.Type)
	logger.Infof("  Queue Type: %s", cfg.Queue.Type)
	if cfg.Debug {
		logger.Debugf("Data Directory: %s", cfg.DataDir)
		logger.Debugf("Inventory: %s", cfg.Inventory.Path)
		logger.Debugf("PID File: %s", cfg.PIDFile)
	}

	if err := savePID(os.Getpid(), cfg.PIDFile); err != nil {
		return err
	}
	defer removePIDFile(cfg.PIDFile)

	ctx := context.Background()
	sys, err := system.New(ctx, cfg, a.options...)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		if err := sys.Close(closeCtx); err != nil {
			logger.Errorf("Failed to stop cleanly: %v", err)
		}
	}()

	consumer, err := sys.NewTriggerConsumer()
	if err != nil {
		return fmt.Errorf("failed to create trigger consumer: %w", err)
	}
	components, err := system.NewBackgroundSystem(cfg, consumer)
	if err != nil {
		return fmt.Errorf("failed to create background system: %w", err)
	}

	server, err := apiserver.NewAPIServer(cfg, sys, components.Queue, components.WorkerPool)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	orphans, err := newOrphanMonitor(cfg, sys, components)
	if err != nil {
		return err
	}
	if err := orphans.Start(); err != nil {
		return fmt.Errorf("failed to start orphan monitor: %w", err)
	}

	monitorCtx, monitorCancel := context.WithCancel(context.Background())
	defer monitorCancel()
	diskMonitor := monitoring.NewDiskMonitor(cfg)
	diskMonitor.SetThresholds(apiserver.DiskUsageWarning, apiserver.DiskUsageCritical)
	go diskMonitor.Start(monitorCtx)
	logger.Infof("Disk monitoring enabled (warning: %.0f%%, critical: %.0f%%)",
		apiserver.DiskUsageWarning, apiserver.DiskUsageCritical)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errChan <- err
		}
	}()

	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				result, err := sys.Reload(ctx)
				if err != nil {
					logger.Errorf("Inventory reload failed: %v", err)
					continue
				}
				logger.Infof("Inventory reloaded: %d added, %d updated, %d removed",
					len(result.Added), len(result.Updated), len(result.Removed))
				continue
			}

			logger.Infof("Received %s, shutting down", sig)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("failed to shutdown server: %w", err)
			}
			if err := orphans.Stop(shutdownCtx); err != nil {
				logger.Warnf("Failed to stop orphan monitor: %v", err)
			}
			if err := components.Close(shutdownCtx); err != nil {
				return fmt.Errorf("failed to shutdown components: %w", err)
			}
			return nil
		case err := <-errChan:
			return err
		}
	}
}

// newOrphanMonitor reconciles runs and target holds left by a previous
// process. A hold is only reclaimed well after any remote operation of its
// run would have timed out.
func newOrphanMonitor(cfg *config.ServerConfig, sys *system.System, components *system.BackgroundSystemComponents) (*monitor.OrphanMonitor, error) {
	stale := 3 * cfg.Deploy.OperationTimeout
	if stale < 30*time.Minute {
		stale = 30 * time.Minute
	}
	mcfg := monitor.Config{
		Registry:         sys.Registry,
		Runs:             sys.Runs,
		Active:           sys.Orchestrator,
		StaleThreshold:   stale,
		ReconcileOrphans: true,
	}
	if q, ok := components.Queue.(*distributed.Queue); ok {
		mcfg.Inspector = q.Inspector()
		mcfg.QueueName = distributed.QueueName
	}
	m, err := monitor.NewOrphanMonitor(mcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create orphan monitor: %w", err)
	}
	return m, nil
}

func (a *app) runServerDaemon(port int) error { //nolint:funlen // Daemon setup function with comprehensive initialization
	logger := logging.NewLogger("server-daemon")

	cfg, err := a.config()
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Port = port
	}

	// savePID atomically checks for a running server, so there is no pre-check here
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	logPath := filepath.Join(cfg.DataDir, "server.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) // #nosec G304 - logPath is from config
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	executable, err := os.Executable()
	if err != nil {
		_ = logFile.Close()
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	args := []string{"server", "start", "--port", strconv.Itoa(cfg.Port)}
	if a.debug {
		args = append(args, "--debug")
	}
	cmd := exec.Command(executable, args...) // #nosec G204 - executable is self (os.Executable), args are controlled
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	setupServerProcess(cmd)

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return fmt.Errorf("failed to start server: %w", err)
	}
	if err := logFile.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}

	if err := savePID(cmd.Process.Pid, cfg.PIDFile); err != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("failed to save PID: %w", err)
	}

	// Give the child time to fail on configuration or port errors
	time.Sleep(2 * time.Second)

	if !isServerRunning(cfg.PIDFile) {
		return fmt.Errorf("%w at: %s", ErrServerFailedToStart, logPath)
	}

	logger.Infof("Server started successfully in background")
	logger.Infof("Log file: %s", logPath)
	logger.Infof("PID file: %s", cfg.PIDFile)

	return nil
}

func stopServer(pidFile string) error {
	pid, err := readPIDFromFile(pidFile)
	if err != nil {
		return ErrServerNotRunning
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}

	// Send SIGTERM for graceful shutdown
	if err := process.Signal(syscall.SIGTERM); err != nil {
		removePIDFile(pidFile)
		return ErrServerNotRunning
	}

	for range 20 {
		if !isProcessRunning(pid) {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}

	// Force kill if still running
	if isProcessRunning(pid) {
		_ = process.Kill()
	}

	removePIDFile(pidFile)
	return nil
}

func checkServerStatus(w io.Writer, pidFile string, port int) error {
	if !isServerRunning(pidFile) {
		_, _ = fmt.Fprintln(w, "Server is not running")
		return &exitError{code: exitFailure}
	}

	pid, _ := readPIDFromFile(pidFile)
	_, _ = fmt.Fprintf(w, "Server is running (PID %d)\n", pid)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://localhost:%d%s", port, config.APIEndpointHealth)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		_, _ = fmt.Fprintf(w, "Health: unreachable on port %d\n", port)
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	health := "healthy"
	if resp.StatusCode != http.StatusOK {
		health = "degraded"
	}
	_, _ = fmt.Fprintf(w, "Health: %s (HTTP %d)\n", health, resp.StatusCode)
	return nil
}

func isServerRunning(pidFile string) bool {
	pid, err := readPIDFromFile(pidFile)
	if err != nil {
		return false
	}
	return isProcessRunning(pid)
}

func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil
}

// savePID writes pid to pidFile. It fails if the file names another live
// process and replaces it if that process is gone.
func savePID(pid int, pidFile string) error {
	pidDir := filepath.Dir(pidFile)
	if err := os.MkdirAll(pidDir, 0o700); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}

	// O_EXCL makes the check and the create atomic
	file, err := os.OpenFile(pidFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) // #nosec G304 - pidFile path is from config
	if err != nil {
		if !os.IsExist(err) {
			return fmt.Errorf("failed to create PID file %s: %w", pidFile, err)
		}
		existingPID, readErr := readPIDFromFile(pidFile)
		if readErr == nil && existingPID == pid {
			// A daemon child recorded itself before its parent did
			return nil
		}
		if readErr == nil && isProcessRunning(existingPID) {
			return fmt.Errorf("%w with PID %d (pid file: %s)", ErrServerAlreadyRunning, existingPID, pidFile)
		}
		_ = os.Remove(pidFile)
		file, err = os.OpenFile(pidFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) // #nosec G304 - pidFile path is from config
		if err != nil {
			return fmt.Errorf("failed to create PID file %s after removing stale file: %w", pidFile, err)
		}
	}
	defer func() { _ = file.Close() }()

	if _, err := fmt.Fprintf(file, "%d\n", pid); err != nil {
		_ = os.Remove(pidFile)
		return fmt.Errorf("failed to write PID: %w", err)
	}

	return nil
}

func readPIDFromFile(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile) // #nosec G304 - pidFile path is from config
	if err != nil {
		return 0, fmt.Errorf("failed to read PID file %s: %w", pidFile, err)
	}
	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("failed to parse PID from file %s (content: %q): %w", pidFile, pidStr, err)
	}
	return pid, nil
}

func removePIDFile(pidFile string) {
	_ = os.Remove(pidFile)
}
