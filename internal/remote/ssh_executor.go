package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/lattiam/launchpad/internal/interfaces"
	"github.com/lattiam/launchpad/pkg/logging"
)

// Defaults for SSHExecutorConfig fields left zero
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultOutputLimit    = 16 * 1024
	DefaultSSHPort        = "22"
)

// SSHExecutorConfig configures an SSHExecutor
type SSHExecutorConfig struct {
	HostKeys         ssh.HostKeyCallback
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration // zero means bounded only by the caller's context
	DefaultUser      string
	DefaultAuthRef   string
	OutputLimit      int // bytes of stdout and stderr kept per operation
}

// SSHExecutor implements interfaces.RemoteExecutor. Each Execute call opens
// one authenticated connection and runs the stage's operations over it in order.
type SSHExecutor struct {
	auth   *AuthResolver
	config SSHExecutorConfig
	dialer net.Dialer
	logger *logging.Logger
}

// NewSSHExecutor creates an executor
func NewSSHExecutor(auth *AuthResolver, cfg SSHExecutorConfig) (*SSHExecutor, error) {
	if auth == nil {
		return nil, fmt.Errorf("auth resolver is required")
	}
	if cfg.HostKeys == nil {
		return nil, fmt.Errorf("host key callback is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.OutputLimit <= 0 {
		cfg.OutputLimit = DefaultOutputLimit
	}
	return &SSHExecutor{auth: auth, config: cfg, logger: logging.Remote}, nil
}

// Execute runs stage on target
func (e *SSHExecutor) Execute(ctx context.Context, target interfaces.Target, stage interfaces.Stage) ([]interfaces.StageResult, error) {
	client, err := e.connect(ctx, target)
	if err != nil {
		return nil, annotate(err, target.ID, stage.Name)
	}
	defer func() { _ = client.Close() }()

	results := make([]interfaces.StageResult, 0, len(stage.Operations))
	for _, op := range stage.Operations {
		result, err := e.run(ctx, client, target, stage.Name, op)
		results = append(results, result)
		logging.StageResult(target.ID, string(stage.Name), op.Name, result.ExitCode, result.Duration)
		if err != nil {
			return results, annotate(err, target.ID, stage.Name)
		}
	}
	return results, nil
}

func annotate(err error, target string, stage interfaces.StageName) error {
	if de, ok := interfaces.AsDeployError(err); ok {
		return de.WithTarget(target, stage)
	}
	return err
}

func (e *SSHExecutor) connect(ctx context.Context, target interfaces.Target) (*ssh.Client, error) {
	user := target.User
	if user == "" {
		user = e.config.DefaultUser
	}
	ref := target.AuthRef
	if ref == "" {
		ref = e.config.DefaultAuthRef
	}

	methods, cleanup, err := e.auth.Resolve(ctx, ref)
	defer cleanup()
	if err != nil {
		return nil, err
	}

	addr := target.Address
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, DefaultSSHPort)
	}

	dialCtx, cancel := context.WithTimeout(ctx, e.config.ConnectTimeout)
	defer cancel()

	conn, err := e.dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, interfaces.WrapError(interfaces.KindConnectivity, err, "dial %s", addr)
	}

	// Abort a stalled handshake when the dial context ends
	stop := context.AfterFunc(dialCtx, func() { _ = conn.Close() })
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            user,
		Auth:            methods,
		HostKeyCallback: e.config.HostKeys,
		Timeout:         e.config.ConnectTimeout,
	})
	if !stop() || err != nil {
		_ = conn.Close()
		if err == nil {
			err = dialCtx.Err()
		}
		return nil, classifyHandshake(addr, err)
	}

	e.logger.Debug("Connected to %s as %s", addr, user)
	return ssh.NewClient(c, chans, reqs), nil
}

func classifyHandshake(addr string, err error) error {
	var keyErr *knownhosts.KeyError
	msg := err.Error()
	switch {
	case errors.As(err, &keyErr), strings.Contains(msg, "knownhosts:"), strings.Contains(msg, "host key mismatch"):
		return interfaces.WrapError(interfaces.KindAuthentication, err, "host key verification failed for %s", addr)
	case strings.Contains(msg, "unable to authenticate"), strings.Contains(msg, "no supported methods remain"):
		return interfaces.WrapError(interfaces.KindAuthentication, err, "authentication rejected by %s", addr)
	}
	return interfaces.WrapError(interfaces.KindConnectivity, err, "ssh handshake with %s", addr)
}

func (e *SSHExecutor) run(ctx context.Context, client *ssh.Client, target interfaces.Target, stage interfaces.StageName, op interfaces.Operation) (interfaces.StageResult, error) {
	started := time.Now()
	result := interfaces.StageResult{
		Target:    target.ID,
		Stage:     stage,
		Operation: op.Name,
		ExitCode:  -1,
		At:        started.UTC(),
	}

	session, err := client.NewSession()
	if err != nil {
		result.Duration = time.Since(started)
		return result, interfaces.WrapError(interfaces.KindConnectivity, err, "open session for %s", op.Name)
	}
	defer func() { _ = session.Close() }()

	stdout := newTailBuffer(e.config.OutputLimit)
	stderr := newTailBuffer(e.config.OutputLimit)
	session.Stdout = stdout
	session.Stderr = stderr

	if op.Input != "" {
		input, err := os.Open(op.Input)
		if err != nil {
			result.Duration = time.Since(started)
			return result, interfaces.WrapError(interfaces.KindStaging, err, "open input for %s", op.Name)
		}
		defer func() { _ = input.Close() }()
		session.Stdin = input
	}

	opCtx := ctx
	if e.config.OperationTimeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, e.config.OperationTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- session.Run(op.Command) }()

	select {
	case err = <-done:
	case <-opCtx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = client.Close()
		<-done
		err = opCtx.Err()
	}

	result.Duration = time.Since(started)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	var exitErr *ssh.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
		return result, nil
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitStatus()
		de := interfaces.NewError(interfaces.KindRemoteCommand, "%s exited with status %d", op.Name, result.ExitCode)
		de.Stderr = result.Stderr
		return result, de
	case ctx.Err() != nil:
		return result, fmt.Errorf("%s interrupted: %w", op.Name, ctx.Err())
	case opCtx.Err() != nil:
		de := interfaces.NewError(interfaces.KindRemoteCommand, "%s timed out after %s", op.Name, e.config.OperationTimeout)
		de.Stderr = result.Stderr
		return result, de
	}
	return result, interfaces.WrapError(interfaces.KindConnectivity, err, "connection lost during %s", op.Name)
}

var _ interfaces.RemoteExecutor = (*SSHExecutor)(nil)

// tailBuffer keeps the last limit bytes written to it
type tailBuffer struct {
	limit     int
	buf       []byte
	truncated bool
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
		b.truncated = true
	}
	return n, nil
}

func (b *tailBuffer) String() string {
	if b.truncated {
		return "...[truncated]\n" + string(b.buf)
	}
	return string(b.buf)
}

var _ io.Writer = (*tailBuffer)(nil)
