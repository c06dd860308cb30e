// Package health decides whether a deployed application is ready to serve
package health

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/lattiam/launchpad/internal/interfaces"
	"github.com/lattiam/launchpad/pkg/logging"
)

// Defaults for probe fields and config values left zero
const (
	DefaultInterval    = 2 * time.Second
	DefaultTimeout     = 60 * time.Second
	DefaultPollTimeout = 5 * time.Second
	DefaultExpectMin   = 200
	DefaultExpectMax   = 299
)

// Config holds verifier-wide defaults; a target's probe may override Interval and Timeout
type Config struct {
	Interval    time.Duration
	Timeout     time.Duration // overall deadline for a target to become ready
	PollTimeout time.Duration // per request or dial
}

// Verifier implements interfaces.HealthVerifier with HTTP and TCP probes
type Verifier struct {
	config Config
	client *http.Client
	dialer net.Dialer
	logger *logging.Logger
}

// NewVerifier creates a verifier
func NewVerifier(cfg Config) *Verifier {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	return &Verifier{
		config: cfg,
		client: &http.Client{
			// Redirects count as the status they return
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		logger: logging.Health,
	}
}

type probeFunc func(ctx context.Context) (bool, string)

// Verify polls the target's probe until it succeeds or the deadline passes.
// A target without a probe is ready immediately.
func (v *Verifier) Verify(ctx context.Context, target interfaces.Target) error {
	probe := target.Health
	if probe == nil || probe.URL == "" {
		v.logger.Debug("target=%s has no health probe; treating as ready", target.ID)
		return nil
	}

	check, err := v.probeFor(probe)
	if err != nil {
		return interfaces.WrapError(interfaces.KindInvalidInput, err, "health probe of %s", target.ID)
	}

	interval, timeout := v.config.Interval, v.config.Timeout
	if probe.Interval > 0 {
		interval = probe.Interval
	}
	if probe.Timeout > 0 {
		timeout = probe.Timeout
	}

	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	var last string
	for polls := 1; ; polls++ {
		pollCtx, pollCancel := context.WithTimeout(deadline, v.config.PollTimeout)
		ok, detail := check(pollCtx)
		pollCancel()
		if ok {
			v.logger.Info("target=%s healthy after %d polls (%s)", target.ID, polls, time.Since(started).Round(time.Millisecond))
			return nil
		}
		last = detail
		v.logger.Debug("target=%s not ready: %s", target.ID, detail)

		timer := time.NewTimer(interval)
		select {
		case <-deadline.Done():
			timer.Stop()
			if ctx.Err() != nil {
				return fmt.Errorf("health check of %s interrupted: %w", target.ID, ctx.Err())
			}
			e := interfaces.NewError(interfaces.KindHealthTimeout,
				"%s not ready after %s (%d polls, last: %s)", probe.URL, timeout, polls, last)
			return e.WithTarget(target.ID, interfaces.StageVerify)
		case <-timer.C:
		}
	}
}

func (v *Verifier) probeFor(probe *interfaces.HealthProbe) (probeFunc, error) {
	u, err := url.Parse(probe.URL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http", "https":
		lo, hi := probe.ExpectMin, probe.ExpectMax
		if lo == 0 {
			lo = DefaultExpectMin
		}
		if hi == 0 {
			hi = DefaultExpectMax
			if lo > hi {
				hi = lo
			}
		}
		return func(ctx context.Context) (bool, string) { return v.pollHTTP(ctx, probe.URL, lo, hi) }, nil
	case "tcp":
		if u.Host == "" {
			return nil, fmt.Errorf("tcp probe %q has no host:port", probe.URL)
		}
		return func(ctx context.Context) (bool, string) { return v.pollTCP(ctx, u.Host) }, nil
	}
	return nil, fmt.Errorf("unsupported probe scheme %q", u.Scheme)
}

func (v *Verifier) pollHTTP(ctx context.Context, rawURL string, lo, hi int) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return false, err.Error()
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return false, err.Error()
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	_ = resp.Body.Close()

	if resp.StatusCode < lo || resp.StatusCode > hi {
		return false, fmt.Sprintf("status %d outside [%d, %d]", resp.StatusCode, lo, hi)
	}
	return true, ""
}

func (v *Verifier) pollTCP(ctx context.Context, addr string) (bool, string) {
	conn, err := v.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false, err.Error()
	}
	_ = conn.Close()
	return true, ""
}

var _ interfaces.HealthVerifier = (*Verifier)(nil)
