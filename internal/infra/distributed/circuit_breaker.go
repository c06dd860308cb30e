package distributed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lattiam/launchpad/pkg/logging"
)

// CircuitState is the state of a CircuitBreaker
type CircuitState int32

const (
	// CircuitClosed lets every request through
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects requests until the open timeout passes
	CircuitOpen
	// CircuitHalfOpen lets a single probe through
	CircuitHalfOpen
)

// ErrCircuitOpen is returned while the breaker rejects requests
var ErrCircuitOpen = errors.New("circuit breaker is open")

// String returns the string representation of CircuitState
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures circuit breaker behavior
type CircuitBreakerConfig struct {
	// MaxFailures consecutive failures open the circuit
	MaxFailures int64
	// Timeout is how long the circuit stays open before a probe is allowed
	Timeout time.Duration
	// ReadyToTrip replaces the default trip rule when set
	ReadyToTrip func(counts Counts) bool
	// IsFailure decides which errors count against the circuit; all do when nil
	IsFailure func(err error) bool
	// OnStateChange is called whenever the circuit breaker changes state
	OnStateChange func(name string, from CircuitState, to CircuitState)
}

// DefaultCircuitBreakerConfig returns the settings used for the trigger queue
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		MaxFailures: 5,
		Timeout:     30 * time.Second,
	}
}

// readyToTrip opens on MaxFailures consecutive failures, or when more than
// half of at least ten requests failed.
func (c *CircuitBreakerConfig) readyToTrip(counts Counts) bool {
	if c.ReadyToTrip != nil {
		return c.ReadyToTrip(counts)
	}
	if c.MaxFailures > 0 && counts.ConsecutiveFailures >= c.MaxFailures {
		return true
	}
	return counts.Requests >= 10 && counts.TotalFailures > counts.Requests/2
}

func (c *CircuitBreakerConfig) isFailure(err error) bool {
	if err == nil {
		return false
	}
	if c.IsFailure != nil {
		return c.IsFailure(err)
	}
	return true
}

// Counts are the request statistics of the current state. They reset on
// every transition.
type Counts struct {
	Requests             int64
	TotalSuccesses       int64
	TotalFailures        int64
	ConsecutiveSuccesses int64
	ConsecutiveFailures  int64
}

func (c *Counts) success() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) failure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// CircuitBreaker stops calling Redis after repeated failures so webhook
// requests fail fast with QueueUnavailable instead of waiting on retries.
type CircuitBreaker struct {
	name   string
	config *CircuitBreakerConfig
	logger *logging.Logger

	mu     sync.Mutex
	state  CircuitState
	counts Counts
	expiry time.Time
	// generation changes with every transition; results from an older
	// generation are dropped
	generation int64
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, config *CircuitBreakerConfig) *CircuitBreaker {
	if config == nil {
		config = DefaultCircuitBreakerConfig()
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		logger: logging.NewLogger("circuit-breaker"),
	}
}

// Execute runs fn unless the circuit is open. A done ctx skips fn and its
// error is recorded like one returned by fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) (err error) {
	generation, err := cb.admit()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.record(generation, false)
			panic(r)
		}
	}()

	if err := ctx.Err(); err != nil {
		cb.record(generation, !cb.config.isFailure(err))
		return err //nolint:wrapcheck // context.Err() doesn't need wrapping
	}

	err = fn()
	cb.record(generation, !cb.config.isFailure(err))
	return err
}

func (cb *CircuitBreaker) admit() (int64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.refresh(time.Now()) {
	case CircuitOpen:
		return cb.generation, ErrCircuitOpen
	case CircuitHalfOpen:
		if cb.counts.Requests > 0 {
			return cb.generation, fmt.Errorf("%w: half-open probe in flight", ErrCircuitOpen)
		}
	case CircuitClosed:
	}
	cb.counts.Requests++
	return cb.generation, nil
}

func (cb *CircuitBreaker) record(generation int64, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state := cb.refresh(now)
	if generation != cb.generation {
		return
	}

	if success {
		cb.counts.success()
		if state == CircuitHalfOpen {
			cb.transition(CircuitClosed, now)
		}
		return
	}

	cb.counts.failure()
	if state == CircuitHalfOpen || (state == CircuitClosed && cb.config.readyToTrip(cb.counts)) {
		cb.transition(CircuitOpen, now)
	}
}

// refresh moves an expired open circuit to half-open and returns the state
func (cb *CircuitBreaker) refresh(now time.Time) CircuitState {
	if cb.state == CircuitOpen && cb.expiry.Before(now) {
		cb.transition(CircuitHalfOpen, now)
	}
	return cb.state
}

func (cb *CircuitBreaker) transition(state CircuitState, now time.Time) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state
	cb.generation++
	cb.counts = Counts{}
	cb.expiry = time.Time{}
	if state == CircuitOpen {
		cb.expiry = now.Add(cb.config.Timeout)
	}

	cb.logger.Info("Circuit breaker '%s' changed state from %s to %s", cb.name, prev, state)
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, prev, state)
	}
}

// State returns the current circuit breaker state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.refresh(time.Now())
}

// Counts returns the counts of the current state
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}
