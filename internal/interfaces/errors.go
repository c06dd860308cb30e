package interfaces

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies deployment failures
type ErrorKind string

// ErrorKind constants
const (
	KindStaging          ErrorKind = "StagingError"
	KindConnectivity     ErrorKind = "ConnectivityError"
	KindAuthentication   ErrorKind = "AuthenticationError"
	KindRemoteCommand    ErrorKind = "RemoteCommandError"
	KindHealthTimeout    ErrorKind = "HealthCheckTimeout"
	KindTargetBusy       ErrorKind = "TargetBusy"
	KindFatalFailure     ErrorKind = "FatalFailure"
	KindNotFound         ErrorKind = "NotFound"
	KindInvalidInput     ErrorKind = "InvalidInput"
	KindQueueUnavailable ErrorKind = "QueueUnavailable"
	KindInternal         ErrorKind = "Internal"
)

// DeployError is the structured error carried through runs and surfaced by the API and CLI
type DeployError struct {
	Kind    ErrorKind
	Code    string // machine-readable, e.g. TARGET_BUSY
	Target  string
	Stage   StageName
	Message string
	Stderr  string
	Err     error
}

// Error implements the error interface
func (e *DeployError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Target != "" {
		fmt.Fprintf(&b, " [target %s", e.Target)
		if e.Stage != "" {
			fmt.Fprintf(&b, ", stage %s", e.Stage)
		}
		b.WriteString("]")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause
func (e *DeployError) Unwrap() error {
	return e.Err
}

// Is matches another *DeployError with the same kind, so sentinel values work with errors.Is
func (e *DeployError) Is(target error) bool {
	var other *DeployError
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind && (other.Target == "" || other.Target == e.Target)
}

var kindCodes = map[ErrorKind]string{
	KindStaging:          "STAGING_ERROR",
	KindConnectivity:     "CONNECTIVITY_ERROR",
	KindAuthentication:   "AUTHENTICATION_ERROR",
	KindRemoteCommand:    "REMOTE_COMMAND_ERROR",
	KindHealthTimeout:    "HEALTH_CHECK_TIMEOUT",
	KindTargetBusy:       "TARGET_BUSY",
	KindFatalFailure:     "FATAL_FAILURE",
	KindNotFound:         "NOT_FOUND",
	KindInvalidInput:     "INVALID_INPUT",
	KindQueueUnavailable: "QUEUE_UNAVAILABLE",
	KindInternal:         "INTERNAL_ERROR",
}

// CodeFor returns the machine-readable code of a kind
func CodeFor(kind ErrorKind) string {
	if code, ok := kindCodes[kind]; ok {
		return code
	}
	return kindCodes[KindInternal]
}

// NewError builds a DeployError of the given kind
func NewError(kind ErrorKind, format string, args ...interface{}) *DeployError {
	return &DeployError{
		Kind:    kind,
		Code:    CodeFor(kind),
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError builds a DeployError of the given kind around err
func WrapError(kind ErrorKind, err error, format string, args ...interface{}) *DeployError {
	e := NewError(kind, format, args...)
	e.Err = err
	return e
}

// WithTarget returns a copy annotated with target and stage
func (e *DeployError) WithTarget(target string, stage StageName) *DeployError {
	c := *e
	c.Target = target
	c.Stage = stage
	return &c
}

// Sentinel errors for errors.Is comparisons
var (
	ErrTargetBusy       = &DeployError{Kind: KindTargetBusy, Code: "TARGET_BUSY"}
	ErrNotFound         = &DeployError{Kind: KindNotFound, Code: "NOT_FOUND"}
	ErrQueueUnavailable = &DeployError{Kind: KindQueueUnavailable, Code: "QUEUE_UNAVAILABLE"}
	ErrInvalidInput     = &DeployError{Kind: KindInvalidInput, Code: "INVALID_INPUT"}
	ErrHealthTimeout    = &DeployError{Kind: KindHealthTimeout, Code: "HEALTH_CHECK_TIMEOUT"}

	// ErrRevisionConflict is returned by registry Swap when the expected revision is stale
	ErrRevisionConflict = errors.New("registry revision conflict")
)

// AsDeployError extracts a *DeployError from the chain
func AsDeployError(err error) (*DeployError, bool) {
	var de *DeployError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// KindOf returns the kind of the first DeployError in the chain, or KindInternal
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if de, ok := AsDeployError(err); ok {
		return de.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries a DeployError of the given kind
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether a stage that failed with err may be attempted again
func IsRetryable(err error) bool {
	return IsKind(err, KindConnectivity)
}
