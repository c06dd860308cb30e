package distributed

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrorType groups Redis failures by how an enqueue should react to them
type ErrorType int

const (
	// ErrorTypeUnknown is not retried
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypePermanent covers a closed client or a caller that gave up
	ErrorTypePermanent
	// ErrorTypeConnectionRefused means Redis could not be reached
	ErrorTypeConnectionRefused
	// ErrorTypeTimeout means Redis did not answer in time
	ErrorTypeTimeout
	// ErrorTypeResourceExhausted means Redis refused writes under memory or connection limits
	ErrorTypeResourceExhausted
	// ErrorTypeAuthentication means the Redis credentials were rejected
	ErrorTypeAuthentication
	// ErrorTypeTransient covers replies that ask the client to try again
	ErrorTypeTransient
)

var errorTypeNames = map[ErrorType]string{
	ErrorTypeUnknown:           "unknown",
	ErrorTypePermanent:         "permanent",
	ErrorTypeConnectionRefused: "connection_refused",
	ErrorTypeTimeout:           "timeout",
	ErrorTypeResourceExhausted: "resource_exhausted",
	ErrorTypeAuthentication:    "authentication",
	ErrorTypeTransient:         "transient",
}

// String returns the string representation of ErrorType
func (et ErrorType) String() string {
	if name, ok := errorTypeNames[et]; ok {
		return name
	}
	return "unknown"
}

// ErrorInfo is the classification of one enqueue failure. MinBackoff is the
// shortest delay worth waiting before the next attempt.
type ErrorInfo struct {
	Type        ErrorType
	Retryable   bool
	MinBackoff  time.Duration
	Description string
}

// classificationRule matches lower-cased error text. Rules are checked in order.
type classificationRule struct {
	patterns []string
	info     ErrorInfo
}

var classificationRules = []classificationRule{
	{
		// Exhaustion first: "connection pool exhausted" is not a refused connection
		patterns: []string{"oom command not allowed", "maxmemory", "out of memory", "connection pool exhausted", "too many connections", "max number of clients"},
		info:     ErrorInfo{Type: ErrorTypeResourceExhausted, Retryable: false, MinBackoff: 5 * time.Second, Description: "Redis memory or connection limit"},
	},
	{
		patterns: []string{"connection refused", "connection reset by peer", "no route to host", "network is unreachable", "no such host"},
		info:     ErrorInfo{Type: ErrorTypeConnectionRefused, Retryable: true, MinBackoff: time.Second, Description: "Redis unreachable"},
	},
	{
		patterns: []string{"i/o timeout", "deadline exceeded", "timeout"},
		info:     ErrorInfo{Type: ErrorTypeTimeout, Retryable: true, MinBackoff: 100 * time.Millisecond, Description: "Redis timeout"},
	},
	{
		patterns: []string{"noauth", "wrongpass", "invalid username-password", "noperm"},
		info:     ErrorInfo{Type: ErrorTypeAuthentication, Retryable: false, Description: "Redis rejected the credentials"},
	},
	{
		patterns: []string{"loading", "tryagain", "try again", "busy", "masterdown", "readonly", "broken pipe"},
		info:     ErrorInfo{Type: ErrorTypeTransient, Retryable: true, MinBackoff: 500 * time.Millisecond, Description: "Redis asked to retry"},
	},
}

// ErrorClassifier decides whether a failed enqueue is worth retrying
type ErrorClassifier struct{}

// NewErrorClassifier creates a new error classifier
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// Classify categorizes an enqueue error
func (ec *ErrorClassifier) Classify(err error) *ErrorInfo {
	switch {
	case err == nil:
		return &ErrorInfo{Type: ErrorTypeUnknown}
	case errors.Is(err, context.Canceled):
		return &ErrorInfo{Type: ErrorTypePermanent, Description: "caller gave up"}
	case errors.Is(err, redis.ErrClosed):
		return &ErrorInfo{Type: ErrorTypePermanent, Description: "Redis client closed"}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ErrorInfo{Type: ErrorTypeTimeout, Retryable: true, MinBackoff: 100 * time.Millisecond, Description: "Redis timeout"}
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range classificationRules {
		for _, pattern := range rule.patterns {
			if strings.Contains(msg, pattern) {
				info := rule.info
				return &info
			}
		}
	}
	return &ErrorInfo{Type: ErrorTypeUnknown, Description: "unclassified error"}
}

// IsRetryable reports whether err is worth another enqueue attempt
func (ec *ErrorClassifier) IsRetryable(err error) bool {
	return ec.Classify(err).Retryable
}
