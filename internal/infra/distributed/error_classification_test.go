package distributed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "read tcp 10.0.0.5:6379" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}

func TestErrorClassifier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		wantType  ErrorType
		retryable bool
	}{
		{"nil", nil, ErrorTypeUnknown, false},
		{"connection refused", errors.New("dial tcp 127.0.0.1:6379: connect: connection refused"), ErrorTypeConnectionRefused, true},
		{"io timeout", errors.New("read tcp: i/o timeout"), ErrorTypeTimeout, true},
		{"net timeout", fmt.Errorf("enqueue: %w", timeoutError{}), ErrorTypeTimeout, true},
		{"oom", errors.New("OOM command not allowed when used memory > 'maxmemory'"), ErrorTypeResourceExhausted, false},
		{"pool exhausted", errors.New("redis: connection pool exhausted"), ErrorTypeResourceExhausted, false},
		{"auth", errors.New("NOAUTH Authentication required"), ErrorTypeAuthentication, false},
		{"loading", errors.New("LOADING Redis is loading the dataset in memory"), ErrorTypeTransient, true},
		{"canceled", fmt.Errorf("enqueue: %w", context.Canceled), ErrorTypePermanent, false},
		{"closed client", redis.ErrClosed, ErrorTypePermanent, false},
		{"unknown", errors.New("something odd"), ErrorTypeUnknown, false},
	}

	classifier := NewErrorClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			info := classifier.Classify(tt.err)
			assert.Equal(t, tt.wantType, info.Type, info.Type.String())
			assert.Equal(t, tt.retryable, info.Retryable)
			assert.Equal(t, tt.retryable, classifier.IsRetryable(tt.err))
		})
	}
}

func TestErrorClassifierBackoff(t *testing.T) {
	t.Parallel()
	classifier := NewErrorClassifier()

	assert.Equal(t, time.Second, classifier.Classify(errors.New("connection refused")).MinBackoff)
	assert.Zero(t, classifier.Classify(errors.New("WRONGPASS invalid username-password pair")).MinBackoff)
	assert.Equal(t, "connection_refused", ErrorTypeConnectionRefused.String())
	assert.Equal(t, "unknown", ErrorType(42).String())
}
