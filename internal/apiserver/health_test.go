package apiserver

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattiam/launchpad/internal/config"
	"github.com/lattiam/launchpad/internal/interfaces"
	"github.com/lattiam/launchpad/internal/mocks"
)

func TestSystemHealthEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("HealthySystem", func(t *testing.T) {
		t.Parallel()
		ts := newTestServer(t)

		rec := ts.do(t, http.MethodGet, "/api/v1/system/health", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var response map[string]interface{}
		decode(t, rec, &response)
		assert.Equal(t, "healthy", response["status"])
		assert.NotEmpty(t, response["time"])

		components := response["components"].(map[string]interface{})
		for _, name := range []string{"queue", "registry", "runStore", "workerPool"} {
			c, ok := components[name].(map[string]interface{})
			require.True(t, ok, name)
			assert.Equal(t, "healthy", c["status"], name)
		}
		registry := components["registry"].(map[string]interface{})
		assert.EqualValues(t, 2, registry["targets"])

		deployments := response["deployments"].(map[string]interface{})
		assert.Contains(t, deployments, "runs_submitted")
		assert.Contains(t, deployments, "active_runs")

		system := response["system"].(map[string]interface{})
		assert.Contains(t, system, "goroutines")
	})

	t.Run("DeepQueueDegrades", func(t *testing.T) {
		t.Parallel()
		ts := newTestServer(t)
		ts.queue.SetMetrics(interfaces.QueueMetrics{CurrentDepth: QueueDepthWarning + 1})

		rec := ts.do(t, http.MethodGet, "/api/v1/system/health", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var response map[string]interface{}
		decode(t, rec, &response)
		assert.Equal(t, "degraded", response["status"])
	})
}

func TestQueueMetricsEndpoint(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	oldest := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ts.queue.SetMetrics(interfaces.QueueMetrics{
		TotalEnqueued:   7,
		TotalDequeued:   5,
		CurrentDepth:    2,
		AverageWaitTime: 1500 * time.Millisecond,
		OldestRequest:   oldest,
	})

	rec := ts.do(t, http.MethodGet, "/api/v1/queue/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var response map[string]interface{}
	decode(t, rec, &response)
	assert.EqualValues(t, 7, response["total_enqueued"])
	assert.EqualValues(t, 2, response["current_depth"])
	assert.Equal(t, "1.5s", response["average_wait_time"])
	assert.Equal(t, oldest.Format(time.RFC3339), response["oldest_request"])
}

func TestOperationsEndpointsHidePaths(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, func(cfg *config.ServerConfig) {
		cfg.Debug = true
		cfg.Webhook.Secret = "s3cret"
	})

	for _, path := range []string{"/api/v1/system/config", "/api/v1/system/runtime", "/api/v1/system/disk-usage"} {
		rec := ts.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code, path)
		body := rec.Body.String()
		assert.NotContains(t, body, ts.cfg.DataDir, path)
		assert.NotContains(t, body, "s3cret", path)
	}

	rec := ts.do(t, http.MethodGet, "/api/v1/system/disk-usage", nil)
	var usage map[string]interface{}
	decode(t, rec, &usage)
	storage := usage["storage"].(map[string]interface{})
	assert.Contains(t, storage, "data")
	assert.Contains(t, storage, "artifacts")
}

func TestStatusForError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		kind interfaces.ErrorKind
		want int
	}{
		{interfaces.KindTargetBusy, http.StatusConflict},
		{interfaces.KindNotFound, http.StatusNotFound},
		{interfaces.KindInvalidInput, http.StatusBadRequest},
		{interfaces.KindQueueUnavailable, http.StatusServiceUnavailable},
		{interfaces.KindAuthentication, http.StatusUnauthorized},
		{interfaces.KindRemoteCommand, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _ := StatusForError(interfaces.NewError(tt.kind, "boom"))
		assert.Equal(t, tt.want, status, string(tt.kind))
	}
}

type breakerQueue struct {
	*mocks.MockTriggerQueue
	state string
}

func (q breakerQueue) BreakerState() string { return q.state }

func TestQueueHealthReportsBreaker(t *testing.T) {
	t.Parallel()

	s := &APIServer{queue: breakerQueue{MockTriggerQueue: mocks.NewMockTriggerQueue(), state: "closed"}}
	c := s.checkQueueHealth()
	assert.True(t, c.Healthy)
	assert.Equal(t, "closed", c.Details["circuit"])

	s.queue = breakerQueue{MockTriggerQueue: mocks.NewMockTriggerQueue(), state: "open"}
	c = s.checkQueueHealth()
	assert.False(t, c.Healthy)
	assert.Equal(t, "unhealthy", c.Details["status"])
}
