// Package testutil starts disposable Redis servers for integration tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func init() {
	// t.Setenv would prevent t.Parallel
	_ = os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
}

// RedisContainer holds the test Redis container and its URL
type RedisContainer struct {
	Container testcontainers.Container
	URL       string
}

// SetupRedis starts a Redis container for the test and terminates it on cleanup.
// LAUNCHPAD_TEST_REDIS_URL points tests at an existing server instead; that
// server is flushed before use.
func SetupRedis(t *testing.T) *RedisContainer {
	t.Helper()

	if url := os.Getenv("LAUNCHPAD_TEST_REDIS_URL"); url != "" {
		flush(t, url)
		return &RedisContainer{URL: url}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(15 * time.Second),
			Cmd:          []string{"redis-server", "--loglevel", "notice", "--maxmemory", "100mb"},
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cleanupCancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Failed to terminate Redis container: %v", err)
		}
	})

	host, port, err := getContainerConnection(ctx, container)
	if err != nil {
		t.Fatalf("Failed to get Redis connection details: %v", err)
	}

	return &RedisContainer{
		Container: container,
		URL:       fmt.Sprintf("redis://%s:%s", host, port),
	}
}

// NewClient returns a go-redis client for the container, closed on cleanup
func (r *RedisContainer) NewClient(t *testing.T) *redis.Client {
	t.Helper()
	opts, err := redis.ParseURL(r.URL)
	if err != nil {
		t.Fatalf("Failed to parse Redis URL: %v", err)
	}
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func flush(t *testing.T, url string) {
	t.Helper()
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("Failed to parse Redis URL: %v", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()
	if err := client.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("Failed to flush Redis: %v", err)
	}
}

// getContainerConnection retrieves host and port with retries
func getContainerConnection(ctx context.Context, container testcontainers.Container) (string, string, error) {
	const maxRetries = 3
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		host, err := container.Host(ctx)
		if err == nil {
			// Force IPv4 to avoid IPv6 issues in CI environments
			if host == "localhost" || host == "::1" || host == "[::1]" {
				host = "127.0.0.1"
			}
			mapped, perr := container.MappedPort(ctx, "6379")
			if perr == nil {
				return host, mapped.Port(), nil
			}
			err = perr
		}
		lastErr = err
		time.Sleep(time.Duration(i+1) * 200 * time.Millisecond)
	}
	return "", "", fmt.Errorf("failed to get Redis endpoint after %d retries: %w", maxRetries, lastErr)
}
