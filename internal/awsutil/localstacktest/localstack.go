// Package localstacktest starts disposable LocalStack containers for the
// integration tests of launchpad's AWS-backed components.
package localstacktest

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/localstack"

	"github.com/lattiam/launchpad/internal/awsutil"
)

const image = "localstack/localstack:3.8.1"

func init() {
	// t.Setenv would prevent t.Parallel
	_ = os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
}

// Container holds a running LocalStack and its edge endpoint
type Container struct {
	Container testcontainers.Container
	Endpoint  string
}

// Settings returns AWS settings pointing at the container
func (c *Container) Settings() awsutil.Settings {
	return awsutil.Settings{Region: "us-east-1", Endpoint: c.Endpoint}
}

// Setup starts LocalStack with the given services ("s3,dynamodb") and
// terminates it on cleanup. LAUNCHPAD_TEST_LOCALSTACK_URL points tests at an
// existing instance instead.
func Setup(t *testing.T, services string) *Container {
	t.Helper()

	if url := os.Getenv("LAUNCHPAD_TEST_LOCALSTACK_URL"); url != "" {
		return &Container{Endpoint: url}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := localstack.Run(ctx, image,
		testcontainers.WithEnv(map[string]string{
			"SERVICES": services,
			"DEBUG":    "0",
		}),
	)
	if err != nil {
		t.Fatalf("Failed to start LocalStack container: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cleanupCancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Failed to terminate LocalStack container: %v", err)
		}
	})

	mappedPort, err := container.MappedPort(ctx, "4566/tcp")
	if err != nil {
		t.Fatalf("Failed to get LocalStack port: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get LocalStack host: %v", err)
	}
	// Force IPv4 to avoid IPv6 issues in CI environments
	if host == "localhost" || host == "::1" {
		host = "127.0.0.1"
	}

	return &Container{
		Container: container,
		Endpoint:  fmt.Sprintf("http://%s:%s", host, mappedPort.Port()),
	}
}
