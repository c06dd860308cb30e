// Package awsutil loads AWS SDK configuration for launchpad's AWS-backed components
package awsutil

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// Settings identifies the region and optional endpoint override of one AWS service
type Settings struct {
	Region   string
	Endpoint string
}

// IsLocalEndpoint reports whether endpoint points at LocalStack or another local emulator
func IsLocalEndpoint(endpoint string) bool {
	if os.Getenv("LAUNCHPAD_USE_LOCALSTACK") == "true" {
		return true
	}
	lower := strings.ToLower(endpoint)
	return strings.Contains(lower, "localstack") ||
		strings.Contains(lower, "localhost") ||
		strings.Contains(lower, "127.0.0.1")
}

// LoadConfig loads the default AWS configuration for s. Local endpoints get
// static test credentials so no real account is needed.
func LoadConfig(ctx context.Context, s Settings) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if s.Region != "" {
		opts = append(opts, config.WithRegion(s.Region))
	}
	if s.Endpoint != "" && IsLocalEndpoint(s.Endpoint) {
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
		)
		if s.Region == "" {
			opts = append(opts, config.WithRegion("us-east-1"))
		}
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}

// Endpoint returns a pointer suitable for a client's BaseEndpoint option, or nil
func Endpoint(endpoint string) *string {
	if endpoint == "" {
		return nil
	}
	return aws.String(endpoint)
}
