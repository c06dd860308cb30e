package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"

	"github.com/lattiam/launchpad/internal/awsutil"
)

// SecretsManagerAPI is the subset of the Secrets Manager client used here
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// DefaultSecretTTL is how long a fetched key is reused
const DefaultSecretTTL = 5 * time.Minute

// ErrSecretNotFound is returned when the secret does not exist
var ErrSecretNotFound = errors.New("secret not found")

type cachedSecret struct {
	value   string
	fetched time.Time
}

// SecretsManagerSource reads SSH keys from AWS Secrets Manager with a short-lived cache
type SecretsManagerSource struct {
	api SecretsManagerAPI
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	cache map[string]cachedSecret
}

// NewSecretsManagerSource creates a source backed by the real service
func NewSecretsManagerSource(ctx context.Context, settings awsutil.Settings) (*SecretsManagerSource, error) {
	awsCfg, err := awsutil.LoadConfig(ctx, settings)
	if err != nil {
		return nil, err
	}
	client := secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		o.BaseEndpoint = awsutil.Endpoint(settings.Endpoint)
	})
	return NewSecretsManagerSourceWithClient(client, DefaultSecretTTL), nil
}

// NewSecretsManagerSourceWithClient creates a source on an existing client
func NewSecretsManagerSourceWithClient(api SecretsManagerAPI, ttl time.Duration) *SecretsManagerSource {
	return &SecretsManagerSource{api: api, ttl: ttl, now: time.Now, cache: make(map[string]cachedSecret)}
}

// GetSecret returns the secret string (or binary) value of name
func (s *SecretsManagerSource) GetSecret(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("secret name cannot be empty")
	}

	s.mu.Lock()
	if c, ok := s.cache[name]; ok && s.now().Sub(c.fetched) < s.ttl {
		s.mu.Unlock()
		return c.value, nil
	}
	s.mu.Unlock()

	out, err := s.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(name)})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ResourceNotFoundException" {
			return "", fmt.Errorf("%s: %w", name, ErrSecretNotFound)
		}
		return "", fmt.Errorf("get secret %s: %w", name, err)
	}

	var value string
	switch {
	case out.SecretString != nil:
		value = *out.SecretString
	case out.SecretBinary != nil:
		value = string(out.SecretBinary)
	default:
		return "", fmt.Errorf("secret %s has no value", name)
	}

	s.mu.Lock()
	s.cache[name] = cachedSecret{value: value, fetched: s.now()}
	s.mu.Unlock()
	return value, nil
}
