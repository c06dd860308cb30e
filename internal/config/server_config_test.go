package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServerConfig(t *testing.T) {
	t.Parallel()
	cfg := NewServerConfig()

	if cfg.Port != 8084 {
		t.Errorf("Expected default port 8084, got %d", cfg.Port)
	}
	assert.Equal(t, StoreTypeSQLite, cfg.Registry.Type)
	assert.Equal(t, StoreTypeSQLite, cfg.Runs.Type)
	assert.Equal(t, QueueTypeEmbedded, cfg.Queue.Type)
	assert.Equal(t, 2, cfg.Deploy.MaxRetries)
	assert.Equal(t, DefaultEC2GroupTag, cfg.Inventory.EC2.TagKey)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	// Cannot use t.Parallel() with t.Setenv()
	t.Setenv("LAUNCHPAD_PORT", "9090")
	t.Setenv("LAUNCHPAD_DEBUG", "yes")
	t.Setenv("LAUNCHPAD_REGISTRY", "dynamodb")
	t.Setenv("LAUNCHPAD_DYNAMODB_ENDPOINT", DefaultLocalStackURL)
	t.Setenv("LAUNCHPAD_MAX_RETRIES", "5")
	t.Setenv("LAUNCHPAD_BACKOFF_INITIAL", "250ms")
	t.Setenv("LAUNCHPAD_HEALTH_TIMEOUT", "2m")
	t.Setenv("LAUNCHPAD_SSH_INSECURE", "true")
	t.Setenv("LAUNCHPAD_WEBHOOK_SECRET", "s3cret")
	t.Setenv("LAUNCHPAD_EC2_DISCOVERY", "on")
	t.Setenv("LAUNCHPAD_EC2_GROUP", "web")

	cfg := NewServerConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, 9090, cfg.Port)
	assert.True(t, cfg.Debug)
	assert.Equal(t, StoreTypeDynamoDB, cfg.Registry.Type)
	assert.Equal(t, DefaultLocalStackURL, cfg.Registry.DynamoDB.Endpoint)
	assert.Equal(t, 5, cfg.Deploy.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Deploy.BackoffInitial)
	assert.Equal(t, 2*time.Minute, cfg.Health.Timeout)
	assert.True(t, cfg.SSH.Insecure)
	assert.Equal(t, "s3cret", cfg.Webhook.Secret)
	assert.True(t, cfg.Inventory.EC2.Enabled)
	assert.Equal(t, "web", cfg.Inventory.EC2.Group)
}

func TestInvalidEnvironmentVariables(t *testing.T) {
	// Cannot use t.Parallel() with t.Setenv()
	tests := []struct {
		name    string
		envVar  string
		value   string
		wantErr bool
	}{
		{name: "invalid port", envVar: "LAUNCHPAD_PORT", value: "not-a-number", wantErr: true},
		{name: "invalid debug", envVar: "LAUNCHPAD_DEBUG", value: "not-a-bool", wantErr: true},
		{name: "invalid duration", envVar: "LAUNCHPAD_HEALTH_INTERVAL", value: "soon", wantErr: true},
		{name: "valid string path", envVar: "LAUNCHPAD_DATA_DIR", value: "/valid/path", wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.envVar, tt.value)

			cfg := NewServerConfig()
			err := cfg.LoadFromEnv()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.envVar)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestExpandPaths(t *testing.T) {
	t.Parallel()
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("Cannot get home directory: %v", err)
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "home directory expansion", input: "~/test", expected: filepath.Join(home, "test")},
		{name: "absolute path unchanged", input: "/absolute/path", expected: "/absolute/path"},
		{name: "relative path unchanged", input: "relative/path", expected: "relative/path"},
		{name: "empty path unchanged", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := NewServerConfig()
			cfg.Inventory.Path = tt.input

			require.NoError(t, cfg.ExpandPaths())
			assert.Equal(t, tt.expected, cfg.Inventory.Path)
			assert.Equal(t, filepath.Join(home, ".launchpad", "launchpad.db"), cfg.Database)
			assert.NotEmpty(t, cfg.PIDFile)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		setupFunc func(*ServerConfig)
		errMsg    string
	}{
		{name: "valid config", setupFunc: func(_ *ServerConfig) {}},
		{name: "invalid port", setupFunc: func(c *ServerConfig) { c.Port = 70000 }, errMsg: "invalid port"},
		{name: "unknown registry", setupFunc: func(c *ServerConfig) { c.Registry.Type = "etcd" }, errMsg: "invalid registry type"},
		{name: "redis runs without url", setupFunc: func(c *ServerConfig) { c.Runs.Type = StoreTypeRedis }, errMsg: "redis URL is required"},
		{name: "distributed without url", setupFunc: func(c *ServerConfig) { c.Queue.Type = QueueTypeDistributed }, errMsg: "redis URL is required"},
		{name: "negative retries", setupFunc: func(c *ServerConfig) { c.Deploy.MaxRetries = -1 }, errMsg: "max retries"},
		{name: "zero parallelism", setupFunc: func(c *ServerConfig) { c.Deploy.Parallelism = 0 }, errMsg: "parallelism"},
		{name: "backoff cap below initial", setupFunc: func(c *ServerConfig) { c.Deploy.BackoffMax = time.Millisecond }, errMsg: "invalid backoff"},
		{name: "ec2 without group", setupFunc: func(c *ServerConfig) { c.Inventory.EC2.Enabled = true }, errMsg: "requires a group"},
		{name: "empty database", setupFunc: func(c *ServerConfig) { c.Database = "" }, errMsg: "database path"},
		{name: "memory stores need no database", setupFunc: func(c *ServerConfig) {
			c.Database = ""
			c.Registry.Type = StoreTypeMemory
			c.Runs.Type = StoreTypeMemory
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := NewServerConfig()
			tt.setupFunc(cfg)

			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestGetSanitized(t *testing.T) {
	t.Parallel()
	cfg := NewServerConfig()
	cfg.Webhook.Secret = "s3cret"
	cfg.Queue.RedisURL = "redis://:password@localhost:6379"

	sanitized := cfg.GetSanitized()
	assert.Equal(t, 8084, sanitized["port"])
	_, exists := sanitized["webhook_secret_configured"]
	assert.False(t, exists)

	cfg.Debug = true
	sanitized = cfg.GetSanitized()
	assert.Equal(t, true, sanitized["webhook_secret_configured"])
	assert.Equal(t, true, sanitized["redis_configured"])

	data, err := json.Marshal(sanitized)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "s3cret")
	assert.NotContains(t, string(data), "password")
}

func TestToJSONOmitsSecret(t *testing.T) {
	t.Parallel()
	cfg := NewServerConfig()
	cfg.Webhook.Secret = "s3cret"

	out := cfg.ToJSON()
	assert.False(t, strings.Contains(out, "s3cret"))
	assert.Contains(t, out, `"max_retries": 2`)
}
