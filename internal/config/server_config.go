// Package config holds launchpad's runtime configuration
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// AppVersion is the application version, can be set at build time
var AppVersion = "dev"

// ServerConfig holds all configuration for launchpad, shared by the CLI and the server
type ServerConfig struct {
	// Server settings
	Port    int    `json:"port" env:"LAUNCHPAD_PORT" default:"8084" desc:"Server port"`
	Debug   bool   `json:"debug" env:"LAUNCHPAD_DEBUG" default:"false" desc:"Enable debug mode"`
	DataDir string `json:"data_dir" env:"LAUNCHPAD_DATA_DIR" default:"~/.launchpad" desc:"Local state directory"`
	PIDFile string `json:"pid_file" env:"LAUNCHPAD_PID_FILE" default:"" desc:"PID file path"`

	// Database is the SQLite file shared by the sqlite registry and run store
	Database string `json:"database" env:"LAUNCHPAD_DATABASE" default:"~/.launchpad/launchpad.db" desc:"SQLite database path"`

	Registry  RegistryConfig  `json:"registry"`
	Runs      RunStoreConfig  `json:"runs"`
	Queue     QueueConfig     `json:"queue"`
	Inventory InventoryConfig `json:"inventory"`
	Artifacts ArtifactConfig  `json:"artifacts"`
	Deploy    DeployConfig    `json:"deploy"`
	Health    HealthConfig    `json:"health"`
	SSH       SSHConfig       `json:"ssh"`
	Secrets   SecretsConfig   `json:"secrets"`
	Webhook   WebhookConfig   `json:"webhook"`
}

// RegistryConfig selects the target registry backend
type RegistryConfig struct {
	Type     string         `json:"type" env:"LAUNCHPAD_REGISTRY" default:"sqlite" desc:"Registry backend (memory, sqlite, dynamodb)"`
	DynamoDB DynamoDBConfig `json:"dynamodb"`
}

// DynamoDBConfig holds the DynamoDB registry table settings
type DynamoDBConfig struct {
	Table    string `json:"table" env:"LAUNCHPAD_DYNAMODB_TABLE" default:"launchpad-targets" desc:"DynamoDB table for target records"`
	Region   string `json:"region" env:"LAUNCHPAD_DYNAMODB_REGION" desc:"AWS region for the table"`
	Endpoint string `json:"endpoint" env:"LAUNCHPAD_DYNAMODB_ENDPOINT" desc:"Custom DynamoDB endpoint (for LocalStack)"`
}

// RunStoreConfig selects where run snapshots are kept
type RunStoreConfig struct {
	Type string        `json:"type" env:"LAUNCHPAD_RUN_STORE" default:"sqlite" desc:"Run store backend (memory, sqlite, redis)"`
	TTL  time.Duration `json:"ttl" env:"LAUNCHPAD_RUN_TTL" default:"168h" desc:"Retention of run snapshots in redis"`
}

// QueueConfig holds trigger queue configuration
type QueueConfig struct {
	Type     string `json:"type" env:"LAUNCHPAD_QUEUE_TYPE" default:"embedded" desc:"Queue type (embedded, distributed)"`
	RedisURL string `json:"redis_url" env:"LAUNCHPAD_REDIS_URL" default:"" desc:"Redis URL for distributed mode and the redis run store"`
	Workers  int    `json:"workers" env:"LAUNCHPAD_QUEUE_WORKERS" default:"2" desc:"Trigger workers"`
	Capacity int    `json:"capacity" env:"LAUNCHPAD_QUEUE_CAPACITY" default:"100" desc:"Embedded queue capacity"`
}

// InventoryConfig points at the target inventory
type InventoryConfig struct {
	Path string             `json:"path" env:"LAUNCHPAD_INVENTORY" default:"" desc:"Inventory file (.yaml, .yml, .toml)"`
	EC2  EC2DiscoveryConfig `json:"ec2"`
}

// EC2DiscoveryConfig enables target discovery from EC2 instance tags
type EC2DiscoveryConfig struct {
	Enabled  bool   `json:"enabled" env:"LAUNCHPAD_EC2_DISCOVERY" default:"false" desc:"Discover targets from EC2"`
	Region   string `json:"region" env:"LAUNCHPAD_EC2_REGION" desc:"AWS region"`
	Endpoint string `json:"endpoint" env:"LAUNCHPAD_EC2_ENDPOINT" desc:"Custom EC2 endpoint (for LocalStack)"`
	TagKey   string `json:"tag_key" env:"LAUNCHPAD_EC2_TAG_KEY" default:"launchpad:group" desc:"Instance tag carrying the group"`
	Group    string `json:"group" env:"LAUNCHPAD_EC2_GROUP" desc:"Tag value to match"`
	AppDir   string `json:"app_dir" env:"LAUNCHPAD_EC2_APP_DIR" default:"/opt/app" desc:"App directory for discovered targets"`
	AuthRef  string `json:"auth_ref" env:"LAUNCHPAD_EC2_AUTH_REF" desc:"Auth reference for discovered targets"`
}

// ArtifactConfig configures staging
type ArtifactConfig struct {
	WorkDir string          `json:"work_dir" env:"LAUNCHPAD_ARTIFACT_DIR" default:"~/.launchpad/artifacts" desc:"Staging directory"`
	Sources string          `json:"sources" env:"LAUNCHPAD_SOURCE_DIR" default:"~/.launchpad/sources" desc:"Checkout directory for fetched revisions"`
	S3      S3ArchiveConfig `json:"s3"`
}

// S3ArchiveConfig enables copying staged bundles to S3
type S3ArchiveConfig struct {
	Bucket   string `json:"bucket" env:"LAUNCHPAD_S3_BUCKET" desc:"Bucket for archived bundles; empty disables"`
	Region   string `json:"region" env:"LAUNCHPAD_S3_REGION" desc:"AWS region for the bucket"`
	Prefix   string `json:"prefix" env:"LAUNCHPAD_S3_PREFIX" default:"artifacts/" desc:"Key prefix"`
	Endpoint string `json:"endpoint" env:"LAUNCHPAD_S3_ENDPOINT" desc:"Custom S3 endpoint (for LocalStack)"`
}

// DeployConfig tunes the orchestrator
type DeployConfig struct {
	MaxRetries       int           `json:"max_retries" env:"LAUNCHPAD_MAX_RETRIES" default:"2" desc:"Retries of a stage after a connectivity error"`
	BackoffInitial   time.Duration `json:"backoff_initial" env:"LAUNCHPAD_BACKOFF_INITIAL" default:"1s" desc:"First retry delay"`
	BackoffMax       time.Duration `json:"backoff_max" env:"LAUNCHPAD_BACKOFF_MAX" default:"30s" desc:"Retry delay cap"`
	OperationTimeout time.Duration `json:"operation_timeout" env:"LAUNCHPAD_OPERATION_TIMEOUT" default:"10m" desc:"Timeout of one remote operation"`
	Parallelism      int           `json:"parallelism" env:"LAUNCHPAD_PARALLELISM" default:"4" desc:"Targets deployed concurrently per run"`
}

// HealthConfig sets defaults for probes that do not specify their own
type HealthConfig struct {
	Interval    time.Duration `json:"interval" env:"LAUNCHPAD_HEALTH_INTERVAL" default:"2s" desc:"Poll interval"`
	Timeout     time.Duration `json:"timeout" env:"LAUNCHPAD_HEALTH_TIMEOUT" default:"60s" desc:"Overall verification deadline"`
	PollTimeout time.Duration `json:"poll_timeout" env:"LAUNCHPAD_HEALTH_POLL_TIMEOUT" default:"5s" desc:"Timeout of one probe"`
}

// SSHConfig holds transport settings
type SSHConfig struct {
	KnownHosts     string        `json:"known_hosts" env:"LAUNCHPAD_SSH_KNOWN_HOSTS" default:"~/.ssh/known_hosts" desc:"known_hosts file"`
	Insecure       bool          `json:"insecure" env:"LAUNCHPAD_SSH_INSECURE" default:"false" desc:"Skip host key verification"`
	ConnectTimeout time.Duration `json:"connect_timeout" env:"LAUNCHPAD_SSH_CONNECT_TIMEOUT" default:"10s" desc:"Dial and handshake timeout"`
	DefaultUser    string        `json:"default_user" env:"LAUNCHPAD_SSH_USER" default:"ubuntu" desc:"User for targets without one"`
	DefaultAuthRef string        `json:"default_auth_ref" env:"LAUNCHPAD_SSH_AUTH" default:"agent:" desc:"Auth reference for targets without one"`
}

// SecretsConfig configures AWS Secrets Manager for aws-sm: auth references
type SecretsConfig struct {
	Region   string `json:"region" env:"LAUNCHPAD_SECRETS_REGION" desc:"AWS region"`
	Endpoint string `json:"endpoint" env:"LAUNCHPAD_SECRETS_ENDPOINT" desc:"Custom endpoint (for LocalStack)"`
}

// WebhookConfig holds trigger gateway settings
type WebhookConfig struct {
	Secret string `json:"-" env:"LAUNCHPAD_WEBHOOK_SECRET" desc:"HMAC secret for X-Hub-Signature-256"`
}

// NewServerConfig creates a new configuration with defaults
func NewServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:     8084,
		DataDir:  "~/.launchpad",
		Database: "~/.launchpad/launchpad.db",
		Registry: RegistryConfig{
			Type: StoreTypeSQLite,
			DynamoDB: DynamoDBConfig{
				Table: "launchpad-targets",
			},
		},
		Runs: RunStoreConfig{
			Type: StoreTypeSQLite,
			TTL:  7 * 24 * time.Hour,
		},
		Queue: QueueConfig{
			Type:     QueueTypeEmbedded,
			Workers:  2,
			Capacity: 100,
		},
		Inventory: InventoryConfig{
			EC2: EC2DiscoveryConfig{
				TagKey: DefaultEC2GroupTag,
				AppDir: "/opt/app",
			},
		},
		Artifacts: ArtifactConfig{
			WorkDir: "~/.launchpad/artifacts",
			Sources: "~/.launchpad/sources",
			S3: S3ArchiveConfig{
				Prefix: "artifacts/",
			},
		},
		Deploy: DeployConfig{
			MaxRetries:       2,
			BackoffInitial:   time.Second,
			BackoffMax:       30 * time.Second,
			OperationTimeout: 10 * time.Minute,
			Parallelism:      4,
		},
		Health: HealthConfig{
			Interval:    2 * time.Second,
			Timeout:     60 * time.Second,
			PollTimeout: 5 * time.Second,
		},
		SSH: SSHConfig{
			KnownHosts:     "~/.ssh/known_hosts",
			ConnectTimeout: 10 * time.Second,
			DefaultUser:    "ubuntu",
			DefaultAuthRef: "agent:",
		},
	}
}

// LoadFromEnv loads configuration from LAUNCHPAD_* environment variables
func (c *ServerConfig) LoadFromEnv() error { //nolint:funlen,gocyclo // one branch per variable
	var errs []string
	intVar := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("invalid %s value: %s", name, v))
				return
			}
			*dst = n
		}
	}
	durationVar := func(name string, dst *time.Duration) {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("invalid %s value: %s", name, v))
				return
			}
			*dst = d
		}
	}
	boolVar := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			b, ok := parseBool(v)
			if !ok {
				errs = append(errs, fmt.Sprintf("invalid %s value: %s", name, v))
				return
			}
			*dst = b
		}
	}
	stringVar := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	intVar("LAUNCHPAD_PORT", &c.Port)
	boolVar("LAUNCHPAD_DEBUG", &c.Debug)
	stringVar("LAUNCHPAD_DATA_DIR", &c.DataDir)
	stringVar("LAUNCHPAD_PID_FILE", &c.PIDFile)
	stringVar("LAUNCHPAD_DATABASE", &c.Database)

	stringVar("LAUNCHPAD_REGISTRY", &c.Registry.Type)
	stringVar("LAUNCHPAD_DYNAMODB_TABLE", &c.Registry.DynamoDB.Table)
	stringVar("LAUNCHPAD_DYNAMODB_REGION", &c.Registry.DynamoDB.Region)
	stringVar("LAUNCHPAD_DYNAMODB_ENDPOINT", &c.Registry.DynamoDB.Endpoint)

	stringVar("LAUNCHPAD_RUN_STORE", &c.Runs.Type)
	durationVar("LAUNCHPAD_RUN_TTL", &c.Runs.TTL)

	stringVar("LAUNCHPAD_QUEUE_TYPE", &c.Queue.Type)
	stringVar("LAUNCHPAD_REDIS_URL", &c.Queue.RedisURL)
	intVar("LAUNCHPAD_QUEUE_WORKERS", &c.Queue.Workers)
	intVar("LAUNCHPAD_QUEUE_CAPACITY", &c.Queue.Capacity)

	stringVar("LAUNCHPAD_INVENTORY", &c.Inventory.Path)
	boolVar("LAUNCHPAD_EC2_DISCOVERY", &c.Inventory.EC2.Enabled)
	stringVar("LAUNCHPAD_EC2_REGION", &c.Inventory.EC2.Region)
	stringVar("LAUNCHPAD_EC2_ENDPOINT", &c.Inventory.EC2.Endpoint)
	stringVar("LAUNCHPAD_EC2_TAG_KEY", &c.Inventory.EC2.TagKey)
	stringVar("LAUNCHPAD_EC2_GROUP", &c.Inventory.EC2.Group)
	stringVar("LAUNCHPAD_EC2_APP_DIR", &c.Inventory.EC2.AppDir)
	stringVar("LAUNCHPAD_EC2_AUTH_REF", &c.Inventory.EC2.AuthRef)

	stringVar("LAUNCHPAD_ARTIFACT_DIR", &c.Artifacts.WorkDir)
	stringVar("LAUNCHPAD_SOURCE_DIR", &c.Artifacts.Sources)
	stringVar("LAUNCHPAD_S3_BUCKET", &c.Artifacts.S3.Bucket)
	stringVar("LAUNCHPAD_S3_REGION", &c.Artifacts.S3.Region)
	stringVar("LAUNCHPAD_S3_PREFIX", &c.Artifacts.S3.Prefix)
	stringVar("LAUNCHPAD_S3_ENDPOINT", &c.Artifacts.S3.Endpoint)

	intVar("LAUNCHPAD_MAX_RETRIES", &c.Deploy.MaxRetries)
	durationVar("LAUNCHPAD_BACKOFF_INITIAL", &c.Deploy.BackoffInitial)
	durationVar("LAUNCHPAD_BACKOFF_MAX", &c.Deploy.BackoffMax)
	durationVar("LAUNCHPAD_OPERATION_TIMEOUT", &c.Deploy.OperationTimeout)
	intVar("LAUNCHPAD_PARALLELISM", &c.Deploy.Parallelism)

	durationVar("LAUNCHPAD_HEALTH_INTERVAL", &c.Health.Interval)
	durationVar("LAUNCHPAD_HEALTH_TIMEOUT", &c.Health.Timeout)
	durationVar("LAUNCHPAD_HEALTH_POLL_TIMEOUT", &c.Health.PollTimeout)

	stringVar("LAUNCHPAD_SSH_KNOWN_HOSTS", &c.SSH.KnownHosts)
	boolVar("LAUNCHPAD_SSH_INSECURE", &c.SSH.Insecure)
	durationVar("LAUNCHPAD_SSH_CONNECT_TIMEOUT", &c.SSH.ConnectTimeout)
	stringVar("LAUNCHPAD_SSH_USER", &c.SSH.DefaultUser)
	stringVar("LAUNCHPAD_SSH_AUTH", &c.SSH.DefaultAuthRef)

	stringVar("LAUNCHPAD_SECRETS_REGION", &c.Secrets.Region)
	stringVar("LAUNCHPAD_SECRETS_ENDPOINT", &c.Secrets.Endpoint)

	stringVar("LAUNCHPAD_WEBHOOK_SECRET", &c.Webhook.Secret)

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// ExpandPaths expands all paths in the configuration (~ to home directory)
func (c *ServerConfig) ExpandPaths() error {
	paths := []struct {
		name string
		dst  *string
	}{
		{"data_dir", &c.DataDir},
		{"database", &c.Database},
		{"inventory", &c.Inventory.Path},
		{"artifacts.work_dir", &c.Artifacts.WorkDir},
		{"artifacts.sources", &c.Artifacts.Sources},
		{"ssh.known_hosts", &c.SSH.KnownHosts},
	}
	for _, p := range paths {
		expanded, err := expandPath(*p.dst)
		if err != nil {
			return fmt.Errorf("failed to expand %s: %w", p.name, err)
		}
		*p.dst = expanded
	}

	if c.PIDFile == "" {
		c.PIDFile = filepath.Join(os.TempDir(), "launchpad-server.pid")
	} else {
		expanded, err := expandPath(c.PIDFile)
		if err != nil {
			return fmt.Errorf("failed to expand pid_file: %w", err)
		}
		c.PIDFile = expanded
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *ServerConfig) Validate() error { //nolint:gocyclo // flat list of checks
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}

	switch c.Registry.Type {
	case StoreTypeMemory, StoreTypeSQLite:
	case StoreTypeDynamoDB:
		if c.Registry.DynamoDB.Table == "" {
			return fmt.Errorf("DynamoDB table is required when using the dynamodb registry")
		}
	default:
		return fmt.Errorf("invalid registry type: %s", c.Registry.Type)
	}

	switch c.Runs.Type {
	case StoreTypeMemory, StoreTypeSQLite:
	case StoreTypeRedis:
		if c.Queue.RedisURL == "" {
			return fmt.Errorf("redis URL is required when using the redis run store")
		}
	default:
		return fmt.Errorf("invalid run store type: %s", c.Runs.Type)
	}

	if (c.Registry.Type == StoreTypeSQLite || c.Runs.Type == StoreTypeSQLite) && c.Database == "" {
		return fmt.Errorf("database path cannot be empty for sqlite stores")
	}

	switch c.Queue.Type {
	case QueueTypeEmbedded:
		if c.Queue.Capacity < 1 {
			return fmt.Errorf("queue capacity must be positive")
		}
	case QueueTypeDistributed:
		if c.Queue.RedisURL == "" {
			return fmt.Errorf("redis URL is required for distributed queue")
		}
	default:
		return fmt.Errorf("invalid queue type: %s", c.Queue.Type)
	}
	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue workers must be positive")
	}

	if c.Inventory.EC2.Enabled && c.Inventory.EC2.Group == "" {
		return fmt.Errorf("EC2 discovery requires a group")
	}

	if c.Deploy.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.Deploy.Parallelism < 1 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.Deploy.BackoffInitial <= 0 || c.Deploy.BackoffMax < c.Deploy.BackoffInitial {
		return fmt.Errorf("invalid backoff: initial %s, max %s", c.Deploy.BackoffInitial, c.Deploy.BackoffMax)
	}
	if c.Deploy.OperationTimeout <= 0 {
		return fmt.Errorf("operation timeout must be positive")
	}

	if c.Health.Interval <= 0 || c.Health.Timeout <= 0 || c.Health.PollTimeout <= 0 {
		return fmt.Errorf("health interval, timeout and poll timeout must be positive")
	}
	if c.SSH.ConnectTimeout <= 0 {
		return fmt.Errorf("ssh connect timeout must be positive")
	}

	return nil
}

// ToJSON returns the configuration as a JSON string. Secrets are never serialized.
func (c *ServerConfig) ToJSON() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// GetSanitized returns a sanitized version of the config safe for logging
func (c *ServerConfig) GetSanitized() map[string]interface{} {
	sanitized := map[string]interface{}{
		"port":       c.Port,
		"debug":      c.Debug,
		"registry":   c.Registry.Type,
		"run_store":  c.Runs.Type,
		"queue_type": c.Queue.Type,
	}

	if c.Debug {
		sanitized["inventory_configured"] = c.Inventory.Path != ""
		sanitized["ec2_discovery"] = c.Inventory.EC2.Enabled
		sanitized["s3_archive_configured"] = c.Artifacts.S3.Bucket != ""
		sanitized["redis_configured"] = c.Queue.RedisURL != ""
		sanitized["webhook_secret_configured"] = c.Webhook.Secret != ""
		sanitized["ssh_insecure"] = c.SSH.Insecure
		sanitized["deploy"] = map[string]interface{}{
			"max_retries":       c.Deploy.MaxRetries,
			"parallelism":       c.Deploy.Parallelism,
			"operation_timeout": c.Deploy.OperationTimeout.String(),
		}
	}

	return sanitized
}

// expandPath expands ~ to the home directory
func expandPath(path string) (string, error) {
	if path == "" {
		return path, nil
	}

	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}

	return filepath.Clean(path), nil
}

// parseBool parses a string to bool with lenient handling
func parseBool(value string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on", "enabled":
		return true, true
	case "false", "0", "no", "off", "disabled":
		return false, true
	default:
		return false, false
	}
}
