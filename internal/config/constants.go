package config

const (
	// DefaultLocalStackURL is the default URL for LocalStack.
	DefaultLocalStackURL = "http://localhost:4566"
	// APIBasePath is the base path for the API.
	APIBasePath = "/api/v1"
	// EnvPrefix prefixes every environment variable read by launchpad
	EnvPrefix = "LAUNCHPAD_"
)

// API endpoint constants
const (
	APIEndpointRuns       = "/api/v1/runs"
	APIEndpointTargets    = "/api/v1/targets"
	APIEndpointPushHook   = "/api/v1/hooks/push"
	APIEndpointHealth     = "/api/v1/system/health"
	APIEndpointQueueStats = "/api/v1/queue/metrics"
)

// Store and queue backend names
const (
	StoreTypeMemory   = "memory"
	StoreTypeSQLite   = "sqlite"
	StoreTypeDynamoDB = "dynamodb"
	StoreTypeRedis    = "redis"

	QueueTypeEmbedded    = "embedded"
	QueueTypeDistributed = "distributed"
)

// DefaultEC2GroupTag is the instance tag key used by EC2 discovery
const DefaultEC2GroupTag = "launchpad:group"
