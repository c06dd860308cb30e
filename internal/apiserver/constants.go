package apiserver

import "time"

// HTTP server limits. Deploy and rollback requests only submit a run, so
// none of these needs to cover a deployment.
const (
	RequestTimeout  = 60 * time.Second
	ReadTimeout     = 15 * time.Second
	WriteTimeout    = 60 * time.Second
	IdleTimeout     = 60 * time.Second
	ShutdownTimeout = 30 * time.Second
)

// APIVersion is the version segment of every route
const APIVersion = "v1"

// APIPrefix is the mount point of the JSON API
const APIPrefix = "/api/" + APIVersion

// Headers GitHub sets on push webhook deliveries
const (
	HeaderGitHubEvent    = "X-GitHub-Event"
	HeaderGitHubDelivery = "X-GitHub-Delivery"
)

const (
	// QueueDepthWarning marks the queue degraded above this many waiting requests
	QueueDepthWarning = 1000

	// DiskUsageWarning and DiskUsageCritical are used-percent alert levels
	// for the data directory
	DiskUsageWarning  = 80.0
	DiskUsageCritical = 90.0

	// DefaultRunListLimit caps GET /runs without an explicit limit
	DefaultRunListLimit = 100
)
