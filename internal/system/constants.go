package system

import "time"

// DefaultSystemConfig contains default values for system lifecycle
var DefaultSystemConfig = struct {
	ShutdownTimeout time.Duration
	StartupTimeout  time.Duration
}{
	ShutdownTimeout: 30 * time.Second,
	StartupTimeout:  time.Minute,
}

// DefaultBackoffMultiplier is the growth factor between stage retries
const DefaultBackoffMultiplier = 2.0
