package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerWriteTimeout    = 30 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Ping timeouts for startup and health checks
const (
	DBPingTimeout    = 5 * time.Second
	RedisPingTimeout = 5 * time.Second
)

// Scheduler workers
const (
	RecoveryJobInterval = 1 * time.Minute
	RecoveryBatchSize   = 500
	JobTimeout          = 30 * time.Second
	RetryBaseBackoff    = 5 * time.Second
	RetryMaxBackoff     = 10 * time.Minute
)

// Sleep session lifecycle
const (
	// AutoCompleteThreshold is both the scheduling delay and the minimum
	// session age for auto-completion. Changing it does not rewrite delays
	// already sitting in the queue.
	AutoCompleteThreshold = 12 * time.Hour
	DefaultSleepDuration  = 8 * time.Hour
	AverageLookback       = 30 * 24 * time.Hour
	FollowingWindowDays   = 7
)
