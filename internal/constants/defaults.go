package constants

// Default sync and queue configuration values
const (
	DefaultSyncIntervalSec       = 30
	DefaultQueueDrainIntervalSec = 15
	DefaultQueueMaxAttempts      = 3
	DefaultDedupWindowSec        = 10
	DefaultHealthyWindowMin      = 5
)

// Reconciliation values
const (
	DefaultHeuristicWindowSec      = 30
	DefaultOptimisticContextTTLMin = 5
	DefaultOptimisticSweepSec      = 60
	DefaultMatchCandidateLimit     = 200
)

// Default timeout and retry values
const (
	DefaultHTTPTimeoutSec        = 30
	DefaultProbeIntervalSec      = 20
	DefaultProbeTimeoutSec       = 5
	DefaultDatabaseRetryAttempts = 3
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 60000
	DefaultGracefulShutdownSec   = 30
)

// Circuit breaker values for the outbound send path
const (
	DefaultBreakerMaxFailures = 5
	DefaultBreakerCooldownSec = 30
)

// Local HTTP surface values
const (
	DefaultServerPort            = 8084
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultTimelineLimit         = 50
)

// Retention values
const (
	DefaultRetentionDays            = 90
	CleanupSchedulerIntervalHours   = 24
	DefaultPushReconnectBaseDelayMs = 1000
	DefaultPushReconnectMaxDelayMs  = 30000
)
