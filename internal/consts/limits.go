package consts

import "time"

// Service defaults
const (
	// DefaultHost is the default listen host
	DefaultHost = "localhost"
	// DefaultPort is the default listen port
	DefaultPort = 8083
	// DefaultMaxConcurrentUsers caps simultaneously connected clients
	DefaultMaxConcurrentUsers = 10
)

// Messaging limits
const (
	// RateLimitBudget is the number of messages a user may send per window
	RateLimitBudget = 60
	// RateLimitWindow is the rate limiting window length
	RateLimitWindow = 60 * time.Second
	// SendQueueDepth is the per-connection outbound buffer size
	SendQueueDepth = 256
	// IntakeQueueDepth is the dispatcher's inbound buffer size
	IntakeQueueDepth = 512
)

// Scene coordination
const (
	// LockStaleness is the age past which an entity lock may be taken over
	LockStaleness = 30 * time.Second
	// PendingMaxAge is the retention window for the pending update log
	PendingMaxAge = 5 * time.Minute
)

// Housekeeping intervals
const (
	// SyncInterval is the period of the re-sync and metrics broadcast tick
	SyncInterval = 100 * time.Millisecond
	// CleanupInterval is the period of the housekeeping pass
	CleanupInterval = 5 * time.Minute
	// InactivityTimeout is the idle age past which a connection is reaped
	InactivityTimeout = 30 * time.Minute
	// HeartbeatInterval is the transport ping period
	HeartbeatInterval = 30 * time.Second
	// HandshakeTimeout bounds the wait for the authenticate frame
	HandshakeTimeout = 30 * time.Second
)

// Metrics cadence
const (
	// MetricsRefreshInterval bounds how often system counters are re-sampled
	MetricsRefreshInterval = 5 * time.Second
)
