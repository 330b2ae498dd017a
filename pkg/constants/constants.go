// Package constants defines application-wide constants for call timing and limits.
package constants

import "time"

// Call signaling constants
const (
	// SignalExpiry is how long a call signal row stays meaningful.
	// Receivers must discard signals past this window.
	SignalExpiry = 60 * time.Second

	// RingTimeout is how long an unanswered call rings before it is
	// recorded as missed.
	RingTimeout = 30 * time.Second

	// EndedDismissDelay is how long a terminal call state lingers before
	// the machine resets to idle on its own.
	EndedDismissDelay = 2500 * time.Millisecond

	// MaxCallParticipants caps group calls. Join attempts beyond the cap
	// fail at the token boundary.
	MaxCallParticipants = 4
)

// Video call duration limits
const (
	// VideoCallMaxDuration is the hard stop for video calls
	VideoCallMaxDuration = 60 * time.Minute

	// VideoCallWarningAt is when the running-out warning fires
	VideoCallWarningAt = 55 * time.Minute
)

// Token issuance constants
const (
	// TokenPrivilegeExpiry is the validity window of a media join token
	TokenPrivilegeExpiry = 1 * time.Hour
)

// WebSocket constants
const (
	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second

	// WebSocketWriteTimeout bounds a single frame write
	WebSocketWriteTimeout = 10 * time.Second
)

// Database connection constants
const (
	// MaxConnLifetime is the maximum lifetime of a database connection
	MaxConnLifetime = 1 * time.Hour

	// MaxConnIdleTime is the maximum idle time for a database connection
	MaxConnIdleTime = 30 * time.Minute

	// HealthCheckPeriod is the interval between database health checks
	HealthCheckPeriod = 1 * time.Minute
)

// GracefulShutdownTimeout is the timeout for graceful server shutdown
const GracefulShutdownTimeout = 30 * time.Second
