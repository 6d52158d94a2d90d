package locking

import (
	"time"

	"github.com/jathurchan/grouplock/logger"
)

// ServiceOption defines a function that applies a configuration setting to a
// Service during initialization.
type ServiceOption func(*ServiceConfig)

// ServiceConfig holds configuration parameters for a locking Service.
type ServiceConfig struct {
	// BypassBundling marks outgoing messages with the transport's
	// do-not-bundle hint. Correctness does not depend on it; it only trades
	// throughput for latency.
	BypassBundling bool

	// Policy decides which member arbitrates each lock name.
	Policy Policy

	// RequestRateLimit caps the number of incoming GRANT_LOCK requests the
	// server side accepts per RequestRateWindow. Zero disables limiting.
	RequestRateLimit int

	// RequestRateBurst is the burst size of the request limiter.
	RequestRateBurst int

	// RequestRateWindow is the window the rate limit applies over.
	RequestRateWindow time.Duration

	Clock   Clock
	Logger  logger.Logger
	Metrics Metrics
}

// DefaultServiceConfig returns a ServiceConfig with sensible defaults:
// bundling bypassed, a central policy with one backup, no rate limiting.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		BypassBundling:    DefaultBypassBundling,
		Policy:            NewCentralPolicy(),
		RequestRateLimit:  0,
		RequestRateBurst:  0,
		RequestRateWindow: time.Second,
	}
}

// WithBypassBundling controls the do-not-bundle hint on outgoing messages.
func WithBypassBundling(bypass bool) ServiceOption {
	return func(cfg *ServiceConfig) {
		cfg.BypassBundling = bypass
	}
}

// WithPolicy sets the routing policy deciding where server state lives.
func WithPolicy(policy Policy) ServiceOption {
	return func(cfg *ServiceConfig) {
		if policy != nil {
			cfg.Policy = policy
		}
	}
}

// WithRequestRateLimit enables server-side rate limiting of incoming
// GRANT_LOCK requests. Requests over the limit are dropped and logged.
func WithRequestRateLimit(limit, burst int, window time.Duration) ServiceOption {
	return func(cfg *ServiceConfig) {
		if limit > 0 && window > 0 {
			cfg.RequestRateLimit = limit
			cfg.RequestRateBurst = burst
			cfg.RequestRateWindow = window
		}
	}
}

// WithClock sets the clock used for timeout handling.
func WithClock(clock Clock) ServiceOption {
	return func(cfg *ServiceConfig) {
		if clock != nil {
			cfg.Clock = clock
		}
	}
}

// WithLogger sets the logger for internal events.
func WithLogger(logger logger.Logger) ServiceOption {
	return func(cfg *ServiceConfig) {
		if logger != nil {
			cfg.Logger = logger
		}
	}
}

// WithMetrics sets the metrics collector for operational data.
func WithMetrics(metrics Metrics) ServiceOption {
	return func(cfg *ServiceConfig) {
		if metrics != nil {
			cfg.Metrics = metrics
		}
	}
}
