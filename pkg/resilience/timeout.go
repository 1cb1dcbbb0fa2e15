package resilience

import (
	"context"
	"time"
)

// TimeoutConfig defines the application's timeout hierarchy.
//
// Each layer must finish before its parent times out:
//
//	HTTP Handler (60s) > Gateway (30s) > Database (5s)
//
// Keeping the hierarchy strict prevents a slow gateway call from surfacing
// as an opaque handler timeout with no recorded cause.
type TimeoutConfig struct {
	// HTTPHandler is the overall request deadline.
	HTTPHandler time.Duration
	// Gateway bounds one call to the payment provider.
	Gateway time.Duration
	// GatewayQuery bounds a status re-query, which runs inline with a
	// storefront poll and must stay snappy.
	GatewayQuery time.Duration
	// Database bounds one repository call made outside a request context.
	Database time.Duration
}

// DefaultTimeoutConfig returns production timeout values
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		HTTPHandler:  60 * time.Second,
		Gateway:      30 * time.Second,
		GatewayQuery: 10 * time.Second,
		Database:     5 * time.Second,
	}
}

// TestTimeoutConfig returns shorter timeouts for testing
func TestTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		HTTPHandler:  5 * time.Second,
		Gateway:      2 * time.Second,
		GatewayQuery: 1 * time.Second,
		Database:     1 * time.Second,
	}
}

// GatewayContext creates a context for payment gateway calls
func (tc *TimeoutConfig) GatewayContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.Gateway)
}

// GatewayQueryContext creates a context for inline status re-queries
func (tc *TimeoutConfig) GatewayQueryContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.GatewayQuery)
}

// DatabaseContext creates a context for repository calls
func (tc *TimeoutConfig) DatabaseContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.Database)
}
