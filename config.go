package x402

import (
	"fmt"
	"time"
)

// TimeoutConfig holds timeout configuration for facilitator operations.
// Every external call carries an explicit timeout; a timed-out call is a
// failure outcome for its transaction, never retried by this package.
type TimeoutConfig struct {
	// VerifyTimeout is the maximum time to wait for payment verification.
	VerifyTimeout time.Duration

	// SettleTimeout is the maximum time to wait for payment settlement.
	SettleTimeout time.Duration

	// RequestTimeout is the overall timeout for HTTP requests.
	RequestTimeout time.Duration
}

// DefaultTimeouts provides sensible defaults for facilitator operations.
var DefaultTimeouts = TimeoutConfig{
	VerifyTimeout:  5 * time.Second,
	SettleTimeout:  60 * time.Second,
	RequestTimeout: 120 * time.Second,
}

// Validate ensures timeout values are reasonable.
func (tc TimeoutConfig) Validate() error {
	if tc.VerifyTimeout <= 0 {
		return fmt.Errorf("verify timeout must be positive, got %v", tc.VerifyTimeout)
	}
	if tc.SettleTimeout <= 0 {
		return fmt.Errorf("settle timeout must be positive, got %v", tc.SettleTimeout)
	}
	if tc.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %v", tc.RequestTimeout)
	}
	if tc.SettleTimeout < tc.VerifyTimeout {
		return fmt.Errorf("settle timeout (%v) should be >= verify timeout (%v)",
			tc.SettleTimeout, tc.VerifyTimeout)
	}
	return nil
}

// OrDefault returns the config with zero fields filled from DefaultTimeouts.
func (tc TimeoutConfig) OrDefault() TimeoutConfig {
	if tc.VerifyTimeout <= 0 {
		tc.VerifyTimeout = DefaultTimeouts.VerifyTimeout
	}
	if tc.SettleTimeout <= 0 {
		tc.SettleTimeout = DefaultTimeouts.SettleTimeout
	}
	if tc.RequestTimeout <= 0 {
		tc.RequestTimeout = DefaultTimeouts.RequestTimeout
	}
	return tc
}
