package core

import (
	"math"
	"net/http"
	"time"
)

const (
	DefaultRetryMaxAttempts       = 3
	DefaultRetryBaseDelay         = 1000 * time.Millisecond
	DefaultRetryMaxDelay          = 30000 * time.Millisecond
	DefaultRetryBackoffMultiplier = 2.0
	DefaultRetryJitterFactor      = 0.1
)

// RetryPolicy is immutable per transport, or per call when set on a request.
type RetryPolicy struct {
	MaxAttempts       int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay         time.Duration `koanf:"base_delay" mapstructure:"base_delay"`
	MaxDelay          time.Duration `koanf:"max_delay" mapstructure:"max_delay"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier" mapstructure:"backoff_multiplier"`
	JitterFactor      float64       `koanf:"jitter_factor" mapstructure:"jitter_factor"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       DefaultRetryMaxAttempts,
		BaseDelay:         DefaultRetryBaseDelay,
		MaxDelay:          DefaultRetryMaxDelay,
		BackoffMultiplier: DefaultRetryBackoffMultiplier,
		JitterFactor:      DefaultRetryJitterFactor,
	}
}

// NoRetryPolicy performs exactly one attempt.
func NoRetryPolicy() RetryPolicy {
	policy := DefaultRetryPolicy()
	policy.MaxAttempts = 1
	return policy
}

func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return NewConfigurationError("retry.max_attempts", "must be at least 1")
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 {
		return NewConfigurationError("retry.base_delay", "delays must not be negative")
	}
	if p.MaxDelay > 0 && p.BaseDelay > p.MaxDelay {
		return NewConfigurationError("retry.max_delay", "must not be lower than base_delay")
	}
	if p.BackoffMultiplier < 1 {
		return NewConfigurationError("retry.backoff_multiplier", "must be at least 1.0")
	}
	if p.JitterFactor < 0 || p.JitterFactor > 1 {
		return NewConfigurationError("retry.jitter_factor", "must be within [0, 1]")
	}
	return nil
}

// Normalized fills zero fields with defaults. Negative jitter is treated as
// zero jitter.
func (p RetryPolicy) Normalized() RetryPolicy {
	defaults := DefaultRetryPolicy()
	if p.MaxAttempts < 1 {
		p.MaxAttempts = defaults.MaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaults.MaxDelay
	}
	if p.BackoffMultiplier < 1 {
		p.BackoffMultiplier = defaults.BackoffMultiplier
	}
	if p.JitterFactor < 0 {
		p.JitterFactor = 0
	}
	if p.JitterFactor > 1 {
		p.JitterFactor = 1
	}
	return p
}

// BaseBackoff returns clamp(BaseDelay * BackoffMultiplier^retry, 0, MaxDelay)
// for the zero-based retry index, before jitter.
func (p RetryPolicy) BaseBackoff(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}
	delay := float64(p.BaseDelay) * math.Pow(p.BackoffMultiplier, float64(retry))
	if math.IsInf(delay, 0) || math.IsNaN(delay) || delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}

var retryableStatuses = map[int]struct{}{
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
	http.StatusInsufficientStorage: {},
	509:                            {},
}

// IsRetryableStatus reports whether an HTTP status is worth another attempt.
func IsRetryableStatus(status int) bool {
	_, ok := retryableStatuses[status]
	return ok
}
