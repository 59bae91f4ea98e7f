package transport

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/goliatone/go-larkauth/core"
)

// backoffDelay returns the wait before retry number retry (zero based):
// base*mult^retry clamped to MaxDelay, then jittered by U(-j, +j), capped at
// MaxDelay and floored at zero.
func backoffDelay(policy core.RetryPolicy, retry int, random func() float64) time.Duration {
	delay := float64(policy.BaseBackoff(retry))
	if policy.JitterFactor > 0 && random != nil {
		delay *= 1 + (random()*2-1)*policy.JitterFactor
	}
	if delay < 0 {
		delay = 0
	}
	if maxDelay := float64(policy.MaxDelay); policy.MaxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	return time.Duration(delay)
}

// retryAfter reads Retry-After from a 429 response as seconds or an HTTP
// date.
func retryAfter(res core.Response, now time.Time) (time.Duration, bool) {
	if res.StatusCode != http.StatusTooManyRequests {
		return 0, false
	}
	raw := res.Header("Retry-After")
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if retryAt, err := http.ParseTime(raw); err == nil && retryAt.After(now) {
		return retryAt.Sub(now), true
	}
	return 0, false
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
