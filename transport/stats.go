package transport

import (
	"sync"
	"time"
)

// Stats is a snapshot of per-attempt transport counters.
type Stats struct {
	TotalRequests   uint64
	SuccessRequests uint64
	FailedRequests  uint64
	Retries         uint64
	SlowRequests    uint64
	AverageDuration time.Duration
}

func (s Stats) SuccessRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.SuccessRequests) / float64(s.TotalRequests)
}

type statsCollector struct {
	mu            sync.Mutex
	stats         Stats
	slowThreshold time.Duration
}

func (c *statsCollector) recordAttempt(duration time.Duration, success bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.TotalRequests++
	if success {
		c.stats.SuccessRequests++
	} else {
		c.stats.FailedRequests++
	}
	// running mean: avg += (x - avg) / n
	n := time.Duration(c.stats.TotalRequests)
	c.stats.AverageDuration += (duration - c.stats.AverageDuration) / n
	slow := c.slowThreshold > 0 && duration > c.slowThreshold
	if slow {
		c.stats.SlowRequests++
	}
	return slow
}

func (c *statsCollector) recordRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Retries++
}

func (c *statsCollector) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *statsCollector) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = Stats{}
}
