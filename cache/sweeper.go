package cache

import (
	"context"
	"sync"
	"time"
)

type sweeper struct {
	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// StartSweeper runs CleanupExpired every CleanupInterval until ctx is done
// or Stop is called. Starting an already running sweeper is a no-op.
func (c *TokenCache) StartSweeper(ctx context.Context) {
	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()
	if c.sweeper != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s := &sweeper{cancel: cancel, done: make(chan struct{})}
	c.sweeper = s
	go c.sweep(runCtx, s)
}

// Stop cancels the sweeper and waits for it to exit. Safe to call more than
// once and without a running sweeper.
func (c *TokenCache) Stop() {
	c.sweepMu.Lock()
	s := c.sweeper
	c.sweeper = nil
	c.sweepMu.Unlock()
	if s == nil {
		return
	}
	s.stopOnce.Do(func() {
		s.cancel()
		<-s.done
	})
}

func (c *TokenCache) sweep(ctx context.Context, s *sweeper) {
	defer close(s.done)
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			startedAt := time.Now()
			removed, err := c.CleanupExpired(ctx)
			c.obs.Observe(ctx, startedAt, "cache.sweep", err, map[string]any{"removed": removed})
		}
	}
}
