package cache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-larkauth/core"
)

// TokenCache is a capacity and TTL bounded token store over a pluggable
// backend. Every operation holds one mutex for its whole duration so stats,
// storage and the value index are never observed half-updated.
type TokenCache struct {
	mu      sync.Mutex
	storage core.TokenStorage
	cfg     core.CacheConfig
	now     func() time.Time
	obs     core.Observer

	hits      uint64
	misses    uint64
	cleanups  uint64
	evictions uint64

	// token value -> cache keys holding it; a rotated user token may live
	// under more than one key.
	byValue   map[string]map[string]struct{}
	keyValues map[string]string

	sweepMu sync.Mutex
	sweeper *sweeper
}

type Option func(*TokenCache)

func WithStorage(storage core.TokenStorage) Option {
	return func(c *TokenCache) {
		if storage != nil {
			c.storage = storage
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *TokenCache) {
		if now != nil {
			c.now = now
		}
	}
}

func WithObserver(observer core.Observer) Option {
	return func(c *TokenCache) {
		c.obs = observer
	}
}

func New(cfg core.CacheConfig, opts ...Option) (*TokenCache, error) {
	defaults := core.DefaultConfig().Cache
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaults.MaxSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaults.CleanupInterval
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &TokenCache{
		storage:   NewMemoryStorage(),
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		obs:       core.NewObserver("larkauth.cache", nil, nil, nil),
		byValue:   map[string]map[string]struct{}{},
		keyValues: map[string]string{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

func (c *TokenCache) Config() core.CacheConfig {
	return c.cfg
}

// Get returns the entry for key. An expired entry is removed within the same
// call and reported absent.
func (c *TokenCache) Get(ctx context.Context, key string) (core.CacheEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok, err := c.lookupLocked(ctx, key)
	if err != nil {
		return core.CacheEntry{}, false, err
	}
	if !ok {
		c.misses++
		return core.CacheEntry{}, false, nil
	}
	c.hits++
	return entry, true, nil
}

// Peek is Get without touching the hit and miss counters.
func (c *TokenCache) Peek(ctx context.Context, key string) (core.CacheEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupLocked(ctx, key)
}

func (c *TokenCache) lookupLocked(ctx context.Context, key string) (core.CacheEntry, bool, error) {
	entry, ok, err := c.storage.Get(ctx, key)
	if err != nil {
		return core.CacheEntry{}, false, fmt.Errorf("cache: get %q: %w", key, err)
	}
	if !ok {
		return core.CacheEntry{}, false, nil
	}
	if entry.Expired(c.now()) {
		if _, err := c.storage.Remove(ctx, key); err != nil {
			return core.CacheEntry{}, false, fmt.Errorf("cache: remove expired %q: %w", key, err)
		}
		c.unindexLocked(key)
		return core.CacheEntry{}, false, nil
	}
	c.indexLocked(key, entry.Record.Value)
	return entry, true, nil
}

// Put stores record under key for ttl, or the configured TTL when ttl <= 0.
// The cache deadline never outlives the record. Inserting a new key at
// capacity evicts the oldest-created entry first.
func (c *TokenCache) Put(ctx context.Context, key string, record core.TokenRecord, ttl time.Duration) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("cache: key is required")
	}
	if strings.TrimSpace(record.Value) == "" {
		return core.NewTokenError(record.Kind, "value", "token value is required")
	}
	if ttl <= 0 {
		ttl = c.cfg.TTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	expiresAt := now.Add(ttl)
	if !record.ExpiresAt.IsZero() && record.ExpiresAt.Before(expiresAt) {
		expiresAt = record.ExpiresAt
	}

	_, exists, err := c.storage.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("cache: get %q: %w", key, err)
	}
	if !exists {
		if err := c.ensureCapacityLocked(ctx); err != nil {
			return err
		}
	}

	entry := core.CacheEntry{Record: record, CreatedAt: now, ExpiresAt: expiresAt}
	if err := c.storage.Store(ctx, key, entry); err != nil {
		return fmt.Errorf("cache: store %q: %w", key, err)
	}
	c.unindexLocked(key)
	c.indexLocked(key, record.Value)
	return nil
}

func (c *TokenCache) ensureCapacityLocked(ctx context.Context) error {
	for {
		size, err := c.storage.Size(ctx)
		if err != nil {
			return fmt.Errorf("cache: size: %w", err)
		}
		if size < c.cfg.MaxSize {
			return nil
		}
		key, ok, err := c.oldestKeyLocked(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if _, err := c.storage.Remove(ctx, key); err != nil {
			return fmt.Errorf("cache: evict %q: %w", key, err)
		}
		c.unindexLocked(key)
		c.evictions++
		c.obs.Count(ctx, "cache.evictions", 1, map[string]string{"kind": string(core.KindFromCacheKey(key))})
	}
}

func (c *TokenCache) oldestKeyLocked(ctx context.Context) (string, bool, error) {
	if finder, ok := c.storage.(core.OldestKeyFinder); ok {
		key, found, err := finder.OldestKey(ctx)
		if err != nil {
			return "", false, fmt.Errorf("cache: oldest key: %w", err)
		}
		return key, found, nil
	}
	return oldestKeyByScan(ctx, c.storage)
}

func oldestKeyByScan(ctx context.Context, storage core.TokenStorage) (string, bool, error) {
	keys, err := storage.Keys(ctx)
	if err != nil {
		return "", false, fmt.Errorf("cache: keys: %w", err)
	}
	var (
		oldestKey string
		oldestAt  time.Time
		found     bool
	)
	for _, key := range keys {
		entry, ok, err := storage.Get(ctx, key)
		if err != nil {
			return "", false, fmt.Errorf("cache: get %q: %w", key, err)
		}
		if !ok {
			continue
		}
		if !found || entry.CreatedAt.Before(oldestAt) {
			oldestKey, oldestAt, found = key, entry.CreatedAt, true
		}
	}
	return oldestKey, found, nil
}

func (c *TokenCache) Remove(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed, err := c.storage.Remove(ctx, key)
	if err != nil {
		return false, fmt.Errorf("cache: remove %q: %w", key, err)
	}
	c.unindexLocked(key)
	return removed, nil
}

// RemoveByValue removes every key holding token value and returns how many
// entries were dropped.
func (c *TokenCache) RemoveByValue(ctx context.Context, value string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := sortedKeys(c.byValue[value])
	removed := 0
	for _, key := range keys {
		ok, err := c.storage.Remove(ctx, key)
		if err != nil {
			return removed, fmt.Errorf("cache: remove %q: %w", key, err)
		}
		c.unindexLocked(key)
		if ok {
			removed++
		}
	}
	return removed, nil
}

func (c *TokenCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.storage.Clear(ctx); err != nil {
		return fmt.Errorf("cache: clear: %w", err)
	}
	c.byValue = map[string]map[string]struct{}{}
	c.keyValues = map[string]string{}
	return nil
}

// Contains reports whether key holds a live entry. It does not count toward
// hit/miss stats.
func (c *TokenCache) Contains(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok, err := c.storage.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("cache: get %q: %w", key, err)
	}
	return ok && !entry.Expired(c.now()), nil
}

func (c *TokenCache) Keys(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys, err := c.storage.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache: keys: %w", err)
	}
	return keys, nil
}

// CleanupExpired removes every expired entry and returns how many were
// removed. Stats().Cleanups accumulates removed entries across calls.
func (c *TokenCache) CleanupExpired(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, err := c.storage.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("cache: keys: %w", err)
	}
	now := c.now()
	removed := 0
	for _, key := range keys {
		entry, ok, err := c.storage.Get(ctx, key)
		if err != nil {
			return removed, fmt.Errorf("cache: get %q: %w", key, err)
		}
		if !ok || !entry.Expired(now) {
			continue
		}
		if _, err := c.storage.Remove(ctx, key); err != nil {
			return removed, fmt.Errorf("cache: remove %q: %w", key, err)
		}
		c.unindexLocked(key)
		removed++
	}
	c.cleanups += uint64(removed)
	return removed, nil
}

// FindByValue resolves a token value to the live entry holding it through
// the value index.
func (c *TokenCache) FindByValue(ctx context.Context, value string) (string, core.CacheEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for _, key := range sortedKeys(c.byValue[value]) {
		entry, ok, err := c.storage.Get(ctx, key)
		if err != nil {
			return "", core.CacheEntry{}, false, fmt.Errorf("cache: get %q: %w", key, err)
		}
		if !ok || entry.Record.Value != value {
			c.unindexLocked(key)
			continue
		}
		if entry.Expired(now) {
			if _, err := c.storage.Remove(ctx, key); err != nil {
				return "", core.CacheEntry{}, false, fmt.Errorf("cache: remove expired %q: %w", key, err)
			}
			c.unindexLocked(key)
			continue
		}
		return key, entry, true, nil
	}
	return "", core.CacheEntry{}, false, nil
}

// Reindex rebuilds the value index from storage. Durable backends call it
// after open so tokens persisted by an earlier process are found by value.
func (c *TokenCache) Reindex(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, err := c.storage.Keys(ctx)
	if err != nil {
		return fmt.Errorf("cache: keys: %w", err)
	}
	c.byValue = map[string]map[string]struct{}{}
	c.keyValues = map[string]string{}
	for _, key := range keys {
		entry, ok, err := c.storage.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("cache: get %q: %w", key, err)
		}
		if ok {
			c.indexLocked(key, entry.Record.Value)
		}
	}
	return nil
}

func (c *TokenCache) Stats(ctx context.Context) core.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	size, err := c.storage.Size(ctx)
	if err != nil {
		c.obs.Warn(ctx, "cache size unavailable", map[string]any{"error": err.Error()})
		size = len(c.keyValues)
	}
	return core.CacheStats{
		Hits:        c.hits,
		Misses:      c.misses,
		Cleanups:    c.cleanups,
		Evictions:   c.evictions,
		CurrentSize: size,
	}
}

func (c *TokenCache) indexLocked(key string, value string) {
	if value == "" {
		return
	}
	if previous, ok := c.keyValues[key]; ok && previous != value {
		c.unindexLocked(key)
	}
	keys := c.byValue[value]
	if keys == nil {
		keys = map[string]struct{}{}
		c.byValue[value] = keys
	}
	keys[key] = struct{}{}
	c.keyValues[key] = value
}

func (c *TokenCache) unindexLocked(key string) {
	value, ok := c.keyValues[key]
	if !ok {
		return
	}
	delete(c.keyValues, key)
	keys := c.byValue[value]
	delete(keys, key)
	if len(keys) == 0 {
		delete(c.byValue, value)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
