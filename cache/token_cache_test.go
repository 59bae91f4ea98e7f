package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-larkauth/core"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(t *testing.T, cfg core.CacheConfig, opts ...Option) (*TokenCache, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	cache, err := New(cfg, append([]Option{WithClock(clock.Now)}, opts...)...)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return cache, clock
}

func record(value string, issued time.Time) core.TokenRecord {
	return core.NewTokenRecord(value, core.TokenKindTenant, issued, 2*time.Hour)
}

func TestTokenCache_TTLExpiryRemovesOnFirstAccess(t *testing.T) {
	ctx := context.Background()
	cache, clock := newTestCache(t, core.CacheConfig{MaxSize: 10})

	if err := cache.Put(ctx, "tenant:t1", record("t-token-0001", clock.Now()), time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	clock.Advance(59 * time.Second)
	if _, ok, err := cache.Get(ctx, "tenant:t1"); err != nil || !ok {
		t.Fatalf("expected live entry before deadline, ok=%v err=%v", ok, err)
	}
	clock.Advance(time.Second)
	if _, ok, err := cache.Get(ctx, "tenant:t1"); err != nil || ok {
		t.Fatalf("expected absent at deadline, ok=%v err=%v", ok, err)
	}
	if contains, _ := cache.Contains(ctx, "tenant:t1"); contains {
		t.Fatalf("expected entry removed on first expired access")
	}
	stats := cache.Stats(ctx)
	if stats.Hits != 1 || stats.Misses != 1 || stats.CurrentSize != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestTokenCache_PeekLeavesStatsUntouched(t *testing.T) {
	ctx := context.Background()
	cache, clock := newTestCache(t, core.CacheConfig{MaxSize: 10})

	if _, ok, err := cache.Peek(ctx, "tenant:t1"); err != nil || ok {
		t.Fatalf("expected absent peek, ok=%v err=%v", ok, err)
	}
	if err := cache.Put(ctx, "tenant:t1", record("t-token-0001", clock.Now()), time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	if entry, ok, err := cache.Peek(ctx, "tenant:t1"); err != nil || !ok || entry.Record.Value != "t-token-0001" {
		t.Fatalf("expected live peek, entry=%#v ok=%v err=%v", entry, ok, err)
	}
	clock.Advance(time.Minute)
	if _, ok, _ := cache.Peek(ctx, "tenant:t1"); ok {
		t.Fatalf("expected expired entry to be absent")
	}
	if contains, _ := cache.Contains(ctx, "tenant:t1"); contains {
		t.Fatalf("expected peek to drop the expired entry")
	}
	stats := cache.Stats(ctx)
	if stats.Hits != 0 || stats.Misses != 0 {
		t.Fatalf("expected peek to leave counters alone, got %+v", stats)
	}
}

func TestTokenCache_ShortTTLIsMissAfterSleep(t *testing.T) {
	ctx := context.Background()
	cache, err := New(core.CacheConfig{MaxSize: 10})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	if err := cache.Put(ctx, "k", record("t-token-0001", time.Now()), 100*time.Millisecond); err != nil {
		t.Fatalf("put: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	if _, ok, err := cache.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("expected absent after ttl, ok=%v err=%v", ok, err)
	}
	if stats := cache.Stats(ctx); stats.Misses != 1 || stats.Hits != 0 {
		t.Fatalf("expected one miss, got %+v", stats)
	}
}

func TestTokenCache_CacheDeadlineNeverOutlivesRecord(t *testing.T) {
	ctx := context.Background()
	cache, clock := newTestCache(t, core.CacheConfig{MaxSize: 10, TTL: time.Hour})
	short := core.NewTokenRecord("t-token-0001", core.TokenKindApp, clock.Now(), 10*time.Minute)
	if err := cache.Put(ctx, "app:cli", short, 0); err != nil {
		t.Fatalf("put: %v", err)
	}
	entry, ok, err := cache.Get(ctx, "app:cli")
	if err != nil || !ok {
		t.Fatalf("expected entry, ok=%v err=%v", ok, err)
	}
	if !entry.ExpiresAt.Equal(short.ExpiresAt) {
		t.Fatalf("expected cache deadline %s, got %s", short.ExpiresAt, entry.ExpiresAt)
	}
}

func TestTokenCache_CapacityEvictsOldestCreated(t *testing.T) {
	ctx := context.Background()
	cache, clock := newTestCache(t, core.CacheConfig{MaxSize: 2})
	for _, key := range []string{"a", "b", "c"} {
		if err := cache.Put(ctx, key, record("t-token-"+key+"000", clock.Now()), 0); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
		clock.Advance(time.Millisecond)
	}
	keys, err := cache.Keys(ctx)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "b" || keys[1] != "c" {
		t.Fatalf("expected {b, c}, got %v", keys)
	}
	if stats := cache.Stats(ctx); stats.Evictions != 1 {
		t.Fatalf("expected one eviction, got %+v", stats)
	}
	if _, _, found, _ := cache.FindByValue(ctx, "t-token-a000"); found {
		t.Fatalf("evicted value must leave the index")
	}
}

func TestTokenCache_CapacityBoundHoldsForManyKeys(t *testing.T) {
	ctx := context.Background()
	const maxSize = 25
	cache, clock := newTestCache(t, core.CacheConfig{MaxSize: maxSize})
	for i := 0; i <= maxSize; i++ {
		key := fmt.Sprintf("tenant:%03d", i)
		if err := cache.Put(ctx, key, record(fmt.Sprintf("t-token-%03d", i), clock.Now()), 0); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
		clock.Advance(time.Millisecond)
	}
	if stats := cache.Stats(ctx); stats.CurrentSize != maxSize {
		t.Fatalf("expected %d entries, got %d", maxSize, stats.CurrentSize)
	}
	if ok, _ := cache.Contains(ctx, "tenant:000"); ok {
		t.Fatalf("expected oldest key evicted")
	}
}

func TestTokenCache_ReputExistingKeyDoesNotEvict(t *testing.T) {
	ctx := context.Background()
	cache, clock := newTestCache(t, core.CacheConfig{MaxSize: 2})
	_ = cache.Put(ctx, "a", record("t-token-a000", clock.Now()), 0)
	_ = cache.Put(ctx, "b", record("t-token-b000", clock.Now()), 0)
	clock.Advance(time.Second)
	if err := cache.Put(ctx, "a", record("t-token-a111", clock.Now()), 0); err != nil {
		t.Fatalf("re-put: %v", err)
	}
	if stats := cache.Stats(ctx); stats.Evictions != 0 || stats.CurrentSize != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if _, _, found, _ := cache.FindByValue(ctx, "t-token-a000"); found {
		t.Fatalf("replaced value must leave the index")
	}
	key, _, found, _ := cache.FindByValue(ctx, "t-token-a111")
	if !found || key != "a" {
		t.Fatalf("expected new value indexed under a, got %q %v", key, found)
	}
	// "b" is now the oldest created entry.
	_ = cache.Put(ctx, "c", record("t-token-c000", clock.Now()), 0)
	if ok, _ := cache.Contains(ctx, "b"); ok {
		t.Fatalf("expected b evicted after a was re-put")
	}
}

func TestTokenCache_MissesOnNeverInsertedKeys(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t, core.CacheConfig{MaxSize: 10})
	const n = 50
	for i := 0; i < n; i++ {
		if _, ok, err := cache.Get(ctx, fmt.Sprintf("missing-%d", i)); err != nil || ok {
			t.Fatalf("expected miss, ok=%v err=%v", ok, err)
		}
	}
	stats := cache.Stats(ctx)
	if stats.Misses != n || stats.Hits != 0 {
		t.Fatalf("expected %d misses and 0 hits, got %+v", n, stats)
	}
	if stats.HitRate() != 0 {
		t.Fatalf("expected zero hit rate")
	}
}

func TestTokenCache_CleanupExpiredCountsRemovals(t *testing.T) {
	ctx := context.Background()
	cache, clock := newTestCache(t, core.CacheConfig{MaxSize: 10})
	_ = cache.Put(ctx, "short-1", record("t-token-s001", clock.Now()), time.Second)
	_ = cache.Put(ctx, "short-2", record("t-token-s002", clock.Now()), time.Second)
	_ = cache.Put(ctx, "long", record("t-token-l001", clock.Now()), time.Hour)
	clock.Advance(2 * time.Second)

	removed, err := cache.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	stats := cache.Stats(ctx)
	if stats.Cleanups != 2 || stats.CurrentSize != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	if removed, _ := cache.CleanupExpired(ctx); removed != 0 {
		t.Fatalf("expected nothing left to remove, got %d", removed)
	}
	if got := cache.Stats(ctx).Cleanups; got != 2 {
		t.Fatalf("expected an empty run to leave cleanups at 2, got %d", got)
	}
}

func TestTokenCache_ValueIndex(t *testing.T) {
	ctx := context.Background()
	cache, clock := newTestCache(t, core.CacheConfig{MaxSize: 10})
	shared := record("u-shared-token", clock.Now())
	_ = cache.Put(ctx, "user:old", shared, 0)
	_ = cache.Put(ctx, "user:new", shared, 0)

	key, entry, found, err := cache.FindByValue(ctx, "u-shared-token")
	if err != nil || !found {
		t.Fatalf("expected value found, err=%v", err)
	}
	if key != "user:new" && key != "user:old" {
		t.Fatalf("unexpected key %q", key)
	}
	if entry.Record.Value != "u-shared-token" {
		t.Fatalf("unexpected entry %+v", entry)
	}

	removed, err := cache.RemoveByValue(ctx, "u-shared-token")
	if err != nil || removed != 2 {
		t.Fatalf("expected both keys removed, got %d err=%v", removed, err)
	}
	if removed, _ := cache.RemoveByValue(ctx, "u-shared-token"); removed != 0 {
		t.Fatalf("expected idempotent removal, got %d", removed)
	}
}

func TestTokenCache_ReindexFromStorage(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	issued := time.Now().UTC()
	_ = storage.Store(ctx, "tenant:t9", core.CacheEntry{
		Record:    record("t-persisted-01", issued),
		CreatedAt: issued,
		ExpiresAt: issued.Add(time.Hour),
	})
	cache, err := New(core.CacheConfig{MaxSize: 10}, WithStorage(storage))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	if _, _, found, _ := cache.FindByValue(ctx, "t-persisted-01"); found {
		t.Fatalf("index should be empty before reindex")
	}
	if err := cache.Reindex(ctx); err != nil {
		t.Fatalf("reindex: %v", err)
	}
	key, _, found, err := cache.FindByValue(ctx, "t-persisted-01")
	if err != nil || !found || key != "tenant:t9" {
		t.Fatalf("expected persisted value indexed, key=%q found=%v err=%v", key, found, err)
	}
}

type scanOnlyStorage struct {
	inner *MemoryStorage
}

func (s scanOnlyStorage) Store(ctx context.Context, key string, entry core.CacheEntry) error {
	return s.inner.Store(ctx, key, entry)
}

func (s scanOnlyStorage) Get(ctx context.Context, key string) (core.CacheEntry, bool, error) {
	return s.inner.Get(ctx, key)
}

func (s scanOnlyStorage) Remove(ctx context.Context, key string) (bool, error) {
	return s.inner.Remove(ctx, key)
}

func (s scanOnlyStorage) Clear(ctx context.Context) error { return s.inner.Clear(ctx) }

func (s scanOnlyStorage) Size(ctx context.Context) (int, error) { return s.inner.Size(ctx) }

// Keys returns newest first so the scan cannot rely on order.
func (s scanOnlyStorage) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.inner.Keys(ctx)
	for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
		keys[i], keys[j] = keys[j], keys[i]
	}
	return keys, err
}

func TestTokenCache_EvictionScansWithoutOldestKeyFinder(t *testing.T) {
	ctx := context.Background()
	cache, clock := newTestCache(t, core.CacheConfig{MaxSize: 2}, WithStorage(scanOnlyStorage{inner: NewMemoryStorage()}))
	for _, key := range []string{"a", "b", "c"} {
		_ = cache.Put(ctx, key, record("t-token-"+key+"000", clock.Now()), 0)
		clock.Advance(time.Millisecond)
	}
	if ok, _ := cache.Contains(ctx, "a"); ok {
		t.Fatalf("expected a evicted by scan")
	}
	for _, key := range []string{"b", "c"} {
		if ok, _ := cache.Contains(ctx, key); !ok {
			t.Fatalf("expected %s retained", key)
		}
	}
}

func TestTokenCache_PutRejectsEmptyValues(t *testing.T) {
	cache, _ := newTestCache(t, core.CacheConfig{MaxSize: 2})
	if err := cache.Put(context.Background(), "", record("t-token-0001", time.Now()), 0); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if err := cache.Put(context.Background(), "k", core.TokenRecord{Kind: core.TokenKindApp}, 0); !core.IsTokenError(err) {
		t.Fatalf("expected token error for empty value, got %v", err)
	}
}

func TestTokenCache_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	cache, err := New(core.CacheConfig{MaxSize: 16})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("tenant:%d", (worker*100+i)%40)
				_ = cache.Put(ctx, key, record(fmt.Sprintf("t-token-%d-%d", worker, i), time.Now()), 0)
				_, _, _ = cache.Get(ctx, key)
			}
		}(worker)
	}
	wg.Wait()
	if size := cache.Stats(ctx).CurrentSize; size > 16 {
		t.Fatalf("capacity exceeded: %d", size)
	}
}

func TestTokenCache_SweeperStartStop(t *testing.T) {
	ctx := context.Background()
	cache, err := New(core.CacheConfig{MaxSize: 10, CleanupInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	_ = cache.Put(ctx, "k", record("t-token-0001", time.Now()), 5*time.Millisecond)

	cache.StartSweeper(ctx)
	cache.StartSweeper(ctx)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cache.Stats(ctx).Cleanups == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := cache.Stats(ctx).Cleanups; got != 1 {
		t.Fatalf("expected sweeper to clean one entry, got %d", got)
	}
	cache.Stop()
	cache.Stop()
}
