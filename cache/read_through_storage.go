package cache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-larkauth/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const entryCacheKeyPrefix = "go-larkauth::token_entry::v1"

var errEntryNotFound = errors.New("cache: entry not found")

// ReadThroughStorage fronts a slower TokenStorage (usually the SQL store)
// with a go-repository-cache service. Reads go through GetOrFetch; every
// write hits the base first and then invalidates the cached copy.
type ReadThroughStorage struct {
	base  core.TokenStorage
	cache repositorycache.CacheService
}

func NewReadThroughStorage(base core.TokenStorage, cacheService repositorycache.CacheService) (*ReadThroughStorage, error) {
	if base == nil {
		return nil, fmt.Errorf("cache: base token storage is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("cache: cache service is required")
	}
	return &ReadThroughStorage{base: base, cache: cacheService}, nil
}

// EntryCacheKey returns go-larkauth::token_entry::v1::<escaped token cache key>.
func EntryCacheKey(key string) string {
	return entryCacheKeyPrefix + "::" + url.PathEscape(strings.TrimSpace(key))
}

func (s *ReadThroughStorage) Store(ctx context.Context, key string, entry core.CacheEntry) error {
	if err := s.base.Store(ctx, key, entry); err != nil {
		return err
	}
	return s.cache.Delete(ctx, EntryCacheKey(key))
}

func (s *ReadThroughStorage) Get(ctx context.Context, key string) (core.CacheEntry, bool, error) {
	entry, err := repositorycache.GetOrFetch(ctx, s.cache, EntryCacheKey(key), func(ctx context.Context) (core.CacheEntry, error) {
		fetched, ok, fetchErr := s.base.Get(ctx, key)
		if fetchErr != nil {
			return core.CacheEntry{}, fetchErr
		}
		if !ok {
			return core.CacheEntry{}, errEntryNotFound
		}
		return fetched, nil
	})
	if errors.Is(err, errEntryNotFound) {
		return core.CacheEntry{}, false, nil
	}
	if err != nil {
		return core.CacheEntry{}, false, err
	}
	return entry, true, nil
}

func (s *ReadThroughStorage) Remove(ctx context.Context, key string) (bool, error) {
	removed, err := s.base.Remove(ctx, key)
	if err != nil {
		return false, err
	}
	if err := s.cache.Delete(ctx, EntryCacheKey(key)); err != nil {
		return removed, err
	}
	return removed, nil
}

func (s *ReadThroughStorage) Clear(ctx context.Context) error {
	keys, err := s.base.Keys(ctx)
	if err != nil {
		return err
	}
	if err := s.base.Clear(ctx); err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.cache.Delete(ctx, EntryCacheKey(key)); err != nil {
			return err
		}
	}
	return nil
}

func (s *ReadThroughStorage) Size(ctx context.Context) (int, error) {
	return s.base.Size(ctx)
}

func (s *ReadThroughStorage) Keys(ctx context.Context) ([]string, error) {
	return s.base.Keys(ctx)
}

// OldestKey delegates to the base when it can answer without a scan.
func (s *ReadThroughStorage) OldestKey(ctx context.Context) (string, bool, error) {
	if finder, ok := s.base.(core.OldestKeyFinder); ok {
		return finder.OldestKey(ctx)
	}
	return oldestKeyByScan(ctx, s.base)
}

var (
	_ core.TokenStorage    = (*ReadThroughStorage)(nil)
	_ core.OldestKeyFinder = (*ReadThroughStorage)(nil)
)
