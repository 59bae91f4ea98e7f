package cache

import (
	"container/list"
	"context"
	"sync"

	"github.com/goliatone/go-larkauth/core"
)

// MemoryStorage is the default TokenStorage. It keeps keys in insertion
// order so the oldest entry is found without a scan; re-storing a key moves
// it to the back.
type MemoryStorage struct {
	mu      sync.RWMutex
	entries map[string]*list.Element
	order   *list.List
}

type memoryItem struct {
	key   string
	entry core.CacheEntry
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		entries: map[string]*list.Element{},
		order:   list.New(),
	}
}

func (s *MemoryStorage) Store(_ context.Context, key string, entry core.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if element, ok := s.entries[key]; ok {
		s.order.Remove(element)
	}
	s.entries[key] = s.order.PushBack(&memoryItem{key: key, entry: entry})
	return nil
}

func (s *MemoryStorage) Get(_ context.Context, key string) (core.CacheEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	element, ok := s.entries[key]
	if !ok {
		return core.CacheEntry{}, false, nil
	}
	return element.Value.(*memoryItem).entry, true, nil
}

func (s *MemoryStorage) Remove(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	element, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	s.order.Remove(element)
	delete(s.entries, key)
	return true, nil
}

func (s *MemoryStorage) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = map[string]*list.Element{}
	s.order.Init()
	return nil
}

func (s *MemoryStorage) Size(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// Keys returns keys oldest first.
func (s *MemoryStorage) Keys(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for element := s.order.Front(); element != nil; element = element.Next() {
		keys = append(keys, element.Value.(*memoryItem).key)
	}
	return keys, nil
}

func (s *MemoryStorage) OldestKey(context.Context) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	front := s.order.Front()
	if front == nil {
		return "", false, nil
	}
	return front.Value.(*memoryItem).key, true, nil
}

var (
	_ core.TokenStorage    = (*MemoryStorage)(nil)
	_ core.OldestKeyFinder = (*MemoryStorage)(nil)
)
