package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/recall-ai/recall/pkg/models"
)

// Memory is a map-backed Store for ephemeral sessions and tests. Construct
// with NewMemory; the zero value is not usable.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*models.CacheEntry
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*models.CacheEntry)}
}

func (m *Memory) Get(key string) (*models.CacheEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[key]
	return entry, ok, nil
}

func (m *Memory) Set(key string, entry *models.CacheEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; !ok {
		return fmt.Errorf("delete %q: %w", key, models.ErrNotFound)
	}
	delete(m.entries, key)
	return nil
}

func (m *Memory) Has(key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[key]
	return ok, nil
}

func (m *Memory) Len() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

func (m *Memory) Keys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.entries))
	for key := range m.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Entries() (map[string]*models.CacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*models.CacheEntry, len(m.entries))
	for key, entry := range m.entries {
		out[key] = entry
	}
	return out, nil
}

// Update applies the whole mapping under one lock; batching is a storage
// detail the in-memory store has no use for.
func (m *Memory) Update(entries map[string]*models.CacheEntry, overwrite bool, maxBatchSize int) error {
	for key, entry := range entries {
		if err := entry.Validate(); err != nil {
			return fmt.Errorf("update %q: %w", key, err)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, entry := range entries {
		if !overwrite {
			if _, ok := m.entries[key]; ok {
				continue
			}
		}
		m.entries[key] = entry
	}
	return nil
}

func (m *Memory) Close() error {
	return nil
}
