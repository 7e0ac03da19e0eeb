package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore keeps sessions in a bounded in-process LRU. Entries expire after
// a single cache-wide TTL; the per-call ttl is ignored.
type MemoryStore struct {
	cache *expirable.LRU[string, []byte]
}

// NewMemoryStore creates a store holding at most size sessions
func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		cache: expirable.NewLRU[string, []byte](size, nil, effectiveTTL(ttl)),
	}
}

// Get decodes a copy of the stored values so callers never share maps
func (m *MemoryStore) Get(_ context.Context, id string) (map[string]interface{}, error) {
	data, ok := m.cache.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	var values map[string]interface{}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	return values, nil
}

func (m *MemoryStore) Set(_ context.Context, id string, values map[string]interface{}, _ time.Duration) error {
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", id, err)
	}
	m.cache.Add(id, data)
	return nil
}

func (m *MemoryStore) Destroy(_ context.Context, id string) error {
	m.cache.Remove(id)
	return nil
}

// Touch re-adds the entry, which renews its expiry
func (m *MemoryStore) Touch(_ context.Context, id string, _ time.Duration) error {
	data, ok := m.cache.Peek(id)
	if !ok {
		return ErrNotFound
	}
	m.cache.Add(id, data)
	return nil
}

// Len returns the number of live sessions
func (m *MemoryStore) Len() int {
	return m.cache.Len()
}

func (m *MemoryStore) Close() error {
	m.cache.Purge()
	return nil
}
