package cache

import (
	"fmt"
	"iter"
	"time"

	"github.com/maypok86/otter/v2"
)

// Memory is an in-memory W-TinyLFU table backed by otter. Entries not read or
// written for idleTTL are dropped.
type Memory[K comparable, V any] struct {
	cache *otter.Cache[K, V]
}

var _ Table[string, int] = (*Memory[string, int])(nil)

// NewMemory creates a table holding at most maxSize entries. A non-positive
// idleTTL disables expiry.
func NewMemory[K comparable, V any](maxSize int, idleTTL time.Duration) (*Memory[K, V], error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("create cache: max size must be positive, got %d", maxSize)
	}
	opts := &otter.Options[K, V]{MaximumSize: maxSize}
	if idleTTL > 0 {
		opts.ExpiryCalculator = otter.ExpiryAccessing[K, V](idleTTL)
	}
	c, err := otter.New[K, V](opts)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Memory[K, V]{cache: c}, nil
}

// Get retrieves a value if present and not expired.
func (m *Memory[K, V]) Get(key K) (V, bool) {
	return m.cache.GetIfPresent(key)
}

// Set stores a value.
func (m *Memory[K, V]) Set(key K, val V) {
	m.cache.Set(key, val)
}

// Delete removes a value.
func (m *Memory[K, V]) Delete(key K) bool {
	_, ok := m.cache.Invalidate(key)
	return ok
}

// Purge removes all values.
func (m *Memory[K, V]) Purge() {
	m.cache.InvalidateAll()
}

// All iterates over the live entries.
func (m *Memory[K, V]) All() iter.Seq2[K, V] {
	return m.cache.All()
}

// Len returns the estimated entry count.
func (m *Memory[K, V]) Len() int {
	return m.cache.EstimatedSize()
}
