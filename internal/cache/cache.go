// Package cache provides bounded in-memory tables for per-stream state.
package cache

import "iter"

// Table is a bounded key/value table. Implementations are safe for
// concurrent use.
type Table[K comparable, V any] interface {
	// Get retrieves a value by key.
	Get(key K) (V, bool)
	// Set stores a value, replacing any existing one.
	Set(key K, val V)
	// Delete removes a value and reports whether it was present.
	Delete(key K) bool
	// Purge removes all values.
	Purge()
	// All iterates over the live entries in no particular order.
	All() iter.Seq2[K, V]
	// Len returns the approximate number of entries.
	Len() int
}
