// Package store defines the persistence contract cache entries live
// behind, with in-memory and SQLite implementations.
package store

import "github.com/recall-ai/recall/pkg/models"

// DefaultBatchSize bounds how many rows a single bulk-update transaction
// writes.
const DefaultBatchSize = 100

// Store is the backing contract for cache entries. Implementations must be
// safe for concurrent use. Entries returns key/entry pairs, so callers
// needing only values range over it.
type Store interface {
	// Get returns the entry for key; the bool reports whether it exists.
	Get(key string) (*models.CacheEntry, bool, error)

	// Set writes an entry unconditionally, replacing any existing value.
	Set(key string, entry *models.CacheEntry) error

	// Delete removes key, returning models.ErrNotFound when absent.
	Delete(key string) error

	// Has reports whether key exists.
	Has(key string) (bool, error)

	// Len returns the number of stored entries.
	Len() (int, error)

	// Keys returns all stored keys in sorted order.
	Keys() ([]string, error)

	// Entries returns all stored key/entry pairs.
	Entries() (map[string]*models.CacheEntry, error)

	// Update bulk-writes a mapping in chunks of at most maxBatchSize rows
	// per transaction. With overwrite set, incoming values replace
	// existing ones; without it, existing keys keep their current value.
	// maxBatchSize <= 0 means DefaultBatchSize.
	Update(entries map[string]*models.CacheEntry, overwrite bool, maxBatchSize int) error

	// Close releases the store's resources.
	Close() error
}
