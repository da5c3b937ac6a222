// Package cache provides a content-addressed cache for LLM responses.
// Lookups and writes are keyed by a deterministic hash of the request, so
// repeating a request never pays for a second model call.
package cache

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/recall-ai/recall/pkg/config"
	"github.com/recall-ai/recall/pkg/models"
	"github.com/recall-ai/recall/pkg/store"
)

// Version tags serialized cache snapshots.
const Version = "0.1.0"

// Cache fronts a backing store with per-session bookkeeping: which entries
// this process wrote, which it fetched, and which writes are still
// buffered. All methods are safe for concurrent use.
type Cache struct {
	store          store.Store
	filename       string
	immediateWrite bool

	mu         sync.Mutex
	newEntries map[string]*models.CacheEntry
	fetched    map[string]*models.CacheEntry
	buffer     map[string]*models.CacheEntry

	hits   atomic.Int64
	misses atomic.Int64
}

type options struct {
	store          store.Store
	data           map[string]*models.CacheEntry
	filename       string
	immediateWrite bool
}

// Option configures a Cache under construction.
type Option func(*options)

// WithStore backs the cache with an existing store instead of a fresh
// in-memory one.
func WithStore(s store.Store) Option {
	return func(o *options) { o.store = s }
}

// WithData seeds the cache with entries. Mutually exclusive with
// WithFilename.
func WithData(entries map[string]*models.CacheEntry) Option {
	return func(o *options) { o.data = entries }
}

// WithFilename binds the cache to a file: a .db file becomes the backing
// store directly, a .jsonl file is loaded into memory and written back on
// Close. Mutually exclusive with WithData and WithStore.
func WithFilename(path string) Option {
	return func(o *options) { o.filename = path }
}

// WithImmediateWrite controls whether Store writes through right away
// (the default) or buffers until Flush or Close. Buffered entries are not
// visible to Fetch.
func WithImmediateWrite(v bool) Option {
	return func(o *options) { o.immediateWrite = v }
}

// New builds a Cache. With no options it is an empty in-memory cache.
func New(opts ...Option) (*Cache, error) {
	o := options{immediateWrite: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.filename != "" && o.data != nil {
		return nil, &models.ValidationError{Reason: "filename and data are mutually exclusive"}
	}
	if o.filename != "" && o.store != nil {
		return nil, &models.ValidationError{Reason: "filename and store are mutually exclusive"}
	}

	c := &Cache{
		immediateWrite: o.immediateWrite,
		newEntries:     make(map[string]*models.CacheEntry),
		fetched:        make(map[string]*models.CacheEntry),
		buffer:         make(map[string]*models.CacheEntry),
	}

	switch {
	case o.filename != "":
		s, keepFilename, err := openFile(o.filename)
		if err != nil {
			return nil, err
		}
		c.store = s
		if keepFilename {
			c.filename = o.filename
		}
	case o.store != nil:
		c.store = o.store
	default:
		c.store = store.NewMemory()
	}

	if o.data != nil {
		if err := c.AddFromMap(o.data, true); err != nil {
			c.store.Close()
			return nil, err
		}
	}
	return c, nil
}

// openFile picks the backing for a bound file by extension. SQLite files
// are the store itself and need no write-back; JSONL files are loaded into
// memory and saved again on Close.
func openFile(path string) (store.Store, bool, error) {
	switch filepath.Ext(path) {
	case ".db":
		s, err := store.NewSQLite(path)
		if err != nil {
			return nil, false, err
		}
		return s, false, nil
	case ".jsonl":
		s := store.NewMemory()
		if err := loadJSONL(path, s); err != nil {
			return nil, false, err
		}
		return s, true, nil
	default:
		return nil, false, &models.ValidationError{Reason: fmt.Sprintf("unsupported cache file extension %q", filepath.Ext(path))}
	}
}

// FromFile opens a cache bound to path, dispatching on the extension.
func FromFile(path string) (*Cache, error) {
	return New(WithFilename(path))
}

// FromSQLiteDB opens a cache backed directly by the SQLite file at path.
func FromSQLiteDB(path string) (*Cache, error) {
	return New(WithFilename(path))
}

// FromLocalCache opens the persistent cache at the configured default
// path. Parent directories are created as needed.
func FromLocalCache(cfg *config.Config) (*Cache, error) {
	return FromFile(cfg.CachePath)
}

// Fetch looks up the response for a request. It returns the cached output,
// the derived key, and whether the lookup hit. Hits are recorded in the
// session's fetched set.
func (c *Cache) Fetch(model string, parameters map[string]any, systemPrompt, userPrompt string, iteration int) (string, string, bool, error) {
	key, err := models.GenKey(model, parameters, systemPrompt, userPrompt, iteration)
	if err != nil {
		return "", "", false, err
	}

	entry, ok, err := c.store.Get(key)
	if err != nil {
		return "", key, false, fmt.Errorf("fetch %q: %w", key, err)
	}
	if !ok {
		c.misses.Add(1)
		return "", key, false, nil
	}

	c.hits.Add(1)
	c.mu.Lock()
	c.fetched[key] = entry
	c.mu.Unlock()
	return entry.Output, key, true, nil
}

// Store caches a model response and returns its key. The response is
// JSON-encoded into the entry's output field, which is also what Fetch
// hands back. The entry lands in the backing store immediately unless the
// cache was built with WithImmediateWrite(false), in which case it waits
// for Flush or Close. Either way it is recorded in the session's
// new-entry set.
func (c *Cache) Store(model string, parameters map[string]any, systemPrompt, userPrompt string, response any, iteration int, service string) (string, error) {
	output, err := json.Marshal(response)
	if err != nil {
		return "", &models.ValidationError{Field: "response", Reason: fmt.Sprintf("cannot encode: %v", err)}
	}
	entry, err := models.NewCacheEntry(model, parameters, systemPrompt, userPrompt, string(output), iteration, service)
	if err != nil {
		return "", err
	}
	key := entry.Key()

	if c.immediateWrite {
		if err := c.store.Set(key, entry); err != nil {
			return "", fmt.Errorf("store %q: %w", key, err)
		}
	}

	c.mu.Lock()
	c.newEntries[key] = entry
	if !c.immediateWrite {
		c.buffer[key] = entry
	}
	c.mu.Unlock()
	return key, nil
}

// NewEntries returns the entries written through this cache during the
// current session, buffered or not.
func (c *Cache) NewEntries() map[string]*models.CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyEntryMap(c.newEntries)
}

// FetchedEntries returns the entries served from this cache during the
// current session.
func (c *Cache) FetchedEntries() map[string]*models.CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyEntryMap(c.fetched)
}

// Entry returns the stored entry for key, or models.ErrNotFound.
func (c *Cache) Entry(key string) (*models.CacheEntry, error) {
	entry, ok, err := c.store.Get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("entry %q: %w", key, models.ErrNotFound)
	}
	return entry, nil
}

// Delete removes the entry for key, returning models.ErrNotFound when it
// is not cached.
func (c *Cache) Delete(key string) error {
	return c.store.Delete(key)
}

// Has reports whether key is cached.
func (c *Cache) Has(key string) (bool, error) {
	return c.store.Has(key)
}

// Len returns the number of cached entries.
func (c *Cache) Len() (int, error) {
	return c.store.Len()
}

// Keys returns all cached keys.
func (c *Cache) Keys() ([]string, error) {
	return c.store.Keys()
}

// Entries returns all cached key/entry pairs.
func (c *Cache) Entries() (map[string]*models.CacheEntry, error) {
	return c.store.Entries()
}

// Diff returns a new in-memory cache holding the entries whose keys are
// present here but not in other. Values play no part in the comparison.
func (c *Cache) Diff(other *Cache) (*Cache, error) {
	mine, err := c.store.Entries()
	if err != nil {
		return nil, err
	}
	out := make(map[string]*models.CacheEntry)
	for key, entry := range mine {
		ok, err := other.Has(key)
		if err != nil {
			return nil, err
		}
		if !ok {
			out[key] = entry
		}
	}
	return New(WithData(out))
}

// Union merges the other cache's entries into this one and returns the
// receiver. On key collision the other cache's entry wins.
func (c *Cache) Union(other *Cache) (*Cache, error) {
	theirs, err := other.Entries()
	if err != nil {
		return nil, err
	}
	if err := c.store.Update(theirs, true, 0); err != nil {
		return nil, err
	}
	return c, nil
}

// Equal reports whether both caches hold exactly the same key set. Entry
// values are deliberately ignored.
func (c *Cache) Equal(other *Cache) (bool, error) {
	mine, err := c.Keys()
	if err != nil {
		return false, err
	}
	theirs, err := other.Keys()
	if err != nil {
		return false, err
	}
	if len(mine) != len(theirs) {
		return false, nil
	}
	for i := range mine {
		if mine[i] != theirs[i] {
			return false, nil
		}
	}
	return true, nil
}

// AddFromMap merges entries under the strict rule: a key that already
// exists with a different value is a ConflictError, and nothing from the
// mapping is applied. Timestamps are ignored when comparing. Merged
// entries are not recorded as session writes. With writeNow false the
// merge joins the write buffer instead of landing immediately.
func (c *Cache) AddFromMap(entries map[string]*models.CacheEntry, writeNow bool) error {
	for key, entry := range entries {
		if err := entry.Validate(); err != nil {
			return fmt.Errorf("add %q: %w", key, err)
		}
		existing, ok, err := c.store.Get(key)
		if err != nil {
			return fmt.Errorf("add %q: %w", key, err)
		}
		if ok && !existing.Equal(entry) {
			return &models.ConflictError{Key: key}
		}
	}

	if !writeNow {
		c.mu.Lock()
		for key, entry := range entries {
			c.buffer[key] = entry
		}
		c.mu.Unlock()
		return nil
	}
	return c.store.Update(copyEntryMap(entries), true, store.DefaultBatchSize)
}

// Flush writes any buffered entries through to the backing store.
func (c *Cache) Flush() error {
	c.mu.Lock()
	pending := c.buffer
	c.buffer = make(map[string]*models.CacheEntry)
	c.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	if err := c.store.Update(pending, true, store.DefaultBatchSize); err != nil {
		c.mu.Lock()
		for key, entry := range pending {
			if _, ok := c.buffer[key]; !ok {
				c.buffer[key] = entry
			}
		}
		c.mu.Unlock()
		return fmt.Errorf("flush buffered writes: %w", err)
	}
	return nil
}

// CountByModel returns entry counts grouped by model. Stores that can
// aggregate natively are asked to; otherwise the entries are scanned.
func (c *Cache) CountByModel() (map[string]int64, error) {
	if s, ok := c.store.(interface {
		CountByModel() (map[string]int64, error)
	}); ok {
		return s.CountByModel()
	}
	entries, err := c.store.Entries()
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	for _, entry := range entries {
		counts[entry.Model]++
	}
	return counts, nil
}

// Stats reports entry count and this session's hit/miss tallies.
func (c *Cache) Stats() (models.CacheStats, error) {
	n, err := c.store.Len()
	if err != nil {
		return models.CacheStats{}, err
	}
	return models.CacheStats{
		Entries: int64(n),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Close flushes buffered writes, saves the bound file if there is one, and
// releases the backing store. The store is closed even when an earlier
// step fails.
func (c *Cache) Close() error {
	flushErr := c.Flush()
	var saveErr error
	if c.filename != "" {
		saveErr = c.WriteFile(c.filename)
	}
	closeErr := c.store.Close()

	if flushErr != nil {
		return flushErr
	}
	if saveErr != nil {
		return saveErr
	}
	return closeErr
}

func copyEntryMap(entries map[string]*models.CacheEntry) map[string]*models.CacheEntry {
	out := make(map[string]*models.CacheEntry, len(entries))
	for key, entry := range entries {
		out[key] = entry
	}
	return out
}
