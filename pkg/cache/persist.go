package cache

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/recall-ai/recall/pkg/models"
	"github.com/recall-ai/recall/pkg/store"
)

// Outputs can be whole documents; lines are capped well above anything a
// model returns in practice.
const maxJSONLLine = 16 * 1024 * 1024

// WriteFile saves the cache to path, picking the format by extension:
// .jsonl for line-delimited JSON, .db for SQLite.
func (c *Cache) WriteFile(path string) error {
	switch filepath.Ext(path) {
	case ".jsonl":
		return c.WriteJSONL(path)
	case ".db":
		return c.WriteSQLiteDB(path)
	default:
		return &models.ValidationError{Reason: fmt.Sprintf("unsupported cache file extension %q", filepath.Ext(path))}
	}
}

// WriteJSONL writes every entry as one JSON object per line, keyed by
// cache key, in sorted key order.
func (c *Cache) WriteJSONL(path string) error {
	entries, err := c.store.Entries()
	if err != nil {
		return err
	}
	return writeJSONLFile(path, entries)
}

// AddFromJSONL strict-merges the entries of a JSONL file into the cache.
// The file is opened read-append, so a missing file is created empty and
// merges nothing. A key that collides with a different cached value
// aborts the merge with a ConflictError.
func (c *Cache) AddFromJSONL(path string, writeNow bool) error {
	entries, err := readJSONL(path)
	if err != nil {
		return err
	}
	return c.AddFromMap(entries, writeNow)
}

// AddFromFile strict-merges another cache file into this one, picking the
// format by extension like WriteFile. A .db file must already exist.
func (c *Cache) AddFromFile(path string, writeNow bool) error {
	switch filepath.Ext(path) {
	case ".jsonl":
		return c.AddFromJSONL(path, writeNow)
	case ".db":
		if _, err := os.Stat(path); err != nil {
			return err
		}
		src, err := store.NewSQLite(path)
		if err != nil {
			return err
		}
		defer src.Close()
		entries, err := src.Entries()
		if err != nil {
			return err
		}
		return c.AddFromMap(entries, writeNow)
	default:
		return &models.ValidationError{Reason: fmt.Sprintf("unsupported cache file extension %q", filepath.Ext(path))}
	}
}

// WriteSQLiteDB writes every entry into the SQLite file at path, creating
// it as needed and overwriting colliding keys.
func (c *Cache) WriteSQLiteDB(path string) error {
	entries, err := c.store.Entries()
	if err != nil {
		return err
	}
	dst, err := store.NewSQLite(path)
	if err != nil {
		return err
	}
	if err := dst.Update(entries, true, store.DefaultBatchSize); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// ToMap returns the cache as a plain mapping of key to entry mapping.
// With withVersion set, a "version" key tags the snapshot format; cache
// keys are hex digests, so the name cannot collide.
func (c *Cache) ToMap(withVersion bool) (map[string]any, error) {
	entries, err := c.store.Entries()
	if err != nil {
		return nil, err
	}
	m := make(map[string]any, len(entries)+1)
	for key, entry := range entries {
		m[key] = entry.ToMap()
	}
	if withVersion {
		m["version"] = Version
	}
	return m, nil
}

// FromMap builds a new in-memory cache from a mapping of key to entry
// mapping, ignoring any "version" tag.
func FromMap(m map[string]any) (*Cache, error) {
	entries := make(map[string]*models.CacheEntry, len(m))
	for key, raw := range m {
		if key == "version" {
			continue
		}
		em, ok := raw.(map[string]any)
		if !ok {
			return nil, &models.ValidationError{Field: key, Reason: fmt.Sprintf("expected entry mapping, got %T", raw)}
		}
		entry, err := models.EntryFromMap(em)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", key, err)
		}
		entries[key] = entry
	}
	return New(WithData(entries))
}

// loadJSONL seeds a fresh store from a bound JSONL file. A path whose
// directory does not exist yet is fine: the cache starts empty and the
// file appears on Close.
func loadJSONL(path string, s store.Store) error {
	entries, err := readJSONL(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return s.Update(entries, true, store.DefaultBatchSize)
}

// readJSONL parses a line-delimited cache file, opening it read-append so
// a missing file springs into existence empty. Each line holds one
// {key: entry} object; a key repeated later in the file wins, matching
// plain mapping construction.
func readJSONL(path string) (map[string]*models.CacheEntry, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries := make(map[string]*models.CacheEntry)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxJSONLLine)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var record map[string]json.RawMessage
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			return nil, &models.ValidationError{Reason: fmt.Sprintf("%s line %d: %v", path, lineNo, err)}
		}
		for key, raw := range record {
			var em map[string]any
			if err := json.Unmarshal(raw, &em); err != nil {
				return nil, &models.ValidationError{Field: key, Reason: fmt.Sprintf("%s line %d: %v", path, lineNo, err)}
			}
			entry, err := models.EntryFromMap(em)
			if err != nil {
				return nil, fmt.Errorf("%s line %d, entry %q: %w", path, lineNo, key, err)
			}
			entries[key] = entry
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return entries, nil
}

func writeJSONLFile(path string, entries map[string]*models.CacheEntry) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cache directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	w := bufio.NewWriter(f)
	for _, key := range sortedKeys(entries) {
		line, err := json.Marshal(map[string]*models.CacheEntry{key: entries[key]})
		if err != nil {
			f.Close()
			return &models.ValidationError{Field: key, Reason: fmt.Sprintf("encode entry: %v", err)}
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func sortedKeys(entries map[string]*models.CacheEntry) []string {
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
