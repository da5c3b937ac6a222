package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite"

	"github.com/recall-ai/recall/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS data (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// SQLite is a Store backed by a single-table database. Every write runs in
// its own short transaction, so a crash loses at most the operation in
// flight.
type SQLite struct {
	db   *sql.DB
	path string
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens the database at path, creating the file, its parent
// directories, and the schema as needed.
func NewSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLite{db: db, path: path}, nil
}

// Path returns the database file location.
func (s *SQLite) Path() string {
	return s.path
}

func (s *SQLite) Get(key string) (*models.CacheEntry, bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM data WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	entry, err := decodeEntry(raw)
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return entry, true, nil
}

func (s *SQLite) Set(key string, entry *models.CacheEntry) error {
	raw, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO data (key, value) VALUES (?, ?)`, key, raw); err != nil {
			return fmt.Errorf("set %q: %w", key, err)
		}
		return nil
	})
}

func (s *SQLite) Delete(key string) error {
	return s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM data WHERE key = ?`, key)
		if err != nil {
			return fmt.Errorf("delete %q: %w", key, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete %q: %w", key, err)
		}
		if affected == 0 {
			return fmt.Errorf("delete %q: %w", key, models.ErrNotFound)
		}
		return nil
	})
}

func (s *SQLite) Has(key string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM data WHERE key = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check %q: %w", key, err)
	}
	return true, nil
}

func (s *SQLite) Len() (int, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM data`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return count, nil
}

func (s *SQLite) Keys() ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM data ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("list keys: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *SQLite) Entries() (map[string]*models.CacheEntry, error) {
	rows, err := s.db.Query(`SELECT key, value FROM data`)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]*models.CacheEntry)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("list entries: %w", err)
		}
		entry, err := decodeEntry(raw)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", key, err)
		}
		entries[key] = entry
	}
	return entries, rows.Err()
}

// Update validates and encodes the whole mapping before touching the
// database, then writes it in key order, one transaction per batch.
func (s *SQLite) Update(entries map[string]*models.CacheEntry, overwrite bool, maxBatchSize int) error {
	if len(entries) == 0 {
		return nil
	}
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultBatchSize
	}

	keys := make([]string, 0, len(entries))
	encoded := make(map[string]string, len(entries))
	for key, entry := range entries {
		raw, err := encodeEntry(entry)
		if err != nil {
			return fmt.Errorf("update %q: %w", key, err)
		}
		keys = append(keys, key)
		encoded[key] = raw
	}
	sort.Strings(keys)

	stmt := `INSERT OR IGNORE INTO data (key, value) VALUES (?, ?)`
	if overwrite {
		stmt = `INSERT OR REPLACE INTO data (key, value) VALUES (?, ?)`
	}

	for start := 0; start < len(keys); start += maxBatchSize {
		batch := keys[start:min(start+maxBatchSize, len(keys))]
		err := s.withTx(func(tx *sql.Tx) error {
			prepared, err := tx.Prepare(stmt)
			if err != nil {
				return fmt.Errorf("prepare update: %w", err)
			}
			defer prepared.Close()
			for _, key := range batch {
				if _, err := prepared.Exec(key, encoded[key]); err != nil {
					return fmt.Errorf("update %q: %w", key, err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// CountByModel returns entry counts grouped by model.
func (s *SQLite) CountByModel() (map[string]int64, error) {
	rows, err := s.db.Query(`SELECT json_extract(value, '$.model'), COUNT(*) FROM data GROUP BY 1`)
	if err != nil {
		return nil, fmt.Errorf("count by model: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var model string
		var count int64
		if err := rows.Scan(&model, &count); err != nil {
			return nil, fmt.Errorf("count by model: %w", err)
		}
		counts[model] = count
	}
	return counts, rows.Err()
}

func (s *SQLite) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

// withTx runs fn inside a transaction, rolling back when fn fails.
func (s *SQLite) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func encodeEntry(entry *models.CacheEntry) (string, error) {
	if err := entry.Validate(); err != nil {
		return "", err
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return "", &models.ValidationError{Reason: fmt.Sprintf("encode entry: %v", err)}
	}
	return string(raw), nil
}

// decodeEntry goes through the mapping form so rows written by other tools
// get the same field checks as any other input.
func decodeEntry(raw string) (*models.CacheEntry, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, &models.ValidationError{Reason: fmt.Sprintf("malformed entry JSON: %v", err)}
	}
	return models.EntryFromMap(m)
}
