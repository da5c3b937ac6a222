package handler

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "modernc.org/sqlite"

	"github.com/recall-ai/recall/pkg/cache"
	"github.com/recall-ai/recall/pkg/models"
	"github.com/recall-ai/recall/pkg/pyliteral"
)

// Migrate folds a legacy response database into the cache, then renames
// the old file out of the way so the migration runs exactly once. The
// legacy schema was responses(id, model, parameters, system_prompt,
// prompt, output) with parameters stored as a Python literal. Rows that
// cannot be parsed, or whose key already holds a different value, are
// skipped with a warning; the existing cache always wins.
func (h *Handler) Migrate(c *cache.Cache) (int, error) {
	path := h.cfg.LegacyPath
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return 0, nil
	}

	entries, skipped, err := h.readLegacy(path)
	if err != nil {
		return 0, err
	}

	migrated := 0
	for key, entry := range entries {
		err := c.AddFromMap(map[string]*models.CacheEntry{key: entry}, true)
		var cerr *models.ConflictError
		if errors.As(err, &cerr) {
			h.logger.Warn().Str("key", key).Msg("legacy entry conflicts with cached value, keeping cached")
			skipped++
			continue
		}
		if err != nil {
			return migrated, err
		}
		migrated++
	}
	if skipped > 0 {
		h.logger.Warn().Int("rows", skipped).Msg("skipped unreadable legacy rows")
	}

	if err := os.Rename(path, path+".bak"); err != nil {
		return migrated, fmt.Errorf("retire legacy database: %w", err)
	}
	return migrated, nil
}

func (h *Handler) readLegacy(path string) (map[string]*models.CacheEntry, int, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, 0, fmt.Errorf("open legacy database: %w", err)
	}
	defer db.Close()

	rows, err := db.Query(`SELECT id, model, parameters, system_prompt, prompt, output FROM responses ORDER BY id`)
	if err != nil {
		return nil, 0, fmt.Errorf("read legacy responses: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]*models.CacheEntry)
	skipped := 0
	for rows.Next() {
		var id int64
		var model, params, systemPrompt, prompt, output sql.NullString
		if err := rows.Scan(&id, &model, &params, &systemPrompt, &prompt, &output); err != nil {
			return nil, 0, fmt.Errorf("scan legacy row: %w", err)
		}

		parameters, err := pyliteral.ParseDict(params.String)
		if err != nil {
			h.logger.Warn().Int64("id", id).Err(err).Msg("unparseable legacy parameters")
			skipped++
			continue
		}

		entry, err := models.NewCacheEntry(model.String, parameters, systemPrompt.String, prompt.String, output.String, 0, "")
		if err != nil {
			h.logger.Warn().Int64("id", id).Err(err).Msg("invalid legacy row")
			skipped++
			continue
		}
		entries[entry.Key()] = entry
	}
	return entries, skipped, rows.Err()
}
