// Package handler wires configuration to a ready-to-use cache. It decides
// which cache a session talks to and folds any pre-1.0 response database
// into the persistent one before first use.
package handler

import (
	"github.com/rs/zerolog"

	"github.com/recall-ai/recall/pkg/cache"
	"github.com/recall-ai/recall/pkg/config"
)

// Handler opens caches on behalf of a session.
type Handler struct {
	cfg    *config.Config
	logger zerolog.Logger
}

// New returns a Handler for the given configuration.
func New(cfg *config.Config, logger zerolog.Logger) *Handler {
	return &Handler{cfg: cfg, logger: logger}
}

// Open returns the cache for a session. A non-empty override path is
// opened as-is; otherwise the configured persistent cache is used, after
// migrating any legacy response database found next to it. Migration
// problems are logged and never block the session.
func (h *Handler) Open(override string) (*cache.Cache, error) {
	if override != "" {
		return cache.FromFile(override)
	}

	c, err := cache.FromLocalCache(h.cfg)
	if err != nil {
		return nil, err
	}

	migrated, err := h.Migrate(c)
	if err != nil {
		h.logger.Warn().Err(err).Str("path", h.cfg.LegacyPath).Msg("legacy cache migration failed")
	}
	if migrated > 0 {
		h.logger.Info().Int("entries", migrated).Str("from", h.cfg.LegacyPath).Msg("migrated legacy cache")
	}
	return c, nil
}
