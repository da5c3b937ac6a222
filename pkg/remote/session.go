package remote

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/recall-ai/recall/pkg/cache"
	"github.com/recall-ai/recall/pkg/models"
)

// SyncSession mirrors a local cache against a cache server around one unit
// of work: Begin pulls what the server has, Close pushes what it lacks.
type SyncSession struct {
	id          string
	cache       *cache.Cache
	client      Client
	logger      zerolog.Logger
	enabled     bool
	description string

	started       bool
	snapshot      map[string]struct{}
	serverMissing []string
}

// SessionOption configures a sync session.
type SessionOption func(*SyncSession)

// WithDescription labels the entries this session uploads on the server.
func WithDescription(description string) SessionOption {
	return func(s *SyncSession) {
		s.description = description
	}
}

// WithEnabled toggles syncing. A disabled session runs the wrapped work
// without touching the server.
func WithEnabled(enabled bool) SessionOption {
	return func(s *SyncSession) {
		s.enabled = enabled
	}
}

// NewSession prepares a sync session for the given cache and server.
// Sessions sync unless disabled with WithEnabled(false).
func NewSession(c *cache.Cache, client Client, logger zerolog.Logger, opts ...SessionOption) *SyncSession {
	s := &SyncSession{
		id:      uuid.NewString(),
		cache:   c,
		client:  client,
		logger:  logger,
		enabled: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session identifier carried in logs.
func (s *SyncSession) ID() string {
	return s.id
}

// Begin diffs the local key set against the server, strict-merges the
// entries the server has that we lack, and snapshots the resulting key
// set. Everything cached after this point counts as new work to upload.
// On a disabled session Begin does nothing.
func (s *SyncSession) Begin(ctx context.Context) error {
	if !s.enabled {
		return nil
	}
	keys, err := s.cache.Keys()
	if err != nil {
		return err
	}

	diff, err := s.client.Diff(ctx, keys)
	if err != nil {
		return fmt.Errorf("diff against server: %w", err)
	}

	if len(diff.ClientMissingEntries) > 0 {
		downloaded := make(map[string]*models.CacheEntry, len(diff.ClientMissingEntries))
		for _, entry := range diff.ClientMissingEntries {
			downloaded[entry.Key()] = entry
		}
		if err := s.cache.AddFromMap(downloaded, true); err != nil {
			return fmt.Errorf("merge server entries: %w", err)
		}
	}

	after, err := s.cache.Keys()
	if err != nil {
		return err
	}
	s.snapshot = make(map[string]struct{}, len(after))
	for _, key := range after {
		s.snapshot[key] = struct{}{}
	}
	s.serverMissing = diff.ServerMissingKeys
	s.started = true

	s.logger.Info().
		Str("session", s.id).
		Int("downloaded", len(diff.ClientMissingEntries)).
		Int("server_missing", len(diff.ServerMissingKeys)).
		Msg("cache sync started")
	return nil
}

// Close flushes the cache and uploads the server's missing keys that we
// hold plus everything cached since Begin. Closing twice, or without
// Begin, does nothing.
func (s *SyncSession) Close(ctx context.Context) error {
	if !s.started {
		return nil
	}
	s.started = false

	if err := s.cache.Flush(); err != nil {
		return err
	}
	entries, err := s.cache.Entries()
	if err != nil {
		return err
	}

	candidates := make(map[string]*models.CacheEntry)
	for _, key := range s.serverMissing {
		if entry, ok := entries[key]; ok {
			candidates[key] = entry
		}
	}
	for key, entry := range entries {
		if _, ok := s.snapshot[key]; !ok {
			candidates[key] = entry
		}
	}
	if len(candidates) == 0 {
		s.logger.Debug().Str("session", s.id).Msg("nothing to upload")
		return nil
	}

	keys := make([]string, 0, len(candidates))
	for key := range candidates {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	upload := make([]*models.CacheEntry, 0, len(keys))
	for _, key := range keys {
		upload = append(upload, candidates[key])
	}

	if err := s.client.CreateMany(ctx, upload, s.description); err != nil {
		return err
	}
	s.logger.Info().Str("session", s.id).Int("uploaded", len(upload)).Msg("cache sync finished")
	return nil
}

// Run executes fn inside a sync session. Close always runs, and fn's
// error wins over Close's when both fail.
func Run(ctx context.Context, c *cache.Cache, client Client, logger zerolog.Logger, fn func(*cache.Cache) error, opts ...SessionOption) error {
	s := NewSession(c, client, logger, opts...)
	if err := s.Begin(ctx); err != nil {
		return err
	}

	fnErr := fn(c)
	closeErr := s.Close(ctx)
	if fnErr != nil {
		return fnErr
	}
	return closeErr
}
