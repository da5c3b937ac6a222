package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recall-ai/recall/pkg/config"
	"github.com/recall-ai/recall/pkg/models"
)

func TestJSONLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.jsonl")

	a := newTestCache(t)
	k1 := storeResponse(t, a, "q1", "a1")
	k2 := storeResponse(t, a, "q2", "a2")
	require.NoError(t, a.WriteJSONL(path))

	b := newTestCache(t)
	require.NoError(t, b.AddFromJSONL(path, true))

	equal, err := a.Equal(b)
	require.NoError(t, err)
	assert.True(t, equal)

	for _, key := range []string{k1, k2} {
		want, err := a.Entry(key)
		require.NoError(t, err)
		got, err := b.Entry(key)
		require.NoError(t, err)
		assert.True(t, want.Equal(got))
		assert.Equal(t, want.Timestamp, got.Timestamp)
	}
}

func TestAddFromJSONLConflict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.jsonl")

	a := newTestCache(t)
	key := storeResponse(t, a, "q", "file value")
	require.NoError(t, a.WriteJSONL(path))

	b := newTestCache(t)
	require.NoError(t, b.AddFromMap(map[string]*models.CacheEntry{key: entryFor(t, "q", "other value")}, true))

	err := b.AddFromJSONL(path, true)
	var cerr *models.ConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, key, cerr.Key)
}

func TestAddFromJSONLCreatesMissingFile(t *testing.T) {
	c := newTestCache(t)
	path := filepath.Join(t.TempDir(), "absent.jsonl")

	require.NoError(t, c.AddFromJSONL(path, true))

	n, err := c.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	info, err := os.Stat(path)
	require.NoError(t, err, "read-append load must create the file")
	assert.Zero(t, info.Size())
}

func TestReadJSONLLastDuplicateWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dup.jsonl")

	var lines []byte
	for _, output := range []string{"first", "second"} {
		line, err := json.Marshal(map[string]any{"dup": entryFor(t, "q", output).ToMap()})
		require.NoError(t, err)
		lines = append(lines, line...)
		lines = append(lines, '\n')
	}
	lines = append(lines, '\n')
	require.NoError(t, os.WriteFile(path, lines, 0o644))

	entries, err := readJSONL(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "second", entries["dup"].Output)
}

func TestReadJSONLMalformedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{not json\n"), 0o644))

	_, err := readJSONL(path)
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestAddFromFileSQLiteDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "donor.db")

	a := newTestCache(t)
	key := storeResponse(t, a, "q", "answer")
	require.NoError(t, a.WriteSQLiteDB(path))

	b := newTestCache(t)
	require.NoError(t, b.AddFromFile(path, true))

	got, err := b.Entry(key)
	require.NoError(t, err)
	assert.Equal(t, `"answer"`, got.Output)
	assert.Empty(t, b.NewEntries(), "imported entries are not session writes")
}

func TestAddFromFileMissingDB(t *testing.T) {
	c := newTestCache(t)

	err := c.AddFromFile(filepath.Join(t.TempDir(), "absent.db"), true)
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestSQLiteDBRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	a := newTestCache(t)
	key := storeResponse(t, a, "q", "answer")
	require.NoError(t, a.WriteSQLiteDB(path))

	b, err := FromSQLiteDB(path)
	require.NoError(t, err)
	defer b.Close()

	equal, err := a.Equal(b)
	require.NoError(t, err)
	assert.True(t, equal)

	got, err := b.Entry(key)
	require.NoError(t, err)
	assert.Equal(t, `"answer"`, got.Output)
}

func TestFromLocalCache(t *testing.T) {
	cfg := config.Default()
	cfg.CachePath = filepath.Join(t.TempDir(), "nested", "data.db")

	c, err := FromLocalCache(cfg)
	require.NoError(t, err)
	key := storeResponse(t, c, "q", "answer")
	require.NoError(t, c.Close())

	reopened, err := FromLocalCache(cfg)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Entry(key)
	require.NoError(t, err)
	assert.Equal(t, `"answer"`, got.Output)
}

func TestFromFileJSONLCreatesOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bound.jsonl")

	c, err := FromFile(path)
	require.NoError(t, err)
	n, err := c.Len()
	require.NoError(t, err)
	require.Equal(t, 0, n)

	key := storeResponse(t, c, "q", "answer")
	require.NoError(t, c.Close())

	_, err = os.Stat(path)
	require.NoError(t, err, "closing a file-bound cache must create the file")

	reopened, err := FromFile(path)
	require.NoError(t, err)
	defer reopened.Close()

	ok, err := reopened.Has(key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWriteFileUnsupportedExtension(t *testing.T) {
	c := newTestCache(t)

	err := c.WriteFile(filepath.Join(t.TempDir(), "cache.txt"))
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestToMapFromMapRoundTrip(t *testing.T) {
	a := newTestCache(t)
	key := storeResponse(t, a, "q1", "a1")
	storeResponse(t, a, "q2", "a2")

	m, err := a.ToMap(true)
	require.NoError(t, err)
	assert.Equal(t, Version, m["version"])
	assert.Len(t, m, 3)

	b, err := FromMap(m)
	require.NoError(t, err)
	defer b.Close()

	equal, err := a.Equal(b)
	require.NoError(t, err)
	assert.True(t, equal)

	want, err := a.Entry(key)
	require.NoError(t, err)
	got, err := b.Entry(key)
	require.NoError(t, err)
	assert.True(t, want.Equal(got))
	assert.Equal(t, want.Timestamp, got.Timestamp)
}

func TestFromMapRejectsBadValue(t *testing.T) {
	_, err := FromMap(map[string]any{"k": "not an entry"})
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
}
