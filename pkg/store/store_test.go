package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/recall-ai/recall/pkg/models"
)

func newTestEntry(t *testing.T, userPrompt, output string) *models.CacheEntry {
	t.Helper()
	e, err := models.NewCacheEntry("gpt-4o", map[string]any{"temperature": 0.5}, "You are helpful.", userPrompt, output, 0, "openai")
	if err != nil {
		t.Fatal(err)
	}
	return e
}

// runStoreTests exercises the Store contract against a fresh store per
// subtest. Both implementations must pass it unchanged.
func runStoreTests(t *testing.T, open func(t *testing.T) Store) {
	t.Run("set and get", func(t *testing.T) {
		s := open(t)
		want := newTestEntry(t, "What is 1+1?", "2")

		if err := s.Set("k1", want); err != nil {
			t.Fatal(err)
		}
		got, ok, err := s.Get("k1")
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatal("expected entry to exist")
		}
		if !got.Equal(want) {
			t.Errorf("got %+v, want %+v", got, want)
		}
	})

	t.Run("get missing", func(t *testing.T) {
		s := open(t)
		_, ok, err := s.Get("absent")
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Error("expected miss for absent key")
		}
	})

	t.Run("set replaces", func(t *testing.T) {
		s := open(t)
		if err := s.Set("k1", newTestEntry(t, "q", "old")); err != nil {
			t.Fatal(err)
		}
		if err := s.Set("k1", newTestEntry(t, "q", "new")); err != nil {
			t.Fatal(err)
		}
		got, _, err := s.Get("k1")
		if err != nil {
			t.Fatal(err)
		}
		if got.Output != "new" {
			t.Errorf("expected replaced output, got %q", got.Output)
		}
	})

	t.Run("delete", func(t *testing.T) {
		s := open(t)
		if err := s.Set("k1", newTestEntry(t, "q", "a")); err != nil {
			t.Fatal(err)
		}
		if err := s.Delete("k1"); err != nil {
			t.Fatal(err)
		}
		ok, err := s.Has("k1")
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Error("expected key to be gone after delete")
		}
	})

	t.Run("delete missing", func(t *testing.T) {
		s := open(t)
		err := s.Delete("absent")
		if !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("has and len", func(t *testing.T) {
		s := open(t)
		if err := s.Set("k1", newTestEntry(t, "q1", "a")); err != nil {
			t.Fatal(err)
		}
		if err := s.Set("k2", newTestEntry(t, "q2", "b")); err != nil {
			t.Fatal(err)
		}

		ok, err := s.Has("k1")
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Error("expected k1 to exist")
		}
		n, err := s.Len()
		if err != nil {
			t.Fatal(err)
		}
		if n != 2 {
			t.Errorf("expected 2 entries, got %d", n)
		}
	})

	t.Run("keys sorted", func(t *testing.T) {
		s := open(t)
		for _, key := range []string{"c", "a", "b"} {
			if err := s.Set(key, newTestEntry(t, key, "v")); err != nil {
				t.Fatal(err)
			}
		}
		keys, err := s.Keys()
		if err != nil {
			t.Fatal(err)
		}
		want := []string{"a", "b", "c"}
		if len(keys) != len(want) {
			t.Fatalf("expected %d keys, got %d", len(want), len(keys))
		}
		for i := range want {
			if keys[i] != want[i] {
				t.Errorf("key %d: got %q, want %q", i, keys[i], want[i])
			}
		}
	})

	t.Run("entries", func(t *testing.T) {
		s := open(t)
		want := map[string]*models.CacheEntry{
			"k1": newTestEntry(t, "q1", "a"),
			"k2": newTestEntry(t, "q2", "b"),
		}
		for key, entry := range want {
			if err := s.Set(key, entry); err != nil {
				t.Fatal(err)
			}
		}
		got, err := s.Entries()
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != len(want) {
			t.Fatalf("expected %d entries, got %d", len(want), len(got))
		}
		for key, entry := range want {
			if !got[key].Equal(entry) {
				t.Errorf("entry %q differs", key)
			}
		}
	})

	t.Run("update keeps existing without overwrite", func(t *testing.T) {
		s := open(t)
		if err := s.Set("k1", newTestEntry(t, "q", "original")); err != nil {
			t.Fatal(err)
		}
		incoming := map[string]*models.CacheEntry{
			"k1": newTestEntry(t, "q", "replacement"),
			"k2": newTestEntry(t, "q2", "fresh"),
		}
		if err := s.Update(incoming, false, 0); err != nil {
			t.Fatal(err)
		}

		got, _, err := s.Get("k1")
		if err != nil {
			t.Fatal(err)
		}
		if got.Output != "original" {
			t.Errorf("k1 overwritten: got %q", got.Output)
		}
		got, _, err = s.Get("k2")
		if err != nil {
			t.Fatal(err)
		}
		if got.Output != "fresh" {
			t.Errorf("k2 missing: got %+v", got)
		}
	})

	t.Run("update replaces with overwrite", func(t *testing.T) {
		s := open(t)
		if err := s.Set("k1", newTestEntry(t, "q", "original")); err != nil {
			t.Fatal(err)
		}
		incoming := map[string]*models.CacheEntry{
			"k1": newTestEntry(t, "q", "replacement"),
		}
		if err := s.Update(incoming, true, 0); err != nil {
			t.Fatal(err)
		}

		got, _, err := s.Get("k1")
		if err != nil {
			t.Fatal(err)
		}
		if got.Output != "replacement" {
			t.Errorf("expected replacement, got %q", got.Output)
		}
	})

	t.Run("update in small batches", func(t *testing.T) {
		s := open(t)
		incoming := make(map[string]*models.CacheEntry)
		for i := 0; i < 10; i++ {
			key := fmt.Sprintf("k%02d", i)
			incoming[key] = newTestEntry(t, key, "v")
		}
		if err := s.Update(incoming, true, 3); err != nil {
			t.Fatal(err)
		}

		n, err := s.Len()
		if err != nil {
			t.Fatal(err)
		}
		if n != 10 {
			t.Errorf("expected 10 entries, got %d", n)
		}
	})

	t.Run("update empty mapping", func(t *testing.T) {
		s := open(t)
		if err := s.Update(nil, true, 0); err != nil {
			t.Fatal(err)
		}
	})
}
