package cache

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func providers(t *testing.T) map[string]CacheProvider {
	t.Helper()
	dir := t.TempDir()
	sqlite, err := NewSQLiteCache(filepath.Join(dir, "cache.db"))
	require.NoError(t, err)
	bolt, err := NewBoltCache(filepath.Join(dir, "cache.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlite.Close()
		bolt.Close()
	})
	return map[string]CacheProvider{
		"memory": NewMemCache(),
		"sqlite": sqlite,
		"bolt":   bolt,
	}
}

func TestProviders(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, p.Put("a-v1", "GET:/one", []byte("first")))
			require.NoError(t, p.Put("a-v1", "GET:/one", []byte("second")))
			require.NoError(t, p.Put("a-v1", "GET:/two", []byte("two")))

			bytes, ok, err := p.Get("a-v1", "GET:/one")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "second", string(bytes))

			_, ok, err = p.Get("a-v1", "GET:/missing")
			require.NoError(t, err)
			assert.False(t, ok)

			_, ok, err = p.Get("other", "GET:/one")
			require.NoError(t, err)
			assert.False(t, ok)

			assert.True(t, p.Has("a-v1", "GET:/two"))
			require.NoError(t, p.Purge("a-v1", "GET:/two"))
			assert.False(t, p.Has("a-v1", "GET:/two"))

			require.NoError(t, p.Open("empty-v1"))
			names, err := p.Partitions()
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"a-v1", "empty-v1"}, names)

			var keys []string
			require.NoError(t, p.Keys("a-v1", func(k string) { keys = append(keys, k) }))
			assert.Equal(t, []string{"GET:/one"}, keys)

			require.NoError(t, p.Delete("a-v1"))
			assert.False(t, p.Has("a-v1", "GET:/one"))
			names, err = p.Partitions()
			require.NoError(t, err)
			assert.Equal(t, []string{"empty-v1"}, names)
		})
	}
}

func TestActivateDeletesPreviousVersions(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			old := NewManager(p, "octo-books", "v1")
			require.NoError(t, old.Partition(API).Put("GET:/api/books", []byte("old list")))
			require.NoError(t, old.Partition(Images).Put("GET:/cover.png", []byte("old cover")))

			current := NewManager(p, "octo-books", "v2")
			require.NoError(t, current.Partition(API).Put("GET:/api/books", []byte("new list")))

			deleted, err := current.Activate()
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"octo-books-api-v1", "octo-books-images-v1"}, deleted)

			_, err = old.Partition(API).Match("GET:/api/books")
			assert.True(t, errors.Is(err, ErrCacheMiss))
			_, err = old.Partition(Images).Match("GET:/cover.png")
			assert.True(t, errors.Is(err, ErrCacheMiss))

			bytes, err := current.Partition(API).Match("GET:/api/books")
			require.NoError(t, err)
			assert.Equal(t, "new list", string(bytes))
		})
	}
}

func TestManagerNames(t *testing.T) {
	m := NewManager(NewMemCache(), "octo-books", "v3")
	assert.Equal(t, "octo-books-api-v3", m.Name(API))
	assert.Equal(t, []string{
		"octo-books-static-v3",
		"octo-books-api-v3",
		"octo-books-images-v3",
		"octo-books-offline-v3",
	}, m.Current())

	require.NoError(t, m.Open())
	static := m.Partition(Static)
	require.NoError(t, static.Put("GET:/manifest.json", []byte("{}")))
	require.NoError(t, static.Put("GET:/index.html", []byte("<html>")))
	keys, err := static.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"GET:/index.html", "GET:/manifest.json"}, keys)

	deleted, err := m.Activate()
	require.NoError(t, err)
	assert.Empty(t, deleted)
}
