package store_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shohanonfire/payment-server/models"
	"github.com/shohanonfire/payment-server/store"
)

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	s, err := store.NewFile(filepath.Join(t.TempDir(), "nope", "config.json"))
	require.NoError(t, err)

	_, err = s.Get("anything")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	s, err := store.NewFile(path)
	require.NoError(t, err)

	_, err = s.Load()
	assert.True(t, store.IsStorageError(err))

	_, err = s.Get("x")
	assert.True(t, store.IsStorageError(err))

	_, err = s.Insert("x", models.Record{Amount: "1"}, nil)
	assert.True(t, store.IsStorageError(err))
}

func TestFileStoreNullDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("null"), 0o600))

	s, err := store.NewFile(path)
	require.NoError(t, err)

	_, err = s.Insert("x", models.Record{Amount: "1"}, nil)
	require.NoError(t, err)
}

func TestFileStoreDocumentLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	s, err := store.NewFile(path)
	require.NoError(t, err)

	_, err = s.Insert("abc", models.Record{Amount: "10.00", CreatedAt: 1, ExpiresAt: 2}, nil)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "10.00", doc["abc"]["amount"])
	assert.EqualValues(t, 1, doc["abc"]["createdAt"])
	assert.EqualValues(t, 2, doc["abc"]["expiresAt"])
}

func TestFileStoreWriteFailure(t *testing.T) {
	dir := t.TempDir()
	// A directory at the target path cannot be replaced by a file.
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.Mkdir(path, 0o700))

	s, err := store.NewFile(path)
	require.NoError(t, err)

	err = s.Persist(models.Mapping{"a": {Amount: "1"}})
	assert.True(t, store.IsStorageError(err))
}
