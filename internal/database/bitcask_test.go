package database

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "nested", "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPutGetRoundTrip(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Put([]byte("key1"), []byte("some value that compresses reasonably well well well")))

	got, err := db.Get([]byte("key1"))
	require.NoError(t, err)
	assert.Equal(t, "some value that compresses reasonably well well well", string(got))
}

func TestGetMissingKeyReturnsErrNotFound(t *testing.T) {
	db := openTestDB(t)

	_, err := db.Get([]byte("missing"))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDeleteIsIdempotent(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Put([]byte("key1"), []byte("value")))
	require.NoError(t, db.Delete([]byte("key1")))
	require.NoError(t, db.Delete([]byte("key1")))

	assert.False(t, db.Has([]byte("key1")))
}

func TestFoldVisitsEveryKey(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	require.NoError(t, db.Put([]byte("b"), []byte("2")))

	seen := map[string]string{}
	err := db.Fold(func(key, value []byte) error {
		seen[string(key)] = string(value)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, seen)
}
