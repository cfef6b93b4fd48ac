package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSQLiteKV(t *testing.T) *SQLiteKV {
	t.Helper()
	kv, err := NewSQLiteKV(filepath.Join(t.TempDir(), "authkeep.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func TestSQLiteKV(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("round-trip", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		kv := testSQLiteKV(t)

		require.NoError(kv.Put(ctx, "k1", []byte("v1")))
		got, err := kv.Get(ctx, "k1")
		require.NoError(err)
		assert.Equal([]byte("v1"), got)
	})

	t.Run("put-replaces", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		kv := testSQLiteKV(t)

		require.NoError(kv.Put(ctx, "k1", []byte("v1")))
		require.NoError(kv.Put(ctx, "k1", []byte("v2")))
		got, err := kv.Get(ctx, "k1")
		require.NoError(err)
		assert.Equal([]byte("v2"), got)
	})

	t.Run("get-absent", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		kv := testSQLiteKV(t)

		_, err := kv.Get(ctx, "missing")
		require.Error(err)
		assert.True(errors.Is(err, ErrKeyNotFound))
	})

	t.Run("delete", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		kv := testSQLiteKV(t)

		require.NoError(kv.Put(ctx, "k1", []byte("v1")))
		require.NoError(kv.Delete(ctx, "k1"))
		_, err := kv.Get(ctx, "k1")
		assert.True(errors.Is(err, ErrKeyNotFound))

		// deleting an absent key is not an error
		assert.NoError(kv.Delete(ctx, "k1"))
	})

	t.Run("list-keys", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		kv := testSQLiteKV(t)

		require.NoError(kv.Put(ctx, "k1", []byte("v1")))
		require.NoError(kv.Put(ctx, "k2", []byte("v2")))
		keys, err := kv.ListKeys(ctx)
		require.NoError(err)
		assert.ElementsMatch([]string{"k1", "k2"}, keys)
	})

	t.Run("empty-path", func(t *testing.T) {
		assert := assert.New(t)
		_, err := NewSQLiteKV("")
		assert.ErrorIs(err, ErrInvalidParameter)
	})
}

func TestSQLiteKV_SurvivesReopen(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "authkeep.db")

	kv, err := NewSQLiteKV(path)
	require.NoError(err)
	require.NoError(kv.Put(ctx, "k1", []byte("v1")))
	require.NoError(kv.Close())

	kv, err = NewSQLiteKV(path)
	require.NoError(err)
	defer kv.Close()

	got, err := kv.Get(ctx, "k1")
	require.NoError(err)
	assert.Equal([]byte("v1"), got)
}
