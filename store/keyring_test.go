package store

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileKeyring(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("create-if-absent", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		path := filepath.Join(t.TempDir(), "store.key")
		kr, err := NewFileKeyring(path)
		require.NoError(err)

		key, err := kr.Key(ctx)
		require.NoError(err)
		assert.Len(key, KeySize)

		info, err := os.Stat(path)
		require.NoError(err)
		assert.Equal(os.FileMode(0o600), info.Mode().Perm())
	})

	t.Run("stable-across-instances", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		path := filepath.Join(t.TempDir(), "store.key")

		kr1, err := NewFileKeyring(path)
		require.NoError(err)
		key1, err := kr1.Key(ctx)
		require.NoError(err)

		kr2, err := NewFileKeyring(path)
		require.NoError(err)
		key2, err := kr2.Key(ctx)
		require.NoError(err)

		assert.Equal(key1, key2)
	})

	t.Run("concurrent-first-use", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		path := filepath.Join(t.TempDir(), "store.key")
		kr, err := NewFileKeyring(path)
		require.NoError(err)

		const n = 16
		keys := make([][]byte, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				key, err := kr.Key(ctx)
				assert.NoError(err)
				keys[i] = key
			}(i)
		}
		wg.Wait()

		for i := 1; i < n; i++ {
			assert.Equal(keys[0], keys[i])
		}
	})

	t.Run("failed-write-leaves-no-file", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		path := filepath.Join(t.TempDir(), "store.key")
		kr, err := NewFileKeyring(path)
		require.NoError(err)

		// a closed handle makes the write fail after the file was created
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		require.NoError(err)
		require.NoError(file.Close())

		err = kr.writeKeyFile(file, make([]byte, KeySize))
		require.Error(err)
		_, err = os.Stat(path)
		assert.ErrorIs(err, fs.ErrNotExist)

		// with the partial file gone, the next call creates a fresh key
		key, err := kr.Key(ctx)
		require.NoError(err)
		assert.Len(key, KeySize)
	})

	t.Run("wrong-size-file", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		path := filepath.Join(t.TempDir(), "store.key")
		require.NoError(os.WriteFile(path, []byte("short"), 0o600))

		kr, err := NewFileKeyring(path)
		require.NoError(err)
		_, err = kr.Key(ctx)
		assert.ErrorIs(err, ErrInvalidKeySize)
	})

	t.Run("empty-path", func(t *testing.T) {
		assert := assert.New(t)
		_, err := NewFileKeyring("")
		assert.ErrorIs(err, ErrInvalidParameter)
	})
}

func TestPassphraseKeyring(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("deterministic", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		kr1, err := NewPassphraseKeyring("correct horse", "battery staple")
		require.NoError(err)
		kr2, err := NewPassphraseKeyring("correct horse", "battery staple")
		require.NoError(err)

		key1, err := kr1.Key(ctx)
		require.NoError(err)
		key2, err := kr2.Key(ctx)
		require.NoError(err)

		assert.Len(key1, KeySize)
		assert.Equal(key1, key2)
	})

	t.Run("salt-matters", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		kr1, err := NewPassphraseKeyring("correct horse", "salt-a")
		require.NoError(err)
		kr2, err := NewPassphraseKeyring("correct horse", "salt-b")
		require.NoError(err)

		key1, err := kr1.Key(ctx)
		require.NoError(err)
		key2, err := kr2.Key(ctx)
		require.NoError(err)

		assert.NotEqual(key1, key2)
	})

	t.Run("missing-inputs", func(t *testing.T) {
		assert := assert.New(t)
		_, err := NewPassphraseKeyring("", "salt")
		assert.ErrorIs(err, ErrInvalidParameter)
		_, err = NewPassphraseKeyring("pass", "")
		assert.ErrorIs(err, ErrInvalidParameter)
	})
}

func TestStaticKeyring(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	_, err := NewStaticKeyring([]byte("too short"))
	assert.ErrorIs(err, ErrInvalidKeySize)

	key := make([]byte, KeySize)
	kr, err := NewStaticKeyring(key)
	require.NoError(err)

	got, err := kr.Key(context.Background())
	require.NoError(err)
	assert.Equal(key, got)
}
