package vfs

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/annworker/internal/durable"
	werrors "github.com/Aman-CERP/annworker/internal/errors"
)

func newTestFS(t *testing.T) (*FS, durable.Store) {
	t.Helper()
	store, err := durable.Open(context.Background(), "sqlite", t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store), store
}

func TestFS_WriteReadIsolation(t *testing.T) {
	fs, _ := newTestFS(t)

	data := []byte("abc")
	require.NoError(t, fs.WriteFile("x.dat", data))
	data[0] = 'z'

	got, err := fs.ReadFile("x.dat")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	got[1] = 'z'
	again, _ := fs.ReadFile("x.dat")
	assert.Equal(t, []byte("abc"), again)
}

func TestFS_ReadMissing(t *testing.T) {
	fs, _ := newTestFS(t)
	_, err := fs.ReadFile("missing")
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.False(t, fs.Exists("missing"))
}

func TestFS_WriteEmptyName(t *testing.T) {
	fs, _ := newTestFS(t)
	err := fs.WriteFile("", []byte("x"))
	assert.ErrorIs(t, err, werrors.ErrInvalidArgument)
}

func TestFS_WritesAreNotDurableUntilFlush(t *testing.T) {
	ctx := context.Background()
	fs, store := newTestFS(t)

	// Given: a file written only to memory
	require.NoError(t, fs.WriteFile("a.dat", []byte("1")))

	// Then: the durable store does not see it yet
	_, err := store.Get(ctx, "a.dat")
	assert.ErrorIs(t, err, durable.ErrNotFound)

	// When: flushing
	require.NoError(t, fs.SyncToDurable(ctx))

	// Then: it is durable
	got, err := store.Get(ctx, "a.dat")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)
}

func TestFS_SyncToDurableMirrorsRemovals(t *testing.T) {
	ctx := context.Background()
	fs, store := newTestFS(t)

	require.NoError(t, fs.WriteFile("a.dat", []byte("1")))
	require.NoError(t, fs.WriteFile("b.dat", []byte("2")))
	require.NoError(t, fs.SyncToDurable(ctx))

	fs.Remove("a.dat")
	require.NoError(t, fs.SyncToDurable(ctx))

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.dat"}, keys)
}

func TestFS_SyncFromDurableReplacesMemory(t *testing.T) {
	ctx := context.Background()
	fs, store := newTestFS(t)

	// Given: memory holds an unflushed file and durable holds another
	require.NoError(t, fs.WriteFile("scratch.dat", []byte("tmp")))
	require.NoError(t, store.Put(ctx, "hnsw_index_global.dat", []byte("blob")))

	// When: loading from durable
	require.NoError(t, fs.SyncFromDurable(ctx))

	// Then: memory equals durable
	assert.Equal(t, []string{"hnsw_index_global.dat"}, fs.List())
	got, err := fs.ReadFile("hnsw_index_global.dat")
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), got)
}

func TestFS_ReadDurable(t *testing.T) {
	ctx := context.Background()
	fs, _ := newTestFS(t)

	_, err := fs.ReadDurable(ctx, "nope")
	assert.ErrorIs(t, err, werrors.ErrBlobNotFound)

	require.NoError(t, fs.WriteFile("x", []byte("y")))
	require.NoError(t, fs.SyncToDurable(ctx))

	got, err := fs.ReadDurable(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, []byte("y"), got)
}

func TestFS_WriteAndSyncPersists(t *testing.T) {
	fs, store := newTestFS(t)
	ctx := context.Background()

	// Given: a durable file memory has never seen
	require.NoError(t, store.Put(ctx, "other.dat", []byte("o")))

	// When
	require.NoError(t, fs.WriteAndSync(ctx, "index.dat", []byte("payload")))

	// Then: the write is durable and the flush mirrors memory
	data, err := store.Get(ctx, "index.dat")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
	_, err = store.Get(ctx, "other.dat")
	assert.ErrorIs(t, err, durable.ErrNotFound)

	assert.ErrorIs(t, fs.WriteAndSync(ctx, "", []byte("x")), werrors.ErrInvalidArgument)
}
