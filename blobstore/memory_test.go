package blobstore

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemory_Lifecycle(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	// 1. Put a blob
	data := []byte("in-memory backup payload")

	err := store.Put(ctx, "a/one.db", bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	// 2. Open and read it back
	r, size, err := store.Open(ctx, "a/one.db")
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), size)

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.Equal(t, data, got)

	// 3. List with prefix
	err = store.Put(ctx, "a/two.db", bytes.NewReader(data), -1)
	require.NoError(t, err)

	err = store.Put(ctx, "b/three.db", bytes.NewReader(data), -1)
	require.NoError(t, err)

	keys, err := store.List(ctx, "a/")
	require.NoError(t, err)
	require.Equal(t, []string{"a/one.db", "a/two.db"}, keys)

	// 4. Delete
	err = store.Delete(ctx, "a/one.db")
	require.NoError(t, err)

	_, _, err = store.Open(ctx, "a/one.db")
	require.ErrorIs(t, err, ErrNotFound)

	err = store.Delete(ctx, "a/one.db")
	require.NoError(t, err)
}

func TestMemory_PutSizeMismatch(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	err := store.Put(ctx, "short.bin", bytes.NewReader([]byte("abc")), 10)
	require.Error(t, err)

	_, _, err = store.Open(ctx, "short.bin")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_ContextCanceled(t *testing.T) {
	store := NewMemory()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Put(ctx, "x", bytes.NewReader(nil), 0)
	require.ErrorIs(t, err, context.Canceled)

	_, _, err = store.Open(ctx, "x")
	require.ErrorIs(t, err, context.Canceled)

	_, err = store.List(ctx, "")
	require.ErrorIs(t, err, context.Canceled)
}
