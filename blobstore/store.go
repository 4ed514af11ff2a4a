package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
)

// ErrNotFound is returned by Open when no blob exists under the given key.
// Implementations map their backend's missing-object error to it, so callers
// can test with errors.Is regardless of the backend.
var ErrNotFound = os.ErrNotExist

// Store is an archive target for datafile backups. Implementations must be
// safe for concurrent use.
type Store interface {
	// Put stores the contents of r under key, replacing any existing blob.
	// size is the number of bytes that will be read from r, or -1 when
	// unknown.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Open returns a reader over the blob stored under key together with
	// its size in bytes. The caller must close the reader.
	Open(ctx context.Context, key string) (io.ReadCloser, int64, error)

	// Delete removes the blob stored under key. Deleting a missing blob is
	// not an error.
	Delete(ctx context.Context, key string) error

	// List returns the keys of all blobs whose key starts with prefix, in
	// lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// PutFile archives the local file at path under key.
func PutFile(ctx context.Context, s Store, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	return s.Put(ctx, key, f, fi.Size())
}
