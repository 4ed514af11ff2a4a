package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// Memory keeps blobs in process memory. It is intended for tests.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

// Put stores the contents of r under key, replacing any existing blob.
func (s *Memory) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}

	if size >= 0 && int64(len(b)) != size {
		return fmt.Errorf("failed to store %s: short write: got %d bytes, want %d", key, len(b), size)
	}

	s.mu.Lock()
	s.blobs[key] = b
	s.mu.Unlock()

	return nil
}

// Open returns a reader over the blob stored under key and its size.
func (s *Memory) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	s.mu.RLock()
	b, ok := s.blobs[key]
	s.mu.RUnlock()

	if !ok {
		return nil, 0, fmt.Errorf("%s: %w", key, ErrNotFound)
	}

	return io.NopCloser(bytes.NewReader(b)), int64(len(b)), nil
}

// Delete removes the blob stored under key. Missing blobs are ignored.
func (s *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.blobs, key)
	s.mu.Unlock()

	return nil
}

// List returns the keys of all blobs starting with prefix, in lexical order.
func (s *Memory) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()

	keys := make([]string, 0, len(s.blobs))

	for k := range s.blobs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}

	s.mu.RUnlock()

	sort.Strings(keys)

	return keys, nil
}
