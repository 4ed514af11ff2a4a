package minio

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/hupe1980/docgo/blobstore"
	"github.com/minio/minio-go/v7"
)

// Store archives blobs in a MinIO or S3-compatible bucket.
// It implements blobstore.Store.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewStore creates a MinIO blob store.
// bucket is the MinIO bucket name.
// rootPrefix is prepended to all keys (e.g. "backups/").
func NewStore(client *minio.Client, bucket, rootPrefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: rootPrefix,
	}
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

// Put uploads the contents of r under key, replacing any existing blob.
// A size of -1 switches the client to streaming multipart upload.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(key), r, size, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}

	return nil
}

// Open returns a reader over the blob stored under key and its size.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	fullKey := s.key(key)

	info, err := s.client.StatObject(ctx, s.bucket, fullKey, minio.StatObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NotFound" {
			return nil, 0, fmt.Errorf("%s: %w", key, blobstore.ErrNotFound)
		}

		return nil, 0, fmt.Errorf("failed to stat %s: %w", key, err)
	}

	obj, err := s.client.GetObject(ctx, s.bucket, fullKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get %s: %w", key, err)
	}

	return obj, info.Size, nil
}

// Delete removes the blob stored under key. Missing blobs are ignored.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.key(key), minio.RemoveObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NotFound" {
			return nil
		}

		return fmt.Errorf("failed to delete %s: %w", key, err)
	}

	return nil
}

// List returns the keys of all blobs starting with prefix, in lexical order.
// The root prefix is stripped from the returned keys.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := s.key(prefix)

	var keys []string

	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    fullPrefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", fullPrefix, obj.Err)
		}

		key := strings.TrimPrefix(obj.Key, s.prefix)
		key = strings.TrimPrefix(key, "/")

		if key != "" {
			keys = append(keys, key)
		}
	}

	sort.Strings(keys)

	return keys, nil
}
