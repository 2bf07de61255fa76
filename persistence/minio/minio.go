// Package minio provides a persistence.BlobStore backed by MinIO or any
// S3-compatible object store, so persisted systems can live off the solver
// host. It is a separate package to keep the client dependency out of
// local-only builds.
package minio

import (
	"bytes"
	"context"
	"io"
	"path"

	"github.com/minio/minio-go/v7"

	"github.com/stackalign/stackalign/persistence"
)

// Store implements persistence.BlobStore on an object-store bucket.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

var _ persistence.BlobStore = (*Store)(nil)

// NewStore creates a blob store on the given bucket. rootPrefix is prepended
// to all blob names (e.g. "solves/run-42/").
func NewStore(client *minio.Client, bucket, rootPrefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: rootPrefix}
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

// Open opens a blob for reading.
func (s *Store) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	key := s.key(name)

	// Stat first so a missing blob surfaces as ErrBlobNotFound instead of a
	// read error on first byte.
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NotFound" {
			return nil, persistence.ErrBlobNotFound
		}
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// Put writes a blob.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	key := s.key(name)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data),
		int64(len(data)), minio.PutObjectOptions{})
	return err
}
