package persistence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// ErrBlobNotFound is returned when a named blob does not exist.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore is the storage boundary for persisted systems: a flat namespace
// of immutable blobs (chunk data files and the metadata file).
//
// Implementations must be safe for concurrent use; chunk files are read in
// parallel on load.
type BlobStore interface {
	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Put writes a blob atomically, replacing any existing blob of the
	// same name.
	Put(ctx context.Context, name string, data []byte) error
}

// DirStore is a BlobStore backed by a local directory.
type DirStore struct {
	root string
}

// NewDirStore creates a store rooted at dir.
func NewDirStore(dir string) *DirStore { return &DirStore{root: dir} }

// Open implements BlobStore.
func (s *DirStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.root, name))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, name)
	}
	return f, err
}

// Put implements BlobStore via a temp file and rename.
func (s *DirStore) Put(_ context.Context, name string, data []byte) error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return err
	}
	tmp := filepath.Join(s.root, name+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(s.root, name))
}

// MemStore is an in-memory BlobStore for tests.
type MemStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore { return &MemStore{blobs: make(map[string][]byte)} }

// Open implements BlobStore.
func (s *MemStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, name)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

// Put implements BlobStore.
func (s *MemStore) Put(_ context.Context, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.blobs[name] = cp
	return nil
}

// Names returns the stored blob names; test helper.
func (s *MemStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.blobs))
	for n := range s.blobs {
		names = append(names, n)
	}
	return names
}
