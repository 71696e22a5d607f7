// Package export snapshots the analysis history into a blob store.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gcs "cloud.google.com/go/storage"
)

// BlobStore writes named blobs somewhere durable.
type BlobStore interface {
	Put(ctx context.Context, name string, contentType string, data []byte) error
}

// MemoryBlobStore keeps blobs in a map. It backs tests and the default
// development configuration.
type MemoryBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

// NewMemoryBlobStore constructs an empty in-memory store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

// Put stores the blob.
func (s *MemoryBlobStore) Put(ctx context.Context, name string, contentType string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.blobs[name] = cp
	return nil
}

// Get returns a stored blob.
func (s *MemoryBlobStore) Get(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[name]
	return data, ok
}

// Names lists stored blob names.
func (s *MemoryBlobStore) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.blobs))
	for name := range s.blobs {
		out = append(out, name)
	}
	return out
}

// LocalBlobStore writes blobs as files under one directory.
type LocalBlobStore struct {
	dir string
}

// NewLocalBlobStore ensures the directory exists and returns the store.
func NewLocalBlobStore(dir string) (*LocalBlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	return &LocalBlobStore{dir: dir}, nil
}

// Put writes the blob as a file. Path separators in the name are rejected so
// a caller cannot escape the export directory.
func (s *LocalBlobStore) Put(ctx context.Context, name string, contentType string, data []byte) error {
	if strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return fmt.Errorf("invalid blob name %q", name)
	}
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	return nil
}

// GCSBlobStore writes blobs into a Cloud Storage bucket.
type GCSBlobStore struct {
	client *gcs.Client
	bucket string
}

// NewGCSBlobStore dials Cloud Storage. Credentials come from the
// environment.
func NewGCSBlobStore(ctx context.Context, bucket string) (*GCSBlobStore, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial cloud storage: %w", err)
	}
	return &GCSBlobStore{client: client, bucket: bucket}, nil
}

// Put uploads the blob.
func (s *GCSBlobStore) Put(ctx context.Context, name string, contentType string, data []byte) error {
	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		w.Close() //nolint:errcheck
		return fmt.Errorf("upload blob: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize blob: %w", err)
	}
	return nil
}

// Close releases the Cloud Storage client.
func (s *GCSBlobStore) Close() error {
	return s.client.Close()
}
