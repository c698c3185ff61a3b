package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory ObjectStore for tests and local
// development. Signed URLs are synthetic and never served.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte // key: bucket/path
}

// NewMemoryObjectStore creates an empty in-memory object store.
func NewMemoryObjectStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func key(bucket, path string) string { return bucket + "/" + path }

// Put seeds an object directly, bypassing the upload URL flow.
func (s *MemoryStore) Put(bucket, path string, data []byte) {
	s.mu.Lock()
	s.objects[key(bucket, path)] = append([]byte(nil), data...)
	s.mu.Unlock()
}

func (s *MemoryStore) ListObjects(ctx context.Context, bucket, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	full := key(bucket, prefix)
	names := make([]string, 0, 8)
	for k := range s.objects {
		if strings.HasPrefix(k, full) {
			names = append(names, strings.TrimPrefix(k, full))
		}
	}
	return names, nil
}

func (s *MemoryStore) Exists(ctx context.Context, bucket, path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key(bucket, path)]
	return ok, nil
}

func (s *MemoryStore) SignedUploadURL(ctx context.Context, bucket, path, contentType string, size int64, resumable bool) (*SignedUpload, error) {
	kind := UploadSimple
	var chunk int64
	if resumable && size > 0 {
		kind = UploadResumable
		chunk = ResumableChunkSize
	}
	return &SignedUpload{
		URL:        fmt.Sprintf("memory://%s/%s", bucket, path),
		UploadType: kind,
		ChunkSize:  chunk,
		ExpiresIn:  15 * time.Minute,
	}, nil
}

func (s *MemoryStore) SignedDownloadURL(ctx context.Context, bucket, path string) (string, error) {
	ok, _ := s.Exists(ctx, bucket, path)
	if !ok {
		return "", nil
	}
	return fmt.Sprintf("memory://%s/%s", bucket, path), nil
}

func (s *MemoryStore) NewReader(ctx context.Context, bucket, path string) (io.ReadCloser, error) {
	s.mu.Lock()
	data, ok := s.objects[key(bucket, path)]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("object %s/%s not found", bucket, path)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemoryStore) Write(ctx context.Context, bucket, path string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	s.Put(bucket, path, data)
	return int64(len(data)), nil
}
