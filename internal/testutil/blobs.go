package testutil

import (
	"context"
	"sync"
)

// BlobStoreStub keeps uploads in memory. Err, when set, fails every upload.
type BlobStoreStub struct {
	mu      sync.Mutex
	Objects map[string][]byte
	Err     error
}

// NewBlobStoreStub creates an empty in-memory blob store.
func NewBlobStoreStub() *BlobStoreStub {
	return &BlobStoreStub{Objects: make(map[string][]byte)}
}

// Upload stores data under key and returns key as the reference.
func (s *BlobStoreStub) Upload(_ context.Context, key string, data []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	s.Objects[key] = append([]byte(nil), data...)
	return key, nil
}

// DownloadURL returns a fake public URL for ref.
func (s *BlobStoreStub) DownloadURL(_ context.Context, ref string) (string, error) {
	return "https://blobs.test/" + ref, nil
}

// Count returns the number of stored objects.
func (s *BlobStoreStub) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Objects)
}
