// Package memory stores blob content in-memory for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/JakeFAU/csr-report-archiver/internal/csr"
)

// Object is a stored blob and its attributes.
type Object struct {
	Data        []byte
	ContentType string
	Metadata    map[string]string
}

// BlobStore keeps objects in a map keyed by "bucket/key".
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string]Object)}
}

// PutObject reads r fully before publishing the object and returns "bucket/key".
func (s *BlobStore) PutObject(_ context.Context, req csr.PutRequest, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", csr.Resource("memory put", fmt.Errorf("read object body: %w", err))
	}
	meta := make(map[string]string, len(req.Metadata))
	for k, v := range req.Metadata {
		meta[k] = v
	}
	ref := req.Bucket + "/" + req.Key

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[ref] = Object{Data: data, ContentType: req.ContentType, Metadata: meta}
	return ref, nil
}

// Get returns the object stored under ref.
func (s *BlobStore) Get(ref string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[ref]
	return obj, ok
}

// Len reports how many objects are stored.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
