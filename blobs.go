package main

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

const blobScheme = "blob:"

type Blob struct {
	Data     []byte
	MIMEType string
}

// BlobStore keeps encoded images in memory for the lifetime of a session and
// hands out opaque "blob:<id>" references to them.
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[string]Blob
}

func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string]Blob)}
}

func (s *BlobStore) Put(data []byte, mimeType string) string {
	id := uuid.New().String()
	s.mu.Lock()
	s.blobs[id] = Blob{Data: data, MIMEType: mimeType}
	s.mu.Unlock()
	return blobScheme + id
}

// Get accepts either a full reference or a bare id.
func (s *BlobStore) Get(ref string) (Blob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[strings.TrimPrefix(ref, blobScheme)]
	return b, ok
}

func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

func isBlobRef(ref string) bool {
	return strings.HasPrefix(ref, blobScheme)
}
