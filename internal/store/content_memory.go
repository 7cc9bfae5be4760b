package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
)

// MemoryContentStore keeps blobs in a map for tests.
type MemoryContentStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryContentStore() *MemoryContentStore {
	return &MemoryContentStore{blobs: map[string][]byte{}}
}

func (s *MemoryContentStore) Put(r io.Reader) (string, int64, bool, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, false, err
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[hash]; ok {
		return hash, int64(len(data)), true, nil
	}
	s.blobs[hash] = data
	return hash, int64(len(data)), false, nil
}

func (s *MemoryContentStore) Has(hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[hash]
	return ok, nil
}

func (s *MemoryContentStore) Open(hash string) (io.ReadCloser, error) {
	s.mu.RLock()
	data, ok := s.blobs[hash]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("content %s not stored", hash)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// BlobCount reports how many distinct blobs are stored. Test helper.
func (s *MemoryContentStore) BlobCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
