package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ContentStore is content-addressed object storage: a blob is keyed by the
// sha256 hex of its bytes, so identical content is stored exactly once. Used
// for raw package uploads and evidence files.
type ContentStore interface {
	// Put streams r into the store and returns (hash, size, existed).
	// existed is true when content with the same hash was already present;
	// the bytes are still fully read so the caller gets the hash either way.
	Put(r io.Reader) (string, int64, bool, error)
	// Has reports whether content with the given hash is stored.
	Has(hash string) (bool, error)
	// Open returns a reader over the stored content.
	Open(hash string) (io.ReadCloser, error)
}

// FSContentStore lays blobs out as <root>/aa/bb/<hash> with a two-level
// fan-out over the first hash bytes.
type FSContentStore struct {
	root string
}

func NewFSContentStore(root string) (*FSContentStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("content store root: %w", err)
	}
	return &FSContentStore{root: root}, nil
}

func (s *FSContentStore) path(hash string) string {
	return filepath.Join(s.root, hash[:2], hash[2:4], hash)
}

func (s *FSContentStore) Put(r io.Reader) (string, int64, bool, error) {
	// Spool to a temp file while hashing; uploads are never buffered whole
	// in memory.
	tmp, err := os.CreateTemp(s.root, "ingest-*")
	if err != nil {
		return "", 0, false, err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		return "", 0, false, fmt.Errorf("spool content: %w", err)
	}
	hash := hex.EncodeToString(h.Sum(nil))

	dst := s.path(hash)
	if _, err := os.Stat(dst); err == nil {
		return hash, size, true, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", 0, false, err
	}
	if err := tmp.Close(); err != nil {
		return "", 0, false, err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", 0, false, fmt.Errorf("store content %s: %w", hash, err)
	}
	return hash, size, false, nil
}

func (s *FSContentStore) Has(hash string) (bool, error) {
	if len(hash) < 4 {
		return false, fmt.Errorf("malformed content hash %q", hash)
	}
	_, err := os.Stat(s.path(hash))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *FSContentStore) Open(hash string) (io.ReadCloser, error) {
	if len(hash) < 4 {
		return nil, fmt.Errorf("malformed content hash %q", hash)
	}
	f, err := os.Open(s.path(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("content %s not stored", hash)
		}
		return nil, err
	}
	return f, nil
}
