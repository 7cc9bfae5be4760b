package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSContentStorePutDedup(t *testing.T) {
	s, err := NewFSContentStore(t.TempDir())
	require.NoError(t, err)

	content := []byte("parcel survey scan bytes")
	wantHash := sha256.Sum256(content)

	hash, size, existed, err := s.Put(bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(wantHash[:]), hash)
	assert.Equal(t, int64(len(content)), size)
	assert.False(t, existed)

	// same bytes again: same hash, stored once
	hash2, _, existed2, err := s.Put(bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, hash, hash2)
	assert.True(t, existed2)

	has, err := s.Has(hash)
	require.NoError(t, err)
	assert.True(t, has)

	rc, err := s.Open(hash)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestFSContentStoreMissing(t *testing.T) {
	s, err := NewFSContentStore(t.TempDir())
	require.NoError(t, err)

	missing := strings.Repeat("ab", 32)
	has, err := s.Has(missing)
	require.NoError(t, err)
	assert.False(t, has)

	_, err = s.Open(missing)
	assert.Error(t, err)
}

func TestMemoryContentStore(t *testing.T) {
	s := NewMemoryContentStore()

	h1, _, existed, err := s.Put(strings.NewReader("blob one"))
	require.NoError(t, err)
	assert.False(t, existed)

	_, _, existed, err = s.Put(strings.NewReader("blob one"))
	require.NoError(t, err)
	assert.True(t, existed)

	h2, _, _, err := s.Put(strings.NewReader("blob two"))
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
	assert.Equal(t, 2, s.BlobCount())
}

func TestMemoryKVTTL(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "k", "v", 0))
	got, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	require.NoError(t, kv.Delete(ctx, "k"))
	_, err = kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}
