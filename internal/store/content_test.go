package store

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newContentStore(t *testing.T) *ContentStore {
	t.Helper()
	s, err := NewContentStore(t.TempDir(), nil)
	require.NoError(t, err)
	return s
}

func TestContentStore_PutDedupsSameBytes(t *testing.T) {
	s := newContentStore(t)
	data := []byte("%PDF-1.4 decision body")

	doc1, dedup, err := s.Put("ΩΞ46ΜΤΛ6-9Φ1", data, "https://example.test/doc")
	require.NoError(t, err)
	assert.False(t, dedup)
	assert.Equal(t, 1, doc1.Version)

	doc2, dedup, err := s.Put("ΩΞ46ΜΤΛ6-9Φ1", data, "https://example.test/doc")
	require.NoError(t, err)
	assert.True(t, dedup, "identical bytes must not create a second version")
	assert.Equal(t, doc1.SHA256, doc2.SHA256)
	assert.Equal(t, doc1.Path, doc2.Path)

	versions, err := s.Versions("ΩΞ46ΜΤΛ6-9Φ1")
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestContentStore_PutAppendsChangedBytes(t *testing.T) {
	s := newContentStore(t)

	_, _, err := s.Put("Ω123", []byte("first"), "u1")
	require.NoError(t, err)
	doc2, dedup, err := s.Put("Ω123", []byte("second"), "u2")
	require.NoError(t, err)
	assert.False(t, dedup)
	assert.Equal(t, 2, doc2.Version)

	latest, err := s.Get("Ω123")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version, "Get returns the latest version")

	versions, err := s.Versions("Ω123")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "u1", versions[0].SourceURL)

	byHash, err := s.GetByHash("Ω123", versions[0].SHA256)
	require.NoError(t, err)
	assert.Equal(t, 1, byHash.Version)
}

func TestContentStore_GetUnknown(t *testing.T) {
	s := newContentStore(t)

	_, err := s.Get("ΔΕΝ-ΥΠΑΡΧΕΙ")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestContentStore_ReadBytesVerifiesHash(t *testing.T) {
	s := newContentStore(t)

	doc, _, err := s.Put("Ω123", []byte("content"), "u")
	require.NoError(t, err)

	got, err := s.ReadBytes(doc)
	require.NoError(t, err)
	assert.Equal(t, []byte("content"), got)

	sum := sha256.Sum256([]byte("content"))
	assert.Equal(t, hex.EncodeToString(sum[:]), doc.SHA256)

	// corrupt the file on disk: the read must fail, not return bad bytes
	require.NoError(t, os.Chmod(doc.Path, 0o644))
	require.NoError(t, os.WriteFile(doc.Path, []byte("tampered"), 0o644))
	_, err = s.ReadBytes(doc)
	assert.True(t, IsStorage(err))
}

func TestContentStore_SlashInIdentifier(t *testing.T) {
	s := newContentStore(t)

	doc, _, err := s.Put("123456/ΑΒΓ1Ψ-ΞΩΖ", []byte("x"), "u")
	require.NoError(t, err)
	assert.NotContains(t, filepath.Base(filepath.Dir(doc.Path)), "/")

	latest, err := s.Get("123456/ΑΒΓ1Ψ-ΞΩΖ")
	require.NoError(t, err)
	assert.Equal(t, doc.SHA256, latest.SHA256)
}

func TestContentStore_EnvelopeRoundTrip(t *testing.T) {
	s := newContentStore(t)

	raw := []byte(`{"subject":"Έγκριση","organizationId":"50054"}`)
	require.NoError(t, s.PutEnvelope("Ω123", raw))

	env, err := s.GetEnvelope("Ω123")
	require.NoError(t, err)
	assert.Equal(t, "Ω123", env.ADA)
	assert.Equal(t, "Έγκριση", env.Fields["subject"])

	_, err = s.GetEnvelope("ΑΛΛΟ")
	assert.ErrorIs(t, err, ErrNotFound)
}
