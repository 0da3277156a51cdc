package handles

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrylevesque/erpportal/internal/crypto"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), crypto.MustRandom(crypto.KeySize), "/blobs")
	require.NoError(t, err)
	return s
}

func TestAcquireOpenRevoke(t *testing.T) {
	s := newStore(t)
	data := []byte("%PDF-1.4 boleto 123")

	h, err := s.Acquire(data, "application/pdf", "boleto-123.pdf")
	require.NoError(t, err)
	assert.Equal(t, "/blobs/"+h.ID, h.URL)
	assert.EqualValues(t, len(data), h.Size)
	assert.Equal(t, 1, s.Len())

	got, body, err := s.Open(h.ID)
	require.NoError(t, err)
	assert.Equal(t, data, body)
	assert.Equal(t, "boleto-123.pdf", got.Filename)

	require.NoError(t, s.Revoke(h.ID))
	assert.Zero(t, s.Len())
	_, err = os.Stat(s.path(h.ID))
	assert.True(t, errors.Is(err, os.ErrNotExist), "spool file must be gone")

	_, _, err = s.Open(h.ID)
	assert.ErrorIs(t, err, ErrRevoked)
	assert.ErrorIs(t, s.Revoke(h.ID), ErrRevoked, "second revoke is reported")
}

func TestSpoolIsEncrypted(t *testing.T) {
	s := newStore(t)
	h, err := s.Acquire([]byte("%PDF-1.4 confidential invoice"), "application/pdf", "")
	require.NoError(t, err)

	raw, err := os.ReadFile(s.path(h.ID))
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(raw), "confidential"))
}

func TestAcquireRejectsEmpty(t *testing.T) {
	s := newStore(t)
	_, err := s.Acquire(nil, "application/pdf", "")
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestSweepRemovesOrphans(t *testing.T) {
	s := newStore(t)
	live, err := s.Acquire([]byte("%PDF-live"), "application/pdf", "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "orphan"+spoolExt), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "notes.txt"), []byte("x"), 0o600))

	n, err := s.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = os.Stat(s.path(live.ID))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(s.dir, "notes.txt"))
	assert.NoError(t, err)
}

func TestPurge(t *testing.T) {
	s := newStore(t)
	for i := 0; i < 3; i++ {
		_, err := s.Acquire([]byte("%PDF-x"), "application/pdf", "")
		require.NoError(t, err)
	}
	require.NoError(t, s.Purge())
	assert.Zero(t, s.Len())
}

func TestNilMasterKeyUsesProcessKey(t *testing.T) {
	s, err := NewStore(t.TempDir(), nil, "")
	require.NoError(t, err)
	h, err := s.Acquire([]byte("%PDF-1"), "application/pdf", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(h.URL, "/blobs/"))
	_, body, err := s.Open(h.ID)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1", string(body))
}
