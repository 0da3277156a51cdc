package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSelfSigned(t *testing.T, notAfter time.Time) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "portal.test"},
		NotBefore:    notAfter.Add(-365 * 24 * time.Hour),
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "cert.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	return path
}

func TestCheck(t *testing.T) {
	now := time.Now()
	path := writeSelfSigned(t, now.Add(10*24*time.Hour))

	st, err := Check(path, 30*24*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, "CN=portal.test", st.Subject)
	assert.True(t, st.ExpiringSoon)
	assert.False(t, st.Expired)

	st, err = Check(path, 24*time.Hour, now)
	require.NoError(t, err)
	assert.False(t, st.ExpiringSoon)

	st, err = Check(path, 0, now.Add(11*24*time.Hour))
	require.NoError(t, err)
	assert.True(t, st.Expired)
}

func TestParseChainRejectsGarbage(t *testing.T) {
	_, err := ParseChain([]byte("not pem"))
	assert.ErrorIs(t, err, ErrNoCertificate)

	_, err = ParseChain(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte{1}}))
	assert.ErrorIs(t, err, ErrNoCertificate)
}

func TestLoadChainMissingFile(t *testing.T) {
	_, err := LoadChain(filepath.Join(t.TempDir(), "nope.pem"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
