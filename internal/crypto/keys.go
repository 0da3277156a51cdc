package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the length of master and derived keys (AES-256).
const KeySize = 32

var ErrInvalidKeyLength = errors.New("invalid key length")

// ParseMasterKey decodes a hex master key (64 hex chars -> 32 bytes).
func ParseMasterKey(h string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimSpace(h))
	if err != nil {
		return nil, fmt.Errorf("master key hex decode error: %w", err)
	}
	if len(b) != KeySize {
		return nil, fmt.Errorf("master key length must be %d bytes (hex %d chars): %w", KeySize, KeySize*2, ErrInvalidKeyLength)
	}
	return b, nil
}

// DeriveKey derives a purpose-bound subkey from the master key using HKDF-SHA256.
func DeriveKey(master []byte, purpose string) ([]byte, error) {
	if len(master) != KeySize {
		return nil, ErrInvalidKeyLength
	}
	h := hkdf.New(sha256.New, master, nil, []byte(purpose))
	out := make([]byte, KeySize)
	if _, err := io.ReadFull(h, out); err != nil {
		return nil, err
	}
	return out, nil
}

// MustRandom returns n random bytes or panics.
func MustRandom(n int) []byte {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		panic(err)
	}
	return b
}

// GenerateMasterKey returns a fresh hex encoded master key.
func GenerateMasterKey() string {
	return hex.EncodeToString(MustRandom(KeySize))
}
