// Package auth guards the MCP endpoint with API keys. Only bcrypt hashes
// of the keys are configured; a verified key is remembered by its
// SHA-256 digest so bcrypt runs once per key, not once per request.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/alexjbarnes/solara-sync/internal/config"
	apperrors "github.com/alexjbarnes/solara-sync/internal/errors"
	"golang.org/x/crypto/bcrypt"
)

// KeyPrefix marks keys issued by GenerateKey.
const KeyPrefix = "ss_"

// maxKeyLen matches bcrypt's input limit. Longer keys would be
// truncated silently by older bcrypt versions and rejected by newer.
const maxKeyLen = 72

// KeyStore validates API keys against configured bcrypt hashes.
type KeyStore struct {
	entries []config.APIKeyEntry

	mu       sync.RWMutex
	verified map[[sha256.Size]byte]string // digest -> key name
}

// NewKeyStore creates a store for the given entries.
func NewKeyStore(entries []config.APIKeyEntry) *KeyStore {
	return &KeyStore{
		entries:  entries,
		verified: make(map[[sha256.Size]byte]string),
	}
}

// Validate returns the name of the entry matching key.
func (s *KeyStore) Validate(key string) (string, error) {
	if key == "" || len(key) > maxKeyLen {
		return "", apperrors.ErrInvalidAPIKey
	}

	digest := sha256.Sum256([]byte(key))

	s.mu.RLock()
	name, ok := s.verified[digest]
	s.mu.RUnlock()

	if ok {
		return name, nil
	}

	for _, e := range s.entries {
		if bcrypt.CompareHashAndPassword([]byte(e.Hash), []byte(key)) == nil {
			s.mu.Lock()
			s.verified[digest] = e.Name
			s.mu.Unlock()

			return e.Name, nil
		}
	}

	return "", apperrors.ErrInvalidAPIKey
}

// Len returns the number of configured keys.
func (s *KeyStore) Len() int {
	return len(s.entries)
}

// GenerateKey returns a new random API key.
func GenerateKey() string {
	return KeyPrefix + RandomHex(24)
}

// HashKey returns the bcrypt hash to place in MCP_API_KEYS.
func HashKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key must not be empty")
	}

	if len(key) > maxKeyLen {
		return "", fmt.Errorf("key longer than %d bytes", maxKeyLen)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing key: %w", err)
	}

	return string(hash), nil
}

// RandomHex generates a cryptographically random hex string of the given byte length.
func RandomHex(byteLen int) string {
	b := make([]byte, byteLen)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}

	return hex.EncodeToString(b)
}
