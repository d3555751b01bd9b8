// Package sha256 provides SHA-256 hashing for dedupe keys.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hasher implements intel.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// HashURL hashes a URL after trimming whitespace and a trailing slash so
// trivially different spellings share a key.
func (h *Hasher) HashURL(rawURL string) (string, error) {
	normalized := strings.TrimSuffix(strings.TrimSpace(rawURL), "/")
	return h.Hash([]byte(normalized))
}
