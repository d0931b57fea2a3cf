// Package hasher turns raw phone numbers into stable, non-reversible
// identifiers that are safe to persist.
package hasher

import (
	"crypto"
	"crypto/hmac"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"strings"
)

var ErrUnsupportedAlgorithm = errors.New("unsupported hash algorithm")

// Config selects the digest. An empty Key yields a plain digest; a non-empty
// Key yields an HMAC over the same algorithm.
type Config struct {
	Algorithm string // sha256|sha512
	Key       string
}

// Hasher is safe for concurrent use; every call allocates its own hash state.
type Hasher struct {
	newHash func() hash.Hash
}

// New resolves the algorithm once so that a missing primitive is reported at
// startup and never on the request path.
func New(cfg Config) (*Hasher, error) {
	var h crypto.Hash
	switch strings.ToLower(strings.TrimSpace(cfg.Algorithm)) {
	case "", "sha256", "sha-256":
		h = crypto.SHA256
	case "sha512", "sha-512":
		h = crypto.SHA512
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, cfg.Algorithm)
	}
	if !h.Available() {
		return nil, fmt.Errorf("%w: %s not linked into binary", ErrUnsupportedAlgorithm, h)
	}

	if cfg.Key == "" {
		return &Hasher{newHash: h.New}, nil
	}
	key := []byte(cfg.Key)
	return &Hasher{newHash: func() hash.Hash { return hmac.New(h.New, key) }}, nil
}

// Hash returns the base64 (standard encoding) digest of raw.
func (x *Hasher) Hash(raw string) string {
	d := x.newHash()
	_, _ = d.Write([]byte(raw))
	return base64.StdEncoding.EncodeToString(d.Sum(nil))
}
