package hasher

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash_MatchesPlainSHA256(t *testing.T) {
	h, err := New(Config{Algorithm: "sha256"})
	require.NoError(t, err)

	sum := sha256.Sum256([]byte("+34698765432"))
	want := base64.StdEncoding.EncodeToString(sum[:])

	assert.Equal(t, want, h.Hash("+34698765432"))
}

func TestHash_Deterministic(t *testing.T) {
	for _, cfg := range []Config{{Algorithm: "sha256"}, {Algorithm: "sha512"}, {Algorithm: "sha256", Key: "pepper"}} {
		h, err := New(cfg)
		require.NoError(t, err)
		assert.Equal(t, h.Hash("+14155550100"), h.Hash("+14155550100"), "config %+v", cfg)
	}
}

func TestHash_NoCollisionsOnRepresentativeInputs(t *testing.T) {
	h, err := New(Config{})
	require.NoError(t, err)

	seen := make(map[string]string, 10000)
	for i := 0; i < 10000; i++ {
		p := fmt.Sprintf("+3469%07d", i)
		d := h.Hash(p)
		if prev, dup := seen[d]; dup {
			t.Fatalf("collision between %s and %s", prev, p)
		}
		seen[d] = p
	}
}

func TestHash_NeverContainsRawNumber(t *testing.T) {
	h, err := New(Config{})
	require.NoError(t, err)

	raw := "+34698765432"
	d := h.Hash(raw)
	assert.NotContains(t, d, raw)
	assert.NotContains(t, d, "698765432")
	assert.Len(t, d, base64.StdEncoding.EncodedLen(sha256.Size))
}

func TestHash_KeyChangesDigest(t *testing.T) {
	plain, err := New(Config{})
	require.NoError(t, err)
	keyed, err := New(Config{Key: "k1"})
	require.NoError(t, err)
	other, err := New(Config{Key: "k2"})
	require.NoError(t, err)

	p := "+34698765432"
	assert.NotEqual(t, plain.Hash(p), keyed.Hash(p))
	assert.NotEqual(t, keyed.Hash(p), other.Hash(p))
}

func TestNew_UnsupportedAlgorithm(t *testing.T) {
	_, err := New(Config{Algorithm: "md5"})
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}
