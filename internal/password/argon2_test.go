package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// fastParams keeps the cost floor so the suite stays quick.
var fastParams = Params{
	Memory:      8 * 1024,
	Time:        1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   16,
}

func TestHashVerifyRoundTrip(t *testing.T) {
	h, err := NewHasher(fastParams)
	require.NoError(t, err)

	encoded, err := h.Hash("correct horse battery")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(encoded, "$argon2id$"))

	ok, err := h.Verify("correct horse battery", encoded)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = h.Verify("wrong password here", encoded)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHashProducesUniqueSalts(t *testing.T) {
	h, err := NewHasher(fastParams)
	require.NoError(t, err)

	first, err := h.Hash("same password!")
	require.NoError(t, err)
	second, err := h.Hash("same password!")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestVerifyRejectsMalformedHashes(t *testing.T) {
	h, err := NewHasher(fastParams)
	require.NoError(t, err)

	for _, encoded := range []string{
		"",
		"plaintext",
		"$bcrypt$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$aGFzaA",
	} {
		_, err := h.Verify("whatever pass", encoded)
		require.Error(t, err, "hash %q", encoded)
	}
}

func TestNewHasherRejectsWeakParams(t *testing.T) {
	weak := fastParams
	weak.Memory = 1024
	_, err := NewHasher(weak)
	require.Error(t, err)

	weak = fastParams
	weak.SaltLength = 8
	_, err = NewHasher(weak)
	require.Error(t, err)
}
