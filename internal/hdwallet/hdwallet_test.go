package hdwallet

import (
	"bytes"
	"crypto/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSeed(t *testing.T) []byte {
	t.Helper()
	seed := make([]byte, SeedSize)
	_, err := rand.Read(seed)
	require.NoError(t, err)
	return seed
}

func TestDeriveKeypairDeterministic(t *testing.T) {
	seed := testSeed(t)

	a, err := DeriveKeypair(seed, 0)
	require.NoError(t, err)
	b, err := DeriveKeypair(seed, 0)
	require.NoError(t, err)

	assert.Equal(t, a.PublicKey, b.PublicKey)
	assert.True(t, bytes.Equal(a.PrivateKey, b.PrivateKey))
}

func TestDeriveKeypairDistinctIndices(t *testing.T) {
	seed := testSeed(t)

	seen := make(map[string]bool)
	for i := uint32(0); i < 10; i++ {
		kp, err := DeriveKeypair(seed, i)
		require.NoError(t, err)
		require.NotEmpty(t, kp.PublicKey)
		require.Len(t, kp.PrivateKey, 32)
		assert.False(t, seen[kp.PublicKey], "index %d produced a repeated public key", i)
		seen[kp.PublicKey] = true
	}
}

func TestDeriveKeypairDistinctSeeds(t *testing.T) {
	a, err := DeriveKeypair(testSeed(t), 0)
	require.NoError(t, err)
	b, err := DeriveKeypair(testSeed(t), 0)
	require.NoError(t, err)

	assert.NotEqual(t, a.PublicKey, b.PublicKey)
}

func TestDeriveKeypairRejectsBadSeedLength(t *testing.T) {
	_, err := DeriveKeypair(make([]byte, 16), 0)
	require.Error(t, err)
	_, err = DeriveKeypair(nil, 0)
	require.Error(t, err)
}

func TestMnemonic(t *testing.T) {
	phrase, err := Mnemonic(testSeed(t))
	require.NoError(t, err)
	// 256 bits of entropy encode as 24 words.
	assert.Len(t, strings.Fields(phrase), 24)

	// Same entropy, same phrase.
	seed := testSeed(t)
	a, err := Mnemonic(seed)
	require.NoError(t, err)
	b, err := Mnemonic(seed)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMnemonicRejectsBadEntropy(t *testing.T) {
	_, err := Mnemonic([]byte{1, 2, 3})
	assert.Error(t, err)
}
