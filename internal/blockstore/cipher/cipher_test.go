package cipher

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randKey(t *testing.T, n int) []byte {
	t.Helper()
	key := make([]byte, n)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestAESGCMRoundTrip(t *testing.T) {
	aead, err := New(AESGCM, randKey(t, 32))
	require.NoError(t, err)
	testRoundTrip(t, aead)
}

func TestXChaCha20Poly1305RoundTrip(t *testing.T) {
	aead, err := New(XChaCha20Poly1305, randKey(t, 32))
	require.NoError(t, err)
	testRoundTrip(t, aead)
}

func testRoundTrip(t *testing.T, aead AEAD) {
	t.Helper()
	plaintext := []byte("some block payload bytes, not necessarily printable \x00\x01\x02")

	ciphertext, err := aead.Encrypt(plaintext)
	require.NoError(t, err)
	assert.Len(t, ciphertext, len(plaintext)+aead.CiphertextOverhead())

	decrypted, err := aead.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(plaintext, decrypted))

	// Flipping a ciphertext byte must fail authentication.
	tampered := append([]byte(nil), ciphertext...)
	tampered[len(tampered)-1] ^= 0xFF
	_, err = aead.Decrypt(tampered)
	assert.Error(t, err)
}

func TestUnknownCipher(t *testing.T) {
	_, err := New("not-a-real-cipher", randKey(t, 32))
	assert.Error(t, err)
}
