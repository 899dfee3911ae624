package blockstore

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cryptfs/internal/blockid"
	"github.com/cuemby/cryptfs/internal/blockstore/cipher"
	"github.com/cuemby/cryptfs/internal/blockstore/memraw"
)

func newEncryptedStore(t *testing.T) *EncryptedBlockStore {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	aead, err := cipher.New(cipher.AESGCM, key)
	require.NoError(t, err)
	return NewEncryptedBlockStore(memraw.New(32*1024), aead)
}

func TestEncryptedRoundTrip(t *testing.T) {
	store := newEncryptedStore(t)
	id := blockid.New()
	plaintext := []byte("plaintext payload")

	require.NoError(t, store.Store(id, plaintext))
	got, ok, err := store.Load(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, plaintext, got)
}

func TestEncryptedLoadFailsOnTamperedCiphertext(t *testing.T) {
	store := newEncryptedStore(t)
	base := store.base.(*memraw.Store)
	id := blockid.New()

	require.NoError(t, store.Store(id, []byte("payload")))

	raw, _, err := base.Load(id)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	require.NoError(t, base.Store(id, raw))

	_, _, err = store.Load(id)
	require.Error(t, err)
	var iv *IntegrityViolationError
	assert.ErrorAs(t, err, &iv)
}

func TestPhysicalBlockSizeSubtractsOverhead(t *testing.T) {
	store := newEncryptedStore(t)
	assert.Less(t, store.PhysicalBlockSize(), store.base.PhysicalBlockSize())
}
