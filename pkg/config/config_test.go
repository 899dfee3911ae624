package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cryptfs/internal/blockid"
	"github.com/cuemby/cryptfs/internal/blockstore/cipher"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cryptfs.yaml")
	root := blockid.New()
	cfg := &Config{
		FormatVersion: 1,
		Cipher:        cipher.AESGCM,
		BlockSizeByte: 32 * 1024,
		RootBlobId:    root.String(),
	}
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Cipher, loaded.Cipher)
	assert.Equal(t, cfg.BlockSizeByte, loaded.BlockSizeByte)

	gotRoot, err := loaded.RootId()
	require.NoError(t, err)
	assert.Equal(t, root, gotRoot)
}

func TestLoadRejectsUnknownCipher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cryptfs.yaml")
	require.NoError(t, Save(path, &Config{Cipher: "not-a-real-cipher", BlockSizeByte: 4096}))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsNonPositiveBlockSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cryptfs.yaml")
	require.NoError(t, Save(path, &Config{Cipher: cipher.AESGCM, BlockSizeByte: 0}))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cryptfs.yaml")
	require.NoError(t, Save(path, &Config{Cipher: cipher.AESGCM, BlockSizeByte: 4096, Backend: "nfs"}))

	_, err := Load(path)
	require.Error(t, err)
}

func TestDefaultBackendIsAccepted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cryptfs.yaml")
	require.NoError(t, Save(path, &Config{Cipher: cipher.AESGCM, BlockSizeByte: 4096}))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "", loaded.Backend)
}
